package domain

// MatchAttestationPayload is the canonical, hashable summary of a finished
// match. Field set and ordering are fixed; both attestation signing and
// verification hash exactly this struct.
type MatchAttestationPayload struct {
	Version        string        `json:"version"`
	MatchID        string        `json:"match_id"`
	StartedAtMS    int64         `json:"started_at_ms"`
	FinishedAtMS   int64         `json:"finished_at_ms"`
	TurnsPlayed    int           `json:"turns_played"`
	Winner         string        `json:"winner"`
	ReplayHash     string        `json:"replay_hash"`
	AuditHash      string        `json:"audit_hash"`
	AgentIDs       [2]string     `json:"agent_ids"`
	Mode           ExecutionMode `json:"mode"`
	StrictVerified bool          `json:"strict_verified"`
}

// MatchAttestationRecord is the signed attestation of a finished match,
// verifiable without access to the persistence store.
type MatchAttestationRecord struct {
	Payload     MatchAttestationPayload `json:"payload"`
	PayloadHash string                  `json:"payload_hash"`
	Signature   string                  `json:"signature"`
	Signer      string                  `json:"signer"`
}
