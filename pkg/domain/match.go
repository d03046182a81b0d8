package domain

import "time"

type MatchStatus string

const (
	MatchPending  MatchStatus = "pending"
	MatchRunning  MatchStatus = "running"
	MatchFinished MatchStatus = "finished"
	MatchFailed   MatchStatus = "failed"
)

// MatchConfig carries the per-match simulation parameters. Seed is reserved
// for deterministic replays and is folded into the scorecard hash, but the
// transition function itself does not consume it.
type MatchConfig struct {
	MaxTurns     int   `json:"max_turns"`
	Seed         int64 `json:"seed"`
	AttackCost   int   `json:"attack_cost"`
	AttackDamage int   `json:"attack_damage"`
}

// MatchTurnMetering records what the gateway observed for one agent on one
// turn. PolicyViolation carries the tagged enforcement reason when a budget
// or proof check forced a fallback hold.
type MatchTurnMetering struct {
	AgentID         string   `json:"agent_id"`
	RequestBytes    int      `json:"request_bytes"`
	ResponseBytes   int      `json:"response_bytes"`
	LatencyMS       int64    `json:"latency_ms"`
	TimedOut        bool     `json:"timed_out"`
	FallbackHold    bool     `json:"fallback_hold"`
	InvalidAction   bool     `json:"invalid_action"`
	PolicyViolation string   `json:"policy_violation,omitempty"`
	RulesActive     []string `json:"rules_active,omitempty"`
	ProofChecked    bool     `json:"proof_checked"`
	ProofValid      bool     `json:"proof_valid"`
	ProofReason     string   `json:"proof_reason,omitempty"`
}

// MatchReplayTurn is one entry of the canonical append-only match history.
// Index 0 of every pair refers to Agents[0] of the MatchRecord, index 1 to
// Agents[1].
type MatchReplayTurn struct {
	Turn     int                  `json:"turn"`
	Actions  [2]AgentAction       `json:"actions"`
	States   [2]AgentState        `json:"states"`
	Metering [2]MatchTurnMetering `json:"metering"`
}

// FairnessCheck is the frozen outcome of one fairness sub-check.
type FairnessCheck struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	Passed  bool   `json:"passed"`
	Reason  string `json:"reason,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// MatchFairnessAudit stores the fairness evaluation that gated the match
// plus metering totals accumulated across turns. Frozen once the match
// reaches a terminal status.
type MatchFairnessAudit struct {
	Mode           ExecutionMode   `json:"mode"`
	Passed         bool            `json:"passed"`
	Reason         string          `json:"reason,omitempty"`
	StrictVerified bool            `json:"strict_verified"`
	Checks         []FairnessCheck `json:"checks,omitempty"`

	TotalRequestBytes  int `json:"total_request_bytes"`
	TotalResponseBytes int `json:"total_response_bytes"`
	Timeouts           int `json:"timeouts"`
	FallbackHolds      int `json:"fallback_holds"`
	InvalidActions     int `json:"invalid_actions"`
}

// MatchRecord is the authoritative record of one match. Created at start,
// mutated turn by turn by the simulation loop, frozen at finished/failed.
type MatchRecord struct {
	ID            string             `json:"id"`
	Status        MatchStatus        `json:"status"`
	StartedAt     time.Time          `json:"started_at"`
	FinishedAt    time.Time          `json:"finished_at,omitempty"`
	TurnsPlayed   int                `json:"turns_played"`
	Winner        string             `json:"winner,omitempty"`
	ScorecardHash string             `json:"scorecard_hash,omitempty"`
	Agents        [2]AgentProfile    `json:"agents"`
	Replay        []MatchReplayTurn  `json:"replay"`
	Config        MatchConfig        `json:"config"`
	Audit         MatchFairnessAudit `json:"audit"`
}

func (m *MatchRecord) AgentIndex(agentID string) int {
	for i := range m.Agents {
		if m.Agents[i].ID == agentID {
			return i
		}
	}
	return -1
}

// TurnProof binds one submitted action to a compute identity for one turn.
// Verified once by the gateway and never persisted beyond the metering
// record's pass/fail flags.
type TurnProof struct {
	Challenge   string `json:"challenge"`
	ActionHash  string `json:"action_hash"`
	AppID       string `json:"app_id"`
	Environment string `json:"environment,omitempty"`
	ImageDigest string `json:"image_digest,omitempty"`
	Signer      string `json:"signer"`
	Signature   string `json:"signature"`
	TimestampMS int64  `json:"timestamp_ms"`
}
