// Package attest signs a canonical summary of a finished match so any party
// can verify the recorded outcome without trusting the persistence store.
// The signing digest is Keccak256 over the payload hash, so verification
// needs nothing but the attestation record itself.
package attest

import (
	"encoding/hex"
	"errors"
	"strings"

	"moltcombat/pkg/canonhash"
	"moltcombat/pkg/domain"
	"moltcombat/pkg/ethsign"
)

const PayloadVersion = "molt-attest-v1"

var ErrMatchNotFinished = errors.New("match is not finished")

const (
	ReasonPayloadHashMismatch  = "payload_hash_mismatch"
	ReasonSignatureInvalid     = "signature_invalid"
	ReasonSignerMismatch       = "signer_mismatch"
	ReasonMatchPayloadMismatch = "match_payload_mismatch"
)

// Attestor signs match outcomes. A nil Attestor (no signing identity
// configured) skips attestation without error; unattested matches simply
// cannot feed trust-gated consumers.
type Attestor struct {
	signer *ethsign.Signer
}

func New(signer *ethsign.Signer) *Attestor {
	if signer == nil {
		return nil
	}
	return &Attestor{signer: signer}
}

// BuildPayload derives the canonical attestation payload from a finished
// match. StrictVerified is recomputed here rather than copied blindly: it
// holds only for endpoint execution with a fully passing audit.
func BuildPayload(m *domain.MatchRecord) (domain.MatchAttestationPayload, error) {
	if m.Status != domain.MatchFinished {
		return domain.MatchAttestationPayload{}, ErrMatchNotFinished
	}
	replayHash, _, err := canonhash.SumObject(m.Replay)
	if err != nil {
		return domain.MatchAttestationPayload{}, err
	}
	auditHash, _, err := canonhash.SumObject(m.Audit)
	if err != nil {
		return domain.MatchAttestationPayload{}, err
	}
	return domain.MatchAttestationPayload{
		Version:        PayloadVersion,
		MatchID:        m.ID,
		StartedAtMS:    m.StartedAt.UnixMilli(),
		FinishedAtMS:   m.FinishedAt.UnixMilli(),
		TurnsPlayed:    m.TurnsPlayed,
		Winner:         m.Winner,
		ReplayHash:     replayHash,
		AuditHash:      auditHash,
		AgentIDs:       [2]string{m.Agents[0].ID, m.Agents[1].ID},
		Mode:           m.Audit.Mode,
		StrictVerified: m.Audit.Mode == domain.ExecutionEndpoint && m.Audit.Passed && m.Audit.StrictVerified,
	}, nil
}

// Attest builds, hashes and signs the payload for a finished match. Returns
// (nil, nil) when no signing identity is configured.
func (a *Attestor) Attest(m *domain.MatchRecord) (*domain.MatchAttestationRecord, error) {
	if a == nil || a.signer == nil {
		return nil, nil
	}
	payload, err := BuildPayload(m)
	if err != nil {
		return nil, err
	}
	payloadHash, _, err := canonhash.SumObject(payload)
	if err != nil {
		return nil, err
	}
	sig, err := a.signer.SignDigest(signingDigest(payloadHash))
	if err != nil {
		return nil, err
	}
	return &domain.MatchAttestationRecord{
		Payload:     payload,
		PayloadHash: payloadHash,
		Signature:   hex.EncodeToString(sig),
		Signer:      a.signer.Address().Hex(),
	}, nil
}

type VerifyResult struct {
	Valid  bool
	Reason string
	Signer string
}

// Verify checks an attestation record and, when a match is supplied, its
// agreement with that match. All three checks must pass: payload hash,
// signature recovery against the claimed signer, and payload/match
// agreement.
func Verify(att *domain.MatchAttestationRecord, m *domain.MatchRecord) VerifyResult {
	payloadHash, _, err := canonhash.SumObject(att.Payload)
	if err != nil || payloadHash != att.PayloadHash {
		return VerifyResult{Reason: ReasonPayloadHashMismatch}
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(att.Signature, "0x"))
	if err != nil {
		return VerifyResult{Reason: ReasonSignatureInvalid}
	}
	recovered, err := ethsign.RecoverAddress(signingDigest(att.PayloadHash), sig)
	if err != nil {
		return VerifyResult{Reason: ReasonSignatureInvalid}
	}
	if !ethsign.SameAddress(recovered.Hex(), att.Signer) {
		return VerifyResult{Reason: ReasonSignerMismatch}
	}

	if m != nil {
		fresh, err := BuildPayload(m)
		if err != nil {
			return VerifyResult{Reason: ReasonMatchPayloadMismatch}
		}
		freshHash, _, err := canonhash.SumObject(fresh)
		if err != nil || freshHash != att.PayloadHash {
			return VerifyResult{Reason: ReasonMatchPayloadMismatch}
		}
	}

	return VerifyResult{Valid: true, Signer: recovered.Hex()}
}

func signingDigest(payloadHash string) []byte {
	return ethsign.DigestParts(PayloadVersion, payloadHash)
}
