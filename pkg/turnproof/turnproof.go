// Package turnproof binds a per-turn action to an attested compute identity.
// The gateway issues a random challenge per turn; the agent answers with a
// proof over (match, turn, agent, challenge, action hash, compute identity,
// timestamp) signed by its declared signer. Message construction is shared
// between Sign and Verify so the two can never drift.
package turnproof

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"moltcombat/pkg/canonhash"
	"moltcombat/pkg/domain"
	"moltcombat/pkg/ethsign"
)

const (
	ProtocolTag = "molt-turn-proof"
	Version     = "v1"

	DefaultMaxSkew = 2 * time.Minute
)

const (
	ReasonMissing             = "proof_missing"
	ReasonActionHashMismatch  = "proof_action_hash_mismatch"
	ReasonChallengeMismatch   = "proof_challenge_mismatch"
	ReasonAppIDMismatch       = "proof_app_id_mismatch"
	ReasonEnvironmentMismatch = "proof_environment_mismatch"
	ReasonImageDigestMismatch = "proof_image_digest_mismatch"
	ReasonTimestampOutOfRange = "proof_timestamp_out_of_window"
	ReasonSignatureInvalid    = "proof_signature_invalid"
	ReasonSignerMismatch      = "proof_signer_mismatch"
)

// NewChallenge returns a fresh 32-byte hex challenge nonce.
func NewChallenge() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

// HashAction hashes the normalized form of an action so proof and
// application always agree on the bytes that were proven.
func HashAction(a domain.AgentAction) string {
	h, _, _ := canonhash.SumObject(a.Normalize())
	return h
}

// Expect carries everything the verifier needs for one turn.
type Expect struct {
	MatchID    string
	Turn       int
	AgentID    string
	Challenge  string
	ActionHash string

	AppID       string
	Environment string
	ImageDigest string

	RequireEnvironment bool
	RequireImageDigest bool

	// ExpectedSigner, when set, allow-lists the recovered signer in
	// addition to the proof's own claimed signer.
	ExpectedSigner string

	Now     time.Time
	MaxSkew time.Duration
}

type VerifyResult struct {
	OK     bool
	Reason string
}

func fail(reason string) VerifyResult { return VerifyResult{Reason: reason} }

// Verify checks a turn proof against the expectation. Every failure maps to
// one tagged reason; the gateway folds any failure into a fallback hold.
func Verify(p *domain.TurnProof, exp Expect) VerifyResult {
	if p == nil {
		return fail(ReasonMissing)
	}
	if p.ActionHash != exp.ActionHash {
		return fail(ReasonActionHashMismatch)
	}
	if exp.Challenge == "" || p.Challenge != exp.Challenge {
		return fail(ReasonChallengeMismatch)
	}
	if !strings.EqualFold(strings.TrimSpace(p.AppID), strings.TrimSpace(exp.AppID)) {
		return fail(ReasonAppIDMismatch)
	}
	if exp.RequireEnvironment && p.Environment != exp.Environment {
		return fail(ReasonEnvironmentMismatch)
	}
	if exp.RequireImageDigest && p.ImageDigest != exp.ImageDigest {
		return fail(ReasonImageDigestMismatch)
	}

	skew := exp.MaxSkew
	if skew <= 0 {
		skew = DefaultMaxSkew
	}
	now := exp.Now
	if now.IsZero() {
		now = time.Now()
	}
	ts := time.UnixMilli(p.TimestampMS)
	if ts.Before(now.Add(-skew)) || ts.After(now.Add(skew)) {
		return fail(ReasonTimestampOutOfRange)
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(p.Signature, "0x"))
	if err != nil {
		return fail(ReasonSignatureInvalid)
	}
	digest := digest(exp.MatchID, exp.Turn, exp.AgentID, p)
	recovered, err := ethsign.RecoverAddress(digest, sig)
	if err != nil {
		return fail(ReasonSignatureInvalid)
	}
	if !ethsign.SameAddress(recovered.Hex(), p.Signer) {
		return fail(ReasonSignerMismatch)
	}
	if exp.ExpectedSigner != "" && !ethsign.SameAddress(recovered.Hex(), exp.ExpectedSigner) {
		return fail(ReasonSignerMismatch)
	}
	return VerifyResult{OK: true}
}

// Sign produces a proof for the given turn. Agents embed this in their
// decision response; tests use it to build valid and broken proofs.
func Sign(signer *ethsign.Signer, matchID string, turn int, agentID string, challenge string, action domain.AgentAction, compute domain.EigenComputeProfile, at time.Time) (*domain.TurnProof, error) {
	p := &domain.TurnProof{
		Challenge:   challenge,
		ActionHash:  HashAction(action),
		AppID:       compute.AppID,
		Environment: compute.Environment,
		ImageDigest: compute.ImageDigest,
		Signer:      signer.Address().Hex(),
		TimestampMS: at.UnixMilli(),
	}
	sig, err := signer.SignDigest(digest(matchID, turn, agentID, p))
	if err != nil {
		return nil, err
	}
	p.Signature = hex.EncodeToString(sig)
	return p, nil
}

func digest(matchID string, turn int, agentID string, p *domain.TurnProof) []byte {
	return ethsign.DigestParts(
		ProtocolTag,
		Version,
		matchID,
		strconv.Itoa(turn),
		agentID,
		p.Challenge,
		p.ActionHash,
		strings.ToLower(strings.TrimSpace(p.AppID)),
		p.Environment,
		p.ImageDigest,
		strconv.FormatInt(p.TimestampMS, 10),
	)
}
