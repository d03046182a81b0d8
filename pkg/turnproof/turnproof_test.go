package turnproof

import (
	"testing"
	"time"

	"moltcombat/pkg/domain"
	"moltcombat/pkg/ethsign"
)

func proofFixture(t *testing.T) (*ethsign.Signer, *domain.TurnProof, Expect) {
	t.Helper()
	signer, err := ethsign.GenerateSigner()
	if err != nil {
		t.Fatalf("generate signer: %v", err)
	}
	compute := domain.EigenComputeProfile{
		AppID:       "0x00000000000000000000000000000000000000aa",
		Environment: "tee-prod",
		ImageDigest: "sha256:abc",
	}
	action := domain.AgentAction{Type: domain.ActionGather, Resource: domain.ResourceEnergy, Amount: 3}
	challenge, err := NewChallenge()
	if err != nil {
		t.Fatalf("challenge: %v", err)
	}
	now := time.Now()
	proof, err := Sign(signer, "match-1", 4, "agent-a", challenge, action, compute, now)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	exp := Expect{
		MatchID:            "match-1",
		Turn:               4,
		AgentID:            "agent-a",
		Challenge:          challenge,
		ActionHash:         HashAction(action),
		AppID:              compute.AppID,
		Environment:        compute.Environment,
		ImageDigest:        compute.ImageDigest,
		RequireEnvironment: true,
		RequireImageDigest: true,
		ExpectedSigner:     signer.Address().Hex(),
		Now:                now,
	}
	return signer, proof, exp
}

func TestVerifyFreshProof(t *testing.T) {
	_, proof, exp := proofFixture(t)
	if res := Verify(proof, exp); !res.OK {
		t.Fatalf("expected valid proof, got %q", res.Reason)
	}
}

func TestVerifyMissingProof(t *testing.T) {
	_, _, exp := proofFixture(t)
	if res := Verify(nil, exp); res.OK || res.Reason != ReasonMissing {
		t.Fatalf("got %+v", res)
	}
}

func TestVerifyActionSubstitution(t *testing.T) {
	_, proof, exp := proofFixture(t)
	exp.ActionHash = HashAction(domain.AgentAction{Type: domain.ActionAttack, Target: "agent-b", Amount: 10})
	if res := Verify(proof, exp); res.Reason != ReasonActionHashMismatch {
		t.Fatalf("got %+v", res)
	}
}

func TestVerifyChallengeReplay(t *testing.T) {
	_, proof, exp := proofFixture(t)
	other, _ := NewChallenge()
	exp.Challenge = other
	if res := Verify(proof, exp); res.Reason != ReasonChallengeMismatch {
		t.Fatalf("got %+v", res)
	}
}

func TestVerifyAppIDMismatch(t *testing.T) {
	_, proof, exp := proofFixture(t)
	exp.AppID = "0x00000000000000000000000000000000000000bb"
	if res := Verify(proof, exp); res.Reason != ReasonAppIDMismatch {
		t.Fatalf("got %+v", res)
	}
}

func TestVerifyEnvironmentAndDigest(t *testing.T) {
	_, proof, exp := proofFixture(t)
	exp.Environment = "tee-dev"
	if res := Verify(proof, exp); res.Reason != ReasonEnvironmentMismatch {
		t.Fatalf("got %+v", res)
	}
	exp.Environment = proof.Environment
	exp.ImageDigest = "sha256:def"
	if res := Verify(proof, exp); res.Reason != ReasonImageDigestMismatch {
		t.Fatalf("got %+v", res)
	}
	exp.ImageDigest = proof.ImageDigest
	exp.RequireEnvironment = false
	exp.RequireImageDigest = false
	proof2 := *proof
	if res := Verify(&proof2, exp); !res.OK {
		t.Fatalf("optional fields disabled must verify, got %q", res.Reason)
	}
}

func TestVerifyStaleTimestamp(t *testing.T) {
	_, proof, exp := proofFixture(t)
	exp.Now = time.UnixMilli(proof.TimestampMS).Add(3 * time.Minute)
	if res := Verify(proof, exp); res.Reason != ReasonTimestampOutOfRange {
		t.Fatalf("got %+v", res)
	}
	exp.MaxSkew = 5 * time.Minute
	if res := Verify(proof, exp); !res.OK {
		t.Fatalf("wider skew window must verify, got %q", res.Reason)
	}
}

func TestVerifyTamperedSignatureAndForeignSigner(t *testing.T) {
	_, proof, exp := proofFixture(t)
	proof.Signature = "zz" + proof.Signature[2:]
	if res := Verify(proof, exp); res.Reason != ReasonSignatureInvalid {
		t.Fatalf("got %+v", res)
	}

	// A proof signed by a different key than the declared signer.
	other, _ := ethsign.GenerateSigner()
	action := domain.AgentAction{Type: domain.ActionGather, Resource: domain.ResourceEnergy, Amount: 3}
	forged, err := Sign(other, "match-1", 4, "agent-a", exp.Challenge,
		action, domain.EigenComputeProfile{AppID: exp.AppID, Environment: exp.Environment, ImageDigest: exp.ImageDigest},
		time.UnixMilli(proof.TimestampMS))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if res := Verify(forged, exp); res.Reason != ReasonSignerMismatch {
		t.Fatalf("allow-listed signer check failed: %+v", res)
	}
}
