// Package fairness evaluates the strict sandbox policy over a pair of agent
// profiles before a match is allowed to start. The evaluator is pure: every
// toggle and threshold arrives in Config, and historical collusion data
// arrives as a HeadToHead value supplied by the caller.
package fairness

import (
	"fmt"
	"net/url"
	"strings"

	"moltcombat/pkg/domain"
)

// Config is the full policy surface, parsed once at startup from the
// environment and passed by value.
type Config struct {
	RequireEndpointExecution bool `env:"POLICY_REQUIRE_ENDPOINT" envDefault:"true"`

	RequireSandboxParity bool `env:"POLICY_REQUIRE_SANDBOX_PARITY" envDefault:"true"`

	RequireComputeIdentity    bool `env:"POLICY_REQUIRE_COMPUTE_IDENTITY" envDefault:"true"`
	RequireComputeEnvironment bool `env:"POLICY_REQUIRE_COMPUTE_ENVIRONMENT" envDefault:"false"`
	RequireImageDigest        bool `env:"POLICY_REQUIRE_IMAGE_DIGEST" envDefault:"false"`
	RequireSignerAddress      bool `env:"POLICY_REQUIRE_SIGNER_ADDRESS" envDefault:"false"`

	RequireTurnProofs bool `env:"POLICY_REQUIRE_TURN_PROOFS" envDefault:"false"`

	RequireIndependence bool `env:"POLICY_REQUIRE_INDEPENDENCE" envDefault:"true"`

	RequireCollusionCheck  bool    `env:"POLICY_REQUIRE_COLLUSION_CHECK" envDefault:"false"`
	CollusionWindowHours   int     `env:"POLICY_COLLUSION_WINDOW_HOURS" envDefault:"72"`
	CollusionMaxHeadToHead int     `env:"POLICY_COLLUSION_MAX_HEAD_TO_HEAD" envDefault:"10"`
	CollusionMinDecisive   int     `env:"POLICY_COLLUSION_MIN_DECISIVE" envDefault:"5"`
	CollusionMaxWinRate    float64 `env:"POLICY_COLLUSION_MAX_WIN_RATE" envDefault:"0.9"`
}

// HeadToHead summarizes recent matches between the two agents inside the
// configured window. WinsA/WinsB are counted in the same order as the
// profiles handed to Evaluate.
type HeadToHead struct {
	Matches int
	WinsA   int
	WinsB   int
}

func (h HeadToHead) Decisive() int { return h.WinsA + h.WinsB }

const (
	CheckExecutionMode   = "execution_mode"
	CheckSandboxParity   = "sandbox_parity"
	CheckComputeIdentity = "compute_identity"
	CheckTurnProofPolicy = "turn_proof_policy"
	CheckIndependence    = "independence"
	CheckCollusion       = "collusion"
)

// Result is the composite policy outcome. Reason carries the single
// highest-priority failure; Checks carries the full breakdown, including
// one entry per independence overlap.
type Result struct {
	Passed         bool
	Reason         string
	StrictVerified bool
	Mode           domain.ExecutionMode
	Checks         []domain.FairnessCheck
}

// Audit freezes the result into the match record shape.
func (r Result) Audit() domain.MatchFairnessAudit {
	return domain.MatchFairnessAudit{
		Mode:           r.Mode,
		Passed:         r.Passed,
		Reason:         r.Reason,
		StrictVerified: r.StrictVerified,
		Checks:         r.Checks,
	}
}

// Evaluate runs every enabled sub-check over the two profiles. The surfaced
// Reason is the first failure in fixed precedence order: execution mode,
// sandbox parity, compute identity, turn-proof preconditions, independence,
// collusion.
func Evaluate(cfg Config, a, b domain.AgentProfile, mode domain.ExecutionMode, hist *HeadToHead) Result {
	res := Result{Mode: mode}

	add := func(c domain.FairnessCheck) {
		res.Checks = append(res.Checks, c)
		if c.Enabled && !c.Passed && res.Reason == "" {
			res.Reason = c.Reason
		}
	}

	add(checkExecutionMode(cfg, a, b, mode))
	add(checkSandboxParity(cfg, a, b))
	add(checkComputeIdentity(cfg, a, b))
	add(checkTurnProofPolicy(cfg, a, b))
	for _, c := range checkIndependence(cfg, a, b) {
		add(c)
	}
	add(checkCollusion(cfg, a, b, hist))

	res.Passed = res.Reason == ""
	res.StrictVerified = res.Passed && mode == domain.ExecutionEndpoint
	return res
}

func checkExecutionMode(cfg Config, a, b domain.AgentProfile, mode domain.ExecutionMode) domain.FairnessCheck {
	c := domain.FairnessCheck{Name: CheckExecutionMode, Enabled: cfg.RequireEndpointExecution, Passed: true}
	if !c.Enabled {
		return c
	}
	if mode != domain.ExecutionEndpoint {
		c.Passed = false
		c.Reason = "execution_mode_not_endpoint"
		return c
	}
	for _, p := range []domain.AgentProfile{a, b} {
		if p.Mode() == domain.ExecutionSimple {
			c.Passed = false
			c.Reason = "execution_mode_simple_agent"
			c.Detail = p.ID
			return c
		}
	}
	return c
}

func checkSandboxParity(cfg Config, a, b domain.AgentProfile) domain.FairnessCheck {
	c := domain.FairnessCheck{Name: CheckSandboxParity, Enabled: cfg.RequireSandboxParity, Passed: true}
	if !c.Enabled {
		return c
	}
	if a.Sandbox == nil || b.Sandbox == nil {
		c.Passed = false
		c.Reason = "sandbox_profile_missing"
		return c
	}
	switch {
	case a.Sandbox.Runtime != b.Sandbox.Runtime:
		c.Passed = false
		c.Reason = "sandbox_runtime_mismatch"
	case a.Sandbox.Version != b.Sandbox.Version:
		c.Passed = false
		c.Reason = "sandbox_version_mismatch"
	case a.Sandbox.CPUs != b.Sandbox.CPUs:
		c.Passed = false
		c.Reason = "sandbox_cpu_mismatch"
	case a.Sandbox.MemoryMB != b.Sandbox.MemoryMB:
		c.Passed = false
		c.Reason = "sandbox_memory_mismatch"
	}
	return c
}

func checkComputeIdentity(cfg Config, a, b domain.AgentProfile) domain.FairnessCheck {
	c := domain.FairnessCheck{Name: CheckComputeIdentity, Enabled: cfg.RequireComputeIdentity, Passed: true}
	if !c.Enabled {
		return c
	}
	if a.Compute == nil || b.Compute == nil {
		c.Passed = false
		c.Reason = "compute_profile_missing"
		return c
	}
	if !a.Compute.ValidAppID() || !b.Compute.ValidAppID() {
		c.Passed = false
		c.Reason = "compute_app_id_invalid"
		return c
	}
	if cfg.RequireComputeEnvironment {
		if strings.TrimSpace(a.Compute.Environment) == "" || strings.TrimSpace(b.Compute.Environment) == "" {
			c.Passed = false
			c.Reason = "compute_environment_missing"
			return c
		}
		if a.Compute.Environment != b.Compute.Environment {
			c.Passed = false
			c.Reason = "compute_environment_mismatch"
			return c
		}
	}
	if cfg.RequireImageDigest {
		if strings.TrimSpace(a.Compute.ImageDigest) == "" || strings.TrimSpace(b.Compute.ImageDigest) == "" {
			c.Passed = false
			c.Reason = "compute_image_digest_missing"
			return c
		}
		if a.Compute.ImageDigest != b.Compute.ImageDigest {
			c.Passed = false
			c.Reason = "compute_image_digest_mismatch"
			return c
		}
	}
	if cfg.RequireSignerAddress {
		if strings.TrimSpace(a.Compute.SignerAddress) == "" || strings.TrimSpace(b.Compute.SignerAddress) == "" {
			c.Passed = false
			c.Reason = "compute_signer_missing"
		}
	}
	return c
}

// Turn proofs cannot be verified without a declared signer on both sides;
// that precondition surfaces here rather than mid-match.
func checkTurnProofPolicy(cfg Config, a, b domain.AgentProfile) domain.FairnessCheck {
	c := domain.FairnessCheck{Name: CheckTurnProofPolicy, Enabled: cfg.RequireTurnProofs, Passed: true}
	if !c.Enabled {
		return c
	}
	for _, p := range []domain.AgentProfile{a, b} {
		if p.Compute == nil || !p.Compute.ValidAppID() {
			c.Passed = false
			c.Reason = "turn_proof_compute_profile_missing"
			c.Detail = p.ID
			return c
		}
		if strings.TrimSpace(p.Compute.SignerAddress) == "" {
			c.Passed = false
			c.Reason = "turn_proof_signer_missing"
			c.Detail = p.ID
			return c
		}
	}
	return c
}

func checkIndependence(cfg Config, a, b domain.AgentProfile) []domain.FairnessCheck {
	if !cfg.RequireIndependence {
		return []domain.FairnessCheck{{Name: CheckIndependence, Enabled: false, Passed: true}}
	}
	var out []domain.FairnessCheck
	overlap := func(reason, detail string) {
		out = append(out, domain.FairnessCheck{Name: CheckIndependence, Enabled: true, Passed: false, Reason: reason, Detail: detail})
	}

	if ha, hb := endpointHost(a.Endpoint), endpointHost(b.Endpoint); ha != "" && ha == hb {
		overlap("shared_endpoint_host", ha)
	}
	if a.PayoutAddress != "" && strings.EqualFold(a.PayoutAddress, b.PayoutAddress) {
		overlap("shared_payout_address", "")
	}
	if a.Credential != "" && a.Credential == b.Credential {
		overlap("shared_credential", "")
	}
	if a.Compute != nil && b.Compute != nil {
		if a.Compute.AppID != "" && strings.EqualFold(a.Compute.AppID, b.Compute.AppID) {
			overlap("shared_compute_app_id", "")
		}
		if a.Compute.SignerAddress != "" && strings.EqualFold(a.Compute.SignerAddress, b.Compute.SignerAddress) {
			overlap("shared_compute_signer", "")
		}
	}

	if len(out) == 0 {
		return []domain.FairnessCheck{{Name: CheckIndependence, Enabled: true, Passed: true}}
	}
	return out
}

func checkCollusion(cfg Config, a, b domain.AgentProfile, hist *HeadToHead) domain.FairnessCheck {
	c := domain.FairnessCheck{Name: CheckCollusion, Enabled: cfg.RequireCollusionCheck, Passed: true}
	if !c.Enabled {
		return c
	}
	if hist == nil {
		c.Passed = false
		c.Reason = "collusion_history_unavailable"
		return c
	}
	if hist.Matches > cfg.CollusionMaxHeadToHead {
		c.Passed = false
		c.Reason = "collusion_head_to_head_volume"
		c.Detail = fmt.Sprintf("%d matches in %dh", hist.Matches, cfg.CollusionWindowHours)
		return c
	}
	if decisive := hist.Decisive(); decisive >= cfg.CollusionMinDecisive && decisive > 0 {
		dominant, wins := a.ID, hist.WinsA
		if hist.WinsB > hist.WinsA {
			dominant, wins = b.ID, hist.WinsB
		}
		rate := float64(wins) / float64(decisive)
		if rate > cfg.CollusionMaxWinRate {
			c.Passed = false
			c.Reason = "collusion_dominant_win_rate"
			c.Detail = fmt.Sprintf("%s wins %.2f of %d decisive", dominant, rate, decisive)
		}
	}
	return c
}

func endpointHost(endpoint string) string {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
