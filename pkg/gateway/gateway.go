// Package gateway issues the single bounded decision request per agent per
// turn. Every enforcement failure folds into a fallback hold with a tagged
// metering record; the gateway never surfaces an error to the simulation
// loop mid-match.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"moltcombat/pkg/domain"
	"moltcombat/pkg/turnproof"
)

const (
	DecidePath = "/decide"
	HealthPath = "/health"
)

const (
	ViolationRequestBytes  = "request_bytes_limit_exceeded"
	ViolationResponseBytes = "response_bytes_limit_exceeded"
	ViolationLatency       = "latency_limit_exceeded"
	ViolationTransport     = "transport_error"
	ViolationBadStatus     = "bad_status"
	ViolationTurnProof     = "eigen_turn_proof_failed"
)

// Limits bounds one outbound decision request. Parsed once from the
// environment and passed by value.
type Limits struct {
	MaxRequestBytes  int           `env:"GATEWAY_MAX_REQUEST_BYTES" envDefault:"65536"`
	MaxResponseBytes int           `env:"GATEWAY_MAX_RESPONSE_BYTES" envDefault:"16384"`
	Timeout          time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"10s"`
	MaxLatency       time.Duration `env:"GATEWAY_MAX_LATENCY" envDefault:"8s"`
}

// ProofPolicy controls per-turn proof enforcement.
type ProofPolicy struct {
	Require            bool          `env:"GATEWAY_REQUIRE_TURN_PROOFS" envDefault:"false"`
	RequireEnvironment bool          `env:"GATEWAY_PROOF_REQUIRE_ENVIRONMENT" envDefault:"false"`
	RequireImageDigest bool          `env:"GATEWAY_PROOF_REQUIRE_IMAGE_DIGEST" envDefault:"false"`
	MaxSkew            time.Duration `env:"GATEWAY_PROOF_MAX_SKEW" envDefault:"2m"`
}

type Client struct {
	HTTP   *http.Client
	Limits Limits
	Proof  ProofPolicy
}

func New(limits Limits, proof ProofPolicy) *Client {
	return &Client{HTTP: &http.Client{}, Limits: limits, Proof: proof}
}

// decisionRequest is the wire shape posted to the agent's decide endpoint.
type decisionRequest struct {
	Turn           int                `json:"turn"`
	You            domain.AgentState  `json:"you"`
	Opponent       domain.AgentState  `json:"opponent"`
	Config         domain.MatchConfig `json:"config"`
	ProofChallenge string             `json:"proof_challenge,omitempty"`
	ProofVersion   string             `json:"proof_version,omitempty"`
}

// decisionResponse accepts either {action, proof} or a bare action body.
type decisionResponse struct {
	Action domain.AgentAction `json:"action"`
	Proof  *domain.TurnProof  `json:"proof,omitempty"`
}

// RequestAction runs the full enforcement ladder for one agent turn. The
// returned action is always safe to apply; violations come back as a hold
// with the metering record naming the first failed check.
func (c *Client) RequestAction(ctx context.Context, matchID string, agent domain.AgentProfile, turn int, self, opponent domain.AgentState, cfg domain.MatchConfig, challenge string) (domain.AgentAction, domain.MatchTurnMetering) {
	met := domain.MatchTurnMetering{AgentID: agent.ID, RulesActive: c.activeRules()}

	hold := func() (domain.AgentAction, domain.MatchTurnMetering) {
		met.FallbackHold = true
		return domain.HoldAction(), met
	}

	req := decisionRequest{
		Turn:     turn,
		You:      self.Clone(),
		Opponent: opponent.Clone(),
		Config:   cfg,
	}
	if c.Proof.Require {
		req.ProofChallenge = challenge
		req.ProofVersion = turnproof.Version
	}
	body, err := json.Marshal(req)
	if err != nil {
		met.PolicyViolation = ViolationTransport
		return hold()
	}
	met.RequestBytes = len(body)
	if c.Limits.MaxRequestBytes > 0 && len(body) > c.Limits.MaxRequestBytes {
		met.PolicyViolation = ViolationRequestBytes
		return hold()
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.Limits.Timeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, strings.TrimRight(agent.Endpoint, "/")+DecidePath, bytes.NewReader(body))
	if err != nil {
		met.PolicyViolation = ViolationTransport
		return hold()
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if agent.Credential != "" {
		httpReq.Header.Set("Authorization", "Bearer "+agent.Credential)
	}

	start := time.Now()
	resp, err := c.HTTP.Do(httpReq)
	met.LatencyMS = time.Since(start).Milliseconds()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || reqCtx.Err() != nil {
			met.TimedOut = true
		} else {
			met.PolicyViolation = ViolationTransport
		}
		return hold()
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		met.PolicyViolation = ViolationBadStatus
		return hold()
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, int64(c.Limits.MaxResponseBytes)+1))
	met.LatencyMS = time.Since(start).Milliseconds()
	if err != nil {
		met.PolicyViolation = ViolationTransport
		return hold()
	}
	met.ResponseBytes = len(raw)

	// An over-budget body is truncated by the limit reader, so the byte
	// ceiling has to fire before schema validation can blame the shape.
	if c.Limits.MaxResponseBytes > 0 && len(raw) > c.Limits.MaxResponseBytes {
		met.PolicyViolation = ViolationResponseBytes
		return hold()
	}

	action, proof, ok := decodeDecision(raw)
	if !ok || !action.Validate() {
		met.InvalidAction = true
		return hold()
	}
	if c.Limits.MaxLatency > 0 && time.Duration(met.LatencyMS)*time.Millisecond > c.Limits.MaxLatency {
		met.PolicyViolation = ViolationLatency
		return hold()
	}

	if c.Proof.Require {
		met.ProofChecked = true
		exp := turnproof.Expect{
			MatchID:            matchID,
			Turn:               turn,
			AgentID:            agent.ID,
			Challenge:          challenge,
			ActionHash:         turnproof.HashAction(action),
			RequireEnvironment: c.Proof.RequireEnvironment,
			RequireImageDigest: c.Proof.RequireImageDigest,
			MaxSkew:            c.Proof.MaxSkew,
		}
		if agent.Compute != nil {
			exp.AppID = agent.Compute.AppID
			exp.Environment = agent.Compute.Environment
			exp.ImageDigest = agent.Compute.ImageDigest
			exp.ExpectedSigner = agent.Compute.SignerAddress
		}
		res := turnproof.Verify(proof, exp)
		met.ProofValid = res.OK
		met.ProofReason = res.Reason
		if !res.OK {
			met.PolicyViolation = ViolationTurnProof
			return hold()
		}
	}

	return action.Normalize(), met
}

// CheckHealth probes the agent's health endpoint, falling back to a no-op
// decision probe when the health route is unavailable.
func (c *Client) CheckHealth(ctx context.Context, agent domain.AgentProfile) bool {
	reqCtx, cancel := context.WithTimeout(ctx, c.Limits.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, strings.TrimRight(agent.Endpoint, "/")+HealthPath, nil)
	if err != nil {
		return false
	}
	if resp, err := c.HTTP.Do(req); err == nil {
		defer resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return true
		}
	}

	probe, _ := json.Marshal(decisionRequest{Turn: 0})
	post, err := http.NewRequestWithContext(reqCtx, http.MethodPost, strings.TrimRight(agent.Endpoint, "/")+DecidePath, bytes.NewReader(probe))
	if err != nil {
		return false
	}
	post.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(post)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode <= 299
}

func decodeDecision(raw []byte) (domain.AgentAction, *domain.TurnProof, bool) {
	var env decisionResponse
	if err := json.Unmarshal(raw, &env); err == nil && env.Action.Type != "" {
		return env.Action, env.Proof, true
	}
	var bare domain.AgentAction
	if err := json.Unmarshal(raw, &bare); err == nil && bare.Type != "" {
		return bare, nil, true
	}
	return domain.AgentAction{}, nil, false
}

func (c *Client) activeRules() []string {
	rules := []string{"request_bytes", "timeout", "schema", "response_bytes", "latency"}
	if c.Proof.Require {
		rules = append(rules, "turn_proof")
	}
	return rules
}
