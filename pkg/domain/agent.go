package domain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ExecutionMode distinguishes actions produced by a live remote decision
// service from manually submitted stand-ins.
type ExecutionMode string

const (
	ExecutionEndpoint ExecutionMode = "endpoint"
	ExecutionSimple   ExecutionMode = "simple"
)

// AgentProfile is the immutable per-match identity of a participant.
type AgentProfile struct {
	ID            string               `json:"id"`
	Name          string               `json:"name"`
	Endpoint      string               `json:"endpoint,omitempty"`
	Credential    string               `json:"credential,omitempty"`
	PayoutAddress string               `json:"payout_address,omitempty"`
	Sandbox       *SandboxProfile      `json:"sandbox,omitempty"`
	Compute       *EigenComputeProfile `json:"compute,omitempty"`
}

func (p AgentProfile) Mode() ExecutionMode {
	if strings.TrimSpace(p.Endpoint) == "" {
		return ExecutionSimple
	}
	return ExecutionEndpoint
}

// SandboxProfile is the declared execution-environment fingerprint of an
// agent. Parity checks compare all four fields byte for byte.
type SandboxProfile struct {
	Runtime  string `json:"runtime"`
	Version  string `json:"version"`
	CPUs     int    `json:"cpus"`
	MemoryMB int    `json:"memory_mb"`
}

// EigenComputeProfile binds an agent to a verifiable compute identity.
// AppID must be a 0x-prefixed 20-byte hex address.
type EigenComputeProfile struct {
	AppID         string `json:"app_id"`
	Environment   string `json:"environment,omitempty"`
	ImageDigest   string `json:"image_digest,omitempty"`
	SignerAddress string `json:"signer_address,omitempty"`
}

func (c EigenComputeProfile) ValidAppID() bool {
	return common.IsHexAddress(strings.TrimSpace(c.AppID))
}

// Wallet holds the three named simulation resources. Values never go
// negative; the transition function checks affordability before spending.
type Wallet struct {
	Energy   int `json:"energy"`
	Material int `json:"material"`
	Data     int `json:"data"`
}

func (w Wallet) Get(r Resource) int {
	switch r {
	case ResourceEnergy:
		return w.Energy
	case ResourceMaterial:
		return w.Material
	case ResourceData:
		return w.Data
	}
	return 0
}

func (w *Wallet) Add(r Resource, amount int) {
	switch r {
	case ResourceEnergy:
		w.Energy += amount
	case ResourceMaterial:
		w.Material += amount
	case ResourceData:
		w.Data += amount
	}
}

// AgentState is the per-agent mutable simulation state. Exactly two
// instances exist per match and only the simulation loop mutates them.
type AgentState struct {
	AgentID string `json:"agent_id"`
	HP      int    `json:"hp"`
	Wallet  Wallet `json:"wallet"`
	Score   int    `json:"score"`
}

// Clone returns an independent copy safe to hand to an agent request.
func (s AgentState) Clone() AgentState {
	return s
}
