package domain

// Resource names one slot in an agent's wallet.
type Resource string

const (
	ResourceEnergy   Resource = "energy"
	ResourceMaterial Resource = "material"
	ResourceData     Resource = "data"
)

func (r Resource) Valid() bool {
	switch r {
	case ResourceEnergy, ResourceMaterial, ResourceData:
		return true
	}
	return false
}

// ActionType tags the closed set of per-turn action variants. Adding a
// variant requires touching every switch over ActionType; the simulation
// transition function matches exhaustively on purpose.
type ActionType string

const (
	ActionHold   ActionType = "hold"
	ActionGather ActionType = "gather"
	ActionTrade  ActionType = "trade"
	ActionAttack ActionType = "attack"
)

const (
	MinActionAmount = 1
	MaxActionAmount = 10
)

// AgentAction is the tagged union submitted by an agent each turn. Only the
// fields of the tagged variant are meaningful: Resource for gather, Give and
// Receive for trade, Target for attack. Amount applies to every variant but
// hold.
type AgentAction struct {
	Type     ActionType `json:"type"`
	Resource Resource   `json:"resource,omitempty"`
	Give     Resource   `json:"give,omitempty"`
	Receive  Resource   `json:"receive,omitempty"`
	Target   string     `json:"target,omitempty"`
	Amount   int        `json:"amount,omitempty"`
}

func HoldAction() AgentAction {
	return AgentAction{Type: ActionHold}
}

// Validate reports whether the action has a known type and the variant
// fields its type requires. Amount range is not validated here; it is
// clamped by Normalize before application.
func (a AgentAction) Validate() bool {
	switch a.Type {
	case ActionHold:
		return true
	case ActionGather:
		return a.Resource.Valid()
	case ActionTrade:
		return a.Give.Valid() && a.Receive.Valid()
	case ActionAttack:
		return true
	default:
		return false
	}
}

// Normalize clamps Amount into [MinActionAmount, MaxActionAmount] for every
// variant but hold, and zeroes fields that do not belong to the variant so
// hashes over actions are stable.
func (a AgentAction) Normalize() AgentAction {
	out := AgentAction{Type: a.Type}
	if a.Type == ActionHold {
		return out
	}
	amount := a.Amount
	if amount < MinActionAmount {
		amount = MinActionAmount
	}
	if amount > MaxActionAmount {
		amount = MaxActionAmount
	}
	out.Amount = amount
	switch a.Type {
	case ActionGather:
		out.Resource = a.Resource
	case ActionTrade:
		out.Give = a.Give
		out.Receive = a.Receive
	case ActionAttack:
		out.Target = a.Target
	}
	return out
}
