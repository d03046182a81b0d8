package domain

import "testing"

func TestNormalizeClampsAmount(t *testing.T) {
	a := AgentAction{Type: ActionGather, Resource: ResourceEnergy, Amount: 50}
	if got := a.Normalize().Amount; got != MaxActionAmount {
		t.Fatalf("expected clamp to %d, got %d", MaxActionAmount, got)
	}
	a.Amount = 0
	if got := a.Normalize().Amount; got != MinActionAmount {
		t.Fatalf("expected clamp to %d, got %d", MinActionAmount, got)
	}
	a.Amount = -3
	if got := a.Normalize().Amount; got != MinActionAmount {
		t.Fatalf("expected clamp to %d, got %d", MinActionAmount, got)
	}
}

func TestNormalizeDropsForeignVariantFields(t *testing.T) {
	a := AgentAction{Type: ActionGather, Resource: ResourceData, Give: ResourceEnergy, Target: "x", Amount: 3}
	n := a.Normalize()
	if n.Give != "" || n.Target != "" {
		t.Fatalf("expected non-gather fields zeroed, got %+v", n)
	}
	if n.Resource != ResourceData || n.Amount != 3 {
		t.Fatalf("gather fields must survive: %+v", n)
	}
}

func TestNormalizeHoldHasNoAmount(t *testing.T) {
	n := AgentAction{Type: ActionHold, Amount: 7}.Normalize()
	if n.Amount != 0 {
		t.Fatalf("hold must carry no amount, got %d", n.Amount)
	}
}

func TestValidateRejectsUnknownTypeAndBadEnums(t *testing.T) {
	if (AgentAction{Type: "dance"}).Validate() {
		t.Fatalf("unknown action type must fail validation")
	}
	if (AgentAction{Type: ActionGather, Resource: "gold"}).Validate() {
		t.Fatalf("unknown resource must fail validation")
	}
	if (AgentAction{Type: ActionTrade, Give: ResourceEnergy, Receive: "gold"}).Validate() {
		t.Fatalf("unknown trade resource must fail validation")
	}
	if !(AgentAction{Type: ActionTrade, Give: ResourceEnergy, Receive: ResourceData}).Validate() {
		t.Fatalf("valid trade must pass validation")
	}
}

func TestModeResolution(t *testing.T) {
	if (AgentProfile{Endpoint: "http://agent:9000"}).Mode() != ExecutionEndpoint {
		t.Fatalf("endpoint profile must resolve to endpoint mode")
	}
	if (AgentProfile{}).Mode() != ExecutionSimple {
		t.Fatalf("profile without endpoint must resolve to simple mode")
	}
}

func TestComputeAppIDFormat(t *testing.T) {
	ok := EigenComputeProfile{AppID: "0x00000000000000000000000000000000000000aa"}
	if !ok.ValidAppID() {
		t.Fatalf("expected valid app id")
	}
	for _, bad := range []string{"", "app-1", "0x1234", "0xzz000000000000000000000000000000000000aa"} {
		if (EigenComputeProfile{AppID: bad}).ValidAppID() {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}
