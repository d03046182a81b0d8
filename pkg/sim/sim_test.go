package sim

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"moltcombat/pkg/domain"
	"moltcombat/pkg/gateway"
)

func testGateway() *gateway.Client {
	return gateway.New(gateway.Limits{
		MaxRequestBytes:  64 * 1024,
		MaxResponseBytes: 16 * 1024,
		Timeout:          2 * time.Second,
		MaxLatency:       2 * time.Second,
	}, gateway.ProofPolicy{})
}

func actionServer(t *testing.T, decide func(turn int) domain.AgentAction) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Turn int `json:"turn"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(map[string]any{"action": decide(req.Turn)})
	}))
}

func newMatch(a, b *httptest.Server, maxTurns int) *domain.MatchRecord {
	return &domain.MatchRecord{
		ID:     "match-1",
		Status: domain.MatchPending,
		Agents: [2]domain.AgentProfile{
			{ID: "agent-a", Endpoint: a.URL},
			{ID: "agent-b", Endpoint: b.URL},
		},
		Config: domain.MatchConfig{MaxTurns: maxTurns, AttackCost: 1, AttackDamage: 5},
	}
}

func TestRunHoldersFinishAsDraw(t *testing.T) {
	hold := func(int) domain.AgentAction { return domain.HoldAction() }
	srvA := actionServer(t, hold)
	defer srvA.Close()
	srvB := actionServer(t, hold)
	defer srvB.Close()

	m := newMatch(srvA, srvB, 5)
	if err := NewEngine(testGateway()).Run(context.Background(), m); err != nil {
		t.Fatalf("run: %v", err)
	}

	if m.Status != domain.MatchFinished {
		t.Fatalf("status %s", m.Status)
	}
	if m.TurnsPlayed != 5 || len(m.Replay) != 5 {
		t.Fatalf("expected 5 turns, got %d (%d replay entries)", m.TurnsPlayed, len(m.Replay))
	}
	if m.Winner != "" {
		t.Fatalf("two holders must draw, got winner %q", m.Winner)
	}
	if m.Audit.TotalRequestBytes == 0 {
		t.Fatalf("request byte metering must be non-zero")
	}
	if m.Audit.FallbackHolds != 0 {
		t.Fatalf("happy path must have zero fallback holds, got %d", m.Audit.FallbackHolds)
	}
	if m.ScorecardHash == "" {
		t.Fatalf("scorecard hash missing")
	}
	last := m.Replay[4].States
	if last[0].HP != StartingHP || last[1].HP != StartingHP {
		t.Fatalf("holders must keep full HP: %+v", last)
	}
}

func TestRunAttackerWinsEarly(t *testing.T) {
	attack := func(int) domain.AgentAction {
		return domain.AgentAction{Type: domain.ActionAttack, Target: "agent-b", Amount: 10}
	}
	gatherEnergy := func(int) domain.AgentAction {
		return domain.AgentAction{Type: domain.ActionGather, Resource: domain.ResourceEnergy, Amount: 10}
	}
	hold := func(int) domain.AgentAction { return domain.HoldAction() }

	// Agent A alternates gathering energy and attacking at full strength.
	srvA := actionServer(t, func(turn int) domain.AgentAction {
		if turn%2 == 1 {
			return gatherEnergy(turn)
		}
		return attack(turn)
	})
	defer srvA.Close()
	srvB := actionServer(t, hold)
	defer srvB.Close()

	m := newMatch(srvA, srvB, 50)
	if err := NewEngine(testGateway()).Run(context.Background(), m); err != nil {
		t.Fatalf("run: %v", err)
	}
	if m.Winner != "agent-a" {
		t.Fatalf("expected agent-a to win, got %q", m.Winner)
	}
	final := m.Replay[len(m.Replay)-1].States
	if final[1].HP != 0 {
		t.Fatalf("expected defender HP 0, got %d", final[1].HP)
	}
	if m.TurnsPlayed >= 50 {
		t.Fatalf("expected early termination, played %d", m.TurnsPlayed)
	}
	for _, turn := range m.Replay {
		for _, s := range turn.States {
			if s.HP < 0 {
				t.Fatalf("HP must never go negative: %+v", s)
			}
		}
	}
}

func TestRunScoreBreaksHPTie(t *testing.T) {
	gather := func(int) domain.AgentAction {
		return domain.AgentAction{Type: domain.ActionGather, Resource: domain.ResourceData, Amount: 1}
	}
	hold := func(int) domain.AgentAction { return domain.HoldAction() }
	srvA := actionServer(t, gather)
	defer srvA.Close()
	srvB := actionServer(t, hold)
	defer srvB.Close()

	m := newMatch(srvA, srvB, 3)
	if err := NewEngine(testGateway()).Run(context.Background(), m); err != nil {
		t.Fatalf("run: %v", err)
	}
	if m.Winner != "agent-a" {
		t.Fatalf("higher score on tied HP must win, got %q", m.Winner)
	}
}

func TestRunUnreachableAgentFallsBackToHold(t *testing.T) {
	hold := func(int) domain.AgentAction { return domain.HoldAction() }
	srvA := actionServer(t, hold)
	defer srvA.Close()
	srvB := actionServer(t, hold)
	srvB.Close() // unreachable from turn 1

	m := newMatch(srvA, srvB, 2)
	if err := NewEngine(testGateway()).Run(context.Background(), m); err != nil {
		t.Fatalf("run must not fail on agent transport errors: %v", err)
	}
	if m.Status != domain.MatchFinished {
		t.Fatalf("status %s", m.Status)
	}
	if m.Audit.FallbackHolds != 2 {
		t.Fatalf("expected 2 fallback holds, got %d", m.Audit.FallbackHolds)
	}
	for _, turn := range m.Replay {
		if turn.Actions[1].Type != domain.ActionHold {
			t.Fatalf("unreachable agent must hold: %+v", turn.Actions[1])
		}
	}
}

func TestRunRejectsBadInputs(t *testing.T) {
	e := NewEngine(testGateway())

	m := &domain.MatchRecord{Status: domain.MatchRunning}
	if err := e.Run(context.Background(), m); err != ErrNotPending {
		t.Fatalf("got %v", err)
	}

	m = &domain.MatchRecord{Status: domain.MatchPending, Agents: [2]domain.AgentProfile{{ID: "a"}, {ID: "b"}}}
	if err := e.Run(context.Background(), m); err != ErrBadConfig {
		t.Fatalf("got %v", err)
	}

	m = &domain.MatchRecord{
		Status: domain.MatchPending,
		Agents: [2]domain.AgentProfile{{ID: "a"}, {ID: "a"}},
		Config: domain.MatchConfig{MaxTurns: 1},
	}
	if err := e.Run(context.Background(), m); err != ErrBadAgentPair {
		t.Fatalf("got %v", err)
	}
}

func TestScorecardHashDetectsMutation(t *testing.T) {
	hold := func(int) domain.AgentAction { return domain.HoldAction() }
	srvA := actionServer(t, hold)
	defer srvA.Close()
	srvB := actionServer(t, hold)
	defer srvB.Close()

	m := newMatch(srvA, srvB, 2)
	if err := NewEngine(testGateway()).Run(context.Background(), m); err != nil {
		t.Fatalf("run: %v", err)
	}
	if ScorecardHash(m) != m.ScorecardHash {
		t.Fatalf("recomputed scorecard must match")
	}
	m.Winner = "agent-b"
	if ScorecardHash(m) == m.ScorecardHash {
		t.Fatalf("mutated winner must change the scorecard hash")
	}
}

func TestApplyActionWalletAndTradeRules(t *testing.T) {
	cfg := domain.MatchConfig{AttackCost: 2, AttackDamage: 5}
	actor := domain.AgentState{AgentID: "a", HP: 100, Wallet: domain.Wallet{Energy: 3}}
	defender := domain.AgentState{AgentID: "b", HP: 100}

	// Unaffordable attack: cost 2*10=20 > 3 energy, full no-op.
	applyAction(&actor, &defender, domain.AgentAction{Type: domain.ActionAttack, Amount: 10}, cfg)
	if actor.Wallet.Energy != 3 || defender.HP != 100 || actor.Score != 0 {
		t.Fatalf("unaffordable attack must be a no-op: %+v %+v", actor, defender)
	}

	// Unaffordable trade: giving 5 material with 0 held.
	applyAction(&actor, &defender, domain.AgentAction{Type: domain.ActionTrade, Give: domain.ResourceMaterial, Receive: domain.ResourceData, Amount: 5}, cfg)
	if actor.Wallet.Material != 0 || actor.Wallet.Data != 0 || actor.Score != 0 {
		t.Fatalf("unaffordable trade must be a no-op: %+v", actor)
	}

	// Affordable sequence: gather, trade, attack.
	applyAction(&actor, &defender, domain.AgentAction{Type: domain.ActionGather, Resource: domain.ResourceMaterial, Amount: 6}, cfg)
	applyAction(&actor, &defender, domain.AgentAction{Type: domain.ActionTrade, Give: domain.ResourceMaterial, Receive: domain.ResourceData, Amount: 4}, cfg)
	applyAction(&actor, &defender, domain.AgentAction{Type: domain.ActionAttack, Amount: 1}, cfg)

	if actor.Wallet.Material != 2 || actor.Wallet.Data != 4 {
		t.Fatalf("trade accounting wrong: %+v", actor.Wallet)
	}
	if actor.Wallet.Energy != 1 {
		t.Fatalf("attack energy accounting wrong: %+v", actor.Wallet)
	}
	if defender.HP != 95 {
		t.Fatalf("attack damage wrong: %d", defender.HP)
	}
	if actor.Score != 1+2+3 {
		t.Fatalf("score accounting wrong: %d", actor.Score)
	}

	// Wallet values never negative across any of the above.
	for _, v := range []int{actor.Wallet.Energy, actor.Wallet.Material, actor.Wallet.Data} {
		if v < 0 {
			t.Fatalf("wallet went negative: %+v", actor.Wallet)
		}
	}
}

func TestApplyActionAttackTargetMustBeOpponent(t *testing.T) {
	cfg := domain.MatchConfig{AttackCost: 1, AttackDamage: 5}
	actor := domain.AgentState{AgentID: "a", HP: 100, Wallet: domain.Wallet{Energy: 10}}
	defender := domain.AgentState{AgentID: "b", HP: 100}

	// Self-targeted and garbage-targeted attacks land nothing and cost
	// nothing.
	for _, target := range []string{"a", "nobody"} {
		applyAction(&actor, &defender, domain.AgentAction{Type: domain.ActionAttack, Target: target, Amount: 2}, cfg)
		if defender.HP != 100 || actor.Wallet.Energy != 10 || actor.Score != 0 {
			t.Fatalf("target %q must be a no-op: %+v %+v", target, actor, defender)
		}
	}

	// Naming the opponent, or leaving the target empty, both connect.
	applyAction(&actor, &defender, domain.AgentAction{Type: domain.ActionAttack, Target: "b", Amount: 1}, cfg)
	applyAction(&actor, &defender, domain.AgentAction{Type: domain.ActionAttack, Amount: 1}, cfg)
	if defender.HP != 90 {
		t.Fatalf("valid attacks must land: %d", defender.HP)
	}
}
