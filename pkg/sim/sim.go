// Package sim runs the deterministic turn loop of a match. Both agents are
// queried concurrently each turn through the gateway, their actions are
// applied serially to the authoritative states, and every turn is appended
// to the replay. The loop itself never fails on agent misbehavior; every
// violation has already been folded into a hold by the gateway.
package sim

import (
	"context"
	"errors"
	"sync"
	"time"

	"moltcombat/pkg/canonhash"
	"moltcombat/pkg/domain"
	"moltcombat/pkg/gateway"
	"moltcombat/pkg/turnproof"
)

const (
	StartingHP       = 100
	StartingResource = 10
)

var (
	ErrNotPending   = errors.New("match is not pending")
	ErrBadConfig    = errors.New("match config invalid")
	ErrBadAgentPair = errors.New("match requires two distinct agents")
)

type Engine struct {
	Gateway *gateway.Client
}

func NewEngine(gw *gateway.Client) *Engine {
	return &Engine{Gateway: gw}
}

// Run executes the match in place: pending -> running -> finished. The
// caller owns persistence of the finished record. A context cancellation
// mid-match marks the record failed and returns the context error.
func (e *Engine) Run(ctx context.Context, m *domain.MatchRecord) error {
	if m.Status != domain.MatchPending {
		return ErrNotPending
	}
	if m.Config.MaxTurns <= 0 {
		return ErrBadConfig
	}
	if m.Agents[0].ID == "" || m.Agents[1].ID == "" || m.Agents[0].ID == m.Agents[1].ID {
		return ErrBadAgentPair
	}

	m.Status = domain.MatchRunning
	m.StartedAt = time.Now().UTC()

	states := [2]domain.AgentState{
		newState(m.Agents[0].ID),
		newState(m.Agents[1].ID),
	}

	for turn := 1; turn <= m.Config.MaxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			m.Status = domain.MatchFailed
			return err
		}

		challenges, err := e.issueChallenges()
		if err != nil {
			m.Status = domain.MatchFailed
			return err
		}

		var actions [2]domain.AgentAction
		var metering [2]domain.MatchTurnMetering
		var wg sync.WaitGroup
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				self := states[i].Clone()
				opponent := states[1-i].Clone()
				actions[i], metering[i] = e.Gateway.RequestAction(ctx, m.ID, m.Agents[i], turn, self, opponent, m.Config, challenges[i])
			}(i)
		}
		wg.Wait()

		for i := 0; i < 2; i++ {
			applyAction(&states[i], &states[1-i], actions[i], m.Config)
		}

		m.Replay = append(m.Replay, domain.MatchReplayTurn{
			Turn:     turn,
			Actions:  actions,
			States:   states,
			Metering: metering,
		})
		m.TurnsPlayed = turn
		accumulate(&m.Audit, metering)

		if states[0].HP == 0 || states[1].HP == 0 {
			break
		}
	}

	m.Winner = resolveWinner(m.Agents, states)
	m.FinishedAt = time.Now().UTC()
	m.Status = domain.MatchFinished
	m.ScorecardHash = ScorecardHash(m)
	return nil
}

func (e *Engine) issueChallenges() ([2]string, error) {
	var out [2]string
	if !e.Gateway.Proof.Require {
		return out, nil
	}
	for i := 0; i < 2; i++ {
		c, err := turnproof.NewChallenge()
		if err != nil {
			return out, err
		}
		out[i] = c
	}
	return out, nil
}

func newState(agentID string) domain.AgentState {
	return domain.AgentState{
		AgentID: agentID,
		HP:      StartingHP,
		Wallet: domain.Wallet{
			Energy:   StartingResource,
			Material: StartingResource,
			Data:     StartingResource,
		},
	}
}

// applyAction mutates the actor's own state (and the defender's HP for
// attacks). Unaffordable trades and attacks are silent no-ops; the
// attempted action still lands in the replay.
func applyAction(actor, defender *domain.AgentState, raw domain.AgentAction, cfg domain.MatchConfig) {
	a := raw.Normalize()
	switch a.Type {
	case domain.ActionHold:
		// no-op turn

	case domain.ActionGather:
		actor.Wallet.Add(a.Resource, a.Amount)
		actor.Score++

	case domain.ActionTrade:
		if a.Give == a.Receive {
			return
		}
		if actor.Wallet.Get(a.Give) < a.Amount {
			return
		}
		actor.Wallet.Add(a.Give, -a.Amount)
		actor.Wallet.Add(a.Receive, a.Amount)
		actor.Score += 2

	case domain.ActionAttack:
		// An attack must name the opponent (or leave Target empty, which
		// means the same in a two-agent match). Naming anything else,
		// including the attacker itself, lands no damage.
		if a.Target != "" && a.Target != defender.AgentID {
			return
		}
		cost := a.Amount * cfg.AttackCost
		if actor.Wallet.Energy < cost {
			return
		}
		actor.Wallet.Energy -= cost
		defender.HP -= a.Amount * cfg.AttackDamage
		if defender.HP < 0 {
			defender.HP = 0
		}
		actor.Score += 3
	}
}

// resolveWinner picks higher HP, then higher score, then declares a draw by
// returning the empty string. A draw is a designed outcome routed to manual
// adjudication, not an error.
func resolveWinner(agents [2]domain.AgentProfile, states [2]domain.AgentState) string {
	switch {
	case states[0].HP > states[1].HP:
		return agents[0].ID
	case states[1].HP > states[0].HP:
		return agents[1].ID
	case states[0].Score > states[1].Score:
		return agents[0].ID
	case states[1].Score > states[0].Score:
		return agents[1].ID
	}
	return ""
}

// scorecard is the fixed shape hashed into MatchRecord.ScorecardHash. Any
// party holding the replay can recompute it and detect post-hoc edits.
type scorecard struct {
	Replay      []domain.MatchReplayTurn  `json:"replay"`
	Winner      string                    `json:"winner"`
	TurnsPlayed int                       `json:"turns_played"`
	Config      domain.MatchConfig        `json:"config"`
	Audit       domain.MatchFairnessAudit `json:"audit"`
}

func ScorecardHash(m *domain.MatchRecord) string {
	h, _, _ := canonhash.SumObject(scorecard{
		Replay:      m.Replay,
		Winner:      m.Winner,
		TurnsPlayed: m.TurnsPlayed,
		Config:      m.Config,
		Audit:       m.Audit,
	})
	return h
}

func accumulate(audit *domain.MatchFairnessAudit, metering [2]domain.MatchTurnMetering) {
	for _, met := range metering {
		audit.TotalRequestBytes += met.RequestBytes
		audit.TotalResponseBytes += met.ResponseBytes
		if met.TimedOut {
			audit.Timeouts++
		}
		if met.FallbackHold {
			audit.FallbackHolds++
		}
		if met.InvalidAction {
			audit.InvalidActions++
		}
	}
}
