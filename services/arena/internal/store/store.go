package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"moltcombat/pkg/domain"
	"moltcombat/pkg/fairness"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("not found")

type Store struct{ DB *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func (s *Store) CreateAgent(ctx context.Context, p domain.AgentProfile) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(ctx, `
INSERT INTO agents(agent_id, profile)
VALUES($1, $2::jsonb)
ON CONFLICT (agent_id) DO UPDATE SET profile=$2::jsonb, updated_at=now()
`, p.ID, string(b))
	return err
}

func (s *Store) GetAgent(ctx context.Context, agentID string) (domain.AgentProfile, error) {
	var raw []byte
	err := s.DB.QueryRow(ctx, `SELECT profile FROM agents WHERE agent_id=$1`, agentID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AgentProfile{}, ErrNotFound
	}
	if err != nil {
		return domain.AgentProfile{}, err
	}
	var p domain.AgentProfile
	if err := json.Unmarshal(raw, &p); err != nil {
		return domain.AgentProfile{}, err
	}
	return p, nil
}

func (s *Store) SaveMatch(ctx context.Context, m *domain.MatchRecord) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(ctx, `
INSERT INTO matches(match_id, status, agent_a, agent_b, winner, started_at, record)
VALUES($1, $2, $3, $4, NULLIF($5,''), $6, $7::jsonb)
ON CONFLICT (match_id) DO UPDATE SET
  status=$2, winner=NULLIF($5,''), record=$7::jsonb, updated_at=now()
`, m.ID, string(m.Status), m.Agents[0].ID, m.Agents[1].ID, m.Winner, m.StartedAt, string(b))
	return err
}

func (s *Store) GetMatch(ctx context.Context, matchID string) (*domain.MatchRecord, error) {
	var raw []byte
	err := s.DB.QueryRow(ctx, `SELECT record FROM matches WHERE match_id=$1`, matchID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var m domain.MatchRecord
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) SaveAttestation(ctx context.Context, matchID string, att *domain.MatchAttestationRecord) error {
	b, err := json.Marshal(att)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(ctx, `
INSERT INTO match_attestations(match_id, payload_hash, signer, record)
VALUES($1, $2, $3, $4::jsonb)
ON CONFLICT (match_id) DO NOTHING
`, matchID, att.PayloadHash, att.Signer, string(b))
	return err
}

func (s *Store) GetAttestation(ctx context.Context, matchID string) (*domain.MatchAttestationRecord, error) {
	var raw []byte
	err := s.DB.QueryRow(ctx, `SELECT record FROM match_attestations WHERE match_id=$1`, matchID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var att domain.MatchAttestationRecord
	if err := json.Unmarshal(raw, &att); err != nil {
		return nil, err
	}
	return &att, nil
}

// HeadToHead summarizes finished matches between the pair inside the window,
// counted in (agentA, agentB) order for fairness.Evaluate.
func (s *Store) HeadToHead(ctx context.Context, agentA, agentB string, window time.Duration) (*fairness.HeadToHead, error) {
	since := time.Now().Add(-window)
	rows, err := s.DB.Query(ctx, `
SELECT winner FROM matches
WHERE status='finished'
  AND started_at >= $3
  AND ((agent_a=$1 AND agent_b=$2) OR (agent_a=$2 AND agent_b=$1))
`, agentA, agentB, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	h := &fairness.HeadToHead{}
	for rows.Next() {
		var winner *string
		if err := rows.Scan(&winner); err != nil {
			return nil, err
		}
		h.Matches++
		if winner == nil {
			continue
		}
		switch *winner {
		case agentA:
			h.WinsA++
		case agentB:
			h.WinsB++
		}
	}
	return h, rows.Err()
}
