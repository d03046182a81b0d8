package store

import (
	"context"
	"errors"
	"math/big"
	"time"

	"moltcombat/pkg/domain"
	"moltcombat/pkg/settle"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrNotOpen     = errors.New("market is not open")
	ErrBadAmount   = errors.New("stake must be a non-negative integer")
	ErrAlreadyDone = errors.New("market already resolved")
)

type Store struct{ DB *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func (s *Store) CreateMarket(ctx context.Context, m domain.Market) error {
	_, err := s.DB.Exec(ctx, `
INSERT INTO markets(market_id, match_id, status, fee_bps, created_at)
VALUES($1, $2, $3, $4, $5)
`, m.ID, m.MatchID, string(m.Status), m.FeeBps, m.CreatedAt)
	return err
}

func (s *Store) GetMarket(ctx context.Context, marketID string) (domain.Market, error) {
	var m domain.Market
	var status string
	var outcome *string
	err := s.DB.QueryRow(ctx, `
SELECT market_id, match_id, status, fee_bps, outcome, created_at
FROM markets WHERE market_id=$1`, marketID).
		Scan(&m.ID, &m.MatchID, &status, &m.FeeBps, &outcome, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Market{}, ErrNotFound
	}
	if err != nil {
		return domain.Market{}, err
	}
	m.Status = domain.MarketStatus(status)
	if outcome != nil {
		m.Outcome = *outcome
	}
	return m, nil
}

// ParseStake parses a decimal stake string. Non-positive and malformed
// stakes are rejected here, before anything reaches the settlement math.
func ParseStake(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() <= 0 {
		return nil, ErrBadAmount
	}
	return v, nil
}

func (s *Store) AddPosition(ctx context.Context, marketID string, p domain.MarketPosition) error {
	if _, err := ParseStake(p.Amount); err != nil {
		return err
	}
	m, err := s.GetMarket(ctx, marketID)
	if err != nil {
		return err
	}
	if m.Status != domain.MarketOpen {
		return ErrNotOpen
	}
	_, err = s.DB.Exec(ctx, `
INSERT INTO market_positions(market_id, bettor, outcome, amount)
VALUES($1, $2, $3, $4)
`, marketID, p.Bettor, p.Outcome, p.Amount)
	return err
}

func (s *Store) ListPositions(ctx context.Context, marketID string) ([]settle.Position, error) {
	rows, err := s.DB.Query(ctx, `
SELECT bettor, outcome, amount FROM market_positions WHERE market_id=$1 ORDER BY id`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []settle.Position
	for rows.Next() {
		var bettor, outcome, amount string
		if err := rows.Scan(&bettor, &outcome, &amount); err != nil {
			return nil, err
		}
		stake, err := ParseStake(amount)
		if err != nil {
			return nil, err
		}
		out = append(out, settle.Position{Bettor: bettor, Outcome: outcome, Amount: stake})
	}
	return out, rows.Err()
}

// Resolve marks the market resolved and persists payouts in one
// transaction. A second call is rejected, making external settlement
// triggers idempotent.
func (s *Store) Resolve(ctx context.Context, marketID, outcome string, payouts []settle.Payout) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
UPDATE markets SET status='resolved', outcome=$2, resolved_at=now()
WHERE market_id=$1 AND status='open'
`, marketID, outcome)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyDone
	}

	for _, p := range payouts {
		if _, err := tx.Exec(ctx, `
INSERT INTO market_payouts(market_id, bettor, amount)
VALUES($1, $2, $3)
`, marketID, p.Bettor, p.Amount.String()); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) ListPayouts(ctx context.Context, marketID string) ([]domain.MarketPayout, error) {
	rows, err := s.DB.Query(ctx, `
SELECT bettor, amount FROM market_payouts WHERE market_id=$1 ORDER BY bettor`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.MarketPayout
	for rows.Next() {
		var p domain.MarketPayout
		if err := rows.Scan(&p.Bettor, &p.Amount); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListOpenMarkets feeds the settlement poller with markets whose match may
// have finished since the last sweep.
func (s *Store) ListOpenMarkets(ctx context.Context, olderThan time.Duration, limit int) ([]domain.Market, error) {
	rows, err := s.DB.Query(ctx, `
SELECT market_id, match_id, status, fee_bps, created_at
FROM markets
WHERE status='open' AND created_at < $1
ORDER BY created_at
LIMIT $2`, time.Now().Add(-olderThan), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Market
	for rows.Next() {
		var m domain.Market
		var status string
		if err := rows.Scan(&m.ID, &m.MatchID, &status, &m.FeeBps, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Status = domain.MarketStatus(status)
		out = append(out, m)
	}
	return out, rows.Err()
}
