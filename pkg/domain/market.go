package domain

import "time"

type MarketStatus string

const (
	MarketOpen     MarketStatus = "open"
	MarketResolved MarketStatus = "resolved"
	MarketVoided   MarketStatus = "voided"
)

// Market is a side-bet market bound to one match. Outcomes are the two
// agent ids; resolution is gated on a valid attestation for the match.
type Market struct {
	ID        string       `json:"id"`
	MatchID   string       `json:"match_id"`
	Status    MarketStatus `json:"status"`
	FeeBps    int64        `json:"fee_bps"`
	Outcome   string       `json:"outcome,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// MarketPosition is one staked bet. Amount is a non-negative decimal
// integer string; stakes may exceed native integer range.
type MarketPosition struct {
	Bettor  string `json:"bettor"`
	Outcome string `json:"outcome"`
	Amount  string `json:"amount"`
}

// MarketPayout is a derived payout, never persisted before resolution.
type MarketPayout struct {
	Bettor string `json:"bettor"`
	Amount string `json:"amount"`
}
