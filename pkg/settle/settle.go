// Package settle computes exact proportional payouts for a resolved market.
// All arithmetic is math/big: stakes may exceed native integer range and
// the payout pool must be distributed to the last unit, with floor-rounding
// dust assigned to the first winning bettor in lexicographic order.
package settle

import (
	"errors"
	"math/big"
	"sort"
)

var (
	ErrInvalidOutcome   = errors.New("winning outcome is empty")
	ErrInvalidFee       = errors.New("fee bps out of range")
	ErrNilStake         = errors.New("position stake is nil")
	ErrNonPositiveStake = errors.New("position stake is not positive")
	ErrEmptyBettor      = errors.New("position bettor is empty")
)

const bpsDenominator = 10000

type Position struct {
	Bettor  string
	Outcome string
	Amount  *big.Int
}

type Payout struct {
	Bettor string
	Amount *big.Int
}

type Result struct {
	TotalPool   *big.Int
	FeeAmount   *big.Int
	PayoutPool  *big.Int
	WinningPool *big.Int
	Payouts     []Payout
}

// Settle distributes the payout pool across winning bettors proportional to
// stake. Invariant: sum(payouts) == payoutPool exactly whenever any payout
// is issued.
func Settle(positions []Position, winningOutcome string, feeBps int64) (*Result, error) {
	if winningOutcome == "" {
		return nil, ErrInvalidOutcome
	}
	if feeBps < 0 || feeBps > bpsDenominator {
		return nil, ErrInvalidFee
	}

	totalPool := new(big.Int)
	winningPool := new(big.Int)
	stakeByBettor := map[string]*big.Int{}
	for _, p := range positions {
		if p.Amount == nil {
			return nil, ErrNilStake
		}
		// A zero stake must not enter the bettor set: a lexicographically
		// first zero-stake bettor would otherwise capture the rounding
		// remainder without having risked anything.
		if p.Amount.Sign() <= 0 {
			return nil, ErrNonPositiveStake
		}
		if p.Bettor == "" {
			return nil, ErrEmptyBettor
		}
		totalPool.Add(totalPool, p.Amount)
		if p.Outcome == winningOutcome {
			winningPool.Add(winningPool, p.Amount)
			if prev, ok := stakeByBettor[p.Bettor]; ok {
				prev.Add(prev, p.Amount)
			} else {
				stakeByBettor[p.Bettor] = new(big.Int).Set(p.Amount)
			}
		}
	}

	feeAmount := new(big.Int).Mul(totalPool, big.NewInt(feeBps))
	feeAmount.Quo(feeAmount, big.NewInt(bpsDenominator))
	payoutPool := new(big.Int).Sub(totalPool, feeAmount)

	res := &Result{
		TotalPool:   totalPool,
		FeeAmount:   feeAmount,
		PayoutPool:  payoutPool,
		WinningPool: winningPool,
	}

	// No one bet on the winner, or nothing left after fees: no payouts.
	if winningPool.Sign() == 0 || payoutPool.Sign() == 0 {
		return res, nil
	}

	bettors := make([]string, 0, len(stakeByBettor))
	for b := range stakeByBettor {
		bettors = append(bettors, b)
	}
	sort.Strings(bettors)

	distributed := new(big.Int)
	for _, b := range bettors {
		payout := new(big.Int).Mul(payoutPool, stakeByBettor[b])
		payout.Quo(payout, winningPool)
		distributed.Add(distributed, payout)
		res.Payouts = append(res.Payouts, Payout{Bettor: b, Amount: payout})
	}

	// Floor rounding leaves a strictly non-negative remainder; hand it
	// whole to the first bettor so the pool settles to the last unit.
	if remainder := new(big.Int).Sub(payoutPool, distributed); remainder.Sign() > 0 {
		res.Payouts[0].Amount.Add(res.Payouts[0].Amount, remainder)
	}
	return res, nil
}
