package settle

import (
	"math/big"
	"testing"
)

func bi(v int64) *big.Int { return big.NewInt(v) }

func sum(payouts []Payout) *big.Int {
	total := new(big.Int)
	for _, p := range payouts {
		total.Add(total, p.Amount)
	}
	return total
}

func TestSettleSingleWinnerWithFee(t *testing.T) {
	res, err := Settle([]Position{
		{Bettor: "alice", Outcome: "A", Amount: bi(60)},
		{Bettor: "bob", Outcome: "B", Amount: bi(40)},
	}, "A", 100)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if res.TotalPool.Cmp(bi(100)) != 0 || res.FeeAmount.Cmp(bi(1)) != 0 || res.PayoutPool.Cmp(bi(99)) != 0 {
		t.Fatalf("pool math wrong: %+v", res)
	}
	if len(res.Payouts) != 1 || res.Payouts[0].Bettor != "alice" || res.Payouts[0].Amount.Cmp(bi(99)) != 0 {
		t.Fatalf("payouts wrong: %+v", res.Payouts)
	}
}

func TestSettleRemainderToFirstBettor(t *testing.T) {
	res, err := Settle([]Position{
		{Bettor: "ann", Outcome: "A", Amount: bi(1)},
		{Bettor: "ben", Outcome: "A", Amount: bi(2)},
		{Bettor: "cat", Outcome: "B", Amount: bi(97)},
	}, "A", 0)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	// payoutPool 100, winningPool 3: floor shares 33 and 66, remainder 1
	// goes to "ann" (first alphabetically).
	if len(res.Payouts) != 2 {
		t.Fatalf("payouts: %+v", res.Payouts)
	}
	if res.Payouts[0].Bettor != "ann" || res.Payouts[0].Amount.Cmp(bi(34)) != 0 {
		t.Fatalf("first payout wrong: %+v", res.Payouts[0])
	}
	if res.Payouts[1].Bettor != "ben" || res.Payouts[1].Amount.Cmp(bi(66)) != 0 {
		t.Fatalf("second payout wrong: %+v", res.Payouts[1])
	}
	if sum(res.Payouts).Cmp(res.PayoutPool) != 0 {
		t.Fatalf("payouts must settle the pool exactly")
	}
}

func TestSettleMergesPositionsPerBettor(t *testing.T) {
	res, err := Settle([]Position{
		{Bettor: "ann", Outcome: "A", Amount: bi(10)},
		{Bettor: "ann", Outcome: "A", Amount: bi(20)},
		{Bettor: "ben", Outcome: "A", Amount: bi(30)},
	}, "A", 0)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if len(res.Payouts) != 2 {
		t.Fatalf("merged bettor must have one payout: %+v", res.Payouts)
	}
	if res.Payouts[0].Amount.Cmp(bi(30)) != 0 || res.Payouts[1].Amount.Cmp(bi(30)) != 0 {
		t.Fatalf("payouts wrong: %+v", res.Payouts)
	}
}

func TestSettleNoWinningBets(t *testing.T) {
	res, err := Settle([]Position{
		{Bettor: "ann", Outcome: "B", Amount: bi(50)},
	}, "A", 250)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if len(res.Payouts) != 0 {
		t.Fatalf("no payouts expected: %+v", res.Payouts)
	}
}

func TestSettleExactnessUnderUnevenStakes(t *testing.T) {
	positions := []Position{
		{Bettor: "a", Outcome: "X", Amount: bi(7)},
		{Bettor: "b", Outcome: "X", Amount: bi(13)},
		{Bettor: "c", Outcome: "X", Amount: bi(29)},
		{Bettor: "d", Outcome: "Y", Amount: bi(951)},
	}
	for _, feeBps := range []int64{0, 1, 99, 2500, 9999} {
		res, err := Settle(positions, "X", feeBps)
		if err != nil {
			t.Fatalf("settle fee=%d: %v", feeBps, err)
		}
		if res.PayoutPool.Sign() > 0 && sum(res.Payouts).Cmp(res.PayoutPool) != 0 {
			t.Fatalf("fee=%d: payouts %v != pool %v", feeBps, sum(res.Payouts), res.PayoutPool)
		}
	}
}

func TestSettleArbitraryPrecision(t *testing.T) {
	huge, ok := new(big.Int).SetString("340282366920938463463374607431768211456", 10) // 2^128
	if !ok {
		t.Fatalf("setstring")
	}
	res, err := Settle([]Position{
		{Bettor: "whale", Outcome: "A", Amount: huge},
		{Bettor: "fish", Outcome: "A", Amount: bi(3)},
	}, "A", 100)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if sum(res.Payouts).Cmp(res.PayoutPool) != 0 {
		t.Fatalf("big stakes must still settle exactly")
	}
}

func TestSettleRejectsBadInput(t *testing.T) {
	if _, err := Settle(nil, "", 0); err != ErrInvalidOutcome {
		t.Fatalf("got %v", err)
	}
	if _, err := Settle(nil, "A", -1); err != ErrInvalidFee {
		t.Fatalf("got %v", err)
	}
	if _, err := Settle(nil, "A", 10001); err != ErrInvalidFee {
		t.Fatalf("got %v", err)
	}
	if _, err := Settle([]Position{{Bettor: "x", Outcome: "A"}}, "A", 0); err != ErrNilStake {
		t.Fatalf("got %v", err)
	}
	if _, err := Settle([]Position{{Bettor: "x", Outcome: "A", Amount: bi(-5)}}, "A", 0); err != ErrNonPositiveStake {
		t.Fatalf("got %v", err)
	}
	if _, err := Settle([]Position{{Bettor: "x", Outcome: "A", Amount: bi(0)}}, "A", 0); err != ErrNonPositiveStake {
		t.Fatalf("got %v", err)
	}
	if _, err := Settle([]Position{{Outcome: "A", Amount: bi(5)}}, "A", 0); err != ErrEmptyBettor {
		t.Fatalf("got %v", err)
	}
}

func TestSettleRejectsZeroStakeWinner(t *testing.T) {
	// A zero stake lexicographically first among the winners would pick up
	// the rounding remainder for free; the whole batch is rejected instead.
	_, err := Settle([]Position{
		{Bettor: "aaa", Outcome: "A", Amount: bi(0)},
		{Bettor: "bbb", Outcome: "A", Amount: bi(1)},
		{Bettor: "ccc", Outcome: "A", Amount: bi(2)},
		{Bettor: "ddd", Outcome: "B", Amount: bi(7)},
	}, "A", 0)
	if err != ErrNonPositiveStake {
		t.Fatalf("zero stake must be rejected, got %v", err)
	}
}

func TestSettleFullFeeLeavesNothing(t *testing.T) {
	res, err := Settle([]Position{
		{Bettor: "ann", Outcome: "A", Amount: bi(100)},
	}, "A", 10000)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if res.PayoutPool.Sign() != 0 || len(res.Payouts) != 0 {
		t.Fatalf("full fee must leave empty payout pool: %+v", res)
	}
}
