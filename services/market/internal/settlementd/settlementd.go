// Package settlementd sweeps open markets and settles the ones whose match
// has finished with a valid attestation. A single sweep runs at a time:
// the timer and any manual trigger share one in-flight handle behind a
// mutex, and re-entry is idempotent because resolution is guarded by the
// store's open->resolved transition.
package settlementd

import (
	"context"
	"log"
	"sync"
	"time"

	"moltcombat/pkg/attest"
	"moltcombat/pkg/domain"
	"moltcombat/pkg/settle"
	"moltcombat/services/market/internal/arenaclient"
	"moltcombat/services/market/internal/store"
)

type Daemon struct {
	Store    *store.Store
	Arena    *arenaclient.Client
	Interval time.Duration
	MinAge   time.Duration
	Batch    int

	mu       sync.Mutex
	inflight chan struct{}
}

func New(st *store.Store, arena *arenaclient.Client, interval time.Duration) *Daemon {
	return &Daemon{
		Store:    st,
		Arena:    arena,
		Interval: interval,
		MinAge:   30 * time.Second,
		Batch:    50,
	}
}

// Run drives the sweep timer until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) {
	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			<-d.Trigger(ctx)
		}
	}
}

// Trigger starts a sweep unless one is already in flight, in which case the
// existing sweep's done channel is returned. Callers wanting synchronous
// behavior wait on the channel.
func (d *Daemon) Trigger(ctx context.Context) <-chan struct{} {
	d.mu.Lock()
	if d.inflight != nil {
		done := d.inflight
		d.mu.Unlock()
		return done
	}
	done := make(chan struct{})
	d.inflight = done
	d.mu.Unlock()

	go func() {
		defer func() {
			d.mu.Lock()
			d.inflight = nil
			d.mu.Unlock()
			close(done)
		}()
		d.sweep(ctx)
	}()
	return done
}

func (d *Daemon) sweep(ctx context.Context) {
	markets, err := d.Store.ListOpenMarkets(ctx, d.MinAge, d.Batch)
	if err != nil {
		log.Printf("settlementd: list open markets: %v", err)
		return
	}
	for _, m := range markets {
		if err := d.settleOne(ctx, m); err != nil {
			log.Printf("settlementd: market %s: %v", m.ID, err)
		}
	}
}

// settleOne re-checks stored state before acting, so a sweep racing a
// manual resolve simply hits ErrAlreadyDone and moves on.
func (d *Daemon) settleOne(ctx context.Context, m domain.Market) error {
	match, err := d.Arena.GetMatch(ctx, m.MatchID)
	if err != nil {
		return err
	}
	if match.Status != domain.MatchFinished {
		return nil
	}
	if match.Winner == "" {
		// Draws route to manual adjudication; the sweep never voids or
		// settles them on its own.
		return nil
	}
	att, err := d.Arena.GetAttestation(ctx, m.MatchID)
	if err != nil || att == nil {
		// Unattested means unverifiable, not resolvable.
		return nil
	}
	if res := attest.Verify(att, nil); !res.Valid {
		return nil
	}
	if att.Payload.Winner != match.Winner {
		return nil
	}

	positions, err := d.Store.ListPositions(ctx, m.ID)
	if err != nil {
		return err
	}
	result, err := settle.Settle(positions, match.Winner, m.FeeBps)
	if err != nil {
		return err
	}
	if err := d.Store.Resolve(ctx, m.ID, match.Winner, result.Payouts); err != nil {
		if err == store.ErrAlreadyDone {
			return nil
		}
		return err
	}
	log.Printf("settlementd: resolved market %s outcome %s, %d payouts", m.ID, match.Winner, len(result.Payouts))
	return nil
}
