package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"moltcombat/pkg/attest"
	"moltcombat/pkg/db"
	"moltcombat/pkg/domain"
	"moltcombat/pkg/ethsign"
	"moltcombat/pkg/httpx"
	"moltcombat/pkg/settle"
	"moltcombat/services/market/internal/arenaclient"
	"moltcombat/services/market/internal/settlementd"
	"moltcombat/services/market/internal/store"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type config struct {
	Port         string        `env:"SERVICE_PORT" envDefault:"8083"`
	ArenaBaseURL string        `env:"ARENA_BASE_URL" envDefault:"http://localhost:8082"`
	DefaultFee   int64         `env:"MARKET_DEFAULT_FEE_BPS" envDefault:"100"`
	SweepEvery   time.Duration `env:"SETTLEMENT_SWEEP_INTERVAL" envDefault:"1m"`

	// TrustedAttestor, when set, pins the attestation signer the market
	// accepts; otherwise any self-consistent attestation is accepted.
	TrustedAttestor string `env:"TRUSTED_ATTESTOR_ADDRESS"`
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("parse env: %v", err)
	}

	pool := db.MustConnect("market")
	st := store.New(pool)
	arena := arenaclient.New(cfg.ArenaBaseURL)

	daemon := settlementd.New(st, arena, cfg.SweepEvery)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go daemon.Run(ctx)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	r.Route("/market", func(api chi.Router) {

		api.Post("/markets", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				MatchID string `json:"match_id"`
				FeeBps  *int64 `json:"fee_bps"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			if req.MatchID == "" {
				httpx.WriteError(w, 400, "BAD_MATCH", "match_id required", nil)
				return
			}
			fee := cfg.DefaultFee
			if req.FeeBps != nil {
				fee = *req.FeeBps
			}
			if fee < 0 || fee > 10000 {
				httpx.WriteError(w, 400, "BAD_FEE", "fee_bps must be in [0,10000]", nil)
				return
			}
			m := domain.Market{
				ID:        "mkt_" + uuid.NewString(),
				MatchID:   req.MatchID,
				Status:    domain.MarketOpen,
				FeeBps:    fee,
				CreatedAt: time.Now().UTC(),
			}
			if err := st.CreateMarket(r.Context(), m); err != nil {
				httpx.WriteError(w, 500, "DB_ERROR", err.Error(), nil)
				return
			}
			httpx.WriteJSON(w, 201, map[string]any{"request_id": httpx.NewRequestID(), "market": m})
		})

		api.Get("/markets/{market_id}", func(w http.ResponseWriter, r *http.Request) {
			m, err := st.GetMarket(r.Context(), chi.URLParam(r, "market_id"))
			if err != nil {
				httpx.WriteError(w, 404, "NOT_FOUND", err.Error(), nil)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "market": m})
		})

		api.Post("/markets/{market_id}/positions", func(w http.ResponseWriter, r *http.Request) {
			var p domain.MarketPosition
			if err := httpx.ReadJSON(r, &p); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			if p.Bettor == "" || p.Outcome == "" {
				httpx.WriteError(w, 400, "BAD_POSITION", "bettor and outcome required", nil)
				return
			}
			err := st.AddPosition(r.Context(), chi.URLParam(r, "market_id"), p)
			switch {
			case errors.Is(err, store.ErrNotFound):
				httpx.WriteError(w, 404, "NOT_FOUND", err.Error(), nil)
				return
			case errors.Is(err, store.ErrNotOpen):
				httpx.WriteError(w, 409, "market_not_open", err.Error(), nil)
				return
			case errors.Is(err, store.ErrBadAmount):
				httpx.WriteError(w, 400, "bad_stake_amount", err.Error(), nil)
				return
			case err != nil:
				httpx.WriteError(w, 500, "DB_ERROR", err.Error(), nil)
				return
			}
			httpx.WriteJSON(w, 201, map[string]any{"request_id": httpx.NewRequestID(), "position": p})
		})

		api.Post("/markets/{market_id}/resolve", func(w http.ResponseWriter, r *http.Request) {
			marketID := chi.URLParam(r, "market_id")
			m, err := st.GetMarket(r.Context(), marketID)
			if err != nil {
				httpx.WriteError(w, 404, "NOT_FOUND", err.Error(), nil)
				return
			}
			if m.Status != domain.MarketOpen {
				httpx.WriteError(w, 409, "market_not_open", "market already resolved or voided", nil)
				return
			}

			match, err := arena.GetMatch(r.Context(), m.MatchID)
			if err != nil {
				httpx.WriteError(w, 502, "ARENA_UNAVAILABLE", err.Error(), nil)
				return
			}
			if match.Status != domain.MatchFinished {
				httpx.WriteError(w, 409, "match_not_finished", "match has not reached a terminal state", nil)
				return
			}
			if match.Winner == "" {
				httpx.WriteError(w, 409, "match_drawn", "draws require manual adjudication", nil)
				return
			}

			att, err := arena.GetAttestation(r.Context(), m.MatchID)
			if err != nil || att == nil {
				// Absent attestation is unverifiable, never verified-false.
				httpx.WriteError(w, 409, "attestation_required", "match has no attestation", nil)
				return
			}
			res := attest.Verify(att, nil)
			if !res.Valid {
				httpx.WriteError(w, 409, "attestation_invalid", res.Reason, nil)
				return
			}
			if cfg.TrustedAttestor != "" && !ethsign.SameAddress(res.Signer, cfg.TrustedAttestor) {
				httpx.WriteError(w, 409, "attestation_untrusted_signer", res.Signer, nil)
				return
			}
			if att.Payload.Winner != match.Winner {
				httpx.WriteError(w, 409, "attestation_winner_mismatch", "attested winner diverges from match record", nil)
				return
			}

			positions, err := st.ListPositions(r.Context(), marketID)
			if err != nil {
				httpx.WriteError(w, 500, "DB_ERROR", err.Error(), nil)
				return
			}
			result, err := settle.Settle(positions, match.Winner, m.FeeBps)
			if err != nil {
				httpx.WriteError(w, 422, "settlement_failed", err.Error(), nil)
				return
			}
			if err := st.Resolve(r.Context(), marketID, match.Winner, result.Payouts); err != nil {
				if errors.Is(err, store.ErrAlreadyDone) {
					httpx.WriteError(w, 409, "market_not_open", err.Error(), nil)
					return
				}
				httpx.WriteError(w, 500, "DB_ERROR", err.Error(), nil)
				return
			}

			payouts := make([]domain.MarketPayout, 0, len(result.Payouts))
			for _, p := range result.Payouts {
				payouts = append(payouts, domain.MarketPayout{Bettor: p.Bettor, Amount: p.Amount.String()})
			}
			httpx.WriteJSON(w, 200, map[string]any{
				"request_id":  httpx.NewRequestID(),
				"market_id":   marketID,
				"outcome":     match.Winner,
				"total_pool":  result.TotalPool.String(),
				"fee_amount":  result.FeeAmount.String(),
				"payout_pool": result.PayoutPool.String(),
				"payouts":     payouts,
			})
		})

		api.Get("/markets/{market_id}/payouts", func(w http.ResponseWriter, r *http.Request) {
			payouts, err := st.ListPayouts(r.Context(), chi.URLParam(r, "market_id"))
			if err != nil {
				httpx.WriteError(w, 500, "DB_ERROR", err.Error(), nil)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "payouts": payouts})
		})
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Printf("market listening on :%s", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
