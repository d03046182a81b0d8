package main

import (
	"errors"
	"log"
	"net/http"
	"time"

	"moltcombat/pkg/attest"
	"moltcombat/pkg/db"
	"moltcombat/pkg/domain"
	"moltcombat/pkg/ethsign"
	"moltcombat/pkg/fairness"
	"moltcombat/pkg/gateway"
	"moltcombat/pkg/httpx"
	"moltcombat/pkg/sim"
	"moltcombat/services/arena/internal/notify"
	"moltcombat/services/arena/internal/store"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type config struct {
	Port string `env:"SERVICE_PORT" envDefault:"8082"`

	// Attestation signing identity. Empty disables attestation; matches
	// still finish, they just cannot feed trust-gated consumers.
	AttestationKey string `env:"ATTESTATION_SIGNING_KEY"`

	ResultWebhookURL    string `env:"RESULT_WEBHOOK_URL"`
	ResultWebhookSecret string `env:"RESULT_WEBHOOK_SECRET"`

	DefaultMaxTurns     int `env:"MATCH_DEFAULT_MAX_TURNS" envDefault:"20"`
	DefaultAttackCost   int `env:"MATCH_DEFAULT_ATTACK_COST" envDefault:"1"`
	DefaultAttackDamage int `env:"MATCH_DEFAULT_ATTACK_DAMAGE" envDefault:"5"`

	Fairness fairness.Config
	Limits   gateway.Limits
	Proof    gateway.ProofPolicy
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("parse env: %v", err)
	}
	// The fairness toggle is the single source of truth for whether turn
	// proofs are demanded mid-match.
	cfg.Proof.Require = cfg.Fairness.RequireTurnProofs
	cfg.Proof.RequireEnvironment = cfg.Fairness.RequireComputeEnvironment
	cfg.Proof.RequireImageDigest = cfg.Fairness.RequireImageDigest

	pool := db.MustConnect("arena")
	st := store.New(pool)
	gw := gateway.New(cfg.Limits, cfg.Proof)
	engine := sim.NewEngine(gw)
	notifier := notify.New(cfg.ResultWebhookURL, cfg.ResultWebhookSecret)

	var attestor *attest.Attestor
	if cfg.AttestationKey != "" {
		signer, err := ethsign.NewSigner(cfg.AttestationKey)
		if err != nil {
			log.Fatalf("attestation key: %v", err)
		}
		attestor = attest.New(signer)
		log.Printf("attestation signer %s", signer.Address().Hex())
	} else {
		log.Printf("no attestation key configured, matches will be unattested")
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	r.Route("/arena", func(api chi.Router) {

		api.Post("/agents", func(w http.ResponseWriter, r *http.Request) {
			var p domain.AgentProfile
			if err := httpx.ReadJSON(r, &p); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			if p.ID == "" {
				p.ID = "agt_" + uuid.NewString()
			}
			if p.Compute != nil && !p.Compute.ValidAppID() {
				httpx.WriteError(w, 400, "compute_app_id_invalid", "compute app id must be a 0x address", nil)
				return
			}
			if err := st.CreateAgent(r.Context(), p); err != nil {
				httpx.WriteError(w, 500, "DB_ERROR", err.Error(), nil)
				return
			}
			httpx.WriteJSON(w, 201, map[string]any{"request_id": httpx.NewRequestID(), "agent": p})
		})

		api.Get("/agents/{agent_id}/health", func(w http.ResponseWriter, r *http.Request) {
			agent, err := st.GetAgent(r.Context(), chi.URLParam(r, "agent_id"))
			if err != nil {
				httpx.WriteError(w, 404, "NOT_FOUND", err.Error(), nil)
				return
			}
			ok := agent.Mode() == domain.ExecutionEndpoint && gw.CheckHealth(r.Context(), agent)
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "agent_id": agent.ID, "healthy": ok})
		})

		api.Post("/matches", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				AgentA string              `json:"agent_a"`
				AgentB string              `json:"agent_b"`
				Config *domain.MatchConfig `json:"config"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			if req.AgentA == "" || req.AgentB == "" || req.AgentA == req.AgentB {
				httpx.WriteError(w, 400, "BAD_AGENT_PAIR", "two distinct agent ids required", nil)
				return
			}
			a, err := st.GetAgent(r.Context(), req.AgentA)
			if err != nil {
				httpx.WriteError(w, 404, "NOT_FOUND", "agent_a unknown", nil)
				return
			}
			b, err := st.GetAgent(r.Context(), req.AgentB)
			if err != nil {
				httpx.WriteError(w, 404, "NOT_FOUND", "agent_b unknown", nil)
				return
			}

			mode := domain.ExecutionEndpoint
			if a.Mode() == domain.ExecutionSimple || b.Mode() == domain.ExecutionSimple {
				mode = domain.ExecutionSimple
			}

			var hist *fairness.HeadToHead
			if cfg.Fairness.RequireCollusionCheck {
				window := time.Duration(cfg.Fairness.CollusionWindowHours) * time.Hour
				hist, err = st.HeadToHead(r.Context(), a.ID, b.ID, window)
				if err != nil {
					httpx.WriteError(w, 500, "DB_ERROR", err.Error(), nil)
					return
				}
			}

			policy := fairness.Evaluate(cfg.Fairness, a, b, mode, hist)
			if !policy.Passed {
				// The match is never started on policy failure; the
				// breakdown ships with the reason for diagnostics.
				httpx.WriteError(w, 409, policy.Reason, "fairness policy rejected the pairing", policy.Checks)
				return
			}

			matchCfg := domain.MatchConfig{
				MaxTurns:     cfg.DefaultMaxTurns,
				AttackCost:   cfg.DefaultAttackCost,
				AttackDamage: cfg.DefaultAttackDamage,
			}
			if req.Config != nil {
				matchCfg = *req.Config
			}
			if matchCfg.MaxTurns <= 0 {
				httpx.WriteError(w, 400, "BAD_CONFIG", "max_turns must be positive", nil)
				return
			}

			m := &domain.MatchRecord{
				ID:     "mtc_" + uuid.NewString(),
				Status: domain.MatchPending,
				Agents: [2]domain.AgentProfile{a, b},
				Config: matchCfg,
				Audit:  policy.Audit(),
			}
			if err := st.SaveMatch(r.Context(), m); err != nil {
				httpx.WriteError(w, 500, "DB_ERROR", err.Error(), nil)
				return
			}
			httpx.WriteJSON(w, 201, map[string]any{"request_id": httpx.NewRequestID(), "match": m})
		})

		api.Post("/matches/{match_id}/run", func(w http.ResponseWriter, r *http.Request) {
			m, err := st.GetMatch(r.Context(), chi.URLParam(r, "match_id"))
			if err != nil {
				httpx.WriteError(w, 404, "NOT_FOUND", err.Error(), nil)
				return
			}
			if err := engine.Run(r.Context(), m); err != nil {
				if errors.Is(err, sim.ErrNotPending) {
					httpx.WriteError(w, 409, "MATCH_NOT_PENDING", err.Error(), nil)
					return
				}
				// Persist terminal failure before reporting it.
				_ = st.SaveMatch(r.Context(), m)
				httpx.WriteError(w, 500, "MATCH_FAILED", err.Error(), nil)
				return
			}
			if err := st.SaveMatch(r.Context(), m); err != nil {
				httpx.WriteError(w, 500, "DB_ERROR", err.Error(), nil)
				return
			}

			att, err := attestor.Attest(m)
			if err != nil {
				log.Printf("attest %s: %v", m.ID, err)
			} else if att != nil {
				if err := st.SaveAttestation(r.Context(), m.ID, att); err != nil {
					log.Printf("save attestation %s: %v", m.ID, err)
				}
			}
			if err := notifier.MatchFinished(r.Context(), m, att); err != nil {
				log.Printf("notify %s: %v", m.ID, err)
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "match": m, "attestation": att})
		})

		api.Get("/matches/{match_id}", func(w http.ResponseWriter, r *http.Request) {
			m, err := st.GetMatch(r.Context(), chi.URLParam(r, "match_id"))
			if err != nil {
				httpx.WriteError(w, 404, "NOT_FOUND", err.Error(), nil)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "match": m})
		})

		api.Get("/matches/{match_id}/attestation", func(w http.ResponseWriter, r *http.Request) {
			matchID := chi.URLParam(r, "match_id")
			att, err := st.GetAttestation(r.Context(), matchID)
			if err != nil {
				httpx.WriteError(w, 404, "attestation_unavailable", "match has no attestation", nil)
				return
			}
			res := attest.Verify(att, nil)
			httpx.WriteJSON(w, 200, map[string]any{
				"request_id":  httpx.NewRequestID(),
				"attestation": att,
				"valid":       res.Valid,
				"reason":      res.Reason,
			})
		})
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Printf("arena listening on :%s", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
