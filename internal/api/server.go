// Package api is the inbound HTTP surface: job creation and reads for the
// pipeline, the credit balance, and the payment webhook that feeds the ledger.
// Identity is taken from the X-User-Id header; the upstream gateway owns
// authentication.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/you/faceoff/internal/credits"
	"github.com/you/faceoff/internal/store"
	"github.com/you/faceoff/internal/telemetry"
)

type Server struct {
	Store     store.Store
	Credits   *credits.Applier
	Telemetry *telemetry.Emitter
	Log       *zap.Logger
}

func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/jobs", s.withUser(s.handleCreateJob))
		r.Get("/jobs/{id}", s.withUser(s.handleGetJob))
		r.Get("/jobs/{id}/stages", s.withUser(s.handleGetStages))
		r.Get("/credits/balance", s.withUser(s.handleBalance))
		r.Get("/credits/packs", s.handlePacks)
		r.Post("/webhooks/payment", s.handlePaymentWebhook)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// withUser extracts the caller identity and rejects anonymous requests.
func (s *Server) withUser(next func(w http.ResponseWriter, r *http.Request, userID string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-Id")
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "missing X-User-Id header")
			return
		}
		next(w, r, userID)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

const maxBodyBytes = 1 << 20

func readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}
