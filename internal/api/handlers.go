package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/you/faceoff/internal/credits"
	"github.com/you/faceoff/internal/domain"
	"github.com/you/faceoff/internal/store"
	"github.com/you/faceoff/internal/telemetry"
)

type createJobRequest struct {
	ASINA                string         `json:"asin_a"`
	ASINB                string         `json:"asin_b"`
	PromptVersionsPinned map[string]any `json:"prompt_versions_pinned,omitempty"`
}

// handleCreateJob seeds a job: insert it as seeding, pre-create all six stage
// rows, then promote seeding -> queued with a CAS. A crash mid-seeding leaves
// a seeding row the recovery sweep will requeue.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request, userID string) {
	var req createJobRequest
	if !readJSON(w, r, &req) {
		return
	}
	asinA, err := domain.NormalizeASIN(req.ASINA)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	asinB, err := domain.NormalizeASIN(req.ASINB)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if asinA == asinB {
		writeError(w, http.StatusUnprocessableEntity, "asin_a and asin_b must differ")
		return
	}

	jobID := uuid.NewString()
	now := time.Now().UTC()
	row := map[string]any{
		"id":         jobID,
		"user_id":    userID,
		"asin_a":     asinA,
		"asin_b":     asinB,
		"status":     string(domain.JobSeeding),
		"created_at": now,
		"updated_at": now,
	}
	if req.PromptVersionsPinned != nil {
		row["prompt_versions_pinned"] = req.PromptVersionsPinned
	}
	inserted, err := s.Store.InsertOne(r.Context(), store.TableJobs, row)
	if err != nil {
		s.Log.Error("job insert failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not create job")
		return
	}

	for n := 0; n < domain.StageCount; n++ {
		_, err := s.Store.InsertOne(r.Context(), store.TableJobStages, map[string]any{
			"job_id":       jobID,
			"stage_number": n,
			"status":       string(domain.StagePending),
			"output":       map[string]any{"stage_name": domain.StageName(n)},
		})
		if err != nil {
			s.Log.Error("stage row seed failed",
				zap.String("job_id", jobID), zap.Int("stage", n), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "could not seed job stages")
			return
		}
	}

	promoted, err := s.Store.UpdateMany(r.Context(), store.TableJobs,
		store.Params{"id": "eq." + jobID, "status": "eq." + string(domain.JobSeeding)},
		map[string]any{"status": string(domain.JobQueued), "updated_at": time.Now().UTC()})
	if err != nil || len(promoted) == 0 {
		s.Log.Error("job promotion failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not queue job")
		return
	}

	if s.Telemetry != nil {
		s.Telemetry.Emit(telemetry.Event{
			UserID:    userID,
			JobID:     jobID,
			EventName: "job_created",
			Properties: map[string]any{
				"asin_a": asinA,
				"asin_b": asinB,
			},
		})
	}
	inserted["status"] = string(domain.JobQueued)
	writeJSON(w, http.StatusCreated, jobView(inserted))
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request, userID string) {
	row, ok := s.loadOwnedJob(w, r, userID)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, jobView(row))
}

func (s *Server) handleGetStages(w http.ResponseWriter, r *http.Request, userID string) {
	row, ok := s.loadOwnedJob(w, r, userID)
	if !ok {
		return
	}
	stages, err := s.Store.SelectMany(r.Context(), store.TableJobStages, store.Params{
		"job_id": "eq." + row.Str("id"),
		"order":  "stage_number.asc",
	})
	if err != nil {
		s.Log.Error("stage read failed", zap.String("job_id", row.Str("id")), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load stages")
		return
	}
	views := make([]map[string]any, 0, len(stages))
	for _, st := range stages {
		views = append(views, stageView(st))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id": row.Str("id"),
		"stages": views,
	})
}

func (s *Server) loadOwnedJob(w http.ResponseWriter, r *http.Request, userID string) (store.Row, bool) {
	jobID := chi.URLParam(r, "id")
	row, err := s.Store.SelectOne(r.Context(), store.TableJobs, store.Params{
		"id":      "eq." + jobID,
		"user_id": "eq." + userID,
	})
	if err != nil {
		s.Log.Error("job read failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load job")
		return nil, false
	}
	if row == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return nil, false
	}
	return row, true
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request, userID string) {
	balance, err := s.Credits.Balance(r.Context(), userID)
	if err != nil {
		s.Log.Error("balance read failed", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load balance")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "balance": balance})
}

func (s *Server) handlePacks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"packs": credits.Packs})
}

type paymentWebhookRequest struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type,omitempty"`
	UserID    string `json:"user_id"`
	PackID    string `json:"pack_id"`
}

// handlePaymentWebhook grants a purchased pack's credits. Replayed deliveries
// of the same event collapse into {applied:false} via the ledger op key.
func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var req paymentWebhookRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.EventID == "" || req.UserID == "" {
		writeError(w, http.StatusUnprocessableEntity, "event_id and user_id are required")
		return
	}
	pack, ok := credits.PackByID(req.PackID)
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "unknown pack_id")
		return
	}
	eventType := req.EventType
	if eventType == "" {
		eventType = "payment_succeeded"
	}

	res, err := s.Credits.Apply(r.Context(), req.UserID, eventType, req.EventID, pack.Credits, map[string]any{
		"pack_id":     pack.ID,
		"price_cents": pack.PriceCents,
	})
	if err != nil {
		s.Log.Error("credit apply failed",
			zap.String("user_id", req.UserID),
			zap.String("event_id", req.EventID),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not apply credits")
		return
	}
	if s.Telemetry != nil && res.Applied {
		s.Telemetry.Emit(telemetry.Event{
			UserID:    req.UserID,
			EventName: "credits_granted",
			Properties: map[string]any{
				"pack_id": pack.ID,
				"credits": pack.Credits,
			},
		})
	}
	writeJSON(w, http.StatusOK, res)
}

func jobView(row store.Row) map[string]any {
	return map[string]any{
		"id":         row.Str("id"),
		"user_id":    row.Str("user_id"),
		"asin_a":     row.Str("asin_a"),
		"asin_b":     row.Str("asin_b"),
		"status":     row.Str("status"),
		"created_at": row.Time("created_at"),
		"updated_at": row.Time("updated_at"),
	}
}

func stageView(row store.Row) map[string]any {
	return map[string]any{
		"stage_number":  row.Int("stage_number"),
		"status":        row.Str("status"),
		"started_at":    row.TimePtr("started_at"),
		"completed_at":  row.TimePtr("completed_at"),
		"output":        row.Map("output"),
		"provider_used": row.Str("provider_used"),
	}
}
