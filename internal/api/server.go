package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"content-review-queue/internal/config"
	"content-review-queue/internal/engine"
	"content-review-queue/internal/models"
	"content-review-queue/internal/queue"
	"content-review-queue/internal/store"
	"content-review-queue/internal/telemetry"
)

// Server wires HTTP handlers for the review queue API. The surface exists
// for the owning tool (enqueue, status, scores, reports, admin) plus the
// inbound provider callback.
type Server struct {
	cfg       config.Config
	engine    *engine.Engine
	attention *queue.AttentionRegistry
}

// New constructs the API server. attention may be nil.
func New(cfg config.Config, eng *engine.Engine, attention *queue.AttentionRegistry) *Server {
	return &Server{
		cfg:       cfg,
		engine:    eng,
		attention: attention,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/items", s.handleEnqueue)
	r.Get("/items/{contentID}", s.handleStatus)
	r.Get("/items/{contentID}/score", s.handleScore)
	r.Get("/items/{contentID}/report", s.handleReport)
	r.Delete("/items/{contentID}", s.handleDequeue)

	r.Post("/callbacks/reports", s.handleReportCallback)

	r.Post("/users/{userID}/reset-errors", s.handleResetUserErrors)
	r.Post("/activities/{taskID}/report-timing", s.handleReportTiming)
	r.Get("/activities/{taskID}/items", s.handleActivityItems)
	r.Get("/attention", s.handleAttention)
	return r
}

type enqueueRequest struct {
	UserID     string   `json:"user_id"`
	SiteID     string   `json:"site_id"`
	TaskID     string   `json:"task_id"`
	ContentIDs []string `json:"content_ids"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.TaskID == "" {
		http.Error(w, "user_id and task_id are required", http.StatusBadRequest)
		return
	}

	err := s.engine.Enqueue(r.Context(), req.UserID, req.SiteID, req.TaskID, req.ContentIDs)
	if errors.Is(err, engine.ErrQueue) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, "enqueue failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"queued": len(req.ContentIDs)})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	contentID := chi.URLParam(r, "contentID")
	status, err := s.engine.Status(r.Context(), contentID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "unknown content id", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "status lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"content_id": contentID,
		"status":     int(status),
		"state":      status.String(),
	})
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	contentID := chi.URLParam(r, "contentID")
	score, err := s.engine.Score(r.Context(), contentID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "unknown content id", http.StatusNotFound)
		return
	}
	if errors.Is(err, engine.ErrReportNotAvailable) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, "score lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"content_id": contentID, "score": score})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	contentID := chi.URLParam(r, "contentID")
	ref, err := s.engine.Report(r.Context(), contentID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "unknown content id", http.StatusNotFound)
		return
	}
	if errors.Is(err, engine.ErrReportNotAvailable) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, "report lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"content_id": contentID, "report_ref": ref})
}

func (s *Server) handleDequeue(w http.ResponseWriter, r *http.Request) {
	contentID := chi.URLParam(r, "contentID")
	err := s.engine.Dequeue(r.Context(), contentID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "unknown content id", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "dequeue failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

type reportCallbackRequest struct {
	ExternalID string `json:"external_id"`
	ContentID  string `json:"content_id"`
	Score      int    `json:"score"`
	ReportRef  string `json:"report_ref"`
}

// handleReportCallback receives the provider's report-ready notification,
// keyed by external id or, for providers that echo the caller's id, by
// content id. Callbacks matching no item are acknowledged and dropped so
// the provider stops retrying them.
func (s *Server) handleReportCallback(w http.ResponseWriter, r *http.Request) {
	if s.cfg.CallbackSecret != "" {
		got := r.Header.Get("X-Callback-Secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.CallbackSecret)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}
	var req reportCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.ExternalID == "" && req.ContentID == "" {
		http.Error(w, "external_id or content_id is required", http.StatusBadRequest)
		return
	}
	var err error
	if req.ContentID != "" {
		err = s.engine.OnReportReadyForContent(r.Context(), req.ContentID, req.ExternalID, req.Score, req.ReportRef)
	} else {
		err = s.engine.OnReportReady(r.Context(), req.ExternalID, req.Score, req.ReportRef)
	}
	if err != nil {
		http.Error(w, "callback processing failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleResetUserErrors(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	n, err := s.engine.ResetUserDetailsErrors(r.Context(), userID)
	if err != nil {
		http.Error(w, "reset failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reset": n})
}

type reportTimingRequest struct {
	ReportTiming string `json:"report_timing"`
}

func (s *Server) handleReportTiming(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	var req reportTimingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	timing := models.ReportTiming(req.ReportTiming)
	if timing != models.ReportImmediately && timing != models.ReportOnDueDate {
		http.Error(w, "report_timing must be immediately or due_date", http.StatusBadRequest)
		return
	}
	n, err := s.engine.UpdatePendingStatusForActivity(r.Context(), taskID, timing)
	if err != nil {
		http.Error(w, "migration failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"migrated": n})
}

func (s *Server) handleActivityItems(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	siteID := r.URL.Query().Get("site_id")
	items, err := s.engine.ItemsForActivity(r.Context(), siteID, taskID)
	if err != nil {
		http.Error(w, "listing failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// handleAttention returns recent terminal failures for operator review.
func (s *Server) handleAttention(w http.ResponseWriter, r *http.Request) {
	if s.attention == nil {
		writeJSON(w, http.StatusOK, map[string]any{"items": []queue.AttentionEntry{}})
		return
	}
	items, err := s.attention.Peek(r.Context(), s.cfg.ProviderID, 100)
	if err != nil {
		http.Error(w, "failed to read attention entries", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
