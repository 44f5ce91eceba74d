// Package api implements the operator HTTP API of the notifier service.
//
// Every route except /health expects an x-operator-id header carrying the
// chat id of a configured operator.
//
// Routes:
//
//	GET  /health                        → liveness
//	GET  /subscribers                   → every stored subscriber
//	GET  /subscribers/{id}              → one subscriber document
//	POST /subscribers/{id}/run          → run one tick now
//	POST /subscribers/{id}/pause        → stop the recurring tick
//	POST /subscribers/{id}/resume       → restart the recurring tick
//	GET  /jobs                          → schedule of every subscriber
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"jobmate/notifier-service/internal/store"
	"jobmate/notifier-service/internal/subscriber"
)

// ─── Handler ─────────────────────────────────────────────────────────────────

// Handler holds shared dependencies.
type Handler struct {
	svc    *subscriber.Service
	logger *slog.Logger
}

// NewHandler returns a configured Handler.
func NewHandler(svc *subscriber.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger.With("component", "api")}
}

// RegisterRoutes mounts all operator routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/subscribers", h.operator(h.handleSubscribers))
	mux.HandleFunc("/subscribers/", h.operator(h.handleSubscriber))
	mux.HandleFunc("/jobs", h.operator(h.handleJobs))
}

// operator rejects requests whose x-operator-id is missing or unknown.
func (h *Handler) operator(next func(http.ResponseWriter, *http.Request, int64)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("x-operator-id")
		if raw == "" {
			jsonError(w, "missing x-operator-id header", http.StatusUnauthorized)
			return
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || !h.svc.IsOperator(id) {
			jsonError(w, "not authorized", http.StatusForbidden)
			return
		}
		next(w, r, id)
	}
}

// ─── Route dispatch ──────────────────────────────────────────────────────────

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	jsonOK(w, map[string]string{"status": "ok", "service": "notifier-service"})
}

// handleSubscribers handles GET /subscribers
func (h *Handler) handleSubscribers(w http.ResponseWriter, r *http.Request, _ int64) {
	if r.Method != http.MethodGet {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	subs, err := h.svc.List(r.Context())
	if err != nil {
		h.storeError(w, "listSubscribers", err)
		return
	}
	jsonOK(w, subs)
}

// handleSubscriber handles GET /subscribers/{id} and
// POST /subscribers/{id}/run|pause|resume
func (h *Handler) handleSubscriber(w http.ResponseWriter, r *http.Request, _ int64) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 2 || len(parts) > 3 {
		jsonError(w, "invalid path", http.StatusNotFound)
		return
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		jsonError(w, "subscriber id must be an integer", http.StatusBadRequest)
		return
	}

	if len(parts) == 2 {
		if r.Method != http.MethodGet {
			jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.getSubscriber(w, r, id)
		return
	}

	if r.Method != http.MethodPost {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	switch action := parts[2]; action {
	case "run":
		h.runNow(w, r, id)
	case "pause":
		h.setPaused(w, r, id, true)
	case "resume":
		h.setPaused(w, r, id, false)
	default:
		jsonError(w, fmt.Sprintf("unknown action %q", action), http.StatusNotFound)
	}
}

// handleJobs handles GET /jobs
func (h *Handler) handleJobs(w http.ResponseWriter, r *http.Request, operatorID int64) {
	if r.Method != http.MethodGet {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	jobs, err := h.svc.Jobs(operatorID)
	if err != nil {
		jsonError(w, "not authorized", http.StatusForbidden)
		return
	}
	jsonOK(w, jobs)
}

// ─── Individual handlers ─────────────────────────────────────────────────────

func (h *Handler) getSubscriber(w http.ResponseWriter, r *http.Request, id int64) {
	sub, err := h.svc.Find(r.Context(), id)
	if err != nil {
		h.storeError(w, "getSubscriber", err)
		return
	}
	jsonOK(w, sub)
}

func (h *Handler) runNow(w http.ResponseWriter, r *http.Request, id int64) {
	if _, err := h.svc.Find(r.Context(), id); err != nil {
		h.storeError(w, "runNow", err)
		return
	}
	err := h.svc.RunNow(r.Context(), id)
	switch {
	case err == nil:
		jsonOK(w, map[string]any{"subscriberId": id, "status": "completed"})
	case errors.Is(err, store.ErrUnavailable):
		h.logger.Error("runNow failed", "subscriber_id", id, "err", err)
		jsonError(w, "store unavailable", http.StatusServiceUnavailable)
	default:
		// Partial failures: the tick ran, some sources did not.
		jsonOK(w, map[string]any{"subscriberId": id, "status": "completed_with_errors", "error": err.Error()})
	}
}

func (h *Handler) setPaused(w http.ResponseWriter, r *http.Request, id int64, paused bool) {
	if _, err := h.svc.Find(r.Context(), id); err != nil {
		h.storeError(w, "setPaused", err)
		return
	}
	op := h.svc.Resume
	if paused {
		op = h.svc.Pause
	}
	if err := op(r.Context(), id); err != nil {
		h.storeError(w, "setPaused", err)
		return
	}
	jsonOK(w, map[string]any{"subscriberId": id, "paused": paused})
}

// storeError maps store failures onto HTTP statuses.
func (h *Handler) storeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		jsonError(w, "subscriber not found", http.StatusNotFound)
	case errors.Is(err, store.ErrUnavailable):
		h.logger.Error(op+" failed", "err", err)
		jsonError(w, "store unavailable", http.StatusServiceUnavailable)
	default:
		h.logger.Error(op+" failed", "err", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
	}
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func jsonOK(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
