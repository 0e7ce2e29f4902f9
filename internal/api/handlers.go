package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/liamashdown/linewatch/internal/config"
	"github.com/liamashdown/linewatch/internal/metrics"
	"github.com/liamashdown/linewatch/internal/pipeline"
	"github.com/liamashdown/linewatch/internal/ratelimit"
	"github.com/liamashdown/linewatch/internal/storage"
)

// Store is the persistence the read API needs
type Store interface {
	Ping(ctx context.Context) error
	GetGame(ctx context.Context, gameID string) (*storage.Game, error)
	GetMovementsForGame(ctx context.Context, gameID string, limit int) ([]storage.LineMovement, error)
	GetMovementsSince(ctx context.Context, sinceTS int64) ([]storage.LineMovement, error)
	GetAlertsForUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]storage.Alert, error)
	CountUnreadAlerts(ctx context.Context, userID string) (int64, error)
	MarkAlertRead(ctx context.Context, alertID int64) (bool, error)
	MarkAllAlertsRead(ctx context.Context, userID string) (int64, error)
	GetWatchlistForUser(ctx context.Context, userID string) ([]storage.WatchEntry, error)
	IsWatched(ctx context.Context, userID, gameID string) (bool, error)
}

// Runner triggers pipeline runs on demand
type Runner interface {
	Run(ctx context.Context) (*pipeline.RunResult, error)
	RunWindow(ctx context.Context, startTS, endTS int64) (*pipeline.RunResult, error)
}

// Handler contains dependencies for HTTP handlers
type Handler struct {
	cfg        *config.Config
	db         Store
	runner     Runner
	runLimiter *ratelimit.Limiter
	log        *logrus.Logger
}

// NewHandler creates a new handler with dependencies
func NewHandler(cfg *config.Config, db Store, runner Runner, log *logrus.Logger) *Handler {
	return &Handler{
		cfg:        cfg,
		db:         db,
		runner:     runner,
		runLimiter: ratelimit.New(cfg.RunTriggerRPS),
		log:        log,
	}
}

// HealthCheck returns the health status of the service
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		metrics.RecordHealthCheck(false)
		h.respondError(w, http.StatusServiceUnavailable, "database unhealthy", err)
		return
	}

	metrics.RecordHealthCheck(true)
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"service":   "linewatch",
	})
}

// GetGameMovements returns a game's movement history in chart order
func (h *Handler) GetGameMovements(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	gameID := chi.URLParam(r, "gameID")
	limit := h.pageSize(r)

	game, err := h.db.GetGame(ctx, gameID)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to retrieve game", err)
		return
	}
	if game == nil {
		h.respondError(w, http.StatusNotFound, "game not found", nil)
		return
	}

	movements, err := h.db.GetMovementsForGame(ctx, gameID, limit)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to retrieve movements", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"game":      game,
		"movements": movements,
		"count":     len(movements),
	})
}

// GetRecentMovements returns movements recorded in the trailing window
// Query params: minutes (default 60)
func (h *Handler) GetRecentMovements(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	minutes := parseIntParam(r, "minutes", 60)
	if minutes < 1 {
		minutes = 1
	}
	sinceTS := time.Now().Add(-time.Duration(minutes) * time.Minute).Unix()

	movements, err := h.db.GetMovementsSince(ctx, sinceTS)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to retrieve movements", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"movements": movements,
		"count":     len(movements),
		"since_ts":  sinceTS,
	})
}

// GetUserAlerts returns a user's alerts newest first
// Query params: unread_only, limit
func (h *Handler) GetUserAlerts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userID := chi.URLParam(r, "userID")
	unreadOnly := r.URL.Query().Get("unread_only") == "true"
	limit := h.pageSize(r)

	alerts, err := h.db.GetAlertsForUser(ctx, userID, unreadOnly, limit)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to retrieve alerts", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// GetUnreadCount returns how many unread alerts a user has
func (h *Handler) GetUnreadCount(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userID := chi.URLParam(r, "userID")

	count, err := h.db.CountUnreadAlerts(ctx, userID)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to count alerts", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"unread_count": count,
	})
}

// MarkAlertRead marks one alert as read
func (h *Handler) MarkAlertRead(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	alertID, err := strconv.ParseInt(chi.URLParam(r, "alertID"), 10, 64)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid alert id", err)
		return
	}

	found, err := h.db.MarkAlertRead(ctx, alertID)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to mark alert read", err)
		return
	}
	if !found {
		h.respondError(w, http.StatusNotFound, "alert not found", nil)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"alert_id": alertID,
		"is_read":  true,
	})
}

// MarkAllAlertsRead marks all of a user's unread alerts as read
func (h *Handler) MarkAllAlertsRead(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userID := chi.URLParam(r, "userID")

	updated, err := h.db.MarkAllAlertsRead(ctx, userID)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to mark alerts read", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"updated": updated,
	})
}

// GetUserWatchlist returns a user's watch entries
func (h *Handler) GetUserWatchlist(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userID := chi.URLParam(r, "userID")

	entries, err := h.db.GetWatchlistForUser(ctx, userID)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to retrieve watchlist", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"watchlist": entries,
		"count":     len(entries),
	})
}

// GetWatchStatus reports whether a user watches a game
func (h *Handler) GetWatchStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userID := chi.URLParam(r, "userID")
	gameID := chi.URLParam(r, "gameID")

	watched, err := h.db.IsWatched(ctx, userID, gameID)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to check watch status", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": userID,
		"game_id": gameID,
		"watched": watched,
	})
}

// runRequest optionally pins the run to an explicit snapshot window
type runRequest struct {
	WindowFrom int64 `json:"window_from"`
	WindowTo   int64 `json:"window_to"`
}

// TriggerRun starts a pipeline run on demand, rate limited so the dashboard
// cannot stampede the database. An explicit window bypasses the checkpoint.
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	if !h.runLimiter.Allow() {
		h.respondError(w, http.StatusTooManyRequests, "run already triggered recently", nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	var req runRequest
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid request body", err)
			return
		}
	}

	var result *pipeline.RunResult
	var err error
	if req.WindowTo > 0 {
		if req.WindowFrom >= req.WindowTo {
			h.respondError(w, http.StatusBadRequest, "window_from must precede window_to", nil)
			return
		}
		result, err = h.runner.RunWindow(ctx, req.WindowFrom, req.WindowTo)
	} else {
		result, err = h.runner.Run(ctx)
	}
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "pipeline run failed", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"run_id":        result.RunID,
		"window_from":   result.WindowFrom,
		"window_to":     result.WindowTo,
		"snapshots":     result.Detection.SnapshotsScanned,
		"movements_new": result.Detection.MovementsNew,
		"duplicates":    result.Detection.MovementsDuplicate,
		"alerts_new":    result.AlertsNew,
	})
}

// Helper functions

func (h *Handler) pageSize(r *http.Request) int {
	limit := parseIntParam(r, "limit", 100)
	if limit < 1 {
		limit = 1
	}
	if limit > h.cfg.APIMaxPageSize {
		limit = h.cfg.APIMaxPageSize
	}
	return limit
}

func parseIntParam(r *http.Request, param string, defaultValue int) int {
	valueStr := r.URL.Query().Get(param)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.WithError(err).Error("Failed to encode response")
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string, err error) {
	if err != nil {
		h.log.WithError(err).Error(message)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := errorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.WithError(err).Error("Failed to encode error response")
	}
}
