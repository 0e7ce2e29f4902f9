package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/liamashdown/linewatch/internal/config"
	"github.com/liamashdown/linewatch/internal/metrics"
)

// requestMetrics records method/status counts and latency per request
func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		metrics.RecordHTTPRequest(r.Method, ww.Status(), time.Since(start))
	})
}

// NewRouter builds the HTTP router for the read API and run trigger
func NewRouter(cfg *config.Config, handler *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestMetrics)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", handler.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		// Movements
		r.Get("/movements/recent", handler.GetRecentMovements)
		r.Get("/games/{gameID}/movements", handler.GetGameMovements)

		// Alerts
		r.Get("/users/{userID}/alerts", handler.GetUserAlerts)
		r.Get("/users/{userID}/alerts/unread-count", handler.GetUnreadCount)
		r.Post("/users/{userID}/alerts/read-all", handler.MarkAllAlertsRead)
		r.Post("/alerts/{alertID}/read", handler.MarkAlertRead)

		// Watchlist
		r.Get("/users/{userID}/watchlist", handler.GetUserWatchlist)
		r.Get("/users/{userID}/watchlist/{gameID}", handler.GetWatchStatus)

		// On-demand pipeline run
		r.Post("/runs", handler.TriggerRun)
	})

	return r
}
