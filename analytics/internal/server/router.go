package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/numberoneson/nos-analytics/analytics/internal/handlers"
	"github.com/numberoneson/nos-analytics/common/logging"
	"github.com/numberoneson/nos-analytics/common/middleware"
)

// NewRouter constructs a ServeMux with the analytics API routes registered.
// CORS applies to the collection endpoint only.
func NewRouter(h *handlers.Handler, allowedOrigins []string, logger *logging.Logger) http.Handler {
	mux := http.NewServeMux()

	cors := middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	collect := cors(http.HandlerFunc(h.Collect))
	mux.Handle("POST /api/collect", collect)
	mux.Handle("OPTIONS /api/collect", collect)

	// Dashboard authentication
	mux.HandleFunc("POST /api/auth", h.Login)
	mux.HandleFunc("POST /api/logout", h.Logout)

	// Dashboard data
	mux.HandleFunc("GET /api/dashboard", h.RequireAuth(h.Dashboard))
	mux.HandleFunc("GET /api/dashboard/{site}", h.RequireAuth(h.SiteDashboard))
	mux.HandleFunc("GET /api/errors/{site}", h.RequireAuth(h.Errors))
	mux.HandleFunc("GET /api/audit", h.RequireAuth(h.Audit))

	// Dead letter queue
	mux.HandleFunc("GET /api/dlq", h.RequireAuth(h.DLQ))
	mux.HandleFunc("DELETE /api/dlq/{id}", h.RequireAuth(h.DeleteDLQEntry))
	mux.HandleFunc("POST /api/dlq/purge", h.RequireAuth(h.PurgeDLQ))

	// Operations
	mux.HandleFunc("GET /api/cron/cleanup", h.Cleanup)
	mux.HandleFunc("GET /api/health", h.Health)
	mux.Handle("GET /metrics", promhttp.Handler())

	if logger == nil {
		logger = logging.Discard()
	}
	return middleware.RequestID(middleware.AccessLog(logger.Logger)(mux))
}
