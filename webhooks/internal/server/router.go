package server

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/synergy-rentals/srg-stack/common/logging"
	"github.com/synergy-rentals/srg-stack/common/middleware"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/handlers"
)

// Handlers groups everything the router mounts.
type Handlers struct {
	Webhook     *handlers.WebhookHandler
	Admin       *handlers.AdminHandler
	Health      *handlers.HealthHandler
	AdminAPIKey string
}

// NewRouter constructs a ServeMux with webhook, admin and probe routes.
func NewRouter(h Handlers, logger *slog.Logger) http.Handler {
	logger = logging.OrDiscard(logger)
	mux := http.NewServeMux()

	// Guesty webhooks
	mux.HandleFunc("POST /webhooks/guesty", h.Webhook.HandleGuesty)
	mux.HandleFunc("POST /webhooks/guesty/{accountID}", h.Webhook.HandleGuesty)

	// Admin API
	admin := handlers.RequireAPIKey(h.AdminAPIKey)
	mux.Handle("POST /api/admin/webhook/generate-secret", admin(http.HandlerFunc(h.Admin.GenerateSecret)))
	mux.Handle("POST /api/admin/guesty/test-connection", admin(http.HandlerFunc(h.Admin.TestConnection)))
	mux.Handle("GET /api/admin/webhook/stats", admin(http.HandlerFunc(h.Admin.Stats)))
	mux.Handle("GET /api/admin/webhook/events", admin(http.HandlerFunc(h.Admin.Events)))

	// Health endpoints
	mux.HandleFunc("GET /healthz", h.Health.Health)
	mux.HandleFunc("GET /readyz", h.Health.Ready)

	// Prometheus metrics
	mux.Handle("GET /metrics", promhttp.Handler())

	return middleware.RequestID(middleware.AccessLog(logger)(middleware.Recover(logger)(mux)))
}
