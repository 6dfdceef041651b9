package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/pmrelay/pmrelay/internal/api/recovery"
)

// NewRouter wires the webhook, health and metrics endpoints.
func NewRouter(log zerolog.Logger, prefix string, webhook *WebhookHandler, health *HealthHandler) *mux.Router {
	router := mux.NewRouter()

	// Global middlewares
	router.Use(RequestLogger(log))
	router.Use(recovery.Middleware)

	router.HandleFunc("/"+prefix+"/{ownerUid}/{botToken}", webhook.HandleUpdate).Methods(http.MethodPost)
	router.HandleFunc("/api/health", health.CheckHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return router
}
