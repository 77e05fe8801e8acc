// Package httpx exposes the pipeline API over HTTP: the trigger endpoint,
// run inspection, the realtime websocket, and health probes.
package httpx

import (
	"log/slog"
	"net/http"

	"github.com/jobsift/pipeline-api/internal/hub"
	"github.com/jobsift/pipeline-api/internal/registry"
	"github.com/jobsift/pipeline-api/internal/trigger"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Trigger  *trigger.Service
	Registry *registry.Registry
	Hub      *hub.Hub
	Health   HealthChecker
	Logger   *slog.Logger
}

// NewRouter creates and configures the HTTP router.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	registerRunRoutes(mux, &RunHandlers{Trigger: services.Trigger, Registry: services.Registry})

	health := healthHandler(services.Health)
	mux.Handle("GET /healthz", health)
	mux.Handle("HEAD /healthz", health)

	mux.Handle("GET /ws", &WSHandler{Hub: services.Hub, Logger: logger})

	var handler http.Handler = mux
	handler = Logging(logger)(handler)
	handler = Recover(logger)(handler)
	return handler
}
