package httpx

import (
	"context"
	"io"
	"net/http"
	"time"
)

// HealthChecker reports broker connectivity.
type HealthChecker interface {
	Health(ctx context.Context) error
}

const healthResponse = `{"status":"ok"}`

const healthCheckTimeout = 2 * time.Second

// healthHandler reports readiness: 200 while the broker answers pings, 503
// otherwise. Supports HEAD for cheap probes.
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			defer cancel()
			if err := checker.Health(ctx); err != nil {
				WriteError(w, ErrorParams{
					Code:    http.StatusServiceUnavailable,
					ErrCode: "bus_unavailable",
					Err:     err,
				})
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodHead {
			return
		}
		if _, err := io.WriteString(w, healthResponse); err != nil {
			// Nothing more to do if the client connection is gone.
			return
		}
	}
}
