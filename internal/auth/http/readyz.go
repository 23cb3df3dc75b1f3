package http

import (
	"net/http"
	"time"

	"github.com/notevault/auth/internal/auth/store"
	"github.com/notevault/auth/pkg/httpx"
	"github.com/notevault/auth/pkg/jwtx"
)

// ReadyzHandler is the readiness probe: checks database connectivity and
// that at least one signing key is loaded.
func ReadyzHandler(
	startTime time.Time,
	version string,
	st store.Store,
	kc *jwtx.KeyChain,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := &HealthChecks{
			Database: "ok",
			Signer:   "ok",
		}
		overallStatus := "ok"
		statusCode := http.StatusOK

		if err := st.Ping(r.Context()); err != nil {
			checks.Database = "error: " + err.Error()
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		if !kc.KeySet().IsReady() {
			checks.Signer = "error: no keys loaded"
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		httpx.WriteJSON(w, statusCode, HealthResponse{
			Status:  overallStatus,
			Uptime:  time.Since(startTime).String(),
			Version: version,
			Checks:  checks,
		})
	}
}
