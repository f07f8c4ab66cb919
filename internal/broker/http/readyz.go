package http

import (
	"net/http"
	"time"

	"github.com/matric-platform/secretbroker/internal/broker/store"
	"github.com/matric-platform/secretbroker/pkg/brokersdk"
	"github.com/matric-platform/secretbroker/pkg/httpx"
)

// ReadyzHandler reports readiness: the audit database must be reachable and
// the broker must hold an unexpired store token. A broker without a token
// would force a refresh on the first data request, so consumers should wait
// for readiness before routing traffic.
func ReadyzHandler(
	startTime time.Time,
	version string,
	st store.Store,
	broker SecretBroker,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := &brokersdk.HealthChecks{
			Database: "ok",
			Token:    "ok",
		}
		overallStatus := "ok"
		statusCode := http.StatusOK

		if err := st.Ping(r.Context()); err != nil {
			checks.Database = "error: " + err.Error()
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		if !broker.HasValidToken() {
			checks.Token = "error: no valid store token"
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		response := brokersdk.HealthResponse{
			Status:  overallStatus,
			Uptime:  time.Since(startTime).String(),
			Version: version,
			Checks:  checks,
		}
		httpx.WriteJSON(w, statusCode, response)
	}
}
