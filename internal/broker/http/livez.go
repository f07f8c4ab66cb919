package http

import (
	"net/http"
	"time"

	"github.com/matric-platform/secretbroker/pkg/brokersdk"
	"github.com/matric-platform/secretbroker/pkg/httpx"
)

// LivezHandler reports basic process liveness. It always returns 200 OK
// while the service is running.
func LivezHandler(startTime time.Time, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := brokersdk.HealthResponse{
			Status:  "ok",
			Uptime:  time.Since(startTime).String(),
			Version: version,
		}
		httpx.WriteJSON(w, http.StatusOK, response)
	}
}
