package gateway

import (
	"net/http"
	"time"
)

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status        string  `json:"status"` // "ok" or "starting"
	UptimeSeconds float64 `json:"uptime_seconds"`
	EngineReady   bool    `json:"engine_ready"`
}

// handleHealth returns an http.HandlerFunc for GET /health.
// Returns 200 once the engine is assembled, 503 before that.
func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		_, ready := g.engine()

		resp := HealthResponse{
			Status:        "ok",
			UptimeSeconds: time.Since(g.startedAt).Seconds(),
			EngineReady:   ready,
		}
		code := http.StatusOK
		if !ready {
			resp.Status = "starting"
			code = http.StatusServiceUnavailable
		}

		writeJSON(w, code, resp)
	}
}
