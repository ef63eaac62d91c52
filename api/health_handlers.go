package api

import (
	"context"
	"net/http"
	"time"
)

const healthCheckTimeout = 5 * time.Second

type healthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Checks:    map[string]string{},
	}

	if a.healthCheck != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		if err := a.healthCheck(ctx); err != nil {
			a.logger.Warnw("Health check failed",
				"error", err,
				"request_id", RequestIDFromContext(r.Context()),
			)
			resp.Status = "degraded"
			resp.Checks["storage"] = "fail"
			a.respondJSON(w, resp, http.StatusServiceUnavailable)
			return
		}
		resp.Checks["storage"] = "ok"
	}

	a.respondJSON(w, resp, http.StatusOK)
}
