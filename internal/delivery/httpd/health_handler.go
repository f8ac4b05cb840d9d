package httpd

import (
	"context"
	"net/http"
	"time"
)

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   "submission-service",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{"database": "ok"}
	status, state := http.StatusOK, "ready"

	if err := h.pinger.Ping(ctx); err != nil {
		h.logger.Error().Err(err).Msg("Readiness check failed")
		checks["database"] = "unavailable"
		status, state = http.StatusServiceUnavailable, "not ready"
	}

	response := map[string]interface{}{
		"status":    state,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.stats != nil {
		response["scoring"] = h.stats()
	}

	writeJSON(w, status, response)
}
