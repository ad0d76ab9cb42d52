package handlers

import (
	"context"
	"net/http"
	"time"

	"eventbuddy/pkg/logging"
)

// Check reports whether one dependency is reachable.
type Check func(ctx context.Context) error

type HealthHandler struct {
	checks map[string]Check
}

func NewHealthHandler(checks map[string]Check) *HealthHandler {
	return &HealthHandler{checks: checks}
}

func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := http.StatusOK
	body := map[string]string{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			logging.FromContext(ctx).WarnContext(ctx, "health handler - check - failed", "check", name, logging.Err(err))
			body[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		body[name] = "up"
	}
	writeJSON(w, status, body)
}
