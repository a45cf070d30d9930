// Package health exposes a liveness/readiness endpoint over the process's
// critical dependencies.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Checker reports whether one dependency is reachable.
type Checker func(ctx context.Context) error

// Handler aggregates dependency checks into a single readiness endpoint.
type Handler struct {
	checks map[string]Checker
}

// NewHandler creates a health handler with the given named checks.
func NewHandler(checks map[string]Checker) *Handler {
	return &Handler{checks: checks}
}

type response struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// ServeHTTP runs all checks with a short deadline and reports per-dependency
// status. Any failing check makes the endpoint return 503.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := response{Status: "ok", Checks: make(map[string]string, len(h.checks))}
	code := http.StatusOK

	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			resp.Status = "degraded"
			resp.Checks[name] = err.Error()
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
