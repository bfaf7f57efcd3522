// Package health provides the HTTP liveness and readiness probes for the
// tankd server.
//
//   - /healthz — liveness; returns 200 with process uptime as long as the
//     HTTP server can respond.
//   - /readyz  — readiness; returns 200 only when every registered [Check]
//     passes, 503 otherwise.
//
// Responses are JSON objects with a top-level "status" field ("ok" or "fail")
// and, for readiness, a "checks" map with the per-check outcome.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Check probes one dependency (provider reachability, tool registry, …).
// It must respect context cancellation and return nil when healthy.
type Check func(ctx context.Context) error

// Handler serves the health endpoints. Checks are fixed at construction;
// the handler itself is stateless and safe for concurrent use.
type Handler struct {
	started time.Time
	checks  map[string]Check
	order   []string
}

// New creates a Handler with no checks registered. Uptime is measured from
// this call.
func New() *Handler {
	return &Handler{
		started: time.Now(),
		checks:  make(map[string]Check),
	}
}

// AddCheck registers a named readiness check. Re-registering a name replaces
// the previous check. Not safe to call after the handler starts serving.
func (h *Handler) AddCheck(name string, check Check) {
	if _, ok := h.checks[name]; !ok {
		h.order = append(h.order, name)
	}
	h.checks[name] = check
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

type response struct {
	Status string            `json:"status"`
	Uptime string            `json:"uptime,omitempty"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Healthz is the liveness probe. A process that can serve HTTP is alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, response{
		Status: "ok",
		Uptime: time.Since(h.started).Round(time.Second).String(),
	})
}

// Readyz is the readiness probe. Checks run sequentially in registration
// order, each under a [checkTimeout] deadline derived from the request
// context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	results := make(map[string]string, len(h.checks))
	status := http.StatusOK
	res := response{Status: "ok"}

	for _, name := range h.order {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := h.checks[name](ctx)
		cancel()

		if err != nil {
			results[name] = "fail: " + err.Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
		} else {
			results[name] = "ok"
		}
	}

	res.Checks = results
	writeJSON(w, status, res)
}

// writeJSON encodes v with the given status code. On encoding failure it
// falls back to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
