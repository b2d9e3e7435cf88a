// Package health provides HTTP health, readiness and diagnostics handlers.
//
// The package exposes these endpoints:
//
//   - /healthz: liveness check; always returns 200 OK.
//   - /readyz: readiness check; returns 200 only when every critical
//     [Checker] passes. Non-critical checkers are reported as warnings.
//   - any number of JSON reports added with [Handler.AddReport], e.g. the
//     summarisation engine health at /health/engines.
//
// Responses are JSON objects with a top-level "status" field ("ok" or "fail")
// and a "checks" map containing the result of each named checker.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// checkTimeout is the maximum time a single readiness check may take before
// the context is cancelled.
const checkTimeout = 5 * time.Second

// Checker is a named health check function. The Check function should return
// nil when the dependency is healthy and a non-nil error describing the
// failure otherwise.
type Checker struct {
	// Name is a short label for this check (e.g. "store", "engines"). It
	// appears as a key in the JSON response.
	Name string

	// Check tests the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error

	// Warn marks a failure as degraded service rather than unreadiness.
	Warn bool
}

// result is the JSON response body for health endpoints.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

type report struct {
	path string
	fn   func(ctx context.Context) any
}

// Handler serves the health endpoints. Checkers are fixed at construction;
// reports must be added before [Handler.Register].
type Handler struct {
	checkers []Checker
	reports  []report
}

// New creates a [Handler] that evaluates the given checkers on each /readyz
// request. Checkers run concurrently.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// AddReport serves the JSON encoding of fn's result at path.
func (h *Handler) AddReport(path string, fn func(ctx context.Context) any) {
	h.reports = append(h.reports, report{path: path, fn: fn})
}

// Healthz is a liveness check that always returns 200 OK. A running process
// that can serve HTTP is considered alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz is a readiness check that returns 200 only when every critical
// [Checker] passes. Each checker is given a context with a [checkTimeout]
// deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	errs := make([]error, len(h.checkers))
	var wg sync.WaitGroup
	for i, c := range h.checkers {
		wg.Go(func() {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			errs[i] = c.Check(ctx)
		})
	}
	wg.Wait()

	checks := make(map[string]string, len(h.checkers))
	ready := true
	for i, c := range h.checkers {
		switch err := errs[i]; {
		case err == nil:
			checks[c.Name] = "ok"
		case c.Warn:
			checks[c.Name] = "warn: " + err.Error()
		default:
			checks[c.Name] = "fail: " + err.Error()
			ready = false
		}
	}

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !ready {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the health routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	for _, rep := range h.reports {
		mux.HandleFunc("GET "+rep.path, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, rep.fn(r.Context()))
		})
	}
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
