// Package health serves the liveness and readiness probes of watch mode.
//
//   - /healthz reports that the process can serve HTTP.
//   - /readyz runs every registered [Checker] and answers 503 when any fails.
//
// Both answer with a JSON object carrying "status" ("ok" or "fail") and, for
// /readyz, a "checks" map with one entry per checker.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/resilience"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness probe. Check returns nil when the dependency
// is usable.
type Checker struct {
	// Name keys the result in the "checks" map (e.g. "metadata", "llm").
	Name string

	// Check must honour ctx cancellation.
	Check func(ctx context.Context) error
}

// Pinger is anything with a connectivity probe. Every chatmeta backend
// implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker reports p's Ping result under name.
func PingChecker(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// ErrAllCircuitsOpen is returned by a [BreakerChecker] when no summary model
// would currently accept a request.
var ErrAllCircuitsOpen = errors.New("health: every model circuit is open")

// BreakerChecker fails only when every breaker reported by status is open.
// A half-open breaker still admits probes and counts as usable.
func BreakerChecker(name string, status func() []resilience.BreakerStatus) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		st := status()
		if len(st) == 0 {
			return nil
		}
		open := make([]string, 0, len(st))
		for _, s := range st {
			if s.State != resilience.StateOpen {
				return nil
			}
			open = append(open, s.Name)
		}
		return fmt.Errorf("%w (%s)", ErrAllCircuitsOpen, strings.Join(open, ", "))
	}}
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction.
type Handler struct {
	checkers []Checker
}

// New returns a [Handler] over checkers.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs every checker concurrently, each under a [checkTimeout]
// deadline derived from the request, and answers 200 only when all pass.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		allOK = true
	)
	for _, c := range h.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				allOK = false
				return
			}
			checks[c.Name] = "ok"
		}()
	}
	wg.Wait()

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
