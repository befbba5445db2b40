// Package health serves the liveness and readiness endpoints of a vabridge
// process.
//
//   - GET /healthz always answers 200 while the process serves HTTP.
//   - GET /readyz answers 200 only when every [Checker] passes.
//
// Both respond with a JSON object holding a "status" of "ok" or "fail". The
// readiness body also carries a "checks" map keyed by checker name.
//
// Pipeline stages report their state through a [Probe], which is cheaper than
// writing a closure per stage.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// ErrNotReady is what a fresh [Probe] reports before its first [Probe.Set].
var ErrNotReady = errors.New("not ready")

// Checker is a named readiness check. Check returns nil when healthy.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Probe holds the last state reported by a pipeline stage. The zero value is
// not usable; call [NewProbe].
type Probe struct {
	mu  sync.Mutex
	err error
}

// NewProbe returns a probe that reports [ErrNotReady] until [Probe.Set].
func NewProbe() *Probe {
	return &Probe{err: ErrNotReady}
}

// Set records the stage state. A nil err marks it ready.
func (p *Probe) Set(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// Err returns the recorded state.
func (p *Probe) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Checker wraps the probe as a named [Checker].
func (p *Probe) Checker(name string) Checker {
	return Checker{Name: name, Check: func(context.Context) error { return p.Err() }}
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

// New returns a handler evaluating checkers on every /readyz request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs all checkers concurrently, each under a [checkTimeout] deadline
// derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	errs := make([]error, len(h.checkers))
	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			errs[i] = c.Check(ctx)
			return nil
		})
	}
	_ = g.Wait()

	res := result{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	status := http.StatusOK
	for i, c := range h.checkers {
		if errs[i] != nil {
			res.Checks[c.Name] = "fail: " + errs[i].Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
			continue
		}
		res.Checks[c.Name] = "ok"
	}
	writeJSON(w, status, res)
}

// Register adds both routes to mux.
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
