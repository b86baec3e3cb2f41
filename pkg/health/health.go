// Package health serves the /livez and /readyz probe endpoints.
//
// Probes are evaluated at request time under a shared timeout, so /readyz
// reflects the current state of the database and broker rather than a cached
// one. Readiness additionally requires the service to be marked ready via
// SetReady, which lets graceful shutdown flip /readyz to 503 and drain load
// balancer traffic before the listener closes.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Probe reports whether a single dependency is usable.
// A nil error means healthy.
type Probe func(ctx context.Context) error

type entry struct {
	name  string
	probe Probe
}

// Registry holds the registered probes and the manual readiness gate.
// The zero readiness state is "not ready"; call SetReady(true) once
// initialization finishes.
type Registry struct {
	timeout time.Duration
	ready   atomic.Bool

	mu        sync.RWMutex
	liveness  []entry
	readiness []entry
}

// New returns a Registry whose probes run with the given per-probe timeout.
func New(timeout time.Duration) *Registry {
	return &Registry{timeout: timeout}
}

// AddLive registers a liveness probe, consulted by Live. Liveness probes
// should detect a wedged process (goroutine leaks, deadlocks), not
// dependency outages.
func (g *Registry) AddLive(name string, p Probe) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.liveness = append(g.liveness, entry{name: name, probe: p})
}

// AddReady registers a readiness probe, consulted by Ready. Readiness probes
// cover dependencies the service cannot serve without, such as Postgres.
func (g *Registry) AddReady(name string, p Probe) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.readiness = append(g.readiness, entry{name: name, probe: p})
}

// SetReady flips the manual readiness gate.
func (g *Registry) SetReady(ok bool) {
	g.ready.Store(ok)
}

// Live handles GET /livez.
func (g *Registry) Live(w http.ResponseWriter, r *http.Request) {
	g.mu.RLock()
	probes := append([]entry(nil), g.liveness...)
	g.mu.RUnlock()

	writeReport(w, g.evaluate(r.Context(), probes))
}

// Ready handles GET /readyz.
func (g *Registry) Ready(w http.ResponseWriter, r *http.Request) {
	g.mu.RLock()
	probes := append([]entry(nil), g.readiness...)
	g.mu.RUnlock()

	failures := g.evaluate(r.Context(), probes)
	if !g.ready.Load() {
		failures["service"] = "not accepting traffic"
	}
	writeReport(w, failures)
}

// evaluate runs each probe under the registry timeout and collects failures
// by probe name.
func (g *Registry) evaluate(ctx context.Context, probes []entry) map[string]string {
	failures := make(map[string]string)
	for _, e := range probes {
		probeCtx, cancel := context.WithTimeout(ctx, g.timeout)
		err := e.probe(probeCtx)
		cancel()
		if err != nil {
			failures[e.name] = err.Error()
		}
	}
	return failures
}

type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func writeReport(w http.ResponseWriter, failures map[string]string) {
	resp := report{Status: "ok"}
	code := http.StatusOK
	if len(failures) > 0 {
		resp.Status = "unhealthy"
		resp.Checks = failures
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
