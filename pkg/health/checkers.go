package health

import (
	"context"
	"runtime"

	"github.com/go-faster/errors"
)

// Pinger is satisfied by *pgxpool.Pool and anything else exposing a
// context-aware ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping adapts a Pinger into a readiness Probe.
func Ping(p Pinger) Probe {
	return p.Ping
}

// Goroutines reports unhealthy when the process holds more than max
// goroutines. Useful as a liveness probe to catch leaks.
func Goroutines(max int) Probe {
	return func(_ context.Context) error {
		if n := runtime.NumGoroutine(); n > max {
			return errors.Errorf("%d goroutines, limit %d", n, max)
		}
		return nil
	}
}
