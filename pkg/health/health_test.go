package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthyProbe(_ context.Context) error { return nil }

func brokenProbe(msg string) Probe {
	return func(_ context.Context) error { return errors.New(msg) }
}

func decodeReport(t *testing.T, w *httptest.ResponseRecorder) report {
	t.Helper()
	var body report
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

func TestLive_AllHealthy(t *testing.T) {
	g := New(time.Second)
	g.AddLive("goroutines", healthyProbe)

	w := httptest.NewRecorder()
	g.Live(w, httptest.NewRequest(http.MethodGet, "/livez", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "ok", decodeReport(t, w).Status)
}

func TestLive_NoProbes(t *testing.T) {
	g := New(time.Second)

	w := httptest.NewRecorder()
	g.Live(w, httptest.NewRequest(http.MethodGet, "/livez", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLive_FailingProbe(t *testing.T) {
	g := New(time.Second)
	g.AddLive("goroutines", brokenProbe("too many goroutines"))

	w := httptest.NewRecorder()
	g.Live(w, httptest.NewRequest(http.MethodGet, "/livez", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decodeReport(t, w)
	assert.Equal(t, "unhealthy", body.Status)
	assert.Equal(t, "too many goroutines", body.Checks["goroutines"])
}

func TestReady_GateClosed(t *testing.T) {
	g := New(time.Second)
	g.AddReady("postgres", healthyProbe)

	// SetReady(true) was never called.
	w := httptest.NewRecorder()
	g.Ready(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, decodeReport(t, w).Checks, "service")
}

func TestReady_GateReopens(t *testing.T) {
	g := New(time.Second)
	g.AddReady("postgres", healthyProbe)
	g.SetReady(true)

	w := httptest.NewRecorder()
	g.Ready(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	// Shutdown flips the gate back.
	g.SetReady(false)
	w = httptest.NewRecorder()
	g.Ready(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestReady_OneDependencyDown(t *testing.T) {
	g := New(time.Second)
	g.AddReady("postgres", healthyProbe)
	g.AddReady("rabbitmq", brokenProbe("connection refused"))
	g.SetReady(true)

	w := httptest.NewRecorder()
	g.Ready(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decodeReport(t, w)
	assert.Equal(t, "connection refused", body.Checks["rabbitmq"])
	assert.NotContains(t, body.Checks, "postgres")
}

func TestEvaluate_ProbeTimeout(t *testing.T) {
	g := New(10 * time.Millisecond)
	g.AddReady("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	g.SetReady(true)

	start := time.Now()
	w := httptest.NewRecorder()
	g.Ready(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Less(t, time.Since(start), time.Second)
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func TestPing(t *testing.T) {
	assert.NoError(t, Ping(stubPinger{})(context.Background()))

	down := stubPinger{err: errors.New("pool closed")}
	assert.EqualError(t, Ping(down)(context.Background()), "pool closed")
}

func TestGoroutines(t *testing.T) {
	assert.NoError(t, Goroutines(100000)(context.Background()))

	err := Goroutines(0)(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "limit 0")
}
