package httpmiddleware

import (
	"context"
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig configures the per-client sliding window rate limiter.
type RateLimitConfig struct {
	// Max is the number of requests allowed per window.
	Max int
	// Window is the sliding window duration.
	Window time.Duration
	// KeyFunc derives the limiter key from a request. Nil means client IP.
	KeyFunc func(*http.Request) string
}

// clientWindow tracks one client's request counts across the current window
// and the one before it. The sliding estimate weights the previous window by
// its remaining overlap, which smooths the boundary without storing
// per-request timestamps.
type clientWindow struct {
	prevCount float64
	prevStart time.Time
	currCount float64
	currStart time.Time
}

func (c *clientWindow) rotate(now time.Time, window time.Duration) {
	if now.Sub(c.currStart) < window {
		return
	}
	c.prevCount, c.prevStart = c.currCount, c.currStart
	c.currCount = 0
	c.currStart = now.Truncate(window)
	if now.Sub(c.prevStart) >= 2*window {
		c.prevCount = 0
	}
}

func (c *clientWindow) estimate(now time.Time, window time.Duration) float64 {
	overlap := 1.0 - now.Sub(c.currStart).Seconds()/window.Seconds()
	if overlap < 0 {
		overlap = 0
	}
	return c.prevCount*overlap + c.currCount
}

type rateLimiter struct {
	cfg     RateLimitConfig
	mu      sync.Mutex
	clients map[string]*clientWindow
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = clientIP
	}
	return &rateLimiter{cfg: cfg, clients: make(map[string]*clientWindow)}
}

// allow records the request against key and reports whether it fits in the
// window, along with the remaining budget and the window reset time.
func (rl *rateLimiter) allow(key string, now time.Time) (remaining int, resetAt time.Time, ok bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	c, found := rl.clients[key]
	if !found {
		c = &clientWindow{currStart: now}
		rl.clients[key] = c
	}
	c.rotate(now, rl.cfg.Window)

	resetAt = c.currStart.Add(rl.cfg.Window)
	used := c.estimate(now, rl.cfg.Window)
	if used >= float64(rl.cfg.Max) {
		return 0, resetAt, false
	}

	c.currCount++
	remaining = int(float64(rl.cfg.Max) - used - 1)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, resetAt, true
}

// evict drops clients idle for two full windows.
func (rl *rateLimiter) evict(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, c := range rl.clients {
		if now.Sub(c.currStart) >= 2*rl.cfg.Window {
			delete(rl.clients, key)
		}
	}
}

// RateLimit enforces a per-key sliding window limit. Every response carries
// X-RateLimit-Limit, X-RateLimit-Remaining, and X-RateLimit-Reset; rejected
// requests get 429 with the standard error envelope and a Retry-After hint.
//
// This variant never evicts idle clients. Prefer RateLimitWithCleanup on
// long-running servers.
func RateLimit(cfg RateLimitConfig) Middleware {
	return newRateLimiter(cfg).middleware()
}

// RateLimitWithCleanup is RateLimit plus a background goroutine that evicts
// idle clients every two windows until ctx is cancelled.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	rl := newRateLimiter(cfg)
	go func() {
		ticker := time.NewTicker(2 * rl.cfg.Window)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				rl.evict(now)
			}
		}
	}()
	return rl.middleware()
}

func (rl *rateLimiter) middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			remaining, resetAt, ok := rl.allow(rl.cfg.KeyFunc(r), time.Now())

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.cfg.Max))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

			if !ok {
				retryAfter := math.Ceil(time.Until(resetAt).Seconds())
				if retryAfter < 0 {
					retryAfter = 0
				}
				w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter)))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"success": false,
					"message": "rate limit exceeded",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP resolves the caller's address, trusting X-Forwarded-For and
// X-Real-IP from the reverse proxy before falling back to RemoteAddr.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
