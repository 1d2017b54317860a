package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter counts requests per key.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (Decision, error)
}

// RateLimitConfig configures the RateLimit middleware.
type RateLimitConfig struct {
	// Max is the maximum number of requests allowed per window.
	Max int
	// Window is the duration of each window.
	Window time.Duration
	// KeyFunc extracts the rate limit key from a request.
	// If nil, the client IP address is used.
	KeyFunc func(*http.Request) string
	// Limiter stores the counters. If nil, an in-process SlidingWindow is
	// used, which only limits per replica.
	Limiter Limiter
}

// SlidingWindow is an in-memory sliding window counter. The previous window
// is weighted by how much of it still overlaps the sliding window.
type SlidingWindow struct {
	max    int
	window time.Duration

	mu      sync.Mutex
	entries map[string]*windowEntry
}

type windowEntry struct {
	prevCount float64
	prevStart time.Time
	currCount float64
	currStart time.Time
}

// NewSlidingWindow creates a SlidingWindow allowing max requests per window.
func NewSlidingWindow(max int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		max:     max,
		window:  window,
		entries: make(map[string]*windowEntry),
	}
}

// Allow implements Limiter. It never fails.
func (s *SlidingWindow) Allow(_ context.Context, key string, now time.Time) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		e = &windowEntry{currStart: now.Truncate(s.window)}
		s.entries[key] = e
	}
	if now.Sub(e.currStart) >= s.window {
		e.prevCount, e.prevStart = e.currCount, e.currStart
		e.currCount = 0
		e.currStart = now.Truncate(s.window)
		if now.Sub(e.prevStart) >= 2*s.window {
			e.prevCount = 0
		}
	}

	overlap := max(0, 1-now.Sub(e.currStart).Seconds()/s.window.Seconds())
	effective := e.prevCount*overlap + e.currCount
	d := Decision{ResetAt: e.currStart.Add(s.window)}
	if effective >= float64(s.max) {
		return d, nil
	}

	e.currCount++
	d.Allowed = true
	d.Remaining = max(0, int(float64(s.max)-effective-1))
	return d, nil
}

// Cleanup removes keys whose windows have fully expired.
func (s *SlidingWindow) Cleanup(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, e := range s.entries {
		if now.Sub(e.currStart) >= 2*s.window {
			delete(s.entries, key)
		}
	}
}

// Run evicts expired keys every two windows until ctx is done.
func (s *SlidingWindow) Run(ctx context.Context) error {
	ticker := time.NewTicker(2 * s.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			s.Cleanup(now)
		}
	}
}

// RateLimit enforces a per-key request budget. Every response carries
// X-RateLimit-Limit, X-RateLimit-Remaining and X-RateLimit-Reset. Rejected
// requests get 429 with Retry-After. When the limiter fails the request is
// let through.
func RateLimit(cfg RateLimitConfig) Middleware {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP
	}
	if cfg.Limiter == nil {
		cfg.Limiter = NewSlidingWindow(cfg.Max, cfg.Window)
	}
	limit := strconv.Itoa(cfg.Max)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			now := time.Now()
			d, err := cfg.Limiter.Allow(ctx, cfg.KeyFunc(r), now)
			if err != nil {
				zctx.From(ctx).Warn("Rate limiter unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
			if !d.Allowed {
				retry := max(0, d.ResetAt.Sub(now))
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
				WriteError(w, http.StatusTooManyRequests, "rate limit exceeded", "RATE_LIMITED")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the first X-Forwarded-For hop, then X-Real-IP, then the
// RemoteAddr host.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
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
