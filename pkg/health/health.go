// Package health provides liveness and readiness endpoints.
//
// Every check runs in its own goroutine. A check flips to unhealthy only after
// FailureThreshold consecutive failures and back after SuccessThreshold
// consecutive successes, so a single slow ping does not pull the pod out of
// rotation.
package health

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
	"golang.org/x/sync/errgroup"
)

// CheckFunc returns nil if the checked component is healthy.
type CheckFunc func(ctx context.Context) error

// Kind selects the endpoint a check contributes to.
type Kind int

const (
	// Liveness checks tell whether the process should be restarted.
	Liveness Kind = iota
	// Readiness checks tell whether the process should receive traffic.
	Readiness
)

// Check describes a registered health check.
type Check struct {
	Name string
	Func CheckFunc
	// Timeout bounds one execution. Defaults to one second.
	Timeout time.Duration
	// FailureThreshold defaults to 3, SuccessThreshold to 1.
	FailureThreshold int
	SuccessThreshold int
}

// state is the runtime state of a check. Counters are touched only by the
// check's own goroutine; healthy and lastErr are read by endpoint handlers.
type state struct {
	Check

	healthy atomic.Bool
	lastErr atomic.Pointer[error]

	fails int
	oks   int
}

func (s *state) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	err := s.Func(ctx)
	s.lastErr.Store(&err)
	if err != nil {
		s.oks = 0
		s.fails++
		if s.fails >= s.FailureThreshold {
			s.healthy.Store(false)
		}
		return
	}
	s.fails = 0
	s.oks++
	if s.oks >= s.SuccessThreshold {
		s.healthy.Store(true)
	}
}

// failure returns the reason the check is unhealthy, or "".
func (s *state) failure() string {
	if s.healthy.Load() {
		return ""
	}
	if p := s.lastErr.Load(); p != nil && *p != nil {
		return (*p).Error()
	}
	return "check is unhealthy"
}

// Health aggregates liveness and readiness checks of the service.
type Health struct {
	ready atomic.Bool

	mu     sync.RWMutex
	checks map[Kind][]*state
}

// New creates a Health that reports not ready until SetReady(true).
func New() *Health {
	return &Health{checks: make(map[Kind][]*state)}
}

// Register adds a check. Checks start healthy. Register must be called
// before Run.
func (h *Health) Register(kind Kind, c Check) {
	if c.Timeout <= 0 {
		c.Timeout = time.Second
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 1
	}
	s := &state{Check: c}
	s.healthy.Store(true)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[kind] = append(h.checks[kind], s)
}

// Run executes every check immediately and then at the given interval until
// ctx is done.
func (h *Health) Run(ctx context.Context, interval time.Duration) error {
	h.mu.RLock()
	all := slices.Concat(h.checks[Liveness], h.checks[Readiness])
	h.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, s := range all {
		g.Go(func() error {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				s.run(ctx)
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		})
	}
	return g.Wait()
}

// SetReady marks the service ready once initialization is complete, or not
// ready while draining during shutdown.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the service is marked ready and every readiness
// check passes.
func (h *Health) IsReady() bool {
	return h.ready.Load() && len(h.failures(Readiness)) == 0
}

func (h *Health) failures(kind Kind) map[string]string {
	h.mu.RLock()
	checks := slices.Clone(h.checks[kind])
	h.mu.RUnlock()

	out := make(map[string]string)
	for _, s := range checks {
		if msg := s.failure(); msg != "" {
			out[s.Name] = msg
		}
	}
	return out
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, h.failures(Liveness))
}

// ReadyEndpoint serves /readyz.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failures := h.failures(Readiness)
	if !h.ready.Load() {
		failures["_readiness"] = "service is not ready"
	}
	writeStatus(w, failures)
}

// writeStatus writes {"status":"ok"} with 200, or
// {"status":"unhealthy","checks":{...}} with 503.
func writeStatus(w http.ResponseWriter, failures map[string]string) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("status")
	status := http.StatusOK
	if len(failures) == 0 {
		e.Str("ok")
	} else {
		status = http.StatusServiceUnavailable
		e.Str("unhealthy")
		e.FieldStart("checks")
		e.ObjStart()
		names := make([]string, 0, len(failures))
		for name := range failures {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			e.FieldStart(name)
			e.Str(failures[name])
		}
		e.ObjEnd()
	}
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
