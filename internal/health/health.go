// Package health runs named subsystem checks for the readiness endpoint.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultTimeout bounds a single check.
const DefaultTimeout = 3 * time.Second

// Status represents the health of a single subsystem.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Checker checks one subsystem. It returns nil when healthy; a non-nil
// error becomes the status detail.
type Checker func(ctx context.Context) error

// Registry holds named health checkers and runs them on demand.
type Registry struct {
	timeout  time.Duration
	mu       sync.RWMutex
	checkers []namedChecker
}

type namedChecker struct {
	name  string
	check Checker
}

// NewRegistry creates a registry whose checks are each bounded by timeout
// (DefaultTimeout when zero).
func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Registry{timeout: timeout}
}

// Register adds a named health checker.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	r.checkers = append(r.checkers, namedChecker{name: name, check: check})
	r.mu.Unlock()
}

// CheckAll runs every checker concurrently and returns the aggregate
// health plus per-subsystem results in registration order.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	checkers := make([]namedChecker, len(r.checkers))
	copy(checkers, r.checkers)
	r.mu.RUnlock()

	statuses = make([]Status, len(checkers))
	var wg sync.WaitGroup
	for i, nc := range checkers {
		wg.Add(1)
		go func(i int, nc namedChecker) {
			defer wg.Done()
			statuses[i] = r.run(ctx, nc)
		}(i, nc)
	}
	wg.Wait()

	healthy = true
	for _, s := range statuses {
		if !s.Healthy {
			healthy = false
		}
	}
	return healthy, statuses
}

func (r *Registry) run(ctx context.Context, nc namedChecker) (st Status) {
	st.Name = nc.name
	defer func() {
		if rec := recover(); rec != nil {
			st.Healthy = false
			st.Detail = fmt.Sprintf("check panicked: %v", rec)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- nc.check(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			st.Detail = err.Error()
			return st
		}
		st.Healthy = true
		return st
	case <-ctx.Done():
		st.Detail = "timed out"
		return st
	}
}

// Pinger is implemented by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Ping checks a database connection.
func Ping(p Pinger) Checker {
	return p.PingContext
}

// Clock is the subset of chain.Clock a freshness check needs.
type Clock interface {
	Now() time.Time
}

// Fresh reports unhealthy when clock's time lags wall time by more than maxLag.
func Fresh(clock Clock, maxLag time.Duration) Checker {
	return func(context.Context) error {
		lag := time.Since(clock.Now())
		if lag > maxLag {
			return fmt.Errorf("chain head is %s behind", lag.Round(time.Second))
		}
		return nil
	}
}
