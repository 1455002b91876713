// Package circuitbreaker guards calls to external dependencies (the chain
// RPC endpoint, EIP-1271 signer contracts) with per-key circuit breakers.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
)

// ErrOpen is returned while a key's circuit is open or its half-open probe
// is in flight.
var ErrOpen = errors.New("circuit open")

var cbStateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "solace",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Circuit breaker state transitions by breaker, key, from-state, and to-state.",
}, []string{"breaker", "key", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(cbStateTransitions)
}

// Breaker is a set of circuit breakers sharing one policy, one per key.
// A key trips open after threshold consecutive failures and stays open for
// openDuration before a single probe is let through.
type Breaker struct {
	name         string
	threshold    uint32
	openDuration time.Duration

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// New creates a breaker set. Non-positive arguments select 5 failures and 30s.
func New(name string, threshold int, openDuration time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if openDuration <= 0 {
		openDuration = 30 * time.Second
	}
	return &Breaker{
		name:         name,
		threshold:    uint32(threshold),
		openDuration: openDuration,
		breakers:     make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (b *Breaker) get(key string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok := b.breakers[key]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        key,
		MaxRequests: 1,
		Timeout:     b.openDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= b.threshold
		},
		OnStateChange: func(key string, from, to gobreaker.State) {
			cbStateTransitions.WithLabelValues(b.name, key, from.String(), to.String()).Inc()
		},
		// The caller giving up is not a failure of the dependency.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	b.breakers[key] = cb
	return cb
}

// Execute runs fn unless key's circuit is open.
func (b *Breaker) Execute(key string, fn func() error) error {
	_, err := b.get(key).Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrOpen
	}
	return err
}

// State returns key's state: "closed", "half-open", or "open".
func (b *Breaker) State(key string) string {
	b.mu.Lock()
	cb, ok := b.breakers[key]
	b.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed.String()
	}
	return cb.State().String()
}
