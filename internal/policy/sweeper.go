package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// ExpiredSweeper burns expired policies in batches.
type ExpiredSweeper interface {
	SweepExpired(ctx context.Context, limit int) (int, error)
}

// Sweeper periodically burns expired policies so their cover stops counting
// against capacity.
type Sweeper struct {
	target   ExpiredSweeper
	interval time.Duration
	batch    int
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewSweeper creates a sweeper over target.
func NewSweeper(target ExpiredSweeper, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		target:   target,
		interval: interval,
		batch:    100,
		logger:   logger,
		stop:     make(chan struct{}, 1),
	}
}

// SetBatchSize sets how many policies one sweep call burns. Call before
// Start; values <= 0 are ignored.
func (s *Sweeper) SetBatchSize(n int) {
	if n > 0 {
		s.batch = n
	}
}

// Running reports whether the sweep loop is actively running.
func (s *Sweeper) Running() bool {
	return s.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	s.running.Store(true)
	defer s.running.Store(false)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.safeSweep(ctx)
		}
	}
}

// Stop signals the sweeper to stop.
func (s *Sweeper) Stop() {
	select {
	case s.stop <- struct{}{}:
	default:
	}
}

func (s *Sweeper) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in policy sweeper", "panic", fmt.Sprint(r))
		}
	}()
	s.sweep(ctx)
}

// sweep drains expired policies one batch at a time.
func (s *Sweeper) sweep(ctx context.Context) {
	total := 0
	for ctx.Err() == nil {
		n, err := s.target.SweepExpired(ctx, s.batch)
		total += n
		if err != nil {
			s.logger.Warn("failed to sweep expired policies", "burned", total, "error", err)
			return
		}
		if n < s.batch {
			break
		}
	}
	if total > 0 {
		s.logger.Info("burned expired policies", "count", total)
	}
}
