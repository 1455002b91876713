// Package watcher follows the chain head over JSON-RPC.
//
// A Watcher is a chain.Clock whose block height and timestamp come from the
// latest header of a real chain, so policy expirations, claim deadlines, and
// escrow cooldowns track the network instead of the host clock.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/solace-fi/coverage/internal/circuitbreaker"
	"github.com/solace-fi/coverage/internal/metrics"
	"github.com/solace-fi/coverage/internal/retry"
)

const breakerKey = "head"

// HeaderSource fetches block headers. *ethclient.Client implements it.
type HeaderSource interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// Config for the head watcher
type Config struct {
	PollInterval time.Duration
	Retry        retry.Policy
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		PollInterval: 4 * time.Second,
		Retry:        retry.RPC,
	}
}

// Watcher polls the latest header and serves it as a chain.Clock.
type Watcher struct {
	src     HeaderSource
	config  Config
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger

	mu    sync.RWMutex
	block uint64
	time  time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// New creates a watcher over src.
func New(src HeaderSource, cfg Config, logger *slog.Logger) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	return &Watcher{
		src:     src,
		config:  cfg,
		breaker: circuitbreaker.New("rpc", 5, 30*time.Second),
		logger:  logger,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Dial connects to rpcURL and returns a watcher plus a close function.
func Dial(rpcURL string, cfg Config, logger *slog.Logger) (*Watcher, func(), error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}
	return New(client, cfg, logger), client.Close, nil
}

// BlockNumber returns the latest synced block height.
func (w *Watcher) BlockNumber() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.block
}

// Now returns the timestamp of the latest synced block.
func (w *Watcher) Now() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.time
}

// Synced reports whether at least one header has been read.
func (w *Watcher) Synced() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return !w.time.IsZero()
}

// Sync fetches the latest header once. A header lower than the current
// head is ignored so the clock never runs backwards across a reorg.
func (w *Watcher) Sync(ctx context.Context) error {
	var head *types.Header
	policy := w.config.Retry
	policy.OnRetry = func(attempt int, err error) {
		w.logger.Debug("head fetch failed, retrying", "attempt", attempt, "error", err)
	}
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		err := w.breaker.Execute(breakerKey, func() error {
			h, err := w.src.HeaderByNumber(ctx, nil)
			if err != nil {
				return err
			}
			head = h
			return nil
		})
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to fetch head: %w", err)
	}
	if head == nil || head.Number == nil {
		return errors.New("rpc returned an empty header")
	}

	number := head.Number.Uint64()
	w.mu.Lock()
	defer w.mu.Unlock()
	if number < w.block {
		w.logger.Warn("ignoring lower head", "head", number, "current", w.block)
		return nil
	}
	if number > w.block {
		w.logger.Debug("head advanced", "from", w.block, "to", number)
	}
	w.block = number
	w.time = time.Unix(int64(head.Time), 0).UTC() //nolint:gosec // header times fit in int64
	metrics.ChainHeadBlock.Set(float64(number))
	return nil
}

// Start syncs the first header and begins polling. It fails if the first
// sync fails, so the protocol never starts on a zero clock.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.Sync(ctx); err != nil {
		return err
	}
	w.logger.Info("head watcher started", "block", w.BlockNumber(), "interval", w.config.PollInterval)
	w.startOnce.Do(func() { go w.pollLoop(ctx) })
	return nil
}

// Stop stops polling and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	// Never started: close done ourselves and block any later Start.
	w.startOnce.Do(func() { close(w.done) })
	<-w.done
}

func (w *Watcher) pollLoop(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			if err := w.Sync(ctx); err != nil && ctx.Err() == nil {
				w.logger.Error("head sync failed", "error", err, "breaker", w.breaker.State(breakerKey))
			}
		}
	}
}
