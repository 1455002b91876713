// Package chain provides the clock and address helpers shared by every
// protocol component.
//
// All time gates (policy expiration, claim deadlines, escrow cooldowns) read
// from a single Clock so that comparisons are made against the same notion
// of "now" that the rest of the protocol uses.
package chain

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// NativeAsset identifies the chain's native asset in multi-asset ledgers.
var NativeAsset = common.Address{}

// Clock reports the current block height and block timestamp.
type Clock interface {
	BlockNumber() uint64
	Now() time.Time
}

// IsZero reports whether addr is the zero address.
func IsZero(addr common.Address) bool {
	return addr == (common.Address{})
}

// ManualClock is a Clock advanced explicitly. Used by tests and local devnets.
type ManualClock struct {
	mu    sync.RWMutex
	block uint64
	now   time.Time
}

// NewManualClock creates a clock at the given height and time.
func NewManualClock(block uint64, now time.Time) *ManualClock {
	return &ManualClock{block: block, now: now}
}

func (c *ManualClock) BlockNumber() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.block
}

func (c *ManualClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Mine advances the height by n blocks and the time by n*blockTime.
func (c *ManualClock) Mine(n uint64, blockTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.block += n
	c.now = c.now.Add(time.Duration(n) * blockTime)
}

// AdvanceTime moves the timestamp forward without producing blocks.
func (c *ManualClock) AdvanceTime(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// SetBlock sets the height.
func (c *ManualClock) SetBlock(block uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.block = block
}

// SystemClock derives block height from wall time since a genesis instant.
type SystemClock struct {
	genesis   time.Time
	blockTime time.Duration
}

// NewSystemClock creates a wall-clock backed Clock. blockTime must be positive.
func NewSystemClock(genesis time.Time, blockTime time.Duration) *SystemClock {
	if blockTime <= 0 {
		blockTime = 12 * time.Second
	}
	return &SystemClock{genesis: genesis, blockTime: blockTime}
}

func (c *SystemClock) BlockNumber() uint64 {
	elapsed := time.Since(c.genesis)
	if elapsed < 0 {
		return 0
	}
	return uint64(elapsed / c.blockTime)
}

func (c *SystemClock) Now() time.Time {
	return time.Now().UTC()
}
