// Package ratelimit throttles API clients with one token bucket per key.
//
// Signed requests are keyed by the claimed caller address, anonymous ones by
// client IP. The address is not verified at this point; it only picks a
// bucket, and a forged address spends the victim's tokens at worst.
package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/solace-fi/coverage/internal/auth"
)

// Config sets the per-key bucket.
type Config struct {
	RequestsPerSecond float64       // sustained rate
	BurstSize         int           // bucket depth; <= 0 means ceil(rate)
	IdleTTL           time.Duration // buckets unused this long are dropped
}

// DefaultConfig allows 10 rps with bursts of 20.
func DefaultConfig() Config {
	return Config{RequestsPerSecond: 10, BurstSize: 20, IdleTTL: 5 * time.Minute}
}

type bucket struct {
	*rate.Limiter
	lastSeen time.Time
}

// Limiter maps keys to buckets and evicts idle ones in the background.
type Limiter struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket

	done     chan struct{}
	stopOnce sync.Once
}

// New starts a limiter. Call Stop to end its eviction loop.
func New(cfg Config) *Limiter {
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = int(math.Max(1, math.Ceil(cfg.RequestsPerSecond)))
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultConfig().IdleTTL
	}
	l := &Limiter{
		cfg:     cfg,
		now:     time.Now,
		buckets: make(map[string]*bucket),
		done:    make(chan struct{}),
	}
	go l.evictLoop()
	return l
}

func (l *Limiter) evictLoop() {
	t := time.NewTicker(l.cfg.IdleTTL)
	defer t.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-t.C:
			l.evictIdle()
		}
	}
}

func (l *Limiter) evictIdle() {
	cutoff := l.now().Add(-l.cfg.IdleTTL)
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}

// Stop ends the eviction loop. Repeated calls are no-ops.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.done) })
}

func (l *Limiter) bucket(key string, now time.Time) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{Limiter: rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.BurstSize)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b
}

// Allow takes a token for key if one is available.
func (l *Limiter) Allow(key string) bool {
	ok, _ := l.Take(key)
	return ok
}

// Take takes a token for key. When none is available it reports how long
// until one is.
func (l *Limiter) Take(key string) (bool, time.Duration) {
	now := l.now()
	r := l.bucket(key, now).ReserveN(now, 1)
	if !r.OK() {
		return false, time.Duration(math.MaxInt64)
	}
	if wait := r.DelayFrom(now); wait > 0 {
		r.CancelAt(now)
		return false, wait
	}
	return true, 0
}

// Len reports how many buckets are tracked.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Key selects the bucket of a request.
func Key(c *gin.Context) string {
	if addr := c.GetHeader(auth.HeaderAddress); addr != "" {
		return "caller:" + strings.ToLower(addr)
	}
	return "ip:" + c.ClientIP()
}

// Middleware rejects requests over the limit with 429 and a Retry-After
// header in whole seconds.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, wait := l.Take(Key(c))
		if ok {
			c.Next()
			return
		}
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":   "rate_limit_exceeded",
			"message": "Too many requests. Please slow down.",
		})
	}
}

func retryAfterSeconds(wait time.Duration) int {
	const maxRetryAfter = 3600
	secs := math.Ceil(wait.Seconds())
	switch {
	case secs < 1:
		return 1
	case secs > maxRetryAfter:
		return maxRetryAfter
	}
	return int(secs)
}
