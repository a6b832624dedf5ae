// Package ratelimit enforces per-webhook delivery budgets per minute and
// per hour.
package ratelimit

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// DefaultCacheSize bounds the number of webhooks tracked at once.
const DefaultCacheSize = 4096

// Config sets the budgets. A non-positive budget is unlimited.
type Config struct {
	Enabled   bool
	PerMinute int
	PerHour   int
}

// Limiter holds a pair of token buckets per webhook. Buckets of webhooks not
// seen recently are evicted.
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	buckets *lru.Cache[string, *buckets]
}

type buckets struct {
	minute *rate.Limiter
	hour   *rate.Limiter
}

// New creates a limiter tracking up to size webhooks.
func New(cfg Config, size int) *Limiter {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, *buckets](size)
	if err != nil {
		// Only returned for a non-positive size.
		panic("ratelimit: " + err.Error())
	}
	return &Limiter{cfg: cfg, buckets: cache}
}

// Reserve takes one token from both of key's buckets. It returns zero when
// the attempt may proceed now; otherwise it returns the wait and takes
// nothing.
func (l *Limiter) Reserve(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.cfg.Enabled {
		return 0
	}

	b := l.bucketsFor(key)
	now := time.Now()

	minute := b.minute.ReserveN(now, 1)
	hour := b.hour.ReserveN(now, 1)
	wait := max(minute.DelayFrom(now), hour.DelayFrom(now))
	if wait > 0 {
		minute.CancelAt(now)
		hour.CancelAt(now)
	}
	return wait
}

// SetConfig replaces the budgets. Existing buckets are discarded.
func (l *Limiter) SetConfig(cfg Config) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cfg == l.cfg {
		return
	}
	l.cfg = cfg
	l.buckets.Purge()
}

// Reset clears the buckets of key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets.Remove(key)
}

// Len returns the number of webhooks with live buckets.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buckets.Len()
}

func (l *Limiter) bucketsFor(key string) *buckets {
	if b, ok := l.buckets.Get(key); ok {
		return b
	}
	b := &buckets{
		minute: newBucket(l.cfg.PerMinute, time.Minute),
		hour:   newBucket(l.cfg.PerHour, time.Hour),
	}
	l.buckets.Add(key, b)
	return b
}

// newBucket refills budget tokens evenly over period, starting full.
func newBucket(budget int, period time.Duration) *rate.Limiter {
	if budget <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(float64(budget)/period.Seconds()), budget)
}
