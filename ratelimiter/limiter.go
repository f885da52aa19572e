package ratelimiter

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// sweepEvery is how many Allow calls pass between idle-bucket sweeps.
const sweepEvery = 256

// KeyLimiter keeps one token bucket per key, e.g. per user id on the
// directory publish endpoint. A nil *KeyLimiter allows everything.
type KeyLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
	calls   uint64
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New returns nil when rps or burst is not positive, which disables
// limiting.
func New(rps float64, burst int, idleTTL time.Duration) *KeyLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &KeyLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: idleTTL,
		buckets: make(map[string]*bucket),
	}
}

// Allow consumes one token for key at now.
func (l *KeyLimiter) Allow(key string, now time.Time) bool {
	if l == nil || key == "" {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	allowed := b.limiter.AllowN(now, 1)

	l.calls++
	if l.calls%sweepEvery == 0 {
		l.sweep(now)
	}
	return allowed
}

func (l *KeyLimiter) sweep(now time.Time) {
	cutoff := now.Add(-l.idleTTL)
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}

// Len is the number of tracked keys.
func (l *KeyLimiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
