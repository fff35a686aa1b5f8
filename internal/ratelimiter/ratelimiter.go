// Package ratelimiter throttles requests with one token bucket per key.
//
// Keys are caller-defined: the REST adapter uses the member id so one
// client flooding the upload route cannot starve everyone else.
package ratelimiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultIdleTTL is how long an unused bucket is kept before pruning.
const DefaultIdleTTL = 10 * time.Minute

// Limiter hands out a token bucket per key.
//
// The token bucket works as follows:
//  1. Tokens are added to a key's bucket at requestsPerSecond
//  2. Each request consumes one token
//  3. An empty bucket rejects (Allow) or delays (Wait) the request
//  4. burst is the bucket capacity, so short spikes pass untouched
//
// A Limiter built with requestsPerSecond <= 0 allows everything.
//
// Thread safety:
// All methods are safe for concurrent use.
type Limiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastPrune time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a keyed limiter.
//
// Example:
//
//	// Each member may send 20 chunks/s with bursts of 40
//	limiter := ratelimiter.New(20, 40)
//	if !limiter.Allow(memberKey) {
//	    // reply 429
//	}
func New(requestsPerSecond float64, burst int) *Limiter {
	l := &Limiter{
		limit:   rate.Limit(requestsPerSecond),
		burst:   burst,
		idleTTL: DefaultIdleTTL,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
	if requestsPerSecond <= 0 {
		l.limit = rate.Inf
	}
	if l.burst <= 0 {
		l.burst = 1
	}
	l.lastPrune = l.now()
	return l
}

// Unlimited reports whether the limiter never rejects.
func (l *Limiter) Unlimited() bool {
	return l.limit == rate.Inf
}

// Allow consumes a token from key's bucket without waiting.
func (l *Limiter) Allow(key string) bool {
	if l.Unlimited() {
		return true
	}
	return l.bucket(key).AllowN(l.now(), 1)
}

// Wait blocks until key's bucket has a token or ctx is done.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	if l.Unlimited() {
		return ctx.Err()
	}
	return l.bucket(key).Wait(ctx)
}

// Len returns the number of live buckets.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Prune drops buckets idle for longer than the idle TTL and returns how
// many were removed. A dropped key starts again with a full bucket.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pruneLocked(l.now())
}

func (l *Limiter) bucket(key string) *rate.Limiter {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastPrune) > l.idleTTL {
		l.pruneLocked(now)
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter
}

func (l *Limiter) pruneLocked(now time.Time) int {
	l.lastPrune = now
	removed := 0
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.idleTTL {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}
