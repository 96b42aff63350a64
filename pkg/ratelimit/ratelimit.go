// Package ratelimit provides a per-key request-rate limiter for hosts
// embedding the PDP behind a network-facing proxy. It is deliberately kept
// outside pkg/pdp: the pipeline's fixed six-stage order (spec §4.7) and
// purity property (spec §8) describe evaluate(policy, context) alone, and
// a rate limiter carries per-process mutable state across calls that has
// no place inside a pure decision function. Grounded on the teacher's
// pkg/api/middleware.go GlobalRateLimiter (per-key visitor map with
// periodic stale-entry cleanup).
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const staleAfter = 3 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter enforces an independent requests-per-second budget per key (for
// example, a request's identity.tenant), mirroring the teacher's per-IP
// GlobalRateLimiter but keyed generically.
type Limiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rps      rate.Limit
	burst    int
	done     chan struct{}
}

// New creates a Limiter allowing rps requests/second with the given burst,
// per distinct key. Call Stop to halt the background cleanup goroutine.
func New(rps float64, burst int) *Limiter {
	l := &Limiter{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(rps),
		burst:    burst,
		done:     make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow reports whether a request for key may proceed right now, creating
// key's limiter state on first use.
func (l *Limiter) Allow(key string) bool {
	return l.visitorFor(key).Allow()
}

func (l *Limiter) visitorFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = time.Now()
	return v.limiter
}

// cleanupLoop evicts visitor entries untouched for staleAfter, so a
// long-running host doesn't accumulate one limiter per ever-seen key.
func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			for k, v := range l.visitors {
				if time.Since(v.lastSeen) > staleAfter {
					delete(l.visitors, k)
				}
			}
			l.mu.Unlock()
		case <-l.done:
			return
		}
	}
}

// Stop halts the background cleanup goroutine. Safe to call once.
func (l *Limiter) Stop() {
	close(l.done)
}
