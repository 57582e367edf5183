package ratelimit

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"
)

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter keeps one token bucket per key. Buckets are driven by the injected
// clock through AllowN, so tests can move time by hand.
type Limiter struct {
	limit rate.Limit
	burst int
	clock clock.Clock

	mu sync.Mutex
	m  map[string]*entry
}

// Option configures Limiter.
type Option func(*Limiter)

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

// New creates a limiter allowing bursts of capacity and refilling refillPerSec
// tokens every second.
func New(capacity, refillPerSec float64, opts ...Option) *Limiter {
	burst := int(capacity)
	if burst < 1 {
		burst = 1
	}
	l := &Limiter{
		limit: rate.Limit(refillPerSec),
		burst: burst,
		clock: clock.New(),
		m:     make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow returns true if one token can be consumed for key.
func (l *Limiter) Allow(key string) bool {
	now := l.clock.Now()
	l.mu.Lock()
	e, ok := l.m[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.m[key] = e
	}
	e.lastSeen = now
	l.mu.Unlock()

	return e.limiter.AllowN(now, 1)
}

// Sweep drops keys idle for longer than idle and returns how many went.
func (l *Limiter) Sweep(idle time.Duration) int {
	cutoff := l.clock.Now().Add(-idle)
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k, e := range l.m {
		if e.lastSeen.Before(cutoff) {
			delete(l.m, k)
			n++
		}
	}
	return n
}
