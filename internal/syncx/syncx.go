// Package syncx provides the string-keyed concurrency primitives used at
// call sites that must not fan out: a single-flight group for collapsing
// concurrent executions and a keyed token-bucket limiter.
package syncx

import (
	"sync"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Flight collapses concurrent calls that share a key: the first caller runs
// fn, later callers block and receive the first caller's result. Results
// are not cached once the call returns.
type Flight struct {
	group singleflight.Group
}

// Do executes fn under key, sharing an in-flight execution if one exists.
// The boolean reports whether the result was shared with other callers.
func (f *Flight) Do(key string, fn func() (any, error)) (any, error, bool) {
	v, err, shared := f.group.Do(key, fn)
	return v, err, shared
}

// KeyedLimiter hands out a token-bucket limiter per string key.
type KeyedLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// NewKeyedLimiter creates a limiter factory where each key allows bursts of
// burst events refilled at r events per second.
func NewKeyedLimiter(r rate.Limit, burst int) *KeyedLimiter {
	return &KeyedLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
	}
}

func (l *KeyedLimiter) limiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.rate, l.burst)
		l.limiters[key] = lim
	}
	return lim
}

// Allow reports whether an event may happen now for key.
func (l *KeyedLimiter) Allow(key string) bool {
	return l.limiter(key).Allow()
}
