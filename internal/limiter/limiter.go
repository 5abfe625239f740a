package limiter

import (
	"context"
	"sync"
	"time"
)

// Limiter serializes calls to the backing record store and enforces a
// minimum spacing between successive dispatches. Concurrency is fixed at
// one: the mutex admits a single in-flight call, and the recorded
// timestamp of the last dispatch (taken after the wait, not after the
// call returns) spaces out the next one.
type Limiter struct {
	mu           sync.Mutex
	minInterval  time.Duration
	lastDispatch time.Time
}

// New returns a limiter allowing at most maxPerSecond dispatches per second.
func New(maxPerSecond float64) *Limiter {
	if maxPerSecond <= 0 {
		maxPerSecond = 1
	}
	return &Limiter{
		minInterval: time.Duration(float64(time.Second) / maxPerSecond),
	}
}

// Call runs fn once the rate gate admits it. Errors from fn propagate
// unchanged; the limiter keeps no state across failures beyond the
// dispatch timestamp. A cancelled context aborts the wait.
func (l *Limiter) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.lastDispatch.IsZero() {
		if wait := l.minInterval - time.Since(l.lastDispatch); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}
	}
	l.lastDispatch = time.Now()

	return fn(ctx)
}
