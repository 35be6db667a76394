// Package ratelimit provides a sliding-window rate limiter used to
// pace outbound AI calls.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter admits at most limit operations per window. Wait blocks until
// a slot opens or the context is cancelled.
type Limiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	stamps []time.Time
	now    func() time.Time
}

// New creates a limiter admitting limit operations per window. A limit
// of zero or less disables limiting.
func New(limit int, window time.Duration) *Limiter {
	return &Limiter{
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// PerMinute creates a limiter admitting n operations per minute.
func PerMinute(n int) *Limiter {
	return New(n, time.Minute)
}

// Allow reports whether a slot is available and claims it if so.
func (l *Limiter) Allow() bool {
	if l.limit <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.prune(now)
	if len(l.stamps) >= l.limit {
		return false
	}
	l.stamps = append(l.stamps, now)
	return true
}

// Wait blocks until a slot is claimed or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l.limit <= 0 {
		return ctx.Err()
	}
	for {
		l.mu.Lock()
		now := l.now()
		l.prune(now)
		if len(l.stamps) < l.limit {
			l.stamps = append(l.stamps, now)
			l.mu.Unlock()
			return nil
		}
		// Sleep until the oldest stamp falls out of the window.
		wakeAt := l.stamps[0].Add(l.window)
		l.mu.Unlock()

		timer := time.NewTimer(wakeAt.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// prune drops stamps older than the window. Callers hold l.mu.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	idx := 0
	for idx < len(l.stamps) && !l.stamps[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[idx:]...)
	}
}
