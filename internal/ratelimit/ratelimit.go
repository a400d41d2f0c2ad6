// Package ratelimit implements a sliding-window admission controller.
//
// Each scope (typically an endpoint name) keeps an ordered window of
// admission timestamps. A request is admitted iff, after purging
// entries older than the trailing window, fewer than limit remain.
// Rejected requests do not mutate the window.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter caps admissions per scope over a trailing time window.
// A limit <= 0 disables the limiter (everything is admitted).
// Safe for concurrent use.
type Limiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string][]time.Time
}

// Stats describes one scope's window at a point in time.
type Stats struct {
	Limit         int     `json:"limit"`
	Count         int     `json:"count"`
	WindowSeconds float64 `json:"window_seconds"`
	// ResetIn is the seconds until the oldest admission leaves the
	// window, freeing one slot. Zero when the window is empty.
	ResetIn float64 `json:"reset_in_seconds"`
}

// New creates a limiter admitting at most limit requests per scope per
// trailing window.
func New(limit int, window time.Duration) *Limiter {
	return &Limiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		windows: make(map[string][]time.Time),
	}
}

// Allow purges expired admissions for scope, then admits the request
// (recording its timestamp) iff the window has room. Returns false
// without mutating state when the scope is at its limit.
func (l *Limiter) Allow(scope string) bool {
	if l.limit <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w := l.purgeLocked(scope, now)
	if len(w) >= l.limit {
		return false
	}
	l.windows[scope] = append(w, now)
	return true
}

// Stats reports the scope's window after purging expired admissions.
func (l *Limiter) Stats(scope string) Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w := l.purgeLocked(scope, now)
	l.windows[scope] = w

	s := Stats{
		Limit:         l.limit,
		Count:         len(w),
		WindowSeconds: l.window.Seconds(),
	}
	if len(w) > 0 {
		resetIn := l.window - now.Sub(w[0])
		if resetIn > 0 {
			s.ResetIn = resetIn.Seconds()
		}
	}
	return s
}

// purgeLocked drops timestamps older than now-window. Caller holds mu.
func (l *Limiter) purgeLocked(scope string, now time.Time) []time.Time {
	w := l.windows[scope]
	cutoff := now.Add(-l.window)
	// Timestamps are appended in order, so find the first survivor.
	i := 0
	for i < len(w) && !w[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w = append(w[:0:0], w[i:]...)
	}
	return w
}
