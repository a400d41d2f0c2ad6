package upstream

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker's position.
type BreakerState int

const (
	// StateClosed is normal operation; calls pass through.
	StateClosed BreakerState = iota
	// StateOpen fails fast; no upstream call is attempted.
	StateOpen
	// StateHalfOpen allows a single trial call after the recovery
	// timeout. Success closes the circuit, failure reopens it.
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Breaker is a consecutive-failure circuit breaker. It opens after
// failThreshold consecutive failures, fails fast while open, and allows
// one trial call once recoveryTimeout has elapsed.
//
// All methods are safe for concurrent use; one instance guards the
// whole process's access to the upstream provider.
type Breaker struct {
	failThreshold   int
	recoveryTimeout time.Duration
	now             func() time.Time

	mu        sync.Mutex
	state     BreakerState
	failCount int
	openedAt  time.Time
}

// NewBreaker creates a closed breaker. A failThreshold below 1 is
// raised to 1.
func NewBreaker(failThreshold int, recoveryTimeout time.Duration) *Breaker {
	if failThreshold < 1 {
		failThreshold = 1
	}
	return &Breaker{
		failThreshold:   failThreshold,
		recoveryTimeout: recoveryTimeout,
		now:             time.Now,
	}
}

// Allow reports whether a call may proceed. While open, it transitions
// to half-open (and allows one trial) once the recovery timeout has
// elapsed since opening; before that it returns false.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) > b.recoveryTimeout {
			b.state = StateHalfOpen
			return true
		}
		return false
	}
	return true
}

// RecordSuccess resets the failure counter and closes the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failCount = 0
	b.state = StateClosed
}

// RecordFailure increments the consecutive-failure counter; reaching
// the threshold opens the circuit and stamps the open time. A failure
// in half-open reopens immediately and resets the timer.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failCount++
	if b.state == StateHalfOpen || b.failCount >= b.failThreshold {
		b.state = StateOpen
		b.openedAt = b.now()
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot reports the breaker's position for diagnostics.
type BreakerSnapshot struct {
	State     string    `json:"state"`
	FailCount int       `json:"fail_count"`
	OpenedAt  time.Time `json:"opened_at,omitzero"`
}

// Snapshot returns a copy-safe view of the breaker.
func (b *Breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerSnapshot{
		State:     b.state.String(),
		FailCount: b.failCount,
		OpenedAt:  b.openedAt,
	}
}
