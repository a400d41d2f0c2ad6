// Package loops runs Geny's autonomous background behaviors, one
// runner per behavior. A runner is either stopped or running, ticks
// immediately on start and then on a fixed interval derived from the
// virtual-time scale, and isolates tick failures: a failed tick is
// logged and the loop keeps going.
package loops

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Interval bounds. base/scale is clamped into this range so extreme
// scales can neither spin the loop nor park it for hours.
const (
	MinInterval = 5 * time.Second
	MaxInterval = time.Hour
)

// TickFunc performs one iteration of a loop's behavior.
type TickFunc func(ctx context.Context) error

// Status is a runner's externally visible state.
type Status struct {
	Name            string    `json:"name"`
	Running         bool      `json:"running"`
	IntervalSeconds float64   `json:"interval_seconds"`
	StartedAt       time.Time `json:"started_at,omitzero"`
	LastRun         time.Time `json:"last_run,omitzero"`
	LastError       string    `json:"last_error,omitempty"`
	Runs            int64     `json:"runs"`
}

// Runner drives one named behavior on an interval.
type Runner struct {
	name     string
	interval time.Duration
	tick     TickFunc
	logger   *slog.Logger

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time
	lastRun   time.Time
	lastErr   error
	runs      int64
}

// Interval scales base by the virtual-time factor and clamps the
// result. scale <= 0 is treated as 1.
func Interval(base time.Duration, scale float64) time.Duration {
	if scale <= 0 {
		scale = 1
	}
	d := time.Duration(float64(base) / scale)
	if d < MinInterval {
		return MinInterval
	}
	if d > MaxInterval {
		return MaxInterval
	}
	return d
}

// NewRunner creates a stopped runner for tick.
func NewRunner(name string, interval time.Duration, tick TickFunc, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		name:     name,
		interval: interval,
		tick:     tick,
		logger:   logger.With("loop", name),
	}
}

// Start launches the loop. Returns false if it was already running.
// The first tick fires immediately, before the interval starts.
func (r *Runner) Start(ctx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return false
	}
	loopCtx, cancel := context.WithCancel(ctx)
	r.running = true
	r.cancel = cancel
	r.done = make(chan struct{})
	r.startedAt = time.Now().UTC()
	r.lastErr = nil

	r.logger.Info("loop started", "interval", r.interval.String())
	go r.run(loopCtx, r.done)
	return true
}

// Stop cancels the loop and waits for the goroutine to exit. Returns
// false if it was not running.
func (r *Runner) Stop() bool {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return false
	}
	r.running = false
	cancel := r.cancel
	done := r.done
	r.mu.Unlock()

	cancel()
	<-done
	r.logger.Info("loop stopped")
	return true
}

// SetInterval replaces the tick interval. It is ignored while the
// loop is running; callers set it before Start.
func (r *Runner) SetInterval(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running || d <= 0 {
		return
	}
	r.interval = d
}

// Running reports whether the loop is active.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Status returns a snapshot of the runner's state.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Status{
		Name:            r.name,
		Running:         r.running,
		IntervalSeconds: r.interval.Seconds(),
		LastRun:         r.lastRun,
		Runs:            r.runs,
	}
	if r.running {
		s.StartedAt = r.startedAt
	}
	if r.lastErr != nil {
		s.LastError = r.lastErr.Error()
	}
	return s
}

func (r *Runner) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	// The first tick runs unconditionally, so a Stop racing Start
	// still leaves at least one completed run behind.
	r.step(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			r.step(ctx)
		}
	}
}

// step runs one tick. Failures never terminate the loop.
func (r *Runner) step(ctx context.Context) {
	err := r.tick(ctx)

	r.mu.Lock()
	r.lastRun = time.Now().UTC()
	r.lastErr = err
	r.runs++
	r.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		r.logger.Warn("loop tick failed", "error", err)
	}
}
