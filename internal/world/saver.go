package world

import (
	"context"
	"log/slog"
	"sync"
)

// Saver is the dedicated persistence worker behind [State]. Save
// requests go through a one-slot queue: a pending request absorbs any
// that arrive while a save is queued, so bursts of mutations coalesce
// into one disk write. When the worker is not running (synchronous
// contexts, tests, shutdown), Schedule falls back to saving inline.
type Saver struct {
	persist func() error
	logger  *slog.Logger

	mu      sync.Mutex
	running bool
	pending chan struct{}
	done    chan struct{}
}

// NewSaver creates a saver around persist, which must be safe to call
// from any goroutine.
func NewSaver(persist func() error, logger *slog.Logger) *Saver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Saver{
		persist: persist,
		logger:  logger.With("component", "saver"),
	}
}

// Start launches the persistence worker. No-op if already running.
func (s *Saver) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.pending = make(chan struct{}, 1)
	s.done = make(chan struct{})

	go s.run(ctx, s.pending, s.done)
}

func (s *Saver) run(ctx context.Context, pending chan struct{}, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			// Flush anything still queued before exiting.
			select {
			case <-pending:
				s.save()
			default:
			}
			return
		case <-pending:
			s.save()
		}
	}
}

// Stop marks the saver as not running and waits for the worker to
// drain. The context passed to Start must be cancelled first.
func (s *Saver) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	done := s.done
	s.mu.Unlock()

	<-done
}

// Schedule requests a save. Non-blocking when the worker is running: a
// full queue means a save is already pending and will pick up this
// change. Without a running worker the save happens inline,
// synchronously, before returning.
func (s *Saver) Schedule() {
	s.mu.Lock()
	running := s.running
	pending := s.pending
	s.mu.Unlock()

	if !running {
		s.save()
		return
	}

	select {
	case pending <- struct{}{}:
	default:
		// A save is already queued; it will see this mutation.
	}
}

// SaveNow persists synchronously, bypassing the queue.
func (s *Saver) SaveNow() error {
	return s.persist()
}

func (s *Saver) save() {
	if err := s.persist(); err != nil {
		s.logger.Error("world persistence failed", "error", err)
	}
}
