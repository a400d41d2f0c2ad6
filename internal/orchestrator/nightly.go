package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/geny-ai/geny/internal/events"
	"github.com/geny-ai/geny/internal/interactions"
	"github.com/geny-ai/geny/internal/world"
)

// Nightly is the end-of-day maintenance pass: reconcile the two
// interaction backends, top up the curiosity queue, and close the day
// with a diary entry.
type Nightly struct {
	state  *world.State
	store  *interactions.Store
	bus    *events.Bus
	logger *slog.Logger
}

// NightlyReport summarizes one maintenance run.
type NightlyReport struct {
	Reconciled   int       `json:"reconciled"`
	Interactions int       `json:"interactions"`
	Questions    int       `json:"questions"`
	DiaryEntry   string    `json:"diary_entry"`
	RanAt        time.Time `json:"ran_at"`
}

// NewNightly wires the maintenance task. bus may be nil.
func NewNightly(state *world.State, store *interactions.Store, bus *events.Bus, logger *slog.Logger) *Nightly {
	if logger == nil {
		logger = slog.Default()
	}
	return &Nightly{
		state:  state,
		store:  store,
		bus:    bus,
		logger: logger.With("component", "nightly"),
	}
}

// Run executes one maintenance pass.
func (n *Nightly) Run(ctx context.Context) (NightlyReport, error) {
	report := NightlyReport{RanAt: time.Now().UTC()}

	if n.store != nil {
		gained, err := n.store.Reconcile()
		if err != nil {
			return report, fmt.Errorf("reconcile interactions: %w", err)
		}
		report.Reconciled = gained

		count, err := n.store.Count()
		if err != nil {
			return report, fmt.Errorf("count interactions: %w", err)
		}
		report.Interactions = count
	}

	report.Questions = n.state.EnsureQuestions(10)

	n.state.AppendDiary(n.state.AgeSentence(), "virtual_age")

	life := n.state.Life()
	entry := fmt.Sprintf(
		"Day closed. %d conversations so far, %d open questions, feeling %s in %s.",
		report.Interactions, life.OpenQuestions, life.Mood, life.Location)
	n.state.AppendDiary(entry, "", "nightly")
	report.DiaryEntry = entry

	if err := n.state.Saver().SaveNow(); err != nil {
		return report, fmt.Errorf("persist world state: %w", err)
	}

	n.bus.Emit(events.SourceNightly, events.KindNightlyDone, map[string]any{
		"reconciled":    report.Reconciled,
		"diary_written": true,
	})
	n.logger.Info("nightly maintenance complete",
		"reconciled", report.Reconciled,
		"interactions", report.Interactions)
	return report, nil
}
