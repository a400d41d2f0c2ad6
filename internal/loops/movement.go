package loops

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/geny-ai/geny/internal/events"
	"github.com/geny-ai/geny/internal/world"
)

// moveActivities are things Geny does on arriving somewhere new.
var moveActivities = []string{
	"looking around",
	"talking to people",
	"taking notes",
	"resting for a bit",
	"exploring",
}

// moveFeelings color the presence tick with a mood line.
var moveFeelings = []string{
	"The change of scenery feels refreshing.",
	"Something about this place makes me thoughtful.",
	"I feel curious about what happens here.",
	"It is calm here. I like it.",
}

// Movement is the presence loop: each tick Geny moves to a new place
// and records where she is and how it feels. Fully local, no upstream
// calls.
type Movement struct {
	state  *world.State
	bus    *events.Bus
	logger *slog.Logger
}

// NewMovement wires the presence behavior. bus may be nil.
func NewMovement(state *world.State, bus *events.Bus, logger *slog.Logger) *Movement {
	if logger == nil {
		logger = slog.Default()
	}
	return &Movement{
		state:  state,
		bus:    bus,
		logger: logger.With("loop", "movement"),
	}
}

// Tick runs one movement iteration.
func (m *Movement) Tick(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	place := m.state.NextPlace()
	activity := moveActivities[rand.IntN(len(moveActivities))]
	tick := m.state.MoveTo(place, activity)

	feeling := fmt.Sprintf("At %s, %s. %s", place, activity, moveFeelings[rand.IntN(len(moveFeelings))])
	m.state.AppendFeeling(feeling)

	m.bus.Emit(events.SourceMovement, events.KindMoved, map[string]any{
		"place":    tick.Place,
		"activity": tick.Activity,
	})
	m.logger.Debug("moved", "place", place, "activity", activity)
	return nil
}
