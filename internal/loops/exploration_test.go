package loops

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/geny-ai/geny/internal/world"
)

type fakeGenerator struct {
	reply string
	err   error
	calls int
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	f.calls++
	return f.reply, f.err
}

type fakeLimiter struct{ allow bool }

func (f *fakeLimiter) Allow(scope string) bool { return f.allow }

func newTestWorld(t *testing.T) *world.State {
	t.Helper()
	s, err := world.NewState(filepath.Join(t.TempDir(), "world.json"), world.DefaultCaps(), 2.0, testLogger())
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}
	return s
}

func TestExplorationWritesModelInsight(t *testing.T) {
	state := newTestWorld(t)
	gen := &fakeGenerator{reply: "Dogs descend from wolves and read human gestures."}
	e := NewExploration(state, gen, &fakeLimiter{allow: true}, nil, testLogger())

	if err := e.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if gen.calls != 1 {
		t.Errorf("generator calls = %d, want 1", gen.calls)
	}

	doc := state.Snapshot()
	if len(doc.Diary) != 1 {
		t.Fatalf("diary entries = %d, want 1", len(doc.Diary))
	}
	if !strings.Contains(doc.Diary[0].Entry, gen.reply) {
		t.Errorf("diary entry %q missing the insight", doc.Diary[0].Entry)
	}
}

func TestExplorationFallsBackOnUpstreamFailure(t *testing.T) {
	state := newTestWorld(t)
	gen := &fakeGenerator{err: errors.New("upstream down")}
	e := NewExploration(state, gen, &fakeLimiter{allow: true}, nil, testLogger())

	if err := e.Tick(context.Background()); err != nil {
		t.Fatalf("Tick must not fail on upstream errors: %v", err)
	}

	doc := state.Snapshot()
	if len(doc.Diary) != 1 {
		t.Fatalf("diary entries = %d, want 1", len(doc.Diary))
	}
	if doc.Diary[0].Insight == "" {
		t.Error("fallback wrote an empty insight")
	}
}

func TestExplorationRespectsLimiter(t *testing.T) {
	state := newTestWorld(t)
	gen := &fakeGenerator{reply: "should never be used"}
	e := NewExploration(state, gen, &fakeLimiter{allow: false}, nil, testLogger())

	if err := e.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if gen.calls != 0 {
		t.Errorf("generator called %d times despite rejected budget", gen.calls)
	}
	if len(state.Snapshot().Diary) != 1 {
		t.Error("rejected tick wrote no local insight")
	}
}

func TestExplorationRefillsEmptyQueue(t *testing.T) {
	state := newTestWorld(t)
	for {
		if _, ok := state.PopQuestion(); !ok {
			break
		}
	}

	e := NewExploration(state, &fakeGenerator{reply: "refilled"}, &fakeLimiter{allow: true}, nil, testLogger())
	if err := e.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(state.Snapshot().Diary) != 1 {
		t.Error("tick on a drained queue produced no diary entry")
	}
}

func TestClipCutsOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("€", 200)
	got := clip(long, 400)
	if !utf8.ValidString(got) {
		t.Errorf("clipped insight is not valid UTF-8: %q", got)
	}
	if len(got) > 400+len("…") {
		t.Errorf("clipped length = %d", len(got))
	}
}

func TestMovementTick(t *testing.T) {
	state := newTestWorld(t)
	m := NewMovement(state, nil, testLogger())

	if err := m.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	doc := state.Snapshot()
	if len(doc.Presence) != 1 {
		t.Fatalf("presence ticks = %d, want 1", len(doc.Presence))
	}
	if doc.Presence[0].Place == "" {
		t.Error("presence tick has no place")
	}
	if doc.Location != doc.Presence[0].Place {
		t.Errorf("location %q does not match tick place %q", doc.Location, doc.Presence[0].Place)
	}
	if len(doc.Feelings) != 1 {
		t.Errorf("feelings = %d, want 1", len(doc.Feelings))
	}
}

func TestMovementCancelledContext(t *testing.T) {
	state := newTestWorld(t)
	m := NewMovement(state, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Tick(ctx); err == nil {
		t.Error("expected context error from cancelled tick")
	}
	if len(state.Snapshot().Presence) != 0 {
		t.Error("cancelled tick still moved")
	}
}
