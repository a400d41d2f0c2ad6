package orchestrator

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/geny-ai/geny/internal/interactions"
)

func TestNightlyRun(t *testing.T) {
	state := newTestWorld(t)
	dir := t.TempDir()
	store, err := interactions.NewStore(
		filepath.Join(dir, "interactions.db"),
		filepath.Join(dir, "interactions.json"),
		testLogger())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	if err := store.Record("hello", "hi there", "chat"); err != nil {
		t.Fatalf("Record: %v", err)
	}

	n := NewNightly(state, store, nil, testLogger())
	report, err := n.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.Interactions != 1 {
		t.Errorf("interactions = %d, want 1", report.Interactions)
	}
	if report.DiaryEntry == "" {
		t.Error("no diary entry written")
	}
	if report.RanAt.IsZero() {
		t.Error("report has no timestamp")
	}

	doc := state.Snapshot()
	found := false
	for _, d := range doc.Diary {
		if strings.Contains(d.Entry, "Day closed") {
			found = true
		}
	}
	if !found {
		t.Error("nightly diary entry not in world state")
	}
}

func TestNightlyWithoutStore(t *testing.T) {
	state := newTestWorld(t)
	n := NewNightly(state, nil, nil, testLogger())

	report, err := n.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Questions == 0 {
		t.Error("question queue not topped up")
	}
}
