package ratelimit

import (
	"sync"
	"testing"
	"time"
)

func newTestLimiter(limit int, window time.Duration) (*Limiter, *time.Time) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := New(limit, window)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestAllowFourPerHour(t *testing.T) {
	l, _ := newTestLimiter(4, time.Hour)

	for i := 0; i < 4; i++ {
		if !l.Allow("/chat") {
			t.Fatalf("request %d rejected, want admitted", i+1)
		}
	}
	if l.Allow("/chat") {
		t.Fatal("5th request admitted, want rejected")
	}

	s := l.Stats("/chat")
	if s.Count != 4 || s.Limit != 4 {
		t.Errorf("stats = %+v, want count=4 limit=4", s)
	}
}

func TestRejectionDoesNotMutateWindow(t *testing.T) {
	l, _ := newTestLimiter(1, time.Hour)

	l.Allow("/chat")
	for i := 0; i < 10; i++ {
		l.Allow("/chat")
	}
	if got := l.Stats("/chat").Count; got != 1 {
		t.Errorf("count = %d after rejected requests, want 1", got)
	}
}

func TestWindowSlides(t *testing.T) {
	l, now := newTestLimiter(2, time.Minute)

	if !l.Allow("/chat") || !l.Allow("/chat") {
		t.Fatal("initial admissions rejected")
	}
	if l.Allow("/chat") {
		t.Fatal("3rd request admitted within window")
	}

	// Advance past the window: both admissions expire.
	*now = now.Add(61 * time.Second)
	if !l.Allow("/chat") {
		t.Fatal("request rejected after window slid")
	}
	if got := l.Stats("/chat").Count; got != 1 {
		t.Errorf("count = %d, want 1 (old admissions purged)", got)
	}
}

func TestScopesAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(1, time.Hour)

	if !l.Allow("/chat") {
		t.Fatal("first /chat rejected")
	}
	if !l.Allow("/world/exploration") {
		t.Fatal("other scope rejected, want independent windows")
	}
	if l.Allow("/chat") {
		t.Fatal("second /chat admitted")
	}
}

func TestDisabledLimiterAlwaysAllows(t *testing.T) {
	for _, limit := range []int{0, -1} {
		l := New(limit, time.Hour)
		for i := 0; i < 100; i++ {
			if !l.Allow("/chat") {
				t.Fatalf("limit=%d: request %d rejected, want limiter disabled", limit, i)
			}
		}
	}
}

func TestStatsResetIn(t *testing.T) {
	l, now := newTestLimiter(4, time.Hour)

	if got := l.Stats("/chat").ResetIn; got != 0 {
		t.Errorf("ResetIn = %v for empty window, want 0", got)
	}

	l.Allow("/chat")
	*now = now.Add(10 * time.Minute)
	got := l.Stats("/chat").ResetIn
	want := (50 * time.Minute).Seconds()
	if got != want {
		t.Errorf("ResetIn = %v, want %v", got, want)
	}
}

func TestConcurrentAllowSameScope(t *testing.T) {
	l := New(50, time.Hour)

	var wg sync.WaitGroup
	admitted := make(chan bool, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			admitted <- l.Allow("/chat")
		}()
	}
	wg.Wait()
	close(admitted)

	count := 0
	for ok := range admitted {
		if ok {
			count++
		}
	}
	if count != 50 {
		t.Errorf("admitted %d of 100 concurrent requests, want exactly 50", count)
	}
}
