package upstream

import (
	"testing"
	"time"
)

func TestBackoffDoublesUpToCap(t *testing.T) {
	base := 500 * time.Millisecond
	cap := 10 * time.Second

	// jitter()=1.0 is out of the half-open range but makes the math
	// exact: sleep == min(cap, base*2^attempt).
	full := func() float64 { return 1.0 }

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 500 * time.Millisecond},
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second}, // capped
		{20, 10 * time.Second},
		{62, 10 * time.Second}, // shift overflow guard
	}
	for _, tt := range tests {
		if got := Backoff(tt.attempt, base, cap, full); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoffJitterRange(t *testing.T) {
	base := 1 * time.Second
	cap := 10 * time.Second

	for i := 0; i < 200; i++ {
		d := Backoff(2, base, cap, nil)
		if d < 2*time.Second || d >= 4*time.Second {
			t.Fatalf("Backoff(2) = %v, want in [2s, 4s)", d)
		}
	}
}
