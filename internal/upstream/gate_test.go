package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedClient returns canned results in order, then repeats the last.
type scriptedClient struct {
	calls   int
	results []scriptedResult
}

type scriptedResult struct {
	text string
	err  error
}

func (c *scriptedClient) Generate(ctx context.Context, prompt string) (string, error) {
	i := c.calls
	c.calls++
	if i >= len(c.results) {
		i = len(c.results) - 1
	}
	r := c.results[i]
	return r.text, r.err
}

func newTestGate(t *testing.T, client Client, hasKey bool, maxRetries, failThreshold int) *Gate {
	t.Helper()
	g := NewGate(client, hasKey, GateConfig{
		MaxRetries:      maxRetries,
		FailThreshold:   failThreshold,
		RecoveryTimeout: 30 * time.Second,
		BackoffBase:     time.Millisecond,
		BackoffCap:      time.Millisecond,
	}, testLogger())
	// No real sleeping in tests.
	g.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return g
}

func TestGateMissingCredential(t *testing.T) {
	client := &scriptedClient{results: []scriptedResult{{text: "hi"}}}
	g := newTestGate(t, client, false, 3, 3)

	_, err := g.Generate(context.Background(), "hello")
	if KindOf(err) != KindMissingCredential {
		t.Fatalf("kind = %v, want missing_credential", KindOf(err))
	}
	if client.calls != 0 {
		t.Errorf("client called %d times, want 0 (no network I/O without credential)", client.calls)
	}
}

func TestGateSuccessFirstAttempt(t *testing.T) {
	client := &scriptedClient{results: []scriptedResult{{text: "the reply"}}}
	g := newTestGate(t, client, true, 3, 3)

	text, err := g.Generate(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "the reply" {
		t.Errorf("text = %q, want %q", text, "the reply")
	}
	if client.calls != 1 {
		t.Errorf("client calls = %d, want 1", client.calls)
	}
}

func TestGateRetriesTransientThenSucceeds(t *testing.T) {
	client := &scriptedClient{results: []scriptedResult{
		{err: errors.New("connection reset")},
		{err: errors.New("503 overloaded")},
		{text: "third time lucky"},
	}}
	g := newTestGate(t, client, true, 3, 5)

	text, err := g.Generate(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "third time lucky" {
		t.Errorf("text = %q", text)
	}
	if client.calls != 3 {
		t.Errorf("client calls = %d, want 3", client.calls)
	}
	if got := g.Breaker().State(); got != StateClosed {
		t.Errorf("breaker state = %v, want closed after success", got)
	}
}

func TestGateExhaustedCarriesLastError(t *testing.T) {
	lastErr := errors.New("deadline exceeded")
	client := &scriptedClient{results: []scriptedResult{
		{err: errors.New("first failure")},
		{err: errors.New("second failure")},
		{err: lastErr},
	}}
	g := newTestGate(t, client, true, 3, 10)

	_, err := g.Generate(context.Background(), "hello")
	if KindOf(err) != KindExhausted {
		t.Fatalf("kind = %v, want exhausted", KindOf(err))
	}
	if !errors.Is(err, lastErr) {
		t.Errorf("exhausted error does not wrap the last underlying error: %v", err)
	}
	if client.calls != 3 {
		t.Errorf("client calls = %d, want 3", client.calls)
	}
}

func TestGateAuthFailureShortCircuitsRetries(t *testing.T) {
	for _, marker := range []string{"401", "API key not valid", "Unauthorized"} {
		client := &scriptedClient{results: []scriptedResult{
			{err: fmt.Errorf("gemini API error: %s", marker)},
		}}
		g := newTestGate(t, client, true, 3, 10)

		_, err := g.Generate(context.Background(), "hello")
		if KindOf(err) != KindUnauthorized {
			t.Fatalf("marker %q: kind = %v, want unauthorized", marker, KindOf(err))
		}
		if client.calls != 1 {
			t.Errorf("marker %q: client calls = %d, want 1 (auth failures are not retried)", marker, client.calls)
		}
	}
}

func TestGateCircuitOpensAndFailsFast(t *testing.T) {
	client := &scriptedClient{results: []scriptedResult{{err: errors.New("boom")}}}
	// fail_threshold=3 and a single attempt per call: three calls open
	// the circuit.
	g := newTestGate(t, client, true, 1, 3)

	for i := 0; i < 3; i++ {
		if _, err := g.Generate(context.Background(), "hello"); err == nil {
			t.Fatalf("call %d: expected error", i+1)
		}
	}
	if client.calls != 3 {
		t.Fatalf("client calls = %d, want 3", client.calls)
	}

	// Fourth call must fail fast without touching the client.
	_, err := g.Generate(context.Background(), "hello")
	if KindOf(err) != KindCircuitOpen {
		t.Fatalf("kind = %v, want circuit_open", KindOf(err))
	}
	if client.calls != 3 {
		t.Errorf("client calls = %d after circuit opened, want still 3", client.calls)
	}
}

func TestGateEmptyResponseIsFailure(t *testing.T) {
	client := &scriptedClient{results: []scriptedResult{
		{text: "   \n\t "},
		{text: "real text"},
	}}
	g := newTestGate(t, client, true, 2, 10)

	text, err := g.Generate(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "real text" {
		t.Errorf("text = %q, want retry past whitespace-only response", text)
	}
}

func TestIsAuthFailure(t *testing.T) {
	if !IsAuthFailure(&Error{Kind: KindUnauthorized}) {
		t.Error("unauthorized should be an auth failure")
	}
	if !IsAuthFailure(&Error{Kind: KindMissingCredential}) {
		t.Error("missing credential should be an auth failure")
	}
	if IsAuthFailure(&Error{Kind: KindExhausted}) {
		t.Error("exhausted is not an auth failure")
	}
	if IsAuthFailure(nil) {
		t.Error("nil is not an auth failure")
	}
}
