package upstream

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

// GateConfig tunes the retry and breaker policy.
type GateConfig struct {
	// MaxRetries is the total number of attempts per Generate call.
	// Values below 1 are raised to 1.
	MaxRetries int
	// AttemptTimeout bounds each individual attempt.
	AttemptTimeout time.Duration
	// FailThreshold and RecoveryTimeout configure the breaker.
	FailThreshold   int
	RecoveryTimeout time.Duration
	// BackoffBase and BackoffCap bound the jittered exponential sleep
	// between attempts.
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// Gate arbitrates access to the upstream provider. It owns the
// process-wide circuit breaker and the retry/backoff policy, and is
// safe for concurrent use; foreground requests and background loops
// share one instance.
type Gate struct {
	client  Client
	hasKey  bool
	cfg     GateConfig
	breaker *Breaker
	logger  *slog.Logger

	// sleep and jitter are replaceable for tests.
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
}

// NewGate creates a gate around client. hasCredential false makes every
// call fail fast with KindMissingCredential without touching the
// network.
func NewGate(client Client, hasCredential bool, cfg GateConfig, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 10 * time.Second
	}
	return &Gate{
		client:  client,
		hasKey:  hasCredential,
		cfg:     cfg,
		breaker: NewBreaker(cfg.FailThreshold, cfg.RecoveryTimeout),
		logger:  logger.With("component", "upstream"),
		sleep:   sleepCtx,
	}
}

// Breaker exposes the gate's breaker for diagnostics endpoints.
func (g *Gate) Breaker() *Breaker { return g.breaker }

// Generate runs one gated generation call: credential check, breaker
// check, then up to MaxRetries attempts with jittered exponential
// backoff between them. Auth failures short-circuit remaining retries.
// Every attempt outcome updates the breaker exactly once.
func (g *Gate) Generate(ctx context.Context, prompt string) (string, error) {
	if !g.hasKey {
		g.logger.Error("no upstream credential configured")
		return "", &Error{Kind: KindMissingCredential}
	}

	if !g.breaker.Allow() {
		g.logger.Warn("circuit breaker open, failing fast")
		return "", &Error{Kind: KindCircuitOpen}
	}

	var lastErr error
	for attempt := 0; attempt < g.cfg.MaxRetries; attempt++ {
		text, err := g.attempt(ctx, prompt)
		if err == nil {
			g.breaker.RecordSuccess()
			return text, nil
		}

		g.breaker.RecordFailure()
		lastErr = err

		kind := classify(err)
		g.logger.Warn("upstream attempt failed",
			"attempt", attempt+1,
			"max_retries", g.cfg.MaxRetries,
			"kind", kind.String(),
			"error", err,
		)

		if kind == KindUnauthorized {
			// Retrying a bad credential only burns quota and time.
			return "", &Error{Kind: KindUnauthorized, Err: err}
		}

		if attempt+1 < g.cfg.MaxRetries {
			d := Backoff(attempt, g.cfg.BackoffBase, g.cfg.BackoffCap, g.jitter)
			if err := g.sleep(ctx, d); err != nil {
				return "", &Error{Kind: KindTransient, Err: err}
			}
		}
	}

	return "", &Error{Kind: KindExhausted, Err: lastErr}
}

// attempt runs a single provider call bounded by the per-attempt
// timeout. The blocking network call runs in its own goroutine so a
// deadline fires even if the transport stalls; the late result is
// drained and dropped.
func (g *Gate) attempt(ctx context.Context, prompt string) (string, error) {
	attemptCtx := ctx
	var cancel context.CancelFunc
	if g.cfg.AttemptTimeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, g.cfg.AttemptTimeout)
		defer cancel()
	}

	type result struct {
		text string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		text, err := g.client.Generate(attemptCtx, prompt)
		ch <- result{text, err}
	}()

	select {
	case <-attemptCtx.Done():
		return "", attemptCtx.Err()
	case r := <-ch:
		if r.err != nil {
			return "", r.err
		}
		if strings.TrimSpace(r.text) == "" {
			return "", errors.New("empty response text")
		}
		return r.text, nil
	}
}

// sleepCtx sleeps for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
