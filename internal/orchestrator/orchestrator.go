// Package orchestrator runs one chat turn end to end: admission
// through the rate limiter, prompt construction from world state, the
// guarded upstream call, local fallback synthesis, and at-most-once
// persistence of the interaction.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/geny-ai/geny/internal/events"
	"github.com/geny-ai/geny/internal/prompts"
	"github.com/geny-ai/geny/internal/ratelimit"
	"github.com/geny-ai/geny/internal/upstream"
	"github.com/geny-ai/geny/internal/world"
)

// RateScopeChat is the limiter scope chat turns draw from.
const RateScopeChat = "chat"

// Statuses describe how a turn was answered.
const (
	StatusOK       = "ok"
	StatusFallback = "fallback"
	StatusError    = "upstream_error"
)

// ErrRateLimited reports a turn rejected by the chat budget. The API
// layer pairs it with limiter stats for the response body.
var ErrRateLimited = errors.New("chat rate limit exceeded")

// Generator is the guarded upstream call. Satisfied by the upstream
// gate.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Recorder persists one interaction. Satisfied by the interaction
// store.
type Recorder interface {
	Record(input, output, source string) error
}

// Result is one answered chat turn.
type Result struct {
	RequestID string `json:"request_id"`
	Reply     string `json:"reply"`
	Status    string `json:"status"`
	Source    string `json:"source"`
}

// Orchestrator owns the chat pipeline.
type Orchestrator struct {
	state     *world.State
	gen       Generator
	limiter   *ratelimit.Limiter
	recorder  Recorder
	bus       *events.Bus
	logger    *slog.Logger
	autoDiary bool
}

// New wires a chat pipeline. limiter, recorder, and bus may be nil;
// autoDiary writes a short diary line after each successful model
// reply.
func New(state *world.State, gen Generator, limiter *ratelimit.Limiter, recorder Recorder, bus *events.Bus, autoDiary bool, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		state:     state,
		gen:       gen,
		limiter:   limiter,
		recorder:  recorder,
		bus:       bus,
		logger:    logger.With("component", "orchestrator"),
		autoDiary: autoDiary,
	}
}

// Stats returns the current chat budget, for rejection bodies and the
// summary endpoint.
func (o *Orchestrator) Stats() ratelimit.Stats {
	if o.limiter == nil {
		return ratelimit.Stats{}
	}
	return o.limiter.Stats(RateScopeChat)
}

// Reply answers one chat message.
//
// Empty input gets a clarification without touching the limiter or
// the upstream. A rejected budget returns ErrRateLimited. Credential
// failures surface as errors for the transport to map; transient
// upstream failures degrade to local synthesis so the turn still
// succeeds.
func (o *Orchestrator) Reply(ctx context.Context, message string) (Result, error) {
	requestID := uuid.NewString()
	started := time.Now()

	res := Result{RequestID: requestID}

	if strings.TrimSpace(message) == "" {
		res.Reply = prompts.Clarification
		res.Status = StatusOK
		res.Source = "local"
		return res, nil
	}

	o.bus.Emit(events.SourceChat, events.KindChatReceived, map[string]any{
		"request_id":  requestID,
		"message_len": len(message),
	})

	if o.limiter != nil && !o.limiter.Allow(RateScopeChat) {
		stats := o.limiter.Stats(RateScopeChat)
		o.bus.Emit(events.SourceChat, events.KindChatLimited, map[string]any{
			"request_id":       requestID,
			"reset_in_seconds": stats.ResetIn,
		})
		o.logger.Info("chat rejected by rate limit",
			"request_id", requestID,
			"count", stats.Count,
			"limit", stats.Limit)
		return res, ErrRateLimited
	}

	doc := o.state.Snapshot()
	age := o.state.VirtualAge()

	reply, source, err := o.generate(ctx, doc, age, message)
	if err != nil {
		res.Status = StatusError
		o.logger.Warn("chat failed", "request_id", requestID, "error", err)
		return res, err
	}
	res.Reply = reply
	res.Source = source
	if source == "model" {
		res.Status = StatusOK
	} else {
		res.Status = StatusFallback
	}

	o.record(message, reply, requestID)

	if o.autoDiary && source == "model" {
		o.state.AppendDiary(
			fmt.Sprintf("Talked with Andreas about: %s", clip(message, 80)),
			"", "chat")
	}

	o.bus.Emit(events.SourceChat, events.KindChatReplied, map[string]any{
		"request_id": requestID,
		"status":     res.Status,
		"source":     res.Source,
		"elapsed_ms": time.Since(started).Milliseconds(),
	})
	return res, nil
}

// generate calls the upstream and decides between model output, local
// fallback, and hard failure.
func (o *Orchestrator) generate(ctx context.Context, doc world.Document, age world.Age, message string) (reply, source string, err error) {
	if o.gen == nil {
		return o.synthesize(message, doc), "local", nil
	}

	raw, err := o.gen.Generate(ctx, prompts.Chat(doc, age, message))
	if err == nil {
		if trimmed := strings.TrimSpace(raw); trimmed != "" {
			return trimmed, "model", nil
		}
		o.logger.Info("upstream returned an empty reply, synthesizing locally")
		return o.synthesize(message, doc), "local", nil
	}

	switch upstream.KindOf(err) {
	case upstream.KindMissingCredential, upstream.KindUnauthorized:
		// Retrying or faking a reply would mask a configuration
		// problem the operator must fix.
		return "", "", err
	default:
		o.logger.Info("upstream unavailable, synthesizing locally", "error", err)
		return o.synthesize(message, doc), "local", nil
	}
}

func (o *Orchestrator) synthesize(message string, doc world.Document) string {
	reply := prompts.Synthesize(message, doc, o.state.CurrentStatus())
	if strings.TrimSpace(reply) == "" {
		reply = prompts.Quiet
	}
	return reply
}

// record persists the interaction. Persistence failure never fails the
// turn; the reply already exists.
func (o *Orchestrator) record(input, output, requestID string) {
	if o.recorder == nil {
		return
	}
	if err := o.recorder.Record(input, output, "chat"); err != nil {
		o.logger.Error("interaction not persisted",
			"request_id", requestID,
			"error", err)
	}
}

// clip shortens s to at most n bytes, cutting on a rune boundary.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
