package loops

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/geny-ai/geny/internal/events"
	"github.com/geny-ai/geny/internal/world"
)

// Generator produces text for a prompt. Satisfied by the upstream
// gate; loop ticks go through the same breaker and retry policy as
// chat.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Limiter admits or rejects one action in a named scope. Satisfied by
// the rate limiter.
type Limiter interface {
	Allow(scope string) bool
}

// RateScopeExploration is the limiter scope exploration ticks draw
// from, separate from the chat budget.
const RateScopeExploration = "exploration"

// Exploration is the curiosity loop: each tick pops a queued question,
// researches it through the upstream gate, and writes the insight to
// the diary. Upstream failures degrade to a local insight from the
// lexicon; the tick itself never fails on upstream errors.
type Exploration struct {
	state   *world.State
	gen     Generator
	limiter Limiter
	bus     *events.Bus
	logger  *slog.Logger
}

// NewExploration wires the curiosity behavior. limiter and bus may be
// nil.
func NewExploration(state *world.State, gen Generator, limiter Limiter, bus *events.Bus, logger *slog.Logger) *Exploration {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exploration{
		state:   state,
		gen:     gen,
		limiter: limiter,
		bus:     bus,
		logger:  logger.With("loop", "exploration"),
	}
}

// Tick runs one exploration iteration.
func (e *Exploration) Tick(ctx context.Context) error {
	q, ok := e.state.PopQuestion()
	if !ok {
		e.state.EnsureQuestions(10)
		if q, ok = e.state.PopQuestion(); !ok {
			return nil
		}
	}

	insight, source := e.research(ctx, q.Text)
	insight = clip(insight, 400)

	entry := fmt.Sprintf("I wondered: %s I learned: %s", q.Text, insight)
	e.state.AppendDiary(entry, insight, "exploration")
	e.state.SetProfile(q.Text, world.Profile{
		Summary: insight,
		Updated: time.Now().UTC(),
	})

	e.bus.Emit(events.SourceExploration, events.KindInsight, map[string]any{
		"question": q.Text,
		"source":   source,
	})
	e.logger.Debug("explored question", "question", q.Text, "source", source)
	return nil
}

// research answers the question, preferring the upstream model when
// the limiter admits the tick and the call succeeds.
func (e *Exploration) research(ctx context.Context, question string) (insight, source string) {
	if e.limiter != nil && !e.limiter.Allow(RateScopeExploration) {
		return e.localInsight(question), "local"
	}
	if e.gen == nil {
		return e.localInsight(question), "local"
	}

	prompt := fmt.Sprintf(
		"You are a curious learner. Answer this question in two or three plain sentences, no preamble: %s",
		question)
	answer, err := e.gen.Generate(ctx, prompt)
	if err != nil {
		e.logger.Debug("upstream research failed, using local insight", "error", err)
		return e.localInsight(question), "local"
	}
	return strings.TrimSpace(answer), "model"
}

// localInsight derives an answer from the lexicon when the model is
// unavailable.
func (e *Exploration) localInsight(question string) string {
	doc := e.state.Snapshot()
	lower := strings.ToLower(question)
	for name, entry := range doc.Lexicon {
		if strings.Contains(lower, name) && entry.Desc != "" {
			return fmt.Sprintf("%s I want to learn more about this when I can.", entry.Desc)
		}
	}
	return "I could not research this right now, but the question stays with me for next time."
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	cut := s[:n]
	if i := strings.LastIndexByte(cut, ' '); i > n/2 {
		cut = cut[:i]
	}
	return cut + "…"
}
