// Package api implements the HTTP surface: chat, world views, loop
// administration, memory endpoints, the event stream, and the diary
// page.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/geny-ai/geny/internal/buildinfo"
	"github.com/geny-ai/geny/internal/events"
	"github.com/geny-ai/geny/internal/interactions"
	"github.com/geny-ai/geny/internal/loops"
	"github.com/geny-ai/geny/internal/orchestrator"
	"github.com/geny-ai/geny/internal/upstream"
	"github.com/geny-ai/geny/internal/world"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	addr    string
	orch    *orchestrator.Orchestrator
	state   *world.State
	store   *interactions.Store
	bus     *events.Bus
	nightly *orchestrator.Nightly
	runners map[string]*loops.Runner
	loopCtx context.Context
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates the API server. loopCtx bounds the lifetime of
// loops started over HTTP; cancel it on shutdown.
func NewServer(addr string, orch *orchestrator.Orchestrator, state *world.State, store *interactions.Store, bus *events.Bus, nightly *orchestrator.Nightly, runners map[string]*loops.Runner, loopCtx context.Context, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:    addr,
		orch:    orch,
		state:   state,
		store:   store,
		bus:     bus,
		nightly: nightly,
		runners: runners,
		loopCtx: loopCtx,
		logger:  logger,
	}
}

// Handler builds the route table. Exposed separately from Start for
// tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /chat", s.handleChat)

	mux.HandleFunc("GET /age", s.handleAge)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /relations", s.handleRelations)
	mux.HandleFunc("GET /life", s.handleLife)
	mux.HandleFunc("GET /world/time", s.handleWorldTime)
	mux.HandleFunc("GET /world/learning", s.handleWorldLearning)

	mux.HandleFunc("POST /world/exploration/start", s.handleLoopStart("exploration"))
	mux.HandleFunc("POST /world/exploration/stop", s.handleLoopStop("exploration"))
	mux.HandleFunc("GET /world/exploration/status", s.handleLoopStatus("exploration"))
	mux.HandleFunc("POST /world/move/start", s.handleLoopStart("movement"))
	mux.HandleFunc("POST /world/move/stop", s.handleLoopStop("movement"))
	mux.HandleFunc("GET /world/move/status", s.handleLoopStatus("movement"))

	mux.HandleFunc("GET /memory/recent", s.handleMemoryRecent)
	mux.HandleFunc("GET /memory/search", s.handleMemorySearch)
	mux.HandleFunc("GET /memory/export", s.handleMemoryExport)
	mux.HandleFunc("POST /memory/import", s.handleMemoryImport)

	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /diary", s.handleDiary)

	mux.HandleFunc("GET /summary", s.handleSummary)
	mux.HandleFunc("POST /admin/nightly", s.handleNightly)

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /", s.handleRoot)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests. Blocks until the listener fails
// or Shutdown is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}
	s.logger.Info("starting API server", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

type chatRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	res, err := s.orch.Reply(r.Context(), req.Message)
	if err == nil {
		writeJSON(w, res, s.logger)
		return
	}

	if errors.Is(err, orchestrator.ErrRateLimited) {
		stats := s.orch.Stats()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		writeJSON(w, map[string]any{
			"status":           "rate_limited",
			"limit":            stats.Limit,
			"count":            stats.Count,
			"window_seconds":   stats.WindowSeconds,
			"reset_in_seconds": stats.ResetIn,
		}, s.logger)
		return
	}

	switch upstream.KindOf(err) {
	case upstream.KindMissingCredential, upstream.KindUnauthorized:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		writeJSON(w, map[string]string{
			"status": "error",
			"error":  "upstream authentication failed",
		}, s.logger)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (s *Server) handleAge(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"age":      s.state.VirtualAge(),
		"sentence": s.state.AgeSentence(),
	}, s.logger)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.state.CurrentStatus(), s.logger)
}

func (s *Server) handleRelations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"relations": s.state.Relations()}, s.logger)
}

func (s *Server) handleLife(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.state.Life(), s.logger)
}

func (s *Server) handleWorldTime(w http.ResponseWriter, r *http.Request) {
	age := s.state.VirtualAge()
	writeJSON(w, map[string]any{
		"real_now":    age.NowReal,
		"virtual_now": age.NowVirtual,
		"scale":       age.Scale,
		"age":         age,
	}, s.logger)
}

func (s *Server) handleWorldLearning(w http.ResponseWriter, r *http.Request) {
	n := queryInt(r, "n", 10)

	doc := s.state.Snapshot()
	var insights []string
	for i := len(doc.Diary) - 1; i >= 0 && len(insights) < n; i-- {
		if doc.Diary[i].Insight != "" {
			insights = append(insights, doc.Diary[i].Insight)
		}
	}

	diary := doc.Diary
	if len(diary) > n {
		diary = diary[len(diary)-n:]
	}

	var recent []interactions.Interaction
	if s.store != nil {
		var err error
		recent, err = s.store.Recent(n)
		if err != nil {
			s.logger.Error("load recent interactions", "error", err)
		}
	}

	writeJSON(w, map[string]any{
		"life":                s.state.Life(),
		"recent_diary":        diary,
		"insights":            insights,
		"recent_interactions": recent,
	}, s.logger)
}

type loopStartRequest struct {
	BaseIntervalSeconds float64 `json:"base_interval_seconds"`
}

func (s *Server) handleLoopStart(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runner, ok := s.runners[name]
		if !ok {
			http.Error(w, "unknown loop", http.StatusNotFound)
			return
		}

		// Optional body; an empty body keeps the configured interval.
		var req loopStartRequest
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&req)
		}
		if req.BaseIntervalSeconds > 0 {
			base := time.Duration(req.BaseIntervalSeconds * float64(time.Second))
			runner.SetInterval(loops.Interval(base, s.state.Scale()))
		}

		if !runner.Start(s.loopCtx) {
			writeJSON(w, map[string]any{
				"result": "already_running",
				"status": runner.Status(),
			}, s.logger)
			return
		}
		s.bus.Emit(sourceFor(name), events.KindLoopStarted, map[string]any{"loop": name})
		writeJSON(w, map[string]any{
			"result": "started",
			"status": runner.Status(),
		}, s.logger)
	}
}

func (s *Server) handleLoopStop(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runner, ok := s.runners[name]
		if !ok {
			http.Error(w, "unknown loop", http.StatusNotFound)
			return
		}
		if !runner.Stop() {
			writeJSON(w, map[string]any{
				"result": "not_running",
				"status": runner.Status(),
			}, s.logger)
			return
		}
		s.bus.Emit(sourceFor(name), events.KindLoopStopped, map[string]any{"loop": name})
		writeJSON(w, map[string]any{
			"result": "stopped",
			"status": runner.Status(),
		}, s.logger)
	}
}

func (s *Server) handleLoopStatus(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runner, ok := s.runners[name]
		if !ok {
			http.Error(w, "unknown loop", http.StatusNotFound)
			return
		}
		writeJSON(w, runner.Status(), s.logger)
	}
}

func sourceFor(loop string) string {
	if loop == "movement" {
		return events.SourceMovement
	}
	return events.SourceExploration
}

func (s *Server) handleMemoryRecent(w http.ResponseWriter, r *http.Request) {
	n := queryInt(r, "n", 20)
	items, err := s.store.Recent(n)
	if err != nil {
		s.logger.Error("load recent interactions", "error", err)
		http.Error(w, "storage error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"interactions": items}, s.logger)
}

func (s *Server) handleMemorySearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		http.Error(w, "missing q parameter", http.StatusBadRequest)
		return
	}
	items, err := s.store.Search(q)
	if err != nil {
		s.logger.Error("search interactions", "error", err)
		http.Error(w, "storage error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"query": q, "interactions": items}, s.logger)
}

// exportDoc is the full memory export: the typed world document plus
// the interaction log. Import accepts the same shape.
type exportDoc struct {
	World        world.Document             `json:"world"`
	Interactions []interactions.Interaction `json:"interactions"`
}

func (s *Server) handleMemoryExport(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.SnapshotAll()
	if err != nil {
		s.logger.Error("export interactions", "error", err)
		http.Error(w, "storage error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="geny-memory.json"`)
	writeJSON(w, exportDoc{World: s.state.Snapshot(), Interactions: items}, s.logger)
}

func (s *Server) handleMemoryImport(w http.ResponseWriter, r *http.Request) {
	// Decoding into the typed document is the schema validation:
	// unknown shapes fail here instead of leaking into the world file.
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var doc exportDoc
	if err := dec.Decode(&doc); err != nil {
		http.Error(w, fmt.Sprintf("invalid memory document: %v", err), http.StatusBadRequest)
		return
	}

	s.state.Merge(doc.World)

	imported := 0
	if len(doc.Interactions) > 0 {
		var err error
		imported, err = s.store.Import(doc.Interactions)
		if err != nil {
			s.logger.Error("import interactions", "error", err)
			http.Error(w, "storage error", http.StatusInternalServerError)
			return
		}
	}

	writeJSON(w, map[string]any{
		"result":                "imported",
		"interactions_inserted": imported,
	}, s.logger)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.Count()
	if err != nil {
		s.logger.Error("count interactions", "error", err)
		http.Error(w, "storage error", http.StatusInternalServerError)
		return
	}

	summary := map[string]any{
		"total_interactions": count,
		"chat_budget":        s.orch.Stats(),
	}
	if last, ok, err := s.store.Last(); err == nil && ok {
		summary["last_interaction"] = last.Timestamp
	}
	writeJSON(w, summary, s.logger)
}

func (s *Server) handleNightly(w http.ResponseWriter, r *http.Request) {
	report, err := s.nightly.Run(r.Context())
	if err != nil {
		s.logger.Error("nightly maintenance failed", "error", err)
		http.Error(w, "maintenance failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, report, s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":         "healthy",
		"uptime_seconds": buildinfo.Uptime().Seconds(),
	}, s.logger)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, map[string]string{
		"name":    "Geny",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	return n
}
