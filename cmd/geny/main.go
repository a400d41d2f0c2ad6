// Geny is a persona agent daemon: a rate-limited chat pipeline over a
// generative-text API with a persistent world state that ages on its
// own virtual clock.
//
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]), with GENY_*
// environment overrides applied on top.
//
// Usage:
//
//	geny serve              Start the API server and background loops
//	geny ask <message>      Ask a single question (for testing)
//	geny version            Print version and build information
//	geny -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/geny-ai/geny/internal/api"
	"github.com/geny-ai/geny/internal/buildinfo"
	"github.com/geny-ai/geny/internal/config"
	"github.com/geny-ai/geny/internal/events"
	"github.com/geny-ai/geny/internal/interactions"
	"github.com/geny-ai/geny/internal/loops"
	"github.com/geny-ai/geny/internal/orchestrator"
	"github.com/geny-ai/geny/internal/ratelimit"
	"github.com/geny-ai/geny/internal/upstream"
	"github.com/geny-ai/geny/internal/world"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run] so the full
// startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the geny command. All OS-level
// dependencies are injected: ctx controls process lifetime, stdout and
// stderr receive all output, args is os.Args[1:]. Arguments are parsed
// by hand because the flag package's package-level state interferes
// with calling run concurrently from tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: geny ask <message>")
		}
		return runAsk(ctx, stdout, stderr, configPath, strings.Join(cmdArgs, " "))
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// loadConfig locates and parses the configuration. A missing config
// file is not fatal for serve/ask: defaults plus GENY_* environment
// overrides are enough to run.
func loadConfig(explicit string) (*config.Config, string, error) {
	path, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, "", err
		}
		return config.Default(), "(defaults)", nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// buildStack constructs the full pipeline from config: world state,
// interaction store, upstream gate, limiter, orchestrator, loops.
type stack struct {
	cfg     *config.Config
	state   *world.State
	store   *interactions.Store
	bus     *events.Bus
	orch    *orchestrator.Orchestrator
	nightly *orchestrator.Nightly
	runners map[string]*loops.Runner
}

func buildStack(cfg *config.Config, logger *slog.Logger) (*stack, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	state, err := world.NewState(
		filepath.Join(cfg.DataDir, "world.json"),
		world.Caps{
			Diary:    cfg.World.DiaryCap,
			Feelings: cfg.World.FeelingsCap,
			Presence: cfg.World.PresenceCap,
		},
		cfg.World.VirtualTimeScale,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("load world state: %w", err)
	}

	store, err := interactions.NewStore(
		filepath.Join(cfg.DataDir, "interactions.db"),
		filepath.Join(cfg.DataDir, "interactions.json"),
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("open interaction store: %w", err)
	}

	client := upstream.NewGeminiClient(
		cfg.Upstream.APIKey,
		cfg.Upstream.Model,
		cfg.Upstream.BaseURL,
		cfg.Upstream.Temperature,
		logger,
	)
	gate := upstream.NewGate(client, cfg.Upstream.APIKey != "", upstream.GateConfig{
		MaxRetries:      cfg.Upstream.MaxRetries,
		AttemptTimeout:  cfg.Upstream.AttemptTimeout(),
		FailThreshold:   cfg.Upstream.FailThreshold,
		RecoveryTimeout: cfg.Upstream.RecoveryTimeout(),
		BackoffBase:     cfg.Upstream.BackoffBase(),
		BackoffCap:      cfg.Upstream.BackoffCap(),
	}, logger)

	bus := events.New()
	limiter := ratelimit.New(cfg.RateLimit.ChatLimit, cfg.RateLimit.Window())
	orch := orchestrator.New(state, gate, limiter, store, bus, cfg.World.AutoDiary, logger)
	nightly := orchestrator.NewNightly(state, store, bus, logger)

	scale := cfg.World.VirtualTimeScale
	exploration := loops.NewExploration(state, gate, limiter, bus, logger)
	movement := loops.NewMovement(state, bus, logger)
	runners := map[string]*loops.Runner{
		"exploration": loops.NewRunner("exploration",
			loops.Interval(cfg.Loops.Exploration.BaseInterval(), scale),
			exploration.Tick, logger),
		"movement": loops.NewRunner("movement",
			loops.Interval(cfg.Loops.Movement.BaseInterval(), scale),
			movement.Tick, logger),
	}

	return &stack{
		cfg:     cfg,
		state:   state,
		store:   store,
		bus:     bus,
		orch:    orch,
		nightly: nightly,
		runners: runners,
	}, nil
}

// runServe starts everything and blocks until SIGINT/SIGTERM.
//
// The shutdown sequence is:
//  1. SIGINT or SIGTERM cancels the context
//  2. The HTTP server drains in-flight requests
//  3. Background loops stop and the world saver flushes
//  4. The interaction store closes via defer
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting Geny",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure at the configured level; the Info logger above only
	// covers the startup banner.
	if level, err := config.ParseLogLevel(cfg.LogLevel); err == nil {
		logger = newLogger(stdout, level)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.Upstream.Model,
		"chat_limit", cfg.RateLimit.ChatLimit,
		"virtual_time_scale", cfg.World.VirtualTimeScale,
	)
	if cfg.Upstream.APIKey == "" {
		logger.Warn("no API key configured - replies will use local synthesis only")
	}

	st, err := buildStack(cfg, logger)
	if err != nil {
		return err
	}
	defer st.store.Close()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st.state.Saver().Start(ctx)

	if cfg.Loops.Exploration.Enabled {
		st.runners["exploration"].Start(ctx)
	}
	if cfg.Loops.Movement.Enabled {
		st.runners["movement"].Start(ctx)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Listen.Address, cfg.Listen.Port)
	server := api.NewServer(addr, st.orch, st.state, st.store, st.bus, st.nightly, st.runners, ctx, logger)

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)

		for _, r := range st.runners {
			if r.Running() {
				r.Stop()
			}
		}
		// The saver's context is already cancelled; Stop waits for the
		// worker to drain, then SaveNow catches any straggler.
		st.state.Saver().Stop()
		if err := st.state.Saver().SaveNow(); err != nil {
			logger.Error("final world save failed", "error", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("Geny stopped")
	return nil
}

// runAsk answers a single message and exits. Useful for smoke-testing
// a deployment without the HTTP server.
func runAsk(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath, message string) error {
	logger := newLogger(stderr, slog.LevelWarn)

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	st, err := buildStack(cfg, logger)
	if err != nil {
		return err
	}
	defer st.store.Close()

	res, err := st.orch.Reply(ctx, message)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}
	fmt.Fprintln(stdout, res.Reply)
	if res.Status != orchestrator.StatusOK {
		fmt.Fprintf(stderr, "(status: %s, source: %s)\n", res.Status, res.Source)
	}
	return nil
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Geny - Persona Agent Daemon")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: geny [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server and background loops")
	fmt.Fprintln(w, "  ask          Ask a single question (for testing)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	for _, p := range config.DefaultSearchPaths() {
		fmt.Fprintf(w, "  %s\n", p)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment overrides (win over the file): GENY_API_KEY,")
	fmt.Fprintln(w, "GENY_MODEL, GENY_RATE_LIMIT, GENY_VIRTUAL_TIME_SCALE, ...")
	return nil
}

// newLogger creates a structured text logger writing to w at level.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}
