// Package config handles Geny configuration loading.
//
// Configuration comes from a single YAML file discovered via
// [DefaultSearchPaths], with a final layer of environment-variable
// overrides (GENY_*, see [EnvOverrides]) applied on top. The
// environment wins so deployments can inject secrets and tuning knobs
// without editing the file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/geny/config.yaml, /etc/geny/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "geny", "config.yaml"))
	}

	paths = append(paths, "/etc/geny/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Geny configuration.
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	World     WorldConfig     `yaml:"world"`
	Loops     LoopsConfig     `yaml:"loops"`
	DataDir   string          `yaml:"data_dir"`
	LogLevel  string          `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// UpstreamConfig defines the text-generation API settings.
type UpstreamConfig struct {
	// APIKey authenticates against the generation API. Empty means the
	// gate fails fast with a missing-credential error and the
	// orchestrator runs on local synthesis only.
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
	// BaseURL overrides the provider endpoint (used by tests and proxies).
	BaseURL     string  `yaml:"base_url"`
	Temperature float64 `yaml:"temperature"`
	// MaxRetries is the total number of attempts per request (minimum 1).
	MaxRetries int `yaml:"max_retries"`
	// AttemptTimeoutSec bounds each individual attempt, not the whole call.
	AttemptTimeoutSec int `yaml:"attempt_timeout_sec"`
	// FailThreshold is the consecutive-failure count that opens the breaker.
	FailThreshold int `yaml:"fail_threshold"`
	// RecoverySec is how long the breaker stays open before a trial call.
	RecoverySec   int `yaml:"recovery_sec"`
	BackoffBaseMS int `yaml:"backoff_base_ms"`
	BackoffCapMS  int `yaml:"backoff_cap_ms"`
}

// AttemptTimeout returns the per-attempt timeout as a duration.
func (u UpstreamConfig) AttemptTimeout() time.Duration {
	return time.Duration(u.AttemptTimeoutSec) * time.Second
}

// RecoveryTimeout returns the breaker recovery window as a duration.
func (u UpstreamConfig) RecoveryTimeout() time.Duration {
	return time.Duration(u.RecoverySec) * time.Second
}

// BackoffBase returns the first backoff sleep as a duration.
func (u UpstreamConfig) BackoffBase() time.Duration {
	return time.Duration(u.BackoffBaseMS) * time.Millisecond
}

// BackoffCap returns the maximum backoff sleep as a duration.
func (u UpstreamConfig) BackoffCap() time.Duration {
	return time.Duration(u.BackoffCapMS) * time.Millisecond
}

// RateLimitConfig defines chat admission control.
type RateLimitConfig struct {
	// ChatLimit is the number of chat requests admitted per window.
	// Zero or negative disables limiting.
	ChatLimit int `yaml:"chat_limit"`
	// WindowSec is the trailing window length in seconds.
	WindowSec int `yaml:"window_sec"`
}

// Window returns the sliding-window length as a duration.
func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowSec) * time.Second
}

// WorldConfig defines world-state behavior.
type WorldConfig struct {
	// VirtualTimeScale maps real elapsed time to virtual time.
	// 2.0 means Geny ages twice as fast as the wall clock.
	VirtualTimeScale float64 `yaml:"virtual_time_scale"`
	DiaryCap         int     `yaml:"diary_cap"`
	FeelingsCap      int     `yaml:"feelings_cap"`
	PresenceCap      int     `yaml:"presence_cap"`
	// AutoDiary appends a short diary entry after each chat reply.
	AutoDiary bool `yaml:"auto_diary"`
}

// LoopsConfig defines the background loops.
type LoopsConfig struct {
	Exploration LoopConfig `yaml:"exploration"`
	Movement    LoopConfig `yaml:"movement"`
}

// LoopConfig defines one background loop.
type LoopConfig struct {
	// Enabled starts the loop automatically with `geny serve`.
	// Loops can always be started later via the admin endpoints.
	Enabled         bool `yaml:"enabled"`
	BaseIntervalSec int  `yaml:"base_interval_sec"`
}

// BaseInterval returns the configured base interval as a duration.
func (l LoopConfig) BaseInterval() time.Duration {
	return time.Duration(l.BaseIntervalSec) * time.Second
}

// EnvOverrides are the environment variables layered over the YAML file.
// Decoded with envconfig under the GENY_ prefix, e.g. GENY_API_KEY,
// GENY_RATE_LIMIT, GENY_VIRTUAL_TIME_SCALE. Pointer fields distinguish
// "unset" from zero values.
type EnvOverrides struct {
	APIKey           string   `envconfig:"API_KEY"`
	Model            string   `envconfig:"MODEL"`
	RateLimit        *int     `envconfig:"RATE_LIMIT"`
	VirtualTimeScale *float64 `envconfig:"VIRTUAL_TIME_SCALE"`
	AutoDiary        *bool    `envconfig:"AUTO_DIARY"`
	ExplorationOn    *bool    `envconfig:"EXPLORATION"`
	ExplorationSec   *int     `envconfig:"EXPLORATION_INTERVAL_SEC"`
	MovementOn       *bool    `envconfig:"MOVEMENT"`
	MovementSec      *int     `envconfig:"MOVEMENT_INTERVAL_SEC"`
	LogLevel         string   `envconfig:"LOG_LEVEL"`
	DataDir          string   `envconfig:"DATA_DIR"`
}

// Load reads and parses the config file at path, applies defaults,
// then applies GENY_* environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns a config with all defaults applied and no file input.
// Used by tests and by `geny serve` when no config file exists.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8090
	}
	if c.Upstream.Model == "" {
		c.Upstream.Model = "models/gemini-2.5-flash"
	}
	if c.Upstream.MaxRetries == 0 {
		c.Upstream.MaxRetries = 3
	}
	if c.Upstream.AttemptTimeoutSec == 0 {
		c.Upstream.AttemptTimeoutSec = 15
	}
	if c.Upstream.FailThreshold == 0 {
		c.Upstream.FailThreshold = 3
	}
	if c.Upstream.RecoverySec == 0 {
		c.Upstream.RecoverySec = 30
	}
	if c.Upstream.BackoffBaseMS == 0 {
		c.Upstream.BackoffBaseMS = 500
	}
	if c.Upstream.BackoffCapMS == 0 {
		c.Upstream.BackoffCapMS = 10000
	}
	if c.Upstream.Temperature == 0 {
		c.Upstream.Temperature = 0.7
	}
	if c.RateLimit.ChatLimit == 0 {
		c.RateLimit.ChatLimit = 4
	}
	if c.RateLimit.WindowSec == 0 {
		c.RateLimit.WindowSec = 3600
	}
	if c.World.VirtualTimeScale == 0 {
		c.World.VirtualTimeScale = 2.0
	}
	if c.World.DiaryCap == 0 {
		c.World.DiaryCap = 1000
	}
	if c.World.FeelingsCap == 0 {
		c.World.FeelingsCap = 500
	}
	if c.World.PresenceCap == 0 {
		c.World.PresenceCap = 500
	}
	if c.Loops.Exploration.BaseIntervalSec == 0 {
		c.Loops.Exploration.BaseIntervalSec = 600
	}
	if c.Loops.Movement.BaseIntervalSec == 0 {
		c.Loops.Movement.BaseIntervalSec = 120
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func (c *Config) applyEnv() error {
	var env EnvOverrides
	if err := envconfig.Process("GENY", &env); err != nil {
		return fmt.Errorf("environment overrides: %w", err)
	}

	if env.APIKey != "" {
		c.Upstream.APIKey = env.APIKey
	}
	if env.Model != "" {
		c.Upstream.Model = env.Model
	}
	if env.RateLimit != nil {
		c.RateLimit.ChatLimit = *env.RateLimit
	}
	if env.VirtualTimeScale != nil {
		c.World.VirtualTimeScale = *env.VirtualTimeScale
	}
	if env.AutoDiary != nil {
		c.World.AutoDiary = *env.AutoDiary
	}
	if env.ExplorationOn != nil {
		c.Loops.Exploration.Enabled = *env.ExplorationOn
	}
	if env.ExplorationSec != nil {
		c.Loops.Exploration.BaseIntervalSec = *env.ExplorationSec
	}
	if env.MovementOn != nil {
		c.Loops.Movement.Enabled = *env.MovementOn
	}
	if env.MovementSec != nil {
		c.Loops.Movement.BaseIntervalSec = *env.MovementSec
	}
	if env.LogLevel != "" {
		c.LogLevel = env.LogLevel
	}
	if env.DataDir != "" {
		c.DataDir = env.DataDir
	}
	return nil
}

// Validate checks values that would cause confusing failures later.
func (c *Config) Validate() error {
	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range", c.Listen.Port)
	}
	if c.Upstream.MaxRetries < 1 {
		return fmt.Errorf("upstream.max_retries must be >= 1, got %d", c.Upstream.MaxRetries)
	}
	if c.Upstream.FailThreshold < 1 {
		return fmt.Errorf("upstream.fail_threshold must be >= 1, got %d", c.Upstream.FailThreshold)
	}
	if c.RateLimit.WindowSec < 1 {
		return fmt.Errorf("rate_limit.window_sec must be >= 1, got %d", c.RateLimit.WindowSec)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}
