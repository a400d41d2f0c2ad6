package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFindConfig_Explicit(t *testing.T) {
	path := writeConfig(t, "listen:\n  port: 9999\n")

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q", path, got)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	if _, err := FindConfig("/nonexistent/config.yaml"); err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("listen:\n  port: 8080\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "{}\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Listen.Port != 8090 {
		t.Errorf("port = %d, want 8090", cfg.Listen.Port)
	}
	if cfg.Upstream.Model != "models/gemini-2.5-flash" {
		t.Errorf("model = %q", cfg.Upstream.Model)
	}
	if cfg.Upstream.FailThreshold != 3 {
		t.Errorf("fail threshold = %d, want 3", cfg.Upstream.FailThreshold)
	}
	if cfg.Upstream.RecoveryTimeout() != 30*time.Second {
		t.Errorf("recovery = %v, want 30s", cfg.Upstream.RecoveryTimeout())
	}
	if cfg.RateLimit.ChatLimit != 4 || cfg.RateLimit.Window() != time.Hour {
		t.Errorf("rate limit = %d per %v, want 4 per 1h", cfg.RateLimit.ChatLimit, cfg.RateLimit.Window())
	}
	if cfg.World.VirtualTimeScale != 2.0 {
		t.Errorf("scale = %v, want 2.0", cfg.World.VirtualTimeScale)
	}
	if cfg.World.DiaryCap != 1000 || cfg.World.FeelingsCap != 500 || cfg.World.PresenceCap != 500 {
		t.Errorf("caps = %d/%d/%d", cfg.World.DiaryCap, cfg.World.FeelingsCap, cfg.World.PresenceCap)
	}
}

func TestLoad_FileValues(t *testing.T) {
	path := writeConfig(t, `
listen:
  port: 9001
upstream:
  api_key: file-key
  max_retries: 5
rate_limit:
  chat_limit: 12
  window_sec: 600
world:
  virtual_time_scale: 4.5
loops:
  exploration:
    enabled: true
    base_interval_sec: 300
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen.Port != 9001 || cfg.Upstream.APIKey != "file-key" || cfg.Upstream.MaxRetries != 5 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.RateLimit.ChatLimit != 12 || cfg.RateLimit.Window() != 10*time.Minute {
		t.Errorf("rate limit = %+v", cfg.RateLimit)
	}
	if !cfg.Loops.Exploration.Enabled || cfg.Loops.Exploration.BaseInterval() != 5*time.Minute {
		t.Errorf("exploration = %+v", cfg.Loops.Exploration)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "upstream:\n  api_key: file-key\nrate_limit:\n  chat_limit: 4\n")

	t.Setenv("GENY_API_KEY", "env-key")
	t.Setenv("GENY_RATE_LIMIT", "9")
	t.Setenv("GENY_VIRTUAL_TIME_SCALE", "7.5")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Upstream.APIKey != "env-key" {
		t.Errorf("api key = %q, env must win over the file", cfg.Upstream.APIKey)
	}
	if cfg.RateLimit.ChatLimit != 9 {
		t.Errorf("chat limit = %d, want 9", cfg.RateLimit.ChatLimit)
	}
	if cfg.World.VirtualTimeScale != 7.5 {
		t.Errorf("scale = %v, want 7.5", cfg.World.VirtualTimeScale)
	}
}

func TestLoad_DisabledRateLimitSurvivesDefaults(t *testing.T) {
	path := writeConfig(t, "rate_limit:\n  chat_limit: -1\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RateLimit.ChatLimit != -1 {
		t.Errorf("chat limit = %d, want -1 (disabled)", cfg.RateLimit.ChatLimit)
	}
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad port", "listen:\n  port: 70000\n"},
		{"bad log level", "log_level: shouty\n"},
		{"bad retries", "upstream:\n  max_retries: -2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.yaml)
			if _, err := Load(path); err == nil {
				t.Errorf("Load accepted %q", tt.yaml)
			}
		})
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default() does not validate: %v", err)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"trace", false},
		{"debug", false},
		{"info", false},
		{"warn", false},
		{"error", false},
		{"TRACE", false},
		{"verbose", true},
	}
	for _, tt := range tests {
		if _, err := ParseLogLevel(tt.in); (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) err = %v", tt.in, err)
		}
	}
}
