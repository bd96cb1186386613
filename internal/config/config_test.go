package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config failed validation: %v", err)
	}
}

func TestDefaultValues(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Session.UpdateIntervalSec != 30 {
		t.Errorf("update interval = %d, want 30", cfg.Session.UpdateIntervalSec)
	}
	if cfg.Submit.MaxPerWindow != 10 || cfg.Submit.RateWindowSec != 60 {
		t.Errorf("rate limit = %d per %ds, want 10 per 60s",
			cfg.Submit.MaxPerWindow, cfg.Submit.RateWindowSec)
	}
	if cfg.Arbiter.HeartbeatSec != 5 || cfg.Arbiter.StaleTimeoutSec != 15 {
		t.Errorf("arbiter timings = %d/%d, want 5/15",
			cfg.Arbiter.HeartbeatSec, cfg.Arbiter.StaleTimeoutSec)
	}
	if cfg.Dashboard.Weights.TabSwitch != 15 || cfg.Dashboard.Weights.Keystroke != 0.5 {
		t.Errorf("weights = %+v", cfg.Dashboard.Weights)
	}
	if cfg.Dashboard.Thresholds.Green != 50 || cfg.Dashboard.Thresholds.Yellow != 75 {
		t.Errorf("thresholds = %+v", cfg.Dashboard.Thresholds)
	}
	if cfg.Window() != 5*time.Minute {
		t.Errorf("window = %s, want 5m", cfg.Window())
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero update interval", func(c *Config) { c.Session.UpdateIntervalSec = 0 }},
		{"jitter above 1", func(c *Config) { c.Session.JitterPct = 1.5 }},
		{"delay bounds inverted", func(c *Config) {
			c.Session.InitialDelayMinSec = 10
			c.Session.InitialDelayMaxSec = 2
		}},
		{"zero rate window", func(c *Config) { c.Submit.RateWindowSec = 0 }},
		{"negative retries", func(c *Config) { c.Submit.Retries = -1 }},
		{"stale timeout below heartbeat", func(c *Config) {
			c.Arbiter.StaleTimeoutSec = 3
		}},
		{"zero rolling window", func(c *Config) { c.Tracking.RollingWindowSize = 0 }},
		{"inverted thresholds", func(c *Config) {
			c.Dashboard.Thresholds.Green = 80
			c.Dashboard.Thresholds.Yellow = 40
		}},
		{"sqlite without path", func(c *Config) { c.Storage.Type = "sqlite" }},
		{"unknown storage", func(c *Config) { c.Storage.Type = "papyrus" }},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := DefaultConfig()
			test.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "classpulse.toml")
	content := `
[session]
session_id = "CS101"
update_interval_sec = 45

[submit]
form_url = "https://example.com/formResponse"
max_per_window = 5

[submit.fields]
studentId = "entry.200"

[dashboard.thresholds]
green = 40
yellow = 70
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Session.SessionID != "CS101" {
		t.Errorf("session id = %q", cfg.Session.SessionID)
	}
	if cfg.Session.UpdateIntervalSec != 45 {
		t.Errorf("update interval = %d, want 45", cfg.Session.UpdateIntervalSec)
	}
	if cfg.Submit.MaxPerWindow != 5 {
		t.Errorf("max per window = %d, want 5", cfg.Submit.MaxPerWindow)
	}
	if cfg.Submit.Fields["studentId"] != "entry.200" {
		t.Errorf("fields = %v", cfg.Submit.Fields)
	}
	if cfg.Dashboard.Thresholds.Green != 40 {
		t.Errorf("green threshold = %v, want 40", cfg.Dashboard.Thresholds.Green)
	}
	// Untouched sections keep their defaults.
	if cfg.Arbiter.HeartbeatSec != 5 {
		t.Errorf("heartbeat = %d, want default 5", cfg.Arbiter.HeartbeatSec)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "classpulse.yaml")
	content := `
session:
  session_id: CS202
storage:
  type: sqlite
  path: /tmp/pulse.db
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Session.SessionID != "CS202" {
		t.Errorf("session id = %q", cfg.Session.SessionID)
	}
	if cfg.Storage.Type != "sqlite" || cfg.Storage.Path != "/tmp/pulse.db" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := NewLoader(filepath.Join(t.TempDir(), "nope.toml")).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Session.UpdateIntervalSec != 30 {
		t.Errorf("missing file did not yield defaults: %+v", cfg.Session)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "classpulse.toml")
	os.WriteFile(path, []byte("[session]\nupdate_interval_sec = 0\n"), 0600)

	if _, err := NewLoader(path).Load(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CLASSPULSE_SESSION_ID", "ENV101")
	t.Setenv("CLASSPULSE_LOG_LEVEL", "debug")

	cfg, err := NewLoader(filepath.Join(t.TempDir(), "none.toml")).Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Session.SessionID != "ENV101" {
		t.Errorf("session id = %q, want ENV101", cfg.Session.SessionID)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Logging.Level)
	}
}

func TestHotReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "classpulse.toml")
	os.WriteFile(path, []byte("[session]\nsession_id = \"before\"\n"), 0600)

	loader := NewLoader(path)
	if _, err := loader.Load(); err != nil {
		t.Fatal(err)
	}
	defer loader.Close()

	changed := make(chan *Config, 1)
	loader.OnChange(func(c *Config) { changed <- c })

	if err := loader.Watch(); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	os.WriteFile(path, []byte("[session]\nsession_id = \"after\"\n"), 0600)

	select {
	case cfg := <-changed:
		if cfg.Session.SessionID != "after" {
			t.Errorf("reloaded session id = %q, want after", cfg.Session.SessionID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reload callback never fired")
	}

	if got := loader.Config().Session.SessionID; got != "after" {
		t.Errorf("Config() = %q, want after", got)
	}
}
