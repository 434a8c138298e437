package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}

	if cfg.PollInterval() != 5*time.Second {
		t.Errorf("unexpected poll interval: %v", cfg.PollInterval())
	}
	if cfg.IdleThreshold() != 5*time.Minute {
		t.Errorf("unexpected idle threshold: %v", cfg.IdleThreshold())
	}
	if cfg.DebounceWindow() != time.Second {
		t.Errorf("unexpected debounce window: %v", cfg.DebounceWindow())
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad version", func(c *Config) { c.Version = 99 }},
		{"empty root", func(c *Config) { c.Watch.Roots = []string{"  "} }},
		{"extension without dot", func(c *Config) { c.Watch.IncludeExtensions = []string{"py"} }},
		{"debounce too small", func(c *Config) { c.Watch.DebounceMs = 10 }},
		{"zero max file size", func(c *Config) { c.Watch.MaxFileSize = 0 }},
		{"zero poll interval", func(c *Config) { c.Sampler.PollIntervalSec = 0 }},
		{"zero idle threshold", func(c *Config) { c.Sampler.IdleThresholdMin = 0 }},
		{"empty storage path", func(c *Config) { c.Storage.Path = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Sampler.PollIntervalSec != 5 {
		t.Errorf("expected default poll interval, got %d", cfg.Sampler.PollIntervalSec)
	}
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
version = 1

[watch]
roots = ["/home/user/proj"]
include_extensions = [".py", ".go"]
debounce_ms = 500

[sampler]
poll_interval_sec = 3
idle_threshold_min = 10
`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(cfg.Watch.Roots) != 1 || cfg.Watch.Roots[0] != "/home/user/proj" {
		t.Errorf("roots not loaded: %v", cfg.Watch.Roots)
	}
	if cfg.Watch.DebounceMs != 500 {
		t.Errorf("debounce not loaded: %d", cfg.Watch.DebounceMs)
	}
	if cfg.Sampler.IdleThresholdMin != 10 {
		t.Errorf("idle threshold not loaded: %d", cfg.Sampler.IdleThresholdMin)
	}
	// Values absent from the file keep defaults.
	if cfg.Watch.MaxFileSize != 2<<20 {
		t.Errorf("max file size default lost: %d", cfg.Watch.MaxFileSize)
	}
}

func TestLoadJSONValidatesSchema(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.json")
	if err := os.WriteFile(good, []byte(`{"version": 1, "watch": {"roots": ["/proj"], "debounce_ms": 800}}`), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(good)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Watch.DebounceMs != 800 {
		t.Errorf("debounce not loaded: %d", cfg.Watch.DebounceMs)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`{"version": 1, "watch": {"debounce_ms": "fast"}}`), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(bad); err == nil {
		t.Error("expected schema error for string debounce_ms")
	}

	unknown := filepath.Join(dir, "unknown.json")
	if err := os.WriteFile(unknown, []byte(`{"version": 1, "wach": {}}`), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(unknown); err == nil {
		t.Error("expected schema error for unknown key")
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
version: 1
watch:
  roots:
    - /proj
sampler:
  poll_interval_sec: 2
`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Sampler.PollIntervalSec != 2 {
		t.Errorf("poll interval not loaded: %d", cfg.Sampler.PollIntervalSec)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DAYLOG_DB_PATH", "/tmp/override.db")
	t.Setenv("DAYLOG_POLL_INTERVAL_SEC", "7")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Storage.Path != "/tmp/override.db" {
		t.Errorf("db path override not applied: %s", cfg.Storage.Path)
	}
	if cfg.Sampler.PollIntervalSec != 7 {
		t.Errorf("poll interval override not applied: %d", cfg.Sampler.PollIntervalSec)
	}
}

func TestLoaderReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("version = 1\n[sampler]\npoll_interval_sec = 5\n"), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	l, err := NewLoader(path)
	if err != nil {
		t.Fatalf("NewLoader failed: %v", err)
	}
	defer l.Close()

	changed := make(chan *Config, 1)
	l.OnChange(func(c *Config) {
		select {
		case changed <- c:
		default:
		}
	})

	if err := os.WriteFile(path, []byte("version = 1\n[sampler]\npoll_interval_sec = 9\n"), 0600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-changed:
		if cfg.Sampler.PollIntervalSec != 9 {
			t.Errorf("expected reloaded value 9, got %d", cfg.Sampler.PollIntervalSec)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	if l.Config().Sampler.PollIntervalSec != 9 {
		t.Errorf("active config not replaced")
	}
}

func TestLoaderKeepsOldConfigOnBadReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("version = 1\n"), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	l, err := NewLoader(path)
	if err != nil {
		t.Fatalf("NewLoader failed: %v", err)
	}
	defer l.Close()

	if err := os.WriteFile(path, []byte("version = 1\n[watch]\ndebounce_ms = 1\n"), 0600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case err := <-l.Errors():
		if err == nil {
			t.Error("expected reload error")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload error")
	}

	if l.Config().Watch.DebounceMs != 1000 {
		t.Errorf("invalid reload must not replace config, got %d", l.Config().Watch.DebounceMs)
	}
}
