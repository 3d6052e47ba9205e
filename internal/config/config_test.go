package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := Validate(DefaultConfig()); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero attempts", func(c *Config) { c.Resolver.MaxAttempts = 0 }},
		{"bad api url", func(c *Config) { c.Site.APIURL = "ftp://api" }},
		{"bad pattern", func(c *Config) { c.Resolver.BlockIDPattern = "(" }},
		{"zero checkpoint", func(c *Config) { c.Session.CheckpointEvery = 0 }},
		{"negative cap", func(c *Config) { c.Session.MaxPhones = -1 }},
		{"unknown export", func(c *Config) { c.Storage.Exports = []string{"xml"} }},
		{"mongo export without uri", func(c *Config) { c.Storage.Exports = []string{"mongodb"} }},
		{"postgres without dsn", func(c *Config) { c.Settings.Backend = "postgres" }},
		{"unknown backend", func(c *Config) { c.Settings.Backend = "redis" }},
		{"page range", func(c *Config) { c.Acquisition.EndPage = 0 }},
		{"log level", func(c *Config) { c.Logging.Level = "trace" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadFromFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "phonegoat.yaml")
	content := `
resolver:
  max_attempts: 3
session:
  max_phones: 25
  short_delay: 250ms
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PHONEGOAT_SETTINGS_BACKEND", "memory")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Resolver.MaxAttempts != 3 {
		t.Errorf("expected max_attempts 3, got %d", cfg.Resolver.MaxAttempts)
	}
	if cfg.Session.MaxPhones != 25 {
		t.Errorf("expected max_phones 25, got %d", cfg.Session.MaxPhones)
	}
	if cfg.Session.ShortDelay != 250*time.Millisecond {
		t.Errorf("expected short_delay 250ms, got %s", cfg.Session.ShortDelay)
	}
	if cfg.Settings.Backend != "memory" {
		t.Errorf("env override not applied, backend = %q", cfg.Settings.Backend)
	}
	if cfg.Resolver.RetryBackoff != 2*time.Second {
		t.Errorf("default retry_backoff lost, got %s", cfg.Resolver.RetryBackoff)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}
