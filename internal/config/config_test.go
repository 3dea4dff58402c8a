package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(`
correlation:
  window: 10m
  minAlerts: 5
  noisePercentile: 40
store:
  driver: sqlite
  dsn: file:test.db
`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("TELEOPS_RCA_LLM_MODEL", "tele-llm-3b")
	t.Setenv("TELEOPS_RCA_CORRELATION_MIN_ALERTS", "7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Correlation.Window != 10*time.Minute {
		t.Fatalf("expected window from file, got %v", cfg.Correlation.Window)
	}
	if cfg.Correlation.MinAlerts != 7 {
		t.Fatalf("expected env override of minAlerts, got %d", cfg.Correlation.MinAlerts)
	}
	if cfg.Correlation.NoisePercentile != 40 {
		t.Fatalf("expected percentile 40, got %v", cfg.Correlation.NoisePercentile)
	}
	if cfg.Correlation.GroupingTag != "incident" {
		t.Fatalf("expected default grouping tag, got %q", cfg.Correlation.GroupingTag)
	}
	if cfg.Grounded.Model != "tele-llm-3b" {
		t.Fatalf("expected model from env, got %q", cfg.Grounded.Model)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Fatalf("expected sqlite driver, got %q", cfg.Store.Driver)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestValidateRejectsBadParameters(t *testing.T) {
	cases := map[string]func(*Config){
		"window":     func(c *Config) { c.Correlation.Window = 0 },
		"floor":      func(c *Config) { c.Correlation.MinAlerts = 0 },
		"percentile": func(c *Config) { c.Correlation.NoisePercentile = 120 },
		"model":      func(c *Config) { c.Grounded.Model = "baseline-rules" },
		"driver":     func(c *Config) { c.Store.Driver = "mongo" },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}
