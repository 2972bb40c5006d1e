package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Pipeline.LookbackMinutes != 30 || cfg.Pipeline.ShortIntervalSeconds != 3600 {
		t.Fatalf("unexpected coalescing defaults: %+v", cfg.Pipeline)
	}
	if cfg.Pipeline.MinEngagementSeconds != 60 {
		t.Fatalf("expected min engagement 60s, got %d", cfg.Pipeline.MinEngagementSeconds)
	}
	if cfg.Pipeline.ImageRiskThreshold != 0.7 {
		t.Fatalf("expected threshold 0.7, got %v", cfg.Pipeline.ImageRiskThreshold)
	}
	if cfg.Pipeline.NightStartHour != 22 || cfg.Pipeline.NightEndHour != 6 {
		t.Fatalf("unexpected night window: %+v", cfg.Pipeline)
	}
	if len(cfg.Thumbnail.Qualities) != 4 || cfg.Thumbnail.Qualities[0] != "maxresdefault" {
		t.Fatalf("unexpected thumbnail qualities: %v", cfg.Thumbnail.Qualities)
	}
	if cfg.DB.Provider != "memory" || cfg.Storage.Provider != "local" {
		t.Fatalf("unexpected provider defaults: db=%q storage=%q", cfg.DB.Provider, cfg.Storage.Provider)
	}
	if cfg.Storage.Prefix != "thumbnails" {
		t.Fatalf("expected default storage prefix, got %q", cfg.Storage.Prefix)
	}
	if cfg.PubSub.Provider != "pubsub" || cfg.PubSub.TopicName != "risk-alerts" {
		t.Fatalf("unexpected pubsub defaults: %+v", cfg.PubSub)
	}
	if cfg.Alerts.Workers != 2 || cfg.Alerts.QueueDepth != 64 {
		t.Fatalf("unexpected alert defaults: %+v", cfg.Alerts)
	}
	if got := cfg.Pipeline.LookbackWindow(); got != 30*time.Minute {
		t.Fatalf("expected 30m lookback window, got %v", got)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  timeout_seconds: 30
auth:
  enabled: true
  api_key: secret
db:
  provider: postgres
  dsn: postgres://localhost/monitor
pipeline:
  lookback_minutes: 15
  short_interval_seconds: 600
  image_risk_threshold: 0.5
alerts:
  workers: 4
  smtp:
    host: smtp.example.com
    from: alerts@safescope.io
roster:
  parent@example.com:
    - kid@example.com
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.DB.Provider != "postgres" || cfg.DB.DSN == "" {
		t.Fatalf("expected postgres db config: %+v", cfg.DB)
	}
	if cfg.Pipeline.LookbackMinutes != 15 || cfg.Pipeline.ShortIntervalSeconds != 600 {
		t.Fatalf("expected coalescing overrides to apply: %+v", cfg.Pipeline)
	}
	if cfg.Alerts.Workers != 4 || cfg.Alerts.SMTP.Host != "smtp.example.com" {
		t.Fatalf("expected alert overrides to apply: %+v", cfg.Alerts)
	}
	children := cfg.Roster["parent@example.com"]
	if len(children) != 1 || children[0] != "kid@example.com" {
		t.Fatalf("expected roster to be loaded: %+v", cfg.Roster)
	}
	if got := cfg.Server.RequestTimeout(); got != 30*time.Second {
		t.Fatalf("expected request timeout 30s, got %v", got)
	}
}

func TestConfigValidateAllowsMemoryPublisher(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cfg.PubSub.Enabled = true
	cfg.PubSub.Provider = "memory"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"auth without key", func(c *Config) { c.Auth.Enabled = true }},
		{"postgres without dsn", func(c *Config) { c.DB.Provider = "postgres" }},
		{"gcs without bucket", func(c *Config) { c.Storage.Provider = "gcs" }},
		{"zero lookback", func(c *Config) { c.Pipeline.LookbackMinutes = 0 }},
		{"threshold out of range", func(c *Config) { c.Pipeline.ImageRiskThreshold = 1.5 }},
		{"http scorer without endpoint", func(c *Config) { c.Scorer.Provider = "http" }},
		{"http classifier without endpoint", func(c *Config) { c.Classifier.Provider = "http" }},
		{"zero alert workers", func(c *Config) { c.Alerts.Workers = 0 }},
		{"smtp host without from", func(c *Config) { c.Alerts.SMTP.Host = "smtp.example.com" }},
		{"pubsub without project", func(c *Config) { c.PubSub.Enabled = true }},
		{"pubsub unknown provider", func(c *Config) {
			c.PubSub.Enabled = true
			c.PubSub.Provider = "redis"
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg, err := Load("")
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for %q", tc.name)
			}
		})
	}
}
