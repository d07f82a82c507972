package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "latencyguard.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LATENCYGUARD_CONFIG", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Detector.Trees != 100 || cfg.Detector.SampleSize != 256 || cfg.Detector.Seed != 42 {
		t.Fatalf("unexpected detector defaults: %+v", cfg.Detector)
	}
	if cfg.Detector.Contamination != 0.05 {
		t.Fatalf("expected contamination 0.05, got %v", cfg.Detector.Contamination)
	}
	if cfg.Pipeline.ChannelTimeout != 8*time.Second {
		t.Fatalf("expected 8s channel timeout, got %s", cfg.Pipeline.ChannelTimeout)
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
detector:
  trees: 50
  contamination: 0.1
pipeline:
  interval: 30s
channels:
  - name: ops-slack
    type: webhook
    url: https://hooks.example.com/T000
  - name: stdout
    type: console
collector:
  enabled: true
  endpoints: ["http://127.0.0.1:5001/ping"]
`)
	t.Setenv("LATENCYGUARD_DETECTOR_SEED", "7")
	t.Setenv("LATENCYGUARD_STORE_PATH", "/tmp/guard.db")
	t.Setenv("LATENCYGUARD_COLLECTOR_ENDPOINTS", "http://a/ping, http://b/slow")
	t.Setenv("LATENCYGUARD_ALLOWED_ORIGINS", "http://dash.local,")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Detector.Trees != 50 || cfg.Detector.Contamination != 0.1 {
		t.Fatalf("file values not applied: %+v", cfg.Detector)
	}
	if cfg.Detector.SampleSize != 256 {
		t.Fatalf("defaults should survive partial files, got sampleSize %d", cfg.Detector.SampleSize)
	}
	if cfg.Detector.Seed != 7 {
		t.Fatalf("env override not applied, seed=%d", cfg.Detector.Seed)
	}
	if cfg.Store.Path != "/tmp/guard.db" {
		t.Fatalf("unexpected store path %q", cfg.Store.Path)
	}
	if cfg.Pipeline.Interval != 30*time.Second {
		t.Fatalf("unexpected interval %s", cfg.Pipeline.Interval)
	}
	if len(cfg.Channels) != 2 || cfg.Channels[0].Type != ChannelWebhook {
		t.Fatalf("unexpected channels: %+v", cfg.Channels)
	}
	if got := cfg.Collector.Endpoints; len(got) != 2 || got[1] != "http://b/slow" {
		t.Fatalf("unexpected endpoints: %v", got)
	}
	if got := cfg.Server.AllowedOrigins; len(got) != 1 || got[0] != "http://dash.local" {
		t.Fatalf("unexpected allowed origins: %v", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"contamination zero", func(c *Config) { c.Detector.Contamination = 0 }, "contamination"},
		{"contamination too high", func(c *Config) { c.Detector.Contamination = 0.6 }, "contamination"},
		{"no trees", func(c *Config) { c.Detector.Trees = 0 }, "trees"},
		{"tiny sample", func(c *Config) { c.Detector.SampleSize = 1 }, "sampleSize"},
		{"unknown channel", func(c *Config) { c.Channels = []ChannelConfig{{Name: "x", Type: "pager"}} }, "unknown channel type"},
		{"webhook without url", func(c *Config) { c.Channels = []ChannelConfig{{Name: "x", Type: ChannelWebhook}} }, "url is required"},
		{"duplicate names", func(c *Config) {
			c.Channels = []ChannelConfig{{Name: "x", Type: ChannelConsole}, {Name: "x", Type: ChannelConsole}}
		}, "duplicate"},
		{"lock without addr", func(c *Config) { c.Lock.Enabled = true }, "lock.addr"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in %v", tc.want, err)
			}
		})
	}

	cfg := defaultConfig()
	cfg.Detector.Contamination = 0.5
	if err := cfg.Validate(); err != nil {
		t.Fatalf("0.5 is the inclusive upper bound: %v", err)
	}
}
