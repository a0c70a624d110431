package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLoadServerConfigPort(t *testing.T) {
	t.Setenv("PORT", "9090")
	cfg, err := loadServerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr != ":9090" {
		t.Fatalf("expected :9090, got %s", cfg.Addr)
	}

	t.Setenv("PORT", "127.0.0.1:7000")
	cfg, _ = loadServerConfig()
	if cfg.Addr != "127.0.0.1:7000" {
		t.Fatalf("expected host:port passthrough, got %s", cfg.Addr)
	}
}

func TestPipelineDefaults(t *testing.T) {
	t.Setenv("PIPELINE_CONFIG", "")
	cfg, err := loadPipelineConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SessionCapacity != 10 || cfg.MinTextLength != 10 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.SessionIdleTTL != 0 {
		t.Fatalf("idle expiry should be disabled by default, got %s", cfg.SessionIdleTTL)
	}
	if cfg.Trend.HighVariance != 100 || cfg.Trend.ModerateVariance != 400 || cfg.Trend.SlopeMagnitude != 0.3 {
		t.Fatalf("unexpected trend thresholds: %+v", cfg.Trend)
	}
}

func TestPipelineYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	content := `
timeouts:
  analyzer: 12s
workers: 8
sessions:
  idle_ttl: 30m
validation:
  min_text_length: 20
trend:
  high_variance: 50
  moderate_variance: 200
  slope_magnitude: 0.5
services:
  asr:
    url: http://asr.local
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write yaml: %v", err)
	}

	t.Setenv("PIPELINE_CONFIG", path)
	t.Setenv("WORKER_POOL_SIZE", "16")
	t.Setenv("SESSION_IDLE_TTL", "90")

	cfg, err := loadPipelineConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.AnalyzerTimeout != 12*time.Second {
		t.Fatalf("yaml timeout not applied: %s", cfg.AnalyzerTimeout)
	}
	if cfg.WorkerPoolSize != 16 {
		t.Fatalf("env should override yaml, got %d", cfg.WorkerPoolSize)
	}
	if cfg.SessionIdleTTL != 90*time.Second {
		t.Fatalf("numeric env durations are seconds, got %s", cfg.SessionIdleTTL)
	}
	if cfg.MinTextLength != 20 || cfg.Trend.SlopeMagnitude != 0.5 {
		t.Fatalf("yaml values not applied: %+v", cfg)
	}
	if cfg.ASRURL != "http://asr.local" {
		t.Fatalf("unexpected asr url %s", cfg.ASRURL)
	}
}

func TestPipelineRejectsBadValues(t *testing.T) {
	t.Setenv("PIPELINE_CONFIG", "")
	t.Setenv("ANALYZER_TIMEOUT", "soon")
	if _, err := loadPipelineConfig(); err == nil {
		t.Fatal("expected invalid duration error")
	}

	t.Setenv("ANALYZER_TIMEOUT", "")
	t.Setenv("WORKER_POOL_SIZE", "0")
	if _, err := loadPipelineConfig(); err == nil {
		t.Fatal("expected invalid pool size error")
	}
}

func TestLoadLogConfig(t *testing.T) {
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("LOG_PRETTY", "true")
	cfg, err := loadLogConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Level != zerolog.DebugLevel || !cfg.Pretty {
		t.Fatalf("unexpected log config %+v", cfg)
	}

	t.Setenv("LOG_LEVEL", "loud")
	if _, err := loadLogConfig(); err == nil {
		t.Fatal("expected invalid level error")
	}
}

func TestAIConfigEnabled(t *testing.T) {
	if (AIConfig{Model: "m"}).Enabled() {
		t.Fatal("model without credentials must be disabled")
	}
	if !(AIConfig{Model: "m", APIKey: "k"}).Enabled() {
		t.Fatal("model with api key should be enabled")
	}
	if !(AIConfig{Model: "m", AccessKey: "a", SecretKey: "s"}).Enabled() {
		t.Fatal("model with ak/sk should be enabled")
	}
}
