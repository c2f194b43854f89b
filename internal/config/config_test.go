package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("expected default log level info, got %q", cfg.LogLevel)
	}
	if cfg.Input.Format != "auto" {
		t.Errorf("expected default format auto, got %q", cfg.Input.Format)
	}
	if cfg.Output.HTTP.Retries != 3 {
		t.Errorf("expected default retries 3, got %d", cfg.Output.HTTP.Retries)
	}
	if cfg.Output.HTTP.Method != "POST" {
		t.Errorf("expected default method POST, got %q", cfg.Output.HTTP.Method)
	}
	if cfg.Checkpoint.Interval != 30*time.Second {
		t.Errorf("expected default checkpoint interval 30s, got %v", cfg.Checkpoint.Interval)
	}
	if cfg.Input.CSV.Separator != "," {
		t.Errorf("expected default csv separator ',', got %q", cfg.Input.CSV.Separator)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
loglevel: debug
input:
  path: /var/log/app.ndjson
  format: ndjson
output:
  http:
    endpoint: http://localhost:8080/logs
    batchsize: 50
workers:
  count: 4
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("expected log level debug, got %q", cfg.LogLevel)
	}
	if cfg.Input.Path != "/var/log/app.ndjson" {
		t.Errorf("unexpected input path: %q", cfg.Input.Path)
	}
	if cfg.Output.HTTP.Endpoint != "http://localhost:8080/logs" {
		t.Errorf("unexpected endpoint: %q", cfg.Output.HTTP.Endpoint)
	}
	if cfg.Output.HTTP.BatchSize != 50 {
		t.Errorf("expected batch size 50, got %d", cfg.Output.HTTP.BatchSize)
	}
	// Untouched defaults survive
	if cfg.Output.HTTP.Retries != 3 {
		t.Errorf("expected retries default 3, got %d", cfg.Output.HTTP.Retries)
	}
	if cfg.Workers.Count != 4 {
		t.Errorf("expected workers 4, got %d", cfg.Workers.Count)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("loglevel: debug\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("LOGPIPE_LOGLEVEL", "error")
	t.Setenv("LOGPIPE_OUTPUT_HTTP_RETRIES", "5")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.LogLevel != "error" {
		t.Errorf("expected env to override file, got %q", cfg.LogLevel)
	}
	if cfg.Output.HTTP.Retries != 5 {
		t.Errorf("expected retries 5 from env, got %d", cfg.Output.HTTP.Retries)
	}
}

func TestLoad_MissingFileFails(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
