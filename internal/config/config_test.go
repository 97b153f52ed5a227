package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTmpConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("write tmp config: %v", err)
	}
	return p
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeTmpConfig(t, `
vanilla:
  hub:
    max_registered_fds: 1024
    signals: ["SIGINT", "SIGTERM", "SIGHUP"]
  log:
    level: "debug"
    format: "json"
  metrics:
    enabled: true
    listen: "0.0.0.0:9090"
  transport:
    enabled: true
    listen_addr: "0.0.0.0:9411"
    max_conns: 64
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Hub.MaxRegisteredFDs != 1024 {
		t.Errorf("Hub.MaxRegisteredFDs = %d, want 1024", cfg.Hub.MaxRegisteredFDs)
	}
	if len(cfg.Hub.Signals) != 3 {
		t.Errorf("Hub.Signals = %v, want 3 entries", cfg.Hub.Signals)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = false, want true")
	}
	if cfg.Transport.MaxConns != 64 {
		t.Errorf("Transport.MaxConns = %d, want 64", cfg.Transport.MaxConns)
	}
}

func TestLoadInvalidLogLevel(t *testing.T) {
	_, err := Load(writeTmpConfig(t, `
vanilla:
  log:
    level: "invalid"
    format: "json"
`))
	if err == nil {
		t.Fatal("expected error for invalid log level")
	}
	if !strings.Contains(err.Error(), "invalid log level") {
		t.Errorf("error = %v, want 'invalid log level'", err)
	}
}

func TestLoadInvalidLogFormat(t *testing.T) {
	_, err := Load(writeTmpConfig(t, `
vanilla:
  log:
    level: "info"
    format: "invalid"
`))
	if err == nil {
		t.Fatal("expected error for invalid log format")
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeTmpConfig(t, `
vanilla:
  log:
    level: "info"
    format: "text"
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Hub.MaxRegisteredFDs != 0 {
		t.Errorf("Hub.MaxRegisteredFDs = %d, want 0", cfg.Hub.MaxRegisteredFDs)
	}
	if len(cfg.Hub.Signals) != 2 {
		t.Errorf("Hub.Signals = %v, want [SIGINT SIGTERM]", cfg.Hub.Signals)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = false, want true")
	}
	if cfg.Metrics.Listen != ":9091" {
		t.Errorf("Metrics.Listen = %q, want :9091", cfg.Metrics.Listen)
	}
	if cfg.Transport.Enabled {
		t.Error("Transport.Enabled = true, want false by default")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("VANILLA_LOG_LEVEL", "debug")

	cfg, err := Load(writeTmpConfig(t, `
vanilla:
  log:
    level: "info"
    format: "json"
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug (from env)", cfg.Log.Level)
	}
}

func TestTransportEnabledRequiresListenAddr(t *testing.T) {
	_, err := Load(writeTmpConfig(t, `
vanilla:
  log:
    level: "info"
    format: "json"
  transport:
    enabled: true
    listen_addr: ""
`))
	if err == nil {
		t.Fatal("expected error: transport enabled without listen_addr")
	}
	if !strings.Contains(err.Error(), "listen_addr") {
		t.Errorf("error = %v, want mention of listen_addr", err)
	}
}
