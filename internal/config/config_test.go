package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadReturnsDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.ListenAddr != "127.0.0.1:8765" {
		t.Fatalf("expected default API listen addr, got %q", cfg.API.ListenAddr)
	}
	if cfg.Proxy.ListenAddr != "127.0.0.1:8766" {
		t.Fatalf("expected default proxy listen addr, got %q", cfg.Proxy.ListenAddr)
	}
	if cfg.Session.TTL != 900*time.Second {
		t.Fatalf("expected default session TTL of 900s, got %v", cfg.Session.TTL)
	}
	if cfg.PollInterval != 100*time.Millisecond {
		t.Fatalf("expected default poll interval of 100ms, got %v", cfg.PollInterval)
	}
	if cfg.FailMode != "open" {
		t.Fatalf("expected default fail_mode open, got %q", cfg.FailMode)
	}
}

func TestLoadParsesYAMLOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aegis.yaml")
	yaml := []byte(`
data_dir: /tmp/aegis-test
fail_mode: closed
proxy:
  listen: "127.0.0.1:9000"
  capture_mode: flagged_only
session:
  ttl: 5m
`)
	if err := os.WriteFile(path, yaml, 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataDir != "/tmp/aegis-test" {
		t.Fatalf("expected overridden data_dir, got %q", cfg.DataDir)
	}
	if cfg.FailMode != "closed" {
		t.Fatalf("expected overridden fail_mode, got %q", cfg.FailMode)
	}
	if cfg.Proxy.ListenAddr != "127.0.0.1:9000" {
		t.Fatalf("expected overridden proxy listen addr, got %q", cfg.Proxy.ListenAddr)
	}
	if cfg.Proxy.CaptureMode != "flagged_only" {
		t.Fatalf("expected overridden capture_mode, got %q", cfg.Proxy.CaptureMode)
	}
	if cfg.Session.TTL != 5*time.Minute {
		t.Fatalf("expected overridden session TTL, got %v", cfg.Session.TTL)
	}
	// Fields not present in the YAML keep their defaults.
	if cfg.API.ListenAddr != "127.0.0.1:8765" {
		t.Fatalf("expected default API listen addr to survive a partial override, got %q", cfg.API.ListenAddr)
	}
}

func TestLoadRejectsInvalidFailMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aegis.yaml")
	if err := os.WriteFile(path, []byte("fail_mode: sideways\n"), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an invalid fail_mode")
	}
}

func TestLoadRejectsInvalidCaptureMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aegis.yaml")
	if err := os.WriteFile(path, []byte("proxy:\n  capture_mode: everything\n"), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an invalid capture_mode")
	}
}

func TestDefaultDataDirIsNonEmpty(t *testing.T) {
	if DefaultDataDir() == "" {
		t.Fatal("expected a non-empty default data dir")
	}
}
