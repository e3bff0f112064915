package config

import (
	"testing"
)

func strptr(s string) *string { return &s }

func TestSettingsStoreMergesLocalOverDefaults(t *testing.T) {
	dir := t.TempDir()
	defaults := Settings{FailMode: strptr("open"), CaptureMode: strptr("all")}
	s, err := NewSettingsStore(dir, defaults)
	if err != nil {
		t.Fatalf("NewSettingsStore: %v", err)
	}

	merged := s.GetMerged()
	if *merged.FailMode != "open" {
		t.Fatalf("expected default fail_mode before any override, got %q", *merged.FailMode)
	}

	if err := s.SaveLocal(Settings{FailMode: strptr("closed")}); err != nil {
		t.Fatalf("SaveLocal: %v", err)
	}
	merged = s.GetMerged()
	if *merged.FailMode != "closed" {
		t.Fatalf("expected overridden fail_mode, got %q", *merged.FailMode)
	}
	if *merged.CaptureMode != "all" {
		t.Fatalf("expected capture_mode to keep its default, got %q", *merged.CaptureMode)
	}
}

func TestSettingsStorePersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	defaults := Settings{FailMode: strptr("open")}
	s, err := NewSettingsStore(dir, defaults)
	if err != nil {
		t.Fatalf("NewSettingsStore: %v", err)
	}
	if err := s.SaveLocal(Settings{FailMode: strptr("closed")}); err != nil {
		t.Fatalf("SaveLocal: %v", err)
	}

	reloaded, err := NewSettingsStore(dir, defaults)
	if err != nil {
		t.Fatalf("NewSettingsStore (reload): %v", err)
	}
	merged := reloaded.GetMerged()
	if merged.FailMode == nil || *merged.FailMode != "closed" {
		t.Fatalf("expected persisted override to survive reload, got %+v", merged)
	}
}

func TestResetToDefaultClearsOverrides(t *testing.T) {
	dir := t.TempDir()
	defaults := Settings{FailMode: strptr("open")}
	s, err := NewSettingsStore(dir, defaults)
	if err != nil {
		t.Fatalf("NewSettingsStore: %v", err)
	}
	if err := s.SaveLocal(Settings{FailMode: strptr("closed")}); err != nil {
		t.Fatalf("SaveLocal: %v", err)
	}
	if err := s.ResetToDefault(); err != nil {
		t.Fatalf("ResetToDefault: %v", err)
	}
	merged := s.GetMerged()
	if *merged.FailMode != "open" {
		t.Fatalf("expected fail_mode back to default after reset, got %q", *merged.FailMode)
	}
}
