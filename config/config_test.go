package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"netmonitor/errkind"
)

func TestLoadFileMissingUsesDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.SamplingIntervalSeconds != 5 || cfg.RawTTLDays != 7 ||
		cfg.HourTTLDays != 90 || cfg.ServerPort != 7500 || cfg.LogLevel != "info" {
		t.Fatalf("defaults = %+v", cfg)
	}
}

func TestLoadFilePartialOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("samplingIntervalSeconds: 1\nlogLevel: debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SamplingIntervalSeconds != 1 || cfg.LogLevel != "debug" {
		t.Fatalf("overrides lost: %+v", cfg)
	}
	if cfg.RawTTLDays != 7 || cfg.ServerPort != 7500 {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestLoadFileRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("serverPort: [not a port\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidateRanges(t *testing.T) {
	bad := []Config{
		{SamplingIntervalSeconds: 0, RawTTLDays: 7, HourTTLDays: 90, ServerPort: 7500, LogLevel: "info"},
		{SamplingIntervalSeconds: 3601, RawTTLDays: 7, HourTTLDays: 90, ServerPort: 7500, LogLevel: "info"},
		{SamplingIntervalSeconds: 5, RawTTLDays: 0, HourTTLDays: 90, ServerPort: 7500, LogLevel: "info"},
		{SamplingIntervalSeconds: 5, RawTTLDays: 7, HourTTLDays: 0, ServerPort: 7500, LogLevel: "info"},
		{SamplingIntervalSeconds: 5, RawTTLDays: 7, HourTTLDays: 90, ServerPort: 80, LogLevel: "info"},
		{SamplingIntervalSeconds: 5, RawTTLDays: 7, HourTTLDays: 90, ServerPort: 7500, LogLevel: "verbose"},
	}
	for i, c := range bad {
		if err := c.Validate(); !errors.Is(err, errkind.ErrValidation) {
			t.Errorf("case %d err = %v, want ErrValidation", i, err)
		}
	}

	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestManagerReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("rawTTLDays: 7\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	initial, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var level slog.LevelVar
	m := NewManager(path, initial, &level)

	if err := os.WriteFile(path, []byte("rawTTLDays: 14\nlogLevel: debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := m.Reload()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RawTTLDays != 14 || m.Current().RawTTLDays != 14 {
		t.Fatalf("reload not applied: %+v", m.Current())
	}
	if level.Level() != slog.LevelDebug {
		t.Fatalf("log level = %v, want debug", level.Level())
	}

	// A broken file leaves the previous config in force.
	if err := os.WriteFile(path, []byte("serverPort: 80\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Reload(); !errors.Is(err, errkind.ErrValidation) {
		t.Fatalf("reload err = %v, want ErrValidation", err)
	}
	if m.Current().RawTTLDays != 14 {
		t.Fatalf("failed reload mutated config: %+v", m.Current())
	}
}
