package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":3000" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":3000")
	}
	if cfg.MaxOfferedSlots != 3 {
		t.Fatalf("MaxOfferedSlots = %d, want 3", cfg.MaxOfferedSlots)
	}
	if cfg.SessionInactivityTimeout != 10*time.Minute {
		t.Fatalf("SessionInactivityTimeout = %v, want 10m", cfg.SessionInactivityTimeout)
	}
	if cfg.ExtractorMode != "auto" {
		t.Fatalf("ExtractorMode = %q, want auto", cfg.ExtractorMode)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("MAX_OFFERED_SLOTS", "0")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() should reject MAX_OFFERED_SLOTS=0")
	}
	t.Setenv("MAX_OFFERED_SLOTS", "3")

	t.Setenv("EXTRACTOR_MIN_SCORE", "1.5")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() should reject EXTRACTOR_MIN_SCORE=1.5")
	}
	t.Setenv("EXTRACTOR_MIN_SCORE", "0.5")

	t.Setenv("APP_SESSION_INACTIVITY_TIMEOUT", "1s")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() should reject sub-5s inactivity timeout")
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("APP_SESSION_INACTIVITY_TIMEOUT", "30m")
	t.Setenv("EXTRACTOR_MAX_FAILURES", "5")
	t.Setenv("APP_ALLOW_ANY_ORIGIN", "yes")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SessionInactivityTimeout != 30*time.Minute {
		t.Fatalf("SessionInactivityTimeout = %v, want 30m", cfg.SessionInactivityTimeout)
	}
	if cfg.ExtractorMaxFailures != 5 {
		t.Fatalf("ExtractorMaxFailures = %d, want 5", cfg.ExtractorMaxFailures)
	}
	if !cfg.AllowAnyOrigin {
		t.Fatalf("AllowAnyOrigin should be true")
	}
}
