package config

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_DSN", "postgres://localhost/devicesync_test")
	t.Setenv("JWT_ACCESS_SECRET", "test-secret")

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.TrialDefaultMax != 5 {
		t.Fatalf("expected default trial max 5, got %d", cfg.TrialDefaultMax)
	}
	if cfg.TrialResetInterval != 24*time.Hour {
		t.Fatalf("expected 24h reset interval, got %v", cfg.TrialResetInterval)
	}
	if cfg.DefaultMaxConcurrentSessions != 5 {
		t.Fatalf("expected default max concurrent sessions 5, got %d", cfg.DefaultMaxConcurrentSessions)
	}
	if cfg.DefaultInactiveSessionTimeout != 30*24*time.Hour {
		t.Fatalf("expected 30d inactive timeout, got %v", cfg.DefaultInactiveSessionTimeout)
	}
	if cfg.IsProduction() {
		t.Fatal("default environment must not be production")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_DSN", "postgres://localhost/devicesync_test")
	t.Setenv("JWT_ACCESS_SECRET", "test-secret")
	t.Setenv("TRIAL_DEFAULT_MAX", "3")
	t.Setenv("TRIAL_RESET_INTERVAL", "12h")
	t.Setenv("SYNC_DEFAULT_MAX_CONCURRENT_SESSIONS", "2")
	t.Setenv("CORS_ORIGINS", "https://app.example.com, https://staging.example.com")

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.TrialDefaultMax != 3 {
		t.Fatalf("expected trial max 3, got %d", cfg.TrialDefaultMax)
	}
	if cfg.TrialResetInterval != 12*time.Hour {
		t.Fatalf("expected 12h reset interval, got %v", cfg.TrialResetInterval)
	}
	if cfg.DefaultMaxConcurrentSessions != 2 {
		t.Fatalf("expected max concurrent sessions 2, got %d", cfg.DefaultMaxConcurrentSessions)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://staging.example.com" {
		t.Fatalf("unexpected cors origins: %v", cfg.CORSOrigins)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("DATABASE_DSN", "")
	t.Setenv("JWT_ACCESS_SECRET", "")

	_, err := Load(context.Background())
	if err == nil {
		t.Fatal("expected validation error for missing DATABASE_DSN")
	}
	if !strings.Contains(err.Error(), "DATABASE_DSN") {
		t.Fatalf("expected DATABASE_DSN in error, got %v", err)
	}
}
