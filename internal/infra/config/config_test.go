package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Session.TTL != 24*time.Hour {
		t.Fatalf("expected default session ttl 24h, got %v", cfg.Session.TTL)
	}
	if cfg.Session.MaxConcurrentSessions != 5 {
		t.Fatalf("expected default cap 5, got %d", cfg.Session.MaxConcurrentSessions)
	}
	if cfg.Monitor.LockdownTTL != time.Hour {
		t.Fatalf("expected default lockdown ttl 1h, got %v", cfg.Monitor.LockdownTTL)
	}
	if cfg.Validation.MaxFileSize != 5*1024*1024 {
		t.Fatalf("expected default max file size 5MiB, got %d", cfg.Validation.MaxFileSize)
	}
	if cfg.RateLimit.SessionMaxRequests != 120 {
		t.Fatalf("expected 120 requests per window, got %d", cfg.RateLimit.SessionMaxRequests)
	}
	if cfg.Kafka.TopicPrefix != "sessec" {
		t.Fatalf("expected topic prefix sessec, got %s", cfg.Kafka.TopicPrefix)
	}
}

func TestLoadReadsPrefixedEnv(t *testing.T) {
	t.Setenv("SESSEC_SESSION_MAX_CONCURRENT_SESSIONS", "3")
	t.Setenv("SESSEC_SESSION_TTL", "2h")
	t.Setenv("SESSEC_AUTH_JWT_SECRET", "top-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Session.MaxConcurrentSessions != 3 {
		t.Fatalf("expected cap 3 from env, got %d", cfg.Session.MaxConcurrentSessions)
	}
	if cfg.Session.TTL != 2*time.Hour {
		t.Fatalf("expected ttl 2h from env, got %v", cfg.Session.TTL)
	}
	if cfg.Auth.JWTSecret != "top-secret" {
		t.Fatalf("expected jwt secret from env, got %q", cfg.Auth.JWTSecret)
	}
}
