package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("STATE_TTL", "")
	t.Setenv("MAX_TURNS_PER_SESSION", "")
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.RedisAddr != "redis:6379" {
		t.Fatalf("expected default redis addr, got %s", cfg.RedisAddr)
	}
	if cfg.StateTTL != 24*time.Hour {
		t.Fatalf("expected default state TTL, got %s", cfg.StateTTL)
	}
	if cfg.ConversationTTL != 7*24*time.Hour {
		t.Fatalf("expected default conversation TTL, got %s", cfg.ConversationTTL)
	}
	if cfg.MaxTurnsPerSession != 50 {
		t.Fatalf("expected default turn cap, got %d", cfg.MaxTurnsPerSession)
	}
	if cfg.MaxIntentHistory != 0 {
		t.Fatalf("expected unbounded intent history by default, got %d", cfg.MaxIntentHistory)
	}
	if cfg.RedisTLS {
		t.Fatal("expected redis TLS disabled by default")
	}
	if cfg.RedisOpTimeout != 5*time.Second {
		t.Fatalf("expected default redis op timeout, got %s", cfg.RedisOpTimeout)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("REDIS_ADDR", "redis.internal:6380")
	t.Setenv("REDIS_TLS", "true")
	t.Setenv("REDIS_OP_TIMEOUT", "2s")
	t.Setenv("STATE_TTL", "1h")
	t.Setenv("CONVERSATION_TTL", "48h")
	t.Setenv("MAX_TURNS_PER_SESSION", "10")
	t.Setenv("MAX_INTENT_HISTORY", "100")

	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected port override, got %s", cfg.Port)
	}
	if !cfg.RedisTLS {
		t.Fatal("expected redis TLS enabled")
	}
	if cfg.RedisOpTimeout != 2*time.Second {
		t.Fatalf("expected redis op timeout override, got %s", cfg.RedisOpTimeout)
	}
	if cfg.StateTTL != time.Hour {
		t.Fatalf("expected state TTL override, got %s", cfg.StateTTL)
	}
	if cfg.ConversationTTL != 48*time.Hour {
		t.Fatalf("expected conversation TTL override, got %s", cfg.ConversationTTL)
	}
	if cfg.MaxTurnsPerSession != 10 {
		t.Fatalf("expected turn cap override, got %d", cfg.MaxTurnsPerSession)
	}
	if cfg.MaxIntentHistory != 100 {
		t.Fatalf("expected intent history cap override, got %d", cfg.MaxIntentHistory)
	}
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("MAX_TURNS_PER_SESSION", "not-a-number")
	t.Setenv("STATE_TTL", "soon")
	cfg := Load()
	if cfg.MaxTurnsPerSession != 50 {
		t.Fatalf("expected fallback turn cap, got %d", cfg.MaxTurnsPerSession)
	}
	if cfg.StateTTL != 24*time.Hour {
		t.Fatalf("expected fallback state TTL, got %s", cfg.StateTTL)
	}
}
