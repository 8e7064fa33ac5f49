package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool
	// RedisOpTimeout bounds individual Redis round trips end to end.
	RedisOpTimeout time.Duration

	// StateTTL bounds how long the full session blob lives in Redis.
	StateTTL time.Duration
	// ConversationTTL bounds the derived user profile and per-market
	// preference records, which outlive individual sessions.
	ConversationTTL time.Duration

	MaxTurnsPerSession int
	// MaxIntentHistory caps the intent history independently of the turn
	// cap; zero keeps it unbounded.
	MaxIntentHistory int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		RedisAddr:          getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisTLS:           getEnvAsBool("REDIS_TLS", false),
		RedisOpTimeout:     getEnvAsDuration("REDIS_OP_TIMEOUT", 5*time.Second),
		StateTTL:           getEnvAsDuration("STATE_TTL", 24*time.Hour),
		ConversationTTL:    getEnvAsDuration("CONVERSATION_TTL", 7*24*time.Hour),
		MaxTurnsPerSession: getEnvAsInt("MAX_TURNS_PER_SESSION", 50),
		MaxIntentHistory:   getEnvAsInt("MAX_INTENT_HISTORY", 0),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
