package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/redis/go-redis/v9/maintnotifications"

	appconfig "github.com/Yasmani-Cascante/retail-recommender-system-sub003/internal/config"
	"github.com/Yasmani-Cascante/retail-recommender-system-sub003/internal/conversation"
	"github.com/Yasmani-Cascante/retail-recommender-system-sub003/internal/observability/metrics"
	"github.com/Yasmani-Cascante/retail-recommender-system-sub003/pkg/logging"
)

// BuildStateManager wires the Redis-backed conversation state manager from
// config. One manager is constructed at process start and handed to request
// handlers explicitly; nothing here is cached in package state.
func BuildStateManager(ctx context.Context, cfg *appconfig.Config, reg prometheus.Registerer, logger *logging.Logger) (*conversation.StateManager, *redis.Client, error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	opTimeout := cfg.RedisOpTimeout
	if opTimeout <= 0 {
		opTimeout = 5 * time.Second
	}
	// Socket-level timeouts plus disabled maintenance notifications: a
	// request against a wedged or error-spewing store must fail within the
	// operation budget, never park in the connection pool.
	redisOptions := &redis.Options{
		Addr:                     cfg.RedisAddr,
		Password:                 cfg.RedisPassword,
		DialTimeout:              opTimeout,
		ReadTimeout:              opTimeout,
		WriteTimeout:             opTimeout,
		MaintNotificationsConfig: &maintnotifications.Config{Mode: maintnotifications.ModeDisabled},
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	redisClient := redis.NewClient(redisOptions)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not reachable at startup, conversations will degrade to in-memory", "addr", cfg.RedisAddr, "error", err)
	}

	conversationMetrics := metrics.NewConversationMetrics(reg)
	manager := conversation.NewStateManager(redisClient, logger, conversationMetrics, conversation.ManagerConfig{
		StateTTL:           cfg.StateTTL,
		ConversationTTL:    cfg.ConversationTTL,
		MaxTurnsPerSession: cfg.MaxTurnsPerSession,
		MaxIntentHistory:   cfg.MaxIntentHistory,
		StoreTimeout:       opTimeout,
	})
	logger.Info("conversation state manager wired",
		"redis_addr", cfg.RedisAddr,
		"state_ttl", cfg.StateTTL,
		"conversation_ttl", cfg.ConversationTTL,
		"max_turns_per_session", cfg.MaxTurnsPerSession,
	)
	return manager, redisClient, nil
}
