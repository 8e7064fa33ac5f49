package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Yasmani-Cascante/retail-recommender-system-sub003/internal/app/bootstrap"
	appconfig "github.com/Yasmani-Cascante/retail-recommender-system-sub003/internal/config"
	"github.com/Yasmani-Cascante/retail-recommender-system-sub003/internal/conversation"
	"github.com/Yasmani-Cascante/retail-recommender-system-sub003/pkg/logging"
)

// The recommendation-serving API lives in a separate service; this process
// owns conversation state and exposes only operational endpoints.
func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting conversation state service",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	manager, redisClient, err := bootstrap.BuildStateManager(context.Background(), cfg, registry, logger)
	if err != nil {
		logger.Error("failed to build state manager", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.Get("/debug/users/{userID}/sessions", listSessionsHandler(manager, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// listSessionsHandler serves the per-user session index for operators
// chasing a specific user's conversation history.
func listSessionsHandler(manager *conversation.StateManager, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		userID := chi.URLParam(req, "userID")
		sessions, err := manager.ListUserSessions(req.Context(), userID)
		if err != nil {
			logger.Warn("failed to list user sessions", "user_id", userID, "error", err)
			http.Error(w, "failed to list sessions", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"user_id":  userID,
			"sessions": sessions,
		})
	}
}
