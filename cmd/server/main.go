package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/modchat/relay/internal/moderation"
	"github.com/modchat/relay/internal/server"
)

func main() {
	// Load local .env (dev only)
	_ = godotenv.Load()

	cfg := server.NewConfigFromEnv()
	logger := server.NewLogger(cfg.Env)

	// Cancel on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Optional Redis-backed verdict cache
	var cache moderation.Cache
	if cfg.Redis.Addr != "" {
		redisCache, err := moderation.NewRedisCache(ctx, cfg.Redis.Addr, cfg.Redis.DB, cfg.Redis.TTL, logger)
		if err != nil {
			logger.Error("redis.connect", "addr", cfg.Redis.Addr, "err", err)
			os.Exit(1)
		}
		defer func() { _ = redisCache.Close() }()
		cache = redisCache
		logger.Info("verdict_cache.enabled", "addr", cfg.Redis.Addr)
	}

	classifier := moderation.NewClient(cfg.Moderation, cache, logger)

	registry := server.NewRegistry()
	hub := server.NewHub(registry, classifier, logger)
	go hub.Run()

	api := server.NewAPI(hub, cfg, logger)
	httpServer := server.CreateServer(cfg.Port, server.SetupRoutes(api))

	go func() {
		logger.Info("server.listening", "addr", cfg.Port)
		if err := server.StartServer(httpServer); err != nil && err != http.ErrServerClosed {
			logger.Error("server.crash", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("server.shutdown.start")

	_ = server.ShutdownServer(httpServer, 10*time.Second, logger)
	_ = hub.Shutdown(10 * time.Second)

	logger.Info("server.shutdown.complete")
}
