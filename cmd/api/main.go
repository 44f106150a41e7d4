package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"cmsauth/internal/cache"
	"cmsauth/internal/config"
	"cmsauth/internal/handlers"
	"cmsauth/internal/jobs"
	"cmsauth/internal/log"
	"cmsauth/internal/repository"
	"cmsauth/internal/server"
	"cmsauth/internal/service"
	"cmsauth/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, cfg.Logging.Level)
	if cfg.Security.UsesInsecureSecrets() {
		logger.Warn().Msg("jwt secrets are development placeholders; set CMSAUTH_SECURITY_JWTACCESSSECRET and CMSAUTH_SECURITY_JWTREFRESHSECRET")
	}

	ctx := context.Background()

	store, err := repository.Open(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("failed to open credential store")
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect redis")
		}
	}

	var avatars service.AvatarStore
	if cfg.Storage.Enabled() {
		objectStore, err := storage.NewObjectStore(cfg.Storage)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init object store")
		}
		if err := objectStore.EnsureBuckets(ctx); err != nil {
			logger.Warn().Err(err).Msg("ensure buckets failed")
		}
		avatars = objectStore
	}

	handlerSet := handlers.NewHandlerSet(logger, cfg, store, redisClient, avatars)

	created, err := handlerSet.AuthService().EnsureAdmin(ctx, cfg.Bootstrap)
	if err != nil {
		logger.Fatal().Err(err).Msg("bootstrap admin failed")
	}
	if created {
		logger.Info().Str("email", cfg.Bootstrap.AdminEmail).Msg("bootstrap admin ready")
	}

	httpServer := server.NewHTTPServer(cfg, logger, handlerSet)

	scheduler := jobs.NewScheduler(cfg, redisClient, store.Sessions, logger)
	if err := scheduler.Start(); err != nil {
		logger.Error().Err(err).Msg("scheduler start failed")
	}

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdown(logger, httpServer, scheduler, store, redisClient)
}

func waitForShutdown(logger zerolog.Logger, srv *server.HTTPServer, scheduler *jobs.Scheduler, store *repository.Store, redisClient *redis.Client) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	scheduler.Stop(shutdownCtx)

	store.Close()
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("redis close error")
		}
	}

	logger.Info().Msg("server exited cleanly")
}
