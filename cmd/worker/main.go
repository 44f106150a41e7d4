package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"cmsauth/internal/cache"
	"cmsauth/internal/config"
	"cmsauth/internal/log"
	"cmsauth/internal/queue"
	"cmsauth/internal/repository"
	"cmsauth/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, cfg.Logging.Level)
	if !cfg.Redis.Enabled() {
		logger.Fatal().Msg("worker requires CMSAUTH_REDIS_ADDR")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := repository.Open(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open credential store")
	}
	defer store.Close()

	client, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}
	defer client.Close()

	processor := tasks.NewProcessor(store.Sessions, logger)
	consumer := queue.NewConsumer(client, cfg.Redis, cfg.Queues.ClaimInterval, logger, processor)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("consumer stopped unexpectedly")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warn().Msg("consumer did not stop in time")
	}
}
