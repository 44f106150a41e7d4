package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"cmsauth/internal/config"
	"cmsauth/internal/repository"
	"cmsauth/internal/tasks"
)

// Scheduler triggers the session purge on a cron spec (with seconds). With a queue the
// purge is handed to the worker; otherwise it runs in process.
type Scheduler struct {
	cron      *cron.Cron
	queue     *redis.Client
	stream    string
	spec      string
	processor *tasks.Processor
	log       zerolog.Logger
}

func NewScheduler(cfg *config.AppConfig, queue *redis.Client, sessions repository.SessionRepository, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:      cron.New(cron.WithSeconds()),
		queue:     queue,
		stream:    cfg.Redis.Stream,
		spec:      cfg.Jobs.SessionPurgeSpec,
		processor: tasks.NewProcessor(sessions, log),
		log:       log,
	}
}

func (s *Scheduler) Start() error {
	if s.spec == "" {
		s.log.Info().Msg("session purge disabled")
		return nil
	}

	if _, err := s.cron.AddFunc(s.spec, s.purgeSessions); err != nil {
		return fmt.Errorf("schedule session purge %q: %w", s.spec, err)
	}

	s.cron.Start()
	return nil
}

// Stop waits for a running job to finish or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.log.Warn().Msg("scheduler stop timed out")
	}
}

func (s *Scheduler) purgeSessions() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := s.RunPurge(ctx); err != nil {
		s.log.Error().Err(err).Msg("session purge failed")
	}
}

// RunPurge enqueues a purge task when a queue is configured and purges directly otherwise.
func (s *Scheduler) RunPurge(ctx context.Context) error {
	if s.queue != nil {
		return s.enqueueTask(ctx, map[string]any{
			"type":        tasks.TypePurgeSessions,
			"requestedAt": time.Now().UTC().Format(time.RFC3339),
		})
	}
	_, err := s.processor.PurgeSessions(ctx)
	return err
}

func (s *Scheduler) enqueueTask(ctx context.Context, payload map[string]any) error {
	_, err := s.queue.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: payload,
	}).Result()
	return err
}
