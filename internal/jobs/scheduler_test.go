package jobs_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cmsauth/internal/config"
	"cmsauth/internal/database"
	"cmsauth/internal/ids"
	"cmsauth/internal/jobs"
	"cmsauth/internal/models"
	"cmsauth/internal/repository"
	"cmsauth/internal/security"
	"cmsauth/internal/tasks"
)

func newStore(t *testing.T) *repository.Store {
	t.Helper()
	ctx := context.Background()

	db, err := database.NewSQLite(ctx, config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "auth.db"), MaxOpen: 2})
	require.NoError(t, err)
	require.NoError(t, database.MigrateSQLite(ctx, db))
	store := repository.NewSQLiteStore(db, repository.Options{})
	t.Cleanup(store.Close)
	return store
}

func TestRunPurgeWithoutQueue(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	user, err := store.Users.Create(ctx, models.User{
		Email:        "alice@example.com",
		Name:         "Alice",
		PasswordHash: []byte("hash"),
		Role:         models.UserRoleUser,
		Status:       models.UserStatusActive,
	})
	require.NoError(t, err)

	for _, expiresAt := range []time.Time{time.Now().Add(-time.Hour), time.Now().Add(time.Hour)} {
		id := ids.New()
		require.NoError(t, store.Sessions.Create(ctx, models.Session{
			ID:        id,
			UserID:    user.ID,
			TokenHash: security.HashRefreshToken(id),
			ExpiresAt: expiresAt,
		}))
	}

	cfg := &config.AppConfig{Jobs: config.JobsConfig{SessionPurgeSpec: "0 0 * * * *"}}
	scheduler := jobs.NewScheduler(cfg, nil, store.Sessions, zerolog.Nop())
	require.NoError(t, scheduler.RunPurge(ctx))

	count, err := store.Sessions.CountByUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSchedulerStart(t *testing.T) {
	store := newStore(t)

	bad := jobs.NewScheduler(&config.AppConfig{Jobs: config.JobsConfig{SessionPurgeSpec: "every minute"}}, nil, store.Sessions, zerolog.Nop())
	assert.Error(t, bad.Start())

	disabled := jobs.NewScheduler(&config.AppConfig{}, nil, store.Sessions, zerolog.Nop())
	assert.NoError(t, disabled.Start())

	scheduler := jobs.NewScheduler(&config.AppConfig{Jobs: config.JobsConfig{SessionPurgeSpec: "*/30 * * * * *"}}, nil, store.Sessions, zerolog.Nop())
	require.NoError(t, scheduler.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	scheduler.Stop(ctx)
}

func TestRunPurgeEnqueuesWhenQueueConfigured(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	user, err := store.Users.Create(ctx, models.User{
		Email:        "alice@example.com",
		Name:         "Alice",
		PasswordHash: []byte("hash"),
		Role:         models.UserRoleUser,
		Status:       models.UserStatusActive,
	})
	require.NoError(t, err)
	id := ids.New()
	require.NoError(t, store.Sessions.Create(ctx, models.Session{
		ID:        id,
		UserID:    user.ID,
		TokenHash: security.HashRefreshToken(id),
		ExpiresAt: time.Now().Add(-time.Hour),
	}))

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := &config.AppConfig{
		Redis: config.RedisConfig{Stream: "auth:maintenance"},
		Jobs:  config.JobsConfig{SessionPurgeSpec: "0 0 * * * *"},
	}
	scheduler := jobs.NewScheduler(cfg, client, store.Sessions, zerolog.Nop())
	require.NoError(t, scheduler.RunPurge(ctx))

	msgs, err := client.XRange(ctx, "auth:maintenance", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, tasks.TypePurgeSessions, msgs[0].Values["type"])
	assert.NotEmpty(t, msgs[0].Values["requestedAt"])

	count, err := store.Sessions.CountByUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "the worker purges, not the scheduler")
}
