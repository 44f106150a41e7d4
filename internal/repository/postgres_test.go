package repository_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cmsauth/internal/apperr"
	"cmsauth/internal/config"
	"cmsauth/internal/database"
	"cmsauth/internal/models"
	"cmsauth/internal/repository"
)

func newPostgresStore(t *testing.T, opts repository.Options) *repository.Store {
	t.Helper()

	dsn := os.Getenv("CMSAUTH_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CMSAUTH_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, config.PostgresConfig{DSN: dsn, MaxOpen: 4, MaxIdle: 1, ConnMaxLifetime: time.Minute})
	require.NoError(t, err)
	require.NoError(t, database.MigratePostgres(ctx, pool))

	store := repository.NewPostgresStore(pool, opts)
	t.Cleanup(store.Close)
	return store
}

func uniqueEmail(prefix string) string {
	return fmt.Sprintf("%s-%d@example.com", prefix, time.Now().UnixNano())
}

func TestPostgresUserLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newPostgresStore(t, repository.Options{LookupMode: repository.LookupStrict})

	email := uniqueEmail("pg-alice")
	user, err := store.Users.Create(ctx, newUser(email, models.UserStatusActive))
	require.NoError(t, err)

	_, err = store.Users.Create(ctx, newUser(email, models.UserStatusActive))
	assert.ErrorIs(t, err, apperr.ErrDuplicateEmail)

	found, err := store.Users.FindByEmail(ctx, email)
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)

	_, err = store.Users.SetStatus(ctx, []int64{user.ID}, models.UserStatusInactive)
	require.NoError(t, err)

	_, err = store.Users.FindByEmail(ctx, email)
	assert.ErrorIs(t, err, apperr.ErrUserNotFound, "strict mode hides inactive users")

	require.NoError(t, store.Sessions.Create(ctx, newSession(user.ID, time.Now().Add(time.Hour))))
	require.NoError(t, store.Users.Delete(ctx, user.ID))

	count, err := store.Sessions.CountByUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestPostgresSessions(t *testing.T) {
	ctx := context.Background()
	store := newPostgresStore(t, repository.Options{})

	user, err := store.Users.Create(ctx, newUser(uniqueEmail("pg-bob"), models.UserStatusActive))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Users.Delete(context.Background(), user.ID) })

	live := newSession(user.ID, time.Now().Add(time.Hour))
	require.NoError(t, store.Sessions.Create(ctx, live))
	require.NoError(t, store.Sessions.Create(ctx, newSession(user.ID, time.Now().Add(-time.Hour))))

	found, err := store.Sessions.FindByTokenHash(ctx, live.TokenHash)
	require.NoError(t, err)
	assert.Equal(t, live.ID, found.ID)

	purged, err := store.Sessions.DeleteExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, purged, int64(1))

	count, err := store.Sessions.CountByUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
