package repository_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cmsauth/internal/apperr"
	"cmsauth/internal/config"
	"cmsauth/internal/database"
	"cmsauth/internal/ids"
	"cmsauth/internal/models"
	"cmsauth/internal/repository"
	"cmsauth/internal/security"
)

func newSQLiteStore(t *testing.T, opts repository.Options) *repository.Store {
	t.Helper()
	ctx := context.Background()

	db, err := database.NewSQLite(ctx, config.SQLiteConfig{
		Path:        filepath.Join(t.TempDir(), "auth.db"),
		MaxOpen:     4,
		BusyTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	require.NoError(t, database.MigrateSQLite(ctx, db))

	store := repository.NewSQLiteStore(db, opts)
	t.Cleanup(store.Close)
	return store
}

func newUser(email string, status models.UserStatus) models.User {
	return models.User{
		Email:        email,
		Name:         "Test User",
		PasswordHash: []byte("$2a$10$placeholderplaceholderplaceholderplaceholderpla"),
		Role:         models.UserRoleUser,
		Status:       status,
	}
}

func newSession(userID int64, expiresAt time.Time) models.Session {
	id := ids.New()
	return models.Session{
		ID:        id,
		UserID:    userID,
		TokenHash: security.HashRefreshToken("refresh-" + id),
		IPAddress: "127.0.0.1",
		UserAgent: "go-test",
		ExpiresAt: expiresAt,
	}
}

func TestSQLiteUserCreateAndFind(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t, repository.Options{})

	created, err := store.Users.Create(ctx, newUser("  Alice@Example.com ", models.UserStatusActive))
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Equal(t, "alice@example.com", created.Email)
	assert.Equal(t, models.UserRoleUser, created.Role)
	assert.False(t, created.CreatedAt.IsZero())
	assert.Nil(t, created.LastLogin)

	byEmail, err := store.Users.FindByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byEmail.ID)
	assert.Equal(t, created.PasswordHash, byEmail.PasswordHash)

	byID, err := store.Users.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Email, byID.Email)

	_, err = store.Users.FindByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, apperr.ErrUserNotFound)
	_, err = store.Users.FindByID(ctx, created.ID+100)
	assert.ErrorIs(t, err, apperr.ErrUserNotFound)
}

func TestSQLiteDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t, repository.Options{})

	original, err := store.Users.Create(ctx, newUser("bob@example.com", models.UserStatusActive))
	require.NoError(t, err)

	dup := newUser("BOB@example.com", models.UserStatusPending)
	dup.Name = "Impostor"
	_, err = store.Users.Create(ctx, dup)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrDuplicateEmail))

	unchanged, err := store.Users.GetByID(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, original.Name, unchanged.Name)
	assert.Equal(t, models.UserStatusActive, unchanged.Status)
}

func TestSQLiteConcurrentRegistrationSameEmail(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t, repository.Options{})

	const attempts = 6
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		dupes     int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Users.Create(ctx, newUser("race@example.com", models.UserStatusActive))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, apperr.ErrDuplicateEmail):
				dupes++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, attempts-1, dupes)
}

func TestSQLiteLookupModes(t *testing.T) {
	ctx := context.Background()

	for _, tc := range []struct {
		mode        repository.LookupMode
		expectFound bool
	}{
		{repository.LookupPermissive, true},
		{repository.LookupStrict, false},
	} {
		t.Run(string(tc.mode), func(t *testing.T) {
			store := newSQLiteStore(t, repository.Options{LookupMode: tc.mode})

			banned, err := store.Users.Create(ctx, newUser("banned@example.com", models.UserStatusBanned))
			require.NoError(t, err)

			_, err = store.Users.FindByEmail(ctx, "banned@example.com")
			if tc.expectFound {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, apperr.ErrUserNotFound)
			}

			_, err = store.Users.FindByID(ctx, banned.ID)
			if tc.expectFound {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, apperr.ErrUserNotFound)
			}

			// administration always sees the row
			admin, err := store.Users.GetByID(ctx, banned.ID)
			require.NoError(t, err)
			assert.Equal(t, models.UserStatusBanned, admin.Status)
		})
	}
}

func TestSQLiteUpdate(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t, repository.Options{})

	carol, err := store.Users.Create(ctx, newUser("carol@example.com", models.UserStatusPending))
	require.NoError(t, err)
	_, err = store.Users.Create(ctx, newUser("dave@example.com", models.UserStatusActive))
	require.NoError(t, err)

	name := "Carol"
	status := models.UserStatusActive
	role := models.UserRoleEditor
	avatar := "https://cdn.example.com/carol.png"
	updated, err := store.Users.Update(ctx, carol.ID, models.UserUpdate{Name: &name, Status: &status, Role: &role, AvatarURL: &avatar})
	require.NoError(t, err)
	assert.Equal(t, "Carol", updated.Name)
	assert.Equal(t, models.UserStatusActive, updated.Status)
	assert.Equal(t, models.UserRoleEditor, updated.Role)
	require.NotNil(t, updated.AvatarURL)
	assert.Equal(t, avatar, *updated.AvatarURL)
	assert.Equal(t, "carol@example.com", updated.Email)

	t.Run("email owned by another user", func(t *testing.T) {
		email := "DAVE@example.com"
		_, err := store.Users.Update(ctx, carol.ID, models.UserUpdate{Email: &email})
		assert.ErrorIs(t, err, apperr.ErrDuplicateEmail)
	})

	t.Run("missing user", func(t *testing.T) {
		_, err := store.Users.Update(ctx, 9999, models.UserUpdate{Name: &name})
		assert.ErrorIs(t, err, apperr.ErrUserNotFound)
	})

	t.Run("last login", func(t *testing.T) {
		at := time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC)
		require.NoError(t, store.Users.TouchLastLogin(ctx, carol.ID, at))

		reloaded, err := store.Users.GetByID(ctx, carol.ID)
		require.NoError(t, err)
		require.NotNil(t, reloaded.LastLogin)
		assert.True(t, at.Equal(*reloaded.LastLogin))
	})
}

func TestSQLiteDeleteCascadesSessions(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t, repository.Options{})
	expires := time.Now().Add(time.Hour)

	erin, err := store.Users.Create(ctx, newUser("erin@example.com", models.UserStatusActive))
	require.NoError(t, err)
	frank, err := store.Users.Create(ctx, newUser("frank@example.com", models.UserStatusActive))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Sessions.Create(ctx, newSession(erin.ID, expires)))
	}
	require.NoError(t, store.Sessions.Create(ctx, newSession(frank.ID, expires)))

	require.NoError(t, store.Users.Delete(ctx, erin.ID))

	count, err := store.Sessions.CountByUser(ctx, erin.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	count, err = store.Sessions.CountByUser(ctx, frank.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = store.Users.GetByID(ctx, erin.ID)
	assert.ErrorIs(t, err, apperr.ErrUserNotFound)

	assert.ErrorIs(t, store.Users.Delete(ctx, erin.ID), apperr.ErrUserNotFound)
}

func TestSQLiteSoftDelete(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t, repository.Options{SoftDelete: true})

	gina, err := store.Users.Create(ctx, newUser("gina@example.com", models.UserStatusActive))
	require.NoError(t, err)
	require.NoError(t, store.Sessions.Create(ctx, newSession(gina.ID, time.Now().Add(time.Hour))))

	require.NoError(t, store.Users.Delete(ctx, gina.ID))

	_, err = store.Users.GetByID(ctx, gina.ID)
	assert.ErrorIs(t, err, apperr.ErrUserNotFound)

	// the row stays behind for auth lookups to reject with a status message
	stored, err := store.Users.FindByID(ctx, gina.ID)
	require.NoError(t, err)
	assert.Equal(t, models.UserStatusDeleted, stored.Status)

	count, err := store.Sessions.CountByUser(ctx, gina.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSQLiteBulkOperations(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t, repository.Options{})

	var userIDs []int64
	for _, email := range []string{"h1@example.com", "h2@example.com", "h3@example.com"} {
		user, err := store.Users.Create(ctx, newUser(email, models.UserStatusPending))
		require.NoError(t, err)
		userIDs = append(userIDs, user.ID)
	}

	updated, err := store.Users.SetStatus(ctx, append(userIDs[:2:2], 9999), models.UserStatusActive)
	require.NoError(t, err)
	require.Len(t, updated, 2)
	for _, user := range updated {
		assert.Equal(t, models.UserStatusActive, user.Status)
	}

	third, err := store.Users.GetByID(ctx, userIDs[2])
	require.NoError(t, err)
	assert.Equal(t, models.UserStatusPending, third.Status)

	deleted, err := store.Users.DeleteMany(ctx, []int64{userIDs[0], 9999})
	require.NoError(t, err)
	require.Len(t, deleted, 1)
	assert.Equal(t, userIDs[0], deleted[0].ID)

	users, total, err := store.Users.List(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, users, 2)
}

func TestSQLiteSessions(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t, repository.Options{})
	now := time.Now()

	user, err := store.Users.Create(ctx, newUser("ivan@example.com", models.UserStatusActive))
	require.NoError(t, err)

	live := newSession(user.ID, now.Add(time.Hour))
	require.NoError(t, store.Sessions.Create(ctx, live))

	expired := newSession(user.ID, now.Add(-time.Hour))
	require.NoError(t, store.Sessions.Create(ctx, expired))

	t.Run("find by token hash", func(t *testing.T) {
		found, err := store.Sessions.FindByTokenHash(ctx, live.TokenHash)
		require.NoError(t, err)
		assert.Equal(t, live.ID, found.ID)
		assert.Equal(t, live.TokenHash, found.TokenHash)
		assert.False(t, found.Expired(now))

		_, err = store.Sessions.FindByTokenHash(ctx, security.HashRefreshToken("unknown"))
		assert.ErrorIs(t, err, apperr.ErrSessionNotFound)
	})

	t.Run("stored expiry is honoured", func(t *testing.T) {
		found, err := store.Sessions.GetByID(ctx, expired.ID)
		require.NoError(t, err)
		assert.True(t, found.Expired(now))
	})

	t.Run("active count and purge", func(t *testing.T) {
		active, err := store.Sessions.CountActive(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, 1, active)

		purged, err := store.Sessions.DeleteExpired(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, int64(1), purged)

		_, err = store.Sessions.GetByID(ctx, expired.ID)
		assert.ErrorIs(t, err, apperr.ErrSessionNotFound)
	})

	t.Run("delete by id", func(t *testing.T) {
		require.NoError(t, store.Sessions.DeleteByID(ctx, live.ID))
		assert.ErrorIs(t, store.Sessions.DeleteByID(ctx, live.ID), apperr.ErrSessionNotFound)
	})
}

func TestSQLiteDeleteOldestSessions(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t, repository.Options{})

	user, err := store.Users.Create(ctx, newUser("judy@example.com", models.UserStatusActive))
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		require.NoError(t, store.Sessions.Create(ctx, newSession(user.ID, time.Now().Add(time.Hour))))
	}

	require.NoError(t, store.Sessions.DeleteOldest(ctx, user.ID, 2))

	remaining, err := store.Sessions.ListByUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, remaining, 2)

	require.NoError(t, store.Sessions.DeleteByUser(ctx, user.ID))
	count, err := store.Sessions.CountByUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSQLiteStats(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t, repository.Options{})

	active, err := store.Users.Create(ctx, newUser("k1@example.com", models.UserStatusActive))
	require.NoError(t, err)
	_, err = store.Users.Create(ctx, newUser("k2@example.com", models.UserStatusPending))
	require.NoError(t, err)
	_, err = store.Users.Create(ctx, newUser("k3@example.com", models.UserStatusBanned))
	require.NoError(t, err)
	require.NoError(t, store.Sessions.Create(ctx, newSession(active.ID, time.Now().Add(time.Hour))))

	stats, err := store.Users.Stats(ctx, time.Now(), 5)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalUsers)
	assert.Equal(t, 1, stats.UsersByStatus[models.UserStatusActive])
	assert.Equal(t, 1, stats.UsersByStatus[models.UserStatusPending])
	assert.Equal(t, 1, stats.UsersByStatus[models.UserStatusBanned])
	assert.Equal(t, 3, stats.NewUsersLast7Days)
	assert.Equal(t, 3, stats.NewUsersLast30Days)
	assert.Equal(t, 1, stats.ActiveSessions)
	assert.Len(t, stats.RecentUsers, 3)
}

func TestSQLiteAcquireTimeout(t *testing.T) {
	ctx := context.Background()
	db, err := database.NewSQLite(ctx, config.SQLiteConfig{
		Path:        filepath.Join(t.TempDir(), "busy.db"),
		MaxOpen:     1,
		BusyTimeout: time.Second,
	})
	require.NoError(t, err)
	require.NoError(t, database.MigrateSQLite(ctx, db))
	defer db.Close()

	store := repository.NewSQLiteStore(db, repository.Options{AcquireTimeout: 50 * time.Millisecond})

	held, err := db.Conn(ctx)
	require.NoError(t, err)
	defer held.Close()

	_, err = store.Users.FindByEmail(ctx, "anyone@example.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrStoreUnavailable)
}
