package service_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"cmsauth/internal/config"
	"cmsauth/internal/database"
	"cmsauth/internal/models"
	"cmsauth/internal/repository"
	"cmsauth/internal/security"
	"cmsauth/internal/service"
)

type fixture struct {
	cfg    *config.AppConfig
	store  *repository.Store
	hasher security.PasswordHasher
	tokens *security.TokenIssuer
	auth   *service.AuthService
	admin  *service.AdminService
	guard  *service.AccessGuard
}

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		Environment: "test",
		Security: config.SecurityConfig{
			JWTAccessSecret:  "access-secret-for-tests",
			JWTRefreshSecret: "refresh-secret-for-tests",
			JWTAccessTTL:     time.Hour,
			JWTRefreshTTL:    24 * time.Hour,
			Issuer:           "cmsauth-test",
			PasswordHasher:   "bcrypt",
			BcryptCost:       10,
			MaxSessions:      10,
		},
		Auth: config.AuthConfig{
			RegistrationStatus: "active",
			PasswordPolicy:     service.PasswordPolicyBasic,
		},
	}
}

func newFixture(t *testing.T, mutate ...func(*config.AppConfig)) *fixture {
	t.Helper()

	cfg := testConfig()
	for _, fn := range mutate {
		fn(cfg)
	}

	ctx := context.Background()
	db, err := database.NewSQLite(ctx, config.SQLiteConfig{
		Path:        filepath.Join(t.TempDir(), "auth.db"),
		MaxOpen:     4,
		BusyTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	require.NoError(t, database.MigrateSQLite(ctx, db))

	store := repository.NewSQLiteStore(db, repository.Options{
		LookupMode: repository.LookupMode(cfg.Database.LookupMode),
		SoftDelete: cfg.Database.SoftDelete,
	})
	t.Cleanup(store.Close)

	hasher := security.NewPasswordHasher(cfg.Security)
	tokens := security.NewTokenIssuer(cfg.Security)
	log := zerolog.Nop()

	return &fixture{
		cfg:    cfg,
		store:  store,
		hasher: hasher,
		tokens: tokens,
		auth:   service.NewAuthService(store.Users, store.Sessions, hasher, tokens, cfg, log),
		admin:  service.NewAdminService(store.Users, log),
		guard:  service.NewAccessGuard(store.Users, tokens),
	}
}

// seedUser stores a user with the given status and password directly.
func (f *fixture) seedUser(t *testing.T, email, password string, status models.UserStatus) models.User {
	t.Helper()
	hash, err := f.hasher.Hash(password)
	require.NoError(t, err)

	user, err := f.store.Users.Create(context.Background(), models.User{
		Email:        email,
		PasswordHash: hash,
		Name:         "Seeded",
		Role:         models.UserRoleUser,
		Status:       status,
	})
	require.NoError(t, err)
	return user
}

func (f *fixture) seedAdmin(t *testing.T) models.User {
	t.Helper()
	user := f.seedUser(t, "root@example.com", "Adm1nPass", models.UserStatusActive)
	role := models.UserRoleAdmin
	user, err := f.store.Users.Update(context.Background(), user.ID, models.UserUpdate{Role: &role})
	require.NoError(t, err)
	return user
}

func (f *fixture) login(t *testing.T, email, password string) service.AuthResult {
	t.Helper()
	result, err := f.auth.Login(context.Background(), service.LoginInput{Email: email, Password: password})
	require.NoError(t, err)
	return result
}

func bearer(token string) string {
	return "Bearer " + token
}
