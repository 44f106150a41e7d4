package security_test

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cmsauth/internal/config"
	"cmsauth/internal/models"
	"cmsauth/internal/security"
)

func testSecurityConfig() config.SecurityConfig {
	return config.SecurityConfig{
		JWTAccessSecret:  "access-secret",
		JWTRefreshSecret: "refresh-secret",
		JWTAccessTTL:     time.Hour,
		JWTRefreshTTL:    7 * 24 * time.Hour,
		Issuer:           "cmsauth-test",
	}
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func TestAccessTokenRoundTrip(t *testing.T) {
	issuer := security.NewTokenIssuer(testSecurityConfig())
	user := models.User{ID: 42, Email: "alice@example.com", Role: models.UserRoleEditor}

	token, expiresAt, err := issuer.IssueAccessToken(user, "sess-1")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 2*time.Second)

	claims, err := issuer.ParseAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.Equal(t, "editor", claims.Role)
	assert.Equal(t, "sess-1", claims.SessionID)
	assert.Equal(t, "42", claims.Subject)
}

func TestAccessTokenExpiryBoundary(t *testing.T) {
	c := &clock{now: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)}
	issuer := security.NewTokenIssuer(testSecurityConfig()).WithClock(c.Now)

	token, _, err := issuer.IssueAccessToken(models.User{ID: 7, Email: "a@b.co"}, "")
	require.NoError(t, err)

	c.now = c.now.Add(time.Hour - time.Second)
	_, err = issuer.ParseAccessToken(token)
	assert.NoError(t, err)

	c.now = c.now.Add(2 * time.Second)
	_, err = issuer.ParseAccessToken(token)
	require.Error(t, err)
	assert.True(t, errors.Is(err, jwt.ErrTokenExpired))
}

func TestTokenTypesAreNotInterchangeable(t *testing.T) {
	cfg := testSecurityConfig()

	t.Run("separate secrets", func(t *testing.T) {
		issuer := security.NewTokenIssuer(cfg)
		refresh, _, err := issuer.IssueRefreshToken(1, "sess-1")
		require.NoError(t, err)

		_, err = issuer.ParseAccessToken(refresh)
		assert.Error(t, err)
	})

	t.Run("shared secret still checks type marker", func(t *testing.T) {
		cfg.JWTRefreshSecret = cfg.JWTAccessSecret
		issuer := security.NewTokenIssuer(cfg)

		refresh, _, err := issuer.IssueRefreshToken(1, "sess-1")
		require.NoError(t, err)
		_, err = issuer.ParseAccessToken(refresh)
		assert.Error(t, err)

		access, _, err := issuer.IssueAccessToken(models.User{ID: 1}, "sess-1")
		require.NoError(t, err)
		_, err = issuer.ParseRefreshToken(access)
		assert.ErrorIs(t, err, security.ErrWrongTokenType)
	})
}

func TestRefreshTokenClaims(t *testing.T) {
	issuer := security.NewTokenIssuer(testSecurityConfig())

	token, expiresAt, err := issuer.IssueRefreshToken(9, "2abc")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(7*24*time.Hour), expiresAt, 2*time.Second)

	claims, err := issuer.ParseRefreshToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(9), claims.UserID)
	assert.Equal(t, security.TokenTypeRefresh, claims.Type)
	assert.Equal(t, "2abc", claims.ID)
}

func TestParseRejectsForeignTokens(t *testing.T) {
	issuer := security.NewTokenIssuer(testSecurityConfig())

	other := testSecurityConfig()
	other.JWTAccessSecret = "someone-else"
	forged, _, err := security.NewTokenIssuer(other).IssueAccessToken(models.User{ID: 1}, "")
	require.NoError(t, err)

	_, err = issuer.ParseAccessToken(forged)
	assert.Error(t, err)

	_, err = issuer.ParseAccessToken("not-a-jwt")
	assert.Error(t, err)
}

func TestHashRefreshToken(t *testing.T) {
	a := security.HashRefreshToken("token-a")
	assert.Len(t, a, 32)
	assert.Equal(t, a, security.HashRefreshToken("token-a"))
	assert.NotEqual(t, a, security.HashRefreshToken("token-b"))
}
