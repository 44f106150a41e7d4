package models_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cmsauth/internal/apperr"
	"cmsauth/internal/models"
)

func TestParseUserStatus(t *testing.T) {
	for _, value := range []string{"active", "inactive", "pending", "banned", "deleted", " Banned "} {
		_, err := models.ParseUserStatus(value)
		assert.NoError(t, err, value)
	}

	_, err := models.ParseUserStatus("suspended")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestParseAssignableStatus(t *testing.T) {
	status, err := models.ParseAssignableStatus("banned")
	require.NoError(t, err)
	assert.Equal(t, models.UserStatusBanned, status)

	_, err = models.ParseAssignableStatus("deleted")
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	assert.Len(t, models.AssignableStatuses(), 4)
}

func TestParseUserRole(t *testing.T) {
	role, err := models.ParseUserRole("Editor")
	require.NoError(t, err)
	assert.Equal(t, models.UserRoleEditor, role)

	_, err = models.ParseUserRole("superadmin")
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestSessionExpired(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	session := models.Session{ExpiresAt: now}

	assert.True(t, session.Expired(now))
	assert.True(t, session.Expired(now.Add(time.Second)))
	assert.False(t, session.Expired(now.Add(-time.Second)))
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "alice@example.com", models.NormalizeEmail("  Alice@Example.COM "))
}
