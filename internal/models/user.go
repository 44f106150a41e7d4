package models

import (
	"fmt"
	"strings"
	"time"

	"cmsauth/internal/apperr"
)

type UserRole string

const (
	UserRoleAdmin  UserRole = "admin"
	UserRoleEditor UserRole = "editor"
	UserRoleUser   UserRole = "user"
)

// ParseUserRole accepts only the known roles.
func ParseUserRole(value string) (UserRole, error) {
	switch role := UserRole(strings.ToLower(strings.TrimSpace(value))); role {
	case UserRoleAdmin, UserRoleEditor, UserRoleUser:
		return role, nil
	default:
		return "", apperr.Validation(fmt.Sprintf("invalid role %q", value))
	}
}

type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusInactive UserStatus = "inactive"
	UserStatusPending  UserStatus = "pending"
	UserStatusBanned   UserStatus = "banned"
	// UserStatusDeleted is only set by soft delete.
	UserStatusDeleted UserStatus = "deleted"
)

// ParseUserStatus accepts every stored status, including deleted.
func ParseUserStatus(value string) (UserStatus, error) {
	switch status := UserStatus(strings.ToLower(strings.TrimSpace(value))); status {
	case UserStatusActive, UserStatusInactive, UserStatusPending, UserStatusBanned, UserStatusDeleted:
		return status, nil
	default:
		return "", apperr.Validation(fmt.Sprintf("invalid status %q", value))
	}
}

// ParseAssignableStatus accepts the statuses an administrator may set directly.
func ParseAssignableStatus(value string) (UserStatus, error) {
	status, err := ParseUserStatus(value)
	if err != nil {
		return "", err
	}
	if !status.Assignable() {
		return "", apperr.Validation(fmt.Sprintf("status %q cannot be assigned", value))
	}
	return status, nil
}

func (s UserStatus) Assignable() bool {
	return s != UserStatusDeleted
}

// AssignableStatuses lists the values accepted by ParseAssignableStatus.
func AssignableStatuses() []UserStatus {
	return []UserStatus{UserStatusActive, UserStatusInactive, UserStatusPending, UserStatusBanned}
}

type User struct {
	ID           int64
	Email        string
	PasswordHash []byte `json:"-"`
	Name         string
	AvatarURL    *string
	Role         UserRole
	Status       UserStatus
	LastLogin    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserUpdate lists the fields to change; nil means unchanged.
type UserUpdate struct {
	Name      *string
	Email     *string
	AvatarURL *string
	Role      *UserRole
	Status    *UserStatus
}

func (u UserUpdate) Empty() bool {
	return u.Name == nil && u.Email == nil && u.AvatarURL == nil && u.Role == nil && u.Status == nil
}

// NormalizeEmail is applied before every store write and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type Session struct {
	ID         string
	UserID     int64
	TokenHash  []byte
	DeviceName string
	IPAddress  string
	UserAgent  string
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the session must be treated as invalid at now.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

type UserStats struct {
	TotalUsers         int
	UsersByStatus      map[UserStatus]int
	NewUsersLast7Days  int
	NewUsersLast30Days int
	ActiveSessions     int
	RecentUsers        []User
}
