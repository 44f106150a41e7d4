package handlers

import (
	"time"

	"cmsauth/internal/models"
	"cmsauth/internal/service"
)

type userResponse struct {
	ID        int64      `json:"id"`
	Email     string     `json:"email"`
	Name      string     `json:"name"`
	AvatarURL *string    `json:"avatarUrl"`
	Role      string     `json:"role"`
	Status    string     `json:"status"`
	LastLogin *time.Time `json:"lastLogin"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

func newUserResponse(user models.User) userResponse {
	return userResponse{
		ID:        user.ID,
		Email:     user.Email,
		Name:      user.Name,
		AvatarURL: user.AvatarURL,
		Role:      string(user.Role),
		Status:    string(user.Status),
		LastLogin: user.LastLogin,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
}

func newUserResponses(users []models.User) []userResponse {
	resp := make([]userResponse, 0, len(users))
	for _, user := range users {
		resp = append(resp, newUserResponse(user))
	}
	return resp
}

type authResponse struct {
	User             userResponse `json:"user"`
	Token            string       `json:"token"`
	RefreshToken     string       `json:"refreshToken"`
	ExpiresAt        time.Time    `json:"expiresAt"`
	RefreshExpiresAt time.Time    `json:"refreshExpiresAt"`
}

func newAuthResponse(result service.AuthResult) authResponse {
	return authResponse{
		User:             newUserResponse(result.User),
		Token:            result.AccessToken,
		RefreshToken:     result.RefreshToken,
		ExpiresAt:        result.AccessExpiresAt,
		RefreshExpiresAt: result.RefreshExpiresAt,
	}
}

type sessionResponse struct {
	ID         string    `json:"id"`
	DeviceName string    `json:"deviceName"`
	IPAddress  string    `json:"ipAddress"`
	UserAgent  string    `json:"userAgent"`
	CreatedAt  time.Time `json:"createdAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
	Current    bool      `json:"current"`
}

type statsResponse struct {
	TotalUsers         int            `json:"totalUsers"`
	UsersByStatus      map[string]int `json:"usersByStatus"`
	NewUsersLast7Days  int            `json:"newUsersLast7Days"`
	NewUsersLast30Days int            `json:"newUsersLast30Days"`
	ActiveSessions     int            `json:"activeSessions"`
	RecentUsers        []userResponse `json:"recentUsers"`
}

func newStatsResponse(stats models.UserStats) statsResponse {
	byStatus := make(map[string]int, len(models.AssignableStatuses()))
	for _, status := range models.AssignableStatuses() {
		byStatus[string(status)] = stats.UsersByStatus[status]
	}
	return statsResponse{
		TotalUsers:         stats.TotalUsers,
		UsersByStatus:      byStatus,
		NewUsersLast7Days:  stats.NewUsersLast7Days,
		NewUsersLast30Days: stats.NewUsersLast30Days,
		ActiveSessions:     stats.ActiveSessions,
		RecentUsers:        newUserResponses(stats.RecentUsers),
	}
}
