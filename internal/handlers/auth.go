package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"cmsauth/internal/apperr"
	"cmsauth/internal/middleware"
	"cmsauth/internal/service"
)

func (h HandlerSet) RegisterUser(c *gin.Context) {
	var input service.RegisterInput
	if err := bindJSON(c, &input); err != nil {
		h.fail(c, err)
		return
	}

	user, err := h.authService.Register(c.Request.Context(), input)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"user": newUserResponse(user),
	})
}

func (h HandlerSet) Login(c *gin.Context) {
	var input service.LoginInput
	if err := bindJSON(c, &input); err != nil {
		h.fail(c, err)
		return
	}
	input.IPAddress = c.ClientIP()
	input.UserAgent = c.Request.UserAgent()

	result, err := h.authService.Login(c.Request.Context(), input)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, newAuthResponse(result))
}

func (h HandlerSet) Refresh(c *gin.Context) {
	var input service.RefreshInput
	if err := bindJSON(c, &input); err != nil {
		h.fail(c, err)
		return
	}
	input.IPAddress = c.ClientIP()
	input.UserAgent = c.Request.UserAgent()

	result, err := h.authService.Refresh(c.Request.Context(), input)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, newAuthResponse(result))
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (h HandlerSet) Logout(c *gin.Context) {
	var req logoutRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, err)
		return
	}

	if err := h.authService.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		h.fail(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h HandlerSet) Me(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		h.fail(c, apperr.ErrMissingToken)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user": newUserResponse(user),
	})
}

func (h HandlerSet) ListSessions(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		h.fail(c, apperr.ErrMissingToken)
		return
	}
	claims, _ := middleware.AccessClaims(c)

	sessions, err := h.authService.ListSessions(c.Request.Context(), user.ID)
	if err != nil {
		h.fail(c, err)
		return
	}

	resp := make([]sessionResponse, 0, len(sessions))
	for _, session := range sessions {
		resp = append(resp, sessionResponse{
			ID:         session.ID,
			DeviceName: session.DeviceName,
			IPAddress:  session.IPAddress,
			UserAgent:  session.UserAgent,
			CreatedAt:  session.CreatedAt,
			ExpiresAt:  session.ExpiresAt,
			Current:    session.ID == claims.SessionID,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions": resp,
	})
}

func (h HandlerSet) RevokeSession(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		h.fail(c, apperr.ErrMissingToken)
		return
	}
	claims, _ := middleware.AccessClaims(c)

	if err := h.authService.RevokeSession(c.Request.Context(), user.ID, claims.SessionID, c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
