package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"cmsauth/internal/apperr"
	"cmsauth/internal/middleware"
	"cmsauth/internal/service"
)

const (
	defaultPerPage = 50
	maxPerPage     = 200
)

func pagination(c *gin.Context) (page, perPage int) {
	page, perPage = 1, defaultPerPage

	if v, err := strconv.Atoi(c.Query("perPage")); err == nil && v > 0 && v <= maxPerPage {
		perPage = v
	}
	if v, err := strconv.Atoi(c.Query("page")); err == nil && v > 1 {
		page = v
	}
	return page, perPage
}

func userIDParam(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("invalid user id")
	}
	return id, nil
}

func actorID(c *gin.Context) int64 {
	user, _ := middleware.CurrentUser(c)
	return user.ID
}

func (h HandlerSet) AdminListUsers(c *gin.Context) {
	page, perPage := pagination(c)

	result, err := h.adminService.List(c.Request.Context(), page, perPage)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"users":   newUserResponses(result.Users),
		"total":   result.Total,
		"page":    result.Page,
		"perPage": result.PerPage,
	})
}

func (h HandlerSet) AdminGetUser(c *gin.Context) {
	id, err := userIDParam(c)
	if err != nil {
		h.fail(c, err)
		return
	}

	user, err := h.adminService.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user": newUserResponse(user),
	})
}

func (h HandlerSet) AdminUpdateUser(c *gin.Context) {
	id, err := userIDParam(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	var input service.AdminUpdateInput
	if err := bindJSON(c, &input); err != nil {
		h.fail(c, err)
		return
	}

	user, err := h.adminService.Update(c.Request.Context(), actorID(c), id, input)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user": newUserResponse(user),
	})
}

func (h HandlerSet) AdminDeleteUser(c *gin.Context) {
	id, err := userIDParam(c)
	if err != nil {
		h.fail(c, err)
		return
	}

	if err := h.adminService.Delete(c.Request.Context(), actorID(c), id); err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "user deleted",
	})
}

func (h HandlerSet) AdminBulkAction(c *gin.Context) {
	var input service.BulkActionInput
	if err := bindJSON(c, &input); err != nil {
		h.fail(c, err)
		return
	}

	users, err := h.adminService.BulkAction(c.Request.Context(), actorID(c), input)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":      fmt.Sprintf("%s applied to %d users", input.Action, len(users)),
		"updatedCount": len(users),
		"users":        newUserResponses(users),
	})
}

type bulkDeleteRequest struct {
	UserIDs []int64 `json:"userIds"`
}

func (h HandlerSet) AdminBulkDelete(c *gin.Context) {
	var req bulkDeleteRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, err)
		return
	}

	users, err := h.adminService.BulkDelete(c.Request.Context(), actorID(c), req.UserIDs)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":      fmt.Sprintf("deleted %d users", len(users)),
		"deletedCount": len(users),
		"users":        newUserResponses(users),
	})
}

func (h HandlerSet) AdminStats(c *gin.Context) {
	stats, err := h.adminService.Stats(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, newStatsResponse(stats))
}
