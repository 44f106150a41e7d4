package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"cmsauth/internal/apperr"
	"cmsauth/internal/models"
)

func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	roleSet := make(map[models.UserRole]struct{}, len(roles))
	for _, role := range roles {
		roleSet[role] = struct{}{}
	}

	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			Abort(c, http.StatusUnauthorized, apperr.ErrMissingToken)
			return
		}

		if _, ok := roleSet[user.Role]; !ok {
			Abort(c, http.StatusForbidden, apperr.ErrForbidden)
			return
		}

		c.Next()
	}
}
