package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"cmsauth/internal/apperr"
	"cmsauth/internal/models"
	"cmsauth/internal/security"
	"cmsauth/internal/service"
)

const (
	currentUserKey  = "current_user"
	accessClaimsKey = "access_claims"
)

// Auth resolves the bearer token through the guard. An inactive account answers 401 here;
// only login reports it as 403.
func Auth(guard *service.AccessGuard) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, err := guard.Authenticate(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			status := apperr.HTTPStatus(err)
			if errors.Is(err, apperr.ErrAccountNotActive) {
				status = http.StatusUnauthorized
			}
			Abort(c, status, err)
			return
		}

		c.Set(currentUserKey, principal.User)
		c.Set(accessClaimsKey, *principal.Claims)

		c.Next()
	}
}

// CurrentUser returns the user attached by Auth.
func CurrentUser(c *gin.Context) (models.User, bool) {
	value, ok := c.Get(currentUserKey)
	if !ok {
		return models.User{}, false
	}
	user, ok := value.(models.User)
	return user, ok
}

// AccessClaims returns the claims of the token that authenticated the request.
func AccessClaims(c *gin.Context) (security.AccessClaims, bool) {
	value, ok := c.Get(accessClaimsKey)
	if !ok {
		return security.AccessClaims{}, false
	}
	claims, ok := value.(security.AccessClaims)
	return claims, ok
}

// Abort ends the request with the shared error body.
func Abort(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": apperr.Message(err),
		"code":  apperr.Code(err),
	})
}
