package handlers

import (
	"github.com/gin-gonic/gin"

	"cmsauth/internal/apperr"
	"cmsauth/internal/middleware"
)

// fail writes err with its mapped status. Anything outside the error taxonomy is logged
// and reported as a generic 500.
func (h HandlerSet) fail(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status >= 500 {
		_ = c.Error(err)
		h.log.Error().Err(err).
			Str("path", c.Request.URL.Path).
			Str("request_id", c.Writer.Header().Get("X-Request-Id")).
			Msg("request failed")
	}
	middleware.Abort(c, status, err)
}

func bindJSON(c *gin.Context, dst any) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		return apperr.Validation("invalid request body")
	}
	return nil
}
