package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Interface("error", r).
					Str("request_id", c.Writer.Header().Get(requestIDHeader)).
					Str("path", c.Request.URL.Path).
					Msg("panic recovered")
				Abort(c, http.StatusInternalServerError, errors.New("panic"))
			}
		}()
		c.Next()
	}
}
