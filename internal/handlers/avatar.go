package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"cmsauth/internal/apperr"
	"cmsauth/internal/middleware"
	"cmsauth/internal/service"
)

// multipartOverhead leaves room for form boundaries around the file part.
const multipartOverhead = 64 << 10

func (h HandlerSet) UploadAvatar(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		h.fail(c, apperr.ErrMissingToken)
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.Storage.MaxAvatarBytes+multipartOverhead)
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		h.fail(c, apperr.Validation("file is required and must fit the upload limit"))
		return
	}
	defer file.Close()

	updated, err := h.avatarService.Upload(c.Request.Context(), service.AvatarInput{
		UserID: user.ID,
		File:   file,
		Header: header,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user": newUserResponse(updated),
	})
}
