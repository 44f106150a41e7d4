package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"

	"github.com/rs/zerolog"

	"cmsauth/internal/apperr"
	"cmsauth/internal/ids"
	"cmsauth/internal/media/sniffer"
	"cmsauth/internal/models"
	"cmsauth/internal/repository"
)

// AvatarStore is the object storage the avatar service writes to.
type AvatarStore interface {
	PutAvatar(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
}

type AvatarService struct {
	users    repository.UserRepository
	store    AvatarStore
	maxBytes int64
	log      zerolog.Logger
}

func NewAvatarService(users repository.UserRepository, store AvatarStore, maxBytes int64, log zerolog.Logger) *AvatarService {
	return &AvatarService{users: users, store: store, maxBytes: maxBytes, log: log}
}

type AvatarInput struct {
	UserID int64
	File   multipart.File
	Header *multipart.FileHeader
}

// Upload stores a new avatar for the user and points the user's avatar URL at it.
func (s *AvatarService) Upload(ctx context.Context, input AvatarInput) (models.User, error) {
	if input.File == nil || input.Header == nil {
		return models.User{}, apperr.Validation("file is required")
	}

	data, err := io.ReadAll(io.LimitReader(input.File, s.maxBytes+1))
	if err != nil {
		return models.User{}, fmt.Errorf("read file: %w", err)
	}
	if len(data) == 0 {
		return models.User{}, apperr.Validation("file is empty")
	}
	if int64(len(data)) > s.maxBytes {
		return models.User{}, apperr.Validation(fmt.Sprintf("file exceeds %d bytes", s.maxBytes))
	}

	head := data
	if len(head) > sniffer.HeadSize {
		head = head[:sniffer.HeadSize]
	}
	result, err := sniffer.DetectHead(head)
	if err != nil {
		if errors.Is(err, sniffer.ErrUnknownType) {
			return models.User{}, apperr.Validation("avatar must be a jpeg, png, gif or webp image")
		}
		return models.User{}, fmt.Errorf("detect type: %w", err)
	}

	declared := sniffer.MimeTypeFromHTTP(http.Header(input.Header.Header))
	if declared != "" && declared != "application/octet-stream" && declared != result.MIME {
		return models.User{}, apperr.Validation(fmt.Sprintf("content type mismatch: declared %s, actual %s", declared, result.MIME))
	}

	key := path.Join("avatars", fmt.Sprintf("%d", input.UserID), ids.New()+"."+result.Extension())
	url, err := s.store.PutAvatar(ctx, key, bytes.NewReader(data), int64(len(data)), result.MIME)
	if err != nil {
		return models.User{}, err
	}

	user, err := s.users.Update(ctx, input.UserID, models.UserUpdate{AvatarURL: &url})
	if err != nil {
		return models.User{}, err
	}
	s.log.Info().Int64("user_id", input.UserID).Str("object_key", key).Msg("avatar updated")
	return user, nil
}
