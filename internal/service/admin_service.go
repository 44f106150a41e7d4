package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"cmsauth/internal/apperr"
	"cmsauth/internal/models"
	"cmsauth/internal/repository"
)

const recentUsersLimit = 5

// bulkActions maps the fixed bulk actions to the status they set. set_status takes the
// status from the request instead.
var bulkActions = map[string]models.UserStatus{
	"approve":    models.UserStatusActive,
	"activate":   models.UserStatusActive,
	"reject":     models.UserStatusInactive,
	"deactivate": models.UserStatusInactive,
	"ban":        models.UserStatusBanned,
}

const bulkActionSetStatus = "set_status"

type AdminService struct {
	users repository.UserRepository
	log   zerolog.Logger
	now   func() time.Time
}

func NewAdminService(users repository.UserRepository, log zerolog.Logger) *AdminService {
	return &AdminService{users: users, log: log, now: time.Now}
}

type UserPage struct {
	Users   []models.User
	Total   int
	Page    int
	PerPage int
}

func (s *AdminService) List(ctx context.Context, page, perPage int) (UserPage, error) {
	users, total, err := s.users.List(ctx, perPage, (page-1)*perPage)
	if err != nil {
		return UserPage{}, err
	}
	return UserPage{Users: users, Total: total, Page: page, PerPage: perPage}, nil
}

func (s *AdminService) Get(ctx context.Context, id int64) (models.User, error) {
	return s.users.GetByID(ctx, id)
}

func (s *AdminService) Update(ctx context.Context, actorID, id int64, input AdminUpdateInput) (models.User, error) {
	if err := input.validate(); err != nil {
		return models.User{}, invalid(err)
	}
	update, err := input.toUpdate()
	if err != nil {
		return models.User{}, err
	}
	if update.Empty() {
		return models.User{}, apperr.Validation("no fields to update")
	}
	if actorID == id && demotesSelf(update) {
		return models.User{}, apperr.Validation("administrators cannot demote or deactivate themselves")
	}

	user, err := s.users.Update(ctx, id, update)
	if err != nil {
		return models.User{}, err
	}
	s.log.Info().Int64("actor_id", actorID).Int64("user_id", id).Msg("user updated")
	return user, nil
}

// Delete removes the user's sessions together with the user.
func (s *AdminService) Delete(ctx context.Context, actorID, id int64) error {
	if actorID == id {
		return apperr.Validation("administrators cannot delete themselves")
	}
	if err := s.users.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info().Int64("actor_id", actorID).Int64("user_id", id).Msg("user deleted")
	return nil
}

// BulkAction sets one status on every listed user. The status is checked against the
// same enum as a single update.
func (s *AdminService) BulkAction(ctx context.Context, actorID int64, input BulkActionInput) ([]models.User, error) {
	if err := input.validate(); err != nil {
		return nil, invalid(err)
	}

	action := strings.ToLower(strings.TrimSpace(input.Action))
	status, ok := bulkActions[action]
	if action == bulkActionSetStatus {
		parsed, err := models.ParseAssignableStatus(input.Status)
		if err != nil {
			return nil, err
		}
		status, ok = parsed, true
	}
	if !ok {
		return nil, apperr.Validation(fmt.Sprintf("unknown bulk action %q", input.Action))
	}

	ids := uniqueIDs(input.UserIDs)
	if status != models.UserStatusActive && containsID(ids, actorID) {
		return nil, apperr.Validation("administrators cannot deactivate themselves")
	}

	users, err := s.users.SetStatus(ctx, ids, status)
	if err != nil {
		return nil, err
	}
	s.log.Info().Int64("actor_id", actorID).Str("status", string(status)).Int("count", len(users)).Msg("bulk status update")
	return users, nil
}

// BulkDelete deletes every listed user that exists. It fails with ErrUserNotFound when
// none matched.
func (s *AdminService) BulkDelete(ctx context.Context, actorID int64, userIDs []int64) ([]models.User, error) {
	if err := validateUserIDs(userIDs); err != nil {
		return nil, err
	}
	ids := uniqueIDs(userIDs)
	if containsID(ids, actorID) {
		return nil, apperr.Validation("administrators cannot delete themselves")
	}

	users, err := s.users.DeleteMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, apperr.ErrUserNotFound
	}
	s.log.Info().Int64("actor_id", actorID).Int("count", len(users)).Msg("bulk delete")
	return users, nil
}

func (s *AdminService) Stats(ctx context.Context) (models.UserStats, error) {
	return s.users.Stats(ctx, s.now().UTC(), recentUsersLimit)
}

func demotesSelf(update models.UserUpdate) bool {
	if update.Role != nil && *update.Role != models.UserRoleAdmin {
		return true
	}
	return update.Status != nil && *update.Status != models.UserStatusActive
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
