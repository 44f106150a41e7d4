package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cmsauth/internal/apperr"
	"cmsauth/internal/models"
	"cmsauth/internal/repository"
	"cmsauth/internal/security"
)

// Principal is the authenticated caller of a protected request.
type Principal struct {
	User   models.User
	Claims *security.AccessClaims
}

// AccessGuard resolves a bearer token to an active user.
type AccessGuard struct {
	users  repository.UserRepository
	tokens *security.TokenIssuer
}

func NewAccessGuard(users repository.UserRepository, tokens *security.TokenIssuer) *AccessGuard {
	return &AccessGuard{users: users, tokens: tokens}
}

// Authenticate checks the Authorization header value in order: presence, signature and
// expiry, user lookup, status gate. The first failing step decides the error.
func (g *AccessGuard) Authenticate(ctx context.Context, header string) (Principal, error) {
	token, ok := BearerToken(header)
	if !ok {
		return Principal{}, apperr.ErrMissingToken
	}

	claims, err := g.tokens.ParseAccessToken(token)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", apperr.ErrInvalidToken, err)
	}

	user, err := g.users.FindByID(ctx, claims.UserID)
	if err != nil {
		return Principal{}, err
	}

	if err := StatusGate(user); err != nil {
		return Principal{}, err
	}

	return Principal{User: user, Claims: claims}, nil
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" value.
func BearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// StatusGate allows only active users.
func StatusGate(user models.User) error {
	switch user.Status {
	case models.UserStatusActive:
		return nil
	case models.UserStatusBanned:
		return apperr.AccountNotActive(string(user.Status), "account locked")
	case models.UserStatusPending:
		return apperr.AccountNotActive(string(user.Status), "account awaiting verification")
	case models.UserStatusInactive:
		return apperr.AccountNotActive(string(user.Status), "account deactivated")
	case models.UserStatusDeleted:
		return apperr.AccountNotActive(string(user.Status), "account deleted")
	default:
		return apperr.AccountNotActive(string(user.Status), "account not active")
	}
}

// IsAccountNotActive reports whether err came from the status gate.
func IsAccountNotActive(err error) bool {
	return errors.Is(err, apperr.ErrAccountNotActive)
}
