package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"cmsauth/internal/apperr"
	"cmsauth/internal/config"
	"cmsauth/internal/ids"
	"cmsauth/internal/models"
	"cmsauth/internal/repository"
	"cmsauth/internal/security"
)

const defaultDeviceName = "Unknown Device"

type AuthService struct {
	users    repository.UserRepository
	sessions repository.SessionRepository
	hasher   security.PasswordHasher
	tokens   *security.TokenIssuer
	cfg      *config.AppConfig
	log      zerolog.Logger
	now      func() time.Time

	dummyOnce sync.Once
	dummyHash []byte
}

func NewAuthService(
	users repository.UserRepository,
	sessions repository.SessionRepository,
	hasher security.PasswordHasher,
	tokens *security.TokenIssuer,
	cfg *config.AppConfig,
	log zerolog.Logger,
) *AuthService {
	return &AuthService{
		users:    users,
		sessions: sessions,
		hasher:   hasher,
		tokens:   tokens,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

type AuthResult struct {
	User             models.User
	AccessToken      string
	RefreshToken     string
	SessionID        string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

func (s *AuthService) Register(ctx context.Context, input RegisterInput) (models.User, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Email = models.NormalizeEmail(input.Email)
	if err := input.validate(s.cfg.Auth.PasswordPolicy); err != nil {
		return models.User{}, invalid(err)
	}

	status, err := models.ParseAssignableStatus(s.cfg.Auth.RegistrationStatus)
	if err != nil {
		return models.User{}, fmt.Errorf("registration status: %w", err)
	}

	passwordHash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.users.Create(ctx, models.User{
		Email:        input.Email,
		PasswordHash: passwordHash,
		Name:         input.Name,
		Role:         models.UserRoleUser,
		Status:       status,
	})
	if err != nil {
		return models.User{}, err
	}

	s.log.Info().Int64("user_id", user.ID).Str("status", string(user.Status)).Msg("user registered")
	return user, nil
}

// Login never tells an unknown email apart from a wrong password. A user whose status
// fails the gate gets the status error whether or not the password matched.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (AuthResult, error) {
	input.Email = models.NormalizeEmail(input.Email)
	if err := input.validate(); err != nil {
		return AuthResult{}, invalid(err)
	}

	user, err := s.users.FindByEmail(ctx, input.Email)
	if err != nil {
		if errors.Is(err, apperr.ErrUserNotFound) {
			s.burnVerification(input.Password)
			return AuthResult{}, apperr.ErrInvalidCredentials
		}
		return AuthResult{}, err
	}

	ok, err := s.hasher.Verify(input.Password, user.PasswordHash)
	if err != nil {
		s.log.Warn().Err(err).Int64("user_id", user.ID).Msg("stored password hash unreadable")
		ok = false
	}

	if err := StatusGate(user); err != nil {
		return AuthResult{}, err
	}
	if !ok {
		return AuthResult{}, apperr.ErrInvalidCredentials
	}

	result, err := s.createSession(ctx, user, sessionMeta{
		deviceName: input.DeviceName,
		ipAddress:  input.IPAddress,
		userAgent:  input.UserAgent,
	})
	if err != nil {
		return AuthResult{}, err
	}

	now := s.now().UTC()
	if err := s.users.TouchLastLogin(ctx, user.ID, now); err != nil {
		s.log.Warn().Err(err).Int64("user_id", user.ID).Msg("update last login failed")
	} else {
		result.User.LastLogin = &now
	}

	return result, nil
}

// burnVerification spends the same hashing work as a real login so response time does
// not reveal whether the email exists.
func (s *AuthService) burnVerification(password string) {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash(ids.New())
		if err != nil {
			s.log.Error().Err(err).Msg("build dummy password hash")
			return
		}
		s.dummyHash = hash
	})
	if s.dummyHash != nil {
		_, _ = s.hasher.Verify(password, s.dummyHash)
	}
}

type sessionMeta struct {
	deviceName string
	ipAddress  string
	userAgent  string
}

func (s *AuthService) createSession(ctx context.Context, user models.User, meta sessionMeta) (AuthResult, error) {
	sessionID := ids.New()

	refreshToken, refreshExpiresAt, err := s.tokens.IssueRefreshToken(user.ID, sessionID)
	if err != nil {
		return AuthResult{}, fmt.Errorf("issue refresh token: %w", err)
	}
	accessToken, accessExpiresAt, err := s.tokens.IssueAccessToken(user, sessionID)
	if err != nil {
		return AuthResult{}, fmt.Errorf("issue access token: %w", err)
	}

	deviceName := strings.TrimSpace(meta.deviceName)
	if deviceName == "" {
		deviceName = defaultDeviceName
	}

	session := models.Session{
		ID:         sessionID,
		UserID:     user.ID,
		TokenHash:  security.HashRefreshToken(refreshToken),
		DeviceName: deviceName,
		IPAddress:  meta.ipAddress,
		UserAgent:  meta.userAgent,
		ExpiresAt:  refreshExpiresAt,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return AuthResult{}, err
	}

	if err := s.enforceSessionLimit(ctx, user.ID); err != nil {
		s.log.Warn().Err(err).Int64("user_id", user.ID).Msg("enforce session limit failed")
	}

	return AuthResult{
		User:             user,
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		SessionID:        sessionID,
		AccessExpiresAt:  accessExpiresAt,
		RefreshExpiresAt: refreshExpiresAt,
	}, nil
}

func (s *AuthService) enforceSessionLimit(ctx context.Context, userID int64) error {
	limit := s.cfg.Security.MaxSessions
	if limit <= 0 {
		return nil
	}
	count, err := s.sessions.CountByUser(ctx, userID)
	if err != nil {
		return err
	}
	if count <= limit {
		return nil
	}
	return s.sessions.DeleteOldest(ctx, userID, limit)
}

// Refresh exchanges a refresh token for a new pair. The presented session is deleted, so
// each refresh token works once.
func (s *AuthService) Refresh(ctx context.Context, input RefreshInput) (AuthResult, error) {
	if err := input.validate(); err != nil {
		return AuthResult{}, invalid(err)
	}

	claims, err := s.tokens.ParseRefreshToken(input.RefreshToken)
	if err != nil {
		return AuthResult{}, fmt.Errorf("%w: %v", apperr.ErrInvalidToken, err)
	}

	session, err := s.sessions.FindByTokenHash(ctx, security.HashRefreshToken(input.RefreshToken))
	if err != nil {
		if errors.Is(err, apperr.ErrSessionNotFound) {
			return AuthResult{}, fmt.Errorf("%w: session revoked", apperr.ErrInvalidToken)
		}
		return AuthResult{}, err
	}
	if session.UserID != claims.UserID || session.ID != claims.ID {
		return AuthResult{}, fmt.Errorf("%w: session mismatch", apperr.ErrInvalidToken)
	}
	if session.Expired(s.now()) {
		if err := s.sessions.DeleteByID(ctx, session.ID); err != nil && !errors.Is(err, apperr.ErrSessionNotFound) {
			s.log.Warn().Err(err).Str("session_id", session.ID).Msg("delete expired session failed")
		}
		return AuthResult{}, fmt.Errorf("%w: session expired", apperr.ErrInvalidToken)
	}

	user, err := s.users.FindByID(ctx, claims.UserID)
	if err != nil {
		return AuthResult{}, err
	}
	if err := StatusGate(user); err != nil {
		return AuthResult{}, err
	}

	if err := s.sessions.DeleteByID(ctx, session.ID); err != nil {
		if errors.Is(err, apperr.ErrSessionNotFound) {
			return AuthResult{}, fmt.Errorf("%w: session revoked", apperr.ErrInvalidToken)
		}
		return AuthResult{}, err
	}

	deviceName := input.DeviceName
	if deviceName == "" {
		deviceName = session.DeviceName
	}
	return s.createSession(ctx, user, sessionMeta{
		deviceName: deviceName,
		ipAddress:  input.IPAddress,
		userAgent:  input.UserAgent,
	})
}

// Logout deletes the session behind refreshToken. A session that is already gone is not
// an error.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if strings.TrimSpace(refreshToken) == "" {
		return apperr.Validation("refreshToken: cannot be blank")
	}
	claims, err := s.tokens.ParseRefreshToken(refreshToken)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrInvalidToken, err)
	}

	err = s.sessions.DeleteByID(ctx, claims.ID)
	if err != nil && !errors.Is(err, apperr.ErrSessionNotFound) {
		return err
	}
	s.log.Debug().Int64("user_id", claims.UserID).Str("session_id", claims.ID).Msg("session closed")
	return nil
}

func (s *AuthService) ListSessions(ctx context.Context, userID int64) ([]models.Session, error) {
	return s.sessions.ListByUser(ctx, userID)
}

// RevokeSession deletes one of the caller's sessions other than the current one.
func (s *AuthService) RevokeSession(ctx context.Context, userID int64, currentSessionID, sessionID string) error {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.UserID != userID {
		return apperr.ErrSessionNotFound
	}
	if session.ID == currentSessionID {
		return apperr.Validation("cannot revoke the current session")
	}
	return s.sessions.DeleteByID(ctx, session.ID)
}

// EnsureAdmin creates or promotes the configured bootstrap administrator. It reports
// whether anything changed.
func (s *AuthService) EnsureAdmin(ctx context.Context, cfg config.BootstrapConfig) (bool, error) {
	email := models.NormalizeEmail(cfg.AdminEmail)
	if email == "" || cfg.AdminPassword == "" {
		return false, nil
	}

	existing, err := s.users.FindByEmail(ctx, email)
	switch {
	case err == nil:
		if existing.Role == models.UserRoleAdmin && existing.Status == models.UserStatusActive {
			return false, nil
		}
		role, status := models.UserRoleAdmin, models.UserStatusActive
		if _, err := s.users.Update(ctx, existing.ID, models.UserUpdate{Role: &role, Status: &status}); err != nil {
			return false, fmt.Errorf("promote bootstrap admin: %w", err)
		}
		return true, nil
	case !errors.Is(err, apperr.ErrUserNotFound):
		return false, err
	}

	hash, err := s.hasher.Hash(cfg.AdminPassword)
	if err != nil {
		return false, fmt.Errorf("hash bootstrap password: %w", err)
	}
	name := strings.TrimSpace(cfg.AdminName)
	if name == "" {
		name = "Administrator"
	}

	_, err = s.users.Create(ctx, models.User{
		Email:        email,
		PasswordHash: hash,
		Name:         name,
		Role:         models.UserRoleAdmin,
		Status:       models.UserStatusActive,
	})
	if errors.Is(err, apperr.ErrDuplicateEmail) {
		return false, fmt.Errorf("bootstrap admin %s exists but is hidden by strict lookup mode", email)
	}
	if err != nil {
		return false, fmt.Errorf("create bootstrap admin: %w", err)
	}
	return true, nil
}
