// Package apperr holds the error taxonomy shared by the store, the services and
// the HTTP layer, and maps it to status codes.
package apperr

import (
	"errors"
	"net/http"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountNotActive   = errors.New("account not active")
	ErrMissingToken       = errors.New("missing token")
	ErrInvalidToken       = errors.New("invalid token")
	ErrUserNotFound       = errors.New("user not found")
	ErrSessionNotFound    = errors.New("session not found")
	ErrForbidden          = errors.New("forbidden")
	ErrStoreUnavailable   = errors.New("store unavailable")
)

// ValidationError describes malformed or missing input.
type ValidationError struct {
	Message string
	Err     error
}

func Validation(message string) error {
	return &ValidationError{Message: message}
}

// WrapValidation keeps the underlying validator error for callers that want field details.
func WrapValidation(err error) error {
	if err == nil {
		return nil
	}
	return &ValidationError{Message: err.Error(), Err: err}
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// AccountNotActiveError carries the status-specific message shown to the caller.
type AccountNotActiveError struct {
	Status  string
	Message string
}

func AccountNotActive(status, message string) error {
	return &AccountNotActiveError{Status: status, Message: message}
}

func (e *AccountNotActiveError) Error() string {
	return e.Message
}

func (e *AccountNotActiveError) Is(target error) bool {
	return target == ErrAccountNotActive
}

type mapping struct {
	target error
	status int
	code   string
}

var mappings = []mapping{
	{ErrValidation, http.StatusBadRequest, "validation_error"},
	{ErrDuplicateEmail, http.StatusConflict, "duplicate_email"},
	{ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
	{ErrAccountNotActive, http.StatusForbidden, "account_not_active"},
	{ErrMissingToken, http.StatusUnauthorized, "missing_token"},
	{ErrInvalidToken, http.StatusUnauthorized, "invalid_token"},
	{ErrUserNotFound, http.StatusNotFound, "user_not_found"},
	{ErrSessionNotFound, http.StatusNotFound, "session_not_found"},
	{ErrForbidden, http.StatusForbidden, "forbidden"},
	{ErrStoreUnavailable, http.StatusServiceUnavailable, "store_unavailable"},
}

// HTTPStatus returns the status code for err, or 500 when err is not part of the taxonomy.
func HTTPStatus(err error) int {
	for _, m := range mappings {
		if errors.Is(err, m.target) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}

// Code returns a stable machine-readable code for err.
func Code(err error) string {
	for _, m := range mappings {
		if errors.Is(err, m.target) {
			return m.code
		}
	}
	return "internal_error"
}

// Known reports whether err belongs to the taxonomy.
func Known(err error) bool {
	return HTTPStatus(err) != http.StatusInternalServerError
}

// Message returns the text that may be shown to the caller. Details wrapped around a
// sentinel stay in the logs.
func Message(err error) string {
	var validation *ValidationError
	if errors.As(err, &validation) {
		return validation.Message
	}
	var notActive *AccountNotActiveError
	if errors.As(err, &notActive) {
		return notActive.Message
	}
	for _, m := range mappings {
		if errors.Is(err, m.target) {
			return m.target.Error()
		}
	}
	return "internal server error"
}
