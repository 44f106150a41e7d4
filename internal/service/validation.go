package service

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	validation "github.com/go-ozzo/ozzo-validation"

	"cmsauth/internal/apperr"
	"cmsauth/internal/models"
)

const (
	PasswordPolicyBasic  = "basic"
	PasswordPolicyStrong = "strong"

	minPasswordLength = 6
	maxPasswordLength = 128
	// bcrypt only reads the first 72 bytes and rejects longer input.
	maxPasswordBytes = 72
	maxNameLength     = 200
	maxEmailLength    = 254
	maxBulkIDs        = 500
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

var emailRules = []validation.Rule{
	validation.Length(3, maxEmailLength),
	validation.Match(emailPattern).Error("must be a valid email address"),
}

type RegisterInput struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

func (r RegisterInput) validate(policy string) error {
	passwordRules := []validation.Rule{
		validation.Required,
		validation.Length(minPasswordLength, maxPasswordLength),
		validation.By(fitsHasher),
	}
	if policy == PasswordPolicyStrong {
		passwordRules = append(passwordRules, validation.By(strongPassword))
	}

	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, maxNameLength)),
		validation.Field(&r.Email, append([]validation.Rule{validation.Required}, emailRules...)...),
		validation.Field(&r.Password, passwordRules...),
		validation.Field(&r.ConfirmPassword, validation.By(matchesWhenSet(r.Password))),
	)
}

type LoginInput struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	DeviceName string `json:"deviceName"`
	IPAddress  string `json:"-"`
	UserAgent  string `json:"-"`
}

func (r LoginInput) validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, append([]validation.Rule{validation.Required}, emailRules...)...),
		validation.Field(&r.Password, validation.Required),
	)
}

type RefreshInput struct {
	RefreshToken string `json:"refreshToken"`
	DeviceName   string `json:"deviceName"`
	IPAddress    string `json:"-"`
	UserAgent    string `json:"-"`
}

func (r RefreshInput) validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RefreshToken, validation.Required),
	)
}

// AdminUpdateInput carries raw admin edits; nil fields stay unchanged.
type AdminUpdateInput struct {
	Name      *string `json:"name"`
	Email     *string `json:"email"`
	Status    *string `json:"status"`
	Role      *string `json:"role"`
	AvatarURL *string `json:"avatarUrl"`
}

func (r AdminUpdateInput) validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.By(nonBlank), validation.Length(1, maxNameLength)),
		validation.Field(&r.Email, emailRules...),
		validation.Field(&r.Status, validation.By(assignableStatus)),
		validation.Field(&r.Role, validation.By(knownRole)),
	)
}

// toUpdate converts validated input into a store update.
func (r AdminUpdateInput) toUpdate() (models.UserUpdate, error) {
	update := models.UserUpdate{
		Name:      trimmed(r.Name),
		Email:     r.Email,
		AvatarURL: r.AvatarURL,
	}
	if r.Status != nil {
		status, err := models.ParseAssignableStatus(*r.Status)
		if err != nil {
			return models.UserUpdate{}, err
		}
		update.Status = &status
	}
	if r.Role != nil {
		role, err := models.ParseUserRole(*r.Role)
		if err != nil {
			return models.UserUpdate{}, err
		}
		update.Role = &role
	}
	return update, nil
}

type BulkActionInput struct {
	Action  string  `json:"action"`
	UserIDs []int64 `json:"userIds"`
	Status  string  `json:"status"`
}

func (r BulkActionInput) validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Action, validation.Required),
		validation.Field(&r.UserIDs, validation.Required, validation.Length(1, maxBulkIDs), validation.By(positiveIDs)),
	)
}

func validateUserIDs(ids []int64) error {
	err := validation.Validate(ids,
		validation.Required,
		validation.Length(1, maxBulkIDs),
		validation.By(positiveIDs),
	)
	if err != nil {
		return apperr.Validation("userIds: " + err.Error())
	}
	return nil
}

// invalid wraps ozzo errors so the HTTP layer maps them to 400.
func invalid(err error) error {
	if err == nil {
		return nil
	}
	return apperr.WrapValidation(err)
}

func fitsHasher(value interface{}) error {
	s, _ := value.(string)
	if len(s) > maxPasswordBytes {
		return fmt.Errorf("must be at most %d bytes", maxPasswordBytes)
	}
	return nil
}

func strongPassword(value interface{}) error {
	s, _ := value.(string)
	var lower, upper, digit bool
	for _, r := range s {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !lower || !upper || !digit {
		return errors.New("must contain a lowercase letter, an uppercase letter and a digit")
	}
	return nil
}

func matchesWhenSet(password string) validation.RuleFunc {
	return func(value interface{}) error {
		s, _ := value.(string)
		if s != "" && s != password {
			return errors.New("passwords do not match")
		}
		return nil
	}
}

func nonBlank(value interface{}) error {
	s, ok := value.(*string)
	if ok && s != nil && strings.TrimSpace(*s) == "" {
		return errors.New("cannot be blank")
	}
	return nil
}

func assignableStatus(value interface{}) error {
	s, ok := value.(*string)
	if !ok || s == nil {
		return nil
	}
	_, err := models.ParseAssignableStatus(*s)
	return err
}

func knownRole(value interface{}) error {
	s, ok := value.(*string)
	if !ok || s == nil {
		return nil
	}
	_, err := models.ParseUserRole(*s)
	return err
}

func positiveIDs(value interface{}) error {
	ids, _ := value.([]int64)
	for _, id := range ids {
		if id <= 0 {
			return errors.New("ids must be positive")
		}
	}
	return nil
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}
