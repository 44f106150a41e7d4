package security

import (
	"bytes"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"

	"cmsauth/internal/apperr"
	"cmsauth/internal/config"
)

const argon2Prefix = "$argon2id$"

// PasswordHasher hashes and verifies passwords. Implementations never log either value.
type PasswordHasher interface {
	Hash(plaintext string) ([]byte, error)
	Verify(plaintext string, encoded []byte) (bool, error)
}

// NewPasswordHasher returns the configured algorithm for new hashes. Verification
// dispatches on the stored prefix so existing hashes keep working after a switch.
func NewPasswordHasher(cfg config.SecurityConfig) PasswordHasher {
	bc := BcryptHasher{Cost: cfg.BcryptCost}
	ag := Argon2Hasher{Params: DefaultArgon2Params}

	var primary PasswordHasher = bc
	if cfg.PasswordHasher == "argon2id" {
		primary = ag
	}
	return dispatchHasher{primary: primary, bcrypt: bc, argon2: ag}
}

type dispatchHasher struct {
	primary PasswordHasher
	bcrypt  BcryptHasher
	argon2  Argon2Hasher
}

func (d dispatchHasher) Hash(plaintext string) ([]byte, error) {
	return d.primary.Hash(plaintext)
}

func (d dispatchHasher) Verify(plaintext string, encoded []byte) (bool, error) {
	if bytes.HasPrefix(encoded, []byte(argon2Prefix)) {
		return d.argon2.Verify(plaintext, encoded)
	}
	return d.bcrypt.Verify(plaintext, encoded)
}

type BcryptHasher struct {
	Cost int
}

func (h BcryptHasher) Hash(plaintext string) ([]byte, error) {
	cost := h.Cost
	if cost < 10 {
		cost = 10
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return nil, apperr.Validation("password: must be at most 72 bytes")
	}
	if err != nil {
		return nil, fmt.Errorf("bcrypt: %w", err)
	}
	return hash, nil
}

func (h BcryptHasher) Verify(plaintext string, encoded []byte) (bool, error) {
	err := bcrypt.CompareHashAndPassword(encoded, []byte(plaintext))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("bcrypt: %w", err)
	}
}

type Argon2Params struct {
	Time    uint32
	Memory  uint32
	Threads uint8
	KeyLen  uint32
	SaltLen uint32
}

var DefaultArgon2Params = Argon2Params{
	Time:    3,
	Memory:  64 * 1024,
	Threads: 2,
	KeyLen:  32,
	SaltLen: 16,
}

type Argon2Hasher struct {
	Params Argon2Params
}

func (h Argon2Hasher) Hash(plaintext string) ([]byte, error) {
	p := h.Params
	salt := make([]byte, p.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(plaintext), salt, p.Time, p.Memory, p.Threads, p.KeyLen)

	encoded := fmt.Sprintf("%sv=%d$t=%d,m=%d,p=%d$%s$%s",
		argon2Prefix, argon2.Version, p.Time, p.Memory, p.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key))
	return []byte(encoded), nil
}

// Verify parses $argon2id$v=19$t=..,m=..,p=..$salt$key.
func (h Argon2Hasher) Verify(plaintext string, encoded []byte) (bool, error) {
	parts := strings.Split(string(encoded), "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, errors.New("argon2: malformed hash")
	}

	var p Argon2Params
	for _, field := range strings.Split(parts[3], ",") {
		name, value, ok := strings.Cut(field, "=")
		if !ok {
			return false, errors.New("argon2: malformed parameters")
		}
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return false, fmt.Errorf("argon2: parameter %s: %w", name, err)
		}
		switch name {
		case "t":
			p.Time = uint32(n)
		case "m":
			p.Memory = uint32(n)
		case "p":
			if n > math.MaxUint8 {
				return false, errors.New("argon2: malformed hash")
			}
			p.Threads = uint8(n)
		}
	}
	if p.Time == 0 || p.Memory == 0 || p.Threads == 0 {
		return false, errors.New("argon2: malformed hash")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("argon2: decode salt: %w", err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("argon2: decode key: %w", err)
	}

	computed := argon2.IDKey([]byte(plaintext), salt, p.Time, p.Memory, p.Threads, uint32(len(key)))
	return subtle.ConstantTimeCompare(key, computed) == 1, nil
}
