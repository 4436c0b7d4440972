package utils

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// MaxPasswordBytes is the longest password bcrypt accepts.
const MaxPasswordBytes = 72

// ErrPasswordTooLong is returned by Hash for passwords bcrypt would reject.
var ErrPasswordTooLong = errors.New("password exceeds 72 bytes")

// HashPassword returns bcrypt hash using the given cost.
func HashPassword(plain string, cost int) (string, error) {
	if len(plain) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifyPassword safely compares bcrypt hash and plain password.
// A malformed hash simply yields false.
func VerifyPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// PasswordHasher hashes and verifies passwords at a fixed bcrypt cost.
type PasswordHasher struct {
	cost  int
	dummy string
}

// NewPasswordHasher precomputes a throwaway digest at cost so that
// VerifyDummy takes as long as a real comparison.
func NewPasswordHasher(cost int) (*PasswordHasher, error) {
	dummy, err := HashPassword("dummy-password-for-timing", cost)
	if err != nil {
		return nil, err
	}
	return &PasswordHasher{cost: cost, dummy: dummy}, nil
}

// Hash returns a salted bcrypt digest of plain.
func (h *PasswordHasher) Hash(plain string) (string, error) {
	return HashPassword(plain, h.cost)
}

// Verify reports whether plain matches digest.
func (h *PasswordHasher) Verify(digest, plain string) bool {
	return VerifyPassword(digest, plain)
}

// VerifyDummy runs a comparison against a digest no password matches. It is
// used when the account does not exist so both login failures cost the same.
func (h *PasswordHasher) VerifyDummy(plain string) {
	_ = VerifyPassword(h.dummy, plain)
}
