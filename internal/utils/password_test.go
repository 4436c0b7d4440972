package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestPasswordHasher_HashVerify(t *testing.T) {
	h, err := NewPasswordHasher(bcrypt.MinCost)
	require.NoError(t, err)

	d1, err := h.Hash("s3cret-pass")
	require.NoError(t, err)
	d2, err := h.Hash("s3cret-pass")
	require.NoError(t, err)

	require.NotEqual(t, "s3cret-pass", d1)
	require.NotEqual(t, d1, d2, "digests are salted")
	require.True(t, h.Verify(d1, "s3cret-pass"))
	require.True(t, h.Verify(d2, "s3cret-pass"))
	require.False(t, h.Verify(d1, "wrong"))
}

func TestVerifyPassword_MalformedDigest(t *testing.T) {
	require.NotPanics(t, func() {
		require.False(t, VerifyPassword("not-a-bcrypt-digest", "x"))
		require.False(t, VerifyPassword("", ""))
	})
}

func TestHashPassword_TooLong(t *testing.T) {
	_, err := HashPassword(strings.Repeat("a", MaxPasswordBytes+1), bcrypt.MinCost)
	require.ErrorIs(t, err, ErrPasswordTooLong)
}

func TestNewPasswordHasher_BadCost(t *testing.T) {
	_, err := NewPasswordHasher(bcrypt.MaxCost + 1)
	require.Error(t, err)
}
