package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/ticketeer/internal/errutil"
)

func TestBcryptHasher(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)

	t.Run("round trip", func(t *testing.T) {
		hash, err := h.Hash("correct horse")
		require.NoError(t, err)
		assert.NotEqual(t, "correct horse", hash)

		ok, err := h.Verify("correct horse", hash)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = h.Verify("wrong horse", hash)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("salted", func(t *testing.T) {
		a, err := h.Hash("same password")
		require.NoError(t, err)
		b, err := h.Hash("same password")
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})

	t.Run("empty password", func(t *testing.T) {
		_, err := h.Hash("")
		errutil.AssertErrorCode(t, err, errutil.CodeValidation)
	})

	t.Run("too long", func(t *testing.T) {
		_, err := h.Hash(strings.Repeat("x", MaxPasswordBytes+1))
		errutil.AssertErrorCode(t, err, errutil.CodeValidation)
	})

	t.Run("malformed hash", func(t *testing.T) {
		_, err := h.Verify("pw", "not-a-hash")
		errutil.AssertErrorCode(t, err, errutil.CodeInternal)
	})
}

func TestNewBcryptHasherClampsCost(t *testing.T) {
	assert.Equal(t, bcrypt.DefaultCost, NewBcryptHasher(0).cost)
	assert.Equal(t, bcrypt.MinCost, NewBcryptHasher(bcrypt.MinCost).cost)
}

func TestDummyHashNeverMatchesEmpty(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)
	hash := dummyHash(h)
	require.NotEmpty(t, hash)

	ok, err := h.Verify("", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}
