package auth

import (
	"crypto/rand"
	"errors"

	"github.com/samber/oops"
	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/ticketeer/internal/errutil"
)

// MaxPasswordBytes is the longest password bcrypt accepts.
const MaxPasswordBytes = 72

// PasswordHasher produces and checks salted one-way password hashes.
type PasswordHasher interface {
	Hash(password string) (string, error)
	// Verify returns (true, nil) on match and (false, nil) on mismatch.
	Verify(password, hash string) (bool, error)
}

type BcryptHasher struct {
	cost int
}

// NewBcryptHasher returns a hasher using cost, or bcrypt.DefaultCost when
// cost is out of range.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

func (h *BcryptHasher) Hash(password string) (string, error) {
	if err := validatePassword(password); err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", oops.Code(errutil.CodeInternal).With("operation", "hash password").Wrap(err)
	}
	return string(hash), nil
}

func (h *BcryptHasher) Verify(password, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, oops.Code(errutil.CodeInternal).With("operation", "verify password").Wrap(err)
}

func validatePassword(password string) error {
	if password == "" {
		return oops.Code(errutil.CodeValidation).Public("password is required").Errorf("empty password")
	}
	if len(password) > MaxPasswordBytes {
		return oops.Code(errutil.CodeValidation).
			Public("password must be at most 72 bytes").
			Errorf("password is %d bytes", len(password))
	}
	return nil
}

// dummyHash returns a hash of random bytes, compared against when an email
// is unknown so login timing does not reveal whether an account exists.
func dummyHash(h PasswordHasher) string {
	b := make([]byte, 32)
	rand.Read(b)
	pw := make([]byte, len(b))
	for i, c := range b {
		pw[i] = 'a' + c%26
	}
	hash, err := h.Hash(string(pw))
	if err != nil {
		return ""
	}
	return hash
}
