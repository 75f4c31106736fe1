package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/ticketeer/internal/database"
	"github.com/dukerupert/ticketeer/internal/errutil"
	"github.com/dukerupert/ticketeer/internal/model"
	"github.com/dukerupert/ticketeer/internal/store"
)

func newTestCredentialService(t *testing.T, allowAdmin bool) (*CredentialService, *store.UserStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	users := store.NewUserStore(db)
	return NewCredentialService(users, NewBcryptHasher(bcrypt.MinCost), allowAdmin), users
}

func TestRegister(t *testing.T) {
	ctx := context.Background()

	t.Run("stores hash not password", func(t *testing.T) {
		svc, users := newTestCredentialService(t, false)
		u, err := svc.Register(ctx, "Alice", " Alice@Example.com ", "s3cret!", "")
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", u.Email)
		assert.Equal(t, model.RoleAttendee, u.Role)

		stored, err := users.GetByEmail(ctx, "alice@example.com")
		require.NoError(t, err)
		assert.NotEqual(t, "s3cret!", stored.PasswordHash)
		assert.NotContains(t, stored.PasswordHash, "s3cret!")
	})

	t.Run("duplicate email", func(t *testing.T) {
		svc, _ := newTestCredentialService(t, false)
		_, err := svc.Register(ctx, "Alice", "alice@example.com", "pw", model.RoleAttendee)
		require.NoError(t, err)

		_, err = svc.Register(ctx, "Other", "ALICE@example.com", "pw2", model.RoleOrganizer)
		errutil.AssertErrorCode(t, err, errutil.CodeDuplicateIdentity)
	})

	t.Run("validation", func(t *testing.T) {
		svc, _ := newTestCredentialService(t, false)
		cases := []struct {
			name, user, email, password string
			role                        model.Role
		}{
			{"empty name", "", "a@example.com", "pw", ""},
			{"empty email", "A", "", "pw", ""},
			{"malformed email", "A", "not-an-email", "pw", ""},
			{"empty password", "A", "a@example.com", "", ""},
			{"long password", "A", "a@example.com", strings.Repeat("p", 73), ""},
			{"unknown role", "A", "a@example.com", "pw", "superuser"},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				_, err := svc.Register(ctx, tc.user, tc.email, tc.password, tc.role)
				errutil.AssertErrorCode(t, err, errutil.CodeValidation)
			})
		}
	})

	t.Run("admin signup disabled", func(t *testing.T) {
		svc, _ := newTestCredentialService(t, false)
		_, err := svc.Register(ctx, "Root", "root@example.com", "pw", model.RoleAdmin)
		errutil.AssertErrorCode(t, err, errutil.CodeForbidden)
	})

	t.Run("admin signup enabled", func(t *testing.T) {
		svc, _ := newTestCredentialService(t, true)
		u, err := svc.Register(ctx, "Root", "root@example.com", "pw", model.RoleAdmin)
		require.NoError(t, err)
		assert.Equal(t, model.RoleAdmin, u.Role)
	})
}

func TestVerifyCredentials(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestCredentialService(t, false)
	_, err := svc.Register(ctx, "Alice", "alice@example.com", "s3cret!", model.RoleOrganizer)
	require.NoError(t, err)

	t.Run("correct password", func(t *testing.T) {
		u, err := svc.Verify(ctx, "alice@example.com", "s3cret!")
		require.NoError(t, err)
		assert.Equal(t, "Alice", u.Name)
		assert.Equal(t, model.RoleOrganizer, u.Role)
	})

	t.Run("email is case insensitive", func(t *testing.T) {
		_, err := svc.Verify(ctx, "ALICE@example.com", "s3cret!")
		assert.NoError(t, err)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := svc.Verify(ctx, "alice@example.com", "nope")
		errutil.AssertErrorCode(t, err, errutil.CodeInvalidCredential)
	})

	t.Run("unknown email", func(t *testing.T) {
		_, err := svc.Verify(ctx, "bob@example.com", "s3cret!")
		errutil.AssertErrorCode(t, err, errutil.CodeNotFound)
	})
}

func TestCredentialResetPassword(t *testing.T) {
	ctx := context.Background()
	svc, users := newTestCredentialService(t, false)
	_, err := svc.Register(ctx, "Alice", "alice@example.com", "old-pw", "")
	require.NoError(t, err)

	later := time.Now().Add(time.Hour)
	svc.now = func() time.Time { return later }

	require.NoError(t, svc.ResetPassword(ctx, "alice@example.com", "new-pw"))

	_, err = svc.Verify(ctx, "alice@example.com", "old-pw")
	errutil.AssertErrorCode(t, err, errutil.CodeInvalidCredential)
	_, err = svc.Verify(ctx, "alice@example.com", "new-pw")
	require.NoError(t, err)

	u, err := users.GetByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, later.Unix()+1, u.PasswordChangedAt.Unix())

	err = svc.ResetPassword(ctx, "nobody@example.com", "pw")
	errutil.AssertErrorCode(t, err, errutil.CodeNotFound)
}
