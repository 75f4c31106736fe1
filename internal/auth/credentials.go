package auth

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/dukerupert/ticketeer/internal/errutil"
	"github.com/dukerupert/ticketeer/internal/model"
	"github.com/dukerupert/ticketeer/internal/store"
)

// UserRepository is the user persistence the credential store needs.
// Lookups return (nil, nil) when no row matches.
type UserRepository interface {
	Create(ctx context.Context, name, email, passwordHash string, role model.Role) (*model.User, error)
	GetByID(ctx context.Context, id int64) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	UpdatePassword(ctx context.Context, id int64, passwordHash string, changedAt time.Time) (bool, error)
}

// CredentialService registers users and checks their passwords.
type CredentialService struct {
	users            UserRepository
	hasher           PasswordHasher
	allowAdminSignup bool
	dummy            string
	now              func() time.Time
}

func NewCredentialService(users UserRepository, hasher PasswordHasher, allowAdminSignup bool) *CredentialService {
	return &CredentialService{
		users:            users,
		hasher:           hasher,
		allowAdminSignup: allowAdminSignup,
		dummy:            dummyHash(hasher),
		now:              time.Now,
	}
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail rejects empty and malformed addresses. email must already
// be normalized.
func ValidateEmail(email string) error {
	if email == "" {
		return oops.Code(errutil.CodeValidation).Public("email is required").Errorf("empty email")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || strings.ToLower(addr.Address) != email {
		return oops.Code(errutil.CodeValidation).
			Public("email is malformed").
			With("email", email).
			Errorf("malformed email")
	}
	return nil
}

// Register creates a user with a hashed password. An empty role means
// attendee; admin is only granted when admin signup is enabled.
func (s *CredentialService) Register(ctx context.Context, name, email, password string, role model.Role) (*model.User, error) {
	name = strings.TrimSpace(name)
	email = NormalizeEmail(email)

	if name == "" {
		return nil, oops.Code(errutil.CodeValidation).Public("name is required").Errorf("empty name")
	}
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	if role == "" {
		role = model.RoleAttendee
	}
	if !role.Valid() {
		return nil, oops.Code(errutil.CodeValidation).
			Public("role must be admin, organizer or attendee").
			With("role", string(role)).
			Errorf("unknown role")
	}
	if role == model.RoleAdmin && !s.allowAdminSignup {
		return nil, oops.Code(errutil.CodeForbidden).
			Public("admin signup is disabled").
			Errorf("admin self-registration rejected")
	}

	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, oops.Code(errutil.CodeInternal).With("operation", "lookup user").Wrap(err)
	}
	if existing != nil {
		return nil, duplicateIdentity(email)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	u, err := s.users.Create(ctx, name, email, hash, role)
	if errors.Is(err, store.ErrDuplicate) {
		return nil, duplicateIdentity(email)
	}
	if err != nil {
		return nil, oops.Code(errutil.CodeInternal).With("operation", "create user").Wrap(err)
	}
	return u, nil
}

func duplicateIdentity(email string) error {
	return oops.Code(errutil.CodeDuplicateIdentity).
		Public("email already registered").
		With("email", email).
		Errorf("user already exists")
}

// Verify checks a password. Unknown emails still pay for a hash
// comparison before returning NOT_FOUND.
func (s *CredentialService) Verify(ctx context.Context, email, password string) (*model.User, error) {
	email = NormalizeEmail(email)

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, oops.Code(errutil.CodeInternal).With("operation", "lookup user").Wrap(err)
	}
	if u == nil {
		s.hasher.Verify(password, s.dummy)
		return nil, oops.Code(errutil.CodeNotFound).Public("user not found").With("email", email).Errorf("no such user")
	}

	ok, err := s.hasher.Verify(password, u.PasswordHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, oops.Code(errutil.CodeInvalidCredential).
			Public("invalid password").
			With("user_id", u.ID).
			Errorf("password mismatch")
	}
	return u, nil
}

// changeStamp rounds a password change up to the next whole second. Token
// iat has second precision, so every session issued up to t compares as
// earlier than the stamp.
func changeStamp(t time.Time) time.Time {
	return t.Truncate(time.Second).Add(time.Second)
}

// ResetPassword replaces the user's hash and stamps the change time, which
// invalidates sessions issued earlier.
func (s *CredentialService) ResetPassword(ctx context.Context, email, password string) error {
	email = NormalizeEmail(email)

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return oops.Code(errutil.CodeInternal).With("operation", "lookup user").Wrap(err)
	}
	if u == nil {
		return oops.Code(errutil.CodeNotFound).Public("user not found").With("email", email).Errorf("no such user")
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}
	ok, err := s.users.UpdatePassword(ctx, u.ID, hash, changeStamp(s.now()))
	if err != nil {
		return oops.Code(errutil.CodeInternal).With("operation", "update password").Wrap(err)
	}
	if !ok {
		return oops.Code(errutil.CodeNotFound).Public("user not found").With("user_id", u.ID).Errorf("user vanished")
	}
	return nil
}
