package auth

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/dukerupert/ticketeer/internal/errutil"
	"github.com/dukerupert/ticketeer/internal/model"
)

const (
	// Issuer is stamped into and required on every session token.
	Issuer = "ticketeer"
	// DefaultSessionTTL applies when NewTokenService is given a zero ttl.
	DefaultSessionTTL = 24 * time.Hour
)

// Claims are the session token claims. Subject carries the user id.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim.
func (c *Claims) UserID() (int64, error) {
	return strconv.ParseInt(c.Subject, 10, 64)
}

// IssuedBefore reports whether the token predates t. Comparison is at
// whole-second precision since iat carries no fractional part.
func (c *Claims) IssuedBefore(t time.Time) bool {
	if c.IssuedAt == nil {
		return true
	}
	return c.IssuedAt.Unix() < t.Unix()
}

// Denylist records session tokens revoked before their expiry.
type Denylist interface {
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// TokenService issues and verifies HS256 session tokens.
type TokenService struct {
	secret   []byte
	ttl      time.Duration
	denylist Denylist
	now      func() time.Time
}

type TokenOption func(*TokenService)

// WithTokenClock overrides the time source used for issuing and validating.
func WithTokenClock(now func() time.Time) TokenOption {
	return func(s *TokenService) {
		s.now = now
	}
}

// NewTokenService returns a CONFIGURATION error when secret is empty.
// A nil denylist disables revocation checks.
func NewTokenService(secret string, ttl time.Duration, denylist Denylist, opts ...TokenOption) (*TokenService, error) {
	if secret == "" {
		return nil, oops.Code(errutil.CodeConfiguration).Errorf("session signing secret is not configured")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	s := &TokenService{
		secret:   []byte(secret),
		ttl:      ttl,
		denylist: denylist,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// TTL returns the lifetime given to issued tokens.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Issue signs a token bound to the user's id and email. iat never precedes
// the user's last password change, which may sit up to a second ahead.
func (s *TokenService) Issue(u *model.User) (string, *Claims, error) {
	now := s.now()
	issuedAt := now
	if u.PasswordChangedAt.After(issuedAt) {
		issuedAt = u.PasswordChangedAt
	}
	claims := &Claims{
		Email: u.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(u.ID, 10),
			Issuer:    Issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", nil, oops.Code(errutil.CodeInternal).With("operation", "sign session token").Wrap(err)
	}
	return signed, claims, nil
}

// Verify checks signature, algorithm, issuer, expiry and the denylist.
func (s *TokenService) Verify(ctx context.Context, token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(Issuer),
		jwt.WithTimeFunc(s.now),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, oops.Code(errutil.CodeTokenExpired).Wrap(err)
	}
	if err != nil {
		return nil, oops.Code(errutil.CodeTokenInvalid).Wrap(err)
	}
	if _, err := claims.UserID(); err != nil {
		return nil, oops.Code(errutil.CodeTokenInvalid).With("subject", claims.Subject).Errorf("malformed subject")
	}
	if claims.ID == "" {
		return nil, oops.Code(errutil.CodeTokenInvalid).Errorf("token has no id")
	}

	if s.denylist != nil {
		revoked, err := s.denylist.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, oops.Code(errutil.CodeInternal).With("operation", "check denylist").Wrap(err)
		}
		if revoked {
			return nil, oops.Code(errutil.CodeTokenInvalid).With("jti", claims.ID).Errorf("token revoked")
		}
	}
	return claims, nil
}

// Revoke denylists tokenID until expiresAt, the token's own expiry.
func (s *TokenService) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	if s.denylist == nil || tokenID == "" {
		return nil
	}
	if expiresAt.IsZero() {
		expiresAt = s.now().Add(s.ttl)
	}
	if err := s.denylist.Revoke(ctx, tokenID, expiresAt); err != nil {
		return oops.Code(errutil.CodeInternal).With("jti", tokenID).Wrap(err)
	}
	return nil
}
