package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/samber/oops"

	"github.com/dukerupert/ticketeer/internal/auth"
	"github.com/dukerupert/ticketeer/internal/errutil"
	"github.com/dukerupert/ticketeer/internal/model"
)

// CookieName is the session token cookie.
const CookieName = "token"

type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*auth.Claims, error)
}

type UserLookup interface {
	GetByID(ctx context.Context, id int64) (*model.User, error)
}

// TokenFromRequest returns the session token from the cookie, falling back
// to an Authorization bearer header.
func TokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	h := r.Header.Get("Authorization")
	if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return ""
}

func unauthorized(reason string) error {
	return oops.Code(errutil.CodeUnauthorized).Public("unauthorized").Errorf("%s", reason)
}

// Identify resolves the caller behind the request's session token. It does
// exactly one user lookup and no writes. Token failures keep their
// TOKEN_* code; Authorize folds them into UNAUTHORIZED.
func Identify(r *http.Request, tokens TokenVerifier, users UserLookup) (auth.Identity, error) {
	token := TokenFromRequest(r)
	if token == "" {
		return auth.Identity{}, unauthorized("no session token")
	}

	claims, err := tokens.Verify(r.Context(), token)
	if err != nil {
		return auth.Identity{}, err
	}
	uid, err := claims.UserID()
	if err != nil {
		return auth.Identity{}, unauthorized("malformed subject")
	}

	u, err := users.GetByID(r.Context(), uid)
	if err != nil {
		return auth.Identity{}, oops.Code(errutil.CodeInternal).With("operation", "lookup user").Wrap(err)
	}
	if u == nil {
		return auth.Identity{}, oops.Code(errutil.CodeUserNotFound).Public("user not found").With("user_id", uid).Errorf("token subject deleted")
	}
	if claims.IssuedBefore(u.PasswordChangedAt) {
		return auth.Identity{}, unauthorized("token predates password change")
	}

	id := auth.Identity{
		UserID:  u.ID,
		Name:    u.Name,
		Email:   u.Email,
		Role:    u.Role,
		TokenID: claims.ID,
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}

// Authorize admits requests whose session token resolves to a user holding
// one of roles. An empty role set admits any authenticated user.
func Authorize(tokens TokenVerifier, users UserLookup, logger *slog.Logger, roles ...model.Role) func(http.Handler) http.Handler {
	logger = logger.With("component", "authorize")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := Identify(r, tokens, users)
			if err != nil {
				logger.Debug("rejected", "path", r.URL.Path, "error", err)
				if code := errutil.Code(err); code != errutil.CodeUserNotFound && code != errutil.CodeInternal {
					err = unauthorized(err.Error())
				}
				errutil.WriteError(w, logger, err)
				return
			}

			if len(roles) > 0 && !hasRole(id.Role, roles) {
				logger.Debug("forbidden", "path", r.URL.Path, "user_id", id.UserID, "role", id.Role)
				errutil.WriteError(w, logger, oops.Code(errutil.CodeForbidden).
					Public("forbidden").
					With("role", string(id.Role)).
					Errorf("role not permitted"))
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
		})
	}
}

func hasRole(role model.Role, roles []model.Role) bool {
	for _, r := range roles {
		if role == r {
			return true
		}
	}
	return false
}
