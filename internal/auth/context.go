package auth

import (
	"context"
	"time"

	"github.com/dukerupert/ticketeer/internal/model"
)

type contextKey struct{}

// Identity is the authenticated caller attached to a request by the
// authorization middleware.
type Identity struct {
	UserID    int64
	Name      string
	Email     string
	Role      model.Role
	TokenID   string
	ExpiresAt time.Time
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}

func UserID(ctx context.Context) int64 {
	id, ok := FromContext(ctx)
	if !ok {
		return 0
	}
	return id.UserID
}

// HasRole reports whether the caller holds one of roles.
func HasRole(ctx context.Context, roles ...model.Role) bool {
	id, ok := FromContext(ctx)
	if !ok {
		return false
	}
	for _, r := range roles {
		if id.Role == r {
			return true
		}
	}
	return false
}
