package store

import (
	"context"
	"testing"
	"time"
)

func TestRevokedTokenRevoke(t *testing.T) {
	rs := NewRevokedTokenStore(setupTestDB(t))
	ctx := context.Background()

	revoked, err := rs.IsRevoked(ctx, "jti-1")
	if err != nil {
		t.Fatalf("is revoked: %v", err)
	}
	if revoked {
		t.Error("expected unknown token to be live")
	}

	exp := time.Now().Add(time.Hour)
	if err := rs.Revoke(ctx, "jti-1", exp); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := rs.Revoke(ctx, "jti-1", exp); err != nil {
		t.Fatalf("second revoke: %v", err)
	}

	revoked, err = rs.IsRevoked(ctx, "jti-1")
	if err != nil {
		t.Fatalf("is revoked: %v", err)
	}
	if !revoked {
		t.Error("expected token to be revoked")
	}
}

func TestRevokedTokenDeleteExpired(t *testing.T) {
	rs := NewRevokedTokenStore(setupTestDB(t))
	ctx := context.Background()
	now := time.Now()

	rs.Revoke(ctx, "old", now.Add(-time.Minute))
	rs.Revoke(ctx, "live", now.Add(time.Hour))

	count, err := rs.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if count != 1 {
		t.Errorf("deleted = %d, want 1", count)
	}
	if revoked, _ := rs.IsRevoked(ctx, "live"); !revoked {
		t.Error("expected live entry to survive")
	}
}
