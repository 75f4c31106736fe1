package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RevokedTokenStore is the session token denylist. Rows live until the
// token they name would have expired anyway.
type RevokedTokenStore struct {
	db *sql.DB
}

func NewRevokedTokenStore(db *sql.DB) *RevokedTokenStore {
	return &RevokedTokenStore{db: db}
}

// Revoke adds tokenID to the denylist. Revoking twice is a no-op.
func (s *RevokedTokenStore) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO revoked_tokens (token_id, expires_at, created_at) VALUES (?, ?, ?)`,
		tokenID, expiresAt.UTC(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (s *RevokedTokenStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM revoked_tokens WHERE token_id = ?`, tokenID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return n > 0, nil
}

func (s *RevokedTokenStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM revoked_tokens WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired revoked tokens: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
