package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/ticketeer/internal/model"
)

type PasswordResetStore struct {
	db *sql.DB
}

func NewPasswordResetStore(db *sql.DB) *PasswordResetStore {
	return &PasswordResetStore{db: db}
}

func scanPasswordReset(s scanner) (*model.PasswordReset, error) {
	var r model.PasswordReset
	err := s.Scan(&r.ID, &r.UserID, &r.TokenHash, &r.ExpiresAt, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

const passwordResetCols = `id, user_id, token_hash, expires_at, created_at`

func (s *PasswordResetStore) Create(ctx context.Context, userID int64, tokenHash string, expiresAt time.Time) (*model.PasswordReset, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO password_resets (user_id, token_hash, expires_at, created_at) VALUES (?, ?, ?, ?)`,
		userID, tokenHash, expiresAt.UTC(), time.Now().UTC(),
	)
	if isUniqueViolation(err) {
		return nil, ErrDuplicate
	}
	if err != nil {
		return nil, fmt.Errorf("insert password reset: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+passwordResetCols+` FROM password_resets WHERE id = ?`, id)
	return scanPasswordReset(row)
}

// GetByTokenHash returns the unexpired reset for tokenHash, or nil.
func (s *PasswordResetStore) GetByTokenHash(ctx context.Context, tokenHash string, now time.Time) (*model.PasswordReset, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+passwordResetCols+` FROM password_resets WHERE token_hash = ? AND expires_at > ?`,
		tokenHash, now.UTC(),
	)
	r, err := scanPasswordReset(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get password reset: %w", err)
	}
	return r, nil
}

func (s *PasswordResetStore) DeleteByUser(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM password_resets WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("delete password resets: %w", err)
	}
	return nil
}

func (s *PasswordResetStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM password_resets WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired password resets: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
