package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/ticketeer/internal/model"
)

// OTPStore holds hashed one-time codes for password resets.
type OTPStore struct {
	db *sql.DB
}

func NewOTPStore(db *sql.DB) *OTPStore {
	return &OTPStore{db: db}
}

func scanOTPCode(s scanner) (*model.OTPCode, error) {
	var c model.OTPCode
	var usedAt sql.NullTime

	err := s.Scan(&c.ID, &c.Email, &c.CodeHash, &c.ExpiresAt, &usedAt, &c.Attempts, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	if usedAt.Valid {
		c.UsedAt = &usedAt.Time
	}
	return &c, nil
}

const otpCodeCols = `id, email, code_hash, expires_at, used_at, attempts, created_at`

// Create stores a new code for email. Pending codes for the same email are
// marked used first, so at most one code is active at a time.
func (s *OTPStore) Create(ctx context.Context, email, codeHash string, expiresAt time.Time) (*model.OTPCode, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`UPDATE otp_codes SET used_at = ? WHERE email = ? AND used_at IS NULL`,
		now, email,
	)
	if err != nil {
		return nil, fmt.Errorf("invalidate previous codes: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO otp_codes (email, code_hash, expires_at, created_at) VALUES (?, ?, ?, ?)`,
		email, codeHash, expiresAt.UTC(), now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert otp code: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := tx.QueryRowContext(ctx, `SELECT `+otpCodeCols+` FROM otp_codes WHERE id = ?`, id)
	c, err := scanOTPCode(row)
	if err != nil {
		return nil, fmt.Errorf("read otp code: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return c, nil
}

// GetActive returns the unused, unexpired code for email, or nil.
func (s *OTPStore) GetActive(ctx context.Context, email string, now time.Time) (*model.OTPCode, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+otpCodeCols+` FROM otp_codes
		 WHERE email = ? AND used_at IS NULL AND expires_at > ?
		 ORDER BY id DESC LIMIT 1`,
		email, now.UTC(),
	)
	c, err := scanOTPCode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active otp code: %w", err)
	}
	return c, nil
}

// IncrementAttempts increments the attempt count and returns the new value.
func (s *OTPStore) IncrementAttempts(ctx context.Context, id int64) (int, error) {
	var attempts int
	err := s.db.QueryRowContext(ctx,
		`UPDATE otp_codes SET attempts = attempts + 1 WHERE id = ? RETURNING attempts`,
		id,
	).Scan(&attempts)
	if err != nil {
		return 0, fmt.Errorf("increment attempts: %w", err)
	}
	return attempts, nil
}

// MarkUsed consumes the code. It reports false if it was already used.
func (s *OTPStore) MarkUsed(ctx context.Context, id int64, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE otp_codes SET used_at = ? WHERE id = ? AND used_at IS NULL`,
		at.UTC(), id,
	)
	if err != nil {
		return false, fmt.Errorf("mark otp code used: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// DeleteExpired removes codes that expired or were consumed before now.
func (s *OTPStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM otp_codes WHERE expires_at <= ? OR used_at IS NOT NULL`,
		now.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired otp codes: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
