package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/ticketeer/internal/model"
)

var (
	// ErrNotFound is returned when a row a write depends on is missing.
	ErrNotFound = errors.New("not found")
	// ErrSoldOut is returned when a capped event has no tickets left.
	ErrSoldOut = errors.New("sold out")
)

type TicketStore struct {
	db *sql.DB
}

func NewTicketStore(db *sql.DB) *TicketStore {
	return &TicketStore{db: db}
}

const ticketCols = `id, user_id, event_id, name, email, event_name, event_date, event_time, ticket_price,
	booked_at, qr, payload, count, is_valid, redeemed_at, created_at, updated_at`

func scanTicket(s scanner) (*model.Ticket, error) {
	var t model.Ticket
	var eventDate, redeemedAt sql.NullTime
	var isValid int

	err := s.Scan(
		&t.ID, &t.UserID, &t.EventID, &t.Details.Name, &t.Details.Email, &t.Details.EventName, &eventDate,
		&t.Details.EventTime, &t.Details.TicketPrice, &t.Details.BookedDate, &t.Details.QR, &t.Payload, &t.Count,
		&isValid, &redeemedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Details.TicketID = t.ID
	if eventDate.Valid {
		t.Details.EventDate = &eventDate.Time
	}
	if redeemedAt.Valid {
		t.RedeemedAt = &redeemedAt.Time
	}
	t.IsValid = isValid != 0
	return &t, nil
}

// Create inserts t and bumps the event's ticket_count in one transaction.
// t.Count is set to the event's ticket count after the increment. Returns
// ErrNotFound if the event is missing and ErrSoldOut if it has no capacity.
func (s *TicketStore) Create(ctx context.Context, t *model.Ticket) (*model.Ticket, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx,
		`UPDATE events SET ticket_count = ticket_count + 1, updated_at = ?
		 WHERE id = ? AND (quantity <= 0 OR ticket_count < quantity)`,
		now, t.EventID,
	)
	if err != nil {
		return nil, fmt.Errorf("reserve ticket: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE id = ?`, t.EventID).Scan(&exists)
		if err != nil {
			return nil, fmt.Errorf("check event: %w", err)
		}
		if exists == 0 {
			return nil, ErrNotFound
		}
		return nil, ErrSoldOut
	}

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT ticket_count FROM events WHERE id = ?`, t.EventID).Scan(&count); err != nil {
		return nil, fmt.Errorf("read ticket count: %w", err)
	}

	var eventDate sql.NullTime
	if t.Details.EventDate != nil {
		eventDate = sql.NullTime{Time: t.Details.EventDate.UTC(), Valid: true}
	}
	bookedAt := t.Details.BookedDate
	if bookedAt.IsZero() {
		bookedAt = now
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO tickets (id, user_id, event_id, name, email, event_name, event_date, event_time, ticket_price,
		 booked_at, qr, payload, count, is_valid, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		t.ID, t.UserID, t.EventID, t.Details.Name, t.Details.Email, t.Details.EventName, eventDate,
		t.Details.EventTime, t.Details.TicketPrice, bookedAt.UTC(), t.Details.QR, t.Payload, count, now, now,
	)
	if isUniqueViolation(err) {
		return nil, ErrDuplicate
	}
	if err != nil {
		return nil, fmt.Errorf("insert ticket: %w", err)
	}

	row := tx.QueryRowContext(ctx, `SELECT `+ticketCols+` FROM tickets WHERE id = ?`, t.ID)
	created, err := scanTicket(row)
	if err != nil {
		return nil, fmt.Errorf("read ticket: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return created, nil
}

func (s *TicketStore) GetByID(ctx context.Context, id string) (*model.Ticket, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ticketCols+` FROM tickets WHERE id = ?`, id)
	t, err := scanTicket(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket: %w", err)
	}
	return t, nil
}

// ListByUser returns the user's tickets, newest first.
func (s *TicketStore) ListByUser(ctx context.Context, userID int64) ([]model.Ticket, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ticketCols+` FROM tickets WHERE user_id = ? ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	tickets := []model.Ticket{}
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		tickets = append(tickets, *t)
	}
	return tickets, rows.Err()
}

// Delete removes a ticket and releases its seat on the event. It reports
// false, without error, when the ticket does not exist.
func (s *TicketStore) Delete(ctx context.Context, id string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var eventID int64
	err = tx.QueryRowContext(ctx, `SELECT event_id FROM tickets WHERE id = ?`, id).Scan(&eventID)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup ticket: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM tickets WHERE id = ?`, id); err != nil {
		return false, fmt.Errorf("delete ticket: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE events SET ticket_count = MAX(ticket_count - 1, 0), updated_at = ? WHERE id = ?`,
		time.Now().UTC(), eventID,
	)
	if err != nil {
		return false, fmt.Errorf("release ticket: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// MarkRedeemed flips a valid ticket to redeemed. It reports false when the
// ticket is missing or was already redeemed.
func (s *TicketStore) MarkRedeemed(ctx context.Context, id string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE tickets SET is_valid = 0, redeemed_at = ?, updated_at = ? WHERE id = ? AND is_valid = 1`,
		at.UTC(), at.UTC(), id,
	)
	if err != nil {
		return false, fmt.Errorf("mark redeemed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}
