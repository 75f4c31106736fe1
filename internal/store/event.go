package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukerupert/ticketeer/internal/model"
)

type EventStore struct {
	db *sql.DB
}

func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

const eventCols = `id, owner, title, organizer_email, description, organized_by, event_date, event_time, location,
	participants, count, income, ticket_price, quantity, image, likes, ticket_count, out_dated, comments,
	created_at, updated_at`

func scanEvent(s scanner) (*model.Event, error) {
	var e model.Event
	var eventDate sql.NullTime
	var outDated int
	var comments string

	err := s.Scan(
		&e.ID, &e.Owner, &e.Title, &e.OrganizerEmail, &e.Description, &e.OrganizedBy, &eventDate, &e.EventTime,
		&e.Location, &e.Participants, &e.Count, &e.Income, &e.TicketPrice, &e.Quantity, &e.Image, &e.Likes,
		&e.TicketCount, &outDated, &comments, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if eventDate.Valid {
		e.EventDate = &eventDate.Time
	}
	e.OutDated = outDated != 0
	if err := json.Unmarshal([]byte(comments), &e.Comments); err != nil {
		return nil, fmt.Errorf("decode comments: %w", err)
	}
	if e.Comments == nil {
		e.Comments = []string{}
	}
	return &e, nil
}

// Create inserts e and returns the stored row. Likes and ticket count
// always start at zero.
func (s *EventStore) Create(ctx context.Context, e *model.Event) (*model.Event, error) {
	comments := e.Comments
	if comments == nil {
		comments = []string{}
	}
	commentsJSON, err := json.Marshal(comments)
	if err != nil {
		return nil, fmt.Errorf("encode comments: %w", err)
	}

	var eventDate sql.NullTime
	if e.EventDate != nil {
		eventDate = sql.NullTime{Time: e.EventDate.UTC(), Valid: true}
	}
	var outDated int
	if e.OutDated {
		outDated = 1
	}

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO events (owner, title, organizer_email, description, organized_by, event_date, event_time, location,
		 participants, count, income, ticket_price, quantity, image, out_dated, comments, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Owner, e.Title, e.OrganizerEmail, e.Description, e.OrganizedBy, eventDate, e.EventTime, e.Location,
		e.Participants, e.Count, e.Income, e.TicketPrice, e.Quantity, e.Image, outDated, string(commentsJSON), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *EventStore) GetByID(ctx context.Context, id int64) (*model.Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventCols+` FROM events WHERE id = ?`, id)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

// List returns every event, newest first.
func (s *EventStore) List(ctx context.Context) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+eventCols+` FROM events ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := []model.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

// IncrementLikes adds one like in a single statement and returns the
// updated event, or nil if it does not exist.
func (s *EventStore) IncrementLikes(ctx context.Context, id int64) (*model.Event, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE events SET likes = likes + 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("increment likes: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	return s.GetByID(ctx, id)
}
