// Package ticket issues event tickets whose QR payloads can be verified
// at the door without trusting the client.
package ticket

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/dukerupert/ticketeer/internal/auth"
	"github.com/dukerupert/ticketeer/internal/errutil"
	"github.com/dukerupert/ticketeer/internal/model"
	"github.com/dukerupert/ticketeer/internal/store"
)

type TicketRepository interface {
	Create(ctx context.Context, t *model.Ticket) (*model.Ticket, error)
	GetByID(ctx context.Context, id string) (*model.Ticket, error)
	ListByUser(ctx context.Context, userID int64) ([]model.Ticket, error)
	Delete(ctx context.Context, id string) (bool, error)
	MarkRedeemed(ctx context.Context, id string, at time.Time) (bool, error)
}

type EventLookup interface {
	GetByID(ctx context.Context, id int64) (*model.Event, error)
}

type UserLookup interface {
	GetByID(ctx context.Context, id int64) (*model.User, error)
}

// PurchaseRequest carries the buyer and the details printed on the ticket.
// Event name, date, time and price default from the event when empty.
type PurchaseRequest struct {
	UserID  int64
	EventID int64
	Details model.TicketDetails
}

type Service struct {
	tickets TicketRepository
	events  EventLookup
	users   UserLookup
	signer  *Signer
	logger  *slog.Logger
	qrSize  int
	now     func() time.Time
	newID   func() string
}

func NewService(tickets TicketRepository, events EventLookup, users UserLookup, signer *Signer, logger *slog.Logger) *Service {
	return &Service{
		tickets: tickets,
		events:  events,
		users:   users,
		signer:  signer,
		logger:  logger.With("component", "ticket"),
		qrSize:  DefaultQRSize,
		now:     time.Now,
		newID:   func() string { return ulid.Make().String() },
	}
}

func notFound(entity string, id any) error {
	return oops.Code(errutil.CodeNotFound).Public(entity+" not found").With(entity+"_id", id).Errorf("%s not found", entity)
}

// Purchase issues a ticket, reserving a seat on the event in the same
// write. Capped events reject purchases once sold out.
func (s *Service) Purchase(ctx context.Context, req PurchaseRequest) (*model.Ticket, error) {
	d := req.Details
	d.Name = strings.TrimSpace(d.Name)
	d.Email = auth.NormalizeEmail(d.Email)
	if d.Name == "" {
		return nil, oops.Code(errutil.CodeValidation).Public("name is required").Errorf("empty ticket name")
	}
	if err := auth.ValidateEmail(d.Email); err != nil {
		return nil, err
	}

	u, err := s.users.GetByID(ctx, req.UserID)
	if err != nil {
		return nil, oops.Code(errutil.CodeInternal).With("operation", "lookup user").Wrap(err)
	}
	if u == nil {
		return nil, notFound("user", req.UserID)
	}
	e, err := s.events.GetByID(ctx, req.EventID)
	if err != nil {
		return nil, oops.Code(errutil.CodeInternal).With("operation", "lookup event").Wrap(err)
	}
	if e == nil {
		return nil, notFound("event", req.EventID)
	}
	if e.SoldOut() {
		return nil, soldOut(e.ID)
	}

	if d.EventName == "" {
		d.EventName = e.Title
	}
	if d.EventDate == nil {
		d.EventDate = e.EventDate
	}
	if d.EventTime == "" {
		d.EventTime = e.EventTime
	}
	if d.TicketPrice == 0 {
		d.TicketPrice = e.TicketPrice
	}

	id := s.newID()
	payload, err := s.signer.Encode(id, d.Email)
	if err != nil {
		return nil, err
	}
	qrURL, err := RenderQR(payload, s.qrSize)
	if err != nil {
		return nil, err
	}
	d.TicketID = id
	d.QR = qrURL
	d.BookedDate = s.now().UTC()

	t, err := s.tickets.Create(ctx, &model.Ticket{
		ID:      id,
		UserID:  u.ID,
		EventID: e.ID,
		Details: d,
		Payload: payload,
	})
	switch {
	case errors.Is(err, store.ErrSoldOut):
		return nil, soldOut(e.ID)
	case errors.Is(err, store.ErrNotFound):
		return nil, notFound("event", e.ID)
	case err != nil:
		return nil, oops.Code(errutil.CodeInternal).With("operation", "create ticket").Wrap(err)
	}

	s.logger.Info("ticket issued", "ticket_id", t.ID, "event_id", e.ID, "user_id", u.ID)
	return t, nil
}

func soldOut(eventID int64) error {
	return oops.Code(errutil.CodeConflict).Public("event is sold out").With("event_id", eventID).Errorf("sold out")
}

func (s *Service) Get(ctx context.Context, id string) (*model.Ticket, error) {
	t, err := s.tickets.GetByID(ctx, id)
	if err != nil {
		return nil, oops.Code(errutil.CodeInternal).With("operation", "get ticket").Wrap(err)
	}
	if t == nil {
		return nil, notFound("ticket", id)
	}
	return t, nil
}

// ListByUser returns the user's tickets, newest first, never nil.
func (s *Service) ListByUser(ctx context.Context, userID int64) ([]model.Ticket, error) {
	tickets, err := s.tickets.ListByUser(ctx, userID)
	if err != nil {
		return nil, oops.Code(errutil.CodeInternal).With("operation", "list tickets").With("user_id", userID).Wrap(err)
	}
	if tickets == nil {
		tickets = []model.Ticket{}
	}
	return tickets, nil
}

// Revoke deletes the ticket and releases its seat. Revoking a ticket that
// does not exist succeeds; the bool reports whether anything was removed.
func (s *Service) Revoke(ctx context.Context, id string) (bool, error) {
	deleted, err := s.tickets.Delete(ctx, id)
	if err != nil {
		return false, oops.Code(errutil.CodeInternal).With("operation", "revoke ticket").With("ticket_id", id).Wrap(err)
	}
	if deleted {
		s.logger.Info("ticket revoked", "ticket_id", id)
	}
	return deleted, nil
}

// Verify checks the payload signature and that it still describes a stored
// ticket exactly.
func (s *Service) Verify(ctx context.Context, payload string) (*model.Ticket, error) {
	claims, err := s.signer.Decode(strings.TrimSpace(payload))
	if err != nil {
		return nil, err
	}

	t, err := s.tickets.GetByID(ctx, claims.TicketID)
	if err != nil {
		return nil, oops.Code(errutil.CodeInternal).With("operation", "get ticket").Wrap(err)
	}
	if t == nil {
		return nil, notFound("ticket", claims.TicketID)
	}

	if t.Details.Email != claims.Email {
		return nil, integrity("payload email does not match ticket")
	}
	derived, err := s.signer.Encode(t.ID, t.Details.Email)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(derived), []byte(t.Payload)) != 1 {
		return nil, integrity("stored payload does not match ticket")
	}
	return t, nil
}

// Redeem verifies the payload and marks the ticket used. A second redeem
// fails with CONFLICT.
func (s *Service) Redeem(ctx context.Context, payload string) (*model.Ticket, error) {
	t, err := s.Verify(ctx, payload)
	if err != nil {
		return nil, err
	}
	if !t.IsValid {
		return nil, alreadyRedeemed(t.ID)
	}

	ok, err := s.tickets.MarkRedeemed(ctx, t.ID, s.now())
	if err != nil {
		return nil, oops.Code(errutil.CodeInternal).With("operation", "redeem ticket").With("ticket_id", t.ID).Wrap(err)
	}
	if !ok {
		return nil, alreadyRedeemed(t.ID)
	}

	s.logger.Info("ticket redeemed", "ticket_id", t.ID)
	return s.Get(ctx, t.ID)
}

func alreadyRedeemed(id string) error {
	return oops.Code(errutil.CodeConflict).Public("ticket already redeemed").With("ticket_id", id).Errorf("already redeemed")
}
