package ticket

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/ticketeer/internal/database"
	"github.com/dukerupert/ticketeer/internal/errutil"
	"github.com/dukerupert/ticketeer/internal/model"
	"github.com/dukerupert/ticketeer/internal/store"
)

type fixture struct {
	svc     *Service
	tickets *store.TicketStore
	events  *store.EventStore
	user    *model.User
	event   *model.Event
}

func newFixture(t *testing.T, quantity int) *fixture {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	users := store.NewUserStore(db)
	events := store.NewEventStore(db)
	tickets := store.NewTicketStore(db)

	u, err := users.Create(ctx, "Alice", "alice@example.com", "hash", model.RoleAttendee)
	require.NoError(t, err)
	date := time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC)
	e, err := events.Create(ctx, &model.Event{
		Owner:       u.ID,
		Title:       "Launch Party",
		EventDate:   &date,
		EventTime:   "19:00",
		TicketPrice: 25,
		Quantity:    quantity,
	})
	require.NoError(t, err)

	signer, err := NewSigner("ticket-secret")
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	seq := 0
	svc := NewService(tickets, events, users, signer, logger)
	svc.qrSize = 128
	svc.newID = func() string {
		seq++
		return fmt.Sprintf("T%03d", seq)
	}
	return &fixture{svc: svc, tickets: tickets, events: events, user: u, event: e}
}

func (f *fixture) request() PurchaseRequest {
	return PurchaseRequest{
		UserID:  f.user.ID,
		EventID: f.event.ID,
		Details: model.TicketDetails{Name: "Alice", Email: "Alice@Example.com"},
	}
}

func TestPurchase(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	tk, err := f.svc.Purchase(ctx, f.request())
	require.NoError(t, err)

	assert.Equal(t, "T001", tk.ID)
	assert.Equal(t, "T001", tk.Details.TicketID)
	assert.Equal(t, "alice@example.com", tk.Details.Email)
	assert.Equal(t, "Launch Party", tk.Details.EventName)
	assert.Equal(t, "19:00", tk.Details.EventTime)
	assert.Equal(t, 25.0, tk.Details.TicketPrice)
	require.NotNil(t, tk.Details.EventDate)
	assert.Equal(t, 2030, tk.Details.EventDate.Year())
	assert.True(t, tk.IsValid)
	assert.True(t, strings.HasPrefix(tk.Details.QR, "data:image/png;base64,"))

	expected, err := f.svc.signer.Encode(tk.ID, tk.Details.Email)
	require.NoError(t, err)
	assert.Equal(t, expected, tk.Payload)

	// The QR image encodes exactly the payload.
	qr, err := RenderQR(tk.Payload, 128)
	require.NoError(t, err)
	assert.Equal(t, qr, tk.Details.QR)

	claims, err := f.svc.signer.Decode(tk.Payload)
	require.NoError(t, err)
	assert.Equal(t, Claims{TicketID: tk.ID, Email: tk.Details.Email}, *claims)

	e, err := f.events.GetByID(ctx, f.event.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, e.TicketCount)
}

func TestPurchaseKeepsExplicitDetails(t *testing.T) {
	f := newFixture(t, 0)
	req := f.request()
	req.Details.EventName = "VIP Night"
	req.Details.TicketPrice = 99

	tk, err := f.svc.Purchase(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "VIP Night", tk.Details.EventName)
	assert.Equal(t, 99.0, tk.Details.TicketPrice)
}

func TestPurchaseDistinctIDs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	f.svc.newID = func() string { return ulid.Make().String() }

	a, err := f.svc.Purchase(ctx, f.request())
	require.NoError(t, err)
	b, err := f.svc.Purchase(ctx, f.request())
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.NotEqual(t, a.Payload, b.Payload)
}

func TestPurchaseRejects(t *testing.T) {
	ctx := context.Background()

	t.Run("missing name", func(t *testing.T) {
		f := newFixture(t, 0)
		req := f.request()
		req.Details.Name = "  "
		_, err := f.svc.Purchase(ctx, req)
		errutil.AssertErrorCode(t, err, errutil.CodeValidation)
	})

	t.Run("malformed email", func(t *testing.T) {
		f := newFixture(t, 0)
		req := f.request()
		req.Details.Email = "alice"
		_, err := f.svc.Purchase(ctx, req)
		errutil.AssertErrorCode(t, err, errutil.CodeValidation)
	})

	t.Run("unknown user", func(t *testing.T) {
		f := newFixture(t, 0)
		req := f.request()
		req.UserID = 9999
		_, err := f.svc.Purchase(ctx, req)
		errutil.AssertErrorCode(t, err, errutil.CodeNotFound)
	})

	t.Run("unknown event", func(t *testing.T) {
		f := newFixture(t, 0)
		req := f.request()
		req.EventID = 9999
		_, err := f.svc.Purchase(ctx, req)
		errutil.AssertErrorCode(t, err, errutil.CodeNotFound)
	})

	t.Run("sold out", func(t *testing.T) {
		f := newFixture(t, 1)
		_, err := f.svc.Purchase(ctx, f.request())
		require.NoError(t, err)
		_, err = f.svc.Purchase(ctx, f.request())
		errutil.AssertErrorCode(t, err, errutil.CodeConflict)
	})
}

func TestGetAndList(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	empty, err := f.svc.ListByUser(ctx, f.user.ID)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	first, err := f.svc.Purchase(ctx, f.request())
	require.NoError(t, err)
	second, err := f.svc.Purchase(ctx, f.request())
	require.NoError(t, err)

	got, err := f.svc.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Payload, got.Payload)

	_, err = f.svc.Get(ctx, "missing")
	errutil.AssertErrorCode(t, err, errutil.CodeNotFound)

	list, err := f.svc.ListByUser(ctx, f.user.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)
}

func TestRevoke(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	tk, err := f.svc.Purchase(ctx, f.request())
	require.NoError(t, err)

	deleted, err := f.svc.Revoke(ctx, tk.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = f.svc.Revoke(ctx, tk.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = f.svc.Get(ctx, tk.ID)
	errutil.AssertErrorCode(t, err, errutil.CodeNotFound)

	e, err := f.events.GetByID(ctx, f.event.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, e.TicketCount)
}

func TestVerify(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	tk, err := f.svc.Purchase(ctx, f.request())
	require.NoError(t, err)

	t.Run("valid", func(t *testing.T) {
		got, err := f.svc.Verify(ctx, tk.Payload)
		require.NoError(t, err)
		assert.Equal(t, tk.ID, got.ID)
	})

	t.Run("tampered", func(t *testing.T) {
		_, err := f.svc.Verify(ctx, tk.Payload[:len(tk.Payload)-3]+"xyz")
		errutil.AssertErrorCode(t, err, errutil.CodeIntegrity)
	})

	t.Run("unknown ticket", func(t *testing.T) {
		payload, err := f.svc.signer.Encode("T999", "alice@example.com")
		require.NoError(t, err)
		_, err = f.svc.Verify(ctx, payload)
		errutil.AssertErrorCode(t, err, errutil.CodeNotFound)
	})

	t.Run("email mismatch", func(t *testing.T) {
		payload, err := f.svc.signer.Encode(tk.ID, "mallory@example.com")
		require.NoError(t, err)
		_, err = f.svc.Verify(ctx, payload)
		errutil.AssertErrorCode(t, err, errutil.CodeIntegrity)
	})

	t.Run("signed by another key", func(t *testing.T) {
		other, err := NewSigner("other-secret")
		require.NoError(t, err)
		payload, err := other.Encode(tk.ID, tk.Details.Email)
		require.NoError(t, err)
		_, err = f.svc.Verify(ctx, payload)
		errutil.AssertErrorCode(t, err, errutil.CodeIntegrity)
	})
}

func TestRedeem(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	tk, err := f.svc.Purchase(ctx, f.request())
	require.NoError(t, err)

	redeemed, err := f.svc.Redeem(ctx, tk.Payload)
	require.NoError(t, err)
	assert.False(t, redeemed.IsValid)
	assert.NotNil(t, redeemed.RedeemedAt)

	_, err = f.svc.Redeem(ctx, tk.Payload)
	errutil.AssertErrorCode(t, err, errutil.CodeConflict)

	verified, err := f.svc.Verify(ctx, tk.Payload)
	require.NoError(t, err)
	assert.False(t, verified.IsValid)
}
