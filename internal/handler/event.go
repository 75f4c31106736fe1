package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/dukerupert/ticketeer/internal/auth"
	"github.com/dukerupert/ticketeer/internal/errutil"
	"github.com/dukerupert/ticketeer/internal/model"
	"github.com/dukerupert/ticketeer/internal/store"
	"github.com/dukerupert/ticketeer/internal/websocket"
)

type EventHandler struct {
	events *store.EventStore
	hub    *websocket.Hub
	logger *slog.Logger
}

func NewEventHandler(es *store.EventStore, hub *websocket.Hub, logger *slog.Logger) *EventHandler {
	return &EventHandler{events: es, hub: hub, logger: logger.With("component", "event")}
}

func (h *EventHandler) broadcast(msg websocket.Message) {
	if h.hub != nil {
		h.hub.Broadcast(msg)
	}
}

type eventRequest struct {
	Title          string     `json:"title"`
	OrganizerEmail string     `json:"organizerEmail"`
	Description    string     `json:"description"`
	OrganizedBy    string     `json:"organizedBy"`
	EventDate      *time.Time `json:"eventDate"`
	EventTime      string     `json:"eventTime"`
	Location       string     `json:"location"`
	Participants   int        `json:"participants"`
	Count          int        `json:"count"`
	Income         float64    `json:"income"`
	TicketPrice    float64    `json:"ticketPrice"`
	Quantity       int        `json:"quantity"`
	Image          string     `json:"image"`
	OutDated       bool       `json:"outDated"`
	Comments       []string   `json:"comments"`
}

func validationError(msg string) error {
	return oops.Code(errutil.CodeValidation).Public(msg).Errorf("%s", msg)
}

// Create stores an event owned by the calling organizer.
func (h *EventHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		errutil.WriteError(w, h.logger, err)
		return
	}

	req.Title = strings.TrimSpace(req.Title)
	switch {
	case req.Title == "":
		errutil.WriteError(w, h.logger, validationError("title is required"))
		return
	case req.TicketPrice < 0:
		errutil.WriteError(w, h.logger, validationError("ticket price cannot be negative"))
		return
	case req.Quantity < 0:
		errutil.WriteError(w, h.logger, validationError("quantity cannot be negative"))
		return
	}

	id, _ := auth.FromContext(r.Context())
	if req.OrganizerEmail == "" {
		req.OrganizerEmail = id.Email
	}

	e, err := h.events.Create(r.Context(), &model.Event{
		Owner:          id.UserID,
		Title:          req.Title,
		OrganizerEmail: auth.NormalizeEmail(req.OrganizerEmail),
		Description:    req.Description,
		OrganizedBy:    req.OrganizedBy,
		EventDate:      req.EventDate,
		EventTime:      req.EventTime,
		Location:       req.Location,
		Participants:   req.Participants,
		Count:          req.Count,
		Income:         req.Income,
		TicketPrice:    req.TicketPrice,
		Quantity:       req.Quantity,
		Image:          req.Image,
		OutDated:       req.OutDated,
		Comments:       req.Comments,
	})
	if err != nil {
		errutil.WriteError(w, h.logger, oops.Code(errutil.CodeInternal).With("operation", "create event").Wrap(err))
		return
	}

	h.logger.Info("event created", "event_id", e.ID, "owner", e.Owner)
	h.broadcast(websocket.NewMessage("event", "created", strconv.FormatInt(e.ID, 10), nil).ForEvent(e.ID))

	writeJSON(w, http.StatusCreated, e)
}

func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	events, err := h.events.List(r.Context())
	if err != nil {
		errutil.WriteError(w, h.logger, oops.Code(errutil.CodeInternal).With("operation", "list events").Wrap(err))
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func eventNotFound(raw string) error {
	return oops.Code(errutil.CodeNotFound).Public("event not found").With("event_id", raw).Errorf("event not found")
}

// Get serves /event/{id} and its order summary aliases.
func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		errutil.WriteError(w, h.logger, eventNotFound(r.PathValue("id")))
		return
	}

	e, err := h.events.GetByID(r.Context(), id)
	if err != nil {
		errutil.WriteError(w, h.logger, oops.Code(errutil.CodeInternal).With("operation", "get event").Wrap(err))
		return
	}
	if e == nil {
		errutil.WriteError(w, h.logger, eventNotFound(r.PathValue("id")))
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *EventHandler) Like(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		errutil.WriteError(w, h.logger, eventNotFound(r.PathValue("id")))
		return
	}

	e, err := h.events.IncrementLikes(r.Context(), id)
	if err != nil {
		errutil.WriteError(w, h.logger, oops.Code(errutil.CodeInternal).With("operation", "like event").Wrap(err))
		return
	}
	if e == nil {
		errutil.WriteError(w, h.logger, eventNotFound(r.PathValue("id")))
		return
	}

	h.broadcast(websocket.NewMessage("event", "liked", strconv.FormatInt(e.ID, 10), map[string]any{"likes": e.Likes}).ForEvent(e.ID))

	writeJSON(w, http.StatusOK, e)
}
