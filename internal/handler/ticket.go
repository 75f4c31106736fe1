package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/ticketeer/internal/errutil"
	"github.com/dukerupert/ticketeer/internal/model"
	"github.com/dukerupert/ticketeer/internal/observability"
	"github.com/dukerupert/ticketeer/internal/ticket"
	"github.com/dukerupert/ticketeer/internal/websocket"
)

type TicketHandler struct {
	tickets *ticket.Service
	hub     *websocket.Hub
	metrics *observability.Metrics
	logger  *slog.Logger
}

func NewTicketHandler(ts *ticket.Service, hub *websocket.Hub, metrics *observability.Metrics, logger *slog.Logger) *TicketHandler {
	return &TicketHandler{tickets: ts, hub: hub, metrics: metrics, logger: logger.With("component", "ticket")}
}

func (h *TicketHandler) broadcast(msg websocket.Message) {
	if h.hub != nil {
		h.hub.Broadcast(msg)
	}
}

type purchaseRequest struct {
	UserID  int64               `json:"userid"`
	EventID int64               `json:"eventid"`
	Details model.TicketDetails `json:"ticketDetails"`
}

type purchaseResponse struct {
	Ticket *model.Ticket `json:"ticket"`
}

func (h *TicketHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		errutil.WriteError(w, h.logger, err)
		return
	}

	t, err := h.tickets.Purchase(r.Context(), ticket.PurchaseRequest{
		UserID:  req.UserID,
		EventID: req.EventID,
		Details: req.Details,
	})
	if err != nil {
		errutil.WriteError(w, h.logger, err)
		return
	}

	h.metrics.TicketAction("issued")
	h.broadcast(websocket.NewMessage("ticket", "purchased", t.ID, map[string]any{
		"eventId":     t.EventID,
		"ticketCount": t.Count,
	}).ForEvent(t.EventID))

	writeJSON(w, http.StatusCreated, purchaseResponse{Ticket: t})
}

func (h *TicketHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, err := h.tickets.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		errutil.WriteError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *TicketHandler) ListByUser(w http.ResponseWriter, r *http.Request) {
	userID, err := parseIDParam(r, "userId")
	if err != nil {
		errutil.WriteError(w, h.logger, err)
		return
	}

	tickets, err := h.tickets.ListByUser(r.Context(), userID)
	if err != nil {
		errutil.WriteError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, tickets)
}

// Delete revokes a ticket. Deleting an unknown ticket still succeeds.
func (h *TicketHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	removed, err := h.tickets.Revoke(r.Context(), id)
	if err != nil {
		errutil.WriteError(w, h.logger, err)
		return
	}

	if removed {
		h.metrics.TicketAction("revoked")
		h.broadcast(websocket.NewMessage("ticket", "revoked", id, nil))
	}

	w.WriteHeader(http.StatusNoContent)
}

type payloadRequest struct {
	Payload string `json:"payload"`
}

func (h *TicketHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req payloadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		errutil.WriteError(w, h.logger, err)
		return
	}

	t, err := h.tickets.Verify(r.Context(), req.Payload)
	if err != nil {
		h.logger.Warn("ticket verification failed", "error", err)
		errutil.WriteError(w, h.logger, err)
		return
	}

	h.metrics.TicketAction("verified")
	writeJSON(w, http.StatusOK, t)
}

func (h *TicketHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req payloadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		errutil.WriteError(w, h.logger, err)
		return
	}

	t, err := h.tickets.Redeem(r.Context(), req.Payload)
	if err != nil {
		errutil.WriteError(w, h.logger, err)
		return
	}

	h.metrics.TicketAction("redeemed")
	h.broadcast(websocket.NewMessage("ticket", "redeemed", t.ID, map[string]any{"eventId": t.EventID}).ForEvent(t.EventID))

	writeJSON(w, http.StatusOK, t)
}
