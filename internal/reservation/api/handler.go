// Package api exposes the reservation workflow over HTTP.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Lynt445/ticket-system/internal/auth"
	"github.com/Lynt445/ticket-system/internal/reservation"
	"github.com/Lynt445/ticket-system/internal/utils"
)

type Handler struct {
	Svc *reservation.Service
}

func NewHandler(svc *reservation.Service) *Handler {
	return &Handler{Svc: svc}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Reserve)
	r.Get("/{reservationID}/tickets", h.Tickets)
	return r
}

// Reserve handles POST /reservations.
// Body: {"event_id": "...", "ticket_type": "...", "quantity": 2}
func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	var body struct {
		EventID    string `json:"event_id"`
		TicketType string `json:"ticket_type"`
		Quantity   int    `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("invalid request body", "BAD_REQUEST"))
		return
	}
	if body.EventID == "" || body.TicketType == "" {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("event_id and ticket_type are required", "BAD_REQUEST"))
		return
	}

	res, err := h.Svc.Reserve(r.Context(), auth.UserID(r.Context()), body.EventID, body.TicketType, body.Quantity)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("tickets held, complete payment before the hold expires", res))
}

// Tickets handles GET /reservations/{reservationID}/tickets.
func (h *Handler) Tickets(w http.ResponseWriter, r *http.Request) {
	reservationID := chi.URLParam(r, "reservationID")
	tickets, err := h.Svc.Tickets(r.Context(), auth.UserID(r.Context()), reservationID)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("reservation tickets", tickets))
}
