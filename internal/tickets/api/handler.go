// Package api exposes the ticket wallet, the QR download and the
// organizer analytics over HTTP.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Lynt445/ticket-system/internal/auth"
	"github.com/Lynt445/ticket-system/internal/models"
	"github.com/Lynt445/ticket-system/internal/tickets"
	"github.com/Lynt445/ticket-system/internal/utils"
)

type Handler struct {
	Svc *tickets.Service
}

func NewHandler(svc *tickets.Service) *Handler {
	return &Handler{Svc: svc}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/my", h.MyTickets)
	r.Get("/{ticketID}", h.Get)
	r.Get("/{ticketID}/qr", h.DownloadQR)
	return r
}

// MyTickets handles GET /tickets/my?status=active.
func (h *Handler) MyTickets(w http.ResponseWriter, r *http.Request) {
	status := models.TicketStatus(r.URL.Query().Get("status"))
	list, err := h.Svc.MyTickets(r.Context(), auth.UserID(r.Context()), status)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("your tickets", list))
}

// Get handles GET /tickets/{ticketID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.Svc.Get(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "ticketID"))
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("ticket", ticket))
}

// DownloadQR handles GET /tickets/{ticketID}/qr and responds with a PNG
// rather than the JSON envelope.
func (h *Handler) DownloadQR(w http.ResponseWriter, r *http.Request) {
	png, err := h.Svc.DownloadQR(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "ticketID"))
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", `attachment; filename="ticket.png"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// EventTickets handles GET /events/{eventID}/tickets?status=. Mounted
// behind the organizer role; the service additionally checks the caller
// owns the event.
func (h *Handler) EventTickets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := models.TicketStatus(r.URL.Query().Get("status"))
	list, err := h.Svc.EventTickets(ctx, auth.UserID(ctx), auth.RoleFrom(ctx), chi.URLParam(r, "eventID"), status)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("event tickets", list))
}

// Analytics handles GET /analytics/{eventID}. Mounted behind the organizer
// role; the service additionally checks the caller owns the event.
func (h *Handler) Analytics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res, err := h.Svc.SellThrough(ctx, auth.UserID(ctx), auth.RoleFrom(ctx), chi.URLParam(r, "eventID"))
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("event analytics", res))
}
