// Package api exposes the OTP-gated transfer workflow over HTTP.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Lynt445/ticket-system/internal/auth"
	"github.com/Lynt445/ticket-system/internal/transfer"
	"github.com/Lynt445/ticket-system/internal/utils"
)

type Handler struct {
	Svc *transfer.Service
}

func NewHandler(svc *transfer.Service) *Handler {
	return &Handler{Svc: svc}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Initiate)
	r.Post("/{transferID}/complete", h.Complete)
	r.Post("/{transferID}/cancel", h.Cancel)
	return r
}

// Initiate handles POST /transfers.
// Body: {"ticket_id": "...", "to_email": "recipient@example.com"}
func (h *Handler) Initiate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TicketID string `json:"ticket_id"`
		ToEmail  string `json:"to_email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("invalid request body", "BAD_REQUEST"))
		return
	}
	if body.TicketID == "" || body.ToEmail == "" {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("ticket_id and to_email are required", "BAD_REQUEST"))
		return
	}

	res, err := h.Svc.Initiate(r.Context(), auth.UserID(r.Context()), body.TicketID, body.ToEmail)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("transfer started, the recipient received a confirmation code", res))
}

// Complete handles POST /transfers/{transferID}/complete.
// Body: {"otp": "123456"}
func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OTP string `json:"otp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("invalid request body", "BAD_REQUEST"))
		return
	}
	if body.OTP == "" {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("otp is required", "BAD_REQUEST"))
		return
	}

	res, err := h.Svc.Complete(r.Context(), chi.URLParam(r, "transferID"), body.OTP)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("ticket transferred", res))
}

// Cancel handles POST /transfers/{transferID}/cancel. Initiator only.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	err := h.Svc.Cancel(r.Context(), chi.URLParam(r, "transferID"), auth.UserID(r.Context()))
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("transfer cancelled", nil))
}
