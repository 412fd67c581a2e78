// Package api exposes payment initiation, the gateway callback and the
// polling endpoint over HTTP.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Lynt445/ticket-system/internal/auth"
	"github.com/Lynt445/ticket-system/internal/logger"
	"github.com/Lynt445/ticket-system/internal/payment"
	"github.com/Lynt445/ticket-system/internal/payment/mpesa"
	"github.com/Lynt445/ticket-system/internal/utils"
)

type Handler struct {
	Svc    *payment.Service
	Logger *logger.Logger
}

func NewHandler(svc *payment.Service, log *logger.Logger) *Handler {
	return &Handler{Svc: svc, Logger: log}
}

// Routes covers the authenticated endpoints. The gateway callback is not in
// here; it carries no bearer token and is mounted outside the auth
// middleware.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/initiate", h.Initiate)
	r.Get("/status/{checkoutRequestID}", h.Status)
	return r
}

// Initiate handles POST /payments/initiate.
// Body: {"reservation_id": "...", "phone": "0712345678"}
func (h *Handler) Initiate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ReservationID string `json:"reservation_id"`
		Phone         string `json:"phone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("invalid request body", "BAD_REQUEST"))
		return
	}
	if body.ReservationID == "" || body.Phone == "" {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("reservation_id and phone are required", "BAD_REQUEST"))
		return
	}

	res, err := h.Svc.Initiate(r.Context(), auth.UserID(r.Context()), body.ReservationID, body.Phone)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusAccepted, utils.SuccessResponse("payment prompt sent, confirm on your phone", res))
}

// Callback handles POST /payments/callback from the gateway. The gateway
// retries on anything but a 200 acknowledgement, so every outcome acks;
// failures inside the workflow are logged and resolved later by the
// polling path.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	var envelope mpesa.CallbackEnvelope
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		h.Logger.LogPayment("CALLBACK", "-", "undecodable callback body: "+err.Error())
		h.ack(w)
		return
	}

	result, err := mpesa.ParseCallback(&envelope)
	if err != nil {
		h.Logger.LogPayment("CALLBACK", "-", "malformed callback: "+err.Error())
		h.ack(w)
		return
	}

	if err := h.Svc.HandleCallback(r.Context(), result); err != nil {
		h.Logger.LogPayment("CALLBACK", result.CheckoutRequestID, "callback processing failed: "+err.Error())
	}
	h.ack(w)
}

func (h *Handler) ack(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"ResultCode": 0,
		"ResultDesc": "Accepted",
	})
}

// Status handles GET /payments/status/{checkoutRequestID}.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	checkoutRequestID := chi.URLParam(r, "checkoutRequestID")
	res, err := h.Svc.Status(r.Context(), auth.UserID(r.Context()), checkoutRequestID)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("transaction status", res))
}
