// Package api exposes gate scanning and the scan audit feed over HTTP.
// Both endpoints sit behind the scanner role.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Lynt445/ticket-system/internal/auth"
	"github.com/Lynt445/ticket-system/internal/scan"
	"github.com/Lynt445/ticket-system/internal/utils"
)

type Handler struct {
	Svc *scan.Service
}

func NewHandler(svc *scan.Service) *Handler {
	return &Handler{Svc: svc}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Validate)
	r.Get("/history/{eventID}", h.History)
	return r
}

// Validate handles POST /scan.
// Body: {"event_id": "...", "qr_token": "...", "device_info": "...", "latitude": ..., "longitude": ...}
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		EventID    string  `json:"event_id"`
		QRToken    string  `json:"qr_token"`
		DeviceInfo string  `json:"device_info"`
		Latitude   float64 `json:"latitude"`
		Longitude  float64 `json:"longitude"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("invalid request body", "BAD_REQUEST"))
		return
	}
	if body.EventID == "" || body.QRToken == "" {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("event_id and qr_token are required", "BAD_REQUEST"))
		return
	}

	meta := scan.Metadata{
		DeviceInfo: body.DeviceInfo,
		Latitude:   body.Latitude,
		Longitude:  body.Longitude,
	}
	res, err := h.Svc.Validate(r.Context(), auth.UserID(r.Context()), body.EventID, body.QRToken, meta)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("entry granted", res))
}

// History handles GET /scan/history/{eventID}?limit=N.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	scans, err := h.Svc.History(r.Context(), eventID, limit)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("scan history", scans))
}
