// Package api exposes the resale marketplace over HTTP.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Lynt445/ticket-system/internal/auth"
	"github.com/Lynt445/ticket-system/internal/marketplace"
	marketdb "github.com/Lynt445/ticket-system/internal/marketplace/db"
	"github.com/Lynt445/ticket-system/internal/utils"
)

type Handler struct {
	Svc *marketplace.Service
}

func NewHandler(svc *marketplace.Service) *Handler {
	return &Handler{Svc: svc}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Browse)
	r.Post("/", h.List)
	r.Get("/mine", h.MyListings)
	r.Post("/{listingID}/purchase", h.Purchase)
	r.Post("/{listingID}/cancel", h.Cancel)
	return r
}

// List handles POST /marketplace.
// Body: {"ticket_id": "...", "price": 150.0}
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TicketID string  `json:"ticket_id"`
		Price    float64 `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("invalid request body", "BAD_REQUEST"))
		return
	}
	if body.TicketID == "" {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("ticket_id is required", "BAD_REQUEST"))
		return
	}

	listing, err := h.Svc.List(r.Context(), auth.UserID(r.Context()), body.TicketID, body.Price)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("ticket listed for resale", listing))
}

// Browse handles GET /marketplace?event_id=&min_price=&max_price=&page=&limit=.
func (h *Handler) Browse(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	minPrice, _ := strconv.ParseFloat(q.Get("min_price"), 64)
	maxPrice, _ := strconv.ParseFloat(q.Get("max_price"), 64)
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	listings, total, err := h.Svc.Browse(r.Context(), marketdb.BrowseFilter{
		EventID:  q.Get("event_id"),
		MinPrice: minPrice,
		MaxPrice: maxPrice,
		Page:     page,
		Limit:    limit,
	})
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("active listings", map[string]interface{}{
		"listings": listings,
		"total":    total,
	}))
}

// MyListings handles GET /marketplace/mine.
func (h *Handler) MyListings(w http.ResponseWriter, r *http.Request) {
	listings, err := h.Svc.MyListings(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("your listings", listings))
}

// Purchase handles POST /marketplace/{listingID}/purchase.
// Body: {"receipt_ref": "...", "payer_phone": "..."}
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ReceiptRef string `json:"receipt_ref"`
		PayerPhone string `json:"payer_phone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("invalid request body", "BAD_REQUEST"))
		return
	}

	res, err := h.Svc.Purchase(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "listingID"), marketplace.PaymentDetails{
		ReceiptRef: body.ReceiptRef,
		PayerPhone: body.PayerPhone,
	})
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("listing purchased", res))
}

// Cancel handles POST /marketplace/{listingID}/cancel. Seller only.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	err := h.Svc.Cancel(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "listingID"))
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("listing cancelled", nil))
}
