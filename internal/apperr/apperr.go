// Package apperr defines the error taxonomy shared by the core workflows.
// Handlers map these to HTTP status codes; services wrap them with context
// using fmt.Errorf("...: %w", err).
package apperr

import (
	"errors"
	"net/http"
)

type Error struct {
	Code    string
	Status  int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Capacity errors. Never retried by the core; callers must re-request with
// an adjusted quantity.
var (
	ErrSoldOut           = New("SOLD_OUT", http.StatusConflict, "requested quantity exceeds availability")
	ErrInvalidQuantity   = New("INVALID_QUANTITY", http.StatusBadRequest, "quantity must be between 1 and 10")
	ErrInvalidTicketType = New("INVALID_TICKET_TYPE", http.StatusBadRequest, "ticket type does not exist for this event")
)

// State-conflict errors.
var (
	ErrEventNotAvailable  = New("EVENT_NOT_AVAILABLE", http.StatusConflict, "event is not open for ticket sales")
	ErrTicketNotActive    = New("TICKET_NOT_ACTIVE", http.StatusConflict, "ticket is not in an active state")
	ErrTransferNotPending = New("TRANSFER_NOT_PENDING", http.StatusConflict, "transfer is not pending")
	ErrListingNotActive   = New("LISTING_NOT_ACTIVE", http.StatusConflict, "listing is not active")
	ErrTicketLocked       = New("TICKET_LOCKED", http.StatusConflict, "ticket is being modified, retry shortly")
	ErrAlreadyActivated   = New("ALREADY_ACTIVATED", http.StatusConflict, "reservation already activated")
)

// Authorization errors.
var (
	ErrNotOwner            = New("NOT_OWNER", http.StatusForbidden, "you do not own this resource")
	ErrTransfersDisallowed = New("TRANSFERS_DISALLOWED", http.StatusForbidden, "transfers are not allowed for this event")
	ErrResaleDisallowed    = New("RESALE_DISALLOWED", http.StatusForbidden, "resale is not allowed for this event")
	ErrTransferLimit       = New("TRANSFER_LIMIT", http.StatusForbidden, "maximum transfers reached for this ticket")
	ErrInsufficientRole    = New("AUTH_INSUFFICIENT_PERMISSIONS", http.StatusForbidden, "insufficient permissions")
)

// Token errors. Every rejection on the scan path is additionally persisted
// as a Scan audit record.
var (
	ErrQRInvalid     = New("QR_INVALID", http.StatusBadRequest, "QR code could not be validated")
	ErrEventMismatch = New("EVENT_MISMATCH", http.StatusBadRequest, "ticket belongs to a different event")
	ErrDuplicateScan = New("DUPLICATE_SCAN", http.StatusConflict, "ticket already used for entry")
	ErrOTPInvalid    = New("TRANSFER_OTP_INVALID", http.StatusBadRequest, "OTP does not match")
	ErrPriceCap      = New("PRICE_CAP_EXCEEDED", http.StatusBadRequest, "listing price exceeds the allowed cap")
)

// Expiry errors. Inventory reconciliation is the reaper's job by the time
// these surface.
var (
	ErrReservationExpired = New("RESERVATION_EXPIRED", http.StatusGone, "reservation hold has expired")
)

// External-dependency errors. Surfaced as retryable; no core state was
// mutated when one of these is returned.
var (
	ErrGatewayUnavailable   = New("GATEWAY_UNAVAILABLE", http.StatusBadGateway, "payment gateway error, retry later")
	ErrGatewayNotConfigured = New("MPESA_CONFIG_MISSING", http.StatusBadRequest, "payment method not configured for this event")
)

var (
	ErrNotFound = New("NOT_FOUND", http.StatusNotFound, "resource not found")
)

// CodeOf extracts the taxonomy code from err, unwrapping as needed.
func CodeOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return "INTERNAL"
}

// StatusOf maps err to an HTTP status, defaulting to 500.
func StatusOf(err error) int {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Status
	}
	return http.StatusInternalServerError
}
