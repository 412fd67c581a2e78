package models

import (
	"time"

	"github.com/uptrace/bun"
)

type TicketStatus string

const (
	TicketPendingPayment TicketStatus = "pending_payment"
	TicketActive         TicketStatus = "active"
	TicketTransferred    TicketStatus = "transferred"
	TicketListed         TicketStatus = "listed"
	TicketUsed           TicketStatus = "used"
	TicketExpired        TicketStatus = "expired"
	TicketCancelled      TicketStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed from s.
func (s TicketStatus) Terminal() bool {
	return s == TicketUsed || s == TicketExpired || s == TicketCancelled
}

// Ticket is one admission unit. ReservationID groups the tickets of one
// checkout batch; it equals the first ticket's ID of that batch.
type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	ID             string       `bun:"id,pk" json:"id"`
	ReservationID  string       `bun:"reservation_id,notnull" json:"reservation_id"`
	EventID        string       `bun:"event_id,notnull" json:"event_id"`
	UserID         string       `bun:"user_id,notnull" json:"user_id"`
	OriginalUserID string       `bun:"original_user_id,notnull" json:"original_user_id"`
	TicketType     string       `bun:"ticket_type,notnull" json:"ticket_type"`
	Price          float64      `bun:"price,notnull" json:"price"`
	Status         TicketStatus `bun:"status,notnull,default:'pending_payment'" json:"status"`
	QRCode         string       `bun:"qr_code,nullzero,unique" json:"-"`
	QRVersion      int          `bun:"qr_version,notnull,default:1" json:"qr_version"`
	TransactionID  string       `bun:"transaction_id,nullzero" json:"transaction_id,omitempty"`
	TransferCount  int          `bun:"transfer_count,notnull,default:0" json:"transfer_count"`
	ReservedUntil  time.Time    `bun:"reserved_until,nullzero" json:"reserved_until,omitempty"`
	ScannedAt      time.Time    `bun:"scanned_at,nullzero" json:"scanned_at,omitempty"`
	ScannedBy      string       `bun:"scanned_by,nullzero" json:"scanned_by,omitempty"`
	CreatedAt      time.Time    `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt      time.Time    `bun:"updated_at,nullzero" json:"updated_at,omitempty"`
}

// HoldExpired reports whether a pending reservation hold has lapsed.
func (t *Ticket) HoldExpired(now time.Time) bool {
	return t.Status == TicketPendingPayment && !t.ReservedUntil.IsZero() && t.ReservedUntil.Before(now)
}
