package models

import (
	"time"

	"github.com/uptrace/bun"
)

type EventStatus string

const (
	EventDraft     EventStatus = "draft"
	EventPublished EventStatus = "published"
	EventOngoing   EventStatus = "ongoing"
	EventCompleted EventStatus = "completed"
	EventCancelled EventStatus = "cancelled"
)

// OnSale reports whether tickets for the event can currently be reserved.
func (s EventStatus) OnSale() bool {
	return s == EventPublished || s == EventOngoing
}

type Event struct {
	bun.BaseModel `bun:"table:events"`

	ID             string      `bun:"id,pk" json:"id"`
	OrganizerID    string      `bun:"organizer_id,notnull" json:"organizer_id"`
	Title          string      `bun:"title,notnull" json:"title"`
	Description    string      `bun:"description,nullzero" json:"description,omitempty"`
	Venue          string      `bun:"venue,nullzero" json:"venue,omitempty"`
	Date           time.Time   `bun:"date,notnull" json:"date"`
	Status         EventStatus `bun:"status,notnull,default:'draft'" json:"status"`
	AllowTransfers bool        `bun:"allow_transfers,notnull,default:false" json:"allow_transfers"`
	AllowResale    bool        `bun:"allow_resale,notnull,default:false" json:"allow_resale"`
	MaxTransfers   int         `bun:"max_transfers,notnull,default:3" json:"max_transfers"`
	MaxResalePrice float64     `bun:"max_resale_price,nullzero" json:"max_resale_price,omitempty"`
	TransferFee    float64     `bun:"transfer_fee,nullzero" json:"transfer_fee,omitempty"`
	GatewayConfig  string      `bun:"gateway_config,nullzero" json:"-"`
	CreatedAt      time.Time   `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt      time.Time   `bun:"updated_at,nullzero" json:"updated_at,omitempty"`
}

// TicketType holds the inventory counters for one admission class of an
// event. Only the reservation and reaper code paths may touch Sold, and only
// through conditional updates that keep 0 <= sold <= capacity.
type TicketType struct {
	bun.BaseModel `bun:"table:ticket_types"`

	ID       string  `bun:"id,pk" json:"id"`
	EventID  string  `bun:"event_id,notnull" json:"event_id"`
	Name     string  `bun:"name,notnull" json:"name"`
	Price    float64 `bun:"price,notnull" json:"price"`
	Capacity int     `bun:"capacity,notnull" json:"capacity"`
	Sold     int     `bun:"sold,notnull,default:0" json:"sold"`
}

// Available is always derived, never stored.
func (t *TicketType) Available() int {
	return t.Capacity - t.Sold
}
