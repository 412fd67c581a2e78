package models

import (
	"time"

	"github.com/uptrace/bun"
)

type ListingStatus string

const (
	ListingActive    ListingStatus = "active"
	ListingSold      ListingStatus = "sold"
	ListingCancelled ListingStatus = "cancelled"
)

type MarketplaceListing struct {
	bun.BaseModel `bun:"table:marketplace_listings"`

	ID            string        `bun:"id,pk" json:"id"`
	TicketID      string        `bun:"ticket_id,notnull" json:"ticket_id"`
	EventID       string        `bun:"event_id,notnull" json:"event_id"`
	SellerID      string        `bun:"seller_id,notnull" json:"seller_id"`
	OriginalPrice float64       `bun:"original_price,notnull" json:"original_price"`
	ListingPrice  float64       `bun:"listing_price,notnull" json:"listing_price"`
	Status        ListingStatus `bun:"status,notnull,default:'active'" json:"status"`
	CreatedAt     time.Time     `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	SoldAt        time.Time     `bun:"sold_at,nullzero" json:"sold_at,omitempty"`
}
