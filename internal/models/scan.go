package models

import (
	"time"

	"github.com/uptrace/bun"
)

type ScanResult string

const (
	ScanValid       ScanResult = "valid"
	ScanDuplicate   ScanResult = "duplicate"
	ScanInvalid     ScanResult = "invalid"
	ScanExpired     ScanResult = "expired"
	ScanTransferred ScanResult = "transferred"
)

// Scan is an append-only audit record. Rejected scans are persisted too;
// rows are never updated after insert.
type Scan struct {
	bun.BaseModel `bun:"table:scans"`

	ID         string     `bun:"id,pk" json:"id"`
	TicketID   string     `bun:"ticket_id,nullzero" json:"ticket_id,omitempty"`
	EventID    string     `bun:"event_id,notnull" json:"event_id"`
	ScannerID  string     `bun:"scanner_id,notnull" json:"scanner_id"`
	Result     ScanResult `bun:"result,notnull" json:"result"`
	Reason     string     `bun:"reason,nullzero" json:"reason,omitempty"`
	DeviceInfo string     `bun:"device_info,nullzero" json:"device_info,omitempty"`
	Latitude   float64    `bun:"latitude,nullzero" json:"latitude,omitempty"`
	Longitude  float64    `bun:"longitude,nullzero" json:"longitude,omitempty"`
	ScannedAt  time.Time  `bun:"scanned_at,notnull,default:current_timestamp" json:"scanned_at"`
}
