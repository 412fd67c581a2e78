package models

import (
	"time"

	"github.com/uptrace/bun"
)

type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferCompleted TransferStatus = "completed"
	TransferCancelled TransferStatus = "cancelled"
)

// Transfer is a two-party ownership handoff. The OTP is stored as a SHA-256
// hash; the plaintext only leaves the service through the notification topic.
type Transfer struct {
	bun.BaseModel `bun:"table:transfers"`

	ID          string         `bun:"id,pk" json:"id"`
	TicketID    string         `bun:"ticket_id,notnull" json:"ticket_id"`
	FromUserID  string         `bun:"from_user_id,notnull" json:"from_user_id"`
	ToUserID    string         `bun:"to_user_id,notnull" json:"to_user_id"`
	Status      TransferStatus `bun:"status,notnull,default:'pending'" json:"status"`
	OTPHash     string         `bun:"otp_hash,notnull" json:"-"`
	OTPVerified bool           `bun:"otp_verified,notnull,default:false" json:"otp_verified"`
	Fee         float64        `bun:"fee,notnull,default:0" json:"fee"`
	CreatedAt   time.Time      `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	CompletedAt time.Time      `bun:"completed_at,nullzero" json:"completed_at,omitempty"`
}
