package models

import (
	"time"

	"github.com/uptrace/bun"
)

type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
	TransactionRefunded  TransactionStatus = "refunded"
)

type TransactionType string

const (
	TransactionPurchase    TransactionType = "purchase"
	TransactionResale      TransactionType = "resale"
	TransactionTransferFee TransactionType = "transfer_fee"
)

// Transaction is the payment record. One transaction can cover every ticket
// of a single checkout batch; tickets point back via their transaction_id.
type Transaction struct {
	bun.BaseModel `bun:"table:transactions"`

	ID                string            `bun:"id,pk" json:"id"`
	TicketID          string            `bun:"ticket_id,nullzero" json:"ticket_id,omitempty"`
	EventID           string            `bun:"event_id,notnull" json:"event_id"`
	UserID            string            `bun:"user_id,notnull" json:"user_id"`
	Amount            float64           `bun:"amount,notnull" json:"amount"`
	Commission        float64           `bun:"commission,notnull,default:0" json:"commission"`
	Status            TransactionStatus `bun:"status,notnull,default:'pending'" json:"status"`
	Type              TransactionType   `bun:"type,notnull" json:"type"`
	ReceiptRef        string            `bun:"receipt_ref,nullzero" json:"receipt_ref,omitempty"`
	PayerPhone        string            `bun:"payer_phone,nullzero" json:"payer_phone,omitempty"`
	CheckoutRequestID string            `bun:"checkout_request_id,nullzero,unique" json:"checkout_request_id,omitempty"`
	MerchantRequestID string            `bun:"merchant_request_id,nullzero" json:"merchant_request_id,omitempty"`
	FailureReason     string            `bun:"failure_reason,nullzero" json:"failure_reason,omitempty"`
	CreatedAt         time.Time         `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	CompletedAt       time.Time         `bun:"completed_at,nullzero" json:"completed_at,omitempty"`
}
