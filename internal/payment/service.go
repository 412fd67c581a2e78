// Package payment reconciles external M-Pesa results against reservations
// and turns confirmed payments into active, QR-bearing tickets exactly once.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Lynt445/ticket-system/internal/apperr"
	"github.com/Lynt445/ticket-system/internal/kafka"
	"github.com/Lynt445/ticket-system/internal/logger"
	"github.com/Lynt445/ticket-system/internal/models"
	"github.com/Lynt445/ticket-system/internal/monitoring"
	"github.com/Lynt445/ticket-system/internal/payment/mpesa"
	"github.com/Lynt445/ticket-system/internal/qr"
	"github.com/Lynt445/ticket-system/internal/utils"
)

type DBLayer interface {
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	PendingReservation(ctx context.Context, reservationID, userID string) ([]models.Ticket, error)
	TicketsByReservation(ctx context.Context, reservationID string) ([]models.Ticket, error)
	CreateTransaction(ctx context.Context, txn *models.Transaction) error
	TransactionByCheckout(ctx context.Context, checkoutRequestID string) (*models.Transaction, error)
	FailTransaction(ctx context.Context, transactionID, reason string) error
	ExpireReservationTickets(ctx context.Context, reservationID string) (int64, error)
	ActivateReservation(ctx context.Context, txn *models.Transaction, tokens map[string]string) error
}

// Gateway is the slice of the M-Pesa client the workflow needs; tests plug
// in a fake.
type Gateway interface {
	InitiateSTKPush(ctx context.Context, encryptedConfig, phone string, amount float64, reference, description string) (*mpesa.STKPushResult, error)
	QueryStatus(ctx context.Context, encryptedConfig, checkoutRequestID string) (*mpesa.QueryResult, error)
}

// Publisher fans activation events out to the notification dispatcher and
// downstream consumers. Failures are logged, never propagated.
type Publisher interface {
	PublishTicketActivated(t models.Ticket) error
	PublishNotification(n kafka.Notification) error
}

type Service struct {
	DB       DBLayer
	Gateway  Gateway
	QR       *qr.Service
	Producer Publisher
	Logger   *logger.Logger
}

func NewService(db DBLayer, gateway Gateway, qrSvc *qr.Service, producer Publisher, log *logger.Logger) *Service {
	return &Service{DB: db, Gateway: gateway, QR: qrSvc, Producer: producer, Logger: log}
}

// InitiateResult is returned to the client so it can poll Status with the
// checkout request id.
type InitiateResult struct {
	TransactionID     string  `json:"transaction_id"`
	CheckoutRequestID string  `json:"checkout_request_id"`
	MerchantRequestID string  `json:"merchant_request_id"`
	Amount            float64 `json:"amount"`
	CustomerMessage   string  `json:"message,omitempty"`
}

// Initiate pushes a payment prompt for a pending reservation to the payer's
// handset and records a pending Transaction carrying the gateway correlation
// ids. A lapsed hold fails closed before any gateway call is made.
func (s *Service) Initiate(ctx context.Context, userID, reservationID, phone string) (*InitiateResult, error) {
	tickets, err := s.DB.PendingReservation(ctx, reservationID, userID)
	if err != nil {
		return nil, fmt.Errorf("load reservation %s: %w", reservationID, err)
	}
	if len(tickets) == 0 {
		return nil, apperr.ErrReservationExpired
	}

	if tickets[0].HoldExpired(time.Now()) {
		// Leave the hold pending_payment: the reaper's sweep is the only
		// path that expires a hold and returns its unit to the ledger.
		return nil, apperr.ErrReservationExpired
	}

	event, err := s.DB.GetEvent(ctx, tickets[0].EventID)
	if err != nil {
		return nil, fmt.Errorf("load event %s: %w", tickets[0].EventID, err)
	}
	if event.GatewayConfig == "" {
		return nil, apperr.ErrGatewayNotConfigured
	}

	total := 0.0
	for _, t := range tickets {
		total += t.Price
	}

	push, err := s.Gateway.InitiateSTKPush(ctx, event.GatewayConfig, phone, total,
		"TICKET-"+reservationID, "Payment for "+event.Title)
	if err != nil {
		return nil, err
	}

	txn := &models.Transaction{
		ID:                utils.GenerateTransactionID(),
		TicketID:          reservationID,
		EventID:           event.ID,
		UserID:            userID,
		Amount:            total,
		Status:            models.TransactionPending,
		Type:              models.TransactionPurchase,
		PayerPhone:        phone,
		CheckoutRequestID: push.CheckoutRequestID,
		MerchantRequestID: push.MerchantRequestID,
		CreatedAt:         time.Now(),
	}
	if err := s.DB.CreateTransaction(ctx, txn); err != nil {
		return nil, err
	}

	if s.Logger != nil {
		s.Logger.LogPayment("INITIATE", push.CheckoutRequestID,
			fmt.Sprintf("%.0f for reservation %s pushed to payer", total, reservationID))
	}

	return &InitiateResult{
		TransactionID:     txn.ID,
		CheckoutRequestID: push.CheckoutRequestID,
		MerchantRequestID: push.MerchantRequestID,
		Amount:            total,
		CustomerMessage:   push.CustomerMessage,
	}, nil
}

// HandleCallback applies an asynchronous gateway result. Keyed on the
// checkout request id, it is safe against duplicated and out-of-order
// deliveries: a replay on an already-settled transaction is a no-op.
func (s *Service) HandleCallback(ctx context.Context, result *mpesa.CallbackResult) error {
	txn, err := s.DB.TransactionByCheckout(ctx, result.CheckoutRequestID)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Warn("PAYMENT", fmt.Sprintf("callback for unknown checkout %s", result.CheckoutRequestID))
		}
		return err
	}

	if txn.Status != models.TransactionPending {
		return nil
	}

	if !result.Succeeded {
		return s.failReservation(ctx, txn, result.ResultDesc)
	}

	txn.ReceiptRef = result.ReceiptRef
	if !result.CompletedAt.IsZero() {
		txn.CompletedAt = result.CompletedAt
	}
	if err := s.activate(ctx, txn); err != nil && !errors.Is(err, apperr.ErrAlreadyActivated) {
		return err
	}
	return nil
}

// StatusResult is the polling view of a transaction.
type StatusResult struct {
	TransactionID string                   `json:"transaction_id"`
	Status        models.TransactionStatus `json:"status"`
	Amount        float64                  `json:"amount"`
	ReceiptRef    string                   `json:"receipt_ref,omitempty"`
	FailureReason string                   `json:"failure_reason,omitempty"`
	TicketIDs     []string                 `json:"ticket_ids,omitempty"`
}

// Status reports a transaction's state to its owner. While the transaction
// is still pending it additionally asks the gateway, so a lost callback
// cannot strand a paid reservation; a confirmed answer runs the same
// idempotent activation the callback would have.
func (s *Service) Status(ctx context.Context, userID, checkoutRequestID string) (*StatusResult, error) {
	txn, err := s.DB.TransactionByCheckout(ctx, checkoutRequestID)
	if err != nil {
		return nil, err
	}
	if txn.UserID != userID {
		return nil, apperr.ErrNotOwner
	}

	if txn.Status == models.TransactionPending {
		if event, eventErr := s.DB.GetEvent(ctx, txn.EventID); eventErr == nil && event.GatewayConfig != "" {
			query, queryErr := s.Gateway.QueryStatus(ctx, event.GatewayConfig, checkoutRequestID)
			switch {
			case queryErr != nil:
				// Push may still be on the handset; keep reporting pending.
				if s.Logger != nil {
					s.Logger.Debug("PAYMENT", fmt.Sprintf("status query %s: %v", checkoutRequestID, queryErr))
				}
			case query.Succeeded():
				if err := s.activate(ctx, txn); err != nil && !errors.Is(err, apperr.ErrAlreadyActivated) {
					return nil, err
				}
				txn.Status = models.TransactionCompleted
			default:
				if err := s.failReservation(ctx, txn, query.ResultDesc); err != nil {
					return nil, err
				}
				txn.Status = models.TransactionFailed
				txn.FailureReason = query.ResultDesc
			}
		}
	}

	result := &StatusResult{
		TransactionID: txn.ID,
		Status:        txn.Status,
		Amount:        txn.Amount,
		ReceiptRef:    txn.ReceiptRef,
		FailureReason: txn.FailureReason,
	}
	if txn.Status == models.TransactionCompleted {
		tickets, err := s.DB.TicketsByReservation(ctx, txn.TicketID)
		if err != nil {
			return nil, err
		}
		for _, t := range tickets {
			result.TicketIDs = append(result.TicketIDs, t.ID)
		}
	}
	return result, nil
}

// activate issues version-1 QR tokens for the batch and commits the
// transaction plus all ticket transitions as one unit.
func (s *Service) activate(ctx context.Context, txn *models.Transaction) error {
	tickets, err := s.DB.TicketsByReservation(ctx, txn.TicketID)
	if err != nil {
		return fmt.Errorf("load reservation %s: %w", txn.TicketID, err)
	}
	if len(tickets) == 0 {
		return apperr.ErrNotFound
	}

	var pending []models.Ticket
	var active, expired int
	for _, t := range tickets {
		switch t.Status {
		case models.TicketPendingPayment:
			pending = append(pending, t)
		case models.TicketActive:
			active++
		default:
			expired++
		}
	}
	if active == len(tickets) {
		// Replayed confirmation for a batch that already went out.
		return apperr.ErrAlreadyActivated
	}
	if expired > 0 || len(pending) == 0 {
		// The reaper got to any part of the batch first: the whole
		// confirmation fails closed. Surviving pending tickets keep their
		// lapsed holds so the next sweep expires and releases them.
		monitoring.RecordActivation("expired")
		if err := s.DB.FailTransaction(ctx, txn.ID, "reservation expired before confirmation"); err != nil {
			return err
		}
		return apperr.ErrReservationExpired
	}

	tokens := make(map[string]string, len(pending))
	for _, t := range pending {
		token, err := s.QR.Issue(t.ID, t.EventID, t.UserID, t.QRVersion)
		if err != nil {
			return fmt.Errorf("issue qr for %s: %w", t.ID, err)
		}
		tokens[t.ID] = token
	}

	if err := s.DB.ActivateReservation(ctx, txn, tokens); err != nil {
		if errors.Is(err, apperr.ErrReservationExpired) {
			monitoring.RecordActivation("expired")
			if failErr := s.DB.FailTransaction(ctx, txn.ID, "reservation expired before confirmation"); failErr != nil && s.Logger != nil {
				s.Logger.Error("PAYMENT", fmt.Sprintf("fail transaction %s: %v", txn.ID, failErr))
			}
		}
		return err
	}

	monitoring.RecordActivation("activated")
	if s.Logger != nil {
		s.Logger.LogPayment("ACTIVATE", txn.CheckoutRequestID,
			fmt.Sprintf("%d tickets activated for reservation %s", len(tokens), txn.TicketID))
	}

	if s.Producer != nil {
		for _, t := range pending {
			t.Status = models.TicketActive
			if err := s.Producer.PublishTicketActivated(t); err != nil && s.Logger != nil {
				s.Logger.Warn("KAFKA", fmt.Sprintf("publish activation for %s: %v", t.ID, err))
			}
		}
		notif := kafka.Notification{
			UserID:  txn.UserID,
			Type:    "payment_confirmed",
			Subject: "Your tickets are ready",
			Body:    fmt.Sprintf("Payment of %.0f received, %d ticket(s) activated.", txn.Amount, len(tokens)),
		}
		if err := s.Producer.PublishNotification(notif); err != nil && s.Logger != nil {
			s.Logger.Warn("KAFKA", fmt.Sprintf("publish notification: %v", err))
		}
	}
	return nil
}

// failReservation settles a declined payment: the transaction is marked
// failed and the batch's unpaid tickets drop to expired. The sold counters
// stay put; only the reaper returns seats to the pool.
func (s *Service) failReservation(ctx context.Context, txn *models.Transaction, reason string) error {
	if err := s.DB.FailTransaction(ctx, txn.ID, reason); err != nil {
		return err
	}
	expired, err := s.DB.ExpireReservationTickets(ctx, txn.TicketID)
	if err != nil {
		return err
	}

	monitoring.RecordActivation("failed")
	if s.Logger != nil {
		s.Logger.LogPayment("FAIL", txn.CheckoutRequestID,
			fmt.Sprintf("gateway declined (%s), %d tickets expired", reason, expired))
	}
	return nil
}
