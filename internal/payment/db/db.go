package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/Lynt445/ticket-system/internal/apperr"
	"github.com/Lynt445/ticket-system/internal/models"
)

type DB struct {
	Bun *bun.DB
}

// GetEvent fetches one event by ID.
func (d *DB) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	var event models.Event
	err := d.Bun.NewSelect().
		Model(&event).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// PendingReservation returns the still-unpaid tickets of one checkout batch
// owned by userID.
func (d *DB) PendingReservation(ctx context.Context, reservationID, userID string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := d.Bun.NewSelect().
		Model(&tickets).
		Where("reservation_id = ?", reservationID).
		Where("user_id = ?", userID).
		Where("status = ?", models.TicketPendingPayment).
		Order("created_at").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

// TicketsByReservation returns every ticket of a checkout batch regardless
// of status.
func (d *DB) TicketsByReservation(ctx context.Context, reservationID string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := d.Bun.NewSelect().
		Model(&tickets).
		Where("reservation_id = ?", reservationID).
		Order("created_at").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

func (d *DB) CreateTransaction(ctx context.Context, txn *models.Transaction) error {
	if _, err := d.Bun.NewInsert().Model(txn).Exec(ctx); err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// TransactionByCheckout resolves the payment record for a gateway
// correlation id. The unique index on checkout_request_id makes this the
// idempotency anchor for callbacks.
func (d *DB) TransactionByCheckout(ctx context.Context, checkoutRequestID string) (*models.Transaction, error) {
	var txn models.Transaction
	err := d.Bun.NewSelect().
		Model(&txn).
		Where("checkout_request_id = ?", checkoutRequestID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// FailTransaction marks a pending transaction failed with the gateway's
// reason. A transaction that already left pending is untouched.
func (d *DB) FailTransaction(ctx context.Context, transactionID, reason string) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Transaction)(nil)).
		Set("status = ?", models.TransactionFailed).
		Set("failure_reason = ?", reason).
		Where("id = ?", transactionID).
		Where("status = ?", models.TransactionPending).
		Exec(ctx)
	return err
}

// ExpireReservationTickets drops a batch's unpaid tickets to expired without
// touching the inventory ledger. Release stays with the reaper so that a
// late success callback can never race a freed seat.
func (d *DB) ExpireReservationTickets(ctx context.Context, reservationID string) (int64, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("status = ?", models.TicketExpired).
		Set("updated_at = ?", time.Now()).
		Where("reservation_id = ?", reservationID).
		Where("status = ?", models.TicketPendingPayment).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ActivateReservation flips a confirmed payment into live tickets: the
// transaction goes pending -> completed and every batch ticket goes
// pending_payment -> active with its freshly issued QR token, in one
// transaction. Conditional updates give the exactly-once guarantee: a
// replayed callback finds the transaction already completed and does
// nothing, and a batch whose hold was reaped mid-flight rolls back whole
// rather than activating partially.
func (d *DB) ActivateReservation(ctx context.Context, txn *models.Transaction, tokens map[string]string) error {
	return d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		completedAt := txn.CompletedAt
		if completedAt.IsZero() {
			completedAt = time.Now()
		}

		res, err := tx.NewUpdate().
			Model((*models.Transaction)(nil)).
			Set("status = ?", models.TransactionCompleted).
			Set("receipt_ref = ?", txn.ReceiptRef).
			Set("completed_at = ?", completedAt).
			Where("id = ?", txn.ID).
			Where("status = ?", models.TransactionPending).
			Exec(ctx)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return apperr.ErrAlreadyActivated
		}

		now := time.Now()
		for ticketID, token := range tokens {
			res, err := tx.NewUpdate().
				Model((*models.Ticket)(nil)).
				Set("status = ?", models.TicketActive).
				Set("qr_code = ?", token).
				Set("transaction_id = ?", txn.ID).
				Set("reserved_until = NULL").
				Set("updated_at = ?", now).
				Where("id = ?", ticketID).
				Where("status = ?", models.TicketPendingPayment).
				Exec(ctx)
			if err != nil {
				return err
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if affected == 0 {
				// Hold reaped between confirmation and write. Abort the
				// whole batch; partial activation is never valid.
				return apperr.ErrReservationExpired
			}
		}
		return nil
	})
}
