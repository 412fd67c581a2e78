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
	"github.com/Lynt445/ticket-system/internal/utils"
)

type DB struct {
	Bun *bun.DB
}

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

func (d *DB) TicketByID(ctx context.Context, id string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (d *DB) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := d.Bun.NewSelect().
		Model(&user).
		Where("email = ?", email).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (d *DB) TransferByID(ctx context.Context, id string) (*models.Transfer, error) {
	var transfer models.Transfer
	err := d.Bun.NewSelect().
		Model(&transfer).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &transfer, nil
}

// CreateTransfer inserts the pending handoff and parks the ticket in
// transferred, one transaction. The status condition on the ticket update
// catches a ticket that left active since the caller's read.
func (d *DB) CreateTransfer(ctx context.Context, transfer *models.Transfer) error {
	return d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(transfer).Exec(ctx); err != nil {
			return fmt.Errorf("insert transfer: %w", err)
		}

		res, err := tx.NewUpdate().
			Model((*models.Ticket)(nil)).
			Set("status = ?", models.TicketTransferred).
			Set("updated_at = ?", time.Now()).
			Where("id = ?", transfer.TicketID).
			Where("status = ?", models.TicketActive).
			Exec(ctx)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return apperr.ErrTicketNotActive
		}
		return nil
	})
}

// CompleteTransfer commits the verified handoff: the transfer row goes
// pending -> completed exactly once, and the ticket is handed to the new
// owner with a fresh token, a bumped version and a cleared scan state. Any
// transfer fee is booked as its own completed transaction. Conditional
// updates make a second complete on the same transfer a state conflict, not
// a second reassignment.
func (d *DB) CompleteTransfer(ctx context.Context, transfer *models.Transfer, newToken string) error {
	return d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		now := time.Now()

		res, err := tx.NewUpdate().
			Model((*models.Transfer)(nil)).
			Set("status = ?", models.TransferCompleted).
			Set("otp_verified = ?", true).
			Set("completed_at = ?", now).
			Where("id = ?", transfer.ID).
			Where("status = ?", models.TransferPending).
			Exec(ctx)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return apperr.ErrTransferNotPending
		}

		res, err = tx.NewUpdate().
			Model((*models.Ticket)(nil)).
			Set("user_id = ?", transfer.ToUserID).
			Set("qr_code = ?", newToken).
			Set("qr_version = qr_version + 1").
			Set("status = ?", models.TicketActive).
			Set("transfer_count = transfer_count + 1").
			Set("scanned_at = NULL").
			Set("scanned_by = NULL").
			Set("updated_at = ?", now).
			Where("id = ?", transfer.TicketID).
			Where("status = ?", models.TicketTransferred).
			Exec(ctx)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return apperr.ErrTransferNotPending
		}

		if transfer.Fee > 0 {
			var ticket models.Ticket
			if err := tx.NewSelect().Model(&ticket).Where("id = ?", transfer.TicketID).Limit(1).Scan(ctx); err != nil {
				return err
			}
			fee := &models.Transaction{
				ID:          utils.GenerateTransactionID(),
				TicketID:    transfer.TicketID,
				EventID:     ticket.EventID,
				UserID:      transfer.ToUserID,
				Amount:      transfer.Fee,
				Status:      models.TransactionCompleted,
				Type:        models.TransactionTransferFee,
				CreatedAt:   now,
				CompletedAt: now,
			}
			if _, err := tx.NewInsert().Model(fee).Exec(ctx); err != nil {
				return fmt.Errorf("insert transfer fee: %w", err)
			}
		}
		return nil
	})
}

// CancelTransfer voids a pending handoff and puts the ticket back in play.
func (d *DB) CancelTransfer(ctx context.Context, transfer *models.Transfer) error {
	return d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.Transfer)(nil)).
			Set("status = ?", models.TransferCancelled).
			Where("id = ?", transfer.ID).
			Where("status = ?", models.TransferPending).
			Exec(ctx)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return apperr.ErrTransferNotPending
		}

		_, err = tx.NewUpdate().
			Model((*models.Ticket)(nil)).
			Set("status = ?", models.TicketActive).
			Set("updated_at = ?", time.Now()).
			Where("id = ?", transfer.TicketID).
			Where("status = ?", models.TicketTransferred).
			Exec(ctx)
		return err
	})
}
