package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/Lynt445/ticket-system/internal/apperr"
	"github.com/Lynt445/ticket-system/internal/inventory"
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

// CreateReservation converts available inventory into a batch of pending
// tickets under a shared hold. The sold-counter increment and the ticket
// inserts commit together or not at all.
func (d *DB) CreateReservation(ctx context.Context, eventID, userID, ticketType string, quantity int, holdUntil time.Time) ([]models.Ticket, error) {
	var created []models.Ticket

	err := d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		tt, err := inventory.Get(ctx, tx, eventID, ticketType)
		if err != nil {
			return err
		}

		if err := inventory.Reserve(ctx, tx, eventID, ticketType, quantity); err != nil {
			return err
		}

		reservationID := uuid.NewString()
		now := time.Now()

		tickets := make([]models.Ticket, quantity)
		for i := 0; i < quantity; i++ {
			id := reservationID
			if i > 0 {
				id = uuid.NewString()
			}
			tickets[i] = models.Ticket{
				ID:             id,
				ReservationID:  reservationID,
				EventID:        eventID,
				UserID:         userID,
				OriginalUserID: userID,
				TicketType:     ticketType,
				Price:          tt.Price,
				Status:         models.TicketPendingPayment,
				QRVersion:      1,
				ReservedUntil:  holdUntil,
				CreatedAt:      now,
			}
		}

		if _, err := tx.NewInsert().Model(&tickets).Exec(ctx); err != nil {
			return fmt.Errorf("insert reservation tickets: %w", err)
		}

		created = tickets
		return nil
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

// TicketsByReservation returns every ticket of a checkout batch.
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

// FindExpiredHolds returns tickets whose reservation hold has lapsed while
// still unpaid.
func (d *DB) FindExpiredHolds(ctx context.Context, now time.Time, limit int) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := d.Bun.NewSelect().
		Model(&tickets).
		Where("status = ?", models.TicketPendingPayment).
		Where("reserved_until < ?", now).
		Order("reserved_until").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

// ExpireHold transitions one lapsed ticket to expired and releases its unit
// back to the inventory ledger. The status condition at write time makes the
// operation idempotent and safe against a racing payment activation: a
// ticket that left pending_payment between read and write is left alone and
// not double-released.
func (d *DB) ExpireHold(ctx context.Context, ticket models.Ticket) (bool, error) {
	reclaimed := false

	err := d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.Ticket)(nil)).
			Set("status = ?", models.TicketExpired).
			Set("updated_at = ?", time.Now()).
			Where("id = ?", ticket.ID).
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
			// Already activated or already reaped.
			return nil
		}

		if err := inventory.Release(ctx, tx, ticket.EventID, ticket.TicketType, 1); err != nil {
			return err
		}

		reclaimed = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("expire hold %s: %w", ticket.ID, err)
	}

	return reclaimed, nil
}
