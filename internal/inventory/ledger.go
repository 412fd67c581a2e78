// Package inventory owns the per-event, per-ticket-type sold counters. The
// capacity invariant is enforced by the storage layer through conditional
// updates, never by application-level read-modify-write.
package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/Lynt445/ticket-system/internal/apperr"
	"github.com/Lynt445/ticket-system/internal/models"
)

// Reserve atomically moves quantity units from available to sold for one
// (event, ticket type). It is safe under concurrency: the guard
// `sold + qty <= capacity` is evaluated by the database, so racing
// reservations can never jointly exceed capacity. Callers run it inside the
// transaction that also creates the pending tickets.
func Reserve(ctx context.Context, db bun.IDB, eventID, ticketType string, quantity int) error {
	res, err := db.NewUpdate().
		Model((*models.TicketType)(nil)).
		Set("sold = sold + ?", quantity).
		Where("event_id = ?", eventID).
		Where("name = ?", ticketType).
		Where("sold + ? <= capacity", quantity).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("inventory reserve: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("inventory reserve: %w", err)
	}
	if affected == 0 {
		// Distinguish an unknown type from genuine sell-out.
		exists, err := db.NewSelect().
			Model((*models.TicketType)(nil)).
			Where("event_id = ?", eventID).
			Where("name = ?", ticketType).
			Exists(ctx)
		if err != nil {
			return fmt.Errorf("inventory reserve: %w", err)
		}
		if !exists {
			return apperr.ErrInvalidTicketType
		}
		return apperr.ErrSoldOut
	}

	return nil
}

// Release returns quantity units to the available pool. The guard
// `sold - qty >= 0` keeps sold from ever going negative even if a release is
// replayed.
func Release(ctx context.Context, db bun.IDB, eventID, ticketType string, quantity int) error {
	_, err := db.NewUpdate().
		Model((*models.TicketType)(nil)).
		Set("sold = sold - ?", quantity).
		Where("event_id = ?", eventID).
		Where("name = ?", ticketType).
		Where("sold - ? >= 0", quantity).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("inventory release: %w", err)
	}
	return nil
}

// Get returns the ticket type row for one (event, name) pair.
func Get(ctx context.Context, db bun.IDB, eventID, ticketType string) (*models.TicketType, error) {
	var tt models.TicketType
	err := db.NewSelect().
		Model(&tt).
		Where("event_id = ?", eventID).
		Where("name = ?", ticketType).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrInvalidTicketType
	}
	if err != nil {
		return nil, err
	}
	return &tt, nil
}

// ListForEvent returns every ticket type of an event with its counters.
func ListForEvent(ctx context.Context, db bun.IDB, eventID string) ([]models.TicketType, error) {
	var types []models.TicketType
	err := db.NewSelect().
		Model(&types).
		Where("event_id = ?", eventID).
		Order("name").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return types, nil
}
