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

// MarkUsed is the single admission write: active -> used, stamped with the
// scanner and time. The status condition means two racing scanners can never
// both succeed; the loser sees zero rows and reports a duplicate.
func (d *DB) MarkUsed(ctx context.Context, ticketID, scannerID string, at time.Time) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("status = ?", models.TicketUsed).
		Set("scanned_at = ?", at).
		Set("scanned_by = ?", scannerID).
		Set("updated_at = ?", at).
		Where("id = ?", ticketID).
		Where("status = ?", models.TicketActive).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("mark used %s: %w", ticketID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// RecordScan appends one audit row. Scans are never updated or deleted.
func (d *DB) RecordScan(ctx context.Context, scan *models.Scan) error {
	if _, err := d.Bun.NewInsert().Model(scan).Exec(ctx); err != nil {
		return fmt.Errorf("insert scan record: %w", err)
	}
	return nil
}

// History lists an event's scan records, newest first.
func (d *DB) History(ctx context.Context, eventID string, limit int) ([]models.Scan, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var scans []models.Scan
	err := d.Bun.NewSelect().
		Model(&scans).
		Where("event_id = ?", eventID).
		Order("scanned_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return scans, nil
}
