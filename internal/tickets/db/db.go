// Package db is the persistence layer for the read-side ticket queries:
// wallet listings, single-ticket lookups and per-event sales aggregates.
package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"

	"github.com/Lynt445/ticket-system/internal/apperr"
	"github.com/Lynt445/ticket-system/internal/inventory"
	"github.com/Lynt445/ticket-system/internal/models"
)

type DB struct {
	Bun *bun.DB
}

// settledStatuses are the states in which a ticket represents realized
// revenue. Parked states (transferred, listed) still count: the seat was
// paid for and merely sits mid-handover.
var settledStatuses = []models.TicketStatus{
	models.TicketActive,
	models.TicketUsed,
	models.TicketTransferred,
	models.TicketListed,
}

func (d *DB) GetEvent(ctx context.Context, eventID string) (*models.Event, error) {
	event := new(models.Event)
	err := d.Bun.NewSelect().Model(event).Where("id = ?", eventID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return event, nil
}

func (d *DB) TicketByID(ctx context.Context, ticketID string) (*models.Ticket, error) {
	ticket := new(models.Ticket)
	err := d.Bun.NewSelect().Model(ticket).Where("id = ?", ticketID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

// TicketsByUser returns the user's wallet, newest first. An empty status
// returns every ticket regardless of state.
func (d *DB) TicketsByUser(ctx context.Context, userID string, status models.TicketStatus) ([]models.Ticket, error) {
	var tickets []models.Ticket
	q := d.Bun.NewSelect().
		Model(&tickets).
		Where("user_id = ?", userID).
		OrderExpr("created_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return tickets, nil
}

// TicketsByEvent returns every ticket of one event, newest first, for the
// organizer view. An empty status returns all states.
func (d *DB) TicketsByEvent(ctx context.Context, eventID string, status models.TicketStatus) ([]models.Ticket, error) {
	var tickets []models.Ticket
	q := d.Bun.NewSelect().
		Model(&tickets).
		Where("event_id = ?", eventID).
		OrderExpr("created_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return tickets, nil
}

func (d *DB) TicketTypes(ctx context.Context, eventID string) ([]models.TicketType, error) {
	return inventory.ListForEvent(ctx, d.Bun, eventID)
}

// TypeSale is one row of the per-type revenue aggregate.
type TypeSale struct {
	TicketType string  `bun:"ticket_type"`
	Count      int     `bun:"count"`
	Revenue    float64 `bun:"revenue"`
}

// TypeSales aggregates settled tickets by type. Revenue is the sum of the
// prices the tickets were actually bought at, so resold seats report their
// resale price.
func (d *DB) TypeSales(ctx context.Context, eventID string) ([]TypeSale, error) {
	var rows []TypeSale
	err := d.Bun.NewSelect().
		Model((*models.Ticket)(nil)).
		ColumnExpr("ticket_type").
		ColumnExpr("COUNT(*) AS count").
		ColumnExpr("COALESCE(SUM(price), 0) AS revenue").
		Where("event_id = ?", eventID).
		Where("status IN (?)", bun.In(settledStatuses)).
		GroupExpr("ticket_type").
		Scan(ctx, &rows)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// StatusCounts returns how many tickets of the event sit in each state.
func (d *DB) StatusCounts(ctx context.Context, eventID string) (map[models.TicketStatus]int, error) {
	var rows []struct {
		Status models.TicketStatus `bun:"status"`
		Count  int                 `bun:"count"`
	}
	err := d.Bun.NewSelect().
		Model((*models.Ticket)(nil)).
		ColumnExpr("status").
		ColumnExpr("COUNT(*) AS count").
		Where("event_id = ?", eventID).
		GroupExpr("status").
		Scan(ctx, &rows)
	if err != nil {
		return nil, err
	}
	counts := make(map[models.TicketStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
