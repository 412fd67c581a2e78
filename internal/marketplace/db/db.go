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

func (d *DB) ListingByID(ctx context.Context, id string) (*models.MarketplaceListing, error) {
	var listing models.MarketplaceListing
	err := d.Bun.NewSelect().
		Model(&listing).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &listing, nil
}

// CreateListing inserts the listing and moves the ticket active -> listed in
// one transaction; a ticket that left active since the caller's read aborts
// the insert.
func (d *DB) CreateListing(ctx context.Context, listing *models.MarketplaceListing) error {
	return d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(listing).Exec(ctx); err != nil {
			return fmt.Errorf("insert listing: %w", err)
		}

		res, err := tx.NewUpdate().
			Model((*models.Ticket)(nil)).
			Set("status = ?", models.TicketListed).
			Set("updated_at = ?", time.Now()).
			Where("id = ?", listing.TicketID).
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

// SettleListing commits a resale as one unit: listing active -> sold, the
// ticket handed to the buyer at the resale price with a fresh token and a
// cleared scan state, and the completed resale transaction booked. The
// listing-status condition makes a double purchase a state conflict for the
// second buyer.
func (d *DB) SettleListing(ctx context.Context, listing *models.MarketplaceListing, buyerID, newToken string, txn *models.Transaction) error {
	return d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		now := time.Now()

		res, err := tx.NewUpdate().
			Model((*models.MarketplaceListing)(nil)).
			Set("status = ?", models.ListingSold).
			Set("sold_at = ?", now).
			Where("id = ?", listing.ID).
			Where("status = ?", models.ListingActive).
			Exec(ctx)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return apperr.ErrListingNotActive
		}

		res, err = tx.NewUpdate().
			Model((*models.Ticket)(nil)).
			Set("user_id = ?", buyerID).
			Set("price = ?", listing.ListingPrice).
			Set("qr_code = ?", newToken).
			Set("qr_version = qr_version + 1").
			Set("status = ?", models.TicketActive).
			Set("transfer_count = transfer_count + 1").
			Set("scanned_at = NULL").
			Set("scanned_by = NULL").
			Set("updated_at = ?", now).
			Where("id = ?", listing.TicketID).
			Where("status = ?", models.TicketListed).
			Exec(ctx)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return apperr.ErrListingNotActive
		}

		if _, err := tx.NewInsert().Model(txn).Exec(ctx); err != nil {
			return fmt.Errorf("insert resale transaction: %w", err)
		}
		return nil
	})
}

// CancelListing voids an active listing and puts the ticket back in play.
func (d *DB) CancelListing(ctx context.Context, listing *models.MarketplaceListing) error {
	return d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.MarketplaceListing)(nil)).
			Set("status = ?", models.ListingCancelled).
			Where("id = ?", listing.ID).
			Where("status = ?", models.ListingActive).
			Exec(ctx)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return apperr.ErrListingNotActive
		}

		_, err = tx.NewUpdate().
			Model((*models.Ticket)(nil)).
			Set("status = ?", models.TicketActive).
			Set("updated_at = ?", time.Now()).
			Where("id = ?", listing.TicketID).
			Where("status = ?", models.TicketListed).
			Exec(ctx)
		return err
	})
}

// BrowseFilter narrows the public listing feed.
type BrowseFilter struct {
	EventID  string
	MinPrice float64
	MaxPrice float64
	Page     int
	Limit    int
}

// Browse pages through active listings, newest first.
func (d *DB) Browse(ctx context.Context, filter BrowseFilter) ([]models.MarketplaceListing, int, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 10
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}

	applyFilter := func(q *bun.SelectQuery) *bun.SelectQuery {
		q = q.Where("status = ?", models.ListingActive)
		if filter.EventID != "" {
			q = q.Where("event_id = ?", filter.EventID)
		}
		if filter.MinPrice > 0 {
			q = q.Where("listing_price >= ?", filter.MinPrice)
		}
		if filter.MaxPrice > 0 {
			q = q.Where("listing_price <= ?", filter.MaxPrice)
		}
		return q
	}

	total, err := applyFilter(d.Bun.NewSelect().Model((*models.MarketplaceListing)(nil))).Count(ctx)
	if err != nil {
		return nil, 0, err
	}

	var listings []models.MarketplaceListing
	err = applyFilter(d.Bun.NewSelect().Model(&listings)).
		Order("created_at DESC").
		Limit(filter.Limit).
		Offset((filter.Page - 1) * filter.Limit).
		Scan(ctx)
	if err != nil {
		return nil, 0, err
	}
	return listings, total, nil
}

// SellerListings returns every listing a seller has opened, newest first.
func (d *DB) SellerListings(ctx context.Context, sellerID string) ([]models.MarketplaceListing, error) {
	var listings []models.MarketplaceListing
	err := d.Bun.NewSelect().
		Model(&listings).
		Where("seller_id = ?", sellerID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return listings, nil
}
