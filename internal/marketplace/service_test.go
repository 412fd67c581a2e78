package marketplace_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/Lynt445/ticket-system/internal/apperr"
	"github.com/Lynt445/ticket-system/internal/config"
	"github.com/Lynt445/ticket-system/internal/kafka"
	"github.com/Lynt445/ticket-system/internal/marketplace"
	marketdb "github.com/Lynt445/ticket-system/internal/marketplace/db"
	"github.com/Lynt445/ticket-system/internal/models"
	"github.com/Lynt445/ticket-system/internal/qr"
	"github.com/Lynt445/ticket-system/internal/ticketlock"
)

type fakePublisher struct {
	sold          []string
	notifications []kafka.Notification
}

func (p *fakePublisher) PublishListingSold(l models.MarketplaceListing, _ string) error {
	p.sold = append(p.sold, l.ID)
	return nil
}

func (p *fakePublisher) PublishNotification(n kafka.Notification) error {
	p.notifications = append(p.notifications, n)
	return nil
}

type fixture struct {
	bun       *bun.DB
	db        *marketdb.DB
	qr        *qr.Service
	locks     *ticketlock.Redis
	publisher *fakePublisher
	svc       *marketplace.Service
}

func setup(t *testing.T) *fixture {
	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:?cache=shared")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	ctx := context.Background()
	require.NoError(t, bunDB.ResetModel(ctx, (*models.Event)(nil)))
	require.NoError(t, bunDB.ResetModel(ctx, (*models.Ticket)(nil)))
	require.NoError(t, bunDB.ResetModel(ctx, (*models.MarketplaceListing)(nil)))
	require.NoError(t, bunDB.ResetModel(ctx, (*models.Transaction)(nil)))
	t.Cleanup(func() { bunDB.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	db := &marketdb.DB{Bun: bunDB}
	qrSvc := qr.NewService("test-secret", 24*time.Hour)
	locks := ticketlock.NewRedis(client, 10*time.Second)
	publisher := &fakePublisher{}
	svc := marketplace.NewService(db, qrSvc, locks, publisher, nil,
		config.MarketplaceConfig{CommissionRate: 0.05, PriceCapMultiple: 2.0})

	return &fixture{bun: bunDB, db: db, qr: qrSvc, locks: locks, publisher: publisher, svc: svc}
}

func seed(t *testing.T, f *fixture, allowResale bool, maxResalePrice float64) *models.Ticket {
	ctx := context.Background()

	event := models.Event{
		ID:             "event1",
		OrganizerID:    "organizer1",
		Title:          "Summer Fest",
		Date:           time.Now().AddDate(0, 1, 0),
		Status:         models.EventPublished,
		AllowResale:    allowResale,
		MaxResalePrice: maxResalePrice,
		CreatedAt:      time.Now(),
	}
	_, err := f.bun.NewInsert().Model(&event).Exec(ctx)
	require.NoError(t, err)

	ticket := &models.Ticket{
		ID:             uuid.NewString(),
		ReservationID:  uuid.NewString(),
		EventID:        "event1",
		UserID:         "seller",
		OriginalUserID: "seller",
		TicketType:     "VIP",
		Price:          100,
		Status:         models.TicketActive,
		QRVersion:      1,
		CreatedAt:      time.Now(),
	}
	token, err := f.qr.Issue(ticket.ID, ticket.EventID, ticket.UserID, 1)
	require.NoError(t, err)
	ticket.QRCode = token

	_, err = f.bun.NewInsert().Model(ticket).Exec(ctx)
	require.NoError(t, err)
	return ticket
}

func TestListWithinCap(t *testing.T) {
	f := setup(t)
	ticket := seed(t, f, true, 0)

	listing, err := f.svc.List(context.Background(), "seller", ticket.ID, 150)
	require.NoError(t, err)

	assert.Equal(t, models.ListingActive, listing.Status)
	assert.Equal(t, 100.0, listing.OriginalPrice)
	assert.Equal(t, 150.0, listing.ListingPrice)

	stored, err := f.db.TicketByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketListed, stored.Status)
}

func TestListPriceCaps(t *testing.T) {
	t.Run("over platform cap", func(t *testing.T) {
		f := setup(t)
		ticket := seed(t, f, true, 0)
		_, err := f.svc.List(context.Background(), "seller", ticket.ID, 201)
		assert.ErrorIs(t, err, apperr.ErrPriceCap)
	})

	t.Run("at platform cap", func(t *testing.T) {
		f := setup(t)
		ticket := seed(t, f, true, 0)
		_, err := f.svc.List(context.Background(), "seller", ticket.ID, 200)
		assert.NoError(t, err)
	})

	t.Run("over event cap", func(t *testing.T) {
		f := setup(t)
		ticket := seed(t, f, true, 120)
		_, err := f.svc.List(context.Background(), "seller", ticket.ID, 150)
		assert.ErrorIs(t, err, apperr.ErrPriceCap)
	})
}

func TestListPolicyChecks(t *testing.T) {
	t.Run("resale disallowed", func(t *testing.T) {
		f := setup(t)
		ticket := seed(t, f, false, 0)
		_, err := f.svc.List(context.Background(), "seller", ticket.ID, 120)
		assert.ErrorIs(t, err, apperr.ErrResaleDisallowed)
	})

	t.Run("not owner", func(t *testing.T) {
		f := setup(t)
		ticket := seed(t, f, true, 0)
		_, err := f.svc.List(context.Background(), "someone-else", ticket.ID, 120)
		assert.ErrorIs(t, err, apperr.ErrNotOwner)
	})

	t.Run("already listed", func(t *testing.T) {
		f := setup(t)
		ticket := seed(t, f, true, 0)
		_, err := f.svc.List(context.Background(), "seller", ticket.ID, 120)
		require.NoError(t, err)
		_, err = f.svc.List(context.Background(), "seller", ticket.ID, 130)
		assert.ErrorIs(t, err, apperr.ErrTicketNotActive)
	})
}

func TestPurchaseSettlesCommissionSplit(t *testing.T) {
	f := setup(t)
	ticket := seed(t, f, true, 0)

	listing, err := f.svc.List(context.Background(), "seller", ticket.ID, 150)
	require.NoError(t, err)

	result, err := f.svc.Purchase(context.Background(), "buyer", listing.ID,
		marketplace.PaymentDetails{ReceiptRef: "QGR7TEST01", PayerPhone: "254712345678"})
	require.NoError(t, err)

	assert.Equal(t, 150.0, result.Amount)
	assert.Equal(t, 7.5, result.Commission)
	assert.Equal(t, 142.5, result.SellerPayout) // listingPrice x 0.95

	stored, err := f.db.TicketByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, "buyer", stored.UserID)
	assert.Equal(t, models.TicketActive, stored.Status)
	assert.Equal(t, 150.0, stored.Price)
	assert.Equal(t, 2, stored.QRVersion)
	assert.Equal(t, 1, stored.TransferCount)
	assert.True(t, stored.ScannedAt.IsZero())

	// The buyer's token validates against the new version; the seller's is dead.
	_, err = f.qr.Validate(stored.QRCode, stored.QRVersion)
	assert.NoError(t, err)
	_, err = f.qr.Validate(ticket.QRCode, stored.QRVersion)
	assert.ErrorIs(t, err, qr.ErrVersionMismatch)

	soldListing, err := f.db.ListingByID(context.Background(), listing.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ListingSold, soldListing.Status)
	assert.False(t, soldListing.SoldAt.IsZero())

	var txn models.Transaction
	err = f.bun.NewSelect().Model(&txn).Where("type = ?", models.TransactionResale).Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "buyer", txn.UserID)
	assert.Equal(t, 150.0, txn.Amount)
	assert.Equal(t, 7.5, txn.Commission)
	assert.Equal(t, models.TransactionCompleted, txn.Status)

	assert.Len(t, f.publisher.sold, 1)
}

func TestPurchaseTwiceConflicts(t *testing.T) {
	f := setup(t)
	ticket := seed(t, f, true, 0)

	listing, err := f.svc.List(context.Background(), "seller", ticket.ID, 150)
	require.NoError(t, err)

	_, err = f.svc.Purchase(context.Background(), "buyer1", listing.ID, marketplace.PaymentDetails{})
	require.NoError(t, err)

	_, err = f.svc.Purchase(context.Background(), "buyer2", listing.ID, marketplace.PaymentDetails{})
	assert.ErrorIs(t, err, apperr.ErrListingNotActive)

	stored, err := f.db.TicketByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, "buyer1", stored.UserID)
}

func TestPurchaseOwnListing(t *testing.T) {
	f := setup(t)
	ticket := seed(t, f, true, 0)

	listing, err := f.svc.List(context.Background(), "seller", ticket.ID, 150)
	require.NoError(t, err)

	_, err = f.svc.Purchase(context.Background(), "seller", listing.ID, marketplace.PaymentDetails{})
	assert.ErrorIs(t, err, apperr.ErrListingNotActive)
}

func TestCancelRestoresTicket(t *testing.T) {
	f := setup(t)
	ticket := seed(t, f, true, 0)

	listing, err := f.svc.List(context.Background(), "seller", ticket.ID, 150)
	require.NoError(t, err)

	require.NoError(t, f.svc.Cancel(context.Background(), "seller", listing.ID))

	stored, err := f.db.TicketByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketActive, stored.Status)
	assert.Equal(t, "seller", stored.UserID)
	assert.Equal(t, 1, stored.QRVersion)

	cancelled, err := f.db.ListingByID(context.Background(), listing.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ListingCancelled, cancelled.Status)

	_, err = f.svc.Purchase(context.Background(), "buyer", listing.ID, marketplace.PaymentDetails{})
	assert.ErrorIs(t, err, apperr.ErrListingNotActive)
}

func TestCancelOnlyBySeller(t *testing.T) {
	f := setup(t)
	ticket := seed(t, f, true, 0)

	listing, err := f.svc.List(context.Background(), "seller", ticket.ID, 150)
	require.NoError(t, err)

	err = f.svc.Cancel(context.Background(), "buyer", listing.ID)
	assert.ErrorIs(t, err, apperr.ErrNotOwner)
}

func TestBrowseFiltersAndPaginates(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	event := models.Event{
		ID:          "event1",
		OrganizerID: "organizer1",
		Title:       "Summer Fest",
		Date:        time.Now().AddDate(0, 1, 0),
		Status:      models.EventPublished,
		AllowResale: true,
		CreatedAt:   time.Now(),
	}
	_, err := f.bun.NewInsert().Model(&event).Exec(ctx)
	require.NoError(t, err)

	for i, price := range []float64{110, 120, 180} {
		ticket := &models.Ticket{
			ID:             uuid.NewString(),
			ReservationID:  uuid.NewString(),
			EventID:        "event1",
			UserID:         "seller",
			OriginalUserID: "seller",
			TicketType:     "VIP",
			Price:          100,
			Status:         models.TicketActive,
			QRVersion:      1,
			CreatedAt:      time.Now().Add(time.Duration(i) * time.Second),
		}
		_, err := f.bun.NewInsert().Model(ticket).Exec(ctx)
		require.NoError(t, err)

		_, err = f.svc.List(ctx, "seller", ticket.ID, price)
		require.NoError(t, err)
	}

	listings, total, err := f.svc.Browse(ctx, marketdb.BrowseFilter{EventID: "event1"})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, listings, 3)

	listings, total, err = f.svc.Browse(ctx, marketdb.BrowseFilter{EventID: "event1", MaxPrice: 130})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, listings, 2)

	listings, total, err = f.svc.Browse(ctx, marketdb.BrowseFilter{EventID: "event1", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, listings, 2)
}

func TestMyListingsIncludesAllStatuses(t *testing.T) {
	f := setup(t)
	ticket := seed(t, f, true, 0)

	listing, err := f.svc.List(context.Background(), "seller", ticket.ID, 150)
	require.NoError(t, err)
	require.NoError(t, f.svc.Cancel(context.Background(), "seller", listing.ID))

	mine, err := f.svc.MyListings(context.Background(), "seller")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, models.ListingCancelled, mine[0].Status)
}
