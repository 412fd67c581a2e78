package inventory_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/Lynt445/ticket-system/internal/apperr"
	"github.com/Lynt445/ticket-system/internal/inventory"
	"github.com/Lynt445/ticket-system/internal/models"
)

func setupTestDB(t *testing.T) *bun.DB {
	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:?cache=shared")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	require.NoError(t, bunDB.ResetModel(context.Background(), (*models.TicketType)(nil)))

	t.Cleanup(func() { bunDB.Close() })
	return bunDB
}

func seedType(t *testing.T, db *bun.DB, eventID, name string, capacity, sold int) {
	tt := models.TicketType{
		ID:       eventID + "-" + name,
		EventID:  eventID,
		Name:     name,
		Price:    100.0,
		Capacity: capacity,
		Sold:     sold,
	}
	_, err := db.NewInsert().Model(&tt).Exec(context.Background())
	require.NoError(t, err)
}

func soldCount(t *testing.T, db *bun.DB, eventID, name string) int {
	tt, err := inventory.Get(context.Background(), db, eventID, name)
	require.NoError(t, err)
	return tt.Sold
}

func TestReserveIncrementsSold(t *testing.T) {
	db := setupTestDB(t)
	seedType(t, db, "event1", "VIP", 10, 0)

	err := inventory.Reserve(context.Background(), db, "event1", "VIP", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, soldCount(t, db, "event1", "VIP"))
}

func TestReserveSoldOut(t *testing.T) {
	db := setupTestDB(t)
	seedType(t, db, "event1", "VIP", 10, 8)

	err := inventory.Reserve(context.Background(), db, "event1", "VIP", 3)
	assert.ErrorIs(t, err, apperr.ErrSoldOut)

	// The failed attempt must leave the counter untouched.
	assert.Equal(t, 8, soldCount(t, db, "event1", "VIP"))
}

func TestReserveUnknownType(t *testing.T) {
	db := setupTestDB(t)
	seedType(t, db, "event1", "VIP", 10, 0)

	err := inventory.Reserve(context.Background(), db, "event1", "Regular", 1)
	assert.ErrorIs(t, err, apperr.ErrInvalidTicketType)
}

func TestLastUnitGoesToExactlyOneReservation(t *testing.T) {
	db := setupTestDB(t)
	seedType(t, db, "event1", "VIP", 1, 0)

	first := inventory.Reserve(context.Background(), db, "event1", "VIP", 1)
	second := inventory.Reserve(context.Background(), db, "event1", "VIP", 1)

	require.NoError(t, first)
	assert.ErrorIs(t, second, apperr.ErrSoldOut)
	assert.Equal(t, 1, soldCount(t, db, "event1", "VIP"))
}

func TestRepeatedReservesNeverExceedCapacity(t *testing.T) {
	db := setupTestDB(t)
	seedType(t, db, "event1", "GA", 25, 0)

	granted := 0
	for i := 0; i < 40; i++ {
		if err := inventory.Reserve(context.Background(), db, "event1", "GA", 1); err == nil {
			granted++
		}
	}

	assert.Equal(t, 25, granted)
	assert.Equal(t, 25, soldCount(t, db, "event1", "GA"))
}

func TestReleaseRestoresAvailability(t *testing.T) {
	db := setupTestDB(t)
	seedType(t, db, "event1", "VIP", 10, 5)

	err := inventory.Release(context.Background(), db, "event1", "VIP", 2)
	require.NoError(t, err)
	assert.Equal(t, 3, soldCount(t, db, "event1", "VIP"))
}

func TestReleaseNeverGoesNegative(t *testing.T) {
	db := setupTestDB(t)
	seedType(t, db, "event1", "VIP", 10, 1)

	// Releasing more than was sold is a no-op, not a negative counter.
	err := inventory.Release(context.Background(), db, "event1", "VIP", 5)
	require.NoError(t, err)
	assert.Equal(t, 1, soldCount(t, db, "event1", "VIP"))
}
