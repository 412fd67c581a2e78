package reservation_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lynt445/ticket-system/internal/models"
	"github.com/Lynt445/ticket-system/internal/reservation"
	resdb "github.com/Lynt445/ticket-system/internal/reservation/db"
)

func backdateHold(t *testing.T, d *resdb.DB, reservationID string, until time.Time) {
	_, err := d.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("reserved_until = ?", until).
		Where("reservation_id = ?", reservationID).
		Exec(context.Background())
	require.NoError(t, err)
}

func soldCount(t *testing.T, d *resdb.DB) int {
	var tt models.TicketType
	err := d.Bun.NewSelect().Model(&tt).Where("event_id = ?", "event1").Scan(context.Background())
	require.NoError(t, err)
	return tt.Sold
}

func TestReaperReclaimsExpiredHold(t *testing.T) {
	d := setupTestDB(t)
	seedEvent(t, d, models.EventPublished, 10)
	svc := newService(d)

	res, err := svc.Reserve(context.Background(), "user1", "event1", "VIP", 2)
	require.NoError(t, err)
	require.Equal(t, 2, soldCount(t, d))

	backdateHold(t, d, res.ReservationID, time.Now().Add(-11*time.Minute))

	reaper := reservation.NewReaper(d, nil, time.Minute)
	reclaimed, err := reaper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, reclaimed)
	assert.Equal(t, 0, soldCount(t, d))

	tickets, err := d.TicketsByReservation(context.Background(), res.ReservationID)
	require.NoError(t, err)
	for _, ticket := range tickets {
		assert.Equal(t, models.TicketExpired, ticket.Status)
	}
}

func TestReaperSecondPassIsNoOp(t *testing.T) {
	d := setupTestDB(t)
	seedEvent(t, d, models.EventPublished, 10)
	svc := newService(d)

	res, err := svc.Reserve(context.Background(), "user1", "event1", "VIP", 1)
	require.NoError(t, err)
	backdateHold(t, d, res.ReservationID, time.Now().Add(-time.Hour))

	reaper := reservation.NewReaper(d, nil, time.Minute)

	reclaimed, err := reaper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)

	reclaimed, err = reaper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, reclaimed)
	assert.Equal(t, 0, soldCount(t, d))
}

func TestReaperIgnoresActivatedTickets(t *testing.T) {
	d := setupTestDB(t)
	seedEvent(t, d, models.EventPublished, 10)
	svc := newService(d)

	res, err := svc.Reserve(context.Background(), "user1", "event1", "VIP", 1)
	require.NoError(t, err)
	backdateHold(t, d, res.ReservationID, time.Now().Add(-time.Hour))

	// Payment landed after the hold lapsed but before the sweep.
	_, err = d.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("status = ?", models.TicketActive).
		Where("reservation_id = ?", res.ReservationID).
		Exec(context.Background())
	require.NoError(t, err)

	reaper := reservation.NewReaper(d, nil, time.Minute)
	reclaimed, err := reaper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, reclaimed)
	assert.Equal(t, 1, soldCount(t, d))
}

func TestExpireHoldRacesConditionalUpdate(t *testing.T) {
	d := setupTestDB(t)
	seedEvent(t, d, models.EventPublished, 10)
	svc := newService(d)

	res, err := svc.Reserve(context.Background(), "user1", "event1", "VIP", 1)
	require.NoError(t, err)
	backdateHold(t, d, res.ReservationID, time.Now().Add(-time.Hour))

	tickets, err := d.TicketsByReservation(context.Background(), res.ReservationID)
	require.NoError(t, err)
	require.Len(t, tickets, 1)

	// Two sweepers hand the same stale snapshot to ExpireHold; only the
	// first conditional update wins and only one seat is released.
	ok, err := d.ExpireHold(context.Background(), tickets[0])
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.ExpireHold(context.Background(), tickets[0])
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, soldCount(t, d))
}

func TestReaperRunStopsOnCancel(t *testing.T) {
	d := setupTestDB(t)
	seedEvent(t, d, models.EventPublished, 10)

	reaper := reservation.NewReaper(d, nil, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		reaper.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("reaper did not stop after context cancellation")
	}
}
