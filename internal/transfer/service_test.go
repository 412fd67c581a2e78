package transfer_test

import (
	"context"
	"database/sql"
	"regexp"
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
	"github.com/Lynt445/ticket-system/internal/kafka"
	"github.com/Lynt445/ticket-system/internal/models"
	"github.com/Lynt445/ticket-system/internal/qr"
	"github.com/Lynt445/ticket-system/internal/ticketlock"
	"github.com/Lynt445/ticket-system/internal/transfer"
	transferdb "github.com/Lynt445/ticket-system/internal/transfer/db"
)

type fakePublisher struct {
	transferred   []string
	notifications []kafka.Notification
}

func (p *fakePublisher) PublishTicketTransferred(t models.Ticket) error {
	p.transferred = append(p.transferred, t.ID)
	return nil
}

func (p *fakePublisher) PublishNotification(n kafka.Notification) error {
	p.notifications = append(p.notifications, n)
	return nil
}

var otpPattern = regexp.MustCompile(`\b(\d{6})\b`)

// sentOTP digs the passcode out of the recipient's notification, the only
// place the plaintext ever appears.
func (p *fakePublisher) sentOTP(t *testing.T) string {
	for _, n := range p.notifications {
		if n.Type == "transfer_otp" {
			match := otpPattern.FindStringSubmatch(n.Body)
			require.NotEmpty(t, match, "otp notification without code")
			return match[1]
		}
	}
	t.Fatal("no transfer_otp notification sent")
	return ""
}

type fixture struct {
	bun       *bun.DB
	db        *transferdb.DB
	qr        *qr.Service
	locks     *ticketlock.Redis
	publisher *fakePublisher
	svc       *transfer.Service
}

func setup(t *testing.T) *fixture {
	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:?cache=shared")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	ctx := context.Background()
	require.NoError(t, bunDB.ResetModel(ctx, (*models.Event)(nil)))
	require.NoError(t, bunDB.ResetModel(ctx, (*models.Ticket)(nil)))
	require.NoError(t, bunDB.ResetModel(ctx, (*models.Transfer)(nil)))
	require.NoError(t, bunDB.ResetModel(ctx, (*models.Transaction)(nil)))
	require.NoError(t, bunDB.ResetModel(ctx, (*models.User)(nil)))
	t.Cleanup(func() { bunDB.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	db := &transferdb.DB{Bun: bunDB}
	qrSvc := qr.NewService("test-secret", 24*time.Hour)
	locks := ticketlock.NewRedis(client, 10*time.Second)
	publisher := &fakePublisher{}
	svc := transfer.NewService(db, qrSvc, locks, publisher, nil)

	return &fixture{bun: bunDB, db: db, qr: qrSvc, locks: locks, publisher: publisher, svc: svc}
}

func seed(t *testing.T, f *fixture, allowTransfers bool, maxTransfers int, fee float64) *models.Ticket {
	ctx := context.Background()

	event := models.Event{
		ID:             "event1",
		OrganizerID:    "organizer1",
		Title:          "Summer Fest",
		Date:           time.Now().AddDate(0, 1, 0),
		Status:         models.EventPublished,
		AllowTransfers: allowTransfers,
		MaxTransfers:   maxTransfers,
		TransferFee:    fee,
		CreatedAt:      time.Now(),
	}
	_, err := f.bun.NewInsert().Model(&event).Exec(ctx)
	require.NoError(t, err)

	users := []models.User{
		{ID: "alice", Email: "alice@example.com", Name: "Alice", Role: "user", CreatedAt: time.Now()},
		{ID: "bob", Email: "bob@example.com", Name: "Bob", Role: "user", CreatedAt: time.Now()},
	}
	_, err = f.bun.NewInsert().Model(&users).Exec(ctx)
	require.NoError(t, err)

	ticket := &models.Ticket{
		ID:             uuid.NewString(),
		ReservationID:  uuid.NewString(),
		EventID:        "event1",
		UserID:         "alice",
		OriginalUserID: "alice",
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

func TestInitiateParksTicket(t *testing.T) {
	f := setup(t)
	ticket := seed(t, f, true, 3, 0)

	result, err := f.svc.Initiate(context.Background(), "alice", ticket.ID, "bob@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, result.TransferID)

	stored, err := f.db.TicketByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketTransferred, stored.Status)

	pending, err := f.db.TransferByID(context.Background(), result.TransferID)
	require.NoError(t, err)
	assert.Equal(t, models.TransferPending, pending.Status)
	assert.Equal(t, "alice", pending.FromUserID)
	assert.Equal(t, "bob", pending.ToUserID)
	assert.NotEmpty(t, pending.OTPHash)

	// OTP reaches the recipient, never the response.
	otp := f.publisher.sentOTP(t)
	assert.Len(t, otp, 6)
}

func TestInitiatePolicyChecks(t *testing.T) {
	t.Run("not owner", func(t *testing.T) {
		f := setup(t)
		ticket := seed(t, f, true, 3, 0)
		_, err := f.svc.Initiate(context.Background(), "bob", ticket.ID, "alice@example.com")
		assert.ErrorIs(t, err, apperr.ErrNotOwner)
	})

	t.Run("transfers disallowed", func(t *testing.T) {
		f := setup(t)
		ticket := seed(t, f, false, 3, 0)
		_, err := f.svc.Initiate(context.Background(), "alice", ticket.ID, "bob@example.com")
		assert.ErrorIs(t, err, apperr.ErrTransfersDisallowed)
	})

	t.Run("transfer limit reached", func(t *testing.T) {
		f := setup(t)
		ticket := seed(t, f, true, 1, 0)
		_, err := f.bun.NewUpdate().
			Model((*models.Ticket)(nil)).
			Set("transfer_count = ?", 1).
			Where("id = ?", ticket.ID).
			Exec(context.Background())
		require.NoError(t, err)

		_, err = f.svc.Initiate(context.Background(), "alice", ticket.ID, "bob@example.com")
		assert.ErrorIs(t, err, apperr.ErrTransferLimit)
	})

	t.Run("unknown recipient", func(t *testing.T) {
		f := setup(t)
		ticket := seed(t, f, true, 3, 0)
		_, err := f.svc.Initiate(context.Background(), "alice", ticket.ID, "nobody@example.com")
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("ticket not active", func(t *testing.T) {
		f := setup(t)
		ticket := seed(t, f, true, 3, 0)
		_, err := f.bun.NewUpdate().
			Model((*models.Ticket)(nil)).
			Set("status = ?", models.TicketUsed).
			Where("id = ?", ticket.ID).
			Exec(context.Background())
		require.NoError(t, err)

		_, err = f.svc.Initiate(context.Background(), "alice", ticket.ID, "bob@example.com")
		assert.ErrorIs(t, err, apperr.ErrTicketNotActive)
	})
}

func TestCompleteReassignsExactlyOnce(t *testing.T) {
	f := setup(t)
	ticket := seed(t, f, true, 3, 0)

	result, err := f.svc.Initiate(context.Background(), "alice", ticket.ID, "bob@example.com")
	require.NoError(t, err)
	otp := f.publisher.sentOTP(t)

	completed, err := f.svc.Complete(context.Background(), result.TransferID, otp)
	require.NoError(t, err)
	assert.NotEmpty(t, completed.Token)

	stored, err := f.db.TicketByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, "bob", stored.UserID)
	assert.Equal(t, "alice", stored.OriginalUserID)
	assert.Equal(t, models.TicketActive, stored.Status)
	assert.Equal(t, 2, stored.QRVersion)
	assert.Equal(t, 1, stored.TransferCount)
	assert.True(t, stored.ScannedAt.IsZero())
	assert.Equal(t, completed.Token, stored.QRCode)

	record, err := f.db.TransferByID(context.Background(), result.TransferID)
	require.NoError(t, err)
	assert.Equal(t, models.TransferCompleted, record.Status)
	assert.True(t, record.OTPVerified)

	// Replaying complete must not reassign again.
	_, err = f.svc.Complete(context.Background(), result.TransferID, otp)
	assert.ErrorIs(t, err, apperr.ErrTransferNotPending)

	stored, err = f.db.TicketByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.QRVersion)
	assert.Equal(t, 1, stored.TransferCount)
}

func TestCompleteWrongOTP(t *testing.T) {
	f := setup(t)
	ticket := seed(t, f, true, 3, 0)

	result, err := f.svc.Initiate(context.Background(), "alice", ticket.ID, "bob@example.com")
	require.NoError(t, err)
	otp := f.publisher.sentOTP(t)

	for i := 0; i < 3; i++ {
		_, err = f.svc.Complete(context.Background(), result.TransferID, "000000")
		assert.ErrorIs(t, err, apperr.ErrOTPInvalid)
	}

	// Wrong attempts consume nothing; the right code still works.
	_, err = f.svc.Complete(context.Background(), result.TransferID, otp)
	require.NoError(t, err)
}

func TestOldTokenDeadAfterTransfer(t *testing.T) {
	f := setup(t)
	ticket := seed(t, f, true, 3, 0)
	oldToken := ticket.QRCode

	result, err := f.svc.Initiate(context.Background(), "alice", ticket.ID, "bob@example.com")
	require.NoError(t, err)
	_, err = f.svc.Complete(context.Background(), result.TransferID, f.publisher.sentOTP(t))
	require.NoError(t, err)

	stored, err := f.db.TicketByID(context.Background(), ticket.ID)
	require.NoError(t, err)

	_, err = f.qr.Validate(oldToken, stored.QRVersion)
	assert.ErrorIs(t, err, qr.ErrVersionMismatch)

	_, err = f.qr.Validate(stored.QRCode, stored.QRVersion)
	assert.NoError(t, err)
}

func TestCompleteBooksTransferFee(t *testing.T) {
	f := setup(t)
	ticket := seed(t, f, true, 3, 50)

	result, err := f.svc.Initiate(context.Background(), "alice", ticket.ID, "bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, 50.0, result.Fee)

	_, err = f.svc.Complete(context.Background(), result.TransferID, f.publisher.sentOTP(t))
	require.NoError(t, err)

	var fee models.Transaction
	err = f.bun.NewSelect().
		Model(&fee).
		Where("type = ?", models.TransactionTransferFee).
		Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 50.0, fee.Amount)
	assert.Equal(t, "bob", fee.UserID)
	assert.Equal(t, models.TransactionCompleted, fee.Status)
}

func TestCancelRestoresTicket(t *testing.T) {
	f := setup(t)
	ticket := seed(t, f, true, 3, 0)

	result, err := f.svc.Initiate(context.Background(), "alice", ticket.ID, "bob@example.com")
	require.NoError(t, err)

	require.NoError(t, f.svc.Cancel(context.Background(), result.TransferID, "alice"))

	stored, err := f.db.TicketByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketActive, stored.Status)
	assert.Equal(t, "alice", stored.UserID)
	assert.Equal(t, 1, stored.QRVersion)

	record, err := f.db.TransferByID(context.Background(), result.TransferID)
	require.NoError(t, err)
	assert.Equal(t, models.TransferCancelled, record.Status)

	// A cancelled transfer cannot be completed afterwards.
	_, err = f.svc.Complete(context.Background(), result.TransferID, f.publisher.sentOTP(t))
	assert.ErrorIs(t, err, apperr.ErrTransferNotPending)
}

func TestCancelOnlyByInitiator(t *testing.T) {
	f := setup(t)
	ticket := seed(t, f, true, 3, 0)

	result, err := f.svc.Initiate(context.Background(), "alice", ticket.ID, "bob@example.com")
	require.NoError(t, err)

	err = f.svc.Cancel(context.Background(), result.TransferID, "bob")
	assert.ErrorIs(t, err, apperr.ErrNotOwner)
}
