// Command migrate is the schema and development-data tool. Plain invocation
// applies pending SQL migrations; -reset drops and recreates every table
// first; -seed loads a small demo data set afterwards.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/uptrace/bun"

	"github.com/Lynt445/ticket-system/internal/config"
	"github.com/Lynt445/ticket-system/internal/database"
	"github.com/Lynt445/ticket-system/internal/logger"
	"github.com/Lynt445/ticket-system/internal/models"
	"github.com/Lynt445/ticket-system/internal/payment/mpesa"
)

func main() {
	reset := flag.Bool("reset", false, "drop and recreate all tables before migrating")
	seed := flag.Bool("seed", false, "insert demo users, an event and ticket types")
	dir := flag.String("dir", "migrations", "directory holding the SQL migrations")
	flag.Parse()

	log := logger.NewLogger()
	defer log.Close()

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	}
	cfg := config.Load()

	db, err := database.Connect(cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	defer db.Close()
	ctx := context.Background()

	if *reset {
		log.Info("MIGRATE", "dropping all tables")
		if err := dropAll(ctx, db); err != nil {
			log.Fatal("MIGRATE", fmt.Sprintf("drop failed: %v", err))
		}
	}

	if err := database.Migrate(db, *dir, log); err != nil {
		log.Fatal("MIGRATE", err.Error())
	}

	if *seed {
		log.Info("MIGRATE", "seeding demo data")
		if err := seedData(ctx, db, cfg); err != nil {
			log.Fatal("MIGRATE", fmt.Sprintf("seed failed: %v", err))
		}
	}

	log.Info("MIGRATE", "done")
}

func dropAll(ctx context.Context, db *bun.DB) error {
	// Reverse dependency order so the foreign keys do not object. The
	// migrations bookkeeping table goes too, forcing a clean re-apply.
	tables := []interface{}{
		(*models.Scan)(nil),
		(*models.MarketplaceListing)(nil),
		(*models.Transfer)(nil),
		(*models.Transaction)(nil),
		(*models.Ticket)(nil),
		(*models.TicketType)(nil),
		(*models.Event)(nil),
		(*models.User)(nil),
	}
	for _, m := range tables {
		if _, err := db.NewDropTable().Model(m).IfExists().Cascade().Exec(ctx); err != nil {
			return err
		}
	}
	_, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS schema_migrations")
	return err
}

func seedData(ctx context.Context, db *bun.DB, cfg *config.Config) error {
	users := []models.User{
		{ID: "user-admin", Email: "admin@example.com", Name: "Admin", Role: "admin", CreatedAt: time.Now()},
		{ID: "user-organizer", Email: "organizer@example.com", Name: "Olive Organizer", Role: "organizer", CreatedAt: time.Now()},
		{ID: "user-scanner", Email: "scanner@example.com", Name: "Gate One", Role: "scanner", CreatedAt: time.Now()},
		{ID: "user-alice", Email: "alice@example.com", Name: "Alice", Phone: "254712345678", Role: "user", CreatedAt: time.Now()},
		{ID: "user-bob", Email: "bob@example.com", Name: "Bob", Phone: "254798765432", Role: "user", CreatedAt: time.Now()},
	}
	if _, err := db.NewInsert().Model(&users).On("CONFLICT (id) DO NOTHING").Exec(ctx); err != nil {
		return err
	}

	event := models.Event{
		ID:             "event-demo",
		OrganizerID:    "user-organizer",
		Title:          "Nairobi Jazz Night",
		Description:    "An evening of live jazz.",
		Venue:          "Uhuru Gardens",
		Date:           time.Now().AddDate(0, 1, 0),
		Status:         models.EventPublished,
		AllowTransfers: true,
		AllowResale:    true,
		MaxTransfers:   3,
		TransferFee:    50,
		CreatedAt:      time.Now(),
	}
	if creds := gatewayCredsFromEnv(); creds != nil {
		encrypted, err := mpesa.NewClient(cfg.Gateway).EncryptCredentials(*creds)
		if err != nil {
			return fmt.Errorf("encrypt gateway credentials: %w", err)
		}
		event.GatewayConfig = encrypted
	}
	if _, err := db.NewInsert().Model(&event).On("CONFLICT (id) DO NOTHING").Exec(ctx); err != nil {
		return err
	}

	types := []models.TicketType{
		{ID: "event-demo-VIP", EventID: event.ID, Name: "VIP", Price: 5000, Capacity: 100},
		{ID: "event-demo-Regular", EventID: event.ID, Name: "Regular", Price: 1500, Capacity: 900},
	}
	_, err := db.NewInsert().Model(&types).On("CONFLICT (id) DO NOTHING").Exec(ctx)
	return err
}

// gatewayCredsFromEnv reads sandbox Daraja credentials if they are present,
// so the demo event can actually take payments.
func gatewayCredsFromEnv() *mpesa.Credentials {
	creds := mpesa.Credentials{
		ConsumerKey:    os.Getenv("MPESA_CONSUMER_KEY"),
		ConsumerSecret: os.Getenv("MPESA_CONSUMER_SECRET"),
		ShortCode:      os.Getenv("MPESA_SHORT_CODE"),
		Passkey:        os.Getenv("MPESA_PASSKEY"),
	}
	if creds.ConsumerKey == "" || creds.ConsumerSecret == "" || creds.ShortCode == "" || creds.Passkey == "" {
		return nil
	}
	return &creds
}
