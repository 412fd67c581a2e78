// Package database owns the PostgreSQL connection and schema migrations.
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/Lynt445/ticket-system/internal/config"
	"github.com/Lynt445/ticket-system/internal/logger"
)

const connectRetries = 5

// Connect opens PostgreSQL and verifies it with a bounded retry loop, so a
// container that comes up before its database does not crash-loop.
func Connect(cfg config.DatabaseConfig, log *logger.Logger) (*bun.DB, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database DSN not configured")
	}

	var (
		sqldb *sql.DB
		err   error
	)
	for i := 0; i < connectRetries; i++ {
		log.Info("DATABASE", fmt.Sprintf("connecting to PostgreSQL (attempt %d/%d)", i+1, connectRetries))
		sqldb, err = sql.Open("postgres", cfg.DSN)
		if err == nil {
			err = sqldb.Ping()
		}
		if err == nil {
			break
		}
		log.Error("DATABASE", fmt.Sprintf("PostgreSQL not ready: %v", err))
		if i < connectRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect to PostgreSQL after %d attempts: %w", connectRetries, err)
	}

	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.MaxLifetime)

	log.Info("DATABASE", "PostgreSQL connection established")
	return bun.NewDB(sqldb, pgdialect.New()), nil
}

// Migrate applies any pending schema migrations from dir. A schema already
// at the latest version is not an error.
func Migrate(db *bun.DB, dir string, log *logger.Logger) error {
	driver, err := migratepg.WithInstance(db.DB, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	if err != nil {
		return fmt.Errorf("open migrations at %s: %w", dir, err)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info("DATABASE", "schema already up to date")
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("read migration version: %w", err)
	}
	log.Info("DATABASE", fmt.Sprintf("schema migrated to version %d (dirty=%v)", version, dirty))
	return nil
}
