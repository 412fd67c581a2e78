package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	QR          QRConfig
	Reservation ReservationConfig
	Marketplace MarketplaceConfig
	Gateway     GatewayConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

type RedisConfig struct {
	Addr string
	// TicketLockTTL bounds how long a ticket mutation may hold its lock.
	TicketLockTTL time.Duration
}

type KafkaConfig struct {
	Brokers []string
	Enabled bool
}

type QRConfig struct {
	SecretKey string
	// MaxAge bounds the exposure of a leaked token image. It is not ticket
	// validity: a fresh token is re-issued on demand for an active ticket.
	MaxAge time.Duration
}

type ReservationConfig struct {
	HoldDuration   time.Duration
	MaxPerRequest  int
	ReaperInterval time.Duration
}

type MarketplaceConfig struct {
	// CommissionRate is the platform's cut of a resale settlement.
	CommissionRate float64
	// PriceCapMultiple bounds listing price relative to the original price.
	PriceCapMultiple float64
}

type GatewayConfig struct {
	BaseURL     string
	CallbackURL string
	Timeout     time.Duration
	// ConfigKey decrypts the per-event gateway credentials stored on Event.
	ConfigKey string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8084"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			DSN:          getEnv("POSTGRES_DSN", ""),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  time.Duration(getEnvInt("DB_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
		},
		Redis: RedisConfig{
			Addr:          getEnv("REDIS_ADDR", "localhost:6379"),
			TicketLockTTL: time.Duration(getEnvInt("TICKET_LOCK_TTL_SECONDS", 10)) * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers: []string{getEnv("KAFKA_ADDR", "localhost:9092")},
			Enabled: getEnvBool("KAFKA_ENABLED", true),
		},
		QR: QRConfig{
			SecretKey: getEnv("QR_SECRET_KEY", ""),
			MaxAge:    time.Duration(getEnvInt("QR_MAX_AGE_HOURS", 24)) * time.Hour,
		},
		Reservation: ReservationConfig{
			HoldDuration:   time.Duration(getEnvInt("RESERVATION_HOLD_MINUTES", 10)) * time.Minute,
			MaxPerRequest:  getEnvInt("RESERVATION_MAX_PER_REQUEST", 10),
			ReaperInterval: time.Duration(getEnvInt("REAPER_INTERVAL_SECONDS", 60)) * time.Second,
		},
		Marketplace: MarketplaceConfig{
			CommissionRate:   0.05,
			PriceCapMultiple: 2.0,
		},
		Gateway: GatewayConfig{
			BaseURL:     getEnv("MPESA_BASE_URL", "https://sandbox.safaricom.co.ke"),
			CallbackURL: getEnv("MPESA_CALLBACK_URL", ""),
			Timeout:     30 * time.Second,
			ConfigKey:   getEnv("MPESA_CONFIG_KEY", ""),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
