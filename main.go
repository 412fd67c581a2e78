package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Lynt445/ticket-system/internal/auth"
	"github.com/Lynt445/ticket-system/internal/config"
	"github.com/Lynt445/ticket-system/internal/database"
	"github.com/Lynt445/ticket-system/internal/kafka"
	"github.com/Lynt445/ticket-system/internal/logger"
	"github.com/Lynt445/ticket-system/internal/marketplace"
	marketapi "github.com/Lynt445/ticket-system/internal/marketplace/api"
	marketdb "github.com/Lynt445/ticket-system/internal/marketplace/db"
	"github.com/Lynt445/ticket-system/internal/models"
	"github.com/Lynt445/ticket-system/internal/payment"
	payapi "github.com/Lynt445/ticket-system/internal/payment/api"
	paydb "github.com/Lynt445/ticket-system/internal/payment/db"
	"github.com/Lynt445/ticket-system/internal/payment/mpesa"
	"github.com/Lynt445/ticket-system/internal/qr"
	"github.com/Lynt445/ticket-system/internal/reservation"
	resapi "github.com/Lynt445/ticket-system/internal/reservation/api"
	resdb "github.com/Lynt445/ticket-system/internal/reservation/db"
	"github.com/Lynt445/ticket-system/internal/scan"
	scanapi "github.com/Lynt445/ticket-system/internal/scan/api"
	scandb "github.com/Lynt445/ticket-system/internal/scan/db"
	"github.com/Lynt445/ticket-system/internal/ticketlock"
	"github.com/Lynt445/ticket-system/internal/tickets"
	tixapi "github.com/Lynt445/ticket-system/internal/tickets/api"
	tixdb "github.com/Lynt445/ticket-system/internal/tickets/db"
	"github.com/Lynt445/ticket-system/internal/transfer"
	transferapi "github.com/Lynt445/ticket-system/internal/transfer/api"
	transferdb "github.com/Lynt445/ticket-system/internal/transfer/db"
)

func main() {
	log := logger.NewLogger()
	defer log.Close()

	log.Info("APP", "starting ticket service")

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	}
	cfg := config.Load()

	if cfg.QR.SecretKey == "" {
		log.Fatal("CONFIG", "QR_SECRET_KEY not set")
	}

	bunDB, err := database.Connect(cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	defer bunDB.Close()

	if err := database.Migrate(bunDB, "migrations", log); err != nil {
		log.Fatal("DATABASE", err.Error())
	}

	ctx := context.Background()
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("REDIS", fmt.Sprintf("redis connection error: %v", err))
	}
	defer redisClient.Close()
	log.Info("REDIS", fmt.Sprintf("connected to %s", cfg.Redis.Addr))

	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		producer = kafka.NewProducer(cfg.Kafka.Brokers)
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, kafka.AllTopics()); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("topic creation might have failed: %v", err))
		} else {
			log.Info("KAFKA", "required topics ensured")
		}
	} else {
		log.Warn("KAFKA", "kafka disabled, events will be discarded")
	}

	qrSvc := qr.NewService(cfg.QR.SecretKey, cfg.QR.MaxAge)
	locks := ticketlock.NewRedis(redisClient, cfg.Redis.TicketLockTTL)
	gateway := mpesa.NewClient(cfg.Gateway)

	reservationDB := &resdb.DB{Bun: bunDB}
	reservationSvc := reservation.NewService(reservationDB, log, cfg.Reservation.HoldDuration, cfg.Reservation.MaxPerRequest)
	paymentSvc := payment.NewService(&paydb.DB{Bun: bunDB}, gateway, qrSvc, producer, log)
	scanSvc := scan.NewService(&scandb.DB{Bun: bunDB}, qrSvc, locks, producer, log)
	transferSvc := transfer.NewService(&transferdb.DB{Bun: bunDB}, qrSvc, locks, producer, log)
	marketSvc := marketplace.NewService(&marketdb.DB{Bun: bunDB}, qrSvc, locks, producer, log, cfg.Marketplace)
	ticketSvc := tickets.NewService(&tixdb.DB{Bun: bunDB}, log)

	reservationHandler := resapi.NewHandler(reservationSvc)
	paymentHandler := payapi.NewHandler(paymentSvc, log)
	scanHandler := scanapi.NewHandler(scanSvc)
	transferHandler := transferapi.NewHandler(transferSvc)
	marketHandler := marketapi.NewHandler(marketSvc)
	ticketHandler := tixapi.NewHandler(ticketSvc)

	log.Info("HTTP", "setting up router and middleware")
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	// The gateway calls back without a bearer token; it stays outside the
	// auth group.
	r.Post("/api/payments/callback", paymentHandler.Callback)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware())

		r.Route("/api", func(r chi.Router) {
			r.Mount("/reservations", reservationHandler.Routes())
			r.Mount("/payments", paymentHandler.Routes())
			r.Mount("/tickets", ticketHandler.Routes())
			r.Mount("/transfers", transferHandler.Routes())
			r.Mount("/marketplace", marketHandler.Routes())

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(models.RoleScanner))
				r.Mount("/scan", scanHandler.Routes())
			})

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(models.RoleOrganizer))
				r.Get("/analytics/{eventID}", ticketHandler.Analytics)
				r.Get("/events/{eventID}/tickets", ticketHandler.EventTickets)
			})
		})
	})

	reaperCtx, stopReaper := context.WithCancel(ctx)
	defer stopReaper()
	reaper := reservation.NewReaper(reservationDB, log, cfg.Reservation.ReaperInterval)
	go reaper.Run(reaperCtx)
	log.Info("REAPER", fmt.Sprintf("expiry reaper started, interval %s", cfg.Reservation.ReaperInterval))

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("ticket service listening on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	log.Info("APP", "service started, waiting for shutdown signal")
	<-stop

	log.Info("APP", "shutdown signal received")
	stopReaper()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP", fmt.Sprintf("server shutdown failed: %v", err))
	} else {
		log.Info("HTTP", "shutdown complete")
	}
}
