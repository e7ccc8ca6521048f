package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/medibook/booking-platform/internal/api"
	"github.com/medibook/booking-platform/internal/booking"
	"github.com/medibook/booking-platform/internal/config"
	"github.com/medibook/booking-platform/internal/db"
	"github.com/medibook/booking-platform/internal/logger"
	"github.com/medibook/booking-platform/internal/notify"
	"github.com/medibook/booking-platform/internal/payment"
	redisclient "github.com/medibook/booking-platform/internal/redis"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	zlog, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	zlog.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("version", version),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		zlog.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	zlog.Info("connected to Postgres")

	// Connect Redis
	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		zlog.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			zlog.Error("error closing redis", zap.Error(err))
		}
	}()
	zlog.Info("connected to Redis")

	// Connect RabbitMQ for reminder publishing
	amqpConn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		zlog.Fatal("rabbitmq connection error", zap.Error(err))
	}
	defer func() {
		if err := amqpConn.Close(); err != nil {
			zlog.Error("error closing rabbitmq", zap.Error(err))
		}
	}()
	zlog.Info("connected to RabbitMQ")

	notifier, err := notify.NewAMQPNotifier(amqpConn, cfg.ReminderQueue, zlog)
	if err != nil {
		zlog.Fatal("notifier init error", zap.Error(err))
	}

	repo := booking.NewPgRepository(pgPool)
	locker := redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
	bookingSvc := booking.NewService(repo, locker, notifier, zlog, cfg.ReminderLead)

	gateway := payment.NewStripeGateway(cfg.Gateway)
	deduper := redisclient.NewRedisEventDeduper(rdb, payment.EventRetention)
	orchestrator := payment.NewOrchestrator(gateway, bookingSvc, deduper, cfg.Gateway.WebhookSecret, cfg.Gateway.Currency, zlog)

	router := api.NewRouter(api.RouterConfig{
		Booking:        bookingSvc,
		Payments:       orchestrator,
		PgPool:         pgPool,
		Redis:          rdb,
		Log:            zlog,
		JWTSecret:      cfg.JWTSecret,
		AllowedOrigins: cfg.AllowedOrigins,
		Env:            cfg.Env,
		Version:        version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zlog.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		zlog.Fatal("http server error", zap.Error(err))
	case <-rootCtx.Done():
	}

	zlog.Info("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error("graceful shutdown failed", zap.Error(err))
	}
}
