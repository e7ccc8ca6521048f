package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RouterConfig struct {
	Booking        BookingService
	Payments       PaymentService
	PgPool         *pgxpool.Pool
	Redis          *redis.Client
	Log            *zap.Logger
	JWTSecret      string
	AllowedOrigins []string
	Env            string
	Version        string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(httprate.LimitByIP(300, time.Minute))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Public: slot discovery and the gateway webhook (verified by signature,
	// not by bearer token).
	r.Get("/practitioners/{id}/availability", availabilityHandler(cfg.Booking))
	r.Post("/payments/webhook", webhookHandler(cfg.Payments))

	// Authenticated surface
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.JWTSecret))

		r.With(httprate.LimitByIP(30, time.Minute)).Post("/appointments", createAppointmentHandler(cfg.Booking))
		r.Get("/appointments", listAppointmentsHandler(cfg.Booking))
		r.Get("/appointments/{id}", getAppointmentHandler(cfg.Booking))
		r.Put("/appointments/{id}/status", updateStatusHandler(cfg.Booking))
		r.Post("/appointments/{id}/rating", submitRatingHandler(cfg.Booking))

		r.Post("/payments/intent", createIntentHandler(cfg.Payments))
		r.Post("/payments/confirm", confirmPaymentHandler(cfg.Payments))
	})

	return r
}
