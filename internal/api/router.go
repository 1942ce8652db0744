package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/homedoc/consult-dispatch/internal/consultation"
	"github.com/homedoc/consult-dispatch/internal/metrics"
)

type RouterConfig struct {
	Service   *consultation.Service
	PgPool    *pgxpool.Pool
	Redis     *redis.Client
	Logger    *zap.Logger
	Collector *metrics.Collector
	Env       string
	Version   string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(MetricsMiddleware(cfg.Collector))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	if cfg.Collector != nil {
		r.Handle("/metrics", metrics.Handler())
	}

	// Patient-side consultation endpoints
	r.Post("/consultations", createConsultationHandler(cfg.Service))
	r.Get("/consultations", listConsultationsHandler(cfg.Service))
	r.Get("/consultations/{id}", getConsultationHandler(cfg.Service))
	r.Post("/consultations/{id}/cancel", cancelConsultationHandler(cfg.Service))

	// Doctor-side lifecycle endpoints
	r.Post("/consultations/{id}/accept", acceptConsultationHandler(cfg.Service))
	r.Post("/consultations/{id}/decline", declineConsultationHandler(cfg.Service))
	r.Post("/consultations/{id}/start", startConsultationHandler(cfg.Service))
	r.Post("/consultations/{id}/complete", completeConsultationHandler(cfg.Service))

	// Doctor presence endpoints
	r.Put("/doctors/{id}/location", updateDoctorLocationHandler(cfg.Service))
	r.Put("/doctors/{id}/availability", updateDoctorAvailabilityHandler(cfg.Service))

	return r
}
