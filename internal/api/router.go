package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/caresched/appointment-engine/internal/scheduling"
)

type RouterConfig struct {
	Service *scheduling.Service
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Post("/appointments", bookAppointmentHandler(cfg.Service))
	r.Get("/appointments/{id}", getAppointmentHandler(cfg.Service))
	r.Get("/appointments/{id}/log", appointmentLogHandler(cfg.Service))
	r.Post("/appointments/{id}/transition", transitionHandler(cfg.Service))

	r.Get("/doctors/{id}/slots", doctorSlotsHandler(cfg.Service))
	r.Get("/doctors/{id}/schedule", doctorScheduleHandler(cfg.Service))
	r.Get("/doctors/{id}/availability", listAvailabilityHandler(cfg.Service))
	r.Post("/doctors/{id}/availability", addAvailabilityHandler(cfg.Service))
	r.Put("/doctors/{id}/availability/{windowID}", updateAvailabilityHandler(cfg.Service))

	r.Get("/patients/{id}/appointments", patientAppointmentsHandler(cfg.Service))

	return r
}
