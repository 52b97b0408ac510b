package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/medibook/clinic-scheduling/internal/appointment"
	"github.com/medibook/clinic-scheduling/internal/availability"
)

type RouterConfig struct {
	Appointments *appointment.Service
	Availability *availability.Service
	PgPool       *pgxpool.Pool
	Redis        *redis.Client
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)

	// Health and metrics endpoints sit outside the actor requirement.
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Doctor availability
	r.Get("/doctors/{id}/availability", getAvailabilityHandler(cfg.Availability))
	r.Get("/doctors/{id}/bookable-dates", bookableDatesHandler(cfg.Availability))

	r.Group(func(r chi.Router) {
		r.Use(ActorMiddleware)

		r.Put("/doctors/{id}/availability", setAvailabilityHandler(cfg.Availability))
		r.Put("/doctors/{id}/availability/open", setOpenHandler(cfg.Availability))
		r.Post("/doctors/{id}/leaves", addLeaveHandler(cfg.Availability))
		r.Delete("/doctors/{id}/leaves/{date}", removeLeaveHandler(cfg.Availability))

		// Appointment lifecycle
		r.Post("/appointments", bookAppointmentHandler(cfg.Appointments))
		r.Get("/appointments", listAppointmentsHandler(cfg.Appointments))
		r.Get("/appointments/{id}", getAppointmentHandler(cfg.Appointments))
		r.Post("/appointments/{id}/confirm", confirmAppointmentHandler(cfg.Appointments))
		r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Appointments))
		r.Post("/appointments/{id}/complete", completeAppointmentHandler(cfg.Appointments))
	})

	// Payment provider callback; authenticated upstream by the gateway.
	r.Post("/appointments/{id}/payment", markPaidHandler(cfg.Appointments))

	return r
}
