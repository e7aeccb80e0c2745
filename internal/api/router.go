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

	"github.com/hackgods/clinic-slot-booking/internal/appointment"
	"github.com/hackgods/clinic-slot-booking/internal/directory"
	"github.com/hackgods/clinic-slot-booking/internal/identity"
	"github.com/hackgods/clinic-slot-booking/internal/reservation"
	"github.com/hackgods/clinic-slot-booking/internal/schedule"
)

type RouterConfig struct {
	Schedules schedule.Store
	Holds     *reservation.Manager
	Bookings  *appointment.Service
	Directory *directory.Directory
	Verifier  *identity.Verifier // nil trusts X-User-ID / X-User-Role
	PgPool    *pgxpool.Pool      // optional, readiness only
	Redis     *redis.Client      // optional, readiness only
	Log       *zap.Logger
	Env       string
	Version   string

	CORSAllowedOrigins []string
	RateLimitPerSecond int // zero disables rate limiting
}

func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	v := newRequestValidator()

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", headerUserID, headerUserRole},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if cfg.RateLimitPerSecond > 0 {
		r.Use(httprate.LimitByIP(cfg.RateLimitPerSecond, time.Second))
	}
	r.Use(IdentityMiddleware(cfg.Verifier))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	doctorOnly := RequireRole(identity.RoleDoctor, identity.RoleAdmin)

	r.Route("/schedules", func(r chi.Router) {
		r.Get("/available", availableSchedulesHandler(cfg.Directory, log))
		r.Get("/doctor/{doctorId}", doctorSchedulesHandler(cfg.Directory, log))
		r.Get("/{scheduleId}", getScheduleHandler(cfg.Directory, log))

		r.Group(func(r chi.Router) {
			r.Use(doctorOnly)
			r.Post("/", createScheduleHandler(cfg.Schedules, v, log))
			r.Post("/{scheduleId}/slots", addSlotHandler(cfg.Schedules, v, log))
			r.Patch("/{scheduleId}/slots/{slotId}", toggleSlotHandler(cfg.Schedules, log))
			r.Put("/{scheduleId}/slots/{slotId}", editSlotHandler(cfg.Schedules, v, log))
			r.Delete("/{scheduleId}/slots/{slotId}", deleteSlotHandler(cfg.Schedules, log))
		})
	})

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", finalizeHandler(cfg.Bookings, v, log))

		r.Post("/reserve/{scheduleId}/{slotId}", reserveHandler(cfg.Holds, v, log))
		r.Get("/reserve/{scheduleId}/{slotId}", getReservationHandler(cfg.Holds, log))
		r.Delete("/reserve/{scheduleId}/{slotId}", cancelReservationHandler(cfg.Holds, log))

		r.Get("/doctor/{doctorId}", doctorAppointmentsHandler(cfg.Directory, log))
		r.Get("/patient/{patientId}", patientAppointmentsHandler(cfg.Directory, log))
		r.Get("/{id}", getAppointmentHandler(cfg.Directory, log))

		r.Patch("/{id}/cancel", cancelAppointmentHandler(cfg.Bookings, log))
		r.Patch("/{id}/reschedule", rescheduleHandler(cfg.Bookings, v, log))

		r.Group(func(r chi.Router) {
			r.Use(doctorOnly)
			r.Post("/{id}/approve", approveHandler(cfg.Bookings, log))
			r.Post("/{id}/reject", rejectHandler(cfg.Bookings, log))
			r.Post("/{id}/complete", completeHandler(cfg.Bookings, log))
		})
	})

	return r
}
