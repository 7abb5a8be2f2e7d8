package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/klinikgigi/queue-engine/internal/appointment"
	"github.com/klinikgigi/queue-engine/internal/frontdesk"
	"github.com/klinikgigi/queue-engine/internal/metrics"
	"github.com/klinikgigi/queue-engine/pkg/logging"
)

type RouterConfig struct {
	Service *frontdesk.Service
	Checks  []DependencyCheck
	Logger  *logging.Logger
	Metrics *metrics.QueueMetrics
	// Gatherer backs /metrics; nil means the default registry.
	Gatherer prometheus.Gatherer

	StaffJWTSecret         string
	LateThresholdMinutes   int
	NoShowThresholdMinutes int

	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	h := &handlers{
		svc:             cfg.Service,
		logger:          cfg.Logger,
		lateThreshold:   cfg.LateThresholdMinutes,
		noShowThreshold: cfg.NoShowThresholdMinutes,
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger, cfg.Metrics))

	health := NewHealthHandler(cfg.Checks, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))

	// Patient facing
	r.Post("/bookings", h.book(appointment.SourcePublic))
	r.Get("/track/{visitCode}", h.track)

	// Staff
	r.Group(func(r chi.Router) {
		r.Use(StaffJWT(cfg.StaffJWTSecret))
		r.Use(RequireRole(RoleAdmin, RoleReceptionist, RoleDentist))

		r.Post("/appointments", h.book(appointment.SourceStaff))
		r.Post("/appointments/walk-in", h.walkIn)
		r.Post("/appointments/{id}/check-in", h.checkIn)
		r.Post("/appointments/{id}/transition", h.transition)
		r.Post("/appointments/{id}/cancel", h.cancel)

		r.Get("/clinics/{clinic}/queue", h.queueBoard)
		r.Get("/clinics/{clinic}/queue/stats", h.queueStats)
		r.Post("/clinics/{clinic}/queue/next", h.assignNext)
		r.Post("/queue/{id}/status", h.updateQueueStatus)

		r.Group(func(r chi.Router) {
			r.Use(RequireRole(RoleAdmin))
			r.Put("/clinics/{clinic}/queue/paused", h.setPaused)
			r.Post("/sweeps/late", h.sweepLate)
			r.Post("/sweeps/no-show", h.sweepNoShow)
		})
	})

	return r
}
