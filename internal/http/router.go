package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertarktes/venue-bookings/internal/idempotency"
	"github.com/robertarktes/venue-bookings/internal/observability"
	"github.com/robertarktes/venue-bookings/internal/rateLimit"
)

type RouterOptions struct {
	Logger      observability.Logger
	Idempotency *idempotency.Idempotency
	// RateLimiter is optional; public routes are not throttled without it.
	RateLimiter     *rateLimit.RateLimiter
	RateLimit       int
	RateLimitWindow time.Duration
	AdminAuth       func(next http.Handler) http.Handler
}

func SetupRouter(h *Handlers, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(opts.Logger))
	r.Use(TracingMiddleware)

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	// the provider retries on its own schedule and must never be throttled
	r.Post("/v1/payments/webhook", h.PaymentWebhook)

	r.Group(func(r chi.Router) {
		if opts.RateLimiter != nil {
			r.Use(RateLimitMiddleware(opts.RateLimiter, opts.RateLimit, opts.RateLimitWindow))
		}
		r.Get("/v1/formulas", h.ListFormulas)
		r.Get("/v1/tables", h.ListTables)
		r.Get("/v1/reservations/{kind}/{id}", h.GetReservation)

		r.Group(func(r chi.Router) {
			if opts.Idempotency != nil {
				r.Use(IdempotencyMiddleware(opts.Idempotency, opts.Logger))
			}
			r.Post("/v1/payments", h.InitiatePayment)
			r.Post("/v1/reservations/garden", h.CreateGardenReservation)
			r.Post("/v1/reservations/resto", h.CreateRestoReservation)
		})
	})

	r.Route("/v1/admin", func(r chi.Router) {
		r.Use(opts.AdminAuth)
		r.Get("/reservations/{kind}", h.AdminListReservations)
		r.Post("/reservations/{kind}/{id}/status", h.AdminTransition)
		r.Delete("/reservations/{kind}/{id}", h.AdminDeleteReservation)
		r.Get("/reservations/{kind}/{id}/audit", h.AdminAuditTrail)
		r.Post("/tables/{id}/status", h.AdminSetTableStatus)
		r.Get("/events", h.AdminEvents)
	})

	return r
}
