package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/application"
	"github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/observability"
)

// Handler is the HTTP adapter entrypoint for tenant access use-cases.
type Handler struct {
	service *application.Service
	metrics *observability.Metrics
	limiter *ipRateLimiter
	proxies clientIPResolver
	ready   func(context.Context) error
}

type Option func(*Handler)

// WithMetrics instruments every route and serves /metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithRateLimit throttles login and registration per client address.
// A non-positive rate disables the limiter.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(h *Handler) {
		if perSecond <= 0 {
			h.limiter = nil
			return
		}
		h.limiter = newIPRateLimiter(perSecond, burst)
	}
}

// WithTrustedProxies lists the CIDRs or addresses whose X-Forwarded-For
// header is believed. Without it the socket peer address is used.
func WithTrustedProxies(cidrs []string) Option {
	return func(h *Handler) {
		h.proxies = newClientIPResolver(cidrs)
	}
}

// WithReadiness sets the dependency probe behind /readyz.
func WithReadiness(check func(context.Context) error) Option {
	return func(h *Handler) {
		h.ready = check
	}
}

func NewHandler(service *application.Service, opts ...Option) *Handler {
	h := &Handler{service: service}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewRouter registers the HTTP routes and middleware stack.
func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware)
	r.Use(loggingMiddleware)
	r.Use(instrumentMiddleware(handler.metrics))

	r.Get("/healthz", handler.healthz)
	r.Get("/readyz", handler.readyz)
	if handler.metrics != nil {
		r.Method(http.MethodGet, "/metrics", handler.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(handler.limiter.middleware(handler.proxies.clientIP))
			r.Post("/auth/register", handler.register)
			r.Post("/auth/login", handler.login)
		})

		r.Group(func(r chi.Router) {
			r.Use(handler.authMiddleware)
			r.Post("/auth/logout", handler.logout)
			r.Get("/users/me", handler.me)
			r.Post("/authz/check", handler.checkAccess)

			r.Route("/tenants/current", func(r chi.Router) {
				r.With(handler.requirePermission("tenants", "read")).Get("/", handler.currentTenant)
				r.With(handler.requirePermission("users", "create")).Post("/users", handler.addMember)
				r.With(handler.requirePermission("users", "deactivate")).Post("/users/{user_id}/deactivate", handler.deactivateMember)
				r.With(handler.requirePermission("roles", "read")).Get("/users/{user_id}/roles", handler.listMemberRoles)
				r.With(handler.requirePermission("roles", "assign")).Put("/users/{user_id}/roles/{role}", handler.assignRole)
				r.With(handler.requirePermission("roles", "create")).Post("/roles", handler.createRole)
				r.With(handler.requirePermission("roles", "read")).Get("/roles", handler.listRoles)
			})
		})
	})

	return r
}
