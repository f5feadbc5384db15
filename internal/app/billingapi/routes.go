// Package billingapi собирает HTTP API биллинга: маршруты, middleware и зависимости.
package billingapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/magabrotheeeer/unimatch-billing/internal/http/handlers/billing/access"
	"github.com/magabrotheeeer/unimatch-billing/internal/http/handlers/billing/cancel"
	"github.com/magabrotheeeer/unimatch-billing/internal/http/handlers/billing/confirm"
	"github.com/magabrotheeeer/unimatch-billing/internal/http/handlers/billing/order"
	"github.com/magabrotheeeer/unimatch-billing/internal/http/handlers/billing/status"
	"github.com/magabrotheeeer/unimatch-billing/internal/http/handlers/billing/subscribe"
	"github.com/magabrotheeeer/unimatch-billing/internal/http/handlers/billing/trial"
	"github.com/magabrotheeeer/unimatch-billing/internal/http/handlers/health"
	"github.com/magabrotheeeer/unimatch-billing/internal/http/handlers/webhook"
	"github.com/magabrotheeeer/unimatch-billing/internal/http/middlewarectx"
)

// Controller: операции контроллера подписок, доступные по HTTP.
type Controller interface {
	subscribe.Service
	cancel.Service
	confirm.Service
	trial.Service
	order.Service
	status.Service
}

// Deps: зависимости маршрутов.
type Deps struct {
	Controller Controller
	Webhooks   webhook.Service
	Tokens     middlewarectx.TokenParser
	Limiter    *middlewarectx.IPRateLimiter
	Checks     map[string]health.Pinger
}

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, d Deps) {
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
	)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middlewarectx.RateLimitMiddleware(d.Limiter, logger))

		// Вебхуки провайдеров без аутентификации, тело читается как есть.
		r.Post("/webhooks/{provider}", webhook.New(logger, d.Webhooks).ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.JWTMiddleware(d.Tokens, logger))

			r.Post("/trial", trial.New(logger, d.Controller).ServeHTTP)
			r.Post("/orders", order.New(logger, d.Controller).ServeHTTP)
			r.Post("/subscribe", subscribe.New(logger, d.Controller).ServeHTTP)
			r.Post("/confirm-subscription", confirm.New(logger, d.Controller).ServeHTTP)
			r.Post("/cancel-subscription", cancel.New(logger, d.Controller).ServeHTTP)
			r.Get("/subscription", status.New(logger, d.Controller).ServeHTTP)

			r.Group(func(r chi.Router) {
				r.Use(middlewarectx.RequireActiveSubscription(d.Controller, logger))
				r.Get("/access-check", access.ServeHTTP)
			})
		})
	})

	r.Method(http.MethodGet, "/health", health.New(logger, d.Checks))
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
