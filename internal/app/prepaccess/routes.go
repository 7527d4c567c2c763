package prepaccess

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/magabrotheeeer/prepaccess/internal/gateway"
	"github.com/magabrotheeeer/prepaccess/internal/http/handlers/access/history"
	"github.com/magabrotheeeer/prepaccess/internal/http/handlers/access/permissions"
	"github.com/magabrotheeeer/prepaccess/internal/http/handlers/access/tool"
	"github.com/magabrotheeeer/prepaccess/internal/http/handlers/admin/grant"
	"github.com/magabrotheeeer/prepaccess/internal/http/handlers/admin/revoke"
	"github.com/magabrotheeeer/prepaccess/internal/http/handlers/admin/sweep"
	"github.com/magabrotheeeer/prepaccess/internal/http/handlers/auth/login"
	"github.com/magabrotheeeer/prepaccess/internal/http/handlers/auth/register"
	checkoutcreate "github.com/magabrotheeeer/prepaccess/internal/http/handlers/checkout/create"
	checkoutread "github.com/magabrotheeeer/prepaccess/internal/http/handlers/checkout/read"
	"github.com/magabrotheeeer/prepaccess/internal/http/handlers/health"
	"github.com/magabrotheeeer/prepaccess/internal/http/handlers/payment/webhook"
	plancreate "github.com/magabrotheeeer/prepaccess/internal/http/handlers/plan/create"
	planlist "github.com/magabrotheeeer/prepaccess/internal/http/handlers/plan/list"
	planread "github.com/magabrotheeeer/prepaccess/internal/http/handlers/plan/read"
	planupdate "github.com/magabrotheeeer/prepaccess/internal/http/handlers/plan/update"
	"github.com/magabrotheeeer/prepaccess/internal/http/middlewarectx"
	"github.com/magabrotheeeer/prepaccess/internal/models"
)

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, s *Services) {
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
	)

	r.Get("/health", health.New(logger, s.Health).ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		// Уведомления шлюза не проходят через ограничение частоты:
		// шлюз повторяет их до получения "OK".
		r.Post("/payments/webhook/iframe", webhook.New(logger, gateway.VariantIframe, s.Webhook).ServeHTTP)
		r.Post("/payments/webhook/link", webhook.New(logger, gateway.VariantLink, s.Webhook).ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.RateLimitMiddleware(logger, s.Limiter))
			r.Post("/register", register.New(logger, s.Auth).ServeHTTP)
			r.Post("/login", login.New(logger, s.Auth).ServeHTTP)
			r.Get("/plans", planlist.New(logger, s.Catalog).ServeHTTP)
			r.Get("/plans/{id}", planread.New(logger, s.Catalog).ServeHTTP)
		})

		// Группа с JWT аутентификацией
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.JWTMiddleware(s.Tokens, logger))
			r.Use(middlewarectx.RateLimitMiddleware(logger, s.Limiter))

			r.Get("/tools/{toolID}/access", tool.New(logger, s.Access).ServeHTTP)
			r.Get("/me/permissions", permissions.New(logger, s.Access).ServeHTTP)
			r.Get("/me/history", history.New(logger, s.Access).ServeHTTP)
			r.Post("/checkout", checkoutcreate.New(logger, s.Checkout).ServeHTTP)
			r.Get("/checkout/{id}", checkoutread.New(logger, s.Checkout).ServeHTTP)

			r.Route("/admin", func(r chi.Router) {
				r.Use(middlewarectx.RequireRole(logger, models.RoleAdmin))
				r.Post("/plans", plancreate.New(logger, s.Catalog).ServeHTTP)
				r.Put("/plans/{id}", planupdate.New(logger, s.Catalog).ServeHTTP)
				r.Post("/users/{uid}/permissions", grant.New(logger, s.Catalog).ServeHTTP)
				r.Delete("/users/{uid}/permissions/{toolID}", revoke.New(logger, s.Catalog).ServeHTTP)
				r.Post("/sweep", sweep.New(logger, s.Sweeper).ServeHTTP)
			})
		})
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
