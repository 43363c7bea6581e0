package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/pharmaflow-backend/api/controllers"
	ordercontrollers "github.com/angelmondragon/pharmaflow-backend/api/controllers/orders"
	paymentcontrollers "github.com/angelmondragon/pharmaflow-backend/api/controllers/payments"
	pointcontrollers "github.com/angelmondragon/pharmaflow-backend/api/controllers/points"
	referralcontrollers "github.com/angelmondragon/pharmaflow-backend/api/controllers/referrals"
	shipmentcontrollers "github.com/angelmondragon/pharmaflow-backend/api/controllers/shipments"
	webhookcontrollers "github.com/angelmondragon/pharmaflow-backend/api/controllers/webhooks"
	"github.com/angelmondragon/pharmaflow-backend/api/middleware"
	"github.com/angelmondragon/pharmaflow-backend/internal/orders"
	"github.com/angelmondragon/pharmaflow-backend/internal/payments"
	"github.com/angelmondragon/pharmaflow-backend/internal/points"
	"github.com/angelmondragon/pharmaflow-backend/internal/referrals"
	"github.com/angelmondragon/pharmaflow-backend/internal/shipments"
	"github.com/angelmondragon/pharmaflow-backend/pkg/config"
	"github.com/angelmondragon/pharmaflow-backend/pkg/db"
	"github.com/angelmondragon/pharmaflow-backend/pkg/enums"
	"github.com/angelmondragon/pharmaflow-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/pharmaflow-backend/pkg/redis"
)

// Cache is the redis surface the HTTP layer uses.
type Cache interface {
	Ping(context.Context) error
	pkgredis.IdempotencyStore
	pkgredis.RateLimiter
}

// Services bundles the domain services mounted by the router.
type Services struct {
	Orders    orders.Service
	Payments  payments.Service
	Points    points.Service
	Shipments shipments.Service
	Referrals referrals.Service
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	cache Cache,
	metricsHandler http.Handler,
	svc Services,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.AllowedOrigins()),
	)

	var (
		idempotencyStore pkgredis.IdempotencyStore
		limiter          pkgredis.RateLimiter
		ready            = map[string]controllers.Pinger{}
	)
	if dbP != nil {
		ready["database"] = dbP
	}
	if cache != nil {
		idempotencyStore = cache
		limiter = cache
		ready["redis"] = cache
	}

	apiPolicy := middleware.NewRateLimitPolicy("api", cfg.RateLimit.Window, cfg.RateLimit.IPLimit, cfg.RateLimit.UserLimit)
	webhookPolicy := middleware.NewRateLimitPolicy("webhooks", cfg.RateLimit.Window, cfg.RateLimit.WebhookLimit, 0)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, ready))
	})
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Use(middleware.RateLimit(webhookPolicy, limiter, logg))
		r.Post("/razorpay", webhookcontrollers.Razorpay(svc.Payments, logg))
		r.Post("/shiprocket", webhookcontrollers.Carrier(svc.Shipments, enums.ShippingProviderShiprocket, logg))
		r.Post("/delhivery", webhookcontrollers.Carrier(svc.Shipments, enums.ShippingProviderDelhivery, logg))
		r.With(middleware.BearerSecret(cfg.Intents.WebhookToken, logg)).
			Post("/payment-intents", webhookcontrollers.PaymentIntents(svc.Payments, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RateLimit(apiPolicy, limiter, logg))
		r.Use(middleware.Idempotency(idempotencyStore, cfg.Eventing.HTTPIdempotencyTTL, logg))

		r.Post("/orders", ordercontrollers.Create(svc.Orders, logg))
		r.Get("/orders/{orderId}", ordercontrollers.Get(svc.Orders, logg))
		r.With(middleware.RequireStaff(logg)).
			Patch("/orders/{orderId}/status", ordercontrollers.UpdateStatus(svc.Orders, logg))

		r.Post("/payments/orders", paymentcontrollers.CreateGatewayOrder(svc.Payments, logg))
		r.Post("/payments/verify", paymentcontrollers.Verify(svc.Payments, logg))
		r.Post("/payments/intents", paymentcontrollers.CreateIntent(svc.Payments, logg))
		r.Get("/payments/intents/{token}", paymentcontrollers.GetIntent(svc.Payments, logg))

		r.Get("/points/balance", pointcontrollers.Balance(svc.Points, logg))
		r.Get("/points/history", pointcontrollers.History(svc.Points, logg))
		r.Post("/points/redeem", pointcontrollers.Redeem(svc.Points, logg))
		r.With(middleware.RequireStaff(logg)).
			Post("/points/earn", pointcontrollers.Earn(svc.Points, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireStaff(logg))
			r.Post("/shipments", shipmentcontrollers.Create(svc.Shipments, logg))
			r.Post("/shipments/{orderId}/track", shipmentcontrollers.Track(svc.Shipments, logg))
			r.Post("/shipments/{orderId}/cancel", shipmentcontrollers.Cancel(svc.Shipments, logg))
		})

		r.With(middleware.RequireRole(logg, enums.UserRoleRetailer, enums.UserRoleAdmin, enums.UserRoleDistributor)).
			Post("/referrals", referralcontrollers.Create(svc.Referrals, logg))
		r.Post("/referrals/attribute", referralcontrollers.Attribute(svc.Referrals, logg))
	})

	return r
}
