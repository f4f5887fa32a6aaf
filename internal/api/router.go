package api

import (
	"net/http"

	"github.com/ayo6706/p2p-settlement/internal/api/handler"
	"github.com/ayo6706/p2p-settlement/internal/api/middleware"
	"github.com/ayo6706/p2p-settlement/internal/api/spec"
	"github.com/ayo6706/p2p-settlement/internal/idempotency"
	"github.com/ayo6706/p2p-settlement/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Deps are the collaborators of the HTTP layer. DB, Redis and Idempotency
// may be nil in tests.
type Deps struct {
	Logger             *zap.Logger
	DB                 handler.Pinger
	Redis              redis.Cmdable
	Idempotency        *idempotency.Store
	Auth               *middleware.JWTAuth
	Merchants          middleware.MerchantLookup
	PublicRateLimitRPS int
	AuthRateLimitRPS   int

	Allocator      *service.AllocatorService
	Transactions   *service.TransactionService
	Devices        *service.DeviceService
	Requisites     *service.RequisiteService
	Accounts       *service.AccountService
	Reconciliation *service.ReconciliationService
}

type Router struct {
	deps Deps
}

func NewRouter(deps Deps) *Router {
	if deps.Logger == nil {
		deps.Logger = zap.L()
	}
	if deps.PublicRateLimitRPS <= 0 {
		deps.PublicRateLimitRPS = 20
	}
	if deps.AuthRateLimitRPS <= 0 {
		deps.AuthRateLimitRPS = 100
	}
	return &Router{deps: deps}
}

func (api *Router) Routes() chi.Router {
	d := api.deps
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.RecoverMiddleware(d.Logger))
	r.Use(middleware.LoggingMiddleware(d.Logger))
	r.Use(middleware.MetricsMiddleware)

	healthHandler := handler.NewHealthHandler(d.DB, d.Redis)
	merchantHandler := handler.NewMerchantHandler(d.Allocator, d.Transactions)
	deviceHandler := handler.NewDeviceHandler(d.Devices)
	operatorHandler := handler.NewOperatorHandler(d.Transactions, d.Requisites)
	accountHandler := handler.NewAccountHandler(d.Accounts, d.Reconciliation)
	idempotent := middleware.IdempotencyMiddleware(d.Idempotency, d.Logger)

	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", spec.OpenAPIHandler())
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

	// Devices authenticate with the token in the body.
	r.Route("/v1/device", func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(d.PublicRateLimitRPS))
		r.Post("/ping", deviceHandler.Ping)
		r.Post("/notifications", deviceHandler.SubmitNotification)
	})

	r.Route("/v1/merchant", func(r chi.Router) {
		r.Use(middleware.MerchantAuth(d.Merchants))
		r.Use(middleware.AuthRateLimiter(d.AuthRateLimitRPS))
		r.With(idempotent).Post("/transactions", merchantHandler.CreateTransaction)
		r.Get("/transactions/{id}", merchantHandler.GetTransaction)
		r.With(idempotent).Post("/transactions/{id}/cancel", merchantHandler.CancelTransaction)
		r.Get("/transactions/{id}/callbacks", merchantHandler.ListCallbacks)
	})

	// Operator routes
	r.Group(func(r chi.Router) {
		r.Use(d.Auth.Middleware)
		r.Use(middleware.AuthRateLimiter(d.AuthRateLimitRPS))
		r.Use(middleware.RequireRole(middleware.RoleAdmin, middleware.RoleTrader))

		r.Post("/v1/transactions/{id}/accept", operatorHandler.Accept)
		r.Post("/v1/transactions/{id}/cancel", operatorHandler.Cancel)
		r.Post("/v1/transactions/{id}/dispute", operatorHandler.OpenDispute)
		r.With(middleware.RequireRole(middleware.RoleAdmin)).Post("/v1/transactions/{id}/resolve", operatorHandler.ResolveDispute)

		r.Post("/v1/requisites", operatorHandler.CreateRequisite)
		r.Delete("/v1/requisites/{id}", operatorHandler.ArchiveRequisite)
		r.Get("/v1/traders/{id}", accountHandler.GetTrader)
	})

	r.Route("/v1/admin", func(r chi.Router) {
		r.Use(d.Auth.Middleware)
		r.Use(middleware.AuthRateLimiter(d.AuthRateLimitRPS))
		r.Use(middleware.RequireRole(middleware.RoleAdmin))
		r.Use(idempotent)

		r.Post("/merchants", accountHandler.CreateMerchant)
		r.Put("/merchants/{id}/methods/{methodID}", accountHandler.SetMerchantMethod)
		r.Post("/methods", accountHandler.CreateMethod)
		r.Post("/traders", accountHandler.CreateTrader)
		r.Post("/traders/{id}/connections", accountHandler.ConnectTrader)
		r.Post("/traders/{id}/devices", accountHandler.RegisterDevice)
		r.Post("/traders/{id}/trust", accountHandler.TopUpTrust)
		r.Get("/reconciliation", accountHandler.Reconcile)
	})

	return r
}
