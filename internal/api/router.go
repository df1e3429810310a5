package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/riscambio/riscambio/internal/api/handler"
	"github.com/riscambio/riscambio/internal/api/middleware"
	"github.com/riscambio/riscambio/internal/api/spec"
	"github.com/riscambio/riscambio/internal/config"
	"github.com/riscambio/riscambio/internal/idempotency"
	"github.com/riscambio/riscambio/internal/rates"
	"github.com/riscambio/riscambio/internal/service"
)

// Services bundles the application services served over HTTP.
type Services struct {
	Recharges   *service.RechargeService
	Withdrawals *service.WithdrawalService
	Queries     *service.QueryService
	Callback    *service.GatewayCallback
	Rates       *rates.Manager
}

type Router struct {
	cfg       *config.Config
	logger    *zap.Logger
	db        *pgxpool.Pool
	redis     redis.Cmdable
	idemStore *idempotency.Store
	services  Services
}

func NewRouter(cfg *config.Config, logger *zap.Logger, db *pgxpool.Pool, redis redis.Cmdable, idemStore *idempotency.Store, services Services) *Router {
	return &Router{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		redis:     redis,
		idemStore: idemStore,
		services:  services,
	}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)

	healthHandler := handler.NewHealthHandler(api.db, api.redis)
	webhookHandler := handler.NewWebhookHandler(api.services.Callback)
	rechargeHandler := handler.NewRechargeHandler(api.services.Recharges)
	withdrawalHandler := handler.NewWithdrawalHandler(api.services.Withdrawals)
	transactionHandler := handler.NewTransactionHandler(api.services.Queries)
	ratesHandler := handler.NewRatesHandler(api.services.Rates)

	// Public routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))

		r.Get("/healthz", healthHandler.Live)
		r.Get("/readyz", healthHandler.Ready)
		r.Get("/openapi.yaml", spec.OpenAPIHandler())
		r.Post("/webhooks/gateway", webhookHandler.GatewayCallback)
	})

	// Authenticated user routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))

		r.Get("/v1/rates", ratesHandler.GetRates)
		r.Get("/v1/balance", transactionHandler.GetBalance)
		r.Get("/v1/transactions", transactionHandler.ListTransactions)
		r.Get("/v1/transactions/{id}", transactionHandler.GetTransaction)
		r.Get("/v1/transactions/{id}/history", transactionHandler.GetHistory)
		r.Post("/v1/recharges/{id}/proof", rechargeHandler.AttachProof)

		idem := middleware.IdempotencyMiddleware(api.idemStore, api.logger)
		r.With(idem).Post("/v1/recharges", rechargeHandler.CreateRecharge)
		r.With(idem).Post("/v1/withdrawals", withdrawalHandler.CreateWithdrawal)
	})

	// Admin routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.RequireRole("admin"))

		r.Put("/v1/admin/rates", ratesHandler.UpdateRates)
		r.Post("/v1/admin/recharges/{id}/decision", rechargeHandler.DecideRecharge)
		r.Post("/v1/admin/withdrawals/{id}/process", withdrawalHandler.ProcessWithdrawal)
		r.Post("/v1/admin/withdrawals/{id}/reject", withdrawalHandler.RejectWithdrawal)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
