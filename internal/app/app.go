package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/riscambio/riscambio/internal/api"
	"github.com/riscambio/riscambio/internal/api/middleware"
	"github.com/riscambio/riscambio/internal/config"
	"github.com/riscambio/riscambio/internal/db"
	"github.com/riscambio/riscambio/internal/gateway"
	"github.com/riscambio/riscambio/internal/idempotency"
	"github.com/riscambio/riscambio/internal/notify"
	"github.com/riscambio/riscambio/internal/observability"
	"github.com/riscambio/riscambio/internal/rates"
	"github.com/riscambio/riscambio/internal/service"
	"github.com/riscambio/riscambio/internal/store"
	"github.com/riscambio/riscambio/internal/worker"
)

// Run bootstraps the HTTP server and background workers, blocking until
// shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()
	middleware.SetJWTSecret(cfg.JWTSecret)
	middleware.SetJWTValidation(cfg.JWTIssuer, cfg.JWTAudience)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	redisClient, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	var notifier notify.Notifier = notify.Noop{}
	if cfg.AMQPURL != "" {
		amqpNotifier, err := notify.NewAMQPNotifier(cfg.AMQPURL)
		if err != nil {
			return fmt.Errorf("connect amqp: %w", err)
		}
		notifier = amqpNotifier
	} else {
		logger.Warn("AMQP_URL not set, status notifications disabled")
	}
	defer notifier.Close()

	idemStore := idempotency.NewStore(redisClient, pool, cfg.IdempotencyTTL)
	st := store.NewPostgres(pool)
	rateManager := rates.NewManager(redisClient)

	limits := service.DefaultLimits()
	paymentGateway := gateway.NewMockGateway()
	rechargeSvc := service.NewRechargeService(st, rateManager, paymentGateway, notifier, limits)
	withdrawalSvc := service.NewWithdrawalService(st, rateManager, notifier, limits)
	querySvc := service.NewQueryService(st)
	callbackSvc := service.NewGatewayCallback(rechargeSvc, cfg.GatewayHMACKey, cfg.GatewaySkipSignature)
	reconciliationSvc := service.NewReconciliationService(st)

	expiryWorker := worker.NewExpiryWorker(rechargeSvc).
		WithWindow(cfg.RechargeExpiryWindow).
		WithPollInterval(cfg.SweepInterval).
		WithBatchSize(cfg.SweepBatchSize)
	stopExpiry := expiryWorker.Run(ctx)
	logger.Info("expiry worker started",
		zap.Duration("window", cfg.RechargeExpiryWindow),
		zap.Duration("interval", cfg.SweepInterval),
	)

	reconciliationWorker := worker.NewReconciliationWorker(reconciliationSvc).
		WithInterval(cfg.ReconciliationInterval)
	stopReconciliation := reconciliationWorker.Run(ctx)
	logger.Info("reconciliation worker started", zap.Duration("interval", cfg.ReconciliationInterval))

	router := api.NewRouter(cfg, logger, pool, redisClient, idemStore, api.Services{
		Recharges:   rechargeSvc,
		Withdrawals: withdrawalSvc,
		Queries:     querySvc,
		Callback:    callbackSvc,
		Rates:       rateManager,
	})

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("stopping workers")
	stopExpiry()
	stopReconciliation()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
