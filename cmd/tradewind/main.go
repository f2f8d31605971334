package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/tradewind-erp/tradewind-erp/internal/app"
	"github.com/tradewind-erp/tradewind-erp/internal/audit"
	"github.com/tradewind-erp/tradewind-erp/internal/masterdata"
	"github.com/tradewind-erp/tradewind-erp/internal/observability"
	"github.com/tradewind-erp/tradewind-erp/internal/platform/cache"
	"github.com/tradewind-erp/tradewind-erp/internal/platform/db"
	"github.com/tradewind-erp/tradewind-erp/internal/purchasing"
	"github.com/tradewind-erp/tradewind-erp/internal/shared"
	"github.com/tradewind-erp/tradewind-erp/internal/stock"
	"github.com/tradewind-erp/tradewind-erp/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	queueClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init queue client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)
	idempotency := shared.NewIdempotencyStore(pool)

	stockRepo := stock.NewRepository(pool, cfg.StockLockTimeout)
	levelCache := stock.NewLevelCache(redisClient, cfg.LevelCacheTTL)
	notifier := jobs.NewLowStockNotifier(queueClient)
	stockService := stock.NewService(stockRepo, auditLogger, idempotency, levelCache, notifier, nil, metrics, logger, stock.ServiceConfig{
		DefaultAlertThreshold: cfg.StockAlertThreshold,
		AlertCooldown:         cfg.StockAlertCooldown,
	})
	stockHandler := stock.NewHandler(logger, stockService)

	purchasingRepo := purchasing.NewRepository(pool, cfg.StockLockTimeout)
	purchasingService := purchasing.NewService(purchasingRepo, stockService, auditLogger, logger)
	purchasingHandler := purchasing.NewHandler(logger, purchasingService)

	masterdataRepo := masterdata.NewRepository(pool)
	masterdataService := masterdata.NewService(masterdataRepo, auditLogger, logger)
	masterdataHandler := masterdata.NewHandler(logger, masterdataService)

	auditHandler := audit.NewHandler(logger, audit.NewService(audit.NewRepository(pool)))

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	jobsHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		StockHandler:      stockHandler,
		PurchasingHandler: purchasingHandler,
		MasterdataHandler: masterdataHandler,
		AuditHandler:      auditHandler,
		JobsHandler:       jobsHandler,
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server exit", slog.Any("error", err))
		os.Exit(1)
	}
}
