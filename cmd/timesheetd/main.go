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

	"github.com/odyssey-erp/odyssey-timesheets/internal/app"
	"github.com/odyssey-erp/odyssey-timesheets/internal/catalog"
	"github.com/odyssey-erp/odyssey-timesheets/internal/directory"
	"github.com/odyssey-erp/odyssey-timesheets/internal/observability"
	"github.com/odyssey-erp/odyssey-timesheets/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-timesheets/internal/platform/db"
	"github.com/odyssey-erp/odyssey-timesheets/internal/shared"
	"github.com/odyssey-erp/odyssey-timesheets/internal/timesheet"
	"github.com/odyssey-erp/odyssey-timesheets/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping server startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	rules, err := app.LoadRules(cfg.RulesFile)
	if err != nil {
		logger.Error("load rules", slog.Any("error", err))
		os.Exit(1)
	}

	pool, err := db.New(ctx, cfg.Pool())
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
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

	metrics := observability.NewMetrics()

	people := directory.New(
		directory.NewPGSource(pool),
		cache.NewJSONCache(redisClient, "directory", cfg.DirectoryCacheTTL, logger),
		cfg.CollaboratorTimeout,
	)
	tasks := catalog.NewClient(
		catalog.NewPGSource(pool),
		cache.NewJSONCache(redisClient, "catalog", cfg.CatalogCacheTTL, logger),
		cfg.CollaboratorTimeout,
	)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	repo := timesheet.NewRepository(pool)
	service := timesheet.NewService(timesheet.Deps{
		Repo:        repo,
		Validator:   timesheet.NewValidator(rules, tasks, repo, time.Now),
		Directory:   people,
		Publisher:   jobs.NewEventPublisher(jobClient),
		Idempotency: shared.NewIdempotencyStore(pool),
		History:     shared.NewApprovalRecorder(pool, logger),
		Metrics:     timesheet.NewMetrics(metrics.Registerer()),
		Logger:      logger,
	})

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		Metrics:          metrics,
		Resolver:         people,
		TimesheetHandler: timesheet.NewHandler(service, logger, cfg.BulkPerMinute),
		JobHandler:       jobs.NewHandler(inspector, logger),
		Readiness: map[string]app.Pinger{
			"postgres": pool,
			"redis": app.PingFunc(func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			}),
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
