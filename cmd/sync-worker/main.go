package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/signup-sync/internal/bootstrap"
	"github.com/angelmondragon/signup-sync/internal/cron"
	"github.com/angelmondragon/signup-sync/pkg/config"
	"github.com/angelmondragon/signup-sync/pkg/db"
	"github.com/angelmondragon/signup-sync/pkg/logger"
	"github.com/angelmondragon/signup-sync/pkg/metrics"
	"github.com/angelmondragon/signup-sync/pkg/migrate"
	"github.com/angelmondragon/signup-sync/pkg/outbox"
)

const serviceKind = "sync-worker"

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceKind})
	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}
	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = serviceKind
	logg = logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       cfg.App.LogLevel,
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"sync_spec":   cfg.Scheduler.Spec,
	})
	err = run(ctx, cfg, logg)
	stop()
	if err != nil {
		logg.Error(ctx, "sync worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "sync worker shut down")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer closeLogged(ctx, logg, "database", dbClient.Close)

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	redisClient, err := bootstrap.OptionalRedis(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	if redisClient != nil {
		defer closeLogged(ctx, logg, "redis", redisClient.Close)
	}

	promRegistry := metrics.NewRegistry()
	services, err := bootstrap.Build(bootstrap.Params{
		Config:   cfg,
		Logger:   logg,
		DB:       dbClient,
		Redis:    redisClient,
		Registry: promRegistry,
	})
	if err != nil {
		return fmt.Errorf("wire services: %w", err)
	}
	defer closeLogged(ctx, logg, "adapters", services.Close)

	scheduler, err := newScheduler(cfg, logg, dbClient, services, promRegistry)
	if err != nil {
		return err
	}

	logg.Info(ctx, "starting sync worker")
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return metrics.RunServer(gctx, metrics.NewServer(cfg.App.Port, promRegistry)) })
	g.Go(func() error {
		if err := scheduler.Run(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	return g.Wait()
}

// newScheduler registers the due-source sweep and outbox pruning.
func newScheduler(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, services *bootstrap.Services, reg prometheus.Registerer) (*cron.Service, error) {
	syncDueJob, err := cron.NewSyncDueJob(cron.SyncDueJobParams{Logger: logg, Syncer: services.Sync})
	if err != nil {
		return nil, fmt.Errorf("sync job: %w", err)
	}
	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:      logg,
		DB:          dbClient,
		Repository:  outbox.NewRepository(dbClient.DB()),
		Retention:   cfg.Outbox.RetentionDays,
		MaxAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("outbox retention job: %w", err)
	}

	jobs := cron.NewRegistry()
	jobs.Register(cfg.Scheduler.Spec, syncDueJob)
	jobs.Register(cfg.Scheduler.RetentionSpec, retentionJob)

	scheduler, err := cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   jobs,
		Metrics:    metrics.NewCronJobMetrics(reg),
		RunOnStart: cfg.Scheduler.RunOnStart,
	})
	if err != nil {
		return nil, fmt.Errorf("cron service: %w", err)
	}
	return scheduler, nil
}

func closeLogged(ctx context.Context, logg *logger.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(ctx, "error closing "+name, err)
	}
}
