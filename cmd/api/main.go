package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/signup-sync/api/routes"
	"github.com/angelmondragon/signup-sync/internal/analytics"
	"github.com/angelmondragon/signup-sync/internal/bootstrap"
	"github.com/angelmondragon/signup-sync/pkg/config"
	"github.com/angelmondragon/signup-sync/pkg/db"
	"github.com/angelmondragon/signup-sync/pkg/logger"
	"github.com/angelmondragon/signup-sync/pkg/metrics"
	"github.com/angelmondragon/signup-sync/pkg/migrate"
	"github.com/angelmondragon/signup-sync/pkg/redis"
)

const (
	serviceKind     = "api"
	shutdownTimeout = 15 * time.Second
)

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
		"env":  cfg.App.Env,
		"addr": ":" + cfg.App.Port,
	})
	err = run(ctx, cfg, logg)
	stop()
	if err != nil {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server shut down")
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
	// a typed nil would make the health check think Redis is configured
	var redisPinger redis.Pinger
	if redisClient != nil {
		redisPinger = redisClient
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

	analyticsService, err := analytics.NewService(analytics.NewRepository(dbClient.DB()))
	if err != nil {
		return fmt.Errorf("analytics service: %w", err)
	}

	server := &http.Server{
		Addr: ":" + cfg.App.Port,
		Handler: routes.NewRouter(routes.Deps{
			Config:      cfg,
			Logger:      logg,
			DB:          dbClient,
			Redis:       redisPinger,
			Gatherer:    promRegistry,
			HTTPMetrics: metrics.NewHTTPMetrics(promRegistry),
			Sync:        services.Sync,
			Sources:     services.Sources,
			Funnel:      services.Funnel,
			Analytics:   analyticsService,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logg.Info(logg.WithField(ctx, "adapters", services.Adapters.Types()), "starting api server")
	return serve(ctx, logg, server)
}

// serve blocks until the listener fails or ctx ends, then drains in-flight
// requests. Syncs that outlive shutdownTimeout are cut off.
func serve(ctx context.Context, logg *logger.Logger, server *http.Server) error {
	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	logg.Info(ctx, "api server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

func closeLogged(ctx context.Context, logg *logger.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(ctx, "error closing "+name, err)
	}
}
