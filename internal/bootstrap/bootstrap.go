// Package bootstrap assembles the funnel services shared by the API and the
// sync worker.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/angelmondragon/signup-sync/internal/adapters"
	"github.com/angelmondragon/signup-sync/internal/adapters/easyappointments"
	"github.com/angelmondragon/signup-sync/internal/adapters/eventbrite"
	"github.com/angelmondragon/signup-sync/internal/adapters/poshvip"
	"github.com/angelmondragon/signup-sync/internal/adapters/zoom"
	"github.com/angelmondragon/signup-sync/internal/funnel"
	"github.com/angelmondragon/signup-sync/internal/signups"
	"github.com/angelmondragon/signup-sync/internal/sources"
	"github.com/angelmondragon/signup-sync/internal/syncer"
	"github.com/angelmondragon/signup-sync/pkg/config"
	"github.com/angelmondragon/signup-sync/pkg/db"
	"github.com/angelmondragon/signup-sync/pkg/enums"
	"github.com/angelmondragon/signup-sync/pkg/logger"
	"github.com/angelmondragon/signup-sync/pkg/metrics"
	"github.com/angelmondragon/signup-sync/pkg/outbox"
	"github.com/angelmondragon/signup-sync/pkg/redis"
)

// Params carry the process-wide resources. Redis may be nil.
type Params struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       *db.Client
	Redis    *redis.Client
	Registry prometheus.Registerer
}

type Services struct {
	Sources  sources.Service
	Funnel   funnel.Service
	Sync     syncer.Service
	Adapters *adapters.Registry

	easyAppointments *easyappointments.Adapter
}

// Build wires repositories, adapters and services in dependency order.
func Build(p Params) (*Services, error) {
	if p.Config == nil || p.DB == nil {
		return nil, fmt.Errorf("config and db are required")
	}
	conn := p.DB.DB()
	cfg := p.Config

	srcRepo := sources.NewRepository(conn)
	srcSvc, err := sources.NewService(srcRepo)
	if err != nil {
		return nil, err
	}

	emitter := outbox.NewService(outbox.NewRepository(conn), p.Logger)

	policy, err := enums.ParseDedupPolicy(cfg.Sync.DedupPolicy)
	if err != nil {
		return nil, err
	}
	funnelSvc, err := funnel.NewService(funnel.ServiceParams{
		DB:       p.DB,
		Repo:     funnel.NewRepository(conn),
		Sources:  srcSvc,
		Counters: srcRepo,
		Outbox:   emitter,
		Metrics:  metrics.NewFunnelMetrics(p.Registry),
		Logger:   p.Logger,
		Policy:   policy,
	})
	if err != nil {
		return nil, err
	}

	ea := easyappointments.New(cfg.EasyAppointments, p.Logger)
	registry := adapters.NewRegistry(
		ea,
		zoom.New(cfg.Zoom, p.Logger),
		eventbrite.New(cfg.Eventbrite, p.Logger),
		poshvip.New(cfg.PoshVIP, p.Logger),
	)

	lock, err := syncLock(p)
	if err != nil {
		return nil, err
	}

	syncSvc, err := syncer.NewService(syncer.ServiceParams{
		DB:       p.DB,
		Repo:     syncer.NewRepository(conn),
		Sources:  srcRepo,
		Funnel:   funnelSvc,
		Signups:  signups.NewRepository(conn),
		Adapters: registry,
		Outbox:   emitter,
		Lock:     lock,
		Metrics:  metrics.NewSyncMetrics(p.Registry),
		Logger:   p.Logger,
		Config:   cfg.Sync,
	})
	if err != nil {
		return nil, err
	}

	return &Services{
		Sources:          srcSvc,
		Funnel:           funnelSvc,
		Sync:             syncSvc,
		Adapters:         registry,
		easyAppointments: ea,
	}, nil
}

// syncLock picks the cross-process sync lock: Redis when configured,
// otherwise a Postgres advisory lock on the shared database.
func syncLock(p Params) (syncer.Lock, error) {
	if p.Redis != nil {
		return syncer.NewRedisLock(p.Redis, p.Config.Sync.LockTTL)
	}
	conn := p.DB.DB()
	if conn.Dialector == nil || conn.Dialector.Name() != "postgres" {
		if p.Logger != nil {
			p.Logger.Warn(context.Background(), "no redis and no postgres; sync locks are process-local")
		}
		return nil, nil
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("sql handle for sync lock: %w", err)
	}
	return syncer.NewPostgresLock(sqlDB)
}

// Close releases adapter-held connections.
func (s *Services) Close() error {
	var errs error
	if s.easyAppointments != nil {
		errs = multierr.Append(errs, s.easyAppointments.Close())
	}
	return errs
}

// OptionalRedis connects to Redis when configured. A nil client means syncs
// serialize through a Postgres advisory lock instead.
func OptionalRedis(ctx context.Context, cfg config.RedisConfig, logg *logger.Logger) (*redis.Client, error) {
	if !cfg.Enabled() {
		if logg != nil {
			logg.Info(ctx, "redis not configured; sync locks use postgres advisory locks")
		}
		return nil, nil
	}
	return redis.New(ctx, cfg, logg)
}
