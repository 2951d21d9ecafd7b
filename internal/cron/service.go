package cron

import (
	"context"
	"fmt"
	"time"

	robfig "github.com/robfig/cron/v3"

	"github.com/angelmondragon/signup-sync/pkg/logger"
	"github.com/angelmondragon/signup-sync/pkg/metrics"
)

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger     *logger.Logger
	Registry   *Registry
	Metrics    *metrics.CronJobMetrics
	RunOnStart bool
}

// Service executes registered jobs on their cron specs. Overlapping ticks of
// the same job are skipped and panics are recovered.
type Service struct {
	logg       *logger.Logger
	registry   *Registry
	metrics    *metrics.CronJobMetrics
	runOnStart bool
	scheduler  *robfig.Cron
}

// NewService builds a cron service and schedules every registered job.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	cronLog := params.Logger.CronLogger()
	s := &Service{
		logg:       params.Logger,
		registry:   registry,
		metrics:    params.Metrics,
		runOnStart: params.RunOnStart,
		scheduler: robfig.New(
			robfig.WithSeconds(),
			robfig.WithLocation(time.UTC),
			robfig.WithLogger(cronLog),
			robfig.WithChain(robfig.Recover(cronLog), robfig.SkipIfStillRunning(cronLog)),
		),
	}
	return s, nil
}

// Run schedules the jobs and blocks until the context is canceled, then waits
// for running jobs to finish.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	for _, entry := range s.registry.Entries() {
		job := entry.Job
		if _, err := s.scheduler.AddFunc(entry.Spec, func() { s.runJob(ctx, job) }); err != nil {
			return fmt.Errorf("schedule %s (%q): %w", job.Name(), entry.Spec, err)
		}
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{"job": job.Name(), "spec": entry.Spec}), "cron job scheduled")
	}

	if s.runOnStart {
		for _, entry := range s.registry.Entries() {
			s.runJob(ctx, entry.Job)
		}
	}

	s.scheduler.Start()
	<-ctx.Done()
	s.logg.Info(ctx, "cron service context canceled")
	<-s.scheduler.Stop().Done()
	return ctx.Err()
}

func (s *Service) runJob(ctx context.Context, job Job) {
	jobCtx := s.logg.WithField(ctx, "job", job.Name())
	jobCtx = s.logg.WithField(jobCtx, "event", "cron.job")
	s.logg.Info(jobCtx, "job start")
	start := time.Now()
	err := job.Run(jobCtx)
	duration := time.Since(start)
	s.metrics.Observe(job.Name(), duration, err)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		return
	}
	s.logg.Info(jobCtx, "job completed")
}
