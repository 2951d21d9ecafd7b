package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/signup-sync/pkg/logger"
)

const (
	OutboxRetentionJobName = "outbox-retention"

	defaultRetentionDays  = 30
	defaultRetentionBatch = 500
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxRetentionRepo interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, limit int) (int64, error)
	CountParked(ctx context.Context, tx *gorm.DB, maxAttempts int) (int64, error)
}

type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Repository outboxRetentionRepo
	// Retention is in days.
	Retention int
	// BatchSize bounds each delete so the table is never locked for long.
	BatchSize int
	// MaxAttempts is the publisher's parking threshold; parked rows are
	// reported, never deleted.
	MaxAttempts int
}

// NewOutboxRetentionJob prunes published outbox rows older than the retention
// window and reports rows the publisher has parked.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.DB == nil:
		return nil, fmt.Errorf("db runner required")
	case params.Repository == nil:
		return nil, fmt.Errorf("outbox repository required")
	}
	job := &outboxRetentionJob{
		logg:        params.Logger,
		db:          params.DB,
		repo:        params.Repository,
		retention:   params.Retention,
		batch:       params.BatchSize,
		maxAttempts: params.MaxAttempts,
		now:         time.Now,
	}
	if job.retention <= 0 {
		job.retention = defaultRetentionDays
	}
	if job.batch <= 0 {
		job.batch = defaultRetentionBatch
	}
	return job, nil
}

type outboxRetentionJob struct {
	logg        *logger.Logger
	db          txRunner
	repo        outboxRetentionRepo
	retention   int
	batch       int
	maxAttempts int
	now         func() time.Time
}

func (j *outboxRetentionJob) Name() string { return OutboxRetentionJobName }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().AddDate(0, 0, -j.retention)
	ctx = j.logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"retention_days": j.retention,
	})

	var total int64
	for {
		var deleted int64
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			n, err := j.repo.DeletePublishedBefore(ctx, tx, cutoff, j.batch)
			deleted = n
			return err
		})
		if err != nil {
			return fmt.Errorf("outbox retention after %d rows: %w", total, err)
		}
		total += deleted
		if deleted < int64(j.batch) || ctx.Err() != nil {
			break
		}
	}
	j.logg.Info(j.logg.WithField(ctx, "rows_deleted", total), "outbox retention cleanup complete")

	if j.maxAttempts > 0 {
		j.reportParked(ctx)
	}
	return nil
}

// reportParked only logs; a failed count must not fail the cleanup.
func (j *outboxRetentionJob) reportParked(ctx context.Context) {
	var parked int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		n, err := j.repo.CountParked(ctx, tx, j.maxAttempts)
		parked = n
		return err
	})
	if err != nil {
		j.logg.Error(ctx, "count parked outbox rows", err)
		return
	}
	if parked > 0 {
		j.logg.Warn(j.logg.WithField(ctx, "parked_rows", parked), "outbox rows parked awaiting operator")
	}
}
