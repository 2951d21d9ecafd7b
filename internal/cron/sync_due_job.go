package cron

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/angelmondragon/signup-sync/internal/syncer"
	"github.com/angelmondragon/signup-sync/pkg/enums"
	"github.com/angelmondragon/signup-sync/pkg/logger"
)

const SyncDueJobName = "sync-due-sources"

type dueSyncer interface {
	SyncDue(ctx context.Context) (*syncer.SyncAllResult, error)
}

type SyncDueJobParams struct {
	Logger *logger.Logger
	Syncer dueSyncer
}

func NewSyncDueJob(params SyncDueJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Syncer == nil {
		return nil, fmt.Errorf("syncer required")
	}
	return &syncDueJob{logg: params.Logger, syncer: params.Syncer}, nil
}

type syncDueJob struct {
	logg   *logger.Logger
	syncer dueSyncer
}

func (j *syncDueJob) Name() string { return SyncDueJobName }

// Run syncs every due auto-sync source. Any failed source fails the job so the
// failure counter reflects it; the other sources still ran.
func (j *syncDueJob) Run(ctx context.Context) error {
	out, err := j.syncer.SyncDue(ctx)
	if err != nil {
		return fmt.Errorf("sync due sources: %w", err)
	}
	var errs error
	for _, res := range out.Results {
		if res.Status != enums.SyncStatusFailed {
			continue
		}
		detail := "unknown error"
		if res.ErrorDetail != nil {
			detail = *res.ErrorDetail
		}
		errs = multierr.Append(errs, fmt.Errorf("%s: %s", res.SourceType, detail))
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"sources_due":    len(out.Results),
		"sources_synced": out.SourcesSynced,
	})
	j.logg.Info(logCtx, "due source sync complete")
	return errs
}
