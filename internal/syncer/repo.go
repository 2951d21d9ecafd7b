package syncer

import (
	"context"

	"gorm.io/gorm"

	"github.com/angelmondragon/signup-sync/pkg/db/models"
)

// Repository writes the funnel_sync_logs bracket of a run.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	StartLog(ctx context.Context, log *models.FunnelSyncLog) error
	CompleteLog(ctx context.Context, log *models.FunnelSyncLog) error
}

type repositoryImpl struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) StartLog(ctx context.Context, log *models.FunnelSyncLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

// CompleteLog writes the final counters of a running log.
func (r *repositoryImpl) CompleteLog(ctx context.Context, log *models.FunnelSyncLog) error {
	return r.db.WithContext(ctx).
		Model(&models.FunnelSyncLog{}).
		Where("id = ?", log.ID).
		Updates(map[string]any{
			"sync_status":       log.SyncStatus,
			"records_processed": log.RecordsProcessed,
			"records_created":   log.RecordsCreated,
			"records_duplicate": log.RecordsDuplicate,
			"records_skipped":   log.RecordsSkipped,
			"leads_queued":      log.LeadsQueued,
			"leads_updated":     log.LeadsUpdated,
			"error_detail":      log.ErrorDetail,
			"error_messages":    log.ErrorMessages,
			"completed_at":      log.CompletedAt,
			"duration_ms":       log.DurationMS,
		}).Error
}
