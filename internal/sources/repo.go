package sources

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/signup-sync/pkg/db/models"
	"github.com/angelmondragon/signup-sync/pkg/enums"
)

// Repository reads funnel_sources and writes the sync bookkeeping columns.
// Sources themselves are configured by operators outside this service.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByType(ctx context.Context, sourceType enums.SourceType) (*models.FunnelSource, error)
	ListActive(ctx context.Context, types []enums.SourceType) ([]models.FunnelSource, error)
	ListAutoSync(ctx context.Context) ([]models.FunnelSource, error)
	LatestSyncLog(ctx context.Context, sourceID uuid.UUID) (*models.FunnelSyncLog, error)
	RecordSyncCompletion(ctx context.Context, sourceID uuid.UUID, completion SyncCompletion) error
	IncrementConversions(ctx context.Context, sourceID uuid.UUID) error
}

// SyncCompletion is the single update applied to a source when a sync ends.
// SyncCompletion is what a finished run writes back to its source.
// WindowStart is the instant the run's fetch began; the next incremental
// run resumes from it. Zero falls back to CompletedAt.
type SyncCompletion struct {
	Status      enums.SyncStatus
	Message     string
	WindowStart time.Time
	CompletedAt time.Time
	LeadsAdded  int
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a sources repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

// FindByType returns gorm.ErrRecordNotFound when no source of that type exists.
func (r *repositoryImpl) FindByType(ctx context.Context, sourceType enums.SourceType) (*models.FunnelSource, error) {
	var src models.FunnelSource
	err := r.db.WithContext(ctx).
		Where("source_type = ?", sourceType).
		Order("created_at ASC").
		First(&src).Error
	if err != nil {
		return nil, err
	}
	return &src, nil
}

func (r *repositoryImpl) ListActive(ctx context.Context, types []enums.SourceType) ([]models.FunnelSource, error) {
	q := r.db.WithContext(ctx).Where("is_active = ?", true)
	if len(types) > 0 {
		q = q.Where("source_type IN ?", types)
	}
	var rows []models.FunnelSource
	if err := q.Order("source_type ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repositoryImpl) ListAutoSync(ctx context.Context) ([]models.FunnelSource, error) {
	var rows []models.FunnelSource
	err := r.db.WithContext(ctx).
		Where("is_active = ? AND auto_sync_enabled = ?", true, true).
		Order("source_type ASC").
		Find(&rows).Error
	return rows, err
}

// LatestSyncLog returns nil without error when the source never synced.
func (r *repositoryImpl) LatestSyncLog(ctx context.Context, sourceID uuid.UUID) (*models.FunnelSyncLog, error) {
	var log models.FunnelSyncLog
	err := r.db.WithContext(ctx).
		Where("funnel_source_id = ?", sourceID).
		Order("started_at DESC").
		First(&log).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &log, nil
}

func (r *repositoryImpl) RecordSyncCompletion(ctx context.Context, sourceID uuid.UUID, c SyncCompletion) error {
	updates := map[string]any{
		"last_sync_status":  c.Status,
		"last_sync_message": c.Message,
		"updated_at":        c.CompletedAt,
	}
	// a failed run keeps the previous window start
	if c.Status != enums.SyncStatusFailed {
		next := c.WindowStart
		if next.IsZero() {
			next = c.CompletedAt
		}
		updates["last_sync_at"] = next
	}
	if c.LeadsAdded > 0 {
		updates["total_leads_captured"] = gorm.Expr("total_leads_captured + ?", c.LeadsAdded)
	}
	return r.db.WithContext(ctx).
		Model(&models.FunnelSource{}).
		Where("id = ?", sourceID).
		UpdateColumns(updates).Error
}

func (r *repositoryImpl) IncrementConversions(ctx context.Context, sourceID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.FunnelSource{}).
		Where("id = ?", sourceID).
		UpdateColumn("total_conversions", gorm.Expr("total_conversions + 1")).Error
}
