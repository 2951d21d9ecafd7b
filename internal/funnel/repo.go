package funnel

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/signup-sync/pkg/db/models"
	"github.com/angelmondragon/signup-sync/pkg/enums"
)

// Repository persists funnel events and conversions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	InsertEventIfAbsent(ctx context.Context, ev *models.FunnelEvent) (bool, error)
	FindEventByDedupKey(ctx context.Context, key string) (*models.FunnelEvent, error)
	EarliestEvent(ctx context.Context, email string) (*models.FunnelEvent, error)
	LatestEvent(ctx context.Context, email string) (*models.FunnelEvent, error)
	CountEvents(ctx context.Context, email string) (int64, error)
	LinkEventsToConversion(ctx context.Context, email string, conversionID uuid.UUID) (int64, error)
	InsertConversionIfAbsent(ctx context.Context, conv *models.FunnelConversion) (bool, error)
	FindConversion(ctx context.Context, email string, sourceType enums.SourceType) (*models.FunnelConversion, error)
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

// InsertEventIfAbsent inserts ev unless its dedup key already exists and
// reports whether a row was written.
func (r *repositoryImpl) InsertEventIfAbsent(ctx context.Context, ev *models.FunnelEvent) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "dedup_key"}},
			DoNothing: true,
		}).
		Create(ev)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repositoryImpl) FindEventByDedupKey(ctx context.Context, key string) (*models.FunnelEvent, error) {
	var ev models.FunnelEvent
	if err := r.db.WithContext(ctx).Where("dedup_key = ?", key).First(&ev).Error; err != nil {
		return nil, err
	}
	return &ev, nil
}

func (r *repositoryImpl) EarliestEvent(ctx context.Context, email string) (*models.FunnelEvent, error) {
	return r.edgeEvent(ctx, email, "occurred_at ASC, created_at ASC")
}

func (r *repositoryImpl) LatestEvent(ctx context.Context, email string) (*models.FunnelEvent, error) {
	return r.edgeEvent(ctx, email, "occurred_at DESC, created_at DESC")
}

func (r *repositoryImpl) edgeEvent(ctx context.Context, email, order string) (*models.FunnelEvent, error) {
	var ev models.FunnelEvent
	err := r.db.WithContext(ctx).Where("email = ?", email).Order(order).First(&ev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (r *repositoryImpl) CountEvents(ctx context.Context, email string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.FunnelEvent{}).Where("email = ?", email).Count(&n).Error
	return n, err
}

// LinkEventsToConversion sets conversion_id on the lead's events that are not
// yet linked to another conversion.
func (r *repositoryImpl) LinkEventsToConversion(ctx context.Context, email string, conversionID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.FunnelEvent{}).
		Where("email = ? AND conversion_id IS NULL", email).
		UpdateColumn("conversion_id", conversionID)
	return res.RowsAffected, res.Error
}

func (r *repositoryImpl) InsertConversionIfAbsent(ctx context.Context, conv *models.FunnelConversion) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "email"}, {Name: "source_type"}},
			DoNothing: true,
		}).
		Create(conv)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// FindConversion returns nil without error when the lead has not converted on the source.
func (r *repositoryImpl) FindConversion(ctx context.Context, email string, sourceType enums.SourceType) (*models.FunnelConversion, error) {
	var conv models.FunnelConversion
	err := r.db.WithContext(ctx).
		Where("email = ? AND source_type = ?", email, sourceType).
		First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}
