package analytics

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/signup-sync/pkg/db/models"
	"github.com/angelmondragon/signup-sync/pkg/enums"
)

// Repository runs the read-only aggregate queries behind funnel metrics.
type Repository interface {
	CountLeads(ctx context.Context, f window) (int64, error)
	StageCounts(ctx context.Context, f window) ([]StageMetric, error)
	LeadsBySource(ctx context.Context, f window) (map[enums.SourceType]int64, error)
	ConversionsBySource(ctx context.Context, f window) (map[enums.SourceType]int64, error)
	ConvertedLeads(ctx context.Context, f window) (int64, error)
	ConvertedLeadsBySource(ctx context.Context, f window) (map[enums.SourceType]int64, error)
	ConversionValue(ctx context.Context, f window) (decimal.Decimal, error)
}

// window is a resolved filter: [From, Until) with an optional source.
type window struct {
	SourceType *enums.SourceType
	From       *time.Time
	Until      *time.Time
}

type repositoryImpl struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) events(ctx context.Context, f window) *gorm.DB {
	return scoped(r.db.WithContext(ctx).Model(&models.FunnelEvent{}), f, "occurred_at")
}

func (r *repositoryImpl) conversions(ctx context.Context, f window) *gorm.DB {
	return scoped(r.db.WithContext(ctx).Model(&models.FunnelConversion{}), f, "converted_at")
}

func scoped(q *gorm.DB, f window, timeColumn string) *gorm.DB {
	if f.SourceType != nil {
		q = q.Where("source_type = ?", *f.SourceType)
	}
	if f.From != nil {
		q = q.Where(timeColumn+" >= ?", *f.From)
	}
	if f.Until != nil {
		q = q.Where(timeColumn+" < ?", *f.Until)
	}
	return q
}

func (r *repositoryImpl) CountLeads(ctx context.Context, f window) (int64, error) {
	var n int64
	err := r.events(ctx, f).Distinct("email").Count(&n).Error
	return n, err
}

func (r *repositoryImpl) StageCounts(ctx context.Context, f window) ([]StageMetric, error) {
	var rows []StageMetric
	err := r.events(ctx, f).
		Select("event_type, COUNT(*) AS events, COUNT(DISTINCT email) AS unique_leads").
		Group("event_type").
		Scan(&rows).Error
	return rows, err
}

type sourceCount struct {
	SourceType enums.SourceType
	Total      int64
}

func (r *repositoryImpl) LeadsBySource(ctx context.Context, f window) (map[enums.SourceType]int64, error) {
	var rows []sourceCount
	err := r.events(ctx, f).
		Select("source_type, COUNT(DISTINCT email) AS total").
		Group("source_type").
		Scan(&rows).Error
	return toMap(rows), err
}

func (r *repositoryImpl) ConversionsBySource(ctx context.Context, f window) (map[enums.SourceType]int64, error) {
	var rows []sourceCount
	err := r.conversions(ctx, f).
		Select("source_type, COUNT(*) AS total").
		Group("source_type").
		Scan(&rows).Error
	return toMap(rows), err
}

// ConvertedLeads counts distinct lead emails in the window with at least one
// conversion in the window, so it never exceeds CountLeads.
func (r *repositoryImpl) ConvertedLeads(ctx context.Context, f window) (int64, error) {
	var n int64
	err := r.events(ctx, f).
		Where("EXISTS (?)", r.conversions(ctx, f).Select("1").
			Where("funnel_conversions.email = funnel_events.email")).
		Distinct("email").
		Count(&n).Error
	return n, err
}

// ConvertedLeadsBySource only credits a source with leads that converted on
// that same source.
func (r *repositoryImpl) ConvertedLeadsBySource(ctx context.Context, f window) (map[enums.SourceType]int64, error) {
	var rows []sourceCount
	err := r.events(ctx, f).
		Where("EXISTS (?)", r.conversions(ctx, f).Select("1").
			Where("funnel_conversions.email = funnel_events.email").
			Where("funnel_conversions.source_type = funnel_events.source_type")).
		Select("source_type, COUNT(DISTINCT email) AS total").
		Group("source_type").
		Scan(&rows).Error
	return toMap(rows), err
}

func (r *repositoryImpl) ConversionValue(ctx context.Context, f window) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	err := r.conversions(ctx, f).
		Select("SUM(estimated_value_usd)").
		Row().
		Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}

func toMap(rows []sourceCount) map[enums.SourceType]int64 {
	out := make(map[enums.SourceType]int64, len(rows))
	for _, row := range rows {
		out[row.SourceType] = row.Total
	}
	return out
}
