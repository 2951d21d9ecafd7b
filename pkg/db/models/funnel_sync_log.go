package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/signup-sync/pkg/db/types"
	"github.com/angelmondragon/signup-sync/pkg/enums"
)

// FunnelSyncLog brackets one sync run. Inserted as running, completed once.
type FunnelSyncLog struct {
	ID               uuid.UUID          `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	FunnelSourceID   uuid.UUID          `gorm:"column:funnel_source_id;type:uuid;not null;index" json:"funnel_source_id"`
	SourceType       enums.SourceType   `gorm:"column:source_type;not null" json:"source_type"`
	SyncType         enums.SyncType     `gorm:"column:sync_type;not null" json:"sync_type"`
	SyncStatus       enums.SyncStatus   `gorm:"column:sync_status;not null" json:"sync_status"`
	RecordsProcessed int                `gorm:"column:records_processed;not null;default:0" json:"records_processed"`
	RecordsCreated   int                `gorm:"column:records_created;not null;default:0" json:"records_created"`
	RecordsDuplicate int                `gorm:"column:records_duplicate;not null;default:0" json:"records_duplicate"`
	RecordsSkipped   int                `gorm:"column:records_skipped;not null;default:0" json:"records_skipped"`
	LeadsQueued      int                `gorm:"column:leads_queued;not null;default:0" json:"leads_queued"`
	LeadsUpdated     int                `gorm:"column:leads_updated;not null;default:0" json:"leads_updated"`
	ErrorDetail      *string            `gorm:"column:error_detail" json:"error_detail,omitempty"`
	ErrorMessages    dbtypes.StringList `gorm:"column:error_messages;type:jsonb" json:"error_messages,omitempty"`
	StartedAt        time.Time          `gorm:"column:started_at;not null" json:"started_at"`
	CompletedAt      *time.Time         `gorm:"column:completed_at" json:"completed_at,omitempty"`
	DurationMS       int64              `gorm:"column:duration_ms;not null;default:0" json:"duration_ms"`
	CreatedAt        time.Time          `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (FunnelSyncLog) TableName() string { return "funnel_sync_logs" }

func (l *FunnelSyncLog) BeforeCreate(*gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}
