package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/signup-sync/pkg/db/types"
	"github.com/angelmondragon/signup-sync/pkg/enums"
)

// FunnelSource is an operator-configured connection to an external platform.
type FunnelSource struct {
	ID                 uuid.UUID         `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Name               string            `gorm:"column:name;not null" json:"name"`
	SourceType         enums.SourceType  `gorm:"column:source_type;not null" json:"source_type"`
	Config             dbtypes.JSON      `gorm:"column:config;type:jsonb" json:"-"`
	IsActive           bool              `gorm:"column:is_active;not null" json:"is_active"`
	AutoSyncEnabled    bool              `gorm:"column:auto_sync_enabled;not null" json:"auto_sync_enabled"`
	SyncFrequencyHours int               `gorm:"column:sync_frequency_hours;not null" json:"sync_frequency_hours"`
	LastSyncAt         *time.Time        `gorm:"column:last_sync_at" json:"last_sync_at,omitempty"`
	LastSyncStatus     *enums.SyncStatus `gorm:"column:last_sync_status" json:"last_sync_status,omitempty"`
	LastSyncMessage    *string           `gorm:"column:last_sync_message" json:"last_sync_message,omitempty"`
	TotalLeadsCaptured int               `gorm:"column:total_leads_captured;not null;default:0" json:"total_leads_captured"`
	TotalConversions   int               `gorm:"column:total_conversions;not null;default:0" json:"total_conversions"`
	CreatedAt          time.Time         `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time         `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (FunnelSource) TableName() string { return "funnel_sources" }

func (s *FunnelSource) BeforeCreate(*gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// SyncFrequency returns the configured auto-sync period, defaulting to a day.
func (s FunnelSource) SyncFrequency() time.Duration {
	if s.SyncFrequencyHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(s.SyncFrequencyHours) * time.Hour
}
