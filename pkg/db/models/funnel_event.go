package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/signup-sync/pkg/db/types"
	"github.com/angelmondragon/signup-sync/pkg/enums"
)

// Touch is one attribution snapshot: where a lead came from and when.
type Touch struct {
	SourceType  enums.SourceType `json:"source_type"`
	UTMSource   *string          `json:"utm_source,omitempty"`
	UTMMedium   *string          `json:"utm_medium,omitempty"`
	UTMCampaign *string          `json:"utm_campaign,omitempty"`
	At          time.Time        `json:"at"`
}

// FunnelEvent is one tracked interaction of a lead. Rows are append-only;
// only ConversionID is set after creation.
type FunnelEvent struct {
	ID             uuid.UUID        `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	FunnelSourceID uuid.UUID        `gorm:"column:funnel_source_id;type:uuid;not null" json:"funnel_source_id"`
	SourceType     enums.SourceType `gorm:"column:source_type;not null" json:"source_type"`
	ExternalID     *string          `gorm:"column:external_id" json:"external_id,omitempty"`
	DedupKey       string           `gorm:"column:dedup_key;not null;uniqueIndex:ux_funnel_events_dedup_key" json:"-"`
	EventType      enums.EventType  `gorm:"column:event_type;not null" json:"event_type"`
	Email          string           `gorm:"column:email;not null;index" json:"email"`
	FirstName      *string          `gorm:"column:first_name" json:"first_name,omitempty"`
	LastName       *string          `gorm:"column:last_name" json:"last_name,omitempty"`
	Phone          *string          `gorm:"column:phone" json:"phone,omitempty"`
	Company        *string          `gorm:"column:company" json:"company,omitempty"`
	UTMSource      *string          `gorm:"column:utm_source" json:"utm_source,omitempty"`
	UTMMedium      *string          `gorm:"column:utm_medium" json:"utm_medium,omitempty"`
	UTMCampaign    *string          `gorm:"column:utm_campaign" json:"utm_campaign,omitempty"`
	UTMContent     *string          `gorm:"column:utm_content" json:"utm_content,omitempty"`
	UTMTerm        *string          `gorm:"column:utm_term" json:"utm_term,omitempty"`
	Referrer       *string          `gorm:"column:referrer" json:"referrer,omitempty"`
	IPAddress      *string          `gorm:"column:ip_address" json:"ip_address,omitempty"`
	UserAgent      *string          `gorm:"column:user_agent" json:"user_agent,omitempty"`
	EventData      dbtypes.JSON     `gorm:"column:event_data;type:jsonb" json:"event_data,omitempty"`

	FirstTouchSourceType  enums.SourceType `gorm:"column:first_touch_source_type;not null" json:"first_touch_source_type"`
	FirstTouchUTMSource   *string          `gorm:"column:first_touch_utm_source" json:"first_touch_utm_source,omitempty"`
	FirstTouchUTMMedium   *string          `gorm:"column:first_touch_utm_medium" json:"first_touch_utm_medium,omitempty"`
	FirstTouchUTMCampaign *string          `gorm:"column:first_touch_utm_campaign" json:"first_touch_utm_campaign,omitempty"`
	FirstTouchAt          time.Time        `gorm:"column:first_touch_at;not null" json:"first_touch_at"`
	LastTouchSourceType   enums.SourceType `gorm:"column:last_touch_source_type;not null" json:"last_touch_source_type"`
	LastTouchUTMSource    *string          `gorm:"column:last_touch_utm_source" json:"last_touch_utm_source,omitempty"`
	LastTouchUTMMedium    *string          `gorm:"column:last_touch_utm_medium" json:"last_touch_utm_medium,omitempty"`
	LastTouchUTMCampaign  *string          `gorm:"column:last_touch_utm_campaign" json:"last_touch_utm_campaign,omitempty"`
	LastTouchAt           time.Time        `gorm:"column:last_touch_at;not null" json:"last_touch_at"`

	OccurredAt   time.Time  `gorm:"column:occurred_at;not null" json:"occurred_at"`
	ConversionID *uuid.UUID `gorm:"column:conversion_id;type:uuid" json:"conversion_id,omitempty"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (FunnelEvent) TableName() string { return "funnel_events" }

func (e *FunnelEvent) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// OwnTouch is the attribution carried by this event alone.
func (e FunnelEvent) OwnTouch() Touch {
	return Touch{
		SourceType:  e.SourceType,
		UTMSource:   e.UTMSource,
		UTMMedium:   e.UTMMedium,
		UTMCampaign: e.UTMCampaign,
		At:          e.OccurredAt,
	}
}

// FirstTouch returns the first-touch snapshot stored on the event.
func (e FunnelEvent) FirstTouch() Touch {
	return Touch{
		SourceType:  e.FirstTouchSourceType,
		UTMSource:   e.FirstTouchUTMSource,
		UTMMedium:   e.FirstTouchUTMMedium,
		UTMCampaign: e.FirstTouchUTMCampaign,
		At:          e.FirstTouchAt,
	}
}

// LastTouch returns the last-touch snapshot stored on the event.
func (e FunnelEvent) LastTouch() Touch {
	return Touch{
		SourceType:  e.LastTouchSourceType,
		UTMSource:   e.LastTouchUTMSource,
		UTMMedium:   e.LastTouchUTMMedium,
		UTMCampaign: e.LastTouchUTMCampaign,
		At:          e.LastTouchAt,
	}
}

// SetFirstTouch copies t into the first-touch columns.
func (e *FunnelEvent) SetFirstTouch(t Touch) {
	e.FirstTouchSourceType = t.SourceType
	e.FirstTouchUTMSource = t.UTMSource
	e.FirstTouchUTMMedium = t.UTMMedium
	e.FirstTouchUTMCampaign = t.UTMCampaign
	e.FirstTouchAt = t.At
}

// SetLastTouch copies t into the last-touch columns.
func (e *FunnelEvent) SetLastTouch(t Touch) {
	e.LastTouchSourceType = t.SourceType
	e.LastTouchUTMSource = t.UTMSource
	e.LastTouchUTMMedium = t.UTMMedium
	e.LastTouchUTMCampaign = t.UTMCampaign
	e.LastTouchAt = t.At
}
