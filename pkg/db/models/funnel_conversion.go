package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/signup-sync/pkg/enums"
)

// FunnelConversion links a lead to a completed signup. One row per (email, source_type).
type FunnelConversion struct {
	ID                uuid.UUID           `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Email             string              `gorm:"column:email;not null;uniqueIndex:ux_funnel_conversions_email_source" json:"email"`
	FunnelSourceID    uuid.UUID           `gorm:"column:funnel_source_id;type:uuid;not null" json:"funnel_source_id"`
	SourceType        enums.SourceType    `gorm:"column:source_type;not null;uniqueIndex:ux_funnel_conversions_email_source" json:"source_type"`
	UserID            *string             `gorm:"column:user_id" json:"user_id,omitempty"`
	ConvertedAt       time.Time           `gorm:"column:converted_at;not null" json:"converted_at"`
	EstimatedValueUSD decimal.NullDecimal `gorm:"column:estimated_value_usd;type:numeric(12,2)" json:"estimated_value_usd"`

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

	DaysToConversion int       `gorm:"column:days_to_conversion;not null;default:0" json:"days_to_conversion"`
	TotalTouchpoints int       `gorm:"column:total_touchpoints;not null;default:0" json:"total_touchpoints"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (FunnelConversion) TableName() string { return "funnel_conversions" }

func (c *FunnelConversion) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// ApplyAttribution copies first/last touch snapshots onto the conversion.
func (c *FunnelConversion) ApplyAttribution(first, last Touch) {
	c.FirstTouchSourceType = first.SourceType
	c.FirstTouchUTMSource = first.UTMSource
	c.FirstTouchUTMMedium = first.UTMMedium
	c.FirstTouchUTMCampaign = first.UTMCampaign
	c.FirstTouchAt = first.At
	c.LastTouchSourceType = last.SourceType
	c.LastTouchUTMSource = last.UTMSource
	c.LastTouchUTMMedium = last.UTMMedium
	c.LastTouchUTMCampaign = last.UTMCampaign
	c.LastTouchAt = last.At
}
