package payloads

import (
	"time"

	"github.com/google/uuid"
)

// ConversionRecorded is emitted when a contact converts for the first time on a source.
type ConversionRecorded struct {
	ConversionID         uuid.UUID `json:"conversion_id"`
	Email                string    `json:"email"`
	SourceType           string    `json:"source_type"`
	UserID               *string   `json:"user_id,omitempty"`
	ConvertedAt          time.Time `json:"converted_at"`
	FirstTouchSourceType string    `json:"first_touch_source_type"`
	LastTouchSourceType  string    `json:"last_touch_source_type"`
	DaysToConversion     int       `json:"days_to_conversion"`
	TotalTouchpoints     int       `json:"total_touchpoints"`
	LinkedEventCount     int       `json:"linked_event_count"`
	EstimatedValueUSD    *string   `json:"estimated_value_usd,omitempty"`
}

// SyncCompleted summarizes a finished source sync.
type SyncCompleted struct {
	SyncLogID        uuid.UUID `json:"sync_log_id"`
	SourceType       string    `json:"source_type"`
	SyncType         string    `json:"sync_type"`
	Status           string    `json:"status"`
	RecordsProcessed int       `json:"records_processed"`
	RecordsCreated   int       `json:"records_created"`
	RecordsDuplicate int       `json:"records_duplicate"`
	RecordsSkipped   int       `json:"records_skipped"`
	LeadsQueued      int       `json:"leads_queued"`
	LeadsUpdated     int       `json:"leads_updated"`
	DurationMS       int64     `json:"duration_ms"`
	CompletedAt      time.Time `json:"completed_at"`
}
