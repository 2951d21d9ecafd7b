package enums

import "fmt"

// OutboxAggregateType maps to funnel_outbox_events.aggregate_type.
type OutboxAggregateType string

const (
	AggregateFunnelConversion OutboxAggregateType = "funnel_conversion"
	AggregateFunnelSyncLog    OutboxAggregateType = "funnel_sync_log"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateFunnelConversion,
	AggregateFunnelSyncLog,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// OutboxEventType maps to funnel_outbox_events.event_type.
type OutboxEventType string

const (
	OutboxConversionRecorded OutboxEventType = "funnel.conversion_recorded"
	OutboxSyncCompleted      OutboxEventType = "funnel.sync_completed"
)

var validOutboxEventTypes = []OutboxEventType{
	OutboxConversionRecorded,
	OutboxSyncCompleted,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid outbox event type %q", value)
}
