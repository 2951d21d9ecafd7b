package enums

import "fmt"

// SyncStatus maps to funnel_sync_logs.sync_status and funnel_sources.last_sync_status.
type SyncStatus string

const (
	SyncStatusRunning SyncStatus = "running"
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusPartial SyncStatus = "partial"
	SyncStatusFailed  SyncStatus = "failed"
)

var validSyncStatuses = []SyncStatus{
	SyncStatusRunning,
	SyncStatusSuccess,
	SyncStatusPartial,
	SyncStatusFailed,
}

// IsValid reports whether the status is known.
func (s SyncStatus) IsValid() bool {
	for _, candidate := range validSyncStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a sync in this status has finished.
func (s SyncStatus) IsTerminal() bool {
	return s == SyncStatusSuccess || s == SyncStatusPartial || s == SyncStatusFailed
}

// ParseSyncStatus converts raw strings into SyncStatus.
func ParseSyncStatus(value string) (SyncStatus, error) {
	for _, candidate := range validSyncStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid sync status %q", value)
}

// SyncType records what triggered a sync run.
type SyncType string

const (
	SyncTypeManual    SyncType = "manual"
	SyncTypeAutomatic SyncType = "automatic"
)

// IsValid reports whether the sync type is known.
func (s SyncType) IsValid() bool {
	return s == SyncTypeManual || s == SyncTypeAutomatic
}

// DedupPolicy selects which identity a synced record is deduplicated on when
// both an external id and an email are present.
type DedupPolicy string

const (
	DedupExternalIDFirst DedupPolicy = "external_id_first"
	DedupEmailFirst      DedupPolicy = "email_first"
)

// IsValid reports whether the policy is known.
func (d DedupPolicy) IsValid() bool {
	return d == DedupExternalIDFirst || d == DedupEmailFirst
}

// ParseDedupPolicy converts raw config values; empty selects external_id_first.
func ParseDedupPolicy(value string) (DedupPolicy, error) {
	if value == "" {
		return DedupExternalIDFirst, nil
	}
	policy := DedupPolicy(value)
	if !policy.IsValid() {
		return "", fmt.Errorf("invalid dedup policy %q", value)
	}
	return policy, nil
}

// HealthStatus summarizes a source's sync health.
type HealthStatus string

const (
	HealthHealthy HealthStatus = "healthy"
	HealthWarning HealthStatus = "warning"
	HealthError   HealthStatus = "error"
)
