package enums

import (
	"fmt"
	"strings"
)

// SourceType maps to funnel_sources.source_type.
type SourceType string

const (
	SourceEasyAppointments SourceType = "easyappointments"
	SourceZoom             SourceType = "zoom"
	SourceEventbrite       SourceType = "eventbrite"
	SourcePoshVIP          SourceType = "poshvip"
	SourceManual           SourceType = "manual"
	SourceReferral         SourceType = "referral"
	SourceDirect           SourceType = "direct"
)

// sourceAliases accepts legacy spellings sent by older callers.
var sourceAliases = map[string]SourceType{
	"direct_signup": SourceDirect,
	"posh":          SourcePoshVIP,
	"posh.vip":      SourcePoshVIP,
}

var validSourceTypes = []SourceType{
	SourceEasyAppointments,
	SourceZoom,
	SourceEventbrite,
	SourcePoshVIP,
	SourceManual,
	SourceReferral,
	SourceDirect,
}

var syncableSourceTypes = []SourceType{
	SourceEasyAppointments,
	SourceZoom,
	SourceEventbrite,
	SourcePoshVIP,
}

// SourceTypes lists every known source type in display order.
func SourceTypes() []SourceType {
	out := make([]SourceType, len(validSourceTypes))
	copy(out, validSourceTypes)
	return out
}

// SyncableSourceTypes lists the source types backed by an external adapter.
func SyncableSourceTypes() []SourceType {
	out := make([]SourceType, len(syncableSourceTypes))
	copy(out, syncableSourceTypes)
	return out
}

// IsValid reports whether the value is a known source type.
func (s SourceType) IsValid() bool {
	for _, candidate := range validSourceTypes {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsSyncable reports whether an adapter can pull records for this source.
func (s SourceType) IsSyncable() bool {
	for _, candidate := range syncableSourceTypes {
		if candidate == s {
			return true
		}
	}
	return false
}

func (s SourceType) String() string {
	return string(s)
}

// ParseSourceType normalizes case and legacy aliases.
func ParseSourceType(value string) (SourceType, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if alias, ok := sourceAliases[normalized]; ok {
		return alias, nil
	}
	for _, candidate := range validSourceTypes {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid source type %q", value)
}
