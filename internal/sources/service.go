package sources

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/signup-sync/pkg/db/models"
	"github.com/angelmondragon/signup-sync/pkg/enums"
	pkgerrors "github.com/angelmondragon/signup-sync/pkg/errors"
)

// Service answers questions about configured funnel sources.
type Service interface {
	Resolve(ctx context.Context, sourceType enums.SourceType) (*models.FunnelSource, error)
	Status(ctx context.Context, sourceType enums.SourceType) (*SyncStatusResponse, error)
}

// SyncStatusResponse is the public view of a source's sync state.
type SyncStatusResponse struct {
	SourceID           uuid.UUID             `json:"source_id"`
	SourceType         enums.SourceType      `json:"source_type"`
	SourceName         string                `json:"source_name"`
	IsActive           bool                  `json:"is_active"`
	AutoSyncEnabled    bool                  `json:"auto_sync_enabled"`
	SyncFrequencyHours int                   `json:"sync_frequency_hours"`
	LastSyncAt         *time.Time            `json:"last_sync_at"`
	LastSyncStatus     *enums.SyncStatus     `json:"last_sync_status"`
	LastSyncMessage    *string               `json:"last_sync_message"`
	NextSyncAt         *time.Time            `json:"next_sync_at"`
	TotalLeadsCaptured int                   `json:"total_leads_captured"`
	TotalConversions   int                   `json:"total_conversions"`
	HealthStatus       enums.HealthStatus    `json:"health_status"`
	LatestSyncLog      *models.FunnelSyncLog `json:"latest_sync_log"`
}

type service struct {
	repo Repository
	now  func() time.Time
}

// NewService wires the sources repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "sources repository required")
	}
	return &service{repo: repo, now: time.Now}, nil
}

// Resolve returns the source for a type, or NOT_FOUND when it is missing or inactive.
func (s *service) Resolve(ctx context.Context, sourceType enums.SourceType) (*models.FunnelSource, error) {
	if !sourceType.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "unknown source_type %q", sourceType)
	}
	src, err := s.repo.FindByType(ctx, sourceType)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "funnel source %s not configured", sourceType)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load funnel source")
	}
	if !src.IsActive {
		return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "funnel source %s is inactive", sourceType)
	}
	return src, nil
}

func (s *service) Status(ctx context.Context, sourceType enums.SourceType) (*SyncStatusResponse, error) {
	if !sourceType.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "unknown source_type %q", sourceType)
	}
	src, err := s.repo.FindByType(ctx, sourceType)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "funnel source %s not configured", sourceType)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load funnel source")
	}

	latest, err := s.repo.LatestSyncLog(ctx, src.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load latest sync log")
	}

	now := s.now().UTC()
	return &SyncStatusResponse{
		SourceID:           src.ID,
		SourceType:         src.SourceType,
		SourceName:         src.Name,
		IsActive:           src.IsActive,
		AutoSyncEnabled:    src.AutoSyncEnabled,
		SyncFrequencyHours: src.SyncFrequencyHours,
		LastSyncAt:         src.LastSyncAt,
		LastSyncStatus:     src.LastSyncStatus,
		LastSyncMessage:    src.LastSyncMessage,
		NextSyncAt:         NextSyncAt(*src),
		TotalLeadsCaptured: src.TotalLeadsCaptured,
		TotalConversions:   src.TotalConversions,
		HealthStatus:       Health(*src, now),
		LatestSyncLog:      latest,
	}, nil
}

// NextSyncAt is when the scheduler will next pick the source up. Nil when
// auto sync is off; a never-synced auto source is due immediately.
func NextSyncAt(src models.FunnelSource) *time.Time {
	if !src.AutoSyncEnabled || !src.IsActive {
		return nil
	}
	if src.LastSyncAt == nil {
		t := src.CreatedAt.UTC()
		return &t
	}
	next := src.LastSyncAt.Add(src.SyncFrequency()).UTC()
	return &next
}

// IsDue reports whether an auto-sync source should run at now.
func IsDue(src models.FunnelSource, now time.Time) bool {
	next := NextSyncAt(src)
	return next != nil && !next.After(now)
}

// Health maps the last sync outcome and staleness onto a traffic light.
func Health(src models.FunnelSource, now time.Time) enums.HealthStatus {
	if src.LastSyncStatus != nil {
		switch *src.LastSyncStatus {
		case enums.SyncStatusFailed:
			return enums.HealthError
		case enums.SyncStatusPartial:
			return enums.HealthWarning
		}
	}
	if src.AutoSyncEnabled && src.LastSyncAt != nil {
		if now.Sub(*src.LastSyncAt) > 2*src.SyncFrequency() {
			return enums.HealthWarning
		}
	}
	return enums.HealthHealthy
}
