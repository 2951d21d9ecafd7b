package funnel

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/signup-sync/internal/sources"
	"github.com/angelmondragon/signup-sync/pkg/db"
	"github.com/angelmondragon/signup-sync/pkg/db/models"
	"github.com/angelmondragon/signup-sync/pkg/enums"
	pkgerrors "github.com/angelmondragon/signup-sync/pkg/errors"
	"github.com/angelmondragon/signup-sync/pkg/logger"
	"github.com/angelmondragon/signup-sync/pkg/metrics"
	"github.com/angelmondragon/signup-sync/pkg/outbox"
	"github.com/angelmondragon/signup-sync/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service records funnel events and conversions. Both the sync orchestrator
// and the manual HTTP endpoints write through it.
type Service interface {
	RecordEvent(ctx context.Context, input RecordEventInput) (*EventResult, error)
	RecordConversion(ctx context.Context, input RecordConversionInput) (*ConversionResult, error)
	Upsert(ctx context.Context, tx *gorm.DB, source models.FunnelSource, c Candidate) (*models.FunnelEvent, bool, error)
}

// RecordEventInput is a manually reported interaction.
type RecordEventInput struct {
	SourceType  string
	EventType   string
	Email       string
	ExternalID  string
	FirstName   string
	LastName    string
	Phone       string
	Company     string
	UTMSource   string
	UTMMedium   string
	UTMCampaign string
	UTMContent  string
	UTMTerm     string
	Referrer    string
	IPAddress   string
	UserAgent   string
	OccurredAt  *time.Time
	EventData   map[string]any
}

type EventResult struct {
	Event   *models.FunnelEvent
	Created bool
}

// RecordConversionInput marks a lead as converted on a source.
type RecordConversionInput struct {
	Email             string
	SourceType        string
	UserID            string
	ConvertedAt       *time.Time
	EstimatedValueUSD *decimal.Decimal
}

type ConversionResult struct {
	Conversion *models.FunnelConversion
	Created    bool
}

type ServiceParams struct {
	DB       txRunner
	Repo     Repository
	Sources  sources.Service
	Counters sources.Repository
	Outbox   outbox.Emitter
	Metrics  *metrics.FunnelMetrics
	Logger   *logger.Logger
	Policy   enums.DedupPolicy
}

type service struct {
	db       txRunner
	repo     Repository
	sources  sources.Service
	counters sources.Repository
	outbox   outbox.Emitter
	metrics  *metrics.FunnelMetrics
	logg     *logger.Logger
	policy   enums.DedupPolicy
	now      func() time.Time
}

var _ txRunner = (*db.Client)(nil)

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.DB == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "funnel db required")
	case params.Repo == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "funnel repository required")
	case params.Sources == nil || params.Counters == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "sources service required")
	case params.Outbox == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "outbox emitter required")
	}
	policy := params.Policy
	if policy == "" {
		policy = enums.DedupExternalIDFirst
	}
	return &service{
		db:       params.DB,
		repo:     params.Repo,
		sources:  params.Sources,
		counters: params.Counters,
		outbox:   params.Outbox,
		metrics:  params.Metrics,
		logg:     params.Logger,
		policy:   policy,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Upsert inserts the candidate for source inside tx unless its dedup key is
// already present. It returns the stored row and whether it was created.
func (s *service) Upsert(ctx context.Context, tx *gorm.DB, source models.FunnelSource, c Candidate) (*models.FunnelEvent, bool, error) {
	c.Normalize()
	if c.OccurredAt.IsZero() {
		c.OccurredAt = s.now()
	}
	if err := c.Validate(); err != nil {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, err.Error())
	}

	repo := s.repo.WithTx(tx)
	key := DedupKey(source.ID, c, s.policy)

	earliest, err := repo.EarliestEvent(ctx, c.Email)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load earliest event")
	}

	ev := c.ToEvent(source)
	ev.DedupKey = key
	applyAttribution(&ev, earliest)

	created, err := repo.InsertEventIfAbsent(ctx, &ev)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert funnel event")
	}
	if !created {
		existing, err := repo.FindEventByDedupKey(ctx, key)
		if err != nil {
			return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load existing funnel event")
		}
		s.metrics.IncEvent(string(source.SourceType), string(c.EventType), "duplicate")
		return existing, false, nil
	}
	s.metrics.IncEvent(string(source.SourceType), string(c.EventType), "created")
	return &ev, true, nil
}

func (s *service) RecordEvent(ctx context.Context, input RecordEventInput) (*EventResult, error) {
	sourceType, err := enums.ParseSourceType(input.SourceType)
	if err != nil {
		return nil, unknownSource(err, input.SourceType)
	}
	eventType, err := enums.ParseEventType(input.EventType)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid event_type").
			WithDetails(map[string]any{"event_type": input.EventType, "allowed": enums.EventTypes()})
	}

	candidate := Candidate{
		ExternalID:  input.ExternalID,
		EventType:   eventType,
		Email:       input.Email,
		FirstName:   input.FirstName,
		LastName:    input.LastName,
		Phone:       input.Phone,
		Company:     input.Company,
		UTMSource:   input.UTMSource,
		UTMMedium:   input.UTMMedium,
		UTMCampaign: input.UTMCampaign,
		UTMContent:  input.UTMContent,
		UTMTerm:     input.UTMTerm,
		Referrer:    input.Referrer,
		IPAddress:   input.IPAddress,
		UserAgent:   input.UserAgent,
		Data:        input.EventData,
	}
	if input.OccurredAt != nil {
		candidate.OccurredAt = *input.OccurredAt
	}
	candidate.Normalize()
	if err := candidate.Validate(); err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, err.Error())
	}

	source, err := s.sources.Resolve(ctx, sourceType)
	if err != nil {
		return nil, err
	}

	var result EventResult
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		ev, created, err := s.Upsert(ctx, tx, *source, candidate)
		if err != nil {
			return err
		}
		result = EventResult{Event: ev, Created: created}
		return nil
	})
	if err != nil {
		return nil, asServiceError(err, "record funnel event")
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"source_type": sourceType,
			"event_type":  eventType,
			"event_id":    result.Event.ID.String(),
			"created":     result.Created,
		})
		s.logg.Info(logCtx, "funnel event recorded")
	}
	return &result, nil
}

func (s *service) RecordConversion(ctx context.Context, input RecordConversionInput) (*ConversionResult, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if err := validate.Var(email, "required,email"); err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "validation failed").
			WithDetails(map[string]string{"email": "must be a valid email"})
	}
	sourceType, err := enums.ParseSourceType(input.SourceType)
	if err != nil {
		return nil, unknownSource(err, input.SourceType)
	}
	if input.EstimatedValueUSD != nil && input.EstimatedValueUSD.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "validation failed").
			WithDetails(map[string]string{"estimated_value_usd": "must not be negative"})
	}

	source, err := s.sources.Resolve(ctx, sourceType)
	if err != nil {
		return nil, err
	}

	if existing, err := s.repo.FindConversion(ctx, email, sourceType); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load conversion")
	} else if existing != nil {
		s.metrics.IncConversion(string(sourceType), "existing")
		return &ConversionResult{Conversion: existing, Created: false}, nil
	}

	touchpoints, err := s.repo.CountEvents(ctx, email)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count funnel events")
	}
	if touchpoints == 0 {
		return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "no funnel events recorded for %s", email)
	}
	first, err := s.repo.EarliestEvent(ctx, email)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load earliest event")
	}
	last, err := s.repo.LatestEvent(ctx, email)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load latest event")
	}

	convertedAt := s.now()
	if input.ConvertedAt != nil {
		convertedAt = input.ConvertedAt.UTC()
	}
	conv := &models.FunnelConversion{
		Email:            email,
		FunnelSourceID:   source.ID,
		SourceType:       sourceType,
		ConvertedAt:      convertedAt,
		TotalTouchpoints: int(touchpoints),
	}
	if id := strings.TrimSpace(input.UserID); id != "" {
		conv.UserID = &id
	}
	if input.EstimatedValueUSD != nil {
		conv.EstimatedValueUSD = decimal.NewNullDecimal(input.EstimatedValueUSD.Round(2))
	}
	conv.ApplyAttribution(first.OwnTouch(), last.LastTouch())
	conv.DaysToConversion = daysBetween(conv.FirstTouchAt, convertedAt)

	created := false
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		inserted, err := repo.InsertConversionIfAbsent(ctx, conv)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert conversion")
		}
		if !inserted {
			// lost a race with a concurrent recorder
			existing, err := repo.FindConversion(ctx, email, sourceType)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load conversion")
			}
			if existing == nil {
				return pkgerrors.New(pkgerrors.CodeConflict, "conversion changed concurrently")
			}
			conv = existing
			return nil
		}
		created = true

		linked, err := repo.LinkEventsToConversion(ctx, email, conv.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "link events to conversion")
		}
		if err := s.counters.WithTx(tx).IncrementConversions(ctx, source.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "increment source conversions")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxConversionRecorded,
			AggregateType: enums.AggregateFunnelConversion,
			AggregateID:   conv.ID,
			SourceType:    sourceType,
			OccurredAt:    convertedAt,
			Data:          conversionPayload(conv, linked),
		})
	})
	if err != nil {
		return nil, asServiceError(err, "record conversion")
	}

	outcome := "existing"
	if created {
		outcome = "created"
	}
	s.metrics.IncConversion(string(sourceType), outcome)
	if s.logg != nil && created {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"source_type":   sourceType,
			"conversion_id": conv.ID.String(),
			"touchpoints":   conv.TotalTouchpoints,
		})
		s.logg.Info(logCtx, "conversion recorded")
	}
	return &ConversionResult{Conversion: conv, Created: created}, nil
}

func conversionPayload(conv *models.FunnelConversion, linked int64) payloads.ConversionRecorded {
	p := payloads.ConversionRecorded{
		ConversionID:         conv.ID,
		Email:                conv.Email,
		SourceType:           string(conv.SourceType),
		UserID:               conv.UserID,
		ConvertedAt:          conv.ConvertedAt,
		FirstTouchSourceType: string(conv.FirstTouchSourceType),
		LastTouchSourceType:  string(conv.LastTouchSourceType),
		DaysToConversion:     conv.DaysToConversion,
		TotalTouchpoints:     conv.TotalTouchpoints,
		LinkedEventCount:     int(linked),
	}
	if conv.EstimatedValueUSD.Valid {
		v := conv.EstimatedValueUSD.Decimal.StringFixed(2)
		p.EstimatedValueUSD = &v
	}
	return p
}

func asServiceError(err error, msg string) error {
	if err == nil {
		return nil
	}
	if typed := pkgerrors.As(err); typed != nil {
		return typed
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, msg)
}

func unknownSource(err error, raw string) error {
	return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "unknown source_type").
		WithDetails(map[string]any{"source_type": raw, "allowed": enums.SourceTypes()})
}
