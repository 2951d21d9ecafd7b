package analytics

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/signup-sync/pkg/enums"
	pkgerrors "github.com/angelmondragon/signup-sync/pkg/errors"
)

const DateLayout = "2006-01-02"

// Service aggregates funnel events and conversions into conversion metrics.
type Service interface {
	FunnelMetrics(ctx context.Context, filter Filter) (*FunnelMetrics, error)
}

// Filter narrows metrics to a source and an inclusive date range.
type Filter struct {
	SourceType *enums.SourceType
	StartDate  *time.Time
	EndDate    *time.Time
}

type StageMetric struct {
	EventType   enums.EventType `json:"event_type"`
	Events      int64           `json:"events"`
	UniqueLeads int64           `json:"unique_leads"`
}

type SourceMetric struct {
	SourceType     enums.SourceType `json:"source_type"`
	Leads          int64            `json:"leads"`
	Conversions    int64            `json:"conversions"`
	ConvertedLeads int64            `json:"converted_leads"`
	ConversionRate float64          `json:"conversion_rate"`
}

type FunnelMetrics struct {
	TotalLeads       int64             `json:"total_leads"`
	TotalConversions int64             `json:"total_conversions"`
	ConvertedLeads   int64             `json:"converted_leads"`
	ConversionRate   float64           `json:"conversion_rate"`
	TotalValueUSD    decimal.Decimal   `json:"total_value_usd"`
	Stages           []StageMetric     `json:"stages"`
	Sources          []SourceMetric    `json:"sources"`
	SourceType       *enums.SourceType `json:"source_type,omitempty"`
	StartDate        *string           `json:"start_date,omitempty"`
	EndDate          *string           `json:"end_date,omitempty"`
}

type service struct {
	repo Repository
}

func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "analytics repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) FunnelMetrics(ctx context.Context, filter Filter) (*FunnelMetrics, error) {
	w, err := resolveWindow(filter)
	if err != nil {
		return nil, err
	}

	leads, err := s.repo.CountLeads(ctx, w)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count leads")
	}
	stages, err := s.repo.StageCounts(ctx, w)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count funnel stages")
	}
	leadsBySource, err := s.repo.LeadsBySource(ctx, w)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count leads by source")
	}
	convBySource, err := s.repo.ConversionsBySource(ctx, w)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count conversions by source")
	}
	converted, err := s.repo.ConvertedLeads(ctx, w)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count converted leads")
	}
	convertedBySource, err := s.repo.ConvertedLeadsBySource(ctx, w)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count converted leads by source")
	}
	value, err := s.repo.ConversionValue(ctx, w)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum conversion value")
	}

	var conversions int64
	for _, n := range convBySource {
		conversions += n
	}

	sort.SliceStable(stages, func(i, j int) bool {
		return stages[i].EventType.StageRank() < stages[j].EventType.StageRank()
	})
	if stages == nil {
		stages = []StageMetric{}
	}

	out := &FunnelMetrics{
		TotalLeads:       leads,
		TotalConversions: conversions,
		ConvertedLeads:   converted,
		ConversionRate:   Rate(converted, leads),
		TotalValueUSD:    value.Round(2),
		Stages:           stages,
		Sources:          mergeSources(leadsBySource, convBySource, convertedBySource),
		SourceType:       filter.SourceType,
	}
	if filter.StartDate != nil {
		v := filter.StartDate.Format(DateLayout)
		out.StartDate = &v
	}
	if filter.EndDate != nil {
		v := filter.EndDate.Format(DateLayout)
		out.EndDate = &v
	}
	return out, nil
}

// Rate is converted leads as a percentage of leads, rounded to two places.
// No leads means a rate of 0.
func Rate(conversions, leads int64) float64 {
	if leads <= 0 {
		return 0
	}
	rate := decimal.NewFromInt(conversions).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(leads)).
		Round(2)
	f, _ := rate.Float64()
	return f
}

func resolveWindow(f Filter) (window, error) {
	if f.SourceType != nil && !f.SourceType.IsValid() {
		return window{}, pkgerrors.Newf(pkgerrors.CodeNotFound, "unknown source_type %q", *f.SourceType)
	}
	if f.StartDate != nil && f.EndDate != nil && f.StartDate.After(*f.EndDate) {
		return window{}, pkgerrors.New(pkgerrors.CodeValidation, "start_date must not be after end_date").
			WithDetails(map[string]string{"start_date": "must not be after end_date"})
	}
	w := window{SourceType: f.SourceType}
	if f.StartDate != nil {
		from := truncateDay(*f.StartDate)
		w.From = &from
	}
	if f.EndDate != nil {
		until := truncateDay(*f.EndDate).AddDate(0, 0, 1)
		w.Until = &until
	}
	return w, nil
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func mergeSources(leads, conversions, converted map[enums.SourceType]int64) []SourceMetric {
	seen := map[enums.SourceType]struct{}{}
	for st := range leads {
		seen[st] = struct{}{}
	}
	for st := range conversions {
		seen[st] = struct{}{}
	}
	out := make([]SourceMetric, 0, len(seen))
	for st := range seen {
		out = append(out, SourceMetric{
			SourceType:     st,
			Leads:          leads[st],
			Conversions:    conversions[st],
			ConvertedLeads: converted[st],
			ConversionRate: Rate(converted[st], leads[st]),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Leads != out[j].Leads {
			return out[i].Leads > out[j].Leads
		}
		return out[i].SourceType < out[j].SourceType
	})
	return out
}
