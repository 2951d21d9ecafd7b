package metrics

import "github.com/prometheus/client_golang/prometheus"

// FunnelMetrics counts event and conversion writes regardless of whether they
// came from a sync or the manual endpoints.
type FunnelMetrics struct {
	events      *prometheus.CounterVec
	conversions *prometheus.CounterVec
}

func NewFunnelMetrics(reg prometheus.Registerer) *FunnelMetrics {
	if reg == nil {
		return &FunnelMetrics{}
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "funnel_events_total",
		Help:      "Funnel event writes by source, event type and outcome (created, duplicate).",
	}, []string{"source", "event_type", "outcome"})
	conversions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "funnel_conversions_total",
		Help:      "Conversion writes by source and outcome (created, existing).",
	}, []string{"source", "outcome"})
	reg.MustRegister(events, conversions)
	return &FunnelMetrics{events: events, conversions: conversions}
}

func (m *FunnelMetrics) IncEvent(source, eventType, outcome string) {
	if m == nil || m.events == nil {
		return
	}
	m.events.WithLabelValues(normalizeLabel(source), normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

func (m *FunnelMetrics) IncConversion(source, outcome string) {
	if m == nil || m.conversions == nil {
		return
	}
	m.conversions.WithLabelValues(normalizeLabel(source), normalizeLabel(outcome)).Inc()
}
