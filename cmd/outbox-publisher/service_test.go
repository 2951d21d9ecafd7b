package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/gorm"

	"github.com/angelmondragon/signup-sync/pkg/config"
	"github.com/angelmondragon/signup-sync/pkg/db/models"
	"github.com/angelmondragon/signup-sync/pkg/enums"
	"github.com/angelmondragon/signup-sync/pkg/logger"
	"github.com/angelmondragon/signup-sync/pkg/metrics"
	"github.com/angelmondragon/signup-sync/pkg/outbox"
	"github.com/angelmondragon/signup-sync/pkg/outbox/registry"
)

const testTopic = "funnel-events"

func TestDispatchOutcomes(t *testing.T) {
	cases := []struct {
		name      string
		attempts  int
		version   int
		result    error
		want      outcome
		published bool
	}{
		{name: "acknowledged", want: outcomePublished, published: true},
		{name: "transient failure", result: errors.New("connection reset"), want: outcomeRetry, published: true},
		{name: "unavailable is retried", result: status.Error(codes.Unavailable, "later"), want: outcomeRetry, published: true},
		{name: "missing topic", result: status.Error(codes.NotFound, "no topic"), want: outcomeParked, published: true},
		{name: "last attempt", attempts: 4, result: errors.New("timeout"), want: outcomeParked, published: true},
		{name: "unreadable envelope", version: 99, want: outcomeParked},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			row := completedRow(t, tc.version)
			row.AttemptCount = tc.attempts
			rows := &memoryOutbox{pending: []models.OutboxEvent{row}}
			sink := &recordingPublisher{errs: []error{tc.result}}
			svc := newPublisherService(t, rows, sink)

			got, err := svc.dispatch(context.Background(), nil, row)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
			require.Equal(t, tc.published, len(sink.sent) == 1)

			switch tc.want {
			case outcomePublished:
				require.Equal(t, []uuid.UUID{row.ID}, rows.published)
			case outcomeRetry:
				require.Equal(t, []uuid.UUID{row.ID}, rows.retried)
				require.Empty(t, rows.parked)
			case outcomeParked:
				require.Equal(t, []uuid.UUID{row.ID}, rows.parked)
				require.Equal(t, 5, rows.parkedAt)
				require.Empty(t, rows.retried)
			}
		})
	}
}

func TestProcessBatchKeepsGoingPastFailures(t *testing.T) {
	first, second, third := completedRow(t, 0), completedRow(t, 0), completedRow(t, 0)
	rows := &memoryOutbox{pending: []models.OutboxEvent{first, second, third}}
	sink := &recordingPublisher{errs: []error{
		nil,
		status.Error(codes.DeadlineExceeded, "slow"),
		status.Error(codes.InvalidArgument, "too big"),
	}}
	reg := prometheus.NewRegistry()
	svc := newPublisherService(t, rows, sink)
	svc.metrics = metrics.NewOutboxMetrics(reg)

	busy, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	require.True(t, busy)
	require.Equal(t, []uuid.UUID{first.ID}, rows.published)
	require.Equal(t, []uuid.UUID{second.ID}, rows.retried)
	require.Equal(t, []uuid.UUID{third.ID}, rows.parked)

	n, err := testutil.GatherAndCount(reg, "signup_sync_outbox_publish_total")
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestProcessBatchReportsIdle(t *testing.T) {
	svc := newPublisherService(t, &memoryOutbox{}, &recordingPublisher{})
	busy, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	require.False(t, busy)
}

func TestProcessBatchSurfacesRepositoryErrors(t *testing.T) {
	rows := &memoryOutbox{pending: []models.OutboxEvent{completedRow(t, 0)}, markErr: errors.New("db gone")}
	svc := newPublisherService(t, rows, &recordingPublisher{})

	_, err := svc.processBatch(context.Background())
	require.ErrorContains(t, err, "db gone")
}

func TestPublishedMessageCarriesEnvelopeAndAttributes(t *testing.T) {
	row := completedRow(t, 0)
	sink := &recordingPublisher{}
	svc := newPublisherService(t, &memoryOutbox{pending: []models.OutboxEvent{row}}, sink)

	_, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, sink.sent, 1)

	msg := sink.sent[0]
	require.JSONEq(t, string(row.Payload), string(msg.Data))
	require.Equal(t, string(enums.OutboxSyncCompleted), msg.Attributes["event_type"])
	require.Equal(t, string(enums.AggregateFunnelSyncLog), msg.Attributes["aggregate_type"])
	require.Equal(t, row.AggregateID.String(), msg.Attributes["aggregate_id"])
	require.Equal(t, "zoom", msg.Attributes["source_type"])
	require.NotEmpty(t, msg.Attributes["event_id"])
}

func TestMissingPublisherParksRow(t *testing.T) {
	row := completedRow(t, 0)
	rows := &memoryOutbox{pending: []models.OutboxEvent{row}}
	svc := newPublisherService(t, rows, &recordingPublisher{})
	svc.publisherFor = func(string) publisher { return nil }

	got, err := svc.dispatch(context.Background(), nil, row)
	require.NoError(t, err)
	require.Equal(t, outcomeParked, got)
}

func TestRunStopsWhenContextEnds(t *testing.T) {
	svc := newPublisherService(t, &memoryOutbox{}, &recordingPublisher{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := svc.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunFailsFastOnUnreachableDependency(t *testing.T) {
	svc := newPublisherService(t, &memoryOutbox{}, &recordingPublisher{})
	svc.pubsub = stubPubSub{pingErr: errors.New("permission denied")}

	err := svc.Run(context.Background())
	require.ErrorContains(t, err, "pubsub ping failed")
}

func TestPacer(t *testing.T) {
	p := pacer{base: 100 * time.Millisecond, max: 300 * time.Millisecond}
	require.Equal(t, 200*time.Millisecond, p.failure())
	require.Equal(t, 300*time.Millisecond, p.failure())
	require.Equal(t, 300*time.Millisecond, p.failure())
	p.reset()
	require.Equal(t, 200*time.Millisecond, p.failure())
	require.Zero(t, withJitter(0))
	require.GreaterOrEqual(t, withJitter(time.Second), time.Second)
}

func TestClassifyPublishError(t *testing.T) {
	var nonRetry registry.NonRetryableError
	require.ErrorAs(t, classifyPublishError(status.Error(codes.PermissionDenied, "denied")), &nonRetry)
	require.ErrorAs(t, classifyPublishError(status.Error(codes.FailedPrecondition, "detached")), &nonRetry)
	require.False(t, errors.As(classifyPublishError(status.Error(codes.ResourceExhausted, "quota")), &nonRetry))
	require.False(t, errors.As(classifyPublishError(errors.New("eof")), &nonRetry))
}

func TestNewServiceValidatesParams(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.ErrorContains(t, err, "config is required")

	_, err = NewService(ServiceParams{Config: &config.Config{}, Logger: discardLogger()})
	require.ErrorContains(t, err, "database client is required")
}

func newPublisherService(t *testing.T, rows *memoryOutbox, sink *recordingPublisher) *Service {
	t.Helper()
	resolver, err := registry.NewEventRegistry(config.PubSubConfig{FunnelTopic: testTopic})
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{
		Config:     &config.Config{Outbox: config.OutboxConfig{BatchSize: 10, PollIntervalMS: 100, MaxAttempts: 5}},
		Logger:     discardLogger(),
		DB:         inlineTx{},
		PubSub:     stubPubSub{},
		Repository: rows,
		Registry:   resolver,
		PublisherFactory: func(topic string) publisher {
			require.Equal(t, testTopic, topic)
			return sink
		},
	})
	require.NoError(t, err)
	return svc
}

func discardLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "outbox-publisher-test", Output: io.Discard})
}

// completedRow builds a funnel.sync_completed row; version 0 means current.
func completedRow(t *testing.T, version int) models.OutboxEvent {
	t.Helper()
	if version == 0 {
		version = 1
	}
	aggregate := uuid.New()
	data, err := json.Marshal(map[string]any{"sync_log_id": aggregate, "source_type": "zoom", "status": "completed"})
	require.NoError(t, err)
	body, err := json.Marshal(outbox.PayloadEnvelope{
		Version:     version,
		EventID:     uuid.NewString(),
		EventType:   string(enums.OutboxSyncCompleted),
		AggregateID: aggregate.String(),
		OccurredAt:  time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC),
		SourceType:  "zoom",
		Data:        data,
	})
	require.NoError(t, err)
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.OutboxSyncCompleted,
		AggregateType: enums.AggregateFunnelSyncLog,
		AggregateID:   aggregate,
		Payload:       body,
	}
}

type memoryOutbox struct {
	pending   []models.OutboxEvent
	published []uuid.UUID
	retried   []uuid.UUID
	parked    []uuid.UUID
	parkedAt  int
	markErr   error
}

func (m *memoryOutbox) FetchUnpublishedForPublish(_ *gorm.DB, limit, _ int) ([]models.OutboxEvent, error) {
	if len(m.pending) > limit {
		return m.pending[:limit], nil
	}
	return m.pending, nil
}

func (m *memoryOutbox) MarkPublishedTx(_ *gorm.DB, id uuid.UUID) error {
	if m.markErr != nil {
		return m.markErr
	}
	m.published = append(m.published, id)
	return nil
}

func (m *memoryOutbox) MarkFailedTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	if m.markErr != nil {
		return m.markErr
	}
	m.retried = append(m.retried, id)
	return nil
}

func (m *memoryOutbox) MarkTerminalTx(_ *gorm.DB, id uuid.UUID, _ error, attempts int) error {
	if m.markErr != nil {
		return m.markErr
	}
	m.parked = append(m.parked, id)
	m.parkedAt = attempts
	return nil
}

type inlineTx struct{}

func (inlineTx) Ping(context.Context) error { return nil }

func (inlineTx) WithTx(_ context.Context, fn func(*gorm.DB) error) error { return fn(nil) }

type stubPubSub struct {
	pingErr error
}

func (s stubPubSub) Ping(context.Context) error { return s.pingErr }

func (stubPubSub) Publisher(string) *gcppubsub.Publisher { return nil }

// recordingPublisher acknowledges messages in order with errs; a nil or
// missing entry is a successful publish.
type recordingPublisher struct {
	errs []error
	sent []*gcppubsub.Message
}

func (r *recordingPublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	var err error
	if i := len(r.sent); i < len(r.errs) {
		err = r.errs[i]
	}
	r.sent = append(r.sent, msg)
	return ackResult{err: err}
}

type ackResult struct {
	err error
}

func (a ackResult) Get(context.Context) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	return "server-id", nil
}
