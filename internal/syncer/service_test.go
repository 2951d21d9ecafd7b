package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/signup-sync/internal/adapters"
	"github.com/angelmondragon/signup-sync/internal/funnel"
	"github.com/angelmondragon/signup-sync/internal/signups"
	"github.com/angelmondragon/signup-sync/internal/sources"
	"github.com/angelmondragon/signup-sync/pkg/config"
	"github.com/angelmondragon/signup-sync/pkg/db"
	"github.com/angelmondragon/signup-sync/pkg/db/dbtest"
	"github.com/angelmondragon/signup-sync/pkg/db/models"
	"github.com/angelmondragon/signup-sync/pkg/enums"
	pkgerrors "github.com/angelmondragon/signup-sync/pkg/errors"
	"github.com/angelmondragon/signup-sync/pkg/outbox"
)

type fakeAdapter struct {
	st    enums.SourceType
	fetch func(ctx context.Context, src models.FunnelSource, since time.Time) (*adapters.Batch, error)
}

func (f fakeAdapter) SourceType() enums.SourceType { return f.st }

func (f fakeAdapter) FetchAndMap(ctx context.Context, src models.FunnelSource, since time.Time) (*adapters.Batch, error) {
	return f.fetch(ctx, src, since)
}

func staticAdapter(st enums.SourceType, batch adapters.Batch) fakeAdapter {
	return fakeAdapter{st: st, fetch: func(context.Context, models.FunnelSource, time.Time) (*adapters.Batch, error) {
		b := batch
		return &b, nil
	}}
}

func failingAdapter(st enums.SourceType, err error) fakeAdapter {
	return fakeAdapter{st: st, fetch: func(context.Context, models.FunnelSource, time.Time) (*adapters.Batch, error) {
		return nil, err
	}}
}

func candidate(ext, email string, eventType enums.EventType) funnel.Candidate {
	return funnel.Candidate{
		ExternalID: ext,
		EventType:  eventType,
		Email:      email,
		FirstName:  "Lead",
		OccurredAt: time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC),
	}
}

type harness struct {
	conn *gorm.DB
	svc  *service
}

func newHarness(t *testing.T, cfg config.SyncConfig, list ...adapters.Adapter) harness {
	t.Helper()
	return newHarnessOn(t, dbtest.Open(t), cfg, list...)
}

// newHarnessOn builds a service over an existing database, standing in for a
// second process that shares it.
func newHarnessOn(t *testing.T, conn *gorm.DB, cfg config.SyncConfig, list ...adapters.Adapter) harness {
	t.Helper()
	srcRepo := sources.NewRepository(conn)
	srcSvc, err := sources.NewService(srcRepo)
	require.NoError(t, err)
	emitter := outbox.NewService(outbox.NewRepository(conn), nil)
	fs, err := funnel.NewService(funnel.ServiceParams{
		DB:       db.Wrap(conn),
		Repo:     funnel.NewRepository(conn),
		Sources:  srcSvc,
		Counters: srcRepo,
		Outbox:   emitter,
	})
	require.NoError(t, err)
	svc, err := NewService(ServiceParams{
		DB:       db.Wrap(conn),
		Repo:     NewRepository(conn),
		Sources:  srcRepo,
		Funnel:   fs,
		Signups:  signups.NewRepository(conn),
		Adapters: adapters.NewRegistry(list...),
		Outbox:   emitter,
		Config:   cfg,
	})
	require.NoError(t, err)
	return harness{conn: conn, svc: svc.(*service)}
}

func (h harness) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.conn.Model(model).Count(&n).Error)
	return n
}

func (h harness) source(t *testing.T, st enums.SourceType) models.FunnelSource {
	t.Helper()
	var src models.FunnelSource
	require.NoError(t, h.conn.Where("source_type = ?", st).First(&src).Error)
	return src
}

func TestSync_PartialThenIdempotentResync(t *testing.T) {
	batch := adapters.Batch{
		Candidates: []funnel.Candidate{
			candidate("101", "one@example.com", enums.EventAppointmentBooked),
			candidate("102", "Two@Example.com", enums.EventAppointmentBooked),
		},
		Rejected: []adapters.RecordError{{ExternalID: "103", Reason: "appointment customer has no email"}},
	}
	h := newHarness(t, config.SyncConfig{WindowDays: 7}, staticAdapter(enums.SourceEasyAppointments, batch))
	dbtest.SeedSource(t, h.conn, enums.SourceEasyAppointments)
	ctx := context.Background()

	res, err := h.svc.Sync(ctx, enums.SourceEasyAppointments, Options{})
	require.NoError(t, err)
	require.Equal(t, enums.SyncStatusPartial, res.Status)
	require.Equal(t, enums.SyncTypeManual, res.SyncType)
	require.Equal(t, 3, res.RecordsProcessed)
	require.Equal(t, 2, res.RecordsCreated)
	require.Equal(t, 1, res.RecordsSkipped)
	require.Equal(t, 2, res.LeadsQueued)
	require.NotNil(t, res.ErrorDetail)
	require.Contains(t, *res.ErrorDetail, "103: appointment customer has no email")
	require.Equal(t, []string{"103: appointment customer has no email"}, res.ErrorMessages)

	require.EqualValues(t, 2, h.count(t, &models.FunnelEvent{}))
	require.EqualValues(t, 2, h.count(t, &models.PendingSignup{}))

	var logRow models.FunnelSyncLog
	require.NoError(t, h.conn.First(&logRow, "id = ?", res.SyncLogID).Error)
	require.Equal(t, enums.SyncStatusPartial, logRow.SyncStatus)
	require.NotNil(t, logRow.CompletedAt)
	require.Equal(t, 2, logRow.RecordsCreated)

	src := h.source(t, enums.SourceEasyAppointments)
	require.NotNil(t, src.LastSyncAt)
	require.Equal(t, 2, src.TotalLeadsCaptured)
	require.Equal(t, enums.SyncStatusPartial, *src.LastSyncStatus)

	var outboxRows []models.OutboxEvent
	require.NoError(t, h.conn.Where("event_type = ?", enums.OutboxSyncCompleted).Find(&outboxRows).Error)
	require.Len(t, outboxRows, 1)

	again, err := h.svc.Sync(ctx, enums.SourceEasyAppointments, Options{ForceSync: true})
	require.NoError(t, err)
	require.Equal(t, 0, again.RecordsCreated)
	require.Equal(t, 2, again.RecordsDuplicate)
	require.Equal(t, 2, again.LeadsUpdated)
	require.EqualValues(t, 2, h.count(t, &models.FunnelEvent{}), "resync adds no events")
	require.EqualValues(t, 2, h.count(t, &models.FunnelSyncLog{}))
	require.Equal(t, 2, h.source(t, enums.SourceEasyAppointments).TotalLeadsCaptured)
}

func TestSync_AdapterFailureKeepsWindow(t *testing.T) {
	h := newHarness(t, config.SyncConfig{}, failingAdapter(enums.SourceZoom, errors.New("zoom unreachable")))
	dbtest.SeedSource(t, h.conn, enums.SourceZoom)

	res, err := h.svc.Sync(context.Background(), enums.SourceZoom, Options{})
	require.NoError(t, err)
	require.Equal(t, enums.SyncStatusFailed, res.Status)
	require.Equal(t, "zoom unreachable", *res.ErrorDetail)

	src := h.source(t, enums.SourceZoom)
	require.Nil(t, src.LastSyncAt)
	require.Equal(t, enums.SyncStatusFailed, *src.LastSyncStatus)
}

func TestSync_TimeoutIsRecordedAsFailed(t *testing.T) {
	slow := fakeAdapter{st: enums.SourceZoom, fetch: func(ctx context.Context, _ models.FunnelSource, _ time.Time) (*adapters.Batch, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	h := newHarness(t, config.SyncConfig{Timeout: 20 * time.Millisecond}, slow)
	dbtest.SeedSource(t, h.conn, enums.SourceZoom)

	res, err := h.svc.Sync(context.Background(), enums.SourceZoom, Options{})
	require.NoError(t, err)
	require.Equal(t, enums.SyncStatusFailed, res.Status)
	require.Contains(t, *res.ErrorDetail, "timed out")

	var logRow models.FunnelSyncLog
	require.NoError(t, h.conn.First(&logRow, "id = ?", res.SyncLogID).Error)
	require.Equal(t, enums.SyncStatusFailed, logRow.SyncStatus)
}

func TestSync_RejectsOverlap(t *testing.T) {
	h := newHarness(t, config.SyncConfig{}, staticAdapter(enums.SourceZoom, adapters.Batch{}))
	dbtest.SeedSource(t, h.conn, enums.SourceZoom)

	release, ok := h.svc.guard.TryLock(enums.SourceZoom)
	require.True(t, ok)
	_, err := h.svc.Sync(context.Background(), enums.SourceZoom, Options{})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
	require.EqualValues(t, 0, h.count(t, &models.FunnelSyncLog{}))

	release()
	_, err = h.svc.Sync(context.Background(), enums.SourceZoom, Options{})
	require.NoError(t, err)
}

func TestSync_UnknownOrMissingSource(t *testing.T) {
	h := newHarness(t, config.SyncConfig{})

	_, err := h.svc.Sync(context.Background(), enums.SourceManual, Options{})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = h.svc.Sync(context.Background(), enums.SourcePoshVIP, Options{})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	dbtest.SeedSource(t, h.conn, enums.SourcePoshVIP, func(s *models.FunnelSource) { s.IsActive = false })
	_, err = h.svc.Sync(context.Background(), enums.SourcePoshVIP, Options{})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestSyncAll_OneUnreachableSourceOfFour(t *testing.T) {
	h := newHarness(t, config.SyncConfig{Concurrency: 2},
		staticAdapter(enums.SourceEasyAppointments, adapters.Batch{Candidates: []funnel.Candidate{candidate("1", "ea@example.com", enums.EventAppointmentBooked)}}),
		staticAdapter(enums.SourceZoom, adapters.Batch{Candidates: []funnel.Candidate{candidate("w:1", "zoom@example.com", enums.EventRegistered)}}),
		failingAdapter(enums.SourceEventbrite, errors.New("eventbrite returned 503")),
		staticAdapter(enums.SourcePoshVIP, adapters.Batch{}),
	)
	for _, st := range enums.SyncableSourceTypes() {
		dbtest.SeedSource(t, h.conn, st)
	}

	out, err := h.svc.SyncAll(context.Background(), Options{})
	require.NoError(t, err)
	require.Equal(t, "completed", out.Status)
	require.Len(t, out.Results, 4)
	require.Equal(t, 3, out.SourcesSynced)

	failed := 0
	for _, r := range out.Results {
		if r.Status == enums.SyncStatusFailed {
			failed++
			require.Equal(t, enums.SourceEventbrite, r.SourceType)
			require.Equal(t, "eventbrite returned 503", *r.ErrorDetail)
		}
	}
	require.Equal(t, 1, failed)
	require.EqualValues(t, 2, h.count(t, &models.FunnelEvent{}))
}

func TestSyncAll_ReportsBusyAndMissingSources(t *testing.T) {
	h := newHarness(t, config.SyncConfig{}, staticAdapter(enums.SourceZoom, adapters.Batch{}))
	dbtest.SeedSource(t, h.conn, enums.SourceZoom)

	release, ok := h.svc.guard.TryLock(enums.SourceZoom)
	require.True(t, ok)
	defer release()

	out, err := h.svc.SyncAll(context.Background(), Options{Sources: []enums.SourceType{enums.SourceZoom, enums.SourcePoshVIP}})
	require.NoError(t, err)
	require.Len(t, out.Results, 2)
	require.Equal(t, 0, out.SourcesSynced)
	require.Equal(t, errAlreadyRunning, *out.Results[0].ErrorDetail)
	require.Contains(t, *out.Results[1].ErrorDetail, "no active funnel source")

	_, err = h.svc.SyncAll(context.Background(), Options{Sources: []enums.SourceType{enums.SourceManual}})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestSyncAll_NoActiveSources(t *testing.T) {
	h := newHarness(t, config.SyncConfig{})

	out, err := h.svc.SyncAll(context.Background(), Options{})
	require.NoError(t, err)
	require.Empty(t, out.Results)
	require.Equal(t, 0, out.SourcesSynced)
}

func TestSyncDue_OnlyRunsElapsedAutoSources(t *testing.T) {
	var mu sync.Mutex
	var calls []enums.SourceType
	record := func(st enums.SourceType) fakeAdapter {
		return fakeAdapter{st: st, fetch: func(context.Context, models.FunnelSource, time.Time) (*adapters.Batch, error) {
			mu.Lock()
			calls = append(calls, st)
			mu.Unlock()
			return &adapters.Batch{}, nil
		}}
	}
	h := newHarness(t, config.SyncConfig{}, record(enums.SourceZoom), record(enums.SourceEventbrite), record(enums.SourcePoshVIP))
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	h.svc.now = func() time.Time { return now }

	stale := now.Add(-48 * time.Hour)
	fresh := now.Add(-time.Hour)
	dbtest.SeedSource(t, h.conn, enums.SourceZoom, func(s *models.FunnelSource) {
		s.AutoSyncEnabled = true
		s.LastSyncAt = &stale
	})
	dbtest.SeedSource(t, h.conn, enums.SourceEventbrite, func(s *models.FunnelSource) {
		s.AutoSyncEnabled = true
		s.LastSyncAt = &fresh
	})
	dbtest.SeedSource(t, h.conn, enums.SourcePoshVIP, func(s *models.FunnelSource) {
		s.LastSyncAt = &stale
	})

	out, err := h.svc.SyncDue(context.Background())
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	require.Equal(t, enums.SyncTypeAutomatic, out.Results[0].SyncType)
	require.Equal(t, []enums.SourceType{enums.SourceZoom}, calls)
}

func TestSync_WindowUsesLastSyncUnlessForced(t *testing.T) {
	var seen []time.Time
	adapter := fakeAdapter{st: enums.SourceZoom, fetch: func(_ context.Context, _ models.FunnelSource, since time.Time) (*adapters.Batch, error) {
		seen = append(seen, since)
		return &adapters.Batch{}, nil
	}}
	h := newHarness(t, config.SyncConfig{WindowDays: 3}, adapter)
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	h.svc.now = func() time.Time { return now }
	last := now.Add(-6 * time.Hour)
	dbtest.SeedSource(t, h.conn, enums.SourceZoom, func(s *models.FunnelSource) { s.LastSyncAt = &last })

	_, err := h.svc.Sync(context.Background(), enums.SourceZoom, Options{})
	require.NoError(t, err)
	_, err = h.svc.Sync(context.Background(), enums.SourceZoom, Options{ForceSync: true})
	require.NoError(t, err)

	require.Len(t, seen, 2)
	require.True(t, seen[0].Equal(last), "incremental sync starts at last_sync_at")
	require.True(t, seen[1].Equal(now.Add(-72*time.Hour)), "forced sync uses the window")
}

func TestSync_NextWindowStartsWhereTheLastFetchBegan(t *testing.T) {
	var sinces []time.Time
	recording := fakeAdapter{st: enums.SourceZoom, fetch: func(_ context.Context, _ models.FunnelSource, since time.Time) (*adapters.Batch, error) {
		sinces = append(sinces, since)
		return &adapters.Batch{}, nil
	}}
	h := newHarness(t, config.SyncConfig{WindowDays: 7}, recording)
	dbtest.SeedSource(t, h.conn, enums.SourceZoom)

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h.svc.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}

	first, err := h.svc.Sync(context.Background(), enums.SourceZoom, Options{})
	require.NoError(t, err)
	require.True(t, first.CompletedAt.After(first.StartedAt))

	_, err = h.svc.Sync(context.Background(), enums.SourceZoom, Options{})
	require.NoError(t, err)
	require.Len(t, sinces, 2)
	require.True(t, sinces[1].Equal(first.StartedAt), "second run resumes at %s, first fetch began %s", sinces[1], first.StartedAt)
}
