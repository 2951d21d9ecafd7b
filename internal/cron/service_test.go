package cron

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/angelmondragon/signup-sync/internal/syncer"
	"github.com/angelmondragon/signup-sync/pkg/enums"
	"github.com/angelmondragon/signup-sync/pkg/logger"
	"github.com/angelmondragon/signup-sync/pkg/metrics"
)

type testJob struct {
	name string
	err  error
	runs atomic.Int32
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.runs.Add(1)
	return t.err
}

func TestServiceRunOnStartRunsAllJobsEvenOnFailure(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "cron-test"})
	reg := prometheus.NewRegistry()
	jobMetrics := metrics.NewCronJobMetrics(reg)
	registry := NewRegistry()
	success := &testJob{name: "success"}
	failure := &testJob{name: "fail", err: errors.New("boom")}
	// far-future specs so only the start-up pass runs
	registry.Register("0 0 0 1 1 *", success)
	registry.Register("0 0 0 1 1 *", failure)

	service, err := NewService(ServiceParams{Logger: logg, Registry: registry, Metrics: jobMetrics, RunOnStart: true})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- service.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for success.runs.Load() == 0 || failure.runs.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("jobs did not run on start")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}

	if got := success.runs.Load(); got != 1 {
		t.Fatalf("expected success job to run once, ran %d", got)
	}
	runs, err := testutil.GatherAndCount(reg, "signup_sync_job_runs_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if runs != 2 {
		t.Fatalf("expected a success and a failure series, got %d", runs)
	}
	stamps, err := testutil.GatherAndCount(reg, "signup_sync_job_last_success_timestamp_seconds")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if stamps != 1 {
		t.Fatalf("expected last-success only for the passing job, got %d", stamps)
	}
}

func TestServiceRejectsInvalidSpec(t *testing.T) {
	registry := NewRegistry()
	registry.Register("every now and then", &testJob{name: "bad"})
	service, err := NewService(ServiceParams{Logger: logger.New(logger.Options{ServiceName: "cron-test"}), Registry: registry})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	if err := service.Run(context.Background()); err == nil {
		t.Fatal("expected schedule error")
	}
}

func TestNewServiceRequiresLogger(t *testing.T) {
	if _, err := NewService(ServiceParams{}); err == nil {
		t.Fatal("expected error")
	}
}

type fakeDueSyncer struct {
	out *syncer.SyncAllResult
	err error
}

func (f fakeDueSyncer) SyncDue(context.Context) (*syncer.SyncAllResult, error) {
	return f.out, f.err
}

func TestSyncDueJob(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "cron-test"})
	detail := "zoom unreachable"

	ok, err := NewSyncDueJob(SyncDueJobParams{Logger: logg, Syncer: fakeDueSyncer{out: &syncer.SyncAllResult{
		Status:        "completed",
		SourcesSynced: 1,
		Results:       []syncer.SyncResult{{SourceType: enums.SourceEventbrite, Status: enums.SyncStatusSuccess}},
	}}})
	if err != nil {
		t.Fatalf("NewSyncDueJob: %v", err)
	}
	if ok.Name() != SyncDueJobName {
		t.Fatalf("unexpected name %q", ok.Name())
	}
	if err := ok.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	failing, _ := NewSyncDueJob(SyncDueJobParams{Logger: logg, Syncer: fakeDueSyncer{out: &syncer.SyncAllResult{
		Results: []syncer.SyncResult{
			{SourceType: enums.SourceZoom, Status: enums.SyncStatusFailed, ErrorDetail: &detail},
			{SourceType: enums.SourceEventbrite, Status: enums.SyncStatusSuccess},
		},
	}}})
	err = failing.Run(context.Background())
	if err == nil || err.Error() != "zoom: zoom unreachable" {
		t.Fatalf("unexpected error %v", err)
	}

	broken, _ := NewSyncDueJob(SyncDueJobParams{Logger: logg, Syncer: fakeDueSyncer{err: errors.New("db down")}})
	if err := broken.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
