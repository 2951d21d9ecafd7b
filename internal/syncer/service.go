// Package syncer runs source syncs: fetch through an adapter, dedup and store
// funnel events, queue leads, and bracket every run with a sync log.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/angelmondragon/signup-sync/internal/adapters"
	"github.com/angelmondragon/signup-sync/internal/funnel"
	"github.com/angelmondragon/signup-sync/internal/signups"
	"github.com/angelmondragon/signup-sync/internal/sources"
	"github.com/angelmondragon/signup-sync/pkg/config"
	"github.com/angelmondragon/signup-sync/pkg/db"
	"github.com/angelmondragon/signup-sync/pkg/db/models"
	dbtypes "github.com/angelmondragon/signup-sync/pkg/db/types"
	"github.com/angelmondragon/signup-sync/pkg/enums"
	pkgerrors "github.com/angelmondragon/signup-sync/pkg/errors"
	"github.com/angelmondragon/signup-sync/pkg/logger"
	"github.com/angelmondragon/signup-sync/pkg/metrics"
	"github.com/angelmondragon/signup-sync/pkg/outbox"
	"github.com/angelmondragon/signup-sync/pkg/outbox/payloads"
)

const (
	maxErrorMessages   = 50
	errAlreadyRunning  = "sync already in progress"
	defaultConcurrency = 4
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

var _ txRunner = (*db.Client)(nil)

// Service runs source syncs.
type Service interface {
	Sync(ctx context.Context, sourceType enums.SourceType, opts Options) (*SyncResult, error)
	SyncAll(ctx context.Context, opts Options) (*SyncAllResult, error)
	SyncDue(ctx context.Context) (*SyncAllResult, error)
}

// Options tune a sync request.
type Options struct {
	ForceSync bool
	SyncType  enums.SyncType
	// Sources limits SyncAll to these types; each requested type gets a result.
	Sources []enums.SourceType
}

type SyncResult struct {
	SyncLogID        string           `json:"sync_log_id,omitempty"`
	SourceID         string           `json:"source_id,omitempty"`
	SourceType       enums.SourceType `json:"source_type"`
	SourceName       string           `json:"source_name,omitempty"`
	SyncType         enums.SyncType   `json:"sync_type"`
	Status           enums.SyncStatus `json:"status"`
	RecordsProcessed int              `json:"records_processed"`
	RecordsCreated   int              `json:"records_created"`
	RecordsDuplicate int              `json:"records_duplicate"`
	RecordsSkipped   int              `json:"records_skipped"`
	LeadsQueued      int              `json:"leads_queued"`
	LeadsUpdated     int              `json:"leads_updated"`
	ErrorDetail      *string          `json:"error_detail,omitempty"`
	ErrorMessages    []string         `json:"error_messages,omitempty"`
	StartedAt        time.Time        `json:"started_at"`
	CompletedAt      time.Time        `json:"completed_at"`
	DurationMS       int64            `json:"duration_ms"`
	Summary          string           `json:"summary"`
}

type SyncAllResult struct {
	Status        string       `json:"status"`
	SourcesSynced int          `json:"sources_synced"`
	Results       []SyncResult `json:"results"`
}

type ServiceParams struct {
	DB       txRunner
	Repo     Repository
	Sources  sources.Repository
	Funnel   funnel.Service
	Signups  signups.Repository
	Adapters *adapters.Registry
	Outbox   outbox.Emitter
	Guard    *Guard
	Lock     Lock
	Metrics  *metrics.SyncMetrics
	Logger   *logger.Logger
	Config   config.SyncConfig
}

type service struct {
	db       txRunner
	repo     Repository
	sources  sources.Repository
	funnel   funnel.Service
	signups  signups.Repository
	adapters *adapters.Registry
	outbox   outbox.Emitter
	guard    *Guard
	lock     Lock
	metrics  *metrics.SyncMetrics
	logg     *logger.Logger
	cfg      config.SyncConfig
	now      func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.DB == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "sync db required")
	case params.Repo == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "sync log repository required")
	case params.Sources == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "sources repository required")
	case params.Funnel == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "funnel service required")
	case params.Signups == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "signups repository required")
	case params.Adapters == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "adapter registry required")
	case params.Outbox == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "outbox emitter required")
	}
	guard := params.Guard
	if guard == nil {
		guard = NewGuard()
	}
	return &service{
		db:       params.DB,
		repo:     params.Repo,
		sources:  params.Sources,
		funnel:   params.Funnel,
		signups:  params.Signups,
		adapters: params.Adapters,
		outbox:   params.Outbox,
		guard:    guard,
		lock:     params.Lock,
		metrics:  params.Metrics,
		logg:     params.Logger,
		cfg:      params.Config,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Sync runs one source. A run that fails upstream still returns a result with
// status failed; errors are reserved for requests that never started a run.
func (s *service) Sync(ctx context.Context, sourceType enums.SourceType, opts Options) (*SyncResult, error) {
	if !sourceType.IsSyncable() {
		return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "source %q cannot be synced", sourceType)
	}
	src, err := s.sources.FindByType(ctx, sourceType)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "no funnel source configured for %s", sourceType)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load funnel source")
	}
	if !src.IsActive {
		return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "funnel source %s is inactive", sourceType)
	}
	return s.syncSource(ctx, *src, opts)
}

// SyncAll runs every active syncable source concurrently. One source failing
// never stops the others; the call itself only errors when sources cannot be listed.
func (s *service) SyncAll(ctx context.Context, opts Options) (*SyncAllResult, error) {
	for _, st := range opts.Sources {
		if !st.IsSyncable() {
			return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "source %q cannot be synced", st).
				WithDetails(map[string]any{"sources": st, "allowed": enums.SyncableSourceTypes()})
		}
	}
	types := opts.Sources
	if len(types) == 0 {
		types = enums.SyncableSourceTypes()
	}
	active, err := s.sources.ListActive(ctx, types)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list active funnel sources")
	}
	return s.runMany(ctx, s.targets(active, opts.Sources), opts), nil
}

// SyncDue runs every auto-sync source whose period has elapsed.
func (s *service) SyncDue(ctx context.Context) (*SyncAllResult, error) {
	candidates, err := s.sources.ListAutoSync(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list auto-sync sources")
	}
	now := s.now()
	due := make([]models.FunnelSource, 0, len(candidates))
	for _, src := range candidates {
		if src.SourceType.IsSyncable() && sources.IsDue(src, now) {
			due = append(due, src)
		}
	}
	return s.runMany(ctx, s.targets(due, nil), Options{SyncType: enums.SyncTypeAutomatic}), nil
}

// target is a source to sync, or a requested type with no active source.
type target struct {
	sourceType enums.SourceType
	source     *models.FunnelSource
}

func (s *service) targets(active []models.FunnelSource, requested []enums.SourceType) []target {
	byType := make(map[enums.SourceType]models.FunnelSource, len(active))
	for _, src := range active {
		byType[src.SourceType] = src
	}
	var out []target
	if len(requested) == 0 {
		for i := range active {
			out = append(out, target{sourceType: active[i].SourceType, source: &active[i]})
		}
		return out
	}
	seen := map[enums.SourceType]struct{}{}
	for _, st := range requested {
		if _, dup := seen[st]; dup {
			continue
		}
		seen[st] = struct{}{}
		t := target{sourceType: st}
		if src, ok := byType[st]; ok {
			t.source = &src
		}
		out = append(out, t)
	}
	return out
}

func (s *service) runMany(ctx context.Context, targets []target, opts Options) *SyncAllResult {
	results := make([]SyncResult, len(targets))
	limit := s.cfg.Concurrency
	if limit <= 0 {
		limit = defaultConcurrency
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i, t := range targets {
		g.Go(func() error {
			if t.source == nil {
				results[i] = s.rejected(t.sourceType, opts, fmt.Sprintf("no active funnel source configured for %s", t.sourceType))
				return nil
			}
			res, err := s.syncSource(ctx, *t.source, opts)
			if err != nil {
				detail := err.Error()
				if pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
					detail = errAlreadyRunning
				}
				results[i] = s.rejected(t.sourceType, opts, detail)
				results[i].SourceID = t.source.ID.String()
				results[i].SourceName = t.source.Name
				return nil
			}
			results[i] = *res
			return nil
		})
	}
	_ = g.Wait()

	out := &SyncAllResult{Status: "completed", Results: results}
	for _, r := range results {
		if r.Status != enums.SyncStatusFailed {
			out.SourcesSynced++
		}
	}
	return out
}

func (s *service) rejected(st enums.SourceType, opts Options, detail string) SyncResult {
	now := s.now()
	return SyncResult{
		SourceType:  st,
		SyncType:    syncType(opts),
		Status:      enums.SyncStatusFailed,
		ErrorDetail: &detail,
		StartedAt:   now,
		CompletedAt: now,
		Summary:     "sync not started: " + detail,
	}
}

func (s *service) syncSource(ctx context.Context, src models.FunnelSource, opts Options) (*SyncResult, error) {
	release, ok := s.guard.TryLock(src.SourceType)
	if !ok {
		s.metrics.IncContention(string(src.SourceType))
		return nil, pkgerrors.Newf(pkgerrors.CodeConflict, "%s for %s", errAlreadyRunning, src.SourceType)
	}
	defer release()

	if s.lock != nil {
		unlock, acquired, err := s.lock.Acquire(ctx, src.SourceType)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire sync lock")
		}
		if !acquired {
			s.metrics.IncContention(string(src.SourceType))
			return nil, pkgerrors.Newf(pkgerrors.CodeConflict, "%s for %s", errAlreadyRunning, src.SourceType)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil && s.logg != nil {
				s.logg.Warn(s.logg.WithSourceType(ctx, string(src.SourceType)), "release sync lock: "+err.Error())
			}
		}()
	}

	return s.run(ctx, src, opts)
}

// run is the locked body of a sync: bracket, fetch, store, complete.
func (s *service) run(ctx context.Context, src models.FunnelSource, opts Options) (*SyncResult, error) {
	started := s.now()
	since := s.window(src, opts, started)

	log := &models.FunnelSyncLog{
		FunnelSourceID: src.ID,
		SourceType:     src.SourceType,
		SyncType:       syncType(opts),
		SyncStatus:     enums.SyncStatusRunning,
		StartedAt:      started,
	}
	if err := s.repo.StartLog(ctx, log); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "start sync log")
	}

	logCtx := ctx
	if s.logg != nil {
		logCtx = s.logg.WithSourceType(ctx, string(src.SourceType))
		logCtx = s.logg.WithSyncLogID(logCtx, log.ID.String())
		logCtx = s.logg.WithField(logCtx, "since", since.Format(time.RFC3339))
		s.logg.Info(logCtx, "sync started")
	}

	runCtx := ctx
	timeout := s.cfg.Timeout
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var tally tally
	fetchErr := s.process(runCtx, src, since, &tally)
	if fetchErr != nil && runCtx.Err() != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		fetchErr = fmt.Errorf("sync timed out after %s: %w", timeout, fetchErr)
	}

	status := enums.SyncStatusSuccess
	var detail *string
	switch {
	case fetchErr != nil:
		status = enums.SyncStatusFailed
		msg := fetchErr.Error()
		detail = &msg
	case len(tally.errs) > 0:
		status = enums.SyncStatusPartial
		msg := fmt.Sprintf("%d records failed; last: %s", len(tally.errs), tally.errs[len(tally.errs)-1])
		detail = &msg
	}

	completed := s.now()
	log.SyncStatus = status
	log.RecordsProcessed = tally.processed
	log.RecordsCreated = tally.created
	log.RecordsDuplicate = tally.duplicate
	log.RecordsSkipped = tally.skipped
	log.LeadsQueued = tally.queued
	log.LeadsUpdated = tally.updated
	log.ErrorDetail = detail
	log.ErrorMessages = dbtypes.StringList(tally.messages())
	log.CompletedAt = &completed
	log.DurationMS = completed.Sub(started).Milliseconds()

	result := s.result(src, log)
	if err := s.complete(context.WithoutCancel(ctx), src, log, result.Summary); err != nil {
		if s.logg != nil {
			s.logg.Error(logCtx, "failed to record sync completion", err)
		}
		return nil, err
	}

	s.metrics.ObserveRun(string(src.SourceType), string(status), completed.Sub(started))
	s.metrics.AddRecords(string(src.SourceType), "created", tally.created)
	s.metrics.AddRecords(string(src.SourceType), "duplicate", tally.duplicate)
	s.metrics.AddRecords(string(src.SourceType), "skipped", tally.skipped)

	if s.logg != nil {
		doneCtx := s.logg.WithFields(logCtx, map[string]any{
			"status":      status,
			"processed":   tally.processed,
			"created":     tally.created,
			"duplicate":   tally.duplicate,
			"skipped":     tally.skipped,
			"duration_ms": log.DurationMS,
		})
		switch status {
		case enums.SyncStatusFailed:
			// retryable failures usually clear on the next scheduled run
			doneCtx = s.logg.WithField(doneCtx, "retryable", pkgerrors.IsRetryable(fetchErr))
			s.logg.Error(doneCtx, "sync failed", fetchErr)
		case enums.SyncStatusPartial:
			s.logg.Warn(doneCtx, "sync completed with record errors")
		default:
			s.logg.Info(doneCtx, "sync completed")
		}
	}
	return result, nil
}

// tally counts record outcomes for one run.
type tally struct {
	processed, created, duplicate, skipped int
	queued, updated                        int
	errs                                   []error
}

func (t *tally) fail(err error) {
	t.skipped++
	t.errs = append(t.errs, err)
}

func (t *tally) messages() []string {
	all := multierr.Errors(multierr.Combine(t.errs...))
	if len(all) > maxErrorMessages {
		all = all[len(all)-maxErrorMessages:]
	}
	out := make([]string, 0, len(all))
	for _, err := range all {
		out = append(out, err.Error())
	}
	return out
}

// process fetches the source and stores each candidate in its own transaction.
// The returned error fails the whole run; record problems land in the tally.
func (s *service) process(ctx context.Context, src models.FunnelSource, since time.Time, t *tally) error {
	adapter, err := s.adapters.Get(src.SourceType)
	if err != nil {
		return err
	}
	batch, err := adapter.FetchAndMap(ctx, src, since)
	if err != nil {
		return err
	}
	if batch == nil {
		return nil
	}
	for _, rej := range batch.Rejected {
		t.processed++
		t.fail(rej)
	}
	for _, c := range batch.Candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		t.processed++
		if err := s.store(ctx, src, c, t); err != nil {
			t.fail(recordError(c, err))
		}
	}
	return nil
}

func (s *service) store(ctx context.Context, src models.FunnelSource, c funnel.Candidate, t *tally) error {
	var (
		created bool
		outcome enums.EnqueueOutcome
	)
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		ev, isNew, err := s.funnel.Upsert(ctx, tx, src, c)
		if err != nil {
			return err
		}
		created = isNew
		outcome, err = s.signups.WithTx(tx).Enqueue(ctx, leadFromEvent(ev, c))
		return err
	})
	if err != nil {
		return err
	}
	if created {
		t.created++
	} else {
		t.duplicate++
	}
	switch outcome {
	case enums.EnqueueCreated:
		t.queued++
	case enums.EnqueueUpdated:
		t.updated++
	}
	return nil
}

func (s *service) complete(ctx context.Context, src models.FunnelSource, log *models.FunnelSyncLog, summary string) error {
	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).CompleteLog(ctx, log); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete sync log")
		}
		message := summary
		if log.ErrorDetail != nil {
			message = *log.ErrorDetail
		}
		if err := s.sources.WithTx(tx).RecordSyncCompletion(ctx, src.ID, sources.SyncCompletion{
			Status:      log.SyncStatus,
			Message:     message,
			WindowStart: log.StartedAt,
			CompletedAt: *log.CompletedAt,
			LeadsAdded:  log.RecordsCreated,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update funnel source sync state")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxSyncCompleted,
			AggregateType: enums.AggregateFunnelSyncLog,
			AggregateID:   log.ID,
			SourceType:    src.SourceType,
			OccurredAt:    *log.CompletedAt,
			Data: payloads.SyncCompleted{
				SyncLogID:        log.ID,
				SourceType:       string(src.SourceType),
				SyncType:         string(log.SyncType),
				Status:           string(log.SyncStatus),
				RecordsProcessed: log.RecordsProcessed,
				RecordsCreated:   log.RecordsCreated,
				RecordsDuplicate: log.RecordsDuplicate,
				RecordsSkipped:   log.RecordsSkipped,
				LeadsQueued:      log.LeadsQueued,
				LeadsUpdated:     log.LeadsUpdated,
				DurationMS:       log.DurationMS,
				CompletedAt:      *log.CompletedAt,
			},
		})
	})
}

// window is the instant the fetch starts from.
func (s *service) window(src models.FunnelSource, opts Options, now time.Time) time.Time {
	if opts.ForceSync || src.LastSyncAt == nil {
		return now.Add(-s.cfg.Window())
	}
	return src.LastSyncAt.UTC()
}

func (s *service) result(src models.FunnelSource, log *models.FunnelSyncLog) *SyncResult {
	return &SyncResult{
		SyncLogID:        log.ID.String(),
		SourceID:         src.ID.String(),
		SourceType:       src.SourceType,
		SourceName:       src.Name,
		SyncType:         log.SyncType,
		Status:           log.SyncStatus,
		RecordsProcessed: log.RecordsProcessed,
		RecordsCreated:   log.RecordsCreated,
		RecordsDuplicate: log.RecordsDuplicate,
		RecordsSkipped:   log.RecordsSkipped,
		LeadsQueued:      log.LeadsQueued,
		LeadsUpdated:     log.LeadsUpdated,
		ErrorDetail:      log.ErrorDetail,
		ErrorMessages:    []string(log.ErrorMessages),
		StartedAt:        log.StartedAt,
		CompletedAt:      *log.CompletedAt,
		DurationMS:       log.DurationMS,
		Summary:          summary(src, log),
	}
}

func summary(src models.FunnelSource, log *models.FunnelSyncLog) string {
	if log.SyncStatus == enums.SyncStatusFailed {
		return fmt.Sprintf("%s sync failed", src.Name)
	}
	return fmt.Sprintf("Synced %d new events from %s (%d duplicate, %d skipped, %d leads queued)",
		log.RecordsCreated, src.Name, log.RecordsDuplicate, log.RecordsSkipped, log.LeadsQueued)
}

func syncType(opts Options) enums.SyncType {
	if opts.SyncType == "" {
		return enums.SyncTypeManual
	}
	return opts.SyncType
}

func recordError(c funnel.Candidate, err error) error {
	if c.ExternalID != "" {
		return fmt.Errorf("%s: %w", c.ExternalID, err)
	}
	return fmt.Errorf("%s: %w", c.Email, err)
}

func leadFromEvent(ev *models.FunnelEvent, c funnel.Candidate) signups.Lead {
	lead := signups.Lead{
		Email:      ev.Email,
		FirstName:  ev.FirstName,
		LastName:   ev.LastName,
		Company:    ev.Company,
		Phone:      ev.Phone,
		SourceType: ev.SourceType,
		Metadata: map[string]any{
			"event_type": string(c.EventType),
			"event_id":   ev.ID.String(),
		},
	}
	if c.ExternalID != "" {
		lead.Metadata["external_id"] = c.ExternalID
	}
	return lead
}
