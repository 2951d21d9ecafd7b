package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/angelmondragon/signup-sync/pkg/db/models"
	"github.com/angelmondragon/signup-sync/pkg/enums"
	"github.com/angelmondragon/signup-sync/pkg/outbox/payloads"
)

const outboxDDL = `CREATE TABLE funnel_outbox_events (
	id TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	aggregate_type TEXT NOT NULL,
	aggregate_id TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at DATETIME,
	published_at DATETIME,
	attempt_count INTEGER NOT NULL DEFAULT 0,
	last_error TEXT
)`

func openOutboxDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:outbox_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.Exec(outboxDDL).Error)
	return db
}

func TestService_EmitWritesEnvelope(t *testing.T) {
	db := openOutboxDB(t)
	svc := NewService(NewRepository(db), nil)
	logID := uuid.New()

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.OutboxSyncCompleted,
			AggregateType: enums.AggregateFunnelSyncLog,
			AggregateID:   logID,
			SourceType:    enums.SourceZoom,
			Data:          payloads.SyncCompleted{SyncLogID: logID, Status: "success"},
		})
	})
	require.NoError(t, err)

	var rows []models.OutboxEvent
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	require.Equal(t, logID, rows[0].AggregateID)

	var env PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &env))
	require.Equal(t, 1, env.Version)
	require.Equal(t, "zoom", env.SourceType)
	require.Equal(t, string(enums.OutboxSyncCompleted), env.EventType)
	require.Equal(t, logID.String(), env.AggregateID)
	require.NotEmpty(t, env.EventID)

	decoded, err := DecodeEnvelope(rows[0].Payload)
	require.NoError(t, err)
	var data payloads.SyncCompleted
	require.NoError(t, decoded.DecodeData(&data))
	require.Equal(t, logID, data.SyncLogID)
	require.Contains(t, string(env.Data), `"status":"success"`)
}

func TestService_EmitRequiresTx(t *testing.T) {
	svc := NewService(NewRepository(nil), nil)
	err := svc.Emit(context.Background(), nil, DomainEvent{EventType: enums.OutboxSyncCompleted})
	require.Error(t, err)
}

func TestService_EmitRejectsUnknownType(t *testing.T) {
	db := openOutboxDB(t)
	svc := NewService(NewRepository(db), nil)
	err := svc.Emit(context.Background(), db, DomainEvent{EventType: "funnel.nope"})
	require.Error(t, err)
}

func TestService_EmitRejectsMissingAggregate(t *testing.T) {
	db := openOutboxDB(t)
	svc := NewService(NewRepository(db), nil)
	err := svc.Emit(context.Background(), db, DomainEvent{
		EventType:     enums.OutboxSyncCompleted,
		AggregateType: enums.AggregateFunnelSyncLog,
	})
	require.ErrorContains(t, err, "aggregate id")
}

func TestDecodeEnvelope_Validates(t *testing.T) {
	cases := map[string]string{
		"not json":      `nope`,
		"no event id":   `{"version":1,"data":{}}`,
		"zero version":  `{"version":0,"eventId":"e1","data":{}}`,
		"newer version": `{"version":2,"eventId":"e1","data":{}}`,
		"no data":       `{"version":1,"eventId":"e1"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeEnvelope([]byte(raw))
			require.Error(t, err)
		})
	}

	env, err := DecodeEnvelope([]byte(`{"version":1,"eventId":"e1","data":{"status":"success"}}`))
	require.NoError(t, err)
	require.Error(t, env.DecodeData(&struct{}{}), "unknown fields must fail strict decoding")
}

func TestRepository_FetchAndMark(t *testing.T) {
	db := openOutboxDB(t)
	repo := NewRepository(db)

	ids := make([]uuid.UUID, 3)
	for i := range ids {
		ev := models.OutboxEvent{
			EventType:     enums.OutboxSyncCompleted,
			AggregateType: enums.AggregateFunnelSyncLog,
			AggregateID:   uuid.New(),
			Payload:       []byte(`{}`),
		}
		require.NoError(t, db.Create(&ev).Error)
		ids[i] = ev.ID
	}

	require.NoError(t, repo.MarkPublishedTx(db, ids[0]))
	require.NoError(t, repo.MarkFailedTx(db, ids[1], errors.New("boom")))
	require.NoError(t, repo.MarkTerminalTx(db, ids[2], errors.New("bad payload"), 5))

	rows, err := repo.FetchUnpublishedForPublish(db, 10, 5)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, ids[1], rows[0].ID)
	require.Equal(t, 1, rows[0].AttemptCount)
	require.NotNil(t, rows[0].LastError)
	require.Equal(t, "boom", *rows[0].LastError)
}

func TestRepository_DeletePublishedBefore(t *testing.T) {
	db := openOutboxDB(t)
	repo := NewRepository(db)
	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	old := cutoff.Add(-time.Hour)
	recent := cutoff.Add(time.Hour)

	rows := []models.OutboxEvent{
		{EventType: enums.OutboxSyncCompleted, AggregateType: enums.AggregateFunnelSyncLog, AggregateID: uuid.New(), Payload: []byte(`{}`), PublishedAt: &old},
		{EventType: enums.OutboxSyncCompleted, AggregateType: enums.AggregateFunnelSyncLog, AggregateID: uuid.New(), Payload: []byte(`{}`), PublishedAt: &recent},
		{EventType: enums.OutboxSyncCompleted, AggregateType: enums.AggregateFunnelSyncLog, AggregateID: uuid.New(), Payload: []byte(`{}`)},
	}
	for i := range rows {
		require.NoError(t, db.Create(&rows[i]).Error)
	}

	deleted, err := repo.DeletePublishedBefore(context.Background(), db, cutoff, 0)
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)

	var left int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).Count(&left).Error)
	require.EqualValues(t, 2, left)
}

func TestRepository_DeletePublishedBeforeInBatches(t *testing.T) {
	db := openOutboxDB(t)
	repo := NewRepository(db)
	cutoff := time.Now().UTC()

	for i := 0; i < 5; i++ {
		published := cutoff.Add(-time.Duration(i+1) * time.Hour)
		row := models.OutboxEvent{EventType: enums.OutboxSyncCompleted, AggregateType: enums.AggregateFunnelSyncLog, AggregateID: uuid.New(), Payload: []byte(`{}`), PublishedAt: &published}
		require.NoError(t, db.Create(&row).Error)
	}

	deleted, err := repo.DeletePublishedBefore(context.Background(), db, cutoff, 2)
	require.NoError(t, err)
	require.EqualValues(t, 2, deleted)

	deleted, err = repo.DeletePublishedBefore(context.Background(), db, cutoff, 10)
	require.NoError(t, err)
	require.EqualValues(t, 3, deleted)
}

func TestRepository_CountParked(t *testing.T) {
	db := openOutboxDB(t)
	repo := NewRepository(db)

	ids := make([]uuid.UUID, 2)
	for i := range ids {
		row := models.OutboxEvent{EventType: enums.OutboxConversionRecorded, AggregateType: enums.AggregateFunnelConversion, AggregateID: uuid.New(), Payload: []byte(`{}`)}
		require.NoError(t, db.Create(&row).Error)
		ids[i] = row.ID
	}
	require.NoError(t, repo.MarkTerminalTx(db, ids[0], errors.New("topic missing"), 10))

	parked, err := repo.CountParked(context.Background(), db, 10)
	require.NoError(t, err)
	require.EqualValues(t, 1, parked)
}
