// Package dbtest opens throwaway sqlite databases carrying the funnel schema.
package dbtest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/signup-sync/pkg/db"
	"github.com/angelmondragon/signup-sync/pkg/db/models"
	"github.com/angelmondragon/signup-sync/pkg/enums"
)

// Schema mirrors the goose migrations with sqlite column types.
var Schema = []string{
	`CREATE TABLE funnel_sources (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		source_type TEXT NOT NULL,
		config TEXT,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		auto_sync_enabled BOOLEAN NOT NULL DEFAULT 0,
		sync_frequency_hours INTEGER NOT NULL DEFAULT 24,
		last_sync_at DATETIME,
		last_sync_status TEXT,
		last_sync_message TEXT,
		total_leads_captured INTEGER NOT NULL DEFAULT 0,
		total_conversions INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_funnel_sources_source_type ON funnel_sources (source_type)`,
	`CREATE TABLE funnel_events (
		id TEXT PRIMARY KEY,
		funnel_source_id TEXT NOT NULL,
		source_type TEXT NOT NULL,
		external_id TEXT,
		dedup_key TEXT NOT NULL,
		event_type TEXT NOT NULL,
		email TEXT NOT NULL,
		first_name TEXT,
		last_name TEXT,
		phone TEXT,
		company TEXT,
		utm_source TEXT,
		utm_medium TEXT,
		utm_campaign TEXT,
		utm_content TEXT,
		utm_term TEXT,
		referrer TEXT,
		ip_address TEXT,
		user_agent TEXT,
		event_data TEXT,
		first_touch_source_type TEXT NOT NULL,
		first_touch_utm_source TEXT,
		first_touch_utm_medium TEXT,
		first_touch_utm_campaign TEXT,
		first_touch_at DATETIME NOT NULL,
		last_touch_source_type TEXT NOT NULL,
		last_touch_utm_source TEXT,
		last_touch_utm_medium TEXT,
		last_touch_utm_campaign TEXT,
		last_touch_at DATETIME NOT NULL,
		occurred_at DATETIME NOT NULL,
		conversion_id TEXT,
		created_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_funnel_events_dedup_key ON funnel_events (dedup_key)`,
	`CREATE TABLE funnel_conversions (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL,
		funnel_source_id TEXT NOT NULL,
		source_type TEXT NOT NULL,
		user_id TEXT,
		converted_at DATETIME NOT NULL,
		estimated_value_usd TEXT,
		first_touch_source_type TEXT NOT NULL,
		first_touch_utm_source TEXT,
		first_touch_utm_medium TEXT,
		first_touch_utm_campaign TEXT,
		first_touch_at DATETIME NOT NULL,
		last_touch_source_type TEXT NOT NULL,
		last_touch_utm_source TEXT,
		last_touch_utm_medium TEXT,
		last_touch_utm_campaign TEXT,
		last_touch_at DATETIME NOT NULL,
		days_to_conversion INTEGER NOT NULL DEFAULT 0,
		total_touchpoints INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_funnel_conversions_email_source ON funnel_conversions (email, source_type)`,
	`CREATE TABLE funnel_sync_logs (
		id TEXT PRIMARY KEY,
		funnel_source_id TEXT NOT NULL,
		source_type TEXT NOT NULL,
		sync_type TEXT NOT NULL,
		sync_status TEXT NOT NULL,
		records_processed INTEGER NOT NULL DEFAULT 0,
		records_created INTEGER NOT NULL DEFAULT 0,
		records_duplicate INTEGER NOT NULL DEFAULT 0,
		records_skipped INTEGER NOT NULL DEFAULT 0,
		leads_queued INTEGER NOT NULL DEFAULT 0,
		leads_updated INTEGER NOT NULL DEFAULT 0,
		error_detail TEXT,
		error_messages TEXT,
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME
	)`,
	`CREATE TABLE pending_signup_queue (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL,
		first_name TEXT,
		last_name TEXT,
		company TEXT,
		phone TEXT,
		user_type TEXT NOT NULL DEFAULT 'brand',
		status TEXT NOT NULL DEFAULT 'pending',
		source_type TEXT,
		signup_metadata TEXT,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_pending_signup_queue_email ON pending_signup_queue (email)`,
	`CREATE TABLE funnel_outbox_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME,
		published_at DATETIME,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT
	)`,
}

// Open returns a private in-memory database with the funnel schema applied.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%s?mode=memory&cache=shared", name, uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	for _, stmt := range Schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	// a single connection keeps concurrent writers from tripping sqlite table locks
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn
}

// OpenClient is Open wrapped in the shared db.Client.
func OpenClient(t testing.TB) *db.Client {
	t.Helper()
	return db.Wrap(Open(t))
}

// SeedSource inserts an active funnel source of the given type.
func SeedSource(t testing.TB, conn *gorm.DB, sourceType enums.SourceType, mutate ...func(*models.FunnelSource)) models.FunnelSource {
	t.Helper()
	src := models.FunnelSource{
		Name:               string(sourceType) + " source",
		SourceType:         sourceType,
		IsActive:           true,
		SyncFrequencyHours: 24,
	}
	for _, fn := range mutate {
		fn(&src)
	}
	if err := conn.Create(&src).Error; err != nil {
		t.Fatalf("seed source %s: %v", sourceType, err)
	}
	return src
}
