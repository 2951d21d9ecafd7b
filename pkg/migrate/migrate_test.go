package migrate

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/angelmondragon/signup-sync/pkg/config"
	"github.com/stretchr/testify/require"
)

func TestValidateDir_Migrations(t *testing.T) {
	require.NoError(t, ValidateDir("migrations"))
	require.NoError(t, ValidateDir(""))
}

func TestEmbeddedMigrationsMatchDisk(t *testing.T) {
	onDisk, err := os.ReadDir("migrations")
	require.NoError(t, err)
	fsys, root := filesFor("")
	inBinary, err := fs.ReadDir(fsys, root)
	require.NoError(t, err)
	require.Len(t, inBinary, len(onDisk))
}

func TestMigrations_DefineFunnelTables(t *testing.T) {
	entries, err := os.ReadDir("migrations")
	require.NoError(t, err)

	var all strings.Builder
	for _, e := range entries {
		b, err := os.ReadFile(filepath.Join("migrations", e.Name()))
		require.NoError(t, err)
		all.Write(b)
	}
	sql := all.String()

	for _, table := range []string{
		"funnel_sources",
		"funnel_events",
		"funnel_conversions",
		"funnel_sync_logs",
		"pending_signup_queue",
		"funnel_outbox_events",
	} {
		require.Contains(t, sql, "CREATE TABLE IF NOT EXISTS "+table, table)
	}
	require.Contains(t, sql, "ux_funnel_events_dedup_key")
	require.Contains(t, sql, "ux_funnel_conversions_email_source")
	require.Contains(t, sql, "ux_pending_signup_queue_email")
}

func TestValidateDir_RejectsBadNames(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "add_things.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644))
	require.ErrorContains(t, ValidateDir(dir), "invalid migration filename")
}

func TestValidateDir_RejectsMissingDown(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20250101000000_x.sql"), []byte("-- +goose Up\n"), 0o644))
	require.ErrorContains(t, ValidateDir(dir), "goose Down")
}

func TestValidateDir_RejectsDownBeforeUp(t *testing.T) {
	dir := t.TempDir()
	body := "-- +goose Down\nDROP TABLE x;\n-- +goose Up\nCREATE TABLE x (id int);\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20250101000000_x.sql"), []byte(body), 0o644))
	require.ErrorContains(t, ValidateDir(dir), "precedes")
}

func TestValidateDir_RejectsDuplicateVersions(t *testing.T) {
	dir := t.TempDir()
	body := []byte("-- +goose Up\n-- +goose Down\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20250101000000_a.sql"), body, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20250101000000_b.sql"), body, 0o644))
	require.ErrorContains(t, ValidateDir(dir), "duplicate migration version")
}

func TestValidateDir_EmptyDir(t *testing.T) {
	require.Error(t, ValidateDir(t.TempDir()))
}

func TestCreateSQLMigration(t *testing.T) {
	dir := t.TempDir()
	path, err := CreateSQLMigration(dir, "Add Lead Score!")
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(path, "_add_lead_score.sql"))
	require.NoError(t, ValidateDir(dir))

	_, err = CreateSQLMigration(dir, "!!!")
	require.Error(t, err)

	_, err = CreateSQLMigration("", "anything")
	require.ErrorContains(t, err, "read-only")
}

func TestRun_RequiresDB(t *testing.T) {
	require.ErrorContains(t, Run(context.Background(), nil, "", "up"), "db is required")
}

func TestShouldAutoRun(t *testing.T) {
	cfg := &config.Config{}
	cfg.App.Env = config.AppEnvDev
	require.False(t, ShouldAutoRun(cfg))

	cfg.FeatureFlags.AutoMigrate = true
	require.True(t, ShouldAutoRun(cfg))

	cfg.App.Env = config.AppEnvProd
	require.False(t, ShouldAutoRun(cfg))
	require.False(t, ShouldAutoRun(nil))
}
