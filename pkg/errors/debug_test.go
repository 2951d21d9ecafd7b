package errors

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

func TestDumpExtractsPgxFields(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "ux_funnel_events_dedup_key", TableName: "funnel_events", Message: "duplicate key value"}
	err := Wrap(CodeInternal, fmt.Errorf("insert event: %w", pgErr), "record event")

	d := Dump(err)
	if d.Code != CodeInternal {
		t.Fatalf("expected internal code, got %s", d.Code)
	}
	if d.Postgres == nil || d.Postgres.Code != "23505" || d.Postgres.Constraint != "ux_funnel_events_dedup_key" || d.Postgres.Table != "funnel_events" {
		t.Fatalf("unexpected pg fields %#v", d.Postgres)
	}
	if fields := d.LogFields(); fields["pg_constraint"] != "ux_funnel_events_dedup_key" {
		t.Fatalf("log fields missing constraint: %v", fields)
	}
	if len(d.Chain) != 3 {
		t.Fatalf("expected 3 chain entries, got %d", len(d.Chain))
	}
}

func TestDumpExtractsPqFields(t *testing.T) {
	err := fmt.Errorf("update source: %w", &pq.Error{Code: "40P01", Table: "funnel_sources", Message: "deadlock detected"})
	d := Dump(err)
	if d.Postgres == nil || d.Postgres.Code != "40P01" || d.Postgres.Table != "funnel_sources" || d.Postgres.Message != "deadlock detected" {
		t.Fatalf("unexpected pq fields %#v", d.Postgres)
	}
	if d.Code != "" {
		t.Fatalf("untyped error should have no code, got %s", d.Code)
	}
}

func TestDumpPlainErrorHasNoPostgresFields(t *testing.T) {
	d := Dump(fmt.Errorf("plain"))
	if d.Postgres != nil {
		t.Fatalf("expected no postgres fields")
	}
	if _, ok := d.LogFields()["pg_code"]; ok {
		t.Fatalf("pg_code should be absent")
	}
	if Dump(nil).TopMessage != "" {
		t.Fatalf("nil error should dump empty")
	}
}
