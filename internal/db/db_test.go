package db_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"paperflow/internal/db"
)

func TestOpenCreatesSchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "paperflow.db")
	d, err := db.Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	if d.Path() != path {
		t.Fatalf("unexpected path %q", d.Path())
	}
	for _, table := range []string{"jobs", "items", "assets", "events"} {
		var n int
		if err := d.QueryRowContext(ctx, "SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&n); err != nil {
			t.Fatalf("query %s: %v", table, err)
		}
		if n != 1 {
			t.Fatalf("expected table %s", table)
		}
	}
	var fk int
	if err := d.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("foreign_keys: %v", err)
	}
	if fk != 1 {
		t.Fatalf("expected foreign keys enabled, got %d", fk)
	}
}

func TestOpenAppliesMigrations(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "paperflow.db")
	d, err := db.Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for _, stmt := range []string{
		"ALTER TABLE items DROP COLUMN pdf_sha256",
		"ALTER TABLE events DROP COLUMN log_path",
		"ALTER TABLE items DROP COLUMN one_liner_zh",
		"ALTER TABLE items DROP COLUMN one_liner_en",
		"UPDATE schema_version SET version = 1",
	} {
		if _, err := d.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("downgrade %q: %v", stmt, err)
		}
	}
	_ = d.Close()

	d, err = db.Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer d.Close()
	version, err := d.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if version != 3 {
		t.Fatalf("expected version 3, got %d", version)
	}
	for _, col := range []string{"pdf_sha256", "one_liner_zh", "one_liner_en"} {
		if _, err := d.ExecContext(ctx, "SELECT "+col+" FROM items LIMIT 1"); err != nil {
			t.Fatalf("expected migrated column %s: %v", col, err)
		}
	}
}

func TestOpenRejectsNewerSchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "paperflow.db")
	d, err := db.Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := d.ExecContext(ctx, "UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = d.Close()

	if _, err := db.Open(ctx, path); !errors.Is(err, db.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestTimeRoundTripSortsLexically(t *testing.T) {
	early := time.Date(2026, 1, 2, 3, 4, 5, 6000, time.UTC)
	late := early.Add(90 * time.Minute)
	a, b := db.FormatTime(early), db.FormatTime(late)
	if !(a < b) {
		t.Fatalf("expected %q < %q", a, b)
	}
	if got := db.ParseTime(a); !got.Equal(early) {
		t.Fatalf("ParseTime(%q) = %v, want %v", a, got, early)
	}
	if !db.ParseTime("").IsZero() {
		t.Fatal("expected zero time for empty value")
	}
}

func TestRetryOnBusyStopsOnOtherErrors(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := db.RetryOnBusy(context.Background(), func() error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) || calls != 1 {
		t.Fatalf("expected single call with boom, got calls=%d err=%v", calls, err)
	}

	calls = 0
	err = db.RetryOnBusy(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("expected success after 3 calls, got calls=%d err=%v", calls, err)
	}
}

func TestPlaceholders(t *testing.T) {
	if got := db.Placeholders(3); got != "?, ?, ?" {
		t.Fatalf("Placeholders(3) = %q", got)
	}
	if got := db.Placeholders(0); got != "" {
		t.Fatalf("Placeholders(0) = %q", got)
	}
}
