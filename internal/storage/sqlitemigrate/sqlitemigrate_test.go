package sqlitemigrate_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"

	"provably-fair-backend/internal/storage/sqlitemigrate"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "migrate.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func countRows(t *testing.T, db *sql.DB, query string) int64 {
	t.Helper()
	var n int64
	if err := db.QueryRow(query).Scan(&n); err != nil {
		t.Fatalf("query %q: %v", query, err)
	}
	return n
}

func TestApplyRecordsAndSkips(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	fsys := fstest.MapFS{
		"001_items.sql": &fstest.MapFile{Data: []byte("-- +migrate Up\nCREATE TABLE items(id TEXT PRIMARY KEY);\n-- +migrate Down\nDROP TABLE items;")},
		"002_more.sql":  &fstest.MapFile{Data: []byte("CREATE TABLE more(id INTEGER);")},
	}

	if err := sqlitemigrate.Apply(ctx, db, fsys); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if err := sqlitemigrate.Apply(ctx, db, fsys); err != nil {
		t.Fatalf("second apply should be a no-op: %v", err)
	}

	if got := countRows(t, db, "SELECT COUNT(*) FROM schema_migrations"); got != 2 {
		t.Fatalf("schema_migrations rows = %d, want 2", got)
	}
	if got := countRows(t, db, "SELECT COUNT(*) FROM items"); got != 0 {
		t.Fatalf("items rows = %d, want 0", got)
	}
}

func TestApplyDoesNotRecordFailure(t *testing.T) {
	db := openDB(t)
	fsys := fstest.MapFS{
		"001_bad.sql": &fstest.MapFile{Data: []byte("CREAT TABLE nope(id INT);")},
	}

	if err := sqlitemigrate.Apply(context.Background(), db, fsys); err == nil {
		t.Fatal("expected syntax error")
	}
	if got := countRows(t, db, "SELECT COUNT(*) FROM schema_migrations"); got != 0 {
		t.Fatalf("failed migration was recorded: %d rows", got)
	}
}

func TestUpSection(t *testing.T) {
	got := sqlitemigrate.UpSection("-- +migrate Up\nA;\n-- +migrate Down\nB;")
	if got != "\nA;\n" {
		t.Fatalf("UpSection = %q", got)
	}
	if got := sqlitemigrate.UpSection("C;"); got != "C;" {
		t.Fatalf("UpSection without markers = %q", got)
	}
}
