package sqlitemigrate

import (
	"database/sql"
	"errors"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	sqlDB, err := sql.Open("sqlite", t.TempDir()+"/migrate.db")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return sqlDB
}

func TestApplyMigrationsRunsOnce(t *testing.T) {
	fsys := fstest.MapFS{
		"0001_records.sql": &fstest.MapFile{Data: []byte(`-- +migrate Up
CREATE TABLE records (id TEXT PRIMARY KEY);
-- +migrate Down
DROP TABLE records;
`)},
	}
	sqlDB := openTestDB(t)

	if err := ApplyMigrations(sqlDB, fsys, ""); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	// Second run must be a no-op, not a CREATE failure.
	if err := ApplyMigrations(sqlDB, fsys, ""); err != nil {
		t.Fatalf("re-apply migrations: %v", err)
	}

	if _, err := sqlDB.Exec("INSERT INTO records (id) VALUES ('r1')"); err != nil {
		t.Fatalf("expected records table to exist: %v", err)
	}

	var count int
	if err := sqlDB.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count != 1 {
		t.Fatalf("migration rows = %d, want 1", count)
	}
}

func TestApplyMigrationsOrdersFiles(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_add_column.sql": &fstest.MapFile{Data: []byte(`-- +migrate Up
ALTER TABLE records ADD COLUMN status INTEGER NOT NULL DEFAULT 0;
`)},
		"0001_records.sql": &fstest.MapFile{Data: []byte(`-- +migrate Up
CREATE TABLE records (id TEXT PRIMARY KEY);
`)},
	}
	sqlDB := openTestDB(t)

	if err := ApplyMigrations(sqlDB, fsys, ""); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if _, err := sqlDB.Exec("INSERT INTO records (id, status) VALUES ('r1', 1)"); err != nil {
		t.Fatalf("expected ordered schema: %v", err)
	}
}

func TestApplyMigrationsRequiresDB(t *testing.T) {
	if err := ApplyMigrations(nil, fstest.MapFS{}, ""); err == nil {
		t.Fatal("expected error for nil db")
	}
}

func TestExtractUpMigration(t *testing.T) {
	content := `-- +migrate Up
CREATE TABLE a (id TEXT);
-- +migrate Down
DROP TABLE a;`
	up := ExtractUpMigration(content)
	if up != "\nCREATE TABLE a (id TEXT);\n" {
		t.Fatalf("unexpected up section: %q", up)
	}
}

func TestIsAlreadyExistsError(t *testing.T) {
	if !IsAlreadyExistsError(errors.New("table records already exists")) {
		t.Fatal("expected already-exists match")
	}
	if IsAlreadyExistsError(errors.New("syntax error")) {
		t.Fatal("did not expect match for unrelated error")
	}
}
