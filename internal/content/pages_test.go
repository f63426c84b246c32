package content

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func newArchiveDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	stmts := []string{
		`CREATE TABLE core_issue (id INTEGER PRIMARY KEY, batch_id TEXT NOT NULL)`,
		`CREATE TABLE core_page (id INTEGER PRIMARY KEY, issue_id INTEGER NOT NULL)`,
		`INSERT INTO core_issue (id, batch_id) VALUES (1, 'batch_abc_one_ver01'), (2, 'batch_abc_one_ver01'), (3, 'batch_abc_two_ver01')`,
		`INSERT INTO core_page (issue_id) VALUES (1), (1), (2), (3)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("failed to seed archive: %v", err)
		}
	}
	return db
}

func TestPageCount(t *testing.T) {
	counter := NewSQLPageCounter(newArchiveDB(t))
	ctx := context.Background()

	tests := map[string]int64{
		"batch_abc_one_ver01":  3,
		"batch_abc_two_ver01":  1,
		"batch_abc_none_ver01": 0,
	}
	for name, want := range tests {
		got, err := counter.PageCount(ctx, name)
		if err != nil {
			t.Fatalf("PageCount(%s) failed: %v", name, err)
		}
		if got != want {
			t.Errorf("PageCount(%s) = %d, want %d", name, got, want)
		}
	}
}

func TestPageCount_QueryError(t *testing.T) {
	db := newArchiveDB(t)
	counter := NewSQLPageCounter(db)
	db.Close()

	if _, err := counter.PageCount(context.Background(), "batch_abc_one_ver01"); err == nil {
		t.Fatal("expected error from closed database")
	}
}

func TestOpenMySQL_InvalidDSN(t *testing.T) {
	if _, err := OpenMySQL(context.Background(), "not a dsn"); err == nil {
		t.Fatal("expected invalid DSN error")
	}
}
