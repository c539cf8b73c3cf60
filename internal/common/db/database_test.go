package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestRebind(t *testing.T) {
	tests := []struct {
		name    string
		dialect Dialect
		in      string
		want    string
	}{
		{"mysql untouched", DialectMySQL, "SELECT * FROM t WHERE a = ? AND b = ?", "SELECT * FROM t WHERE a = ? AND b = ?"},
		{"postgres numbered", DialectPostgres, "UPDATE t SET a = ? WHERE id = ?", "UPDATE t SET a = $1 WHERE id = $2"},
		{"quoted literal kept", DialectPostgres, "SELECT '?' FROM t WHERE id = ?", "SELECT '?' FROM t WHERE id = $1"},
		{"no placeholders", DialectPostgres, "SELECT 1", "SELECT 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Rebind(tt.dialect, tt.in); got != tt.want {
				t.Fatalf("Rebind() = %q, want %q", got, tt.want)
			}
		})
	}
}

func openTestSQLite(t *testing.T) *SQLDatabase {
	t.Helper()
	database, err := NewSQLite(SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func TestSQLiteTransactionRollback(t *testing.T) {
	ctx := context.Background()
	database := openTestSQLite(t)
	if _, err := database.Exec(ctx, "CREATE TABLE kv (k VARCHAR(16) PRIMARY KEY, v INTEGER NOT NULL)"); err != nil {
		t.Fatalf("create table: %v", err)
	}

	boom := errors.New("boom")
	err := database.Transaction(ctx, func(tx Transaction) error {
		if _, err := tx.Exec(ctx, "INSERT INTO kv (k, v) VALUES (?, ?)", "a", 1); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Transaction() error = %v, want boom", err)
	}

	var count int
	if err := database.QueryRow(ctx, "SELECT COUNT(*) FROM kv").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("rolled back insert is visible, count = %d", count)
	}
}

func TestSQLiteUniqueViolationAndNoRows(t *testing.T) {
	ctx := context.Background()
	database := openTestSQLite(t)
	if _, err := database.Exec(ctx, "CREATE TABLE kv (k VARCHAR(16) PRIMARY KEY, v INTEGER NOT NULL)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := database.Exec(ctx, "INSERT INTO kv (k, v) VALUES (?, ?)", "a", 1); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_, err := database.Exec(ctx, "INSERT INTO kv (k, v) VALUES (?, ?)", "a", 2)
	if !IsUniqueViolation(err) {
		t.Fatalf("expected unique violation, got %v", err)
	}

	var v int
	err = database.QueryRow(ctx, "SELECT v FROM kv WHERE k = ?", "missing").Scan(&v)
	if !IsNoRows(err) {
		t.Fatalf("expected no rows, got %v", err)
	}
	if database.Dialect() != DialectSQLite {
		t.Fatalf("dialect = %s", database.Dialect())
	}
}

func TestRowsAffected(t *testing.T) {
	ctx := context.Background()
	database := openTestSQLite(t)
	if _, err := database.Exec(ctx, "CREATE TABLE kv (k VARCHAR(16) PRIMARY KEY, v INTEGER)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := database.Exec(ctx, "INSERT INTO kv (k, v) VALUES ('a', NULL)"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	first, err := RowsAffected(database.Exec(ctx, "UPDATE kv SET v = ? WHERE k = ? AND v IS NULL", 1, "a"))
	if err != nil || first != 1 {
		t.Fatalf("first update affected %d, err %v", first, err)
	}
	second, err := RowsAffected(database.Exec(ctx, "UPDATE kv SET v = ? WHERE k = ? AND v IS NULL", 2, "a"))
	if err != nil || second != 0 {
		t.Fatalf("second update affected %d, err %v", second, err)
	}
}
