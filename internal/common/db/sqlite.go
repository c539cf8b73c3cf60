package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteConfig configures the embedded single node store.
type SQLiteConfig struct {
	Path string `yaml:"path"`
	// BusyTimeoutMs bounds how long a writer waits for the file lock.
	BusyTimeoutMs int `yaml:"busyTimeoutMs"`
}

// NewSQLite opens a local SQLite database file.
// The pool is pinned to one connection so writes serialize inside the process.
func NewSQLite(config SQLiteConfig) (*SQLDatabase, error) {
	path := strings.TrimSpace(config.Path)
	if path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}
	if config.BusyTimeoutMs <= 0 {
		config.BusyTimeoutMs = 5000
	}
	return openSQL("sqlite", path, DialectSQLite, func(db *sql.DB) error {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		pragmas := []string{
			"PRAGMA journal_mode=WAL",
			fmt.Sprintf("PRAGMA busy_timeout=%d", config.BusyTimeoutMs),
			"PRAGMA foreign_keys=ON",
		}
		for _, p := range pragmas {
			if _, err := db.ExecContext(context.Background(), p); err != nil {
				return fmt.Errorf("configure sqlite (%s): %w", p, err)
			}
		}
		return nil
	})
}
