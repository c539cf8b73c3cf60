package testutil

import (
	"path/filepath"
	"testing"

	"gradeline/internal/common/cache"
	"gradeline/internal/common/db"

	"github.com/alicebob/miniredis/v2"
)

// NewSQLite opens an empty SQLite database in the test's temp dir.
func NewSQLite(t *testing.T) *db.SQLDatabase {
	t.Helper()
	database, err := db.NewSQLite(db.SQLiteConfig{Path: filepath.Join(t.TempDir(), "gradeline.db")})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	return database
}

// NewRedis starts a miniredis server and returns a cache bound to it.
func NewRedis(t *testing.T) (*cache.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	c, err := cache.NewRedisCache(cache.RedisConfig{Addr: srv.Addr()})
	if err != nil {
		t.Fatalf("connect miniredis: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, srv
}
