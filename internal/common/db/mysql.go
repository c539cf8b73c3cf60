package db

import (
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLConfig holds the configuration for a MySQL connection pool
type MySQLConfig struct {
	// DSN format: "user:password@tcp(host:port)/dbname"
	DSN        string `yaml:"dsn"`
	PoolConfig `yaml:",inline"`
}

// NewMySQL opens and pings a MySQL pool.
func NewMySQL(config MySQLConfig) (*SQLDatabase, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("DSN cannot be empty")
	}
	config.setDefaults()
	return openSQL("mysql", config.DSN, DialectMySQL, func(db *sql.DB) error {
		config.PoolConfig.apply(db)
		return nil
	})
}
