package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"asr-datamodule/internal/config"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

type DB struct {
	conn    *sql.DB
	dialect string
	stats   statsCache
}

// Open connects with the configured driver and creates missing tables.
func Open(cfg config.DatabaseConfig) (*DB, error) {
	var driver string
	switch cfg.Driver {
	case "mysql":
		driver = "mysql"
	case "sqlite":
		driver = "sqlite"
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	conn, err := sql.Open(driver, cfg.DataSourceName())
	if err != nil {
		return nil, err
	}

	if driver == "sqlite" {
		// SQLite serializes writers anyway; one connection avoids SQLITE_BUSY.
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(50)
		conn.SetMaxIdleConns(10)
		conn.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, err
	}

	db := &DB{conn: conn, dialect: driver}
	if err := db.Migrate(context.Background()); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Dialect returns "mysql" or "sqlite".
func (db *DB) Dialect() string {
	return db.dialect
}

func (db *DB) Close() error {
	return db.conn.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS sampler_states (
		run_id          VARCHAR(64)  NOT NULL PRIMARY KEY,
		kind            VARCHAR(64)  NOT NULL,
		epoch           INTEGER      NOT NULL,
		batches_yielded INTEGER      NOT NULL,
		state           TEXT         NOT NULL,
		updated_at      BIGINT       NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS manifest_stats (
		path           VARCHAR(512) NOT NULL PRIMARY KEY,
		file_hash      CHAR(32)     NOT NULL,
		num_cuts       BIGINT       NOT NULL,
		total_duration DOUBLE       NOT NULL,
		counted_at     BIGINT       NOT NULL
	)`,
}

// Migrate creates the tables used by the data module.
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// upsert builds an insert that replaces the row on a primary key conflict.
func (db *DB) upsert(table, key string, cols []string) string {
	q := "INSERT INTO " + table + " (" + key
	vals := "?"
	for _, c := range cols {
		q += ", " + c
		vals += ", ?"
	}
	q += ") VALUES (" + vals + ")"

	if db.dialect == "mysql" {
		q += " ON DUPLICATE KEY UPDATE "
		for i, c := range cols {
			if i > 0 {
				q += ", "
			}
			q += c + " = VALUES(" + c + ")"
		}
		return q
	}
	q += " ON CONFLICT(" + key + ") DO UPDATE SET "
	for i, c := range cols {
		if i > 0 {
			q += ", "
		}
		q += c + " = excluded." + c
	}
	return q
}
