package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"RSSBouncer/internal/config"
)

const (
	dbPingTimeout     = 5 * time.Second
	dbMaxOpenConns    = 10
	dbMaxIdleConns    = 10
	dbConnMaxLifetime = 5 * time.Minute
)

// dialect captures the differences between the supported SQL backends.
type dialect struct {
	driver      string
	placeholder sq.PlaceholderFormat
	schema      string
}

var dialects = map[string]dialect{
	"postgres": {
		driver:      "postgres",
		placeholder: sq.Dollar,
		schema: `CREATE TABLE IF NOT EXISTS processed_entries (
			feed_url     TEXT NOT NULL,
			entry_id     TEXT NOT NULL,
			processed_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (feed_url, entry_id)
		)`,
	},
	"sqlite": {
		driver:      "sqlite",
		placeholder: sq.Question,
		schema: `CREATE TABLE IF NOT EXISTS processed_entries (
			feed_url     TEXT NOT NULL,
			entry_id     TEXT NOT NULL,
			processed_at DATETIME NOT NULL,
			PRIMARY KEY (feed_url, entry_id)
		)`,
	},
}

// Open connects to the configured backend, verifies it answers and makes sure
// the marker table exists.
func Open(ctx context.Context, cfg config.StateConfig) (*SQLRepository, error) {
	d, ok := dialects[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("unsupported state driver %q", cfg.Driver)
	}

	db, err := sql.Open(d.driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Driver, err)
	}

	if d.driver == "sqlite" {
		// One connection keeps ":memory:" databases shared and serialises writers.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(dbMaxOpenConns)
		db.SetMaxIdleConns(dbMaxIdleConns)
		db.SetConnMaxLifetime(dbConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, dbPingTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s database: %w", cfg.Driver, err)
	}

	if _, err := db.ExecContext(ctx, d.schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return NewSQLRepository(db, d.placeholder), nil
}
