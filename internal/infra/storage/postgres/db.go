// Package postgres stores chain events in PostgreSQL and resolves where a chain stopped.
package postgres

import (
	"context"
	"embed"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/vietddude/chainevents/internal/indexing/metrics"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Config selects the database/sql driver and sizes the pool. Driver is "pgx"
// (default) or "postgres" for lib/pq.
type Config struct {
	URL      string `yaml:"url"`
	Driver   string `yaml:"driver"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

func (c Config) driver() string {
	if c.Driver == "" {
		return "pgx"
	}
	return c.Driver
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

type DB struct {
	*sqlx.DB
}

// NewDB opens the pool and fails unless the server answers a ping.
func NewDB(ctx context.Context, cfg Config) (*DB, error) {
	conn, err := sqlx.Open(cfg.driver(), cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.driver(), err)
	}
	conn.SetMaxOpenConns(orDefault(cfg.MaxConns, 10))
	conn.SetMaxIdleConns(orDefault(cfg.MinConns, 2))
	conn.SetConnMaxLifetime(time.Hour)
	conn.SetConnMaxIdleTime(30 * time.Minute)

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &DB{DB: conn}, nil
}

// Migrate brings the schema up to the newest embedded goose migration.
func (db *DB) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db.DB.DB, "migrations"); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// ReportPoolUsage publishes the open connection ratio every interval until ctx ends.
func (db *DB) ReportPoolUsage(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if s := db.Stats(); s.MaxOpenConnections > 0 {
			metrics.DBConnectionPoolUsage.Set(100 * float64(s.OpenConnections) / float64(s.MaxOpenConnections))
		}
	}
}

func (db *DB) Health(ctx context.Context) error {
	return db.PingContext(ctx)
}
