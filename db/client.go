// Package db bootstraps a persistence client with the embedded webhook
// schema registered and applied, for both supported dialects.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strings"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/goliatone/go-webhooks/migrations"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

const defaultPingTimeout = 5 * time.Second

// Config describes the database connection.
type Config struct {
	Driver      string
	DSN         string
	Debug       bool
	PingTimeout time.Duration
}

type persistenceConfig struct {
	cfg Config
}

func (c persistenceConfig) GetDebug() bool {
	return c.cfg.Debug
}

func (c persistenceConfig) GetDriver() string {
	return c.cfg.Driver
}

func (c persistenceConfig) GetServer() string {
	return c.cfg.DSN
}

func (c persistenceConfig) GetPingTimeout() time.Duration {
	if c.cfg.PingTimeout > 0 {
		return c.cfg.PingTimeout
	}
	return defaultPingTimeout
}

func (c persistenceConfig) GetOtelIdentifier() string {
	return "go-webhooks"
}

// Connect opens the database, registers the embedded migrations for the
// matching dialect, and applies them.
func Connect(ctx context.Context, cfg Config) (*persistence.Client, error) {
	cfg.Driver = strings.TrimSpace(cfg.Driver)
	cfg.DSN = strings.TrimSpace(cfg.DSN)
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db: dsn is required")
	}

	var dialect string
	switch cfg.Driver {
	case DriverPostgres:
		dialect = migrations.DialectPostgres
	case DriverSQLite:
		dialect = migrations.DialectSQLite
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", cfg.Driver)
	}

	sqlDB, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("db: open %s: %w", cfg.Driver, err)
	}
	if cfg.Driver == DriverSQLite {
		// Shared-cache in-memory databases misbehave with more than one
		// connection.
		if strings.Contains(cfg.DSN, "mode=memory") {
			sqlDB.SetMaxOpenConns(1)
		}
	}

	client, err := newClient(persistenceConfig{cfg: cfg}, sqlDB, cfg.Driver)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	_, err = migrations.Register(ctx, func(_ context.Context, _ string, _ string, fsys fs.FS) error {
		client.RegisterSQLMigrations(fsys)
		return nil
	}, migrations.WithValidationTargets(dialect))
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("db: apply migrations: %w", err)
	}
	return client, nil
}

func newClient(cfg persistenceConfig, sqlDB *sql.DB, driver string) (*persistence.Client, error) {
	switch driver {
	case DriverPostgres:
		return persistence.New(cfg, sqlDB, pgdialect.New())
	case DriverSQLite:
		return persistence.New(cfg, sqlDB, sqlitedialect.New())
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", driver)
	}
}
