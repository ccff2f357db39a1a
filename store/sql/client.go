package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strings"
	"time"

	channelmigrations "github.com/goliatone/go-channels/migrations"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

// ClientConfig parameterizes a persistence client for one of the supported
// dialects. Driver is "postgres" or "sqlite3".
type ClientConfig struct {
	Driver         string
	DSN            string
	Debug          bool
	PingTimeout    time.Duration
	OtelIdentifier string
}

func (c ClientConfig) GetDebug() bool {
	return c.Debug
}

func (c ClientConfig) GetDriver() string {
	return c.Driver
}

func (c ClientConfig) GetServer() string {
	return c.DSN
}

func (c ClientConfig) GetPingTimeout() time.Duration {
	if c.PingTimeout <= 0 {
		return 5 * time.Second
	}
	return c.PingTimeout
}

func (c ClientConfig) GetOtelIdentifier() string {
	if strings.TrimSpace(c.OtelIdentifier) == "" {
		return "go-channels"
	}
	return c.OtelIdentifier
}

// NewPersistenceClient opens the database, builds a persistence client for
// the configured dialect, and registers the channel schema migrations for
// that dialect. Callers run client.Migrate before building stores.
func NewPersistenceClient(ctx context.Context, cfg ClientConfig) (*persistence.Client, error) {
	driver := strings.TrimSpace(cfg.Driver)
	if driver == "" {
		return nil, fmt.Errorf("sqlstore: driver is required")
	}
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("sqlstore: dsn is required")
	}

	var (
		dialect        schema.Dialect
		migrateDialect string
	)
	switch driver {
	case "postgres":
		dialect = pgdialect.New()
		migrateDialect = channelmigrations.DialectPostgres
	case "sqlite3":
		dialect = sqlitedialect.New()
		migrateDialect = channelmigrations.DialectSQLite
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}

	sqlDB, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open database: %w", err)
	}
	if driver == "sqlite3" {
		// sqlite serializes writers; a single connection avoids
		// SQLITE_BUSY and keeps shared in-memory databases alive.
		sqlDB.SetMaxOpenConns(1)
	}

	client, err := persistence.New(cfg, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlstore: new persistence client: %w", err)
	}

	_, err = channelmigrations.Register(ctx, func(_ context.Context, registeredDialect string, _ string, fsys fs.FS) error {
		if registeredDialect != migrateDialect {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, channelmigrations.WithValidationTargets(migrateDialect))
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("sqlstore: register migrations: %w", err)
	}
	return client, nil
}
