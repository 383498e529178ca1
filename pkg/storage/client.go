package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"footprint/config"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Client is the durable store for trades, candles and symbol metadata.
type Client struct {
	DB     *gorm.DB
	driver string
}

// NewPostgresClient connects to Postgres through the pgx-backed gorm driver.
func NewPostgresClient(dsn string) (*Client, error) {
	db, err := gorm.Open(postgres.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return &Client{DB: db, driver: config.DriverPostgres}, nil
}

// NewSQLiteClient opens (or creates) a SQLite database file in WAL mode.
func NewSQLiteClient(path string) (*Client, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	return &Client{DB: db, driver: config.DriverSQLite}, nil
}

func gormConfig() *gorm.Config {
	return &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
}

// Open connects to the configured backend, optionally creates the Postgres
// database, applies pool settings and runs AutoMigrate.
func Open(cfg config.StorageConfig, env string) (*Client, error) {
	var (
		client *Client
		err    error
	)

	switch cfg.Driver {
	case config.DriverPostgres:
		if cfg.CreateDatabase {
			if err := CreateDatabase(cfg.Postgres); err != nil {
				return nil, fmt.Errorf("failed to create database: %w", err)
			}
		}
		client, err = NewPostgresClient(cfg.Postgres.DSN(env))
	case config.DriverSQLite:
		client, err = NewSQLiteClient(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := client.configurePool(cfg.Postgres); err != nil {
		return nil, err
	}

	if err := client.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return client, nil
}

func (c *Client) configurePool(pg config.PostgresConfig) error {
	db, err := c.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to retrieve raw DB: %w", err)
	}
	if c.driver == config.DriverSQLite {
		// a single writer avoids SQLITE_BUSY between the workers
		db.SetMaxOpenConns(1)
		return nil
	}
	if pg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pg.MaxOpenConns)
	}
	if pg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pg.MaxIdleConns)
	}
	if pg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pg.ConnMaxLifetime)
	}
	return nil
}

// AutoMigrate creates or updates the trade, candle and symbol tables.
func (c *Client) AutoMigrate() error {
	if err := c.DB.AutoMigrate(&TradeRecord{}, &CandleRecord{}, &SymbolRecord{}); err != nil {
		return fmt.Errorf("auto-migrate tables: %w", err)
	}
	return nil
}

func (c *Client) Driver() string {
	return c.driver
}

func (c *Client) IsHealthy(ctx context.Context) bool {
	db, err := c.DB.DB()
	if err != nil {
		return false
	}
	return db.PingContext(ctx) == nil
}

func (c *Client) Close() error {
	db, err := c.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to retrieve raw DB: %w", err)
	}
	return db.Close()
}
