package config

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rongwang/bytebank/internal/store"
	"go.etcd.io/bbolt"
)

// SetupStore opens the configured record store and upgrades its schema
func SetupStore(ctx context.Context, cfg *Config) (store.DB, error) {
	switch cfg.Store.Driver {
	case DriverPostgres:
		db, err := SetupDatabase(cfg)
		if err != nil {
			return nil, err
		}
		pg, err := store.OpenPostgres(ctx, db, store.Migrations)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return pg, nil
	default:
		db, err := store.OpenBolt(ctx, cfg.Store.Path, store.Migrations)
		if err != nil {
			return nil, fmt.Errorf("failed to open bolt store: %w", err)
		}
		return db, nil
	}
}

// SetupDatabase initializes the database connection
func SetupDatabase(cfg *Config) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return db, nil
}

// SetupLocalStorage opens the bolt file backing every origin's local storage
func SetupLocalStorage(cfg *Config) (*bbolt.DB, error) {
	db, err := bbolt.Open(cfg.Store.LocalStoragePath, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open local storage: %w", err)
	}
	return db, nil
}
