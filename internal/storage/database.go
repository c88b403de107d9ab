package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DatabasePool manages a shared database connection pool for the storage
// components that persist to Postgres (bad API keys, stream chunk archive).
// The database is optional: an empty URL disables every dependent feature.
type DatabasePool struct {
	db    *sql.DB
	mutex sync.RWMutex
	once  sync.Once
}

var globalPool *DatabasePool

// GetDatabase returns a shared database connection, creating it if necessary.
func GetDatabase(dbURL string) (*sql.DB, error) {
	if dbURL == "" {
		return nil, fmt.Errorf("no database URL configured")
	}
	if globalPool == nil {
		globalPool = &DatabasePool{}
	}

	globalPool.mutex.RLock()
	if globalPool.db != nil {
		defer globalPool.mutex.RUnlock()
		return globalPool.db, nil
	}
	globalPool.mutex.RUnlock()

	var initErr error
	globalPool.once.Do(func() {
		globalPool.mutex.Lock()
		defer globalPool.mutex.Unlock()

		db, err := sql.Open("pgx", dbURL)
		if err != nil {
			initErr = err
			return
		}

		db.SetMaxOpenConns(16)
		db.SetMaxIdleConns(8)
		db.SetConnMaxLifetime(5 * time.Minute)
		db.SetConnMaxIdleTime(2 * time.Minute)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			initErr = fmt.Errorf("database ping failed: %w", err)
			return
		}

		globalPool.db = db
	})

	return globalPool.db, initErr
}

// CloseDatabase closes the shared database connection.
func CloseDatabase() error {
	if globalPool != nil && globalPool.db != nil {
		globalPool.mutex.Lock()
		defer globalPool.mutex.Unlock()
		return globalPool.db.Close()
	}
	return nil
}

// InitializeAllTables creates all required tables in a single transaction for
// faster startup. A no-op when no database is configured.
func InitializeAllTables(ctx context.Context, dbURL string) error {
	if dbURL == "" {
		return nil
	}
	db, err := GetDatabase(dbURL)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	tables := []string{
		// Bad API keys ledger (from api_key_manager.go)
		`CREATE TABLE IF NOT EXISTS bad_api_keys (
			provider TEXT NOT NULL,
			api_key TEXT NOT NULL,
			reason TEXT NOT NULL,
			marked_at BIGINT NOT NULL,
			PRIMARY KEY (provider, api_key)
		)`,

		// Raw stream chunk archive (from chunk_archive.go)
		`CREATE TABLE IF NOT EXISTS stream_chunks (
			message_id TEXT PRIMARY KEY,
			model TEXT NOT NULL,
			chunks JSONB NOT NULL,
			final_response TEXT NOT NULL,
			archived_at BIGINT NOT NULL
		)`,
	}

	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, table); err != nil {
			return err
		}
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_bad_api_keys_provider ON bad_api_keys(provider)`,
		`CREATE INDEX IF NOT EXISTS idx_stream_chunks_archived_at ON stream_chunks(archived_at)`,
	}

	for _, index := range indexes {
		if _, err := tx.ExecContext(ctx, index); err != nil {
			return err
		}
	}

	return tx.Commit()
}
