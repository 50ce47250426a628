package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

type DB struct {
	db     *sql.DB
	logger *zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %v", err)
	}

	// Batches upsert concurrently; WAL plus a busy timeout keeps writers
	// from tripping over each other.
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %v", err)
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return &DB{db: db, logger: logger}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS import_jobs (
            id TEXT PRIMARY KEY,
            owner_id TEXT NOT NULL,
            name TEXT NOT NULL,
            description TEXT,
            cron_expr TEXT NOT NULL,
            source_url TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            is_active BOOLEAN NOT NULL DEFAULT 0,
            last_run_at DATETIME,
            next_run_at DATETIME,
            success_count INTEGER NOT NULL DEFAULT 0,
            error_count INTEGER NOT NULL DEFAULT 0,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS execution_logs (
            id TEXT PRIMARY KEY,
            job_id TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'processing',
            started_at DATETIME NOT NULL,
            finished_at DATETIME,
            items_processed INTEGER NOT NULL DEFAULT 0,
            items_imported INTEGER NOT NULL DEFAULT 0,
            items_failed INTEGER NOT NULL DEFAULT 0,
            error_message TEXT,
            error_detail TEXT,
            row_errors TEXT
        )`,
		`CREATE TABLE IF NOT EXISTS categories (
            id TEXT PRIMARY KEY,
            owner_id TEXT NOT NULL,
            name TEXT NOT NULL,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            UNIQUE(owner_id, name)
        )`,
		`CREATE TABLE IF NOT EXISTS families (
            id TEXT PRIMARY KEY,
            owner_id TEXT NOT NULL,
            name TEXT NOT NULL,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            UNIQUE(owner_id, name)
        )`,
		`CREATE TABLE IF NOT EXISTS attributes (
            id TEXT PRIMARY KEY,
            owner_id TEXT NOT NULL,
            name TEXT NOT NULL,
            type TEXT NOT NULL,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            UNIQUE(owner_id, name)
        )`,
		`CREATE TABLE IF NOT EXISTS products (
            id TEXT PRIMARY KEY,
            owner_id TEXT NOT NULL,
            sku TEXT NOT NULL,
            name TEXT NOT NULL,
            product_link TEXT,
            image_url TEXT,
            sub_images TEXT,
            category_id TEXT,
            family_id TEXT,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            UNIQUE(owner_id, sku)
        )`,
		`CREATE TABLE IF NOT EXISTS product_attributes (
            product_id TEXT NOT NULL,
            attribute_id TEXT NOT NULL,
            value TEXT NOT NULL,
            PRIMARY KEY (product_id, attribute_id)
        )`,

		`CREATE INDEX IF NOT EXISTS idx_import_jobs_owner ON import_jobs(owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_import_jobs_active ON import_jobs(is_active)`,
		`CREATE INDEX IF NOT EXISTS idx_execution_logs_job ON execution_logs(job_id, started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_products_owner_sku ON products(owner_id, sku)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %v", query, err)
		}
	}
	return nil
}

// QueryRowContext exposes raw row access for tests and tooling.
func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return db.db.QueryRowContext(ctx, query, args...)
}

func (db *DB) Close() error {
	return db.db.Close()
}
