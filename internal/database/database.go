// Package database opens the postgres store of the callback host and owns
// its schema
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/alexbotov/spinclient/internal/config"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog"
)

// DB wraps the SQL connection pool
type DB struct {
	*sql.DB
}

// New opens a pool for cfg and verifies connectivity
func New(ctx context.Context, cfg config.DatabaseConfig, log zerolog.Logger) (*DB, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	log.Info().
		Str("driver", cfg.Driver).
		Int("max_conns", cfg.MaxConns).
		Msg("Database connection pool established")

	return &DB{DB: db}, nil
}

// tables emptied by CleanData
var tables = []string{
	"players",
	"balances",
	"transactions",
	"audit_events",
	"player_limits",
	"system_state",
	"disabled_games",
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS players (
		id UUID PRIMARY KEY,
		username VARCHAR(255) UNIQUE NOT NULL,
		nickname VARCHAR(255) NOT NULL,
		password_hash VARCHAR(255) NOT NULL,
		provider_password VARCHAR(255) NOT NULL,
		currency VARCHAR(3) NOT NULL,
		status VARCHAR(50) NOT NULL DEFAULT 'active',
		last_login_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,

	// amounts are minor units
	`CREATE TABLE IF NOT EXISTS balances (
		player_id UUID PRIMARY KEY REFERENCES players(id),
		amount BIGINT NOT NULL DEFAULT 0 CHECK (amount >= 0),
		currency VARCHAR(3) NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,

	// one row per provider transaction and movement type
	`CREATE TABLE IF NOT EXISTS transactions (
		id UUID PRIMARY KEY,
		player_id UUID NOT NULL REFERENCES players(id),
		type VARCHAR(50) NOT NULL,
		amount BIGINT NOT NULL,
		currency VARCHAR(3) NOT NULL,
		balance_before BIGINT NOT NULL,
		balance_after BIGINT NOT NULL,
		status VARCHAR(50) NOT NULL,
		provider_tx_id VARCHAR(255) NOT NULL,
		round_id VARCHAR(255) NOT NULL DEFAULT '',
		game_id VARCHAR(255) NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		UNIQUE (type, provider_tx_id)
	)`,

	`CREATE TABLE IF NOT EXISTS audit_events (
		id UUID PRIMARY KEY,
		type VARCHAR(100) NOT NULL,
		severity VARCHAR(20) NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		player_id UUID,
		description TEXT NOT NULL,
		data JSONB,
		ip_address VARCHAR(45),
		component VARCHAR(100) NOT NULL
	)`,

	// a pending amount replaces amount once pending_from has passed
	`CREATE TABLE IF NOT EXISTS player_limits (
		player_id UUID NOT NULL REFERENCES players(id),
		kind VARCHAR(50) NOT NULL,
		amount BIGINT,
		pending_amount BIGINT,
		pending_from TIMESTAMP,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (player_id, kind)
	)`,

	`CREATE TABLE IF NOT EXISTS system_state (
		key VARCHAR(100) PRIMARY KEY,
		value TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMP NOT NULL,
		updated_by VARCHAR(255) NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS disabled_games (
		game_id VARCHAR(255) PRIMARY KEY,
		reason TEXT NOT NULL,
		disabled_at TIMESTAMP NOT NULL,
		disabled_by VARCHAR(255) NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_transactions_player_created ON transactions(player_id, type, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_events_player ON audit_events(player_id)`,
}

// Migrate creates missing tables and indexes in one transaction
func (db *DB) Migrate(ctx context.Context) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting migration: %w", err)
	}
	defer tx.Rollback()

	for i, stmt := range migrations {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// CleanData empties every table and keeps the schema
func (db *DB) CleanData(ctx context.Context) error {
	_, err := db.ExecContext(ctx, "TRUNCATE TABLE "+strings.Join(tables, ", ")+" CASCADE")
	return err
}
