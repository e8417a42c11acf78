package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// The bot owns recruits and settings; administrators are provisioned out of band.
// Every statement is idempotent so the panel can start against a live bot database.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS administrators (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		password TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'admin'
	)`,
	`CREATE TABLE IF NOT EXISTS recruits (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		date_s TEXT NOT NULL,
		place TEXT NOT NULL,
		max_people INTEGER NOT NULL,
		message TEXT,
		mentor_needed INTEGER NOT NULL DEFAULT 0,
		industry TEXT,
		thread_id INTEGER,
		author_id INTEGER,
		msg_id INTEGER,
		participants TEXT DEFAULT '[]',
		mentors TEXT DEFAULT '[]',
		notification_sent INTEGER NOT NULL DEFAULT 0,
		is_deleted INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS settings (
		"key" TEXT PRIMARY KEY,
		value TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
		source TEXT NOT NULL,
		level TEXT NOT NULL,
		message TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY,
		username TEXT NOT NULL,
		last_updated DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS administrators (
		id BIGSERIAL PRIMARY KEY,
		username VARCHAR(255) NOT NULL UNIQUE,
		password VARCHAR(255) NOT NULL,
		role VARCHAR(50) NOT NULL DEFAULT 'admin'
	)`,
	`CREATE TABLE IF NOT EXISTS recruits (
		id BIGSERIAL PRIMARY KEY,
		date_s TEXT NOT NULL,
		place TEXT NOT NULL,
		max_people INTEGER NOT NULL,
		message TEXT,
		mentor_needed INTEGER NOT NULL DEFAULT 0,
		industry TEXT,
		thread_id BIGINT,
		author_id BIGINT,
		msg_id BIGINT,
		participants TEXT DEFAULT '[]',
		mentors TEXT DEFAULT '[]',
		notification_sent INTEGER NOT NULL DEFAULT 0,
		is_deleted INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS settings (
		"key" VARCHAR(255) PRIMARY KEY,
		value TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS logs (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		source VARCHAR(20) NOT NULL,
		level VARCHAR(20) NOT NULL,
		message TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_logs_level ON logs(level)`,
	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT PRIMARY KEY,
		username VARCHAR(255) NOT NULL,
		last_updated TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	)`,
}

// EnsureSchema creates any missing table the panel reads or writes
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	statements := sqliteSchema
	if db.DriverName() == DriverPostgres {
		statements = postgresSchema
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}
