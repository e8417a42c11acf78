package storage

import (
	"errors"
	"time"
)

// Supported database drivers
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// ErrBackupUnsupported is returned when the active driver cannot produce a file snapshot
var ErrBackupUnsupported = errors.New("database backup is only supported for sqlite3")

// Config for the database backend shared with the bot
type Config struct {
	Driver string // "sqlite3" or "postgres"
	DSN    string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Timeout         time.Duration

	// Create the tables the panel needs when they are missing
	AutoMigrate bool
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Driver:          DriverSQLite,
		DSN:             "recruits.db?_busy_timeout=5000",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
		Timeout:         5 * time.Second,
		AutoMigrate:     true,
	}
}

// S3Config configures the optional off-site copy of database backups
type S3Config struct {
	Endpoint     string
	Region       string
	Bucket       string
	Prefix       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// Enabled reports whether backups should also be pushed to S3
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}
