package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/tkf27/gdbot-admin/pkg/audit"
)

// Keys the bot reads from the settings table
const (
	KeyMentorRoleID = "mentor_role_id"
	KeyAdminRoleID  = "admin_role_id"
	KeyChannelID    = "channel_id"
)

// KnownKeys lists the keys editable from the settings page, in display order
var KnownKeys = []string{KeyMentorRoleID, KeyAdminRoleID, KeyChannelID}

var (
	// ErrNotFound is returned when a key has no stored value
	ErrNotFound = errors.New("setting not found")

	// ErrMutationFailed is returned when an upsert could not be applied
	ErrMutationFailed = errors.New("setting mutation failed")

	// ErrUnknownKey is returned for keys outside KnownKeys
	ErrUnknownKey = errors.New("unknown setting key")
)

// IsKnownKey reports whether key is editable from the panel
func IsKnownKey(key string) bool {
	for _, k := range KnownKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Repository reads and writes bot settings
type Repository struct {
	db     *sqlx.DB
	audit  audit.Logger
	logger logrus.FieldLogger
}

// NewRepository creates a settings repository
func NewRepository(db *sqlx.DB, auditLog audit.Logger, logger logrus.FieldLogger) *Repository {
	if auditLog == nil {
		auditLog = audit.NoOpLogger{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Repository{
		db:     db,
		audit:  auditLog,
		logger: logger,
	}
}

// Get returns the stored value or ErrNotFound
func (r *Repository) Get(ctx context.Context, key string) (string, error) {
	var value sql.NullString
	query := r.db.Rebind(`SELECT value FROM settings WHERE "key" = ?`)
	if err := r.db.GetContext(ctx, &value, query, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value.String, nil
}

// All returns the stored value of every known key; missing keys map to ""
func (r *Repository) All(ctx context.Context) (map[string]string, error) {
	values := make(map[string]string, len(KnownKeys))
	for _, key := range KnownKeys {
		value, err := r.Get(ctx, key)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		values[key] = value
	}
	return values, nil
}

// Set upserts a value and records an INFO entry with the prior value
func (r *Repository) Set(ctx context.Context, key, value string) error {
	if !IsKnownKey(key) {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}

	before := "NULL"
	prior, err := r.Get(ctx, key)
	switch {
	case err == nil:
		before = prior
	case !errors.Is(err, ErrNotFound):
		return err
	}

	query := r.db.Rebind(`INSERT INTO settings ("key", value) VALUES (?, ?)
		ON CONFLICT ("key") DO UPDATE SET value = excluded.value`)
	if _, err := r.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("%w: failed to upsert setting %s: %w", ErrMutationFailed, key, err)
	}

	message := fmt.Sprintf("Setting '%s' was updated. Before: %s After: %s", key, before, value)
	if err := r.audit.Record(ctx, audit.LevelInfo, message, audit.SourceAdmin); err != nil {
		if !errors.Is(err, audit.ErrAuditFailed) {
			err = fmt.Errorf("%w: %w", audit.ErrAuditFailed, err)
		}
		r.logger.WithError(err).WithField("key", key).Error("Setting changed but audit entry was not written")
		return fmt.Errorf("setting %s: %w", key, err)
	}
	return nil
}
