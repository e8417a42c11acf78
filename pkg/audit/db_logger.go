package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// DBLogger writes audit entries to the logs table shared with the bot
type DBLogger struct {
	db      *sqlx.DB
	logger  logrus.FieldLogger
	metrics MetricsRecorder
	now     func() time.Time
}

// NewDBLogger creates a new database-based audit logger.
// The logs table is created by storage.EnsureSchema.
func NewDBLogger(db *sqlx.DB, logger logrus.FieldLogger) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &DBLogger{
		db:     db,
		logger: logger,
		now:    time.Now,
	}, nil
}

// WithMetrics attaches a metrics recorder
func (l *DBLogger) WithMetrics(metrics MetricsRecorder) *DBLogger {
	l.metrics = metrics
	return l
}

// Record inserts one entry with a server-assigned UTC timestamp
func (l *DBLogger) Record(ctx context.Context, level Level, message string, source Source) error {
	if !level.Valid() {
		return fmt.Errorf("%w: unknown level %q", ErrAuditFailed, level)
	}
	if source == "" {
		source = SourceAdmin
	}
	if !source.Valid() {
		return fmt.Errorf("%w: unknown source %q", ErrAuditFailed, source)
	}

	query := l.db.Rebind(`INSERT INTO logs (timestamp, source, level, message) VALUES (?, ?, ?, ?)`)
	_, err := l.db.ExecContext(ctx, query, l.now().UTC(), string(source), string(level), message)

	if l.metrics != nil {
		l.metrics.RecordAudit(string(level), err)
	}

	if err != nil {
		l.logger.WithError(err).WithFields(logrus.Fields{
			"level":  level,
			"source": source,
		}).Error("Failed to write audit entry")
		return fmt.Errorf("%w: failed to insert audit log: %w", ErrAuditFailed, err)
	}

	return nil
}

// List returns entries newest first
func (l *DBLogger) List(ctx context.Context, filter ListFilter) ([]Entry, error) {
	filter = filter.normalize()

	query := `SELECT id, timestamp, source, level, message FROM logs WHERE 1=1`
	args := []interface{}{}

	if filter.Level != "" {
		query += " AND level = ?"
		args = append(args, string(filter.Level))
	}
	if filter.Source != "" {
		query += " AND source = ?"
		args = append(args, string(filter.Source))
	}

	query += " ORDER BY id DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	entries := []Entry{}
	if err := l.db.SelectContext(ctx, &entries, l.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}

	return entries, nil
}
