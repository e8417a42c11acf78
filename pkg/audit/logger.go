package audit

import (
	"context"
)

// Logger records audit entries.
// Repositories call Record only after a mutation has taken effect.
type Logger interface {
	Record(ctx context.Context, level Level, message string, source Source) error
}

// Lister reads audit entries newest first
type Lister interface {
	List(ctx context.Context, filter ListFilter) ([]Entry, error)
}

// MetricsRecorder counts written and failed entries
type MetricsRecorder interface {
	RecordAudit(level string, err error)
}

// NoOpLogger discards every entry
type NoOpLogger struct{}

// Record implements Logger
func (NoOpLogger) Record(ctx context.Context, level Level, message string, source Source) error {
	return nil
}
