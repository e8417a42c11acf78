package audit

import (
	"errors"
	"time"
)

// Level is the severity recorded with an audit entry
type Level string

const (
	LevelInfo    Level = "INFO"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
)

// Valid reports whether l is one of the known levels
func (l Level) Valid() bool {
	switch l {
	case LevelInfo, LevelWarning, LevelError:
		return true
	}
	return false
}

// Source identifies who performed the audited action
type Source string

const (
	SourceAdmin Source = "ADMIN"
	SourceBot   Source = "BOT"
)

// Valid reports whether s is one of the known sources
func (s Source) Valid() bool {
	return s == SourceAdmin || s == SourceBot
}

// ErrAuditFailed is returned when an entry could not be written.
// A mutation that preceded the failure stays applied.
var ErrAuditFailed = errors.New("audit log write failed")

// Entry is a single row of the logs table
type Entry struct {
	ID        int64     `db:"id" json:"id"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
	Source    Source    `db:"source" json:"source"`
	Level     Level     `db:"level" json:"level"`
	Message   string    `db:"message" json:"message"`
}

const (
	// DefaultListLimit is used when a filter does not set a limit
	DefaultListLimit = 100
	// MaxListLimit caps a single page
	MaxListLimit = 1000
)

// ListFilter narrows and pages a log listing
type ListFilter struct {
	Level  Level
	Source Source
	Limit  int
	Offset int
}

func (f ListFilter) normalize() ListFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
