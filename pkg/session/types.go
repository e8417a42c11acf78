package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tkf27/gdbot-admin/pkg/auth"
)

// ErrSessionUnavailable is returned when the backing store cannot be reached
var ErrSessionUnavailable = errors.New("session store unavailable")

// DefaultMaxLifetime matches the panel's historical two hour session lifetime
const DefaultMaxLifetime = 2 * time.Hour

// Data is the state stored for one session
type Data struct {
	ID          string    `json:"-"`
	UserID      int64     `json:"user_id"`
	Username    string    `json:"username"`
	Role        auth.Role `json:"role"`
	IsLoggedIn  bool      `json:"is_logged_in"`
	CreatedAt   time.Time `json:"created_at"`
	LastWriteAt time.Time `json:"last_write_at"`
}

// Principal returns the administrator bound to the session
func (d *Data) Principal() auth.Principal {
	return auth.Principal{
		UserID:   d.UserID,
		Username: d.Username,
		Role:     d.Role,
	}
}

// Store persists session state keyed by session id
type Store interface {
	// Create persists a new logged-in session and returns its id
	Create(ctx context.Context, principal auth.Principal) (string, error)
	// Read returns nil, nil when the id is unknown, destroyed or expired
	Read(ctx context.Context, id string) (*Data, error)
	// Write replaces the state under an exclusive per-session lock
	Write(ctx context.Context, id string, data *Data) error
	// Touch refreshes the last write time of a live logged-in session under
	// the same lock. It writes nothing and reports false when the session
	// is absent, destroyed, expired or logged out.
	Touch(ctx context.Context, id string) (bool, error)
	// Destroy removes all state for the id
	Destroy(ctx context.Context, id string) error
	// GC evicts sessions not written for maxAge and returns how many were removed
	GC(ctx context.Context, maxAge time.Duration) (int, error)
}

// Options are shared by every Store backend
type Options struct {
	// Prefix is prepended to the id to form the file name or key
	Prefix string
	// MaxLifetime bounds how long after its last write a session stays readable
	MaxLifetime time.Duration
}

func (o Options) withDefaults(prefix string) Options {
	if o.Prefix == "" {
		o.Prefix = prefix
	}
	if o.MaxLifetime <= 0 {
		o.MaxLifetime = DefaultMaxLifetime
	}
	return o
}

func newData(p auth.Principal, now time.Time) *Data {
	return &Data{
		UserID:      p.UserID,
		Username:    p.Username,
		Role:        p.Role,
		IsLoggedIn:  true,
		CreatedAt:   now,
		LastWriteAt: now,
	}
}

// touchable reports whether a stored session may have its last write refreshed
func touchable(data *Data, now time.Time, maxAge time.Duration) bool {
	return data.IsLoggedIn && !expired(data, now, maxAge)
}

// expired reports whether data was last written more than maxAge before now
func expired(data *Data, now time.Time, maxAge time.Duration) bool {
	return now.Sub(data.LastWriteAt) > maxAge
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: failed to %s: %w", ErrSessionUnavailable, op, err)
}
