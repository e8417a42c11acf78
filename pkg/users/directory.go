package users

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// Config sizes the display-name cache
type Config struct {
	CacheSize int
	TTL       time.Duration
}

// DefaultConfig returns the default cache configuration
func DefaultConfig() *Config {
	return &Config{
		CacheSize: 1000,
		TTL:       10 * time.Minute,
	}
}

// Stats reports cache effectiveness
type Stats struct {
	Hits      int64
	Misses    int64
	ItemCount int
}

// Directory resolves Discord user ids to display names from the users table
// the bot maintains, with an expiring LRU in front of it.
type Directory struct {
	db     *sqlx.DB
	cache  *lru.LRU[int64, string]
	logger logrus.FieldLogger
	now    func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

type userRow struct {
	ID       int64  `db:"id"`
	Username string `db:"username"`
}

// NewDirectory creates a user directory
func NewDirectory(db *sqlx.DB, config *Config, logger logrus.FieldLogger) *Directory {
	if config == nil {
		config = DefaultConfig()
	}
	size := config.CacheSize
	if size < 10 {
		size = 10
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Directory{
		db:     db,
		cache:  lru.NewLRU[int64, string](size, nil, config.TTL),
		logger: logger,
		now:    time.Now,
	}
}

// Store upserts a user's display name
func (d *Directory) Store(ctx context.Context, id int64, username string) error {
	if id <= 0 {
		return fmt.Errorf("invalid user id: %d", id)
	}
	if username == "" {
		return fmt.Errorf("username is required")
	}

	query := d.db.Rebind(`INSERT INTO users (id, username, last_updated) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET username = excluded.username, last_updated = excluded.last_updated`)
	if _, err := d.db.ExecContext(ctx, query, id, username, d.now().UTC()); err != nil {
		return fmt.Errorf("failed to store user %d: %w", id, err)
	}

	d.cache.Add(id, username)
	return nil
}

// Names returns the known display names for ids.
// Ids without a row are absent from the result.
func (d *Directory) Names(ctx context.Context, ids []int64) (map[int64]string, error) {
	names := make(map[int64]string, len(ids))
	missing := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))

	for _, id := range ids {
		if _, done := seen[id]; done {
			continue
		}
		seen[id] = struct{}{}
		if name, ok := d.cache.Get(id); ok {
			d.hits.Add(1)
			names[id] = name
			continue
		}
		d.misses.Add(1)
		missing = append(missing, id)
	}

	if len(missing) == 0 {
		return names, nil
	}

	query, args, err := sqlx.In(`SELECT id, username FROM users WHERE id IN (?)`, missing)
	if err != nil {
		return nil, fmt.Errorf("failed to build user query: %w", err)
	}

	var rows []userRow
	if err := d.db.SelectContext(ctx, &rows, d.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to look up users: %w", err)
	}

	for _, row := range rows {
		names[row.ID] = row.Username
		d.cache.Add(row.ID, row.Username)
	}

	d.logger.WithFields(logrus.Fields{
		"requested": len(missing),
		"found":     len(rows),
	}).Debug("Resolved user names")

	return names, nil
}

// Stats returns cache statistics
func (d *Directory) Stats() Stats {
	return Stats{
		Hits:      d.hits.Load(),
		Misses:    d.misses.Load(),
		ItemCount: d.cache.Len(),
	}
}

// DisplayName returns the resolved name for id, or the id itself
func DisplayName(names map[int64]string, id int64) string {
	if name, ok := names[id]; ok && name != "" {
		return name
	}
	return strconv.FormatInt(id, 10)
}
