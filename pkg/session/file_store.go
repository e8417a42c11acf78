package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tkf27/gdbot-admin/pkg/auth"
)

const (
	// DefaultFilePrefix is prepended to the id to form a session file name
	DefaultFilePrefix = "sess_"

	tempFilePattern = ".tmp-*"
)

// FileStore keeps one JSON file per session in a directory
type FileStore struct {
	dir   string
	locks KeyedMutex
	ids   *auth.SessionIDGenerator
	opts  Options
	now   func() time.Time
}

// NewFileStore creates a store rooted at dir, creating it if needed
func NewFileStore(dir string, opts Options) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("session directory is required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	return &FileStore{
		dir:  dir,
		ids:  auth.NewSessionIDGenerator(),
		opts: opts.withDefaults(DefaultFilePrefix),
		now:  time.Now,
	}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, s.opts.Prefix+id)
}

// Create persists a new logged-in session
func (s *FileStore) Create(ctx context.Context, principal auth.Principal) (string, error) {
	id, err := s.ids.GenerateID()
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}

	if err := s.Write(ctx, id, newData(principal, s.now().UTC())); err != nil {
		return "", err
	}
	return id, nil
}

// Read loads the session file. Unknown, malformed and expired sessions read as nil.
func (s *FileStore) Read(ctx context.Context, id string) (*Data, error) {
	if s.ids.ValidateIDFormat(id) != nil {
		return nil, nil
	}

	raw, err := os.ReadFile(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, unavailable("read session", err)
	}

	var data Data
	if err := json.Unmarshal(raw, &data); err != nil {
		// Corrupt files are left for GC, which removes them under the lock
		return nil, nil
	}

	if expired(&data, s.now(), s.opts.MaxLifetime) {
		return nil, nil
	}

	data.ID = id
	return &data, nil
}

// Write atomically replaces the session file
func (s *FileStore) Write(ctx context.Context, id string, data *Data) error {
	if err := s.ids.ValidateIDFormat(id); err != nil {
		return fmt.Errorf("refusing to write session: %w", err)
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	stored := *data
	stored.LastWriteAt = s.now().UTC()
	if err := s.writeFile(id, &stored); err != nil {
		return err
	}

	data.LastWriteAt = stored.LastWriteAt
	return nil
}

// Touch refreshes the last write time of a live session file
func (s *FileStore) Touch(ctx context.Context, id string) (bool, error) {
	if s.ids.ValidateIDFormat(id) != nil {
		return false, nil
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	raw, err := os.ReadFile(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, unavailable("read session", err)
	}

	var data Data
	now := s.now()
	if err := json.Unmarshal(raw, &data); err != nil || !touchable(&data, now, s.opts.MaxLifetime) {
		return false, nil
	}

	data.LastWriteAt = now.UTC()
	if err := s.writeFile(id, &data); err != nil {
		return false, err
	}
	return true, nil
}

// writeFile replaces the session file. The caller holds the id's lock.
func (s *FileStore) writeFile(id string, data *Data) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	// Write to a temp file then rename so readers never see a partial file
	tmp, err := os.CreateTemp(s.dir, tempFilePattern)
	if err != nil {
		return unavailable("create temp session file", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return unavailable("write session", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return unavailable("chmod session", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return unavailable("close session", err)
	}
	if err := os.Rename(tmpName, s.path(id)); err != nil {
		os.Remove(tmpName)
		return unavailable("rename session", err)
	}
	return nil
}

// Destroy removes the session file
func (s *FileStore) Destroy(ctx context.Context, id string) error {
	if s.ids.ValidateIDFormat(id) != nil {
		return nil
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	if err := s.remove(id); err != nil {
		return unavailable("destroy session", err)
	}
	return nil
}

func (s *FileStore) remove(id string) error {
	if err := os.Remove(s.path(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// GC removes session files not written for maxAge
func (s *FileStore) GC(ctx context.Context, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, unavailable("list sessions", err)
	}

	now := s.now()
	evicted := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return evicted, err
		}

		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, s.opts.Prefix) {
			continue
		}
		id := strings.TrimPrefix(name, s.opts.Prefix)
		if s.ids.ValidateIDFormat(id) != nil {
			continue
		}

		removed, err := s.collect(id, now, maxAge)
		if err != nil {
			return evicted, unavailable("collect session", err)
		}
		if removed {
			evicted++
		}
	}
	return evicted, nil
}

// collect removes one session file if it is stale or corrupt
func (s *FileStore) collect(id string, now time.Time, maxAge time.Duration) (bool, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	raw, err := os.ReadFile(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, err
	}

	var data Data
	if err := json.Unmarshal(raw, &data); err == nil && !expired(&data, now, maxAge) {
		return false, nil
	}

	if err := s.remove(id); err != nil {
		return false, err
	}
	return true, nil
}
