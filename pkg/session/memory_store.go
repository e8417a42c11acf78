package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tkf27/gdbot-admin/pkg/auth"
)

// MemoryStore keeps sessions in process memory
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Data
	locks    KeyedMutex
	ids      *auth.SessionIDGenerator
	opts     Options
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]Data),
		ids:      auth.NewSessionIDGenerator(),
		opts:     opts.withDefaults(""),
		now:      time.Now,
	}
}

// Create persists a new logged-in session
func (s *MemoryStore) Create(ctx context.Context, principal auth.Principal) (string, error) {
	id, err := s.ids.GenerateID()
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}

	data := newData(principal, s.now().UTC())

	s.mu.Lock()
	s.sessions[id] = *data
	s.mu.Unlock()

	return id, nil
}

// Read returns a copy of the session state
func (s *MemoryStore) Read(ctx context.Context, id string) (*Data, error) {
	s.mu.RLock()
	data, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok || expired(&data, s.now(), s.opts.MaxLifetime) {
		return nil, nil
	}

	data.ID = id
	return &data, nil
}

// Write replaces the session state
func (s *MemoryStore) Write(ctx context.Context, id string, data *Data) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	stored := *data
	stored.ID = ""
	stored.LastWriteAt = s.now().UTC()

	s.mu.Lock()
	s.sessions[id] = stored
	s.mu.Unlock()

	data.LastWriteAt = stored.LastWriteAt
	return nil
}

// Touch refreshes the last write time of a live session
func (s *MemoryStore) Touch(ctx context.Context, id string) (bool, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.sessions[id]
	if !ok || !touchable(&data, now, s.opts.MaxLifetime) {
		return false, nil
	}
	data.LastWriteAt = now.UTC()
	s.sessions[id] = data
	return true, nil
}

// Destroy removes the session
func (s *MemoryStore) Destroy(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	return nil
}

// GC evicts sessions not written for maxAge
func (s *MemoryStore) GC(ctx context.Context, maxAge time.Duration) (int, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, data := range s.sessions {
		if expired(&data, now, maxAge) {
			delete(s.sessions, id)
			evicted++
		}
	}
	return evicted, nil
}
