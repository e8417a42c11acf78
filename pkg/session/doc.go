// Package session keeps server-side login state for the GD admin panel.
//
// A Store persists one record per session id. Three backends are provided:
//
//	FileStore  - one JSON file per session, written atomically (default)
//	RedisStore - one key per session with a TTL, shared between replicas
//	MemoryStore - process-local map for tests and development
//
// Every backend serializes writes to the same id, treats sessions older than
// the configured lifetime as absent, and wraps I/O failures in
// ErrSessionUnavailable so callers never mistake an outage for a logout.
//
// Manager binds a Store to HTTP cookies:
//
//	mgr := session.NewManager(store, session.DefaultConfig(), logger)
//	id, err := mgr.Start(w, r, principal)
//	data, err := mgr.Load(r) // nil, nil when anonymous
//
// Expired sessions are collected probabilistically on Load, or by the
// gd-admin-gc command.
package session
