package session

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tkf27/gdbot-admin/pkg/auth"
)

// Config controls the session cookie and garbage collection
type Config struct {
	CookieName    string
	CookiePath    string
	Secure        bool
	MaxLifetime   time.Duration
	GCProbability int
	GCDivisor     int
}

// DefaultConfig returns the default session configuration
func DefaultConfig() Config {
	return Config{
		CookieName:    "gd_admin_session",
		CookiePath:    "/",
		MaxLifetime:   DefaultMaxLifetime,
		GCProbability: 1,
		GCDivisor:     100,
	}
}

// Manager binds a Store to HTTP cookies
type Manager struct {
	store  Store
	config Config
	ids    *auth.SessionIDGenerator
	logger logrus.FieldLogger

	rngMu sync.Mutex
	rng   *rand.Rand

	onGC func(evicted int, err error)
}

// NewManager creates a new session manager
func NewManager(store Store, config Config, logger logrus.FieldLogger) *Manager {
	defaults := DefaultConfig()
	if config.CookieName == "" {
		config.CookieName = defaults.CookieName
	}
	if config.CookiePath == "" {
		config.CookiePath = defaults.CookiePath
	}
	if config.MaxLifetime <= 0 {
		config.MaxLifetime = defaults.MaxLifetime
	}
	if config.GCDivisor <= 0 {
		config.GCDivisor = defaults.GCDivisor
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Manager{
		store:  store,
		config: config,
		ids:    auth.NewSessionIDGenerator(),
		logger: logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// OnGC registers a callback invoked after every collection run
func (m *Manager) OnGC(fn func(evicted int, err error)) {
	m.onGC = fn
}

// Start creates a session for principal and sets the cookie.
// A session already named by the request cookie is destroyed first.
func (m *Manager) Start(w http.ResponseWriter, r *http.Request, principal auth.Principal) (string, error) {
	ctx := r.Context()

	if old := m.cookieValue(r); old != "" {
		if err := m.store.Destroy(ctx, old); err != nil {
			return "", fmt.Errorf("failed to replace previous session: %w", err)
		}
	}

	id, err := m.store.Create(ctx, principal)
	if err != nil {
		return "", err
	}

	http.SetCookie(w, m.cookie(id, 0))

	m.logger.WithFields(logrus.Fields{
		"username": principal.Username,
		"session":  auth.Fingerprint(id),
	}).Info("Session started")

	return id, nil
}

// Load returns the session named by the request cookie.
// It returns nil, nil when the request carries no valid logged-in session.
func (m *Manager) Load(r *http.Request) (*Data, error) {
	m.maybeGC(r.Context())

	id := m.cookieValue(r)
	if id == "" {
		return nil, nil
	}

	data, err := m.store.Read(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if data == nil || !data.IsLoggedIn {
		return nil, nil
	}
	return data, nil
}

// Refresh moves the last write time of the session named id forward. A
// session that has meanwhile been destroyed or expired is left alone.
func (m *Manager) Refresh(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	_, err := m.store.Touch(ctx, id)
	return err
}

// Destroy removes the session named by the request cookie and expires the cookie
func (m *Manager) Destroy(w http.ResponseWriter, r *http.Request) error {
	http.SetCookie(w, m.cookie("", -1))

	id := m.cookieValue(r)
	if id == "" {
		return nil
	}

	if err := m.store.Destroy(r.Context(), id); err != nil {
		return err
	}

	m.logger.WithField("session", auth.Fingerprint(id)).Info("Session destroyed")
	return nil
}

// GC evicts every session older than the configured lifetime
func (m *Manager) GC(ctx context.Context) (int, error) {
	evicted, err := m.store.GC(ctx, m.config.MaxLifetime)
	if m.onGC != nil {
		m.onGC(evicted, err)
	}
	if err != nil {
		return evicted, fmt.Errorf("session gc failed: %w", err)
	}
	return evicted, nil
}

// maybeGC runs GC inline with probability GCProbability/GCDivisor
func (m *Manager) maybeGC(ctx context.Context) {
	if m.config.GCProbability <= 0 {
		return
	}

	m.rngMu.Lock()
	roll := m.rng.Intn(m.config.GCDivisor)
	m.rngMu.Unlock()

	if roll >= m.config.GCProbability {
		return
	}

	evicted, err := m.GC(ctx)
	if err != nil {
		m.logger.WithError(err).Warn("Session garbage collection failed")
		return
	}
	if evicted > 0 {
		m.logger.WithField("evicted", evicted).Debug("Collected expired sessions")
	}
}

func (m *Manager) cookieValue(r *http.Request) string {
	c, err := r.Cookie(m.config.CookieName)
	if err != nil {
		return ""
	}
	if m.ids.ValidateIDFormat(c.Value) != nil {
		return ""
	}
	return c.Value
}

func (m *Manager) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     m.config.CookieName,
		Value:    value,
		Path:     m.config.CookiePath,
		MaxAge:   maxAge,
		Secure:   m.config.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}
