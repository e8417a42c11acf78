package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// CredentialStore looks up administrators by username.
// It returns every matching row so callers can insist on exactly one.
type CredentialStore interface {
	FindByUsername(ctx context.Context, username string) ([]Administrator, error)
}

// Authenticator verifies username/password pairs against stored bcrypt hashes
type Authenticator struct {
	store  CredentialStore
	logger logrus.FieldLogger
}

// NewAuthenticator creates a new authenticator
func NewAuthenticator(store CredentialStore, logger logrus.FieldLogger) *Authenticator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Authenticator{
		store:  store,
		logger: logger,
	}
}

var (
	dummyHashOnce sync.Once
	dummyHash     []byte
)

// equalizeTiming spends a bcrypt comparison when no account matched so
// unknown usernames cost the same as wrong passwords.
func equalizeTiming(password string) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("gd-admin-placeholder"), bcrypt.DefaultCost)
	})
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}

// Authenticate returns the principal for a valid username/password pair.
//
// Any failure (empty fields, unknown user, duplicate rows, wrong password)
// returns ErrInvalidCredentials. Store errors are returned wrapped.
func (a *Authenticator) Authenticate(ctx context.Context, username, password string) (*Principal, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	admins, err := a.store.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to look up administrator: %w", err)
	}

	if len(admins) != 1 {
		if len(admins) > 1 {
			a.logger.WithFields(logrus.Fields{
				"username": username,
				"matches":  len(admins),
			}).Error("Ambiguous administrator username, refusing login")
		}
		equalizeTiming(password)
		return nil, ErrInvalidCredentials
	}

	admin := admins[0]
	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	principal := admin.Principal()
	return &principal, nil
}
