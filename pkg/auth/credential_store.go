package auth

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"
)

// SQLCredentialStore reads administrators from the bot database
type SQLCredentialStore struct {
	db *sqlx.DB
}

// NewSQLCredentialStore creates a new credential store
func NewSQLCredentialStore(db *sqlx.DB) *SQLCredentialStore {
	return &SQLCredentialStore{db: db}
}

// FindByUsername returns every administrator with the given username
func (s *SQLCredentialStore) FindByUsername(ctx context.Context, username string) ([]Administrator, error) {
	query := s.db.Rebind(`SELECT id, username, password, role FROM administrators WHERE username = ?`)

	var admins []Administrator
	if err := s.db.SelectContext(ctx, &admins, query, username); err != nil {
		return nil, fmt.Errorf("failed to query administrators: %w", err)
	}
	return admins, nil
}

// Create inserts a new administrator with a bcrypt hash of password
func (s *SQLCredentialStore) Create(ctx context.Context, username, password string, role Role) (*Administrator, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	admin := &Administrator{
		Username:     username,
		PasswordHash: hash,
		Role:         role,
	}

	query := s.db.Rebind(`INSERT INTO administrators (username, password, role) VALUES (?, ?, ?) RETURNING id`)
	if err := s.db.QueryRowContext(ctx, query, username, hash, role).Scan(&admin.ID); err != nil {
		return nil, fmt.Errorf("failed to create administrator: %w", err)
	}
	return admin, nil
}

// HashPassword hashes a password for storage in the administrators table
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}
