package auth

import "errors"

// Role is the role stored on an administrator account
type Role string

const (
	// RoleAdmin may mutate recruits and settings and download backups
	RoleAdmin Role = "admin"
	// RoleViewer may only read pages
	RoleViewer Role = "viewer"
)

var (
	// ErrInvalidCredentials is returned for every failed login. It never
	// reveals whether the username or the password was wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrForbidden is returned when a principal lacks the required role
	ErrForbidden = errors.New("forbidden")
)

// Administrator is a row of the administrators table
type Administrator struct {
	ID           int64  `db:"id" json:"id"`
	Username     string `db:"username" json:"username"`
	PasswordHash string `db:"password" json:"-"` // Never expose hash
	Role         Role   `db:"role" json:"role"`
}

// Principal identifies the administrator bound to a session
type Principal struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// HasRole checks if the principal holds exactly the given role
func (p Principal) HasRole(role Role) bool {
	return p.Role == role
}

// Principal returns the identity to store in a session
func (a *Administrator) Principal() Principal {
	return Principal{
		UserID:   a.ID,
		Username: a.Username,
		Role:     a.Role,
	}
}
