package middleware

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/tkf27/gdbot-admin/pkg/auth"
	"github.com/tkf27/gdbot-admin/pkg/contextkeys"
)

// DenialRecorder counts refused requests
type DenialRecorder interface {
	RecordAuthzDenied(r *http.Request)
}

// Authorizer restricts mutating routes to principals holding RequiredRole
type Authorizer struct {
	RequiredRole auth.Role

	recorder  DenialRecorder
	errorPage ErrorPage
	logger    logrus.FieldLogger
}

// NewAuthorizer creates an authorizer. recorder may be nil.
func NewAuthorizer(role auth.Role, recorder DenialRecorder, logger logrus.FieldLogger) *Authorizer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Authorizer{
		RequiredRole: role,
		recorder:     recorder,
		errorPage:    defaultErrorPage,
		logger:       logger,
	}
}

// WithErrorPage sets the renderer used for refusals
func (a *Authorizer) WithErrorPage(page ErrorPage) *Authorizer {
	a.errorPage = page
	return a
}

// Check returns auth.ErrForbidden unless p holds the required role
func (a *Authorizer) Check(p auth.Principal) error {
	if !p.HasRole(a.RequiredRole) {
		return auth.ErrForbidden
	}
	return nil
}

// Allow checks the principal in the request context. On refusal it renders
// the 403 page and returns false; the caller must stop.
func (a *Authorizer) Allow(w http.ResponseWriter, r *http.Request) bool {
	principal, ok := contextkeys.Principal(r.Context())
	if ok && a.Check(principal) == nil {
		return true
	}

	a.logger.WithFields(logrus.Fields{
		"username":      principal.Username,
		"role":          principal.Role,
		"required_role": a.RequiredRole,
		"method":        r.Method,
		"path":          r.URL.Path,
	}).Warn("Authorization denied")

	if a.recorder != nil {
		a.recorder.RecordAuthzDenied(r)
	}

	a.errorPage(w, r, http.StatusForbidden, "You do not have permission to perform this action.")
	return false
}

// Require wraps next so it only runs for principals holding the required role
func (a *Authorizer) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Allow(w, r) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireFunc is Require for handler functions
func (a *Authorizer) RequireFunc(fn http.HandlerFunc) http.Handler {
	return a.Require(fn)
}
