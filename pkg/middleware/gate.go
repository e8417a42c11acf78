package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/tkf27/gdbot-admin/pkg/auth"
	"github.com/tkf27/gdbot-admin/pkg/contextkeys"
	"github.com/tkf27/gdbot-admin/pkg/session"
)

// DefaultLoginPath is where anonymous requests are sent
const DefaultLoginPath = "/auth/login"

// DefaultExemptPrefixes are reachable without a session
var DefaultExemptPrefixes = []string{"/auth/", "/health/", "/static/"}

// DecisionKind tells the gate what to do with a request
type DecisionKind int

const (
	// Continue runs the handler with the principal in context
	Continue DecisionKind = iota
	// Redirect sends the client to Location without running the handler
	Redirect
)

// Decision is the outcome of a session check
type Decision struct {
	Kind      DecisionKind
	Principal auth.Principal
	SessionID string
	Location  string
	// Exempt is set when the route needs no session at all
	Exempt bool
}

// SessionLoader returns the logged-in session for a request, or nil
type SessionLoader interface {
	Load(r *http.Request) (*session.Data, error)
}

// SessionGate admits only requests that carry a logged-in session
type SessionGate struct {
	sessions  SessionLoader
	loginPath string
	exempt    []string
	errorPage ErrorPage
	logger    logrus.FieldLogger
}

// NewSessionGate creates a gate with the default login path and exemptions
func NewSessionGate(sessions SessionLoader, logger logrus.FieldLogger) *SessionGate {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &SessionGate{
		sessions:  sessions,
		loginPath: DefaultLoginPath,
		exempt:    DefaultExemptPrefixes,
		errorPage: defaultErrorPage,
		logger:    logger,
	}
}

// WithErrorPage sets the renderer used when the session store fails
func (g *SessionGate) WithErrorPage(page ErrorPage) *SessionGate {
	g.errorPage = page
	return g
}

// IsExempt reports whether path is reachable without a session
func (g *SessionGate) IsExempt(path string) bool {
	for _, prefix := range g.exempt {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Check decides whether r may proceed. It never writes to the session store.
// A store failure is returned as an error, not as a redirect.
func (g *SessionGate) Check(r *http.Request) (Decision, error) {
	if g.IsExempt(r.URL.Path) {
		return Decision{Kind: Continue, Exempt: true}, nil
	}

	data, err := g.sessions.Load(r)
	if err != nil {
		return Decision{}, err
	}
	if data == nil {
		return Decision{Kind: Redirect, Location: g.loginPath}, nil
	}

	return Decision{
		Kind:      Continue,
		Principal: data.Principal(),
		SessionID: data.ID,
	}, nil
}

// Handler wraps next so it only runs for logged-in requests
func (g *SessionGate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision, err := g.Check(r)
		if err != nil {
			entry := g.logger.WithError(err).WithField("path", r.URL.Path)
			if errors.Is(err, session.ErrSessionUnavailable) {
				entry.Error("Session store unavailable")
			} else {
				entry.Error("Session check failed")
			}
			g.errorPage(w, r, http.StatusInternalServerError, "Session storage is unavailable. Please try again later.")
			return
		}

		switch decision.Kind {
		case Redirect:
			http.Redirect(w, r, decision.Location, http.StatusSeeOther)
		case Continue:
			if decision.Exempt {
				next.ServeHTTP(w, r)
				return
			}
			ctx := contextkeys.WithPrincipal(r.Context(), decision.Principal)
			ctx = contextkeys.WithSessionID(ctx, decision.SessionID)
			next.ServeHTTP(w, r.WithContext(ctx))
		}
	})
}
