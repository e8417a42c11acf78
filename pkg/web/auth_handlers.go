package web

import (
	"errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/tkf27/gdbot-admin/pkg/auth"
	"github.com/tkf27/gdbot-admin/pkg/middleware"
	"github.com/tkf27/gdbot-admin/pkg/observability"
)

const invalidLoginMessage = "Invalid username or password"

type loginPage struct {
	Username string
}

// redirectIfLoggedIn sends an authenticated client to the dashboard.
// It returns true when the response has been written.
func (s *Server) redirectIfLoggedIn(w http.ResponseWriter, r *http.Request) bool {
	data, err := s.sessions.Load(r)
	if err != nil {
		s.writeError(w, r, err)
		return true
	}
	if data != nil {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return true
	}
	return false
}

// loginForm handles GET /auth/login
func (s *Server) loginForm(w http.ResponseWriter, r *http.Request) {
	if s.redirectIfLoggedIn(w, r) {
		return
	}
	s.render(w, r, http.StatusOK, "login", s.view(r, "Log in", loginPage{}))
}

// loginSubmit handles POST /auth/login
func (s *Server) loginSubmit(w http.ResponseWriter, r *http.Request) {
	if s.redirectIfLoggedIn(w, r) {
		return
	}

	if err := r.ParseForm(); err != nil {
		s.renderError(w, r, http.StatusBadRequest, "Invalid form submission.")
		return
	}
	username := strings.TrimSpace(r.PostFormValue("username"))
	password := r.PostFormValue("password")

	logger := s.log(r).WithFields(logrus.Fields{
		"username":  username,
		"client_ip": middleware.ClientIP(r, s.trustProxy),
	})

	admin, err := s.authenticator.Authenticate(r.Context(), username, password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.recordLogin(observability.LoginFailure)
			data := s.view(r, "Log in", loginPage{Username: username})
			data.Error = invalidLoginMessage
			s.render(w, r, http.StatusOK, "login", data)
			return
		}
		s.recordLogin(observability.LoginError)
		logger.WithError(err).Error("Login failed")
		s.writeError(w, r, err)
		return
	}

	if _, err := s.sessions.Start(w, r, *admin); err != nil {
		s.recordLogin(observability.LoginError)
		s.writeError(w, r, err)
		return
	}

	s.recordLogin(observability.LoginSuccess)
	logger.Info("Administrator logged in")

	// A successful login clears the failed attempts counted for this client
	if rs, ok := s.loginLimiter.(middleware.Resetter); ok {
		if err := rs.Reset(r.Context(), middleware.LoginKey(middleware.ClientIP(r, s.trustProxy))); err != nil {
			logger.WithError(err).Warn("Failed to reset login rate limit")
		}
	}
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

// logout handles GET /auth/logout
func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Destroy(w, r); err != nil {
		s.writeError(w, r, err)
		return
	}
	http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
}
