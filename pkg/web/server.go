package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tkf27/gdbot-admin/pkg/audit"
	"github.com/tkf27/gdbot-admin/pkg/auth"
	"github.com/tkf27/gdbot-admin/pkg/contextkeys"
	"github.com/tkf27/gdbot-admin/pkg/httputil"
	"github.com/tkf27/gdbot-admin/pkg/middleware"
	"github.com/tkf27/gdbot-admin/pkg/observability"
	"github.com/tkf27/gdbot-admin/pkg/recruit"
	"github.com/tkf27/gdbot-admin/pkg/session"
	"github.com/tkf27/gdbot-admin/pkg/settings"
	"github.com/tkf27/gdbot-admin/pkg/storage"
	"github.com/tkf27/gdbot-admin/pkg/users"
)

// Authenticator verifies login credentials
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (*auth.Principal, error)
}

// Archiver stores a copy of each downloaded backup
type Archiver interface {
	Archive(ctx context.Context, body io.Reader) (string, error)
}

// Options wires the server to its collaborators. Archiver, Metrics, Health
// and LoginLimiter are optional.
type Options struct {
	DB            *sqlx.DB
	Authenticator Authenticator
	Sessions      *session.Manager
	Recruits      *recruit.Repository
	Settings      *settings.Repository
	Audit         *audit.DBLogger
	Users         *users.Directory

	Archiver     Archiver
	Metrics      *observability.Metrics
	Health       *observability.HealthChecker
	LoginLimiter middleware.Limiter

	AdminRole      auth.Role
	TrustProxy     bool
	MaxBodyBytes   int64
	TracingEnabled bool

	Logger logrus.FieldLogger
}

// Server is the admin panel HTTP server
type Server struct {
	db            *sqlx.DB
	authenticator Authenticator
	sessions      *session.Manager
	recruits      *recruit.Repository
	settings      *settings.Repository
	audit         *audit.DBLogger
	users         *users.Directory
	archiver      Archiver
	metrics       *observability.Metrics
	loginLimiter  middleware.Limiter
	trustProxy    bool

	gate       *middleware.SessionGate
	authorizer *middleware.Authorizer
	views      *renderer
	router     *mux.Router
	handler    http.Handler
	logger     logrus.FieldLogger
	now        func() time.Time
}

// NewServer creates the server and registers its routes
func NewServer(opts Options) (*Server, error) {
	switch {
	case opts.DB == nil:
		return nil, fmt.Errorf("database connection is required")
	case opts.Authenticator == nil:
		return nil, fmt.Errorf("authenticator is required")
	case opts.Sessions == nil:
		return nil, fmt.Errorf("session manager is required")
	case opts.Recruits == nil || opts.Settings == nil:
		return nil, fmt.Errorf("recruit and settings repositories are required")
	case opts.Audit == nil:
		return nil, fmt.Errorf("audit log is required")
	case opts.Users == nil:
		return nil, fmt.Errorf("user directory is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	role := opts.AdminRole
	if role == "" {
		role = auth.RoleAdmin
	}

	views, err := newRenderer()
	if err != nil {
		return nil, err
	}

	s := &Server{
		db:            opts.DB,
		authenticator: opts.Authenticator,
		sessions:      opts.Sessions,
		recruits:      opts.Recruits,
		settings:      opts.Settings,
		audit:         opts.Audit,
		users:         opts.Users,
		archiver:      opts.Archiver,
		metrics:       opts.Metrics,
		loginLimiter:  opts.LoginLimiter,
		trustProxy:    opts.TrustProxy,
		views:         views,
		router:        mux.NewRouter(),
		logger:        logger,
		now:           time.Now,
	}

	s.gate = middleware.NewSessionGate(opts.Sessions, logger).WithErrorPage(s.renderError)

	var recorder middleware.DenialRecorder
	if opts.Metrics != nil {
		recorder = opts.Metrics
	}
	s.authorizer = middleware.NewAuthorizer(role, recorder, logger).WithErrorPage(s.renderError)

	s.registerRoutes(opts)

	var h http.Handler = s.router
	if opts.MaxBodyBytes > 0 {
		h = httputil.MaxBytesMiddleware(opts.MaxBodyBytes)(h)
	}
	h = httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger, "/static/", "/health/"),
		httputil.RecoveryMiddleware(logger, s.panicPage),
	)(h)
	if opts.TracingEnabled {
		h = otelhttp.NewHandler(h, "gd-admin")
	}
	s.handler = h

	return s, nil
}

func (s *Server) registerRoutes(opts Options) {
	r := s.router

	if s.metrics != nil {
		r.Use(observability.HTTPMetricsMiddleware(s.metrics))
	}
	r.Use(s.gate.Handler)
	r.Use(s.refreshSession)

	var login http.Handler = http.HandlerFunc(s.loginSubmit)
	if s.loginLimiter != nil {
		login = middleware.LoginThrottle(s.loginLimiter, s.trustProxy, s.renderError, s.logger)(login)
	}

	// Authentication
	r.HandleFunc("/auth/login", s.loginForm).Methods(http.MethodGet)
	r.Handle("/auth/login", login).Methods(http.MethodPost)
	r.HandleFunc("/auth/logout", s.logout).Methods(http.MethodGet)

	// Pages
	r.Handle("/", http.RedirectHandler("/dashboard", http.StatusSeeOther)).Methods(http.MethodGet)
	r.HandleFunc("/dashboard", s.dashboard).Methods(http.MethodGet)

	// Recruits
	r.HandleFunc("/gd_admin", s.listRecruits).Methods(http.MethodGet)
	r.HandleFunc("/gd_admin/edit/{id:[0-9]+}", s.editRecruitForm).Methods(http.MethodGet)
	r.Handle("/gd_admin/edit/{id:[0-9]+}", s.authorizer.RequireFunc(s.updateRecruit)).Methods(http.MethodPost)
	r.Handle("/gd_admin/delete/{id:[0-9]+}", s.authorizer.RequireFunc(s.deleteRecruit)).Methods(http.MethodPost)

	// Settings
	r.HandleFunc("/gd_admin/settings", s.settingsForm).Methods(http.MethodGet)
	r.Handle("/gd_admin/settings", s.authorizer.RequireFunc(s.updateSettings)).Methods(http.MethodPost)

	// Logs and maintenance
	r.HandleFunc("/gd_admin/logs", s.logsPage).Methods(http.MethodGet)
	r.HandleFunc("/gd_admin/update", s.maintenancePage).Methods(http.MethodGet)
	r.Handle("/gd_admin/backup", s.authorizer.RequireFunc(s.backup)).Methods(http.MethodGet)
	r.Handle("/gd_admin/export_csv", s.authorizer.RequireFunc(s.exportCSV)).Methods(http.MethodGet)

	audit.NewHandlers(s.audit, s.logger).RegisterRoutes(r)

	if opts.Health != nil {
		observability.RegisterHealthRoutes(r, opts.Health)
	}
	r.PathPrefix("/static/").Handler(staticHandler())

	// Router middleware does not run for unmatched routes
	r.NotFoundHandler = s.gate.Handler(http.HandlerFunc(s.notFound))
	r.MethodNotAllowedHandler = s.gate.Handler(http.HandlerFunc(s.methodNotAllowed))
}

// refreshSession extends the session of an administrator who submits a form,
// so an active editor is not logged out mid-task
func (s *Server) refreshSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if err := s.sessions.Refresh(r.Context(), contextkeys.GetSessionID(r.Context())); err != nil {
				s.log(r).WithError(err).Warn("Failed to refresh session")
			}
		}
		next.ServeHTTP(w, r)
	})
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// principal returns the logged-in administrator. The gate guarantees one on
// every non-exempt route.
func principal(r *http.Request) (auth.Principal, bool) {
	return contextkeys.Principal(r.Context())
}

// view builds the data shared by every page
func (s *Server) view(r *http.Request, title string, page interface{}) viewData {
	data := viewData{Title: title, Page: page}
	if p, ok := principal(r); ok {
		data.Principal = &p
		data.CanEdit = s.authorizer.Check(p) == nil
	}
	return data
}

// log returns the server logger annotated for r
func (s *Server) log(r *http.Request) logrus.FieldLogger {
	return observability.RequestLogger(r.Context(), s.logger)
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data viewData) {
	if err := s.views.render(w, status, name, data); err != nil {
		s.log(r).WithError(err).WithField("template", name).Error("Failed to render page")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

type errorPage struct {
	Status     int
	StatusText string
	Message    string
}

// renderError writes an error page, or JSON for API requests
func (s *Server) renderError(w http.ResponseWriter, r *http.Request, status int, message string) {
	if httputil.WantsJSON(r) {
		httputil.WriteErrorMessage(w, status, message)
		return
	}

	s.render(w, r, status, "error", s.view(r, "Error", errorPage{
		Status:     status,
		StatusText: http.StatusText(status),
		Message:    message,
	}))
}

// writeError maps a domain error to its status and renders it
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	message := "Something went wrong. Please try again later."

	switch {
	case errors.Is(err, recruit.ErrNotFound), errors.Is(err, settings.ErrNotFound):
		status, message = http.StatusNotFound, "The requested record does not exist."
	case errors.Is(err, auth.ErrForbidden):
		status, message = http.StatusForbidden, "You do not have permission to perform this action."
	case errors.Is(err, recruit.ErrInvalidRecruit), errors.Is(err, settings.ErrUnknownKey):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, storage.ErrBackupUnsupported):
		status, message = http.StatusNotImplemented, "Backups are only available for SQLite databases."
	case errors.Is(err, audit.ErrAuditFailed):
		message = "The change was saved but could not be written to the audit log."
	case errors.Is(err, session.ErrSessionUnavailable):
		message = "Session storage is unavailable. Please try again later."
	case errors.Is(err, recruit.ErrMutationFailed), errors.Is(err, settings.ErrMutationFailed):
		message = "The change could not be saved."
	}

	entry := s.log(r).WithError(err).WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"status": status,
	})
	if status >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Warn("Request rejected")
	}

	s.renderError(w, r, status, message)
}

func (s *Server) panicPage(w http.ResponseWriter, r *http.Request) {
	s.renderError(w, r, http.StatusInternalServerError, "Something went wrong. Please try again later.")
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	s.renderError(w, r, http.StatusNotFound, "Page not found.")
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	s.renderError(w, r, http.StatusMethodNotAllowed, "Method not allowed.")
}

func (s *Server) recordLogin(result string) {
	if s.metrics != nil {
		s.metrics.RecordLogin(result)
	}
}
