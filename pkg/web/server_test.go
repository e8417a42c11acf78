package web

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tkf27/gdbot-admin/pkg/audit"
	"github.com/tkf27/gdbot-admin/pkg/auth"
	"github.com/tkf27/gdbot-admin/pkg/middleware"
	"github.com/tkf27/gdbot-admin/pkg/recruit"
	"github.com/tkf27/gdbot-admin/pkg/session"
	"github.com/tkf27/gdbot-admin/pkg/settings"
	"github.com/tkf27/gdbot-admin/pkg/storage"
	"github.com/tkf27/gdbot-admin/pkg/users"
)

const (
	adminUser      = "alice"
	adminPassword  = "correct-horse"
	viewerUser     = "bob"
	viewerPassword = "battery-staple"
)

type captureArchiver struct {
	data []byte
}

func (a *captureArchiver) Archive(ctx context.Context, body io.Reader) (string, error) {
	data, err := io.ReadAll(body)
	a.data = data
	return "backups/test.db", err
}

type testEnv struct {
	db       *sqlx.DB
	users    *users.Directory
	archiver *captureArchiver
	server   *Server
}

func newTestEnv(t *testing.T, configure ...func(*Options)) *testEnv {
	t.Helper()
	ctx := context.Background()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	db := storage.NewTestDB(t)
	creds := auth.NewSQLCredentialStore(db)
	_, err := creds.Create(ctx, adminUser, adminPassword, auth.RoleAdmin)
	require.NoError(t, err)
	_, err = creds.Create(ctx, viewerUser, viewerPassword, auth.RoleViewer)
	require.NoError(t, err)

	logs, err := audit.NewDBLogger(db, logger)
	require.NoError(t, err)

	dir := users.NewDirectory(db, nil, logger)
	archiver := &captureArchiver{}

	opts := Options{
		DB:            db,
		Authenticator: auth.NewAuthenticator(creds, logger),
		Sessions:      session.NewManager(session.NewMemoryStore(session.Options{}), session.DefaultConfig(), logger),
		Recruits:      recruit.NewRepository(db, logs, logger),
		Settings:      settings.NewRepository(db, logs, logger),
		Audit:         logs,
		Users:         dir,
		Archiver:      archiver,
		MaxBodyBytes:  1 << 20,
		Logger:        logger,
	}
	for _, fn := range configure {
		fn(&opts)
	}
	srv, err := NewServer(opts)
	require.NoError(t, err)

	return &testEnv{db: db, users: dir, archiver: archiver, server: srv}
}

func (e *testEnv) do(t *testing.T, method, path string, form url.Values, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, path, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.DefaultConfig().CookieName && c.MaxAge >= 0 {
			return c
		}
	}
	return nil
}

func (e *testEnv) login(t *testing.T, username, password string) *http.Cookie {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/auth/login", url.Values{
		"username": {username},
		"password": {password},
	}, nil)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	cookie := sessionCookie(rec)
	require.NotNil(t, cookie)
	return cookie
}

func (e *testEnv) insertRecruit(t *testing.T, id int64, place string) {
	t.Helper()
	_, err := e.db.Exec(`INSERT INTO recruits
		(id, date_s, place, max_people, message, mentor_needed, industry, participants, mentors)
		VALUES (?, '2025/01/31 19:00', ?, 4, 'bring a pen', 0, 'IT', '[101,102]', '[201]')`,
		id, place)
	require.NoError(t, err)
}

func (e *testEnv) place(t *testing.T, id int64) string {
	t.Helper()
	var place string
	require.NoError(t, e.db.Get(&place, `SELECT place FROM recruits WHERE id = ?`, id))
	return place
}

func (e *testEnv) auditMessages(t *testing.T) []string {
	t.Helper()
	var messages []string
	require.NoError(t, e.db.Select(&messages, `SELECT message FROM logs ORDER BY id`))
	return messages
}

func editForm(place string) url.Values {
	return url.Values{
		"date_s":       {"2025/02/01 18:00"},
		"place":        {place},
		"max_people":   {"5"},
		"message":      {"updated"},
		"industry":     {"Finance"},
		"participants": {"[101]"},
		"mentors":      {"[]"},
	}
}

func TestNewServerRequiresDependencies(t *testing.T) {
	_, err := NewServer(Options{})
	assert.Error(t, err)
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)

	t.Run("form", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/auth/login", nil, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `name="password"`)
	})

	t.Run("wrong password and unknown user look the same", func(t *testing.T) {
		for _, creds := range [][2]string{{adminUser, "wrong"}, {"mallory", adminPassword}} {
			rec := env.do(t, http.MethodPost, "/auth/login", url.Values{
				"username": {creds[0]},
				"password": {creds[1]},
			}, nil)
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Contains(t, rec.Body.String(), invalidLoginMessage)
			assert.Nil(t, sessionCookie(rec))
		}
	})

	t.Run("success", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/auth/login", url.Values{
			"username": {adminUser},
			"password": {adminPassword},
		}, nil)
		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/dashboard", rec.Header().Get("Location"))

		cookie := sessionCookie(rec)
		require.NotNil(t, cookie)
		assert.True(t, cookie.HttpOnly)

		rec = env.do(t, http.MethodGet, "/auth/login", nil, cookie)
		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/dashboard", rec.Header().Get("Location"))

		rec = env.do(t, http.MethodGet, "/dashboard", nil, cookie)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), adminUser)
	})
}

func TestLoginThrottle(t *testing.T) {
	limiter := middleware.NewRateLimiter(&middleware.RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Hour})
	env := newTestEnv(t, func(o *Options) { o.LoginLimiter = limiter })

	bad := url.Values{"username": {adminUser}, "password": {"wrong"}}
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/auth/login", bad, nil).Code)

	// The successful login clears the earlier failure
	env.login(t, adminUser, adminPassword)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/auth/login", bad, nil).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/auth/login", bad, nil).Code)

	rec := env.do(t, http.MethodPost, "/auth/login", bad, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "Too many login attempts")
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.login(t, adminUser, adminPassword)

	rec := env.do(t, http.MethodGet, "/auth/logout", nil, cookie)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/auth/login", rec.Header().Get("Location"))

	rec = env.do(t, http.MethodGet, "/dashboard", nil, cookie)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/auth/login", rec.Header().Get("Location"))
}

func TestAnonymousRequestsAreRedirected(t *testing.T) {
	env := newTestEnv(t)
	env.insertRecruit(t, 1, "Room A")

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/"},
		{http.MethodGet, "/dashboard"},
		{http.MethodGet, "/gd_admin"},
		{http.MethodGet, "/gd_admin/settings"},
		{http.MethodGet, "/gd_admin/backup"},
		{http.MethodGet, "/api/logs"},
		{http.MethodGet, "/no/such/page"},
	}
	for _, p := range paths {
		rec := env.do(t, p.method, p.path, nil, nil)
		assert.Equal(t, http.StatusSeeOther, rec.Code, p.path)
		assert.Equal(t, "/auth/login", rec.Header().Get("Location"), p.path)
	}

	rec := env.do(t, http.MethodPost, "/gd_admin/edit/1", editForm("Hijacked"), nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/auth/login", rec.Header().Get("Location"))
	assert.Equal(t, "Room A", env.place(t, 1))

	rec = env.do(t, http.MethodGet, "/static/style.css", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestViewerCannotMutate(t *testing.T) {
	env := newTestEnv(t)
	env.insertRecruit(t, 1, "Room A")
	cookie := env.login(t, viewerUser, viewerPassword)

	rec := env.do(t, http.MethodGet, "/gd_admin", nil, cookie)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Room A")
	assert.NotContains(t, rec.Body.String(), "/gd_admin/delete/1")

	rec = env.do(t, http.MethodPost, "/gd_admin/edit/1", editForm("Hijacked"), cookie)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Room A", env.place(t, 1))

	rec = env.do(t, http.MethodPost, "/gd_admin/delete/1", url.Values{}, cookie)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Room A", env.place(t, 1))

	rec = env.do(t, http.MethodPost, "/gd_admin/settings", url.Values{
		settings.KeyChannelID: {"999"},
	}, cookie)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	var count int
	require.NoError(t, env.db.Get(&count, `SELECT COUNT(*) FROM settings`))
	assert.Zero(t, count)

	for _, path := range []string{"/gd_admin/backup", "/gd_admin/export_csv"} {
		rec = env.do(t, http.MethodGet, path, nil, cookie)
		assert.Equal(t, http.StatusForbidden, rec.Code, path)
	}

	assert.Empty(t, env.auditMessages(t))
}

func TestUpdateRecruit(t *testing.T) {
	env := newTestEnv(t)
	env.insertRecruit(t, 1, "Room A")
	cookie := env.login(t, adminUser, adminPassword)

	t.Run("form", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/gd_admin/edit/1", nil, cookie)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `value="Room A"`)
	})

	t.Run("missing recruit", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/gd_admin/edit/99", nil, cookie)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = env.do(t, http.MethodPost, "/gd_admin/edit/99", editForm("Room B"), cookie)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("invalid input is shown again", func(t *testing.T) {
		form := editForm("Room B")
		form.Set("max_people", "0")
		rec := env.do(t, http.MethodPost, "/gd_admin/edit/1", form, cookie)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "max people must be at least 1")
		assert.Contains(t, rec.Body.String(), `value="Room B"`)
		assert.Equal(t, "Room A", env.place(t, 1))

		form = editForm("Room B")
		form.Set("participants", "101, 102")
		rec = env.do(t, http.MethodPost, "/gd_admin/edit/1", form, cookie)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Room A", env.place(t, 1))
	})

	t.Run("success", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/gd_admin/edit/1", editForm("Room B"), cookie)
		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/gd_admin", rec.Header().Get("Location"))
		assert.Equal(t, "Room B", env.place(t, 1))

		messages := env.auditMessages(t)
		require.Len(t, messages, 1)
		assert.Contains(t, messages[0], "Recruit ID: 1 was updated")
		assert.Contains(t, messages[0], "Room A")
		assert.Contains(t, messages[0], "Room B")
	})
}

func TestDeleteRecruit(t *testing.T) {
	env := newTestEnv(t)
	env.insertRecruit(t, 1, "Room A")
	cookie := env.login(t, adminUser, adminPassword)

	rec := env.do(t, http.MethodPost, "/gd_admin/delete/1", url.Values{}, cookie)
	assert.Equal(t, http.StatusSeeOther, rec.Code)

	var count int
	require.NoError(t, env.db.Get(&count, `SELECT COUNT(*) FROM recruits`))
	assert.Zero(t, count)

	var level string
	require.NoError(t, env.db.Get(&level, `SELECT level FROM logs ORDER BY id DESC LIMIT 1`))
	assert.Equal(t, string(audit.LevelWarning), level)

	rec = env.do(t, http.MethodPost, "/gd_admin/delete/1", url.Values{}, cookie)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListShowsDisplayNames(t *testing.T) {
	env := newTestEnv(t)
	env.insertRecruit(t, 1, "Room A")
	require.NoError(t, env.users.Store(context.Background(), 101, "taro"))
	cookie := env.login(t, adminUser, adminPassword)

	rec := env.do(t, http.MethodGet, "/gd_admin", nil, cookie)
	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "taro")
	assert.Contains(t, body, "102")
	assert.Contains(t, body, "/gd_admin/delete/1")
}

func TestUpdateSettings(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.login(t, adminUser, adminPassword)

	rec := env.do(t, http.MethodPost, "/gd_admin/settings", url.Values{
		settings.KeyMentorRoleID: {"555"},
	}, cookie)
	assert.Equal(t, http.StatusSeeOther, rec.Code)

	var value string
	require.NoError(t, env.db.Get(&value, `SELECT value FROM settings WHERE "key" = ?`, settings.KeyMentorRoleID))
	assert.Equal(t, "555", value)

	// Unchanged values are not written again
	rec = env.do(t, http.MethodPost, "/gd_admin/settings", url.Values{
		settings.KeyMentorRoleID: {"555"},
	}, cookie)
	assert.Equal(t, http.StatusSeeOther, rec.Code)

	messages := env.auditMessages(t)
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "Setting 'mentor_role_id' was updated. Before: NULL After: 555")

	rec = env.do(t, http.MethodGet, "/gd_admin/settings", nil, cookie)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `value="555"`)
}

func TestBackup(t *testing.T) {
	env := newTestEnv(t)
	env.insertRecruit(t, 1, "Room A")
	cookie := env.login(t, adminUser, adminPassword)

	rec := env.do(t, http.MethodGet, "/gd_admin/backup", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	assert.True(t, strings.HasPrefix(rec.Body.String(), "SQLite format 3"))
	assert.Equal(t, rec.Body.Bytes(), env.archiver.data)

	messages := env.auditMessages(t)
	require.Len(t, messages, 1)
	assert.Equal(t, "Database backup downloaded by alice", messages[0])
}

func TestExportCSV(t *testing.T) {
	env := newTestEnv(t)
	env.insertRecruit(t, 1, "Room A")
	env.insertRecruit(t, 2, "Room B")
	cookie := env.login(t, adminUser, adminPassword)

	rec := env.do(t, http.MethodGet, "/gd_admin/export_csv", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))

	records, err := csv.NewReader(rec.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "id", records[0][0])
	assert.Equal(t, "1", records[1][0])
	assert.Equal(t, "2", records[2][0])

	assert.Equal(t, []string{"Recruits exported as CSV by alice"}, env.auditMessages(t))
}

func TestLogsPageAndAPI(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	logs, err := audit.NewDBLogger(env.db, logrus.New())
	require.NoError(t, err)
	require.NoError(t, logs.Record(ctx, audit.LevelInfo, "bot started", audit.SourceBot))
	require.NoError(t, logs.Record(ctx, audit.LevelError, "bot crashed", audit.SourceBot))
	cookie := env.login(t, viewerUser, viewerPassword)

	rec := env.do(t, http.MethodGet, "/gd_admin/logs?level=error", nil, cookie)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bot crashed")
	assert.NotContains(t, rec.Body.String(), "bot started")

	rec = env.do(t, http.MethodGet, "/gd_admin/logs?level=loud", nil, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/logs?source=bot", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Entries []audit.Entry `json:"entries"`
		Count   int           `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, "bot crashed", resp.Entries[0].Message)
}

func TestMaintenancePage(t *testing.T) {
	env := newTestEnv(t)

	cookie := env.login(t, adminUser, adminPassword)
	rec := env.do(t, http.MethodGet, "/gd_admin/update", nil, cookie)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/gd_admin/backup")

	cookie = env.login(t, viewerUser, viewerPassword)
	rec = env.do(t, http.MethodGet, "/gd_admin/update", nil, cookie)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "/gd_admin/backup")
}

func TestNotFoundForLoggedInUser(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.login(t, adminUser, adminPassword)

	rec := env.do(t, http.MethodGet, "/no/such/page", nil, cookie)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Page not found.")
}
