package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/tkf27/gdbot-admin/pkg/auth"
	"github.com/tkf27/gdbot-admin/pkg/contextkeys"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
	}{
		{"text info", "info", FormatText, false},
		{"json debug", "debug", FormatJSON, false},
		{"default format", "error", "", false},
		{"bad level", "loud", FormatText, true},
		{"bad format", "info", "xml", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.level, tt.format, &bytes.Buffer{})
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewLogger() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && logger.GetLevel().String() != tt.level {
				t.Errorf("level = %s, want %s", logger.GetLevel(), tt.level)
			}
		})
	}
}

func TestNewLogger_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger("info", FormatJSON, &buf)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	logger.WithField("username", "alice").Info("Login succeeded")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry["username"] != "alice" || entry["msg"] != "Login succeeded" {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func TestRequestLogger(t *testing.T) {
	logger, hook := logtest.NewNullLogger()

	if got := RequestLogger(context.Background(), logger); got != logger {
		t.Error("Expected logger unchanged for a bare context")
	}

	ctx := contextkeys.WithRequestID(context.Background(), "req-1")
	ctx = contextkeys.WithPrincipal(ctx, auth.Principal{Username: "alice", Role: auth.RoleAdmin})
	RequestLogger(ctx, logger).Info("Recruit deleted")

	entry := hook.LastEntry()
	if entry.Data["request_id"] != "req-1" || entry.Data["username"] != "alice" {
		t.Errorf("unexpected fields: %v", entry.Data)
	}
	if _, ok := entry.Data["trace_id"]; ok {
		t.Error("trace_id set without an active span")
	}
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(metrics))
	router.HandleFunc("/gd_admin/edit/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("missing"))
	})

	for _, id := range []string{"1", "2", "3"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/gd_admin/edit/"+id, nil))
	}

	got := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/gd_admin/edit/{id}", "404"))
	if got != 3 {
		t.Errorf("requests counted under route template = %v, want 3", got)
	}
}

func TestMetrics_DomainCounters(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	metrics.RecordLogin(LoginSuccess)
	metrics.RecordLogin(LoginFailure)
	metrics.RecordLogin(LoginFailure)
	if got := testutil.ToFloat64(metrics.LoginAttemptsTotal.WithLabelValues(LoginFailure)); got != 2 {
		t.Errorf("failed logins = %v, want 2", got)
	}

	metrics.RecordAuthzDenied(httptest.NewRequest(http.MethodPost, "/gd_admin/delete/4", nil))
	if got := testutil.ToFloat64(metrics.AuthzDeniedTotal.WithLabelValues("unmatched")); got != 1 {
		t.Errorf("denials = %v, want 1", got)
	}

	metrics.RecordSessionGC(4, nil)
	metrics.RecordSessionGC(0, errors.New("redis down"))
	if got := testutil.ToFloat64(metrics.SessionsEvictedTotal); got != 4 {
		t.Errorf("evicted = %v, want 4", got)
	}
	if got := testutil.ToFloat64(metrics.SessionGCRunsTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("failed gc runs = %v, want 1", got)
	}

	metrics.RecordAudit("INFO", nil)
	metrics.RecordAudit("WARNING", errors.New("disk full"))
	if got := testutil.ToFloat64(metrics.AuditFailuresTotal); got != 1 {
		t.Errorf("audit failures = %v, want 1", got)
	}
}

func TestMetrics_TrackCache(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	stats := CacheStats{Hits: 3, Misses: 1, Items: 2}
	metrics.TrackCache("users", func() CacheStats { return stats })

	expected := `
# HELP gdadmin_cache_hits_total Total number of cache lookups served from memory
# TYPE gdadmin_cache_hits_total counter
gdadmin_cache_hits_total{cache="users"} 3
# HELP gdadmin_cache_items Number of entries currently cached
# TYPE gdadmin_cache_items gauge
gdadmin_cache_items{cache="users"} 2
`
	if err := testutil.GatherAndCompare(registry, strings.NewReader(expected),
		"gdadmin_cache_hits_total", "gdadmin_cache_items"); err != nil {
		t.Error(err)
	}

	n, err := testutil.GatherAndCount(registry, "gdadmin_cache_misses_total")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("miss series = %d, want 1", n)
	}
}

func TestRegisterMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	metrics.RecordLogin(LoginSuccess)

	serveMux := http.NewServeMux()
	RegisterMetricsEndpoint(serveMux, registry)

	rr := httptest.NewRecorder()
	serveMux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `gdadmin_login_attempts_total{result="success"} 1`) {
		t.Errorf("metrics output missing login counter:\n%s", rr.Body.String())
	}
}

func TestHealthChecker_Liveness(t *testing.T) {
	checker := NewHealthChecker("test")

	rr := httptest.NewRecorder()
	checker.Liveness(rr, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	if rr.Code != http.StatusOK {
		t.Errorf("Liveness status = %d, want 200", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %s", ct)
	}
}

func TestHealthChecker_Readiness(t *testing.T) {
	t.Run("healthy database and redis", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("Failed to create mock db: %v", err)
		}
		defer db.Close()
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer client.Close()

		checker := NewHealthChecker("1.2.3").
			AddCheck("database", true, DatabaseCheck(db)).
			AddCheck("redis", true, RedisCheck(client))
		rr := httptest.NewRecorder()
		checker.Readiness(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

		if rr.Code != http.StatusOK {
			t.Fatalf("Readiness status = %d, want 200", rr.Code)
		}

		var status HealthStatus
		if err := json.NewDecoder(rr.Body).Decode(&status); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if status.Status != StatusHealthy || status.Version != "1.2.3" {
			t.Errorf("unexpected status: %+v", status)
		}
		if len(status.Dependencies) != 2 {
			t.Errorf("dependencies = %d, want 2", len(status.Dependencies))
		}
	})

	t.Run("database query failure", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("Failed to create mock db: %v", err)
		}
		defer db.Close()
		mock.ExpectQuery("SELECT 1").WillReturnError(errors.New("database is locked"))

		checker := NewHealthChecker("").AddCheck("database", true, DatabaseCheck(db))
		rr := httptest.NewRecorder()
		checker.Readiness(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("Readiness status = %d, want 503", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "database is locked") {
			t.Errorf("body missing failure message: %s", rr.Body.String())
		}
	})

	t.Run("redis down", func(t *testing.T) {
		mr, err := miniredis.Run()
		if err != nil {
			t.Fatalf("Failed to start miniredis: %v", err)
		}
		client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
		defer client.Close()
		mr.Close()

		status := NewHealthChecker("").AddCheck("redis", true, RedisCheck(client)).Check(context.Background())
		if status.Status != StatusUnhealthy {
			t.Errorf("status = %s, want %s", status.Status, StatusUnhealthy)
		}
	})

	t.Run("non-critical failure degrades", func(t *testing.T) {
		checker := NewHealthChecker("").
			AddCheck("archive", false, func(context.Context) error { return errors.New("bucket unreachable") })

		rr := httptest.NewRecorder()
		checker.Readiness(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

		if rr.Code != http.StatusOK {
			t.Errorf("Readiness status = %d, want 200", rr.Code)
		}
		var status HealthStatus
		if err := json.NewDecoder(rr.Body).Decode(&status); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if status.Status != StatusDegraded {
			t.Errorf("status = %s, want %s", status.Status, StatusDegraded)
		}
		if status.Dependencies["archive"].Message != "bucket unreachable" {
			t.Errorf("unexpected dependency: %+v", status.Dependencies["archive"])
		}
	})
}

func TestHealthChecker_Names(t *testing.T) {
	checker := NewHealthChecker("").
		AddCheck("redis", true, func(context.Context) error { return nil }).
		AddCheck("database", true, func(context.Context) error { return nil })

	names := checker.Names()
	if len(names) != 2 || names[0] != "database" || names[1] != "redis" {
		t.Errorf("Names() = %v", names)
	}
}

func TestRegisterHealthRoutes(t *testing.T) {
	router := mux.NewRouter()
	RegisterHealthRoutes(router, NewHealthChecker(""))

	for _, path := range []string{"/health/live", "/health/ready"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, rr.Code)
		}
	}
}

func TestInitOTel_Disabled(t *testing.T) {
	logger, _ := NewLogger("info", FormatText, &bytes.Buffer{})
	providers, err := InitOTel(context.Background(), OTelConfig{Enabled: false}, logger)
	if err != nil || providers != nil {
		t.Errorf("InitOTel(disabled) = %v, %v; want nil, nil", providers, err)
	}
	if err := ShutdownOTel(context.Background(), nil); err != nil {
		t.Errorf("ShutdownOTel(nil) error = %v", err)
	}
}

func TestOTelConfig_Sampler(t *testing.T) {
	tests := []struct {
		ratio float64
		want  string
	}{
		{0, "AlwaysOffSampler"},
		{1, "AlwaysOnSampler"},
		{0.25, "TraceIDRatioBased{0.25}"},
	}

	for _, tt := range tests {
		desc := OTelConfig{SampleRatio: tt.ratio}.sampler().Description()
		if !strings.HasPrefix(desc, "ParentBased{") || !strings.Contains(desc, tt.want) {
			t.Errorf("sampler(%v) = %s, want root %s", tt.ratio, desc, tt.want)
		}
	}
}

func TestShutdownManager(t *testing.T) {
	logger, _ := NewLogger("info", FormatText, &bytes.Buffer{})
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	sm := NewShutdownManager(logger, time.Second, server.Config)

	var order []string
	sm.OnShutdown("database", func(ctx context.Context) error {
		order = append(order, "database")
		return nil
	})
	sm.OnShutdown("redis", func(ctx context.Context) error {
		order = append(order, "redis")
		return errors.New("already closed")
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sm.WaitForShutdown(ctx)
	if err == nil || !strings.Contains(err.Error(), "redis: already closed") {
		t.Errorf("WaitForShutdown() error = %v, want named step error", err)
	}
	if strings.Join(order, ",") != "database,redis" {
		t.Errorf("shutdown order = %v", order)
	}

	// A second call reports the same outcome without rerunning the steps
	if again := sm.Shutdown(); again != err {
		t.Errorf("second Shutdown() = %v, want %v", again, err)
	}
	if len(order) != 2 {
		t.Errorf("steps ran %d times, want 2", len(order))
	}
}

func TestNewShutdownManager_DefaultTimeout(t *testing.T) {
	sm := NewShutdownManager(logrus.New(), 0)
	if sm.timeout != defaultShutdownTimeout {
		t.Errorf("timeout = %v, want %v", sm.timeout, defaultShutdownTimeout)
	}
}
