package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/tkf27/gdbot-admin/pkg/auth"
	"github.com/tkf27/gdbot-admin/pkg/middleware"
	"github.com/tkf27/gdbot-admin/pkg/observability"
	"github.com/tkf27/gdbot-admin/pkg/session"
	"github.com/tkf27/gdbot-admin/pkg/storage"
	"github.com/tkf27/gdbot-admin/pkg/users"
)

// EnvConfigPath names the YAML file read before environment overrides
const EnvConfigPath = "GDADMIN_CONFIG"

// Session backends
const (
	SessionBackendFile   = "file"
	SessionBackendRedis  = "redis"
	SessionBackendMemory = "memory"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Session       SessionConfig       `yaml:"session"`
	Auth          AuthConfig          `yaml:"auth"`
	Users         UsersConfig         `yaml:"users"`
	Backup        BackupConfig        `yaml:"backup"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`

	// Trust X-Forwarded-For when the panel sits behind a reverse proxy
	TrustProxy bool `yaml:"trust_proxy"`

	// Metrics and probes listen on a separate port
	MetricsPort string `yaml:"metrics_port"`
}

// DatabaseConfig points at the database shared with the bot
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	Timeout         time.Duration `yaml:"timeout"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// SessionConfig selects the session backend and cookie behaviour
type SessionConfig struct {
	Backend       string        `yaml:"backend"`
	Dir           string        `yaml:"dir"`
	RedisURL      string        `yaml:"redis_url"`
	Prefix        string        `yaml:"prefix"`
	CookieName    string        `yaml:"cookie_name"`
	Secure        bool          `yaml:"secure"`
	MaxLifetime   time.Duration `yaml:"max_lifetime"`
	GCProbability int           `yaml:"gc_probability"`
	GCDivisor     int           `yaml:"gc_divisor"`
}

// AuthConfig holds login and authorization settings
type AuthConfig struct {
	// AdminRole is required for every mutation, backup and export
	AdminRole string `yaml:"admin_role"`

	// Login attempts allowed per client address per window; 0 disables throttling
	LoginRateLimit  int           `yaml:"login_rate_limit"`
	LoginRateWindow time.Duration `yaml:"login_rate_window"`
}

// UsersConfig sizes the display-name cache
type UsersConfig struct {
	CacheSize int           `yaml:"cache_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

// BackupConfig configures the optional S3 copy of database backups
type BackupConfig struct {
	S3Endpoint     string `yaml:"s3_endpoint"`
	S3Region       string `yaml:"s3_region"`
	S3Bucket       string `yaml:"s3_bucket"`
	S3Prefix       string `yaml:"s3_prefix"`
	S3AccessKey    string `yaml:"s3_access_key"`
	S3SecretKey    string `yaml:"s3_secret_key"`
	S3UsePathStyle bool   `yaml:"s3_use_path_style"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	MetricsEnabled bool `yaml:"metrics_enabled"`

	OTelEnabled        bool   `yaml:"otel_enabled"`
	OTelEndpoint       string `yaml:"otel_endpoint"`
	OTelServiceName    string `yaml:"otel_service_name"`
	OTelServiceVersion string `yaml:"otel_service_version"`
	OTelInsecure       bool   `yaml:"otel_insecure"`

	// OTelSampleRatio is the fraction of new traces recorded (0 to 1)
	OTelSampleRatio float64 `yaml:"otel_sample_ratio"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	db := storage.DefaultConfig()
	sess := session.DefaultConfig()
	dir := users.DefaultConfig()
	limit := middleware.DefaultLoginRateLimitConfig()

	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    1 << 20,
			MetricsPort:     "9090",
		},
		Database: DatabaseConfig{
			Driver:          db.Driver,
			DSN:             db.DSN,
			MaxOpenConns:    db.MaxOpenConns,
			MaxIdleConns:    db.MaxIdleConns,
			ConnMaxLifetime: db.ConnMaxLifetime,
			Timeout:         db.Timeout,
			AutoMigrate:     db.AutoMigrate,
		},
		Session: SessionConfig{
			Backend:       SessionBackendFile,
			Dir:           "sessions",
			CookieName:    sess.CookieName,
			MaxLifetime:   sess.MaxLifetime,
			GCProbability: sess.GCProbability,
			GCDivisor:     sess.GCDivisor,
		},
		Auth: AuthConfig{
			AdminRole:       string(auth.RoleAdmin),
			LoginRateLimit:  limit.RequestsPerWindow,
			LoginRateWindow: limit.WindowDuration,
		},
		Users: UsersConfig{
			CacheSize: dir.CacheSize,
			CacheTTL:  dir.TTL,
		},
		Backup: BackupConfig{
			S3Region: "us-east-1",
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			LogFormat:          observability.FormatText,
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "gd-admin",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1,
		},
	}
}

// LoadConfig loads defaults, then the YAML file at path (or $GDADMIN_CONFIG),
// then GDADMIN_* environment variables, and validates the result.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// applyEnv overrides fields whose environment variable is set
func applyEnv(c *Config) {
	c.Server.Host = getEnv("GDADMIN_HOST", c.Server.Host)
	c.Server.Port = getEnv("GDADMIN_PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvDuration("GDADMIN_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("GDADMIN_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvDuration("GDADMIN_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("GDADMIN_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.MaxBodyBytes = getEnvInt64("GDADMIN_MAX_BODY_BYTES", c.Server.MaxBodyBytes)
	c.Server.TrustProxy = getEnvBool("GDADMIN_TRUST_PROXY", c.Server.TrustProxy)
	c.Server.MetricsPort = getEnv("GDADMIN_METRICS_PORT", c.Server.MetricsPort)

	c.Database.Driver = getEnv("GDADMIN_DB_DRIVER", c.Database.Driver)
	c.Database.DSN = getEnv("GDADMIN_DB_DSN", c.Database.DSN)
	c.Database.MaxOpenConns = getEnvInt("GDADMIN_DB_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = getEnvInt("GDADMIN_DB_MAX_IDLE_CONNS", c.Database.MaxIdleConns)
	c.Database.ConnMaxLifetime = getEnvDuration("GDADMIN_DB_CONN_MAX_LIFETIME", c.Database.ConnMaxLifetime)
	c.Database.Timeout = getEnvDuration("GDADMIN_DB_TIMEOUT", c.Database.Timeout)
	c.Database.AutoMigrate = getEnvBool("GDADMIN_DB_AUTO_MIGRATE", c.Database.AutoMigrate)

	c.Session.Backend = getEnv("GDADMIN_SESSION_BACKEND", c.Session.Backend)
	c.Session.Dir = getEnv("GDADMIN_SESSION_DIR", c.Session.Dir)
	c.Session.RedisURL = getEnv("GDADMIN_REDIS_URL", c.Session.RedisURL)
	c.Session.Prefix = getEnv("GDADMIN_SESSION_PREFIX", c.Session.Prefix)
	c.Session.CookieName = getEnv("GDADMIN_SESSION_COOKIE", c.Session.CookieName)
	c.Session.Secure = getEnvBool("GDADMIN_SESSION_SECURE", c.Session.Secure)
	c.Session.MaxLifetime = getEnvDuration("GDADMIN_SESSION_MAX_LIFETIME", c.Session.MaxLifetime)
	c.Session.GCProbability = getEnvInt("GDADMIN_SESSION_GC_PROBABILITY", c.Session.GCProbability)
	c.Session.GCDivisor = getEnvInt("GDADMIN_SESSION_GC_DIVISOR", c.Session.GCDivisor)

	c.Auth.AdminRole = getEnv("GDADMIN_ADMIN_ROLE", c.Auth.AdminRole)
	c.Auth.LoginRateLimit = getEnvInt("GDADMIN_LOGIN_RATE_LIMIT", c.Auth.LoginRateLimit)
	c.Auth.LoginRateWindow = getEnvDuration("GDADMIN_LOGIN_RATE_WINDOW", c.Auth.LoginRateWindow)

	c.Users.CacheSize = getEnvInt("GDADMIN_USERS_CACHE_SIZE", c.Users.CacheSize)
	c.Users.CacheTTL = getEnvDuration("GDADMIN_USERS_CACHE_TTL", c.Users.CacheTTL)

	c.Backup.S3Endpoint = getEnv("GDADMIN_S3_ENDPOINT", c.Backup.S3Endpoint)
	c.Backup.S3Region = getEnv("GDADMIN_S3_REGION", c.Backup.S3Region)
	c.Backup.S3Bucket = getEnv("GDADMIN_S3_BUCKET", c.Backup.S3Bucket)
	c.Backup.S3Prefix = getEnv("GDADMIN_S3_PREFIX", c.Backup.S3Prefix)
	c.Backup.S3AccessKey = getEnv("GDADMIN_S3_ACCESS_KEY", c.Backup.S3AccessKey)
	c.Backup.S3SecretKey = getEnv("GDADMIN_S3_SECRET_KEY", c.Backup.S3SecretKey)
	c.Backup.S3UsePathStyle = getEnvBool("GDADMIN_S3_USE_PATH_STYLE", c.Backup.S3UsePathStyle)

	c.Observability.LogLevel = getEnv("GDADMIN_LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.LogFormat = getEnv("GDADMIN_LOG_FORMAT", c.Observability.LogFormat)
	c.Observability.MetricsEnabled = getEnvBool("GDADMIN_METRICS_ENABLED", c.Observability.MetricsEnabled)
	c.Observability.OTelEnabled = getEnvBool("GDADMIN_OTEL_ENABLED", c.Observability.OTelEnabled)
	c.Observability.OTelEndpoint = getEnv("GDADMIN_OTEL_ENDPOINT", c.Observability.OTelEndpoint)
	c.Observability.OTelServiceName = getEnv("GDADMIN_OTEL_SERVICE_NAME", c.Observability.OTelServiceName)
	c.Observability.OTelServiceVersion = getEnv("GDADMIN_OTEL_SERVICE_VERSION", c.Observability.OTelServiceVersion)
	c.Observability.OTelInsecure = getEnvBool("GDADMIN_OTEL_INSECURE", c.Observability.OTelInsecure)
	c.Observability.OTelSampleRatio = getEnvFloat("GDADMIN_OTEL_SAMPLE_RATIO", c.Observability.OTelSampleRatio)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Observability.MetricsEnabled {
		if c.Server.MetricsPort == "" {
			return fmt.Errorf("metrics port is required when metrics are enabled")
		}
		if c.Server.Port == c.Server.MetricsPort {
			return fmt.Errorf("server port and metrics port must be different")
		}
	}

	switch c.Database.Driver {
	case storage.DriverSQLite, storage.DriverPostgres:
	default:
		return fmt.Errorf("invalid database driver: %s (must be %s or %s)", c.Database.Driver, storage.DriverSQLite, storage.DriverPostgres)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN is required")
	}

	switch c.Session.Backend {
	case SessionBackendFile:
		if c.Session.Dir == "" {
			return fmt.Errorf("session directory is required for the file backend")
		}
	case SessionBackendRedis:
		if c.Session.RedisURL == "" {
			return fmt.Errorf("redis URL is required for the redis backend")
		}
	case SessionBackendMemory:
	default:
		return fmt.Errorf("invalid session backend: %s (must be file, redis, or memory)", c.Session.Backend)
	}
	if c.Session.CookieName == "" {
		return fmt.Errorf("session cookie name is required")
	}
	if c.Session.MaxLifetime <= 0 {
		return fmt.Errorf("session max lifetime must be positive")
	}
	if c.Session.GCDivisor <= 0 {
		return fmt.Errorf("session gc divisor must be positive")
	}
	if c.Session.GCProbability < 0 || c.Session.GCProbability > c.Session.GCDivisor {
		return fmt.Errorf("session gc probability must be between 0 and the divisor")
	}

	if strings.TrimSpace(c.Auth.AdminRole) == "" {
		return fmt.Errorf("admin role is required")
	}
	if c.Auth.LoginRateLimit < 0 {
		return fmt.Errorf("login rate limit must not be negative")
	}
	if c.Auth.LoginRateLimit > 0 && c.Auth.LoginRateWindow <= 0 {
		return fmt.Errorf("login rate window must be positive when throttling is enabled")
	}

	if _, err := logrus.ParseLevel(c.Observability.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %s", c.Observability.LogLevel)
	}
	switch c.Observability.LogFormat {
	case observability.FormatText, observability.FormatJSON:
	default:
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Observability.LogFormat)
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if r := c.Observability.OTelSampleRatio; r < 0 || r > 1 {
			return fmt.Errorf("invalid OpenTelemetry sample ratio: %v (must be between 0 and 1)", r)
		}
	}

	return nil
}

// StorageConfig returns the database settings for storage.Open
func (c *Config) StorageConfig() storage.Config {
	return storage.Config{
		Driver:          c.Database.Driver,
		DSN:             c.Database.DSN,
		MaxOpenConns:    c.Database.MaxOpenConns,
		MaxIdleConns:    c.Database.MaxIdleConns,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
		Timeout:         c.Database.Timeout,
		AutoMigrate:     c.Database.AutoMigrate,
	}
}

// SessionManagerConfig returns the cookie and GC settings for session.NewManager
func (c *Config) SessionManagerConfig() session.Config {
	return session.Config{
		CookieName:    c.Session.CookieName,
		CookiePath:    "/",
		Secure:        c.Session.Secure,
		MaxLifetime:   c.Session.MaxLifetime,
		GCProbability: c.Session.GCProbability,
		GCDivisor:     c.Session.GCDivisor,
	}
}

// SessionOptions returns the options shared by every session backend
func (c *Config) SessionOptions() session.Options {
	return session.Options{
		Prefix:      c.Session.Prefix,
		MaxLifetime: c.Session.MaxLifetime,
	}
}

// OpenSessionStore builds the configured session backend. The redis client
// is returned so the login throttle and health checks can share it; it is nil
// for the other backends.
func (c *Config) OpenSessionStore(ctx context.Context) (session.Store, *redis.Client, error) {
	opts := c.SessionOptions()

	switch c.Session.Backend {
	case SessionBackendRedis:
		client, err := session.NewRedisClient(ctx, c.Session.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return session.NewRedisStore(client, opts), client, nil
	case SessionBackendMemory:
		return session.NewMemoryStore(opts), nil, nil
	default:
		store, err := session.NewFileStore(c.Session.Dir, opts)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	}
}

// LoginRateLimit returns the throttle settings, or nil when throttling is off
func (c *Config) LoginRateLimit() *middleware.RateLimitConfig {
	if c.Auth.LoginRateLimit == 0 {
		return nil
	}
	return &middleware.RateLimitConfig{
		RequestsPerWindow: c.Auth.LoginRateLimit,
		WindowDuration:    c.Auth.LoginRateWindow,
	}
}

// UsersConfig returns the display-name cache settings
func (c *Config) UsersConfig() *users.Config {
	return &users.Config{
		CacheSize: c.Users.CacheSize,
		TTL:       c.Users.CacheTTL,
	}
}

// S3Config returns the backup archive settings
func (c *Config) S3Config() storage.S3Config {
	return storage.S3Config{
		Endpoint:     c.Backup.S3Endpoint,
		Region:       c.Backup.S3Region,
		Bucket:       c.Backup.S3Bucket,
		Prefix:       c.Backup.S3Prefix,
		AccessKey:    c.Backup.S3AccessKey,
		SecretKey:    c.Backup.S3SecretKey,
		UsePathStyle: c.Backup.S3UsePathStyle,
	}
}

// OTelConfig returns the tracing and metrics exporter settings
func (c *Config) OTelConfig() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        c.Observability.OTelEnabled,
		Endpoint:       c.Observability.OTelEndpoint,
		ServiceName:    c.Observability.OTelServiceName,
		ServiceVersion: c.Observability.OTelServiceVersion,
		Insecure:       c.Observability.OTelInsecure,
		SampleRatio:    c.Observability.OTelSampleRatio,
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
