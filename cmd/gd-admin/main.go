package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tkf27/gdbot-admin/pkg/audit"
	"github.com/tkf27/gdbot-admin/pkg/auth"
	"github.com/tkf27/gdbot-admin/pkg/config"
	"github.com/tkf27/gdbot-admin/pkg/middleware"
	"github.com/tkf27/gdbot-admin/pkg/observability"
	"github.com/tkf27/gdbot-admin/pkg/recruit"
	"github.com/tkf27/gdbot-admin/pkg/session"
	"github.com/tkf27/gdbot-admin/pkg/settings"
	"github.com/tkf27/gdbot-admin/pkg/storage"
	"github.com/tkf27/gdbot-admin/pkg/users"
	"github.com/tkf27/gdbot-admin/pkg/web"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (default: $GDADMIN_CONFIG)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("gd-admin stopped with error")
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx := context.Background()

	otelCfg := cfg.OTelConfig()
	if otelCfg.ServiceVersion == "" {
		otelCfg.ServiceVersion = version
	}
	providers, err := observability.InitOTel(ctx, otelCfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	db, err := storage.Open(ctx, cfg.StorageConfig())
	if err != nil {
		return err
	}
	logger.WithField("driver", cfg.Database.Driver).Info("Database connected")

	store, redisClient, err := cfg.OpenSessionStore(ctx)
	if err != nil {
		db.Close()
		return err
	}
	logger.WithField("backend", cfg.Session.Backend).Info("Session store ready")

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		observability.RegisterRuntimeCollectors(registry)
		metrics = observability.NewMetrics(registry)
	}

	srv, limiter, err := newServer(ctx, cfg, db, store, redisClient, metrics, logger)
	if err != nil {
		db.Close()
		return err
	}

	appServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	servers := []*http.Server{appServer}

	if metrics != nil {
		mux := http.NewServeMux()
		observability.RegisterMetricsEndpoint(mux, registry)
		servers = append(servers, &http.Server{
			Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		})
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, servers...)
	shutdown.OnShutdown("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers)
	})
	if redisClient != nil {
		shutdown.OnShutdown("redis", func(ctx context.Context) error {
			return redisClient.Close()
		})
	}
	shutdown.OnShutdown("database", func(ctx context.Context) error {
		return db.Close()
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	for _, server := range servers {
		server := server
		g.Go(func() error {
			logger.WithField("addr", server.Addr).Info("HTTP server listening")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server %s failed: %w", server.Addr, err)
			}
			return nil
		})
	}

	if limiter != nil {
		g.Go(func() error {
			ticker := time.NewTicker(cfg.Auth.LoginRateWindow)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					limiter.Cleanup()
				}
			}
		})
	}

	g.Go(func() error {
		defer cancel()
		return shutdown.WaitForShutdown(gctx)
	})

	return g.Wait()
}

// newServer wires the repositories into the web server. The returned local
// limiter is non-nil when its buckets need periodic cleanup.
func newServer(ctx context.Context, cfg *config.Config, db *sqlx.DB, store session.Store, redisClient *redis.Client,
	metrics *observability.Metrics, logger *logrus.Logger) (*web.Server, *middleware.RateLimiter, error) {

	logs, err := audit.NewDBLogger(db, logger)
	if err != nil {
		return nil, nil, err
	}

	sessions := session.NewManager(store, cfg.SessionManagerConfig(), logger)
	directory := users.NewDirectory(db, cfg.UsersConfig(), logger)

	opts := web.Options{
		DB:             db,
		Authenticator:  auth.NewAuthenticator(auth.NewSQLCredentialStore(db), logger),
		Sessions:       sessions,
		Recruits:       recruit.NewRepository(db, logs, logger),
		Settings:       settings.NewRepository(db, logs, logger),
		Audit:          logs,
		Users:          directory,
		Health:         newHealthChecker(db, redisClient),
		AdminRole:      auth.Role(cfg.Auth.AdminRole),
		TrustProxy:     cfg.Server.TrustProxy,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		TracingEnabled: cfg.Observability.OTelEnabled,
		Logger:         logger,
	}

	if metrics != nil {
		logs.WithMetrics(metrics)
		sessions.OnGC(metrics.RecordSessionGC)
		metrics.TrackCache("users", func() observability.CacheStats {
			st := directory.Stats()
			return observability.CacheStats{Hits: st.Hits, Misses: st.Misses, Items: st.ItemCount}
		})
		opts.Metrics = metrics
	}

	var local *middleware.RateLimiter
	if limit := cfg.LoginRateLimit(); limit != nil {
		if redisClient != nil {
			opts.LoginLimiter = middleware.NewDistributedRateLimiter(redisClient, limit, "")
		} else {
			local = middleware.NewRateLimiter(limit)
			opts.LoginLimiter = local
		}
	}

	if s3cfg := cfg.S3Config(); s3cfg.Enabled() {
		archiver, err := storage.NewS3Archiver(ctx, s3cfg)
		if err != nil {
			return nil, nil, err
		}
		opts.Archiver = archiver
		logger.WithField("bucket", s3cfg.Bucket).Info("Backups will be archived to S3")
	}

	logger.WithField("checks", opts.Health.Names()).Debug("Readiness checks registered")

	srv, err := web.NewServer(opts)
	if err != nil {
		return nil, nil, err
	}
	return srv, local, nil
}

// newHealthChecker registers the database and, when sessions live there, Redis.
// Both back every logged-in request, so both are critical.
func newHealthChecker(db *sqlx.DB, redisClient *redis.Client) *observability.HealthChecker {
	checker := observability.NewHealthChecker(version).
		AddCheck("database", true, observability.DatabaseCheck(db.DB))
	if redisClient != nil {
		checker.AddCheck("redis", true, observability.RedisCheck(redisClient))
	}
	return checker
}
