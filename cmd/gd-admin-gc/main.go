package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/tkf27/gdbot-admin/pkg/config"
	"github.com/tkf27/gdbot-admin/pkg/observability"
	"github.com/tkf27/gdbot-admin/pkg/session"
)

var (
	configPath = flag.String("config", "", "Path to YAML config file (default: $GDADMIN_CONFIG)")
	schedule   = flag.String("schedule", "*/15 * * * *", "Cron schedule for session garbage collection")
	runOnce    = flag.Bool("run-once", false, "Collect expired sessions once and exit")
	gcTimeout  = flag.Duration("timeout", 5*time.Minute, "Maximum duration of one collection")
)

func main() {
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

	if cfg.Session.Backend == config.SessionBackendMemory {
		logger.Fatal("The memory session backend lives inside the panel process and cannot be collected externally")
	}

	ctx := context.Background()
	store, redisClient, err := cfg.OpenSessionStore(ctx)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open session store")
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled && !*runOnce {
		metrics = observability.NewMetrics(registry)
	}

	manager := session.NewManager(store, cfg.SessionManagerConfig(), logger)
	if metrics != nil {
		manager.OnGC(metrics.RecordSessionGC)
	}

	if *runOnce {
		if _, err := collect(ctx, manager, logger); err != nil {
			logger.WithError(err).Fatal("Session garbage collection failed")
		}
		return
	}

	c := cron.New()
	_, err = c.AddFunc(*schedule, func() {
		defer observability.RecoverPanic(logger, "session gc")
		collect(ctx, manager, logger)
	})
	if err != nil {
		logger.WithError(err).WithField("schedule", *schedule).Fatal("Invalid schedule")
	}

	var metricsServer *http.Server
	if metrics != nil {
		mux := http.NewServeMux()
		observability.RegisterMetricsEndpoint(mux, registry)
		metricsServer = &http.Server{
			Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	c.Start()
	logger.WithFields(logrus.Fields{
		"schedule": *schedule,
		"backend":  cfg.Session.Backend,
	}).Info("Session collector started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutting down gracefully...")

	// Let a running collection finish
	<-c.Stop().Done()

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		metricsServer.Shutdown(shutdownCtx)
	}

	logger.Info("Session collector stopped")
}

func collect(ctx context.Context, manager *session.Manager, logger logrus.FieldLogger) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, *gcTimeout)
	defer cancel()

	start := time.Now()
	evicted, err := manager.GC(ctx)
	entry := logger.WithFields(logrus.Fields{
		"evicted":  evicted,
		"duration": time.Since(start),
	})
	if err != nil {
		entry.WithError(err).Error("Session garbage collection failed")
		return evicted, err
	}
	entry.Info("Session garbage collection completed")
	return evicted, nil
}
