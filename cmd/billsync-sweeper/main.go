package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/billsync/pkg/ledger"
	"github.com/platinummonkey/billsync/pkg/observability"
	"github.com/platinummonkey/billsync/pkg/storage"
)

var (
	dbURL       = flag.String("db-url", getEnv("BILLSYNC_DATABASE_URL", "postgres://localhost/billsync?sslmode=disable"), "PostgreSQL connection URL")
	schedule    = flag.String("schedule", getEnv("BILLSYNC_SWEEP_SCHEDULE", "@every 5m"), "Cron schedule for the stale claim sweep")
	staleAfter  = flag.Duration("stale-after", getEnvDuration("BILLSYNC_SWEEP_STALE_AFTER", 15*time.Minute), "Release processing claims older than this")
	metricsAddr = flag.String("metrics-addr", getEnv("BILLSYNC_SWEEPER_METRICS_ADDR", ""), "Address to serve /metrics on (disabled when empty)")
	logLevel    = flag.String("log-level", getEnv("BILLSYNC_LOG_LEVEL", "info"), "Log level")
	logFormat   = flag.String("log-format", getEnv("BILLSYNC_LOG_FORMAT", "json"), "Log format (json or text)")
	runOnce     = flag.Bool("run-once", false, "Run a single sweep and exit")
)

func main() {
	flag.Parse()
	logger := observability.NewLogger(*logLevel, *logFormat, os.Stdout)

	ctx := context.Background()
	db, err := storage.OpenPostgres(ctx, storage.PostgresConfig{URL: *dbURL, MaxConns: 2})
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	sweeper := ledger.NewSweeper(ledger.NewPostgresLedger(db, 0), *staleAfter, logger, metrics)

	if *runOnce {
		n, err := sweeper.RunOnce(ctx)
		if err != nil {
			logger.WithError(err).Fatal("Sweep failed")
		}
		logger.WithField("released", n).Info("Sweep completed")
		return
	}

	c := cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(logger))))
	if _, err := sweeper.Schedule(c, *schedule); err != nil {
		logger.WithError(err).Fatal("Failed to schedule sweep")
	}

	var metricsServer *http.Server
	if *metricsAddr != "" {
		router := mux.NewRouter()
		observability.RegisterMetricsEndpoint(router, registry)
		metricsServer = &http.Server{Addr: *metricsAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	c.Start()
	logger.WithFields(logrus.Fields{
		"schedule":    *schedule,
		"stale_after": staleAfter.String(),
	}).Info("Ledger sweeper started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutting down gracefully")

	<-c.Stop().Done()
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	logger.Info("Ledger sweeper stopped")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
