package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/billsync/pkg/audit"
	"github.com/platinummonkey/billsync/pkg/billing"
	"github.com/platinummonkey/billsync/pkg/config"
	"github.com/platinummonkey/billsync/pkg/httputil"
	"github.com/platinummonkey/billsync/pkg/ledger"
	"github.com/platinummonkey/billsync/pkg/middleware"
	"github.com/platinummonkey/billsync/pkg/observability"
	"github.com/platinummonkey/billsync/pkg/plans"
	"github.com/platinummonkey/billsync/pkg/quota"
	"github.com/platinummonkey/billsync/pkg/storage"
	"github.com/platinummonkey/billsync/pkg/subscriptions"
)

var version = "dev"

const internalMaxBodyBytes int64 = 64 << 10

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stdout)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("billsync stopped with error")
	}
}

// backends holds the storage-dependent components
type backends struct {
	db      *sql.DB
	redis   redis.UniversalClient
	ledger  ledger.Ledger
	records subscriptions.Store
	owners  audit.OwnerLookup
	sink    audit.Sink
	memory  bool
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	var (
		registry *prometheus.Registry
		metrics  *observability.Metrics
	)
	if cfg.Observability.MetricsEnabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = observability.NewMetrics(registry)
	}

	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}

	table := plans.DefaultTable()
	if cfg.Plans.File != "" {
		if table, err = plans.LoadFile(cfg.Plans.File); err != nil {
			return err
		}
		logger.WithField("plan_file", cfg.Plans.File).Info("Plan table loaded")
	}

	limits := quota.NewLimitSource(b.records, table, cfg.Quota.LimitCacheSize, cfg.Quota.LimitCacheTTL, metrics)
	quotaService := quota.NewService(newQuotaStore(cfg, b, logger), limits, logger, metrics)

	auditor := audit.NewBestEffort(b.sink, b.owners, logger, audit.BestEffortConfig{
		Retry: audit.RetryConfig{
			MaxAttempts:  cfg.Audit.MaxAttempts,
			InitialDelay: cfg.Audit.InitialDelay,
			MaxDelay:     cfg.Audit.MaxDelay,
		},
		Async:     cfg.Audit.Async,
		Workers:   cfg.Audit.Workers,
		QueueSize: cfg.Audit.QueueSize,
		OnDrop: func(entry audit.Entry, _ error) {
			metrics.RecordAuditDropped(string(entry.Action))
		},
	})

	verifier, err := billing.NewVerifier(cfg.Webhook.Secret, cfg.Webhook.Tolerance)
	if err != nil {
		return err
	}

	processorConfig := billing.ProcessorConfig{
		Ledger:        b.ledger,
		Subscriptions: b.records,
		Plans:         table,
		Audit:         auditor,
		Limits:        limits,
	}
	if cfg.Webhook.StripeAPIKey != "" {
		lookup, err := billing.NewStripeLookup(cfg.Webhook.StripeAPIKey)
		if err != nil {
			return err
		}
		processorConfig.Lookup = lookup
		logger.Info("Live subscription lookup enabled")
	}
	processor := billing.NewProcessor(processorConfig, logger, metrics)

	router := mux.NewRouter()
	router.Use(observability.HTTPMetricsMiddleware(metrics))
	billing.NewWebhookHandler(verifier, processor, logger, billing.WebhookConfig{
		SignatureHeader: cfg.Webhook.SignatureHeader,
		MaxBodyBytes:    cfg.Webhook.MaxBodyBytes,
	}).RegisterRoutes(router)

	internal := router.NewRoute().Subrouter()
	internal.Use(middleware.NewInternalAuth(cfg.Server.InternalToken, logger).Handler)
	internal.Use(mux.MiddlewareFunc(httputil.MaxBytesMiddleware(internalMaxBodyBytes)))
	quota.NewHandlers(quotaService, logger).RegisterRoutes(internal)

	handler := httputil.Chain(
		httputil.RecoveryMiddleware(logger),
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
	)(router)

	server := &http.Server{
		Addr:         cfg.ServerAddr(),
		Handler:      otelhttp.NewHandler(handler, "billsync"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthRouter := mux.NewRouter()
	observability.RegisterHealthRoutes(healthRouter, observability.NewHealthChecker(b.db, b.redis, version))
	if registry != nil {
		observability.RegisterMetricsEndpoint(healthRouter, registry)
	}
	healthServer := &http.Server{
		Addr:              cfg.HealthAddr(),
		Handler:           healthRouter,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serve(server, logger, "api") })
	g.Go(func() error { return serve(healthServer, logger, "health") })

	if cfg.Plans.Watch {
		watcher := plans.NewWatcher(cfg.Plans.File, table, logger, limits.Purge)
		g.Go(func() error { return watcher.Run(gctx) })
	}

	var scheduler *cron.Cron
	if b.memory {
		// no external sweeper can reach an in-process ledger
		scheduler = cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(logger))))
		sweeper := ledger.NewSweeper(b.ledger, cfg.Ledger.SweepStale, logger, metrics)
		if _, err := sweeper.Schedule(scheduler, cfg.Ledger.SweepSchedule); err != nil {
			return err
		}
		scheduler.Start()
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc("health server", healthServer.Shutdown)
	shutdown.RegisterShutdownFunc("storage", func(ctx context.Context) error {
		return closeBackends(ctx, b, auditor, scheduler)
	})
	shutdown.RegisterShutdownFunc("opentelemetry", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})

	logger.WithFields(logrus.Fields{
		"addr":        cfg.ServerAddr(),
		"health_addr": cfg.HealthAddr(),
		"storage":     cfg.Storage.Type,
		"quota":       cfg.Quota.Backend,
		"version":     version,
	}).Info("billsync started")

	shutdownErr := shutdown.WaitForShutdown(gctx)
	cancel()
	if err := g.Wait(); err != nil {
		return err
	}
	return shutdownErr
}

func openBackends(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (*backends, error) {
	b := &backends{}

	switch cfg.Storage.Type {
	case "postgres":
		db, err := storage.OpenPostgres(ctx, storage.PostgresConfig{
			URL:         cfg.Storage.DatabaseURL,
			MaxConns:    cfg.Storage.MaxConns,
			MinConns:    cfg.Storage.MinConns,
			Timeout:     cfg.Storage.ConnTimeout,
			MaxLifetime: cfg.Storage.ConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		if cfg.Storage.RunMigrations {
			if err := storage.RunMigrations(ctx, db, logger); err != nil {
				db.Close()
				return nil, err
			}
		}
		sink, err := audit.NewDBSink(ctx, db)
		if err != nil {
			db.Close()
			return nil, err
		}
		store := subscriptions.NewPostgresStore(db)
		b.db = db
		b.records = store
		b.owners = store
		b.sink = sink
		b.ledger = ledger.NewPostgresLedger(db, cfg.Ledger.ReclaimAfter)
		logger.Info("PostgreSQL storage ready")
	default:
		store := subscriptions.NewMemoryStore()
		b.memory = true
		b.records = store
		b.owners = store
		b.sink = audit.NewMemorySink()
		b.ledger = ledger.NewMemoryLedger(cfg.Ledger.ReclaimAfter)
		logger.Warn("Using in-memory storage, state is lost on restart")
	}

	if cfg.Storage.RedisURL != "" {
		rdb, err := storage.OpenRedis(ctx, storage.RedisConfig{
			URL:        cfg.Storage.RedisURL,
			Password:   cfg.Storage.RedisPassword,
			DB:         cfg.Storage.RedisDB,
			MaxRetries: cfg.Storage.RedisMaxRetries,
			PoolSize:   cfg.Storage.RedisPoolSize,
		})
		if err != nil {
			// quota decisions fail open without redis
			logger.WithError(err).Warn("Redis unavailable, continuing without it")
		} else {
			b.redis = rdb
		}
	}

	return b, nil
}

func newQuotaStore(cfg *config.Config, b *backends, logger logrus.FieldLogger) quota.Store {
	switch cfg.Quota.Backend {
	case "postgres":
		return quota.NewPostgresStore(b.db)
	case "redis":
		if b.redis == nil {
			logger.Warn("Redis quota backend unavailable, quota checks fail open")
			return nil
		}
		return quota.NewRedisStore(b.redis)
	case "memory":
		return quota.NewMemoryStore()
	default:
		logger.Warn("Quota enforcement disabled")
		return nil
	}
}

func closeBackends(ctx context.Context, b *backends, auditor *audit.BestEffort, scheduler *cron.Cron) error {
	timeout := 5 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	var errs []error
	if scheduler != nil {
		<-scheduler.Stop().Done()
	}
	if err := auditor.Close(timeout); err != nil {
		errs = append(errs, fmt.Errorf("audit: %w", err))
	}
	if b.redis != nil {
		if err := b.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if b.db != nil {
		if err := b.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("postgres: %w", err))
		}
	}
	return errors.Join(errs...)
}

func serve(server *http.Server, logger logrus.FieldLogger, name string) error {
	logger.WithFields(logrus.Fields{"server": name, "addr": server.Addr}).Info("Listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server failed: %w", name, err)
	}
	return nil
}
