// Package main is the entry point for the workflow engine server. It wires
// all dependencies together and starts the HTTP server and the due-step
// scheduler.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/LinkingMx/Law-sub002/internal/approval"
	"github.com/LinkingMx/Law-sub002/internal/config"
	"github.com/LinkingMx/Law-sub002/internal/definition"
	"github.com/LinkingMx/Law-sub002/internal/engine"
	"github.com/LinkingMx/Law-sub002/internal/notify"
	"github.com/LinkingMx/Law-sub002/internal/observability"
	"github.com/LinkingMx/Law-sub002/internal/transport"
	"github.com/LinkingMx/Law-sub002/model"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "lawsub-workflow", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Step 4: Initialize stores.
	stores, closeStores, err := buildStores(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("store initialization failed", zap.Error(err))
		return 1
	}

	// Step 5: Build notification dispatchers.
	dispatchers := buildDispatchers(cfg.Notify, logger)

	// Step 6: Build services.
	definitions := definition.NewService(stores.definitions, logger)
	resolver := engine.NewConfigAssigneeResolver(cfg.Assignees)
	eng := engine.NewEngine(
		stores.definitions,
		stores.executions,
		dispatchers,
		resolver,
		metrics,
		logger,
		cfg.Engine,
		cfg.Notify.DefaultLanguage,
	)
	approvals := approval.NewService(stores.approvals, eng, metrics, logger)

	// Step 7: Build HTTP router.
	readiness := observability.ReadinessChecks{
		WorkflowsLoaded: func() bool {
			workflows, err := stores.definitions.List(context.Background(), model.WorkflowFilters{})
			if err != nil {
				return false
			}
			metrics.SetWorkflowsLoaded(float64(len(workflows)))
			return true
		},
		DefinitionStore: stores.definitions,
		ExecutionStore:  stores.executions,
		ApprovalStore:   stores.approvals,
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:      cfg,
		Logger:      logger,
		Metrics:     metrics,
		Definitions: definitions,
		Engine:      eng,
		Approvals:   approvals,
		Readiness:   readiness,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 8: Start the due-step scheduler.
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()
	go runDueProcessor(bgCtx, eng, cfg.Engine.DueCheckInterval, logger)

	// Step 9: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("store_driver", cfg.Store.Driver),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Stop the scheduler, close stores, flush telemetry.
	bgCancel()
	if closeStores != nil {
		closeStores()
	}
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// stores bundles the three persistence interfaces behind one driver choice.
type stores struct {
	definitions definition.Store
	executions  engine.ExecutionStore
	approvals   approval.Store
}

// buildStores creates the definition, execution, and approval stores for the
// configured driver. The returned closer releases the connection pool, if any.
func buildStores(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (stores, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory stores")
		return stores{
			definitions: definition.NewMemoryStore(),
			executions:  engine.NewMemoryExecutionStore(),
			approvals:   approval.NewMemoryStore(),
		}, nil, nil

	case "postgres":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return stores{}, nil, fmt.Errorf("store: %s environment variable not set", cfg.DSNEnv)
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return stores{}, nil, fmt.Errorf("store: parse DSN: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return stores{}, nil, fmt.Errorf("store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return stores{}, nil, fmt.Errorf("store: ping: %w", err)
		}

		return stores{
			definitions: definition.NewPgStore(pool),
			executions:  engine.NewPgExecutionStore(pool),
			approvals:   approval.NewPgStore(pool),
		}, pool.Close, nil

	default:
		return stores{}, nil, fmt.Errorf("unsupported store driver: %q", cfg.Driver)
	}
}

// buildDispatchers registers the enabled notification channels.
func buildDispatchers(cfg config.NotifyConfig, logger *zap.Logger) notify.Registry {
	registry := notify.Registry{}

	if cfg.Mail.Enabled {
		registry.Register(notify.NewMailDispatcher(cfg.Mail))
		logger.Info("mail channel enabled", zap.String("host", cfg.Mail.Host))
	}
	if cfg.Slack.WebhookURLEnv != "" && os.Getenv(cfg.Slack.WebhookURLEnv) != "" {
		registry.Register(notify.NewSlackDispatcher(cfg.Slack))
		logger.Info("slack channel enabled")
	}
	if len(registry) == 0 {
		logger.Warn("no notification channels configured, notification steps will fail")
	}
	return registry
}

// runDueProcessor periodically completes elapsed delay steps and flags
// overdue approvals.
func runDueProcessor(ctx context.Context, eng *engine.Engine, interval time.Duration, logger *zap.Logger) {
	if interval == 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := eng.ProcessDue(ctx); err != nil {
				logger.Error("due step processing failed", zap.Error(err))
			}
		}
	}
}
