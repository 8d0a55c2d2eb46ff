package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/dedup"
	"github.com/fyrsmithlabs/memoryd/internal/directory"
	"github.com/fyrsmithlabs/memoryd/internal/embeddings"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/membank"
	"github.com/fyrsmithlabs/memoryd/internal/pipeline"
	"github.com/fyrsmithlabs/memoryd/internal/recall"
	"github.com/fyrsmithlabs/memoryd/internal/scope"
	"github.com/fyrsmithlabs/memoryd/internal/store"
	"github.com/fyrsmithlabs/memoryd/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the memory daemon",
	Long: `Starts the memory daemon: loads configuration, opens the store, starts
the embedding pipeline, and serves Prometheus metrics until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx)
	},
}

// runServe initializes all dependencies and blocks until the context is
// canceled, then shuts down in reverse initialization order.
func runServe(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}, nil)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info(ctx, "starting memoryd",
		zap.String("version", version),
		zap.String("store", cfg.Store.Provider),
		zap.String("embeddings", cfg.Embeddings.Provider),
		zap.String("dispatcher", cfg.Dispatcher.Provider))

	tel, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn(shutdownCtx, "telemetry shutdown failed", zap.Error(err))
		}
	}()

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing dependencies: %w", err)
	}
	defer deps.Close(logger)

	svc, err := initService(cfg, deps, logger)
	if err != nil {
		return fmt.Errorf("initializing service: %w", err)
	}

	// Smoke-check the service wiring before declaring readiness.
	scopes, err := svc.ListScopes(ctx, scope.Credential{Subject: "system", Admin: true})
	if err != nil {
		return fmt.Errorf("service self-check: %w", err)
	}
	logger.Info(ctx, "memory bank ready", zap.Int("visible_scopes", len(scopes)))

	metricsSrv := startMetricsServer(cfg.Telemetry.MetricsAddr, logger)

	<-ctx.Done()
	logger.Info(context.Background(), "shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn(shutdownCtx, "metrics server shutdown failed", zap.Error(err))
		}
	}
	return nil
}

// dependencies holds the infrastructure a Service is wired from.
type dependencies struct {
	store      store.Store
	provider   embeddings.Provider
	dispatcher pipeline.Dispatcher
	natsConn   *nats.Conn
	resolver   *scope.Resolver
}

// Close releases infrastructure resources in reverse dependency order:
// the dispatcher drains in-flight jobs before the store and provider go.
func (d *dependencies) Close(logger *logging.Logger) {
	ctx := context.Background()
	if d.dispatcher != nil {
		if err := d.dispatcher.Close(); err != nil {
			logger.Warn(ctx, "dispatcher close failed", zap.Error(err))
		}
	}
	if d.natsConn != nil {
		d.natsConn.Close()
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			logger.Warn(ctx, "store close failed", zap.Error(err))
		}
	}
	if d.provider != nil {
		if err := d.provider.Close(); err != nil {
			logger.Warn(ctx, "embedding provider close failed", zap.Error(err))
		}
	}
}

// initDependencies opens the embedding provider, store, and dispatcher.
func initDependencies(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*dependencies, error) {
	provider, err := embeddings.New(cfg.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}
	if provider == nil {
		logger.Warn(ctx, "no embedding provider configured, running keyword-only")
	}

	vectorSize := 0
	if provider != nil {
		vectorSize = provider.Dimension()
	}
	st, err := store.New(ctx, cfg.Store, vectorSize, logger)
	if err != nil {
		if provider != nil {
			_ = provider.Close()
		}
		return nil, fmt.Errorf("opening store: %w", err)
	}

	deps := &dependencies{store: st, provider: provider}

	resolver, err := scope.NewResolver(directory.FromConfig(cfg.Directory), logger)
	if err != nil {
		deps.Close(logger)
		return nil, fmt.Errorf("creating scope resolver: %w", err)
	}
	deps.resolver = resolver

	// A dispatcher is pointless without a provider to run jobs.
	if provider != nil {
		worker := pipeline.NewWorker(st, provider, logger)
		switch cfg.Dispatcher.Provider {
		case "nats":
			nc, err := nats.Connect(cfg.Dispatcher.URL,
				nats.RetryOnFailedConnect(true),
				nats.MaxReconnects(5),
				nats.ReconnectWait(1*time.Second),
			)
			if err != nil {
				deps.Close(logger)
				return nil, fmt.Errorf("connecting to NATS at %s: %w", cfg.Dispatcher.URL, err)
			}
			deps.natsConn = nc
			dispatcher, err := pipeline.NewNATSDispatcher(nc, cfg.Dispatcher.Stream, worker, logger)
			if err != nil {
				deps.Close(logger)
				return nil, fmt.Errorf("creating NATS dispatcher: %w", err)
			}
			deps.dispatcher = dispatcher
			logger.Info(ctx, "durable embedding queue ready",
				zap.String("url", cfg.Dispatcher.URL),
				zap.String("stream", cfg.Dispatcher.Stream))
		default:
			deps.dispatcher = pipeline.NewInprocDispatcher(worker, logger)
			logger.Info(ctx, "in-process embedding executor ready")
		}
	}

	return deps, nil
}

// initService wires the memory bank from initialized dependencies.
func initService(cfg *config.Config, deps *dependencies, logger *logging.Logger) (*membank.Service, error) {
	return membank.NewService(membank.Deps{
		Store:        deps.store,
		Resolver:     deps.resolver,
		Dedup:        dedup.New(deps.store, cfg.Dedup, logger),
		Recall:       recall.New(deps.store, deps.provider, cfg.Retrieval, logger),
		Provider:     deps.provider,
		Dispatcher:   deps.dispatcher,
		EmbedTimeout: cfg.Embeddings.Timeout,
		Logger:       logger,
	})
}

// startMetricsServer serves Prometheus metrics. Failure to bind is logged,
// not fatal; the daemon runs without metrics.
func startMetricsServer(addr string, logger *logging.Logger) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Info(context.Background(), "metrics endpoint listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn(context.Background(), "metrics server stopped", zap.Error(err))
		}
	}()
	return srv
}
