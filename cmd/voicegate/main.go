package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"

	"github.com/omnibot-ai/voicegate/pkg/gateway/config"
	"github.com/omnibot-ai/voicegate/pkg/gateway/metrics"
	gatewayserver "github.com/omnibot-ai/voicegate/pkg/gateway/server"
	"github.com/omnibot-ai/voicegate/pkg/gateway/upstream"
	"github.com/omnibot-ai/voicegate/pkg/usage"
)

const (
	serviceName    = "voicegate"
	serviceVersion = "0.1.0"
)

type gatewayDeps struct {
	loadConfig   func() (config.Config, error)
	buildDeps    func(context.Context, config.Config, *slog.Logger) (gatewayserver.Deps, func(context.Context) error, error)
	newGateway   func(config.Config, *slog.Logger, gatewayserver.Deps) *gatewayserver.Server
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultGatewayDeps() gatewayDeps {
	return gatewayDeps{
		loadConfig: config.LoadFromEnv,
		buildDeps:  buildServerDeps,
		newGateway: gatewayserver.New,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

// buildServerDeps constructs the long-lived collaborators: the metrics
// provider, the usage counter store (Postgres when a DSN is configured,
// in-memory otherwise) and the Gemini upstream adapter. The returned
// cleanup func flushes metrics and closes the database pool.
func buildServerDeps(ctx context.Context, cfg config.Config, logger *slog.Logger) (gatewayserver.Deps, func(context.Context) error, error) {
	shutdownMetrics, err := metrics.InitProvider(serviceName, serviceVersion)
	if err != nil {
		return gatewayserver.Deps{}, nil, fmt.Errorf("init metrics provider: %w", err)
	}

	m, err := metrics.New(otel.GetMeterProvider())
	if err != nil {
		shutdownMetrics(ctx)
		return gatewayserver.Deps{}, nil, fmt.Errorf("register metrics: %w", err)
	}

	var store usage.Store
	closePool := func() {}
	if cfg.PostgresDSN != "" {
		if err := usage.Migrate(ctx, cfg.PostgresDSN); err != nil {
			shutdownMetrics(ctx)
			return gatewayserver.Deps{}, nil, fmt.Errorf("migrate usage store: %w", err)
		}
		pool, err := usage.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			shutdownMetrics(ctx)
			return gatewayserver.Deps{}, nil, fmt.Errorf("connect usage store: %w", err)
		}
		store = usage.NewPostgresStore(pool)
		closePool = pool.Close
		logger.Info("usage counters backed by postgres")
	} else {
		store = usage.NewMemoryStore()
		logger.Info("usage counters backed by memory store")
	}

	gemini, err := upstream.NewGemini(ctx, cfg.GeminiAPIKey)
	if err != nil {
		closePool()
		shutdownMetrics(ctx)
		return gatewayserver.Deps{}, nil, fmt.Errorf("init gemini client: %w", err)
	}

	deps := gatewayserver.Deps{
		Connector: gemini,
		Generator: gemini,
		Usage:     usage.NewService(store, logger),
		Metrics:   m,
	}
	cleanup := func(ctx context.Context) error {
		closePool()
		return shutdownMetrics(ctx)
	}
	return deps, cleanup, nil
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func runGateway(ctx context.Context, logger *slog.Logger, deps gatewayDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.buildDeps == nil {
		return errors.New("missing buildDeps dependency")
	}
	if deps.newGateway == nil {
		return errors.New("missing newGateway dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	serverDeps, cleanup, err := deps.buildDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
		defer cancel()
		if err := cleanup(cleanupCtx); err != nil {
			logger.Warn("cleanup failed", "error", err)
		}
	}()

	gw := deps.newGateway(cfg, logger, serverDeps)
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting gateway", "addr", cfg.Addr, "model", cfg.Model)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	gw.SetDraining()
	gw.WarnLiveSessionsDraining()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !gw.WaitLiveSessions(waitCtx) {
		gw.CancelLiveSessions()
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("gateway stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps gatewayDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(stderr, "voicegate: %v\n", err)
		return 1
	}

	if err := runGateway(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "voicegate: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultGatewayDeps()))
}
