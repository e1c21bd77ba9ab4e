package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/hydrosense/importworker/internal/config"
	"github.com/hydrosense/importworker/internal/logging"
	"github.com/hydrosense/importworker/internal/storage"
	"github.com/hydrosense/importworker/internal/transport"
	"github.com/hydrosense/importworker/internal/upstream"
	"github.com/hydrosense/importworker/internal/worker"

	// Bus transports register themselves with the transport registry.
	_ "github.com/hydrosense/importworker/internal/transport/channel"
	_ "github.com/hydrosense/importworker/internal/transport/jetstream"
	_ "github.com/hydrosense/importworker/internal/transport/kafka"
	_ "github.com/hydrosense/importworker/internal/transport/nats"
	_ "github.com/hydrosense/importworker/internal/transport/rabbitmq"
)

// App assembles the worker from its configuration and runs it until the
// context is cancelled.
type App struct {
	log *slog.Logger
	cfg *config.Config
}

func New(log *slog.Logger, cfg *config.Config) *App {
	return &App{
		log: log,
		cfg: cfg,
	}
}

func (a *App) Run(ctx context.Context) error {
	if err := a.cfg.Validate(); err != nil {
		return err
	}

	logger := logging.NewSlogServiceLogger(a.log)

	hostname := a.cfg.App.Hostname
	if hostname == "" {
		var err error
		if hostname, err = os.Hostname(); err != nil {
			return fmt.Errorf("resolve hostname: %w", err)
		}
	}
	identity := worker.NewIdentity(hostname, a.cfg.App.Key)

	a.log.InfoContext(ctx, "starting worker",
		slog.String("hostname", identity.Hostname),
		slog.String("host_ordinal", identity.HostOrdinal),
		slog.String("bus_system", a.cfg.Bus.System),
	)

	tr, err := transport.Build(ctx, a.cfg, logging.NewWatermillAdapter(logger))
	if err != nil {
		return fmt.Errorf("build transport: %w", err)
	}

	sources, err := a.cfg.LoadSources()
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	base := worker.Context{
		Logger: logger,
		Upstream: upstream.NewClient(upstream.Config{
			URL:      a.cfg.Web.URL,
			Email:    a.cfg.Web.AuthEmail,
			Password: a.cfg.Web.AuthPassword,
			Timeout:  a.cfg.Web.Timeout,
		}, logger),
		Metrics: worker.NewMetrics(registry),
		StorageOptions: storage.Options{
			LocalPath:  a.cfg.Storage.LocalPath,
			S3Bucket:   a.cfg.Storage.S3Bucket,
			S3Prefix:   a.cfg.Storage.S3Prefix,
			S3Region:   a.cfg.Storage.S3Region,
			S3Endpoint: a.cfg.Storage.S3Endpoint,
		},
		TempPath: a.cfg.App.TempPath,
	}

	manager := worker.NewManager(base, tr, identity, nil, logger)
	manager.Interval = a.cfg.App.CheckInterval
	version := manager.UpdateSources(sources)

	a.log.InfoContext(ctx, "sources configured",
		slog.Int("count", len(sources)),
		slog.Int64("version", version),
	)

	erg, ctx := errgroup.WithContext(ctx)

	erg.Go(func() error {
		return manager.Run(ctx)
	})

	if a.cfg.Metrics.Enabled {
		a.startMetricsServer(ctx, erg, registry)
	}

	erg.Go(func() error {
		<-ctx.Done()

		return tr.Publisher.Close()
	})

	if err := erg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		a.log.ErrorContext(ctx, "worker stopped with error", slog.String("err", err.Error()))
		return err
	}

	a.log.InfoContext(ctx, "worker stopped gracefully")
	return nil
}

func (a *App) startMetricsServer(ctx context.Context, erg *errgroup.Group, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:        a.cfg.Metrics.Addr,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
	}

	erg.Go(func() error {
		a.log.InfoContext(ctx, "starting metrics server", slog.String("addr", server.Addr))

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server error: %w", err)
		}
		return nil
	})

	erg.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return server.Shutdown(shutdownCtx)
	})
}
