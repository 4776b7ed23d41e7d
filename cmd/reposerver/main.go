package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aquamarinepk/repoctx"
	"github.com/aquamarinepk/repoctx/httpapi"
	"github.com/aquamarinepk/repoctx/seed"
)

const (
	namespace  = "REPOCTX"
	appName    = "reposerver"
	appVersion = "v0.1.0"
)

func main() {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "%s (%s) stopped with error: %v\n", appName, appVersion, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	settings, cfg, err := repoctx.LoadSettings(namespace, args)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	log := repoctx.NewLoggerTo(os.Stdout, settings.Log.Level, settings.Log.Format).With("app", appName)
	log.Info("starting", "version", appVersion, "provider", settings.Provider.Kind)

	provider, closeProvider, err := buildProvider(ctx, settings)
	if err != nil {
		return fmt.Errorf("build provider: %w", err)
	}
	defer func() {
		if err := closeProvider(context.Background()); err != nil {
			log.Error("close provider", "error", err)
		}
	}()

	deps := repoctx.DefaultDeps()
	deps.Logger = log
	deps.Config = cfg
	deps.Errors = repoctx.ErrorReporterFunc(func(_ context.Context, err error, fields map[string]any) {
		log.Error("reported error", "error", err, "fields", fields)
	})
	repoOpts := append(deps.Options(),
		repoctx.WithItemsPerPage(settings.Pagination.ItemsPerPage),
		repoctx.WithMaxItemsPerPage(settings.Pagination.MaxItemsPerPage),
	)

	if err := applySeeds(ctx, settings.Seed, provider, repoOpts, log); err != nil {
		return err
	}

	handler, err := httpapi.NewHandler(provider,
		httpapi.WithHandlerLogger(log),
		httpapi.WithRepositoryOptions(repoOpts...),
		httpapi.WithMaxItemsPerPage(settings.Pagination.MaxItemsPerPage),
	)
	if err != nil {
		return err
	}
	defer handler.Close()

	router, err := httpapi.NewRouter(httpapi.RouterConfig{
		Handler:         handler,
		Logger:          log,
		Metrics:         deps.Metrics,
		Tracer:          deps.Tracer,
		Errors:          deps.Errors,
		Timeout:         settings.HTTP.RequestTimeout,
		AllowedNetworks: settings.HTTP.AllowedNetworks,
	})
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}

	server := httpapi.NewServer(settings.HTTP.Addr(), router,
		httpapi.WithServerLogger(log),
		httpapi.WithShutdownTimeout(settings.HTTP.ShutdownTimeout),
	)
	return server.Run(ctx)
}

func applySeeds(ctx context.Context, cfg repoctx.SeedSettings, provider repoctx.DataProvider, opts []repoctx.Option, log repoctx.Logger) error {
	if cfg.File == "" {
		return nil
	}
	file, err := seed.LoadFile(cfg.File)
	if err != nil {
		return err
	}
	seeds, err := file.Seeds(provider, opts...)
	if err != nil {
		return err
	}
	tracker, err := seed.NewRepositoryTracker(provider, seed.WithRepositoryOptions(opts...))
	if err != nil {
		return err
	}
	defer tracker.Close()

	if err := seed.Apply(ctx, tracker, seeds, cfg.Application); err != nil {
		return fmt.Errorf("apply seeds: %w", err)
	}
	log.Info("seeds applied", "file", cfg.File, "count", len(seeds))
	return nil
}
