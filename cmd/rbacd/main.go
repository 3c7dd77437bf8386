package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/platinummonkey/rbacd/pkg/config"
	"github.com/platinummonkey/rbacd/pkg/observability"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).WithField("service", "rbacd")
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("rbacd stopped")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx := observability.WithLogger(context.Background(), logger)

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		providers.Shutdown(ctx)
		return err
	}
	if cfg.Catalog.SeedOnStart {
		if err := a.seed(ctx); err != nil {
			a.close()
			providers.Shutdown(ctx)
			return err
		}
	}

	bg, stop := context.WithCancel(ctx)
	a.start(bg)

	admin, health := a.httpServers()
	sm := observability.NewShutdownManager(logger, admin, cfg.Server.ShutdownTimeout)
	sm.Register("telemetry", providers.Shutdown)
	a.registerShutdown(sm, health, stop)

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	serveErr := make(chan error, 2)
	for _, srv := range []*http.Server{admin, health} {
		srv := srv
		observability.Go(logger, "http server", func() {
			logger.WithField("addr", srv.Addr).Info("Listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- fmt.Errorf("%s: %w", srv.Addr, err)
				cancel()
			}
		})
	}

	err = sm.WaitForSignal(waitCtx)
	select {
	case serr := <-serveErr:
		return errors.Join(serr, err)
	default:
		return err
	}
}
