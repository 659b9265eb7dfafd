package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Mukhsinh/manajemenresiko-sub005/internal/config"
	"github.com/Mukhsinh/manajemenresiko-sub005/internal/identity"
	"github.com/Mukhsinh/manajemenresiko-sub005/internal/logging"
	"github.com/Mukhsinh/manajemenresiko-sub005/internal/modules"
	"github.com/Mukhsinh/manajemenresiko-sub005/internal/navigation"
	"github.com/Mukhsinh/manajemenresiko-sub005/internal/readiness"
	"github.com/Mukhsinh/manajemenresiko-sub005/internal/realtime"
	"github.com/Mukhsinh/manajemenresiko-sub005/internal/telemetry"
	"github.com/Mukhsinh/manajemenresiko-sub005/internal/watcher"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "coordinator: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync()
	otel.SetLogger(logging.Logr(logger))

	pages, err := config.LoadPages(cfg.PagesFile)
	if err != nil {
		return err
	}
	table, err := pages.Table()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Metrics.
	provider, err := telemetry.NewProvider(cfg.MetricsEnabled)
	if err != nil {
		return err
	}
	navMetrics, err := telemetry.NewNavigationMetrics(provider.MeterProvider)
	if err != nil {
		return err
	}
	readyMetrics, err := telemetry.NewReadinessMetrics(provider.MeterProvider)
	if err != nil {
		return err
	}

	// Identity and readiness.
	auth := identity.NewManager([]byte(cfg.TokenSecret),
		identity.WithSessionTTL(cfg.SessionTTL),
		identity.WithLogger(logger.Named("identity")))
	gate := readiness.New(auth,
		readiness.WithLogger(logger.Named("readiness")),
		readiness.WithMetrics(readyMetrics))
	defer gate.Close()

	// Shell hub. It is the coordinator's view port and history.
	srvOpts := []realtime.Option{
		realtime.WithLogger(logger.Named("realtime")),
		realtime.WithStaticDir(cfg.StaticDir),
		realtime.WithDefaultWait(cfg.ReadyTimeout),
		realtime.WithInitialLocation(table.Default().Path),
	}
	if provider.Handler != nil {
		srvOpts = append(srvOpts, realtime.WithMetricsHandler(provider.Handler))
	}
	rtServer := realtime.New(gate, auth, srvOpts...)
	gate.Watch(rtServer.OnAuthStatus)

	coord, err := navigation.New(table, rtServer, rtServer,
		navigation.WithLogger(logger.Named("navigation")),
		navigation.WithMetrics(navMetrics),
		navigation.WithDebounce(cfg.NavDebounce))
	if err != nil {
		return err
	}
	defer coord.Close()

	registered := modules.RegisterAll(coord, pages.Pages, rtServer,
		modules.WithReadiness(gate, cfg.ReadyTimeout),
		modules.WithLogger(logger.Named("modules")))
	coord.Subscribe(rtServer.OnNavigated)
	rtServer.SetNavigator(coord)

	gate.Initialize(ctx)

	// Hot reload of page titles and icons.
	if cfg.PagesFile != "" {
		pageWatch := watcher.New(func(path string) {
			reloaded, err := config.LoadPages(path)
			if err != nil {
				logger.Warn("pages reload failed", zap.String("path", path), zap.Error(err))
				return
			}
			coord.UpdateMeta(reloaded.Meta())
			logger.Info("pages reloaded", zap.String("path", path))
		}, watcher.WithLogger(logger.Named("watcher")))
		if err := pageWatch.Watch(cfg.PagesFile); err != nil {
			logger.Warn("pages file not watched", zap.String("path", cfg.PagesFile), zap.Error(err))
		}
		defer pageWatch.Shutdown()
	}

	httpServer := &http.Server{
		Addr:    cfg.Addr(),
		Handler: rtServer.Handler(),
	}

	g, gctx := errgroup.WithContext(ctx)
	// The start page's module may wait for a session; serve meanwhile.
	g.Go(func() error {
		return coord.Initialize(gctx)
	})
	g.Go(func() error {
		logger.Info("coordinator listening",
			zap.String("addr", httpServer.Addr),
			zap.Int("pages", len(pages.Pages)),
			zap.Int("modules", registered))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		rtServer.Shutdown()
		err := httpServer.Shutdown(shutdownCtx)
		if perr := provider.Shutdown(shutdownCtx); perr != nil {
			logger.Warn("metrics shutdown failed", zap.Error(perr))
		}
		return err
	})

	return g.Wait()
}
