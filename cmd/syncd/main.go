package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"taller/internal/api"
	"taller/internal/config"
	"taller/internal/connectivity"
	"taller/internal/database"
	"taller/internal/events"
	"taller/internal/logging"
	"taller/internal/metrics"
	"taller/internal/models"
	"taller/internal/remote"
	"taller/internal/service"
	"taller/internal/storage"
	"taller/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startMetrics(ctx, cfg, &logger)

	bus := events.NewEventBus()
	monitor := connectivity.NewMonitor(bus, &logger)
	store := storage.NewManager(cfg.Store, cfg.Redis, &logger)
	engine := service.NewEngine(store, monitor, bus, cfg.Sync.HandlerTimeout, &logger)
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Error().Err(err).Msg("close offline store")
		}
	}()

	if err := engine.InitOfflineDB(ctx); err != nil {
		logger.Warn().Err(err).Msg("offline store degraded, queued changes will not survive a restart")
	}

	client := remote.NewClient(cfg.Remote, &logger)
	handlers := client.Registry(cfg.Remote.Entities...)

	var wg conc.WaitGroup

	prober := connectivity.NewProber(monitor, cfg.Connectivity, &logger)
	wg.Go(func() { prober.Run(ctx) })

	if cfg.Sync.AutoSync {
		autoSync := worker.NewAutoSync(engine, monitor, handlers, cfg.Sync.Interval, worker.RetryPolicyFromConfig(cfg.Sync.Retry), &logger)
		wg.Go(func() { autoSync.Start(ctx) })
	}

	if cfg.Remote.BaseURL != "" {
		wg.Go(func() { refreshOnReconnect(ctx, engine, client, cfg.Remote.Entities, &logger) })
	}

	if db := store.SQLite(); db != nil && cfg.Store.Backup.Enabled {
		backupService := database.NewBackupService(db, cfg.Store.Backup, &logger)
		wg.Go(func() { backupService.Start(ctx) })
	}

	var httpServer *api.HTTPServer
	if cfg.API.Enabled {
		httpServer = api.NewHTTPServer(cfg.API, engine, handlers, &logger)
		wg.Go(func() {
			if err := httpServer.Start(); err != nil {
				logger.Error().Err(err).Msg("http server stopped")
			}
		})
	}

	logger.Info().
		Str("store", cfg.Store.Driver).
		Bool("durable", store.Durable()).
		Bool("auto_sync", cfg.Sync.AutoSync).
		Bool("api", cfg.API.Enabled).
		Msg("sync daemon started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if httpServer != nil {
		_ = httpServer.Shutdown(shutdownCtx)
	}

	wg.Wait()
	logger.Info().Int("pending", engine.PendingCount(shutdownCtx)).Msg("sync daemon stopped")
	return nil
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "syncd-main").Logger()

	return cfg, logger, closer, nil
}

// refreshOnReconnect reloads the cached collections at startup and after every
// offline to online transition.
func refreshOnReconnect(ctx context.Context, engine *service.Engine, client *remote.Client, entities []models.EntityType, logger *zerolog.Logger) {
	reconnected := make(chan struct{}, 1)
	notify := func() {
		select {
		case reconnected <- struct{}{}:
		default:
		}
	}
	unsubscribe := engine.OnOnlineChange(func(online bool) {
		if online {
			notify()
		}
	})
	defer unsubscribe()

	if engine.IsOnline() {
		notify()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-reconnected:
			if err := engine.RefreshCollections(ctx, client, entities...); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn().Err(err).Msg("cache refresh incomplete")
			}
		}
	}
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
