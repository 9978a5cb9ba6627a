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

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"crackerpos/backend/internal/cache"
	"crackerpos/backend/internal/config"
	"crackerpos/backend/internal/httpapi"
	"crackerpos/backend/internal/logger"
	"crackerpos/backend/internal/metrics"
	"crackerpos/backend/internal/receipt"
	"crackerpos/backend/internal/service"
	"crackerpos/backend/internal/store"
	"crackerpos/backend/internal/store/memory"
	pgstore "crackerpos/backend/internal/store/postgres"
	sqlitestore "crackerpos/backend/internal/store/sqlite"
)

type closer struct {
	name string
	fn   func() error
}

func main() {
	bootLog := logger.New(logger.Options{ServiceName: "crackerpos"})
	if err := godotenv.Load(); err != nil {
		bootLog.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		bootLog.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	if err := validateSecurityConfig(cfg); err != nil {
		bootLog.Error(context.Background(), "invalid security configuration", err)
		os.Exit(1)
	}

	logg := logger.New(logger.Options{
		ServiceName: "crackerpos",
		Level:       logger.ParseLevel(cfg.LogLevel),
		Format:      cfg.LogFormat,
		WarnStack:   cfg.LogWarnStack,
	})

	if err := run(cfg, logg); err != nil {
		logg.Error(context.Background(), "server stopped with error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logg *logger.Logger) error {
	startCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var closers []closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].fn(); err != nil {
				logg.Error(context.Background(), "close "+closers[i].name, err)
			}
		}
	}()

	repo, ready, closeRepo, err := openStore(startCtx, cfg, logg)
	if err != nil {
		return err
	}
	if closeRepo != nil {
		closers = append(closers, closer{name: "store", fn: closeRepo})
	}

	dashboardCache := cache.DashboardCache(cache.NoopDashboardCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisDashboardCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(startCtx); err != nil {
			logg.Warn(logg.WithField(startCtx, "error", err.Error()), "redis unavailable, dashboard cache disabled")
			_ = redisCache.Close()
		} else {
			dashboardCache = redisCache
			closers = append(closers, closer{name: "redis", fn: redisCache.Close})
			logg.Info(startCtx, "cache: redis")
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	posMetrics := metrics.NewPOSMetrics(registry)

	svc := service.New(repo, service.Options{
		Receipts:          receipt.NewEmitter(cfg.ShopName, cfg.ReceiptWidth, receiptSinks(cfg)...),
		DashboardCache:    dashboardCache,
		Metrics:           posMetrics,
		Logger:            logg,
		LowStockThreshold: cfg.LowStockThreshold,
		DashboardTTL:      cfg.DashboardTTL,
	})
	auth := httpapi.NewAuthManager(startCtx, cfg.AuthSecret, cfg.AccessTokenTTL, repo)
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin: cfg.AllowedOrigin,
		Logger:        logg,
		Metrics:       promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		Ready:         ready,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(logg.WithField(context.Background(), "addr", cfg.Address()), "crackerpos listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-sig:
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(shutdownCtx, "shutdown error", err)
	}
	logg.Info(context.Background(), "server stopped")
	return nil
}

// openStore opens the configured repository. A store that cannot be reached at
// startup is fatal; there is no silent fallback to memory.
func openStore(ctx context.Context, cfg *config.Config, logg *logger.Logger) (store.Repository, func(context.Context) error, func() error, error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("postgres unavailable: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, nil, err
		}
		if err := pg.Seed(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, nil, fmt.Errorf("seed postgres: %w", err)
		}
		logg.Info(ctx, "repository: postgres")
		warnDefaultCredentials(ctx, logg, pg)
		return pg, pg.Ping, pg.Close, nil
	case config.StoreMemory:
		logg.Warn(ctx, "repository: in-memory, sales are lost on restart")
		mem := memory.NewSeeded()
		warnDefaultCredentials(ctx, logg, mem)
		return mem, nil, nil, nil
	default:
		sq, err := sqlitestore.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath, err)
		}
		logg.Info(logg.WithField(ctx, "path", cfg.SQLitePath), "repository: sqlite")
		warnDefaultCredentials(ctx, logg, sq)
		return sq, sq.Ping, sq.Close, nil
	}
}

type credentialSeeder interface {
	UsingDefaultCredentials() bool
}

func warnDefaultCredentials(ctx context.Context, logg *logger.Logger, seeder credentialSeeder) {
	if seeder.UsingDefaultCredentials() {
		logg.Warn(ctx, "seeded default dev credentials; set SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD to override")
	}
}

func receiptSinks(cfg *config.Config) []receipt.Sink {
	sinks := make([]receipt.Sink, 0, 2)
	if cfg.ReceiptDir != "" {
		sinks = append(sinks, &receipt.FileSink{Dir: cfg.ReceiptDir})
	}
	if cfg.ReceiptPrinterAddr != "" {
		sinks = append(sinks, &receipt.PrinterSink{
			Addr:         cfg.ReceiptPrinterAddr,
			DialTimeout:  2 * time.Second,
			WriteTimeout: 5 * time.Second,
		})
	}
	return sinks
}

func validateSecurityConfig(cfg *config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("%s_AUTH_SECRET must be set and at least 32 characters", config.EnvPrefix)
	}
	return nil
}
