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

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stockledger/backend/internal/cache"
	"stockledger/backend/internal/config"
	"stockledger/backend/internal/httpapi"
	"stockledger/backend/internal/logger"
	"stockledger/backend/internal/metrics"
	"stockledger/backend/internal/service"
	"stockledger/backend/internal/store"
	"stockledger/backend/internal/store/memory"
	pgstore "stockledger/backend/internal/store/postgres"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	repo, closers, err := openRepository(ctx, cfg, log)
	if err != nil {
		return err
	}

	availability := cache.AvailabilityCache(cache.NoopAvailabilityCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisAvailabilityCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Warn("redis unavailable, using noop cache", zap.Error(err))
			_ = redisCache.Close()
		} else {
			availability = redisCache
			closers = append(closers, redisCache.Close)
			log.Info("cache: redis", zap.String("addr", cfg.RedisAddr))
		}
	} else {
		log.Info("cache: noop")
	}

	ledgerMetrics := metrics.New()
	svc := service.New(repo,
		service.WithAvailabilityCache(availability, cfg.CacheTTL()),
		service.WithTxTimeout(cfg.TxTimeout),
		service.WithMetrics(ledgerMetrics),
		service.WithLogger(logger.Named(log, "service")),
	)
	api := httpapi.New(svc, httpapi.NewTokenVerifier(cfg.AuthSecret), cfg.AllowedOrigin,
		httpapi.WithMetrics(ledgerMetrics),
		httpapi.WithLogger(logger.Named(log, "http")),
	)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("stock ledger listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	var runErr error
	select {
	case s := <-sig:
		log.Info("shutdown requested", zap.String("signal", s.String()))
	case err, ok := <-serverErr:
		if ok {
			runErr = fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
	runClosers(log, closers)

	log.Info("server stopped")
	return runErr
}

// bootstrap loads configuration, rejects unsafe settings and builds the root
// logger shared by every subcommand.
func bootstrap() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	if err := validateSecurityConfig(cfg); err != nil {
		return config.Config{}, nil, fmt.Errorf("invalid security configuration: %w", err)
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, log, nil
}

func openRepository(ctx context.Context, cfg config.Config, log *zap.Logger) (store.Repository, []func() error, error) {
	if cfg.DatabaseURL == "" {
		log.Info("repository: in-memory")
		return memory.NewSeeded(), nil, nil
	}

	pg, err := pgstore.New(ctx, cfg.DatabaseURL, pgstore.PoolConfig{
		MaxOpenConns: cfg.DBMaxOpenConns,
		MaxIdleConns: cfg.DBMaxIdleConns,
	}, logger.Named(log, "postgres"))
	if err != nil {
		return nil, nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback: %w", err)
	}
	if err := pg.Migrate(ctx); err != nil {
		_ = pg.Close()
		return nil, nil, err
	}
	log.Info("repository: postgres")
	return pg, []func() error{pg.Close}, nil
}

func runClosers(log *zap.Logger, closers []func() error) {
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Error("close error", zap.Error(err))
		}
	}
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return errors.New("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.IsProduction() && cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required when APP_ENV=production")
	}
	if cfg.IsProduction() && cfg.AllowedOrigin == "*" {
		return errors.New("ALLOWED_ORIGIN must name an origin when APP_ENV=production")
	}
	return nil
}
