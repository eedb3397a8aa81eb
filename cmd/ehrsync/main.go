package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/ehrsync/internal/config"
	"github.com/ehr/ehrsync/internal/domain/conflict"
	"github.com/ehr/ehrsync/internal/domain/connection"
	"github.com/ehr/ehrsync/internal/domain/resource"
	"github.com/ehr/ehrsync/internal/domain/syncjob"
	"github.com/ehr/ehrsync/internal/platform/db"
	"github.com/ehr/ehrsync/internal/platform/engine"
	"github.com/ehr/ehrsync/internal/platform/fhirclient"
	"github.com/ehr/ehrsync/internal/platform/notification"
	"github.com/ehr/ehrsync/internal/platform/perf"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ehrsync",
		Short: "EHR clinical record synchronization engine",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync engine and operator API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format(time.RFC3339)
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log := newLogger(cfg)
	ctx := context.Background()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	jobs := syncjob.NewRepo(pool)
	resources := resource.NewRepo(pool)
	connections := connection.NewRepo(pool)

	conflictCfg := conflict.DefaultConfig()
	conflictCfg.AutoResolveBelow = conflict.Severity(cfg.AutoResolveBelow)
	if len(cfg.TrustedSources) > 0 {
		conflictCfg.TrustedSources = cfg.TrustedSources
	}
	resolver := conflict.NewResolver(conflictCfg, log)

	perfCfg := perf.DefaultConfig()
	perfCfg.BatchSize = cfg.BatchSize
	perfCfg.ConcurrentBatches = cfg.ConcurrentBatches
	perfCfg.RateLimitEnabled = cfg.RateLimitEnabled
	perfCfg.RequestsPerSecond = cfg.RateLimitRPS
	perfCfg.BurstLimit = cfg.RateLimitBurst
	perfCfg.CacheEnabled = cfg.CacheEnabled
	perfCfg.CacheTTL = time.Duration(cfg.CacheTTLHours) * time.Hour
	perfCfg.CompressionEnabled = cfg.CompressionEnabled
	perfCfg.DeltaSyncEnabled = cfg.DeltaSyncEnabled
	optimizer := perf.NewOptimizer(perfCfg, log, func(context.Context, *perf.BatchJob, []string) error {
		return nil
	})

	var notifier notification.Sink = notification.NopSink{}
	if cfg.NotifyWebhookURL != "" {
		notifier = notification.NewWebhookSink(cfg.NotifyWebhookURL, cfg.NotifyWebhookSecret, log)
	}

	eng := engine.New(engine.Config{
		ScanInterval:      cfg.ScanInterval,
		MaxConcurrentJobs: cfg.MaxConcurrentJobs,
	}, engine.Deps{
		Jobs:        jobs,
		Resources:   resources,
		Connections: connections,
		Fetcher:     fhirclient.New(log),
		Resolver:    resolver,
		Perf:        optimizer,
		Notifier:    notifier,
		Logger:      log,
	})

	engineCtx, stopEngine := context.WithCancel(ctx)
	defer stopEngine()
	eng.Start(engineCtx)
	defer eng.Stop()

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())

	e.GET("/healthz", db.HealthHandler(pool))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")
	engine.NewHandler(eng).RegisterRoutes(api)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown failed")
	}
	eng.Stop()
	return nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
