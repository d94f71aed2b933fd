package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hmsportal/hms/internal/api"
	"github.com/hmsportal/hms/internal/config"
	"github.com/hmsportal/hms/internal/db"
	"github.com/hmsportal/hms/internal/services"
	"github.com/hmsportal/hms/internal/storage"
	"github.com/hmsportal/hms/pkg/metrics"
)

var (
	seed         bool
	seedTenant   string
	seedEmail    string
	seedPassword string
	serveCmd     = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE:  runServe,
	}
	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE:  runMigrate,
	}
)

func init() {
	serveCmd.Flags().BoolVar(&seed, "seed", false, "create a demo tenant and admin when the database is empty")
	serveCmd.Flags().StringVar(&seedTenant, "seed-tenant", "Demo", "name of the seeded tenant")
	serveCmd.Flags().StringVar(&seedEmail, "seed-email", "admin@example.com", "email of the seeded admin")
	serveCmd.Flags().StringVar(&seedPassword, "seed-password", os.Getenv("HMS_SEED_PASSWORD"), "password of the seeded admin")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, zapLogger, err := bootstrap()
	if err != nil {
		return err
	}
	defer zapLogger.Sync()

	config.LogConfig(zapLogger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Initialize(cfg, zapLogger)
	if err != nil {
		return err
	}
	defer db.Close(database)

	if seed {
		if seedPassword == "" {
			return errors.New("--seed requires --seed-password or HMS_SEED_PASSWORD")
		}
		opts := db.SeedOptions{
			TenantName:        seedTenant,
			AdminEmail:        seedEmail,
			AdminPassword:     seedPassword,
			PasswordMinLength: cfg.Security.PasswordMinLength,
		}
		if err := db.Seed(ctx, database, opts, zapLogger); err != nil {
			return err
		}
	}

	store, err := storage.New(ctx, cfg.Storage, cfg.Server.PublicURL)
	if err != nil {
		return err
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	metricsCollector := metrics.NewMetricsCollector()
	gate := services.NewRoleGate(services.DefaultGrants())
	audit := services.NewGormAuditSink(database)

	sessionService := services.NewSessionService(database, zapLogger, metricsCollector, services.SessionOptionsFromConfig(cfg.Security))
	sessionService.Start(ctx)
	defer sessionService.Stop()

	router := api.NewRouter(zapLogger, metricsCollector, cfg, api.Services{
		Sessions:  sessionService,
		Documents: services.NewDocumentService(database, store, gate, audit, zapLogger, metricsCollector, services.DocumentOptionsFromConfig(cfg.Documents)),
		Risks:     services.NewRiskService(database, gate, audit, zapLogger, metricsCollector, services.RiskOptions{}),
		Members:   services.NewMemberService(database, gate, zapLogger),
		Store:     store,
	})
	router.SetupRoutes()
	defer router.Close()

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router.GetEngine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	zapLogger.Info("Server started", zap.String("port", cfg.Server.Port))

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	zapLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Forced shutdown", zap.Error(err))
		return err
	}

	zapLogger.Info("Server gracefully stopped")
	return nil
}

func runMigrate(_ *cobra.Command, _ []string) error {
	cfg, zapLogger, err := bootstrap()
	if err != nil {
		return err
	}
	defer zapLogger.Sync()

	// Initialize migrates as part of opening the connection.
	database, err := db.Initialize(cfg, zapLogger)
	if err != nil {
		return err
	}
	zapLogger.Info("Migrations applied")
	return db.Close(database)
}
