package cmd

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

	"github.com/clinigate/authgw/internal/db/bunx"
	gwmiddleware "github.com/clinigate/authgw/internal/middleware"
	"github.com/clinigate/authgw/internal/repository"
	"github.com/clinigate/authgw/internal/server"
	"github.com/clinigate/authgw/internal/services/iam"
	"github.com/clinigate/authgw/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway server",
	Long:  `Starts the HTTP server with the login, whoami and Connect RPC endpoints.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		shutdownTelemetry, err := telemetry.Init(ctx, cfg.Observability, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(shutdownCtx); err != nil {
				logger.Warn().Err(err).Msg("telemetry shutdown failed")
			}
		}()

		authMetrics, err := telemetry.NewAuthMetrics()
		if err != nil {
			return fmt.Errorf("failed to create auth metrics: %w", err)
		}
		serverMetrics, err := telemetry.NewServerMetrics()
		if err != nil {
			return fmt.Errorf("failed to create server metrics: %w", err)
		}

		db, err := bunx.NewDB(cfg.DatabaseURL, bunx.WithMaxConns(cfg.MaxDBConnections))
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer bunx.Close(db)

		logger.Info().Str("driver", string(bunx.DetectDatabaseType(cfg.DatabaseURL))).Msg("connected to database")

		users := repository.NewBunUserRepository(db)
		iamService, err := iam.NewIAMService(
			iam.IAMServiceDependencies{
				Credentials: users,
				Identities:  users,
				Permissions: repository.NewBunPermissionRepository(db),
				Sessions:    repository.NewBunSessionRepository(db),
				Audit:       repository.NewBunAuditRepository(db),
				Logger:      logger,
				Metrics:     authMetrics,
			},
			iam.IAMServiceConfig{Config: cfg},
		)
		if err != nil {
			return fmt.Errorf("create IAM service: %w", err)
		}
		logger.Info().
			Bool("external_tokens", cfg.OIDC.Enabled()).
			Bool("patient_assertions", cfg.Assertion.Enabled()).
			Msg("IAM service initialized")

		var chiMiddleware []func(http.Handler) http.Handler
		if len(cfg.Server.BasicTokenPaths) > 0 {
			chiMiddleware = append(chiMiddleware, gwmiddleware.PromoteBasicAuthToken(cfg.Server.BasicTokenPaths...))
		}

		corsOpts := server.DefaultCORSOptions(cfg.Server.CORSOrigins...)
		handler := server.NewH2CHandler(server.RouterOptions{
			IAM:           iamService,
			Logger:        logger,
			ServerMetrics: serverMetrics,
			AuthMetrics:   authMetrics,
			CORSOptions:   &corsOpts,
			Middleware:    chiMiddleware,
		})

		srv := &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      handler,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		}

		serverErrors := make(chan error, 1)
		go func() {
			logger.Info().Str("addr", cfg.Server.Addr).Msg("starting server")
			serverErrors <- srv.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		// SIGHUP drops cached authorizations so permission changes apply immediately.
		purge := make(chan os.Signal, 1)
		signal.Notify(purge, syscall.SIGHUP)

		for {
			select {
			case err := <-serverErrors:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return fmt.Errorf("server error: %w", err)

			case sig := <-purge:
				iamService.PurgeAuthorizationCache()
				logger.Info().Str("signal", sig.String()).Msg("authorization cache purged")

			case sig := <-shutdown:
				logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")

				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()

				if err := srv.Shutdown(shutdownCtx); err != nil {
					_ = srv.Close()
					return fmt.Errorf("graceful shutdown failed: %w", err)
				}

				logger.Info().Msg("server stopped")
				return nil
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
