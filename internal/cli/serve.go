package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bcnelson/sid/internal/api"
	"github.com/bcnelson/sid/internal/auth"
	"github.com/bcnelson/sid/internal/process"
	"github.com/bcnelson/sid/internal/service"
	"github.com/bcnelson/sid/internal/web"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the dashboard, API and webhook receiver",
		Long: `Run the HTTP server.

Configuration comes from the environment (REPO_ROOT, WORKING_DIR, SERVER_PORT,
DB_DRIVER, ...). With SYNC_INTERVAL set, stacks are reconciled from source on
that schedule; SYNC_ON_START syncs once at startup.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), rootOpts)
		},
	}
}

func runServe(ctx context.Context, rootOpts *RootOptions) error {
	cfg, logger, err := rootOpts.load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a, err := newApp(cfg, logger, process.NewExecRunner())
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var oidc *web.OIDCComponents
	secure := strings.HasPrefix(cfg.OIDC.RedirectURL, "https://")
	if cfg.OIDC.Enabled {
		oidc, err = web.NewOIDCComponents(ctx, &cfg.OIDC, secure)
		if err != nil {
			return err
		}
		logger.Info("OIDC login enabled", "issuer", cfg.OIDC.IssuerURL)
	}

	keys := auth.NewKeyAuthenticator(a.store, cfg.Server.BootstrapAPIKey, logger)
	dashboard, err := web.NewServer(web.Options{
		Store:         a.store,
		Pipeline:      a.pipeline,
		Keys:          keys,
		Generation:    a.generation,
		OIDC:          oidc,
		SecureCookies: secure,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	hosts, anyHost := cfg.Server.Hosts()
	router := api.NewRouter(api.RouterOptions{
		Store:         a.store,
		Pipeline:      a.pipeline,
		Keys:          keys,
		Web:           dashboard.Router(),
		WebhookSecret: cfg.Server.WebhookSecret,
		Port:          cfg.Server.Port,
		AllowedHosts:  hosts,
		AnyHost:       anyHost,
		Logger:        logger,
	})

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Bring-up and sync requests wait for compose and git.
		WriteTimeout: cfg.Docker.DeployTimeout + cfg.Repo.Timeout,
		IdleTimeout:  120 * time.Second,
	}

	if err := a.pipeline.Go(service.NewReconciler(a.pipeline, cfg.Sync.Interval).Run); err != nil {
		return err
	}
	if cfg.Sync.OnStart {
		err := a.pipeline.Go(func(ctx context.Context) {
			if _, err := a.pipeline.SyncFromSource(ctx); err != nil {
				logger.Error("Startup sync failed", "error", err)
			}
		})
		if err != nil {
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting SID", "addr", "http://"+cfg.Server.Addr(), "mirror", cfg.Repo.MirrorPath())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("Server stopped")
	return nil
}
