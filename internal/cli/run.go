package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/bcnelson/sid/internal/domain"
	"github.com/bcnelson/sid/internal/process"
	"github.com/spf13/cobra"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Refresh the mirror and record every stack found in it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd.Context(), rootOpts, cmd.OutOrStdout(), func(ctx context.Context, a *app) (*domain.RunReport, error) {
				return a.pipeline.SyncFromSource(ctx)
			})
		},
	}
}

// NewDeployCommand creates the deploy command.
func NewDeployCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "deploy <path>...",
		Short: "Deploy the stacks affected by the given repository paths",
		Long: `Run the change pipeline as if a push had touched the given paths.

The mirror is refreshed first. Each path's directory is deployed with
"docker compose up"; paths at the repository root are ignored.

Example:
  sid deploy svc-a/docker-compose.yml svc-b/.env`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd.Context(), rootOpts, cmd.OutOrStdout(), func(ctx context.Context, a *app) (*domain.RunReport, error) {
				return a.pipeline.HandleChange(ctx, domain.ChangeSet(args))
			})
		},
	}
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := rootOpts.load()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			logger.Info("Database is up to date", "driver", cfg.Database.Driver)
			return store.Close()
		},
	}
}

type runFunc func(ctx context.Context, a *app) (*domain.RunReport, error)

func runOnce(ctx context.Context, rootOpts *RootOptions, out io.Writer, fn runFunc) error {
	cfg, logger, err := rootOpts.load()
	if err != nil {
		return err
	}
	if err := cfg.Repo.Check(); err != nil {
		return err
	}

	a, err := newApp(cfg, logger, process.NewExecRunner())
	if err != nil {
		return err
	}
	defer a.close()

	report, err := fn(ctx, a)
	if report != nil {
		if werr := writeReport(out, rootOpts.Output, report); werr != nil {
			return werr
		}
	}
	if err != nil {
		return err
	}
	if report.Failed > 0 {
		return fmt.Errorf("%d of %d deployments failed", report.Failed, len(report.Deployments))
	}
	return nil
}

func writeReport(w io.Writer, format string, report *domain.RunReport) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	mode := "updated"
	if report.WasFreshClone {
		mode = "cloned"
	}
	fmt.Fprintf(w, "%s run: mirror %s (%s)\n", report.Kind, report.MirrorPath, mode)
	for _, name := range report.Stacks {
		fmt.Fprintf(w, "  stack %s\n", name)
	}
	for _, d := range report.Deployments {
		status := "ok"
		if !d.Success {
			status = "FAILED: " + d.Error
		}
		fmt.Fprintf(w, "  deploy %s: %s\n", d.Directory, status)
	}
	return nil
}
