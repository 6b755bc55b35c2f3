// Package cli implements the sid command.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/bcnelson/sid/internal/config"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	LogLevel  string // overrides LOG_LEVEL
	LogFormat string // overrides LOG_FORMAT
	Output    string // "text" | "json"

	// LoadConfig is swapped in tests.
	LoadConfig func() (*config.Config, error)
	Stderr     io.Writer
}

// ValidOutputs defines the allowed result formats.
var ValidOutputs = []string{"text", "json"}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{LoadConfig: config.Load, Stderr: os.Stderr})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sid",
		Short: "SID - stacks in docker",
		Long: `SID keeps docker compose stacks in sync with a git repository.

Every directory holding a compose file is a stack. A push that touches a
stack's files redeploys it; the dashboard shows containers, stacks and the
event log.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidOutputs, opts.Output) {
				return fmt.Errorf("invalid output %q: must be one of %v", opts.Output, ValidOutputs)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error), overrides LOG_LEVEL")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "", "log format (text|json), overrides LOG_FORMAT")
	cmd.PersistentFlags().StringVarP(&opts.Output, "output", "o", "text", "result format (text|json)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewDeployCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))

	return cmd
}

// load reads the environment, applies flag overrides and installs the
// process-wide logger.
func (o *RootOptions) load() (*config.Config, *slog.Logger, error) {
	cfg, err := o.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	if o.LogFormat != "" {
		cfg.Log.Format = o.LogFormat
	}

	logger := newLogger(o.Stderr, cfg.Log)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newLogger(w io.Writer, lc config.LogConfig) *slog.Logger {
	hopts := &slog.HandlerOptions{Level: lc.SlogLevel()}
	if strings.EqualFold(lc.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}
