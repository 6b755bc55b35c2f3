// Package mirror keeps the local working copy of the tracked repository current.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bcnelson/sid/internal/config"
	"github.com/bcnelson/sid/internal/domain"
	"github.com/bcnelson/sid/internal/events"
	"github.com/bcnelson/sid/internal/metrics"
	"github.com/bcnelson/sid/internal/notify"
	"github.com/bcnelson/sid/internal/process"
)

const (
	msgUpdated = "Repository updated"
	msgCloned  = "Repository newly cloned"
)

// Mirror is the result of a refresh.
type Mirror struct {
	Path          string `json:"path"`
	WasFreshClone bool   `json:"wasFreshClone"`
}

// Manager clones or updates the mirror with the git command line.
type Manager struct {
	cfg      config.RepoConfig
	runner   process.Runner
	recorder *events.Recorder
	sink     notify.Sink
	logger   *slog.Logger
}

// NewManager creates a Manager.
func NewManager(cfg config.RepoConfig, runner process.Runner, recorder *events.Recorder, sink notify.Sink, logger *slog.Logger) *Manager {
	if sink == nil {
		sink = notify.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{cfg: cfg, runner: runner, recorder: recorder, sink: sink, logger: logger}
}

// Path returns where the mirror lives, whether or not it exists yet.
func (m *Manager) Path() string {
	return filepath.Join(m.cfg.WorkingDir, m.cfg.RepoName())
}

// Ready reports whether the mirror has been cloned.
func (m *Manager) Ready() bool {
	_, err := os.Stat(filepath.Join(m.Path(), ".git"))
	return err == nil
}

// EnsureMirror brings the mirror up to date: fetch and pull when a checkout
// exists, otherwise clone into the working directory. The outcome is
// recorded as an event either way; failures are also returned.
func (m *Manager) EnsureMirror(ctx context.Context) (*Mirror, error) {
	if err := m.cfg.Check(); err != nil {
		m.recorder.Error(ctx, err.Error(), "")
		return nil, err
	}

	mirrorPath := m.Path()
	var (
		mode string
		err  error
	)
	if m.Ready() {
		mode = "pull"
		err = m.update(ctx, mirrorPath)
	} else {
		mode = "clone"
		err = m.clone(ctx)
	}
	metrics.MirrorRefresh(mode, err)

	if err != nil {
		msg := fmt.Sprintf("Repository %s failed: %s", modeVerb(mode), domain.ErrorDetail(err))
		m.recorder.Error(ctx, msg, "")
		m.sink.Notify(msg)
		return nil, err
	}

	result := &Mirror{Path: mirrorPath, WasFreshClone: mode == "clone"}
	msg := msgUpdated
	if result.WasFreshClone {
		msg = msgCloned
	}
	m.logger.Info(msg, "path", mirrorPath)
	m.recorder.Info(ctx, msg, "")
	m.sink.Notify(msg)
	return result, nil
}

func (m *Manager) update(ctx context.Context, dir string) error {
	if err := m.git(ctx, dir, "fetch", "--all"); err != nil {
		return err
	}
	return m.git(ctx, dir, "pull")
}

func (m *Manager) clone(ctx context.Context) error {
	if err := os.MkdirAll(m.cfg.WorkingDir, 0o755); err != nil {
		return fmt.Errorf("creating working directory: %w", err)
	}
	return m.git(ctx, m.cfg.WorkingDir, "clone", m.cfg.Remote, m.cfg.RepoName())
}

func (m *Manager) git(ctx context.Context, dir string, args ...string) error {
	cmd := process.Command{Name: m.cfg.GitBinary, Args: args, Dir: dir}
	m.logger.Debug("Running git", "command", cmd.String(), "dir", dir)

	res, err := process.RunWithTimeout(ctx, m.runner, m.cfg.Timeout, cmd)
	if err != nil {
		var perr *domain.ProcessError
		if errors.As(err, &perr) {
			m.logChatter(perr.Stderr)
		}
		return err
	}
	m.logChatter(res.Stderr)
	return nil
}

// logChatter splits git's stderr, which carries progress as well as
// failures, and logs each line at the level it deserves.
func (m *Manager) logChatter(stderr string) {
	for _, line := range strings.Split(stderr, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if IsFailureLine(line) {
			m.logger.Error("git", "stderr", line)
		} else {
			m.logger.Debug("git", "stderr", line)
		}
	}
}

var failureMarkers = []string{
	"fatal:",
	"error:",
	"permission denied",
	"could not read",
	"authentication failed",
	"not a git repository",
}

// IsFailureLine reports whether a line of git stderr describes a failure
// rather than progress output.
func IsFailureLine(line string) bool {
	lower := strings.ToLower(line)
	for _, marker := range failureMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func modeVerb(mode string) string {
	if mode == "clone" {
		return "clone"
	}
	return "update"
}
