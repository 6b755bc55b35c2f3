package process

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bcnelson/sid/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCapturesStdout(t *testing.T) {
	r := NewExecRunner()

	res, err := r.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo hello; echo progress >&2"}})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Equal(t, "progress\n", res.Stderr)
}

func TestRunUsesWorkingDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker.txt"), nil, 0o644))
	r := NewExecRunner()

	res, err := r.Run(context.Background(), Command{Name: "ls", Dir: dir})
	require.NoError(t, err)
	assert.Equal(t, "marker.txt\n", res.Stdout)
}

func TestRunNonZeroExit(t *testing.T) {
	r := NewExecRunner()

	_, err := r.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo boom >&2; exit 3"}})

	var perr *domain.ProcessError
	require.True(t, errors.As(err, &perr), "expected ProcessError, got %v", err)
	assert.Equal(t, 3, perr.ExitCode)
	assert.Equal(t, "boom\n", perr.Stderr)
	assert.False(t, perr.TimedOut)
	assert.Equal(t, "boom", perr.Detail())
}

func TestRunMissingBinary(t *testing.T) {
	r := NewExecRunner()

	_, err := r.Run(context.Background(), Command{Name: "sid-no-such-binary-xyz", Args: []string{"up"}})

	var serr *domain.SpawnError
	require.True(t, errors.As(err, &serr), "expected SpawnError, got %v", err)
	assert.Equal(t, "sid-no-such-binary-xyz up", serr.Command)
}

func TestRunWithTimeoutKillsProcess(t *testing.T) {
	r := NewExecRunner()

	start := time.Now()
	_, err := RunWithTimeout(context.Background(), r, 100*time.Millisecond, Command{Name: "sleep", Args: []string{"10"}})

	var perr *domain.ProcessError
	require.True(t, errors.As(err, &perr), "expected ProcessError, got %v", err)
	assert.True(t, perr.TimedOut)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "git", Command{Name: "git"}.String())
	assert.Equal(t, "git fetch --all", Command{Name: "git", Args: []string{"fetch", "--all"}}.String())
}
