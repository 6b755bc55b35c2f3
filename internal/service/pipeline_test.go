package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bcnelson/sid/internal/config"
	"github.com/bcnelson/sid/internal/deploy"
	"github.com/bcnelson/sid/internal/domain"
	"github.com/bcnelson/sid/internal/events"
	"github.com/bcnelson/sid/internal/mirror"
	"github.com/bcnelson/sid/internal/process"
	"github.com/bcnelson/sid/internal/process/processtest"
	"github.com/bcnelson/sid/internal/storage/memory"
	"github.com/sethvargo/go-retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct{ n atomic.Int32 }

func (c *counter) Invalidate() { c.n.Add(1) }

type harness struct {
	workDir    string
	mirrorPath string
	runner     *processtest.Runner
	store      *memory.Store
	inv        *counter
	pipeline   *Pipeline
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		workDir: filepath.Join(t.TempDir(), "work"),
		runner:  processtest.New(),
		store:   memory.New(),
		inv:     &counter{},
	}
	h.mirrorPath = filepath.Join(h.workDir, "compose-v2")

	h.runner.On("git clone", func(c process.Command) (*process.Result, error) {
		write(t, filepath.Join(h.mirrorPath, ".git", "HEAD"), "ref: refs/heads/main\n")
		write(t, filepath.Join(h.mirrorPath, "svc-a", "docker-compose.yml"), "services:\n  web: {}\n")
		write(t, filepath.Join(h.mirrorPath, "svc-b", "compose.yaml"), "services:\n  db: {}\n")
		write(t, filepath.Join(h.mirrorPath, "README.md"), "# stacks\n")
		return &process.Result{}, nil
	})

	repo := config.RepoConfig{
		Remote:     "https://github.com/example/compose-v2.git",
		WorkingDir: h.workDir,
		GitBinary:  "git",
		Timeout:    time.Minute,
	}
	rec := events.NewRecorder(h.store, nil)
	mgr := mirror.NewManager(repo, h.runner, rec, nil, nil)
	engine := deploy.NewEngine(deploy.EngineOptions{Binary: "docker"}, h.runner, rec, nil)
	exec := deploy.NewExecutor(engine, rec, deploy.ExecutorOptions{Root: mgr.Path(), Invalidator: h.inv})

	h.pipeline = NewPipeline(Deps{
		Store:       h.store,
		Mirror:      mgr,
		Executor:    exec,
		Engine:      engine,
		Recorder:    rec,
		Invalidator: h.inv,
		Debounce:    10 * time.Millisecond,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.pipeline.Shutdown(ctx)
	})
	return h
}

func (h *harness) events(t *testing.T) []*domain.Event {
	t.Helper()
	evs, err := h.store.ListEvents(context.Background(), 1000, 0)
	require.NoError(t, err)
	return evs
}

func TestHandlePushDeploysAffectedStacks(t *testing.T) {
	h := newHarness(t)
	h.runner.OnDir("docker compose up", filepath.Join(h.mirrorPath, "svc-b"), processtest.Fail(1, "pull access denied for private/db"))

	cs := domain.ChangeSet{"svc-a/docker-compose.yml", "svc-a/app.py", "svc-b/config.yaml"}
	report, err := h.pipeline.HandleChange(context.Background(), cs)
	require.NoError(t, err)

	assert.True(t, report.WasFreshClone)
	assert.Equal(t, []string{"svc-a", "svc-b"}, report.Stacks)
	require.Len(t, report.Deployments, 2)
	assert.True(t, report.Deployments[0].Success)
	assert.False(t, report.Deployments[1].Success)
	assert.Equal(t, 1, report.Failed)

	byStack := map[string]domain.EventKind{}
	for _, ev := range h.events(t) {
		if ev.StackName != nil {
			byStack[ev.Stack()] = ev.Kind
		}
	}
	assert.Equal(t, domain.EventSuccess, byStack["svc-a"])
	assert.Equal(t, domain.EventError, byStack["svc-b"])
	assert.GreaterOrEqual(t, h.inv.n.Load(), int32(1))
}

func TestHandlePushRootLevelOnly(t *testing.T) {
	h := newHarness(t)

	push := &domain.PushEvent{Commits: []domain.Commit{{ID: "c1", Modified: []string{"README.md", "renovate.json"}}}}
	report, err := h.pipeline.HandlePush(context.Background(), push)
	require.NoError(t, err)

	assert.Empty(t, report.Deployments)
	assert.Zero(t, h.runner.Count("docker"))
	assert.Equal(t, "Push did not affect any stack", h.events(t)[0].Message)
}

func TestHandlePushMirrorFailure(t *testing.T) {
	h := newHarness(t)
	h.runner.On("git clone", processtest.Fail(128, "fatal: repository not found"))

	_, err := h.pipeline.HandleChange(context.Background(), domain.ChangeSet{"svc-a/docker-compose.yml"})
	var perr *domain.ProcessError
	require.True(t, errors.As(err, &perr))

	assert.Zero(t, h.runner.Count("docker"))
	evs := h.events(t)
	require.Len(t, evs, 1)
	assert.Equal(t, domain.EventError, evs[0].Kind)
	assert.Equal(t, int32(1), h.inv.n.Load())
}

func TestHandlePushTriggersStackRefresh(t *testing.T) {
	h := newHarness(t)

	push := &domain.PushEvent{Commits: []domain.Commit{{ID: "c1", Added: []string{"svc-a/docker-compose.yml"}}}}
	_, err := h.pipeline.HandlePush(context.Background(), push)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		stacks, _ := h.store.ListStacks(context.Background())
		return len(stacks) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, h.runner.Count("git"), "a debounced refresh does not pull")
}

func TestSyncFromSourceUpserts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	report, err := h.pipeline.SyncFromSource(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"svc-a", "svc-b"}, report.Stacks)

	stacks, err := h.store.ListStacks(ctx)
	require.NoError(t, err)
	require.Len(t, stacks, 2)
	assert.Equal(t, "svc-a/docker-compose.yml", stacks[0].Path)
	assert.Equal(t, domain.StackStatusSynced, stacks[0].Status)
	firstID := stacks[0].ID

	// Move svc-a's compose file; the second sync updates instead of duplicating.
	require.NoError(t, os.Rename(
		filepath.Join(h.mirrorPath, "svc-a", "docker-compose.yml"),
		filepath.Join(h.mirrorPath, "svc-a", "compose.yaml")))

	_, err = h.pipeline.SyncFromSource(ctx)
	require.NoError(t, err)

	stacks, err = h.store.ListStacks(ctx)
	require.NoError(t, err)
	require.Len(t, stacks, 2)
	assert.Equal(t, firstID, stacks[0].ID)
	assert.Equal(t, "svc-a/compose.yaml", stacks[0].Path)
	assert.Equal(t, 1, h.runner.Count("git clone"))
	assert.Equal(t, 1, h.runner.Count("git pull"))
}

func TestEventsAreAppendOnlyAcrossRuns(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.pipeline.SyncFromSource(ctx)
	require.NoError(t, err)
	before := h.events(t)

	_, err = h.pipeline.HandleChange(ctx, domain.ChangeSet{"svc-a/docker-compose.yml"})
	require.NoError(t, err)
	after := h.events(t)

	require.Greater(t, len(after), len(before))
	byID := map[int64]*domain.Event{}
	for _, ev := range after {
		byID[ev.ID] = ev
	}
	for _, old := range before {
		cur, ok := byID[old.ID]
		require.True(t, ok, "event %d disappeared", old.ID)
		assert.Equal(t, old, cur)
	}
}

func TestBringUp(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.pipeline.SyncFromSource(ctx)
	require.NoError(t, err)
	stack, err := h.store.GetStackByName(ctx, "svc-b")
	require.NoError(t, err)

	res, err := h.pipeline.BringUp(ctx, stack.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "svc-b", res.Stack)

	calls := h.runner.Calls()
	last := calls[len(calls)-1]
	assert.Equal(t, filepath.Join(h.mirrorPath, "svc-b"), last.Dir)
}

func TestBringUpBeforeClone(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	stack, err := h.pipeline.CreateStack(ctx, &domain.CreateStackRequest{Name: "svc-a", Path: "svc-a/docker-compose.yml"})
	require.NoError(t, err)

	_, err = h.pipeline.BringUp(ctx, stack.ID)
	assert.ErrorIs(t, err, domain.ErrMirrorNotReady)

	_, err = h.pipeline.BringUp(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateStackValidatesAndRejectsDuplicates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.pipeline.CreateStack(ctx, &domain.CreateStackRequest{Name: "svc-a", Path: "../svc-a/compose.yml"})
	assert.Error(t, err)

	_, err = h.pipeline.CreateStack(ctx, &domain.CreateStackRequest{Name: "svc-a", Path: "svc-a/compose.yml"})
	require.NoError(t, err)
	_, err = h.pipeline.CreateStack(ctx, &domain.CreateStackRequest{Name: "svc-a", Path: "svc-a/compose.yml"})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestContainerActionRejectsBadReference(t *testing.T) {
	h := newHarness(t)
	err := h.pipeline.ContainerAction(context.Background(), domain.ActionStop, "--all")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Empty(t, h.runner.Calls())
}

func TestRunsAreSerialized(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.pipeline.SyncFromSource(ctx)
	require.NoError(t, err)

	var inFlight, peak atomic.Int32
	slowGit := func(process.Command) (*process.Result, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return &process.Result{}, nil
	}
	h.runner.On("git fetch", slowGit)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.pipeline.HandleChange(ctx, domain.ChangeSet{"svc-a/docker-compose.yml"})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak.Load())
	assert.Equal(t, 4, h.runner.Count("git fetch --all"))
}

func TestReconcileSkipsWhileBusy(t *testing.T) {
	h := newHarness(t)
	r := NewReconciler(h.pipeline, time.Minute)

	h.pipeline.runMu.Lock()
	err := r.Reconcile(context.Background())
	h.pipeline.runMu.Unlock()
	assert.ErrorIs(t, err, domain.ErrRunInProgress)

	require.NoError(t, r.Reconcile(context.Background()))
	stacks, _ := h.store.ListStacks(context.Background())
	assert.Len(t, stacks, 2)
}

func TestReconcileRetriesMirrorFailure(t *testing.T) {
	h := newHarness(t)
	r := NewReconciler(h.pipeline, time.Minute)
	r.backoff = func() retry.Backoff {
		return retry.WithMaxRetries(2, retry.NewConstant(time.Millisecond))
	}

	attempts := 0
	h.runner.On("git clone", func(c process.Command) (*process.Result, error) {
		attempts++
		if attempts < 2 {
			return nil, &domain.ProcessError{Command: c.String(), ExitCode: 128, Stderr: "fatal: unable to access: Could not resolve host"}
		}
		write(t, filepath.Join(h.mirrorPath, ".git", "HEAD"), "ref: refs/heads/main\n")
		write(t, filepath.Join(h.mirrorPath, "svc-a", "docker-compose.yml"), "services: {}\n")
		return &process.Result{}, nil
	})

	require.NoError(t, r.Reconcile(context.Background()))
	assert.Equal(t, 2, attempts)
}

func TestReconcileDoesNotRetryUpsertFailure(t *testing.T) {
	h := newHarness(t)
	h.store.FailUpserts = errors.New("disk full")
	r := NewReconciler(h.pipeline, time.Minute)
	r.backoff = func() retry.Backoff {
		return retry.WithMaxRetries(3, retry.NewConstant(time.Millisecond))
	}

	err := r.Reconcile(context.Background())
	require.Error(t, err)
	var rerr *RefreshError
	assert.False(t, errors.As(err, &rerr))
	assert.Equal(t, 1, h.runner.Count("git clone"))
	assert.Zero(t, h.runner.Count("git fetch"))

	failures := 0
	for _, ev := range h.events(t) {
		if ev.Kind == domain.EventError {
			failures++
		}
	}
	assert.Equal(t, 2, failures, "one error per failed stack, recorded once")
}

func TestReconcileDoesNotRetryConfiguration(t *testing.T) {
	store := memory.New()
	rec := events.NewRecorder(store, nil)
	runner := processtest.New()
	mgr := mirror.NewManager(config.RepoConfig{GitBinary: "git"}, runner, rec, nil, nil)
	p := NewPipeline(Deps{Store: store, Mirror: mgr, Recorder: rec})

	r := NewReconciler(p, time.Minute)
	err := r.Reconcile(context.Background())
	var cerr *domain.ConfigurationError
	require.True(t, errors.As(err, &cerr))
	evs, _ := store.ListEvents(context.Background(), 10, 0)
	assert.Len(t, evs, 1)
}
