package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bcnelson/sid/internal/api"
	"github.com/bcnelson/sid/internal/auth"
	"github.com/bcnelson/sid/internal/config"
	"github.com/bcnelson/sid/internal/deploy"
	"github.com/bcnelson/sid/internal/domain"
	"github.com/bcnelson/sid/internal/events"
	"github.com/bcnelson/sid/internal/mirror"
	"github.com/bcnelson/sid/internal/process"
	"github.com/bcnelson/sid/internal/process/processtest"
	"github.com/bcnelson/sid/internal/service"
	"github.com/bcnelson/sid/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bootstrapKey = "test-bootstrap-key"

// testServer wires the real router to an in-memory store and a scripted
// runner standing in for git and docker.
type testServer struct {
	handler  http.Handler
	store    *memory.Store
	runner   *processtest.Runner
	pipeline *service.Pipeline
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newTestServer(t *testing.T, webhookSecret string) *testServer {
	t.Helper()
	workDir := filepath.Join(t.TempDir(), "work")
	mirrorPath := filepath.Join(workDir, "compose-v2")

	ts := &testServer{
		store:  memory.New(),
		runner: processtest.New(),
	}
	ts.runner.On("git clone", func(process.Command) (*process.Result, error) {
		write(t, filepath.Join(mirrorPath, ".git", "HEAD"), "ref: refs/heads/main\n")
		write(t, filepath.Join(mirrorPath, "svc-a", "docker-compose.yml"), "services:\n  web: {}\n  worker: {}\n")
		write(t, filepath.Join(mirrorPath, "svc-b", "compose.yaml"), "services:\n  db: {}\n")
		return &process.Result{}, nil
	})

	repo := config.RepoConfig{
		Remote:     "https://github.com/example/compose-v2.git",
		WorkingDir: workDir,
		GitBinary:  "git",
		Timeout:    time.Minute,
	}
	rec := events.NewRecorder(ts.store, nil)
	mgr := mirror.NewManager(repo, ts.runner, rec, nil, nil)
	engine := deploy.NewEngine(deploy.EngineOptions{Binary: "docker"}, ts.runner, rec, nil)
	exec := deploy.NewExecutor(engine, rec, deploy.ExecutorOptions{Root: mgr.Path()})
	ts.pipeline = service.NewPipeline(service.Deps{
		Store:    ts.store,
		Mirror:   mgr,
		Executor: exec,
		Engine:   engine,
		Recorder: rec,
		Debounce: 10 * time.Millisecond,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = ts.pipeline.Shutdown(ctx)
	})

	ts.handler = api.NewRouter(api.RouterOptions{
		Store:         ts.store,
		Pipeline:      ts.pipeline,
		Keys:          auth.NewKeyAuthenticator(ts.store, bootstrapKey, nil),
		WebhookSecret: webhookSecret,
		Port:          3000,
		AllowedHosts:  []string{"example.com"}, // httptest default Host
	})
	return ts
}

func (ts *testServer) request(method, path string, body any, apiKey string) *httptest.ResponseRecorder {
	var reqBody io.Reader
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewReader(jsonBytes)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func (ts *testServer) sync(t *testing.T) []*domain.StackSummary {
	t.Helper()
	rr := ts.request("POST", "/api/v1/sync", nil, bootstrapKey)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = ts.request("GET", "/api/v1/stacks", nil, bootstrapKey)
	require.Equal(t, http.StatusOK, rr.Code)
	return decode[[]*domain.StackSummary](t, rr)
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, "")

	rr := ts.request("GET", "/health", nil, "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rr)["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, "")

	rr := ts.request("GET", "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHostValidation(t *testing.T) {
	ts := newTestServer(t, "")

	req := httptest.NewRequest("GET", "/health", nil)
	req.Host = "evil.example.net"
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	req.Host = "localhost:3000"
	rr = httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t, "")

	rr := ts.request("GET", "/api/v1/stacks", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest("GET", "/api/v1/stacks", nil)
	req.Header.Set("Authorization", "Basic invalid")
	rr = httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = ts.request("GET", "/api/v1/stacks", nil, "invalid-key")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAPIKeyLifecycle(t *testing.T) {
	ts := newTestServer(t, "")

	rr := ts.request("POST", "/api/v1/keys", domain.CreateAPIKeyRequest{Name: "ci"}, bootstrapKey)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decode[domain.CreateAPIKeyResponse](t, rr)
	require.NotEmpty(t, created.Key)
	assert.Equal(t, "ci", created.Name)

	rr = ts.request("GET", "/api/v1/stacks", nil, created.Key)
	assert.Equal(t, http.StatusOK, rr.Code)

	// Bootstrap key stops working once a real key exists.
	rr = ts.request("GET", "/api/v1/stacks", nil, bootstrapKey)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = ts.request("GET", "/api/v1/keys", nil, created.Key)
	require.Equal(t, http.StatusOK, rr.Code)
	keys := decode[[]*domain.APIKey](t, rr)
	require.Len(t, keys, 1)

	rr = ts.request("DELETE", "/api/v1/keys/"+keys[0].ID, nil, created.Key)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = ts.request("POST", "/api/v1/keys", domain.CreateAPIKeyRequest{Name: ""}, bootstrapKey)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSyncAndStackDetail(t *testing.T) {
	ts := newTestServer(t, "")

	stacks := ts.sync(t)
	require.Len(t, stacks, 2)
	assert.Equal(t, "svc-a", stacks[0].Name)
	assert.Equal(t, "svc-a/docker-compose.yml", stacks[0].Path)
	require.NotNil(t, stacks[0].LastEvent)
	assert.Equal(t, "Stack discovered at svc-a/docker-compose.yml", stacks[0].LastEvent.Message)

	rr := ts.request("GET", "/api/v1/stacks/"+stacks[0].ID, nil, bootstrapKey)
	require.Equal(t, http.StatusOK, rr.Code)
	detail := decode[domain.StackDetail](t, rr)
	assert.Equal(t, []string{"web", "worker"}, detail.Services)
	assert.NotEmpty(t, detail.Events)

	etag := rr.Header().Get("ETag")
	require.NotEmpty(t, etag)
	req := httptest.NewRequest("GET", "/api/v1/stacks/"+stacks[0].ID, nil)
	req.Header.Set("Authorization", "Bearer "+bootstrapKey)
	req.Header.Set("If-None-Match", etag)
	rr = httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotModified, rr.Code)

	rr = ts.request("GET", "/api/v1/stacks/"+stacks[0].ID+"/events?limit=1", nil, bootstrapKey)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]*domain.Event](t, rr), 1)

	rr = ts.request("GET", "/api/v1/stacks/does-not-exist", nil, bootstrapKey)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCreateStack(t *testing.T) {
	ts := newTestServer(t, "")

	req := domain.CreateStackRequest{Name: "svc-c", Path: "svc-c/compose.yml"}
	rr := ts.request("POST", "/api/v1/stacks", req, bootstrapKey)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	stack := decode[domain.Stack](t, rr)
	assert.Equal(t, domain.StackStatusCreated, stack.Status)

	rr = ts.request("POST", "/api/v1/stacks", req, bootstrapKey)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = ts.request("POST", "/api/v1/stacks", domain.CreateStackRequest{Name: "x", Path: "../x/compose.yml"}, bootstrapKey)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestBringUpStack(t *testing.T) {
	ts := newTestServer(t, "")
	stacks := ts.sync(t)

	rr := ts.request("POST", "/api/v1/stacks/"+stacks[1].ID+"/up", nil, bootstrapKey)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	result := decode[domain.DeployResult](t, rr)
	assert.True(t, result.Success)
	assert.Equal(t, "svc-b", result.Stack)
	assert.Equal(t, 1, ts.runner.Count("docker compose up"))
}

func TestEventsPaging(t *testing.T) {
	ts := newTestServer(t, "")
	ts.sync(t)

	rr := ts.request("GET", "/api/v1/events?page=1&pageSize=2", nil, bootstrapKey)
	require.Equal(t, http.StatusOK, rr.Code)
	page := decode[domain.EventPage](t, rr)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 2, page.PageSize)
	assert.Len(t, page.Events, 2)
	assert.GreaterOrEqual(t, page.Total, 4)
	assert.Greater(t, page.Events[0].ID, page.Events[1].ID)
}

func TestContainers(t *testing.T) {
	ts := newTestServer(t, "")
	ts.runner.On("docker container ls", processtest.Succeed(
		`{"ID":"0123456789abcdef","Names":"svc-a-web-1","Image":"nginx","State":"running","Status":"Up 2 minutes"}`+"\n"))

	rr := ts.request("GET", "/api/v1/containers", nil, bootstrapKey)
	require.Equal(t, http.StatusOK, rr.Code)
	containers := decode[[]*domain.Container](t, rr)
	require.Len(t, containers, 1)
	assert.Equal(t, "svc-a-web-1", containers[0].Names)

	rr = ts.request("POST", "/api/v1/containers/svc-a-web-1/stop", nil, bootstrapKey)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, 1, ts.runner.Count("docker stop svc-a-web-1"))

	rr = ts.request("POST", "/api/v1/containers/svc-a-web-1/explode", nil, bootstrapKey)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = ts.request("POST", "/api/v1/containers/-rf/remove", nil, bootstrapKey)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	ts.runner.On("docker restart", processtest.Fail(1, "Error: No such container: ghost"))
	rr = ts.request("POST", "/api/v1/containers/ghost/restart", nil, bootstrapKey)
	assert.Equal(t, http.StatusBadGateway, rr.Code)
}

func pushPayload() domain.PushEvent {
	return domain.PushEvent{
		Ref:   "refs/heads/main",
		After: "abc123",
		Commits: []domain.Commit{
			{ID: "abc123", Modified: []string{"svc-a/docker-compose.yml", "README.md"}},
		},
	}
}

func (ts *testServer) waitForDeploy(t *testing.T, stack string) {
	t.Helper()
	require.Eventually(t, func() bool {
		evs, _ := ts.store.ListStackEvents(context.Background(), stack, 10)
		for _, ev := range evs {
			if ev.Kind == domain.EventSuccess {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWebhookWithAPIKey(t *testing.T) {
	ts := newTestServer(t, "")

	rr := ts.request("POST", "/api/v1/webhook", pushPayload(), "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = ts.request("POST", "/api/v1/webhook", pushPayload(), bootstrapKey)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	body := decode[map[string]any](t, rr)
	assert.EqualValues(t, 2, body["paths"])
	assert.Equal(t, false, body["merged"])

	ts.waitForDeploy(t, "svc-a")
	assert.Equal(t, 1, ts.runner.Count("docker compose up"))
}

func TestWebhookDuringShutdown(t *testing.T) {
	ts := newTestServer(t, "")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ts.pipeline.Shutdown(ctx))

	rr := ts.request("POST", "/api/v1/webhook", pushPayload(), bootstrapKey)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Zero(t, ts.runner.Count("git"))
}

func TestWebhookSignature(t *testing.T) {
	const secret = "s3cret"
	ts := newTestServer(t, secret)
	body, _ := json.Marshal(pushPayload())

	send := func(sig, event string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/api/v1/webhook", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if sig != "" {
			req.Header.Set(auth.SignatureHeader, sig)
		}
		if event != "" {
			req.Header.Set("X-GitHub-Event", event)
		}
		rr := httptest.NewRecorder()
		ts.handler.ServeHTTP(rr, req)
		return rr
	}

	assert.Equal(t, http.StatusUnauthorized, send("", "push").Code)
	assert.Equal(t, http.StatusUnauthorized, send(auth.Sign("wrong", body), "push").Code)

	rr := send(auth.Sign(secret, body), "ping")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 0, ts.runner.Count("git"))

	rr = send(auth.Sign(secret, body), "push")
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	ts.waitForDeploy(t, "svc-a")
}

func TestWebhookRejectsMalformedPayload(t *testing.T) {
	ts := newTestServer(t, "")

	req := httptest.NewRequest("POST", "/api/v1/webhook", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Authorization", "Bearer "+bootstrapKey)
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
