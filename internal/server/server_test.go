package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/jobflow/internal/engine"
	"github.com/rendis/jobflow/internal/job"
	"github.com/rendis/jobflow/internal/server"
	"github.com/rendis/jobflow/internal/store"
	"github.com/rendis/jobflow/internal/streaming"
	"github.com/rendis/jobflow/internal/validation"
	"github.com/rendis/jobflow/pkg/schema"
)

type testEnv struct {
	router   http.Handler
	launcher *engine.Launcher
	repo     *store.MemoryStore
	flaky    *atomic.Bool
}

func greet() job.Action {
	return job.ActionFunc(func(_ context.Context, ec job.ExecutionContext, h job.Handle) error {
		name, _ := ec.Param("name")
		h.Set("greeting", "hello "+name)
		return nil
	})
}

func testServer(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	repo := store.NewMemoryStore()
	hub := streaming.NewMemoryHub()
	eng := engine.NewEngine(repo, engine.WithEventHub(hub), engine.WithLogger(logger))
	v, err := validation.NewJSONSchemaValidator()
	require.NoError(t, err)
	l := engine.NewLauncher(eng, repo, engine.LauncherConfig{PoolSize: 2, Validator: v, Logger: logger})
	t.Cleanup(l.Shutdown)

	greetFlow, err := job.NewFlow("greetJob").Start(job.NewStep("greetStep", greet())).Build()
	require.NoError(t, err)

	flaky := &atomic.Bool{}
	flaky.Store(true)
	flakyFlow, err := job.NewFlow("flakyJob").
		Start(job.NewStep("prepareStep", greet())).
		Add(job.NewStep("sendStep", job.ActionFunc(func(context.Context, job.ExecutionContext, job.Handle) error {
			if flaky.Load() {
				return errors.New("mail server down")
			}
			return nil
		}))).
		Next("prepareStep", "sendStep").
		Build()
	require.NoError(t, err)

	onceFlow, err := job.NewFlow("onceJob").Start(job.NewStep("s", greet())).Build()
	require.NoError(t, err)

	require.NoError(t, l.Register(
		job.NewJob(greetFlow,
			job.WithDescription("says hello"),
			job.WithParameterSchema([]byte(`{"type":"object","required":["name"]}`))),
		job.NewJob(flakyFlow),
		job.NewJob(onceFlow, job.NotRestartable()),
	))

	srv := server.New(server.Deps{Launcher: l, Store: repo, Hub: hub, Logger: logger})
	return &testEnv{router: srv.Handler(), launcher: l, repo: repo, flaky: flaky}
}

func (env *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealthEndpoint(t *testing.T) {
	env := testServer(t)
	w := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	resp := decode[server.HealthResponse](t, w)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 3, resp.Jobs)
	assert.Equal(t, 2, resp.Pool.Size)
}

func TestListAndGetJobs(t *testing.T) {
	env := testServer(t)
	w := env.do(t, http.MethodGet, "/jobs", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[server.JobsListResponse](t, w)
	require.Equal(t, 3, resp.Count)
	assert.Equal(t, "flakyJob", resp.Jobs[0].Name)
	assert.Equal(t, []string{"prepareStep", "sendStep"}, resp.Jobs[0].Nodes)
	assert.False(t, resp.Jobs[2].Restartable)

	w = env.do(t, http.MethodGet, "/jobs/greetJob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	summary := decode[server.JobSummary](t, w)
	assert.Equal(t, "says hello", summary.Description)
	assert.True(t, summary.HasSchema)

	w = env.do(t, http.MethodGet, "/jobs/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, schema.ErrCodeNotFound, decode[server.ErrorResponse](t, w).Code)
}

func TestLaunchSync(t *testing.T) {
	env := testServer(t)
	w := env.do(t, http.MethodPost, "/jobs/greetJob/executions", server.LaunchRequest{
		Parameters: map[string]string{"name": "ada"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	rec := decode[store.ExecutionRecord](t, w)
	assert.Equal(t, schema.StatusCompleted, rec.FinalStatus)
	assert.Equal(t, "hello ada", rec.Steps[0].Outputs["greeting"])

	w = env.do(t, http.MethodGet, "/executions/"+rec.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, rec.ID, decode[store.ExecutionRecord](t, w).ID)
}

func TestLaunchSurvivesClientDisconnect(t *testing.T) {
	env := testServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest(http.MethodPost, "/jobs/onceJob/executions", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	rec := decode[store.ExecutionRecord](t, w)
	assert.Equal(t, schema.ExecutionCompleted, rec.Status)
	assert.Nil(t, rec.Fault)
}

func TestLaunchErrors(t *testing.T) {
	env := testServer(t)
	tests := map[string]struct {
		path   string
		body   any
		status int
		code   string
	}{
		"unknown job":       {"/jobs/nope/executions", nil, http.StatusNotFound, schema.ErrCodeNotFound},
		"missing parameter": {"/jobs/greetJob/executions", server.LaunchRequest{}, http.StatusBadRequest, schema.ErrCodeValidation},
		"bad body":          {"/jobs/greetJob/executions", "not an object", http.StatusBadRequest, schema.ErrCodeValidation},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decode[server.ErrorResponse](t, w).Code)
		})
	}
}

func TestLaunchAsync(t *testing.T) {
	env := testServer(t)
	w := env.do(t, http.MethodPost, "/jobs/greetJob/executions", server.LaunchRequest{
		Parameters: map[string]string{"name": "grace"},
		Async:      true,
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	resp := decode[server.LaunchedResponse](t, w)
	require.NotEmpty(t, resp.ExecutionID)

	env.launcher.Wait()
	rec, err := env.repo.GetExecution(context.Background(), resp.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionCompleted, rec.Status)
}

func TestRestart(t *testing.T) {
	env := testServer(t)
	w := env.do(t, http.MethodPost, "/jobs/flakyJob/executions", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	first := decode[store.ExecutionRecord](t, w)
	assert.Equal(t, schema.StatusFailed, first.FinalStatus)
	require.NotNil(t, first.Fault)
	assert.Equal(t, schema.ErrCodeStepFault, first.Fault.Code)

	env.flaky.Store(false)
	w = env.do(t, http.MethodPost, "/jobs/flakyJob/restart", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	second := decode[store.ExecutionRecord](t, w)
	assert.Equal(t, schema.StatusCompleted, second.FinalStatus)
	assert.Equal(t, first.ID, second.RestartOf)
	assert.Equal(t, schema.StepStatusReplayed, second.Steps[0].State)

	w = env.do(t, http.MethodPost, "/jobs/onceJob/restart", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, schema.ErrCodeNotRestartable, decode[server.ErrorResponse](t, w).Code)

	w = env.do(t, http.MethodPost, "/jobs/greetJob/restart", server.RestartRequest{Async: true})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListExecutions(t *testing.T) {
	env := testServer(t)
	env.do(t, http.MethodPost, "/jobs/greetJob/executions", server.LaunchRequest{Parameters: map[string]string{"name": "a"}})
	env.do(t, http.MethodPost, "/jobs/flakyJob/executions", nil)

	w := env.do(t, http.MethodGet, "/executions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, decode[server.ExecutionsListResponse](t, w).Count)

	w = env.do(t, http.MethodGet, "/executions?status=failed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[server.ExecutionsListResponse](t, w)
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "flakyJob", resp.Executions[0].JobName)

	w = env.do(t, http.MethodGet, "/executions?job=greetJob&limit=1", nil)
	assert.Equal(t, 1, decode[server.ExecutionsListResponse](t, w).Count)

	w = env.do(t, http.MethodGet, "/executions?status=sleeping", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/executions/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExecutionEvents(t *testing.T) {
	env := testServer(t)
	w := env.do(t, http.MethodPost, "/jobs/greetJob/executions", server.LaunchRequest{Parameters: map[string]string{"name": "a"}})
	rec := decode[store.ExecutionRecord](t, w)

	w = env.do(t, http.MethodGet, "/executions/"+rec.ID+"/events", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[server.EventsResponse](t, w)
	require.NotZero(t, resp.Count)
	assert.Equal(t, schema.EventExecutionStarted, resp.Events[0].Type)
	assert.Equal(t, schema.EventExecutionCompleted, resp.Events[resp.Count-1].Type)

	// The run is over, so the follow stream replays the backlog and closes.
	w = env.do(t, http.MethodGet, "/executions/"+rec.ID+"/events?follow=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	body := w.Body.String()
	assert.Contains(t, body, "event: "+schema.EventStepCompleted+"\n")
	assert.True(t, strings.HasPrefix(body, "event: "+schema.EventExecutionStarted+"\n"), body)
	assert.Contains(t, body, "event: "+schema.EventExecutionCompleted+"\n")
}

func TestDiagrams(t *testing.T) {
	env := testServer(t)
	w := env.do(t, http.MethodGet, "/jobs/flakyJob/diagram", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "graph TD")
	assert.Contains(t, w.Body.String(), `prepareStep -->|"COMPLETED"| sendStep`)

	w = env.do(t, http.MethodGet, "/jobs/flakyJob/diagram?format=ascii", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "=== flakyJob ===")

	w = env.do(t, http.MethodGet, "/jobs/flakyJob/diagram?format=gif", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/jobs/flakyJob/executions", nil)
	rec := decode[store.ExecutionRecord](t, w)
	w = env.do(t, http.MethodGet, "/executions/"+rec.ID+"/diagram", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "class sendStep failed")
}
