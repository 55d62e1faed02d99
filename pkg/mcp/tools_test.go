package mcp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/jobflow/internal/actions"
	"github.com/rendis/jobflow/internal/catalog"
	"github.com/rendis/jobflow/internal/deciders"
	"github.com/rendis/jobflow/internal/engine"
	"github.com/rendis/jobflow/internal/expressions"
	"github.com/rendis/jobflow/internal/store"
	"github.com/rendis/jobflow/internal/streaming"
	"github.com/rendis/jobflow/pkg/schema"
)

const testDefinitions = `
flows:
  - name: noticeFlow
    start: notice
    nodes:
      - id: notice
        action: log
        params: {message: "notice for ${{params.order}}"}
jobs:
  - name: orderJob
    start: take
    parameters:
      type: object
      required: [order]
    nodes:
      - id: take
        action: log
        params: {message: "order ${{params.order}}"}
        transitions:
          - on: COMPLETED
            to: notify
      - id: notify
        type: flow
        flow: noticeFlow
  - name: brokenJob
    start: explode
    nodes:
      - id: explode
        action: fail
        params: {message: boom}
`

type recordingNotifier struct {
	mu    sync.Mutex
	calls []map[string]any
	ids   []string
}

func (n *recordingNotifier) Notify(_ context.Context, clientID string, payload map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ids = append(n.ids, clientID)
	n.calls = append(n.calls, payload)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

type testEnv struct {
	srv      *JobflowServer
	repo     *store.MemoryStore
	out      *bytes.Buffer
	notifier *recordingNotifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var out bytes.Buffer

	reg := actions.NewRegistry()
	require.NoError(t, actions.RegisterBuiltins(reg, actions.BuiltinConfig{Output: &out, Logger: logger}))
	engines, err := expressions.NewEngines()
	require.NoError(t, err)
	cat, err := catalog.New(catalog.Config{
		Actions:  reg,
		Deciders: deciders.NewRegistry(deciders.Fixed(0.1), engines),
		Engines:  engines,
		Logger:   logger,
	})
	require.NoError(t, err)
	jobs, err := cat.LoadBytes([]byte(testDefinitions), catalog.FormatYAML)
	require.NoError(t, err)

	repo := store.NewMemoryStore()
	hub := streaming.NewMemoryHub()
	eng := engine.NewEngine(repo, engine.WithEventHub(hub), engine.WithLogger(logger))
	l := engine.NewLauncher(eng, repo, engine.LauncherConfig{PoolSize: 2, Validator: cat.Validator(), Logger: logger})
	t.Cleanup(l.Shutdown)
	require.NoError(t, l.Register(jobs...))

	srv := NewJobflowServer(ServerDeps{
		Launcher: l,
		Catalog:  cat,
		Store:    repo,
		Hub:      hub,
		Logger:   logger,
	})
	n := &recordingNotifier{}
	srv.SetNotifier(n)
	return &testEnv{srv: srv, repo: repo, out: &out, notifier: n}
}

func callReq(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return tc.Text
}

func decode[T any](t *testing.T, res *mcp.CallToolResult) T {
	t.Helper()
	require.False(t, res.IsError, resultText(t, res))
	var v T
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &v))
	return v
}

func TestHandleLaunch(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.srv.handleLaunch(context.Background(), callReq("jobflow.launch", map[string]any{
		"job":    "orderJob",
		"params": map[string]any{"order": "A-17"},
	}))
	require.NoError(t, err)

	rec := decode[store.ExecutionRecord](t, res)
	assert.Equal(t, "orderJob", rec.JobName)
	assert.Equal(t, schema.StatusCompleted, rec.FinalStatus)
	assert.Equal(t, "A-17", rec.Parameters["order"])
	assert.Contains(t, env.out.String(), "notice for A-17")
}

func TestHandleLaunch_Errors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"missing job", map[string]any{}, "job is required"},
		{"unknown job", map[string]any{"job": "nope"}, "not found"},
		{"invalid params", map[string]any{"job": "orderJob"}, "launch failed"},
		{"nested param", map[string]any{"job": "orderJob", "params": map[string]any{"order": map[string]any{"id": 1}}}, "must be a scalar"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := env.srv.handleLaunch(ctx, callReq("jobflow.launch", tc.args))
			require.NoError(t, err)
			assert.True(t, res.IsError)
			assert.Contains(t, resultText(t, res), tc.want)
		})
	}
}

func TestHandleLaunch_AsyncNotifiesClient(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.srv.handleLaunch(context.Background(), callReq("jobflow.launch", map[string]any{
		"job":       "orderJob",
		"params":    map[string]any{"order": "B-2"},
		"async":     true,
		"client_id": "cli-1",
	}))
	require.NoError(t, err)
	queued := decode[map[string]any](t, res)
	id, _ := queued["execution_id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, true, queued["queued"])

	require.Eventually(t, func() bool { return env.notifier.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	env.notifier.mu.Lock()
	defer env.notifier.mu.Unlock()
	assert.Equal(t, "cli-1", env.notifier.ids[0])
	assert.Equal(t, id, env.notifier.calls[0]["execution_id"])
	assert.Equal(t, schema.EventExecutionCompleted, env.notifier.calls[0]["event_type"])
}

func TestHandleRestart(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.srv.handleRestart(ctx, callReq("jobflow.restart", map[string]any{"job": "brokenJob"}))
	require.NoError(t, err)
	assert.True(t, res.IsError, "nothing to restart yet")

	res, err = env.srv.handleLaunch(ctx, callReq("jobflow.launch", map[string]any{"job": "brokenJob"}))
	require.NoError(t, err)
	first := decode[store.ExecutionRecord](t, res)
	assert.Equal(t, schema.StatusFailed, first.FinalStatus)
	require.NotNil(t, first.Fault)

	res, err = env.srv.handleRestart(ctx, callReq("jobflow.restart", map[string]any{"job": "brokenJob"}))
	require.NoError(t, err)
	second := decode[store.ExecutionRecord](t, res)
	assert.Equal(t, first.ID, second.RestartOf)
	assert.Equal(t, schema.StatusFailed, second.FinalStatus)
}

func TestHandleStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.srv.handleLaunch(ctx, callReq("jobflow.launch", map[string]any{
		"job": "orderJob", "params": map[string]any{"order": "C-3"},
	}))
	require.NoError(t, err)
	launched := decode[store.ExecutionRecord](t, res)

	res, err = env.srv.handleStatus(ctx, callReq("jobflow.status", map[string]any{"execution_id": launched.ID}))
	require.NoError(t, err)
	got := decode[store.ExecutionRecord](t, res)
	assert.Equal(t, launched.ID, got.ID)
	assert.Equal(t, schema.ExecutionCompleted, got.Status)

	res, err = env.srv.handleStatus(ctx, callReq("jobflow.status", map[string]any{"execution_id": "missing"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestHandleDefine(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.srv.handleDefine(ctx, callReq("jobflow.define", map[string]any{
		"definition": map[string]any{
			"name":  "helloJob",
			"start": "hello",
			"nodes": []any{
				map[string]any{"id": "hello", "action": "log", "params": map[string]any{"message": "hello"}},
			},
		},
	}))
	require.NoError(t, err)
	defined := decode[map[string][]string](t, res)
	assert.Equal(t, []string{"helloJob"}, defined["jobs"])

	res, err = env.srv.handleLaunch(ctx, callReq("jobflow.launch", map[string]any{"job": "helloJob"}))
	require.NoError(t, err)
	rec := decode[store.ExecutionRecord](t, res)
	assert.Equal(t, []string{"hello"}, rec.Sequence())

	res, err = env.srv.handleDefine(ctx, callReq("jobflow.define", map[string]any{
		"definition": map[string]any{
			"name":  "badJob",
			"start": "a",
			"nodes": []any{
				map[string]any{"id": "a", "action": "log", "params": map[string]any{"message": "a"},
					"transitions": []any{
						map[string]any{"on": "COMPLETED", "end": true},
						map[string]any{"on": "COMPLETED", "fail": true},
					}},
			},
		},
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestHandleDefine_RedefinitionLeavesNothingBehind(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	logNode := func(id string) map[string]any {
		return map[string]any{"id": id, "action": "log", "params": map[string]any{"message": id}}
	}
	doc := map[string]any{"jobs": []any{
		map[string]any{"name": "freshJob", "start": "a", "nodes": []any{logNode("a")}},
		map[string]any{"name": "orderJob", "start": "other", "nodes": []any{logNode("other")}},
	}}

	res, err := env.srv.handleDefine(ctx, callReq("jobflow.define", map[string]any{"definition": doc}))
	require.NoError(t, err)
	require.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "CONFLICT")

	def, ok := env.srv.catalog.Definition("orderJob")
	require.True(t, ok)
	assert.Equal(t, "take", def.Start)
	_, ok = env.srv.catalog.Job("freshJob")
	assert.False(t, ok)
	_, ok = env.srv.launcher.Job("freshJob")
	assert.False(t, ok)

	res, err = env.srv.handleDefine(ctx, callReq("jobflow.define", map[string]any{
		"definition": map[string]any{"name": "freshJob", "start": "a", "nodes": []any{logNode("a")}},
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Equal(t, []string{"freshJob"}, decode[map[string][]string](t, res)["jobs"])
}

func TestHandleQuery(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, order := range []string{"1", "2"} {
		res, err := env.srv.handleLaunch(ctx, callReq("jobflow.launch", map[string]any{
			"job": "orderJob", "params": map[string]any{"order": order},
		}))
		require.NoError(t, err)
		require.False(t, res.IsError)
	}
	res, err := env.srv.handleLaunch(ctx, callReq("jobflow.launch", map[string]any{"job": "brokenJob"}))
	require.NoError(t, err)
	broken := decode[store.ExecutionRecord](t, res)

	t.Run("jobs", func(t *testing.T) {
		res, err := env.srv.handleQuery(ctx, callReq("jobflow.query", map[string]any{"resource": "jobs"}))
		require.NoError(t, err)
		got := decode[map[string][]jobInfo](t, res)
		require.Len(t, got["jobs"], 2)
		assert.Equal(t, "brokenJob", got["jobs"][0].Name)
		assert.Equal(t, "take", got["jobs"][1].Start)
	})

	t.Run("actions", func(t *testing.T) {
		res, err := env.srv.handleQuery(ctx, callReq("jobflow.query", map[string]any{"resource": "actions"}))
		require.NoError(t, err)
		require.False(t, res.IsError)
		got := decode[map[string][]actions.ActionInfo](t, res)
		var names []string
		for _, a := range got["actions"] {
			names = append(names, a.Name)
		}
		assert.Contains(t, names, "put")
		assert.Contains(t, names, "fail")
		assert.IsIncreasing(t, names)
	})

	t.Run("executions by job", func(t *testing.T) {
		res, err := env.srv.handleQuery(ctx, callReq("jobflow.query", map[string]any{
			"resource": "executions",
			"filter":   map[string]any{"job": "orderJob"},
		}))
		require.NoError(t, err)
		got := decode[map[string][]store.ExecutionRecord](t, res)
		assert.Len(t, got["executions"], 2)
	})

	t.Run("executions by status", func(t *testing.T) {
		res, err := env.srv.handleQuery(ctx, callReq("jobflow.query", map[string]any{
			"resource": "executions",
			"filter":   map[string]any{"status": "FAILED", "limit": float64(10)},
		}))
		require.NoError(t, err)
		got := decode[map[string][]store.ExecutionRecord](t, res)
		require.Len(t, got["executions"], 1)
		assert.Equal(t, broken.ID, got["executions"][0].ID)
	})

	t.Run("bad status", func(t *testing.T) {
		res, err := env.srv.handleQuery(ctx, callReq("jobflow.query", map[string]any{
			"resource": "executions",
			"filter":   map[string]any{"status": "DONE"},
		}))
		require.NoError(t, err)
		assert.True(t, res.IsError)
	})

	t.Run("events", func(t *testing.T) {
		res, err := env.srv.handleQuery(ctx, callReq("jobflow.query", map[string]any{
			"resource": "events",
			"filter":   map[string]any{"execution_id": broken.ID, "event_type": schema.EventExecutionFailed},
		}))
		require.NoError(t, err)
		got := decode[map[string][]store.Event](t, res)
		require.Len(t, got["events"], 1)
		assert.Equal(t, broken.ID, got["events"][0].ExecutionID)
	})

	t.Run("events need execution", func(t *testing.T) {
		res, err := env.srv.handleQuery(ctx, callReq("jobflow.query", map[string]any{"resource": "events"}))
		require.NoError(t, err)
		assert.True(t, res.IsError)
	})

	t.Run("unknown resource", func(t *testing.T) {
		res, err := env.srv.handleQuery(ctx, callReq("jobflow.query", map[string]any{"resource": "templates"}))
		require.NoError(t, err)
		assert.True(t, res.IsError)
	})
}

func TestHandleDiagram(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.srv.handleDiagram(ctx, callReq("jobflow.diagram", map[string]any{"job": "orderJob", "format": "mermaid"}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	text := resultText(t, res)
	assert.Contains(t, text, "graph TD")
	assert.Contains(t, text, "take")

	res, err = env.srv.handleLaunch(ctx, callReq("jobflow.launch", map[string]any{
		"job": "orderJob", "params": map[string]any{"order": "D"},
	}))
	require.NoError(t, err)
	rec := decode[store.ExecutionRecord](t, res)

	res, err = env.srv.handleDiagram(ctx, callReq("jobflow.diagram", map[string]any{"execution_id": rec.ID, "format": "ascii"}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Contains(t, resultText(t, res), "take")

	res, err = env.srv.handleDiagram(ctx, callReq("jobflow.diagram", map[string]any{"job": "orderJob", "format": "image"}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	png, err := base64.StdEncoding.DecodeString(resultText(t, res))
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), png[:4])

	res, err = env.srv.handleDiagram(ctx, callReq("jobflow.diagram", map[string]any{"format": "mermaid"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = env.srv.handleDiagram(ctx, callReq("jobflow.diagram", map[string]any{"job": "orderJob", "format": "gif"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}
