package catalog

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/jobflow/internal/actions"
	"github.com/rendis/jobflow/internal/deciders"
	"github.com/rendis/jobflow/internal/engine"
	"github.com/rendis/jobflow/internal/expressions"
	"github.com/rendis/jobflow/internal/store"
	"github.com/rendis/jobflow/pkg/schema"
)

func newCatalog(t *testing.T, src deciders.RandomSource) (*Catalog, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	reg := actions.NewRegistry()
	require.NoError(t, actions.RegisterBuiltins(reg, actions.BuiltinConfig{Output: &out, Logger: logger}))
	engines, err := expressions.NewEngines()
	require.NoError(t, err)

	c, err := New(Config{
		Actions:  reg,
		Deciders: deciders.NewRegistry(src, engines),
		Engines:  engines,
		Logger:   logger,
	})
	require.NoError(t, err)
	return c, &out
}

const routingYAML = `
name: shipJob
start: check
parameters:
  type: object
  required: [mode]
nodes:
  - id: check
    type: decider
    decider: param
    config:
      name: mode
    transitions:
      - on: EXPRESS
        to: express
      - on: "*"
        to: standard
  - id: express
    action: log
    params:
      message: express ${{params.mode}}
    exit_status:
      engine: expr
      expression: 'status == "COMPLETED" ? "SHIPPED" : status'
    transitions:
      - on: SHIPPED
        end: true
  - id: standard
    action: exit
    params:
      status: SLOW
    transitions:
      - on: SLOW
        stop: true
`

func TestLoad_BuildsAndRuns(t *testing.T) {
	c, out := newCatalog(t, deciders.Fixed(0))
	jobs, err := c.LoadBytes([]byte(routingYAML), FormatYAML)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	j, ok := c.Job("shipJob")
	require.True(t, ok)
	assert.Same(t, jobs[0], j)
	assert.True(t, j.Restartable())
	assert.JSONEq(t, `{"type":"object","required":["mode"]}`, string(j.ParameterSchema()))

	eng := engine.NewEngine(store.NewMemoryStore())
	rec, err := eng.Run(context.Background(), j, map[string]string{"mode": "EXPRESS"})
	require.NoError(t, err)
	assert.Equal(t, schema.StatusCompleted, rec.FinalStatus)
	assert.Equal(t, []string{"check", "express"}, rec.Sequence())
	assert.Equal(t, schema.ExitStatus("SHIPPED"), rec.Steps[1].Status)
	assert.Equal(t, "express EXPRESS\n", out.String())

	rec, err = eng.Run(context.Background(), j, map[string]string{"mode": "GROUND"})
	require.NoError(t, err)
	assert.Equal(t, schema.StatusStopped, rec.FinalStatus)
	assert.Equal(t, []string{"check", "standard"}, rec.Sequence())
}

func TestLoad_JSON(t *testing.T) {
	c, _ := newCatalog(t, nil)
	doc := `{"flows":[{"name":"f","start":"a","nodes":[{"id":"a","action":"log","params":{"message":"hi"}}]}],
	         "jobs":[{"name":"j","start":"run","restartable":false,"nodes":[{"id":"run","type":"flow","flow":"f"}]}]}`
	jobs, err := c.LoadBytes([]byte(doc), FormatJSON)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.False(t, jobs[0].Restartable())

	single := `{"name":"solo","start":"a","nodes":[{"id":"a","action":"log","params":{"message":"hi"}}]}`
	jobs, err = c.LoadBytes([]byte(single), FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "solo", jobs[0].Name())
}

func TestLoad_CrossDocumentReferences(t *testing.T) {
	c, _ := newCatalog(t, nil)

	_, err := c.LoadBytes([]byte(`
name: billingJob
start: invoiceStep
nodes:
  - id: invoiceStep
    action: log
    params: {message: invoice}
`), FormatYAML)
	require.NoError(t, err)

	jobs, err := c.LoadBytes([]byte(`
name: orderJob
start: bill
nodes:
  - id: bill
    type: job
    job: billingJob
`), FormatYAML)
	require.NoError(t, err)

	rec, err := engine.NewEngine(store.NewMemoryStore()).Run(context.Background(), jobs[0], nil)
	require.NoError(t, err)
	assert.Equal(t, schema.StatusCompleted, rec.FinalStatus)
	assert.Equal(t, []string{"bill/invoiceStep", "bill"}, rec.Sequence())
}

func TestLoad_MultiDocumentYAML(t *testing.T) {
	c, _ := newCatalog(t, nil)
	jobs, err := c.LoadBytes([]byte(`
flows:
  - name: f
    start: a
    nodes:
      - id: a
        action: log
        params: {message: a}
---
name: j
start: s
nodes:
  - id: s
    type: split
    flows: [f]
`), FormatYAML)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "j", jobs[0].Name())
}

func TestLoad_RejectsInvalid(t *testing.T) {
	tests := map[string]struct {
		yaml string
		code string
	}{
		"unknown action": {`
name: j
start: a
nodes:
  - id: a
    action: teleport
`, schema.ErrCodeNotFound},
		"ambiguous": {`
name: j
start: a
nodes:
  - id: a
    action: log
    params: {message: x}
    transitions:
      - {on: COMPLETED, end: true}
      - {on: COMPLETED, fail: true}
`, schema.ErrCodeAmbiguousTransition},
		"cycle": {`
name: j
start: a
nodes:
  - id: a
    action: log
    params: {message: x}
    transitions: [{on: "*", to: b}]
  - id: b
    action: log
    params: {message: y}
    transitions: [{on: "*", to: a}]
`, schema.ErrCodeCycleDetected},
		"recursive job": {`
name: j
start: a
nodes:
  - id: a
    type: job
    job: j
`, schema.ErrCodeCycleDetected},
		"bad yaml": {"name: [", schema.ErrCodeValidation},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			c, _ := newCatalog(t, nil)
			_, err := c.LoadBytes([]byte(tt.yaml), FormatYAML)
			require.Error(t, err)
			assert.True(t, schema.IsCode(err, tt.code), err.Error())
			assert.Empty(t, c.Jobs())
		})
	}
}

func TestLoad_FailedDocumentAddsNothing(t *testing.T) {
	c, _ := newCatalog(t, nil)
	_, err := c.LoadBytes([]byte(`
flows:
  - name: f
    start: a
    nodes:
      - {id: a, action: log, params: {message: a}}
jobs:
  - name: j
    start: a
    nodes:
      - {id: a, type: decider, decider: coinFlip}
`), FormatYAML)
	require.Error(t, err)

	_, err = c.LoadBytes([]byte(`
name: k
start: a
nodes:
  - {id: a, type: flow, flow: f}
`), FormatYAML)
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	write("b.yaml", "name: second\nstart: s\nnodes:\n  - {id: s, type: job, job: first}\n")
	write("a.yml", "name: first\nstart: s\nnodes:\n  - {id: s, action: log, params: {message: hi}}\n")
	write("notes.txt", "ignored")

	jobs, err := c2(t).LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "first", jobs[0].Name())
	assert.Equal(t, "second", jobs[1].Name())

	_, err = c2(t).LoadFile(filepath.Join(dir, "notes.txt"))
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func c2(t *testing.T) *Catalog {
	c, _ := newCatalog(t, nil)
	return c
}

func TestJobsSortedAndDefinition(t *testing.T) {
	c, _ := newCatalog(t, nil)
	_, err := c.LoadBytes([]byte(`
jobs:
  - {name: zeta, start: a, nodes: [{id: a, action: log, params: {message: z}}]}
  - {name: alpha, description: first, start: a, nodes: [{id: a, action: log, params: {message: a}}]}
`), FormatYAML)
	require.NoError(t, err)

	jobs := c.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "alpha", jobs[0].Name())
	assert.Equal(t, "first", jobs[0].Description())

	def, ok := c.Definition("zeta")
	require.True(t, ok)
	assert.Equal(t, "a", def.Start)

	assert.True(t, c.Validate(&schema.Document{}).HasCode(schema.ErrCodeValidation))
}

func TestFormatOf(t *testing.T) {
	f, ok := FormatOf("jobs/Deliver.YML")
	assert.True(t, ok)
	assert.Equal(t, FormatYAML, f)
	f, ok = FormatOf("x.json")
	assert.True(t, ok)
	assert.Equal(t, FormatJSON, f)
	_, ok = FormatOf("x.toml")
	assert.False(t, ok)
}

func TestLoad_RedefinitionConflicts(t *testing.T) {
	c, _ := newCatalog(t, nil)
	_, err := c.LoadBytes([]byte(`
flows:
  - name: f
    start: a
    nodes:
      - {id: a, action: log, params: {message: a}}
jobs:
  - name: j
    start: a
    nodes:
      - {id: a, action: log, params: {message: first}}
`), FormatYAML)
	require.NoError(t, err)

	tests := []struct {
		name string
		doc  string
	}{
		{"job", `
jobs:
  - name: other
    start: a
    nodes:
      - {id: a, action: log, params: {message: other}}
  - name: j
    start: b
    nodes:
      - {id: b, action: log, params: {message: second}}
`},
		{"flow", `
flows:
  - name: f
    start: z
    nodes:
      - {id: z, action: log, params: {message: z}}
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.LoadBytes([]byte(tt.doc), FormatYAML)
			assert.True(t, schema.IsCode(err, schema.ErrCodeConflict), "got %v", err)
		})
	}

	def, ok := c.Definition("j")
	require.True(t, ok)
	assert.Equal(t, "a", def.Start)
	_, ok = c.Job("other")
	assert.False(t, ok)
}
