package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/jobflow/pkg/schema"
)

type fakeContext struct {
	params  map[string]string
	outputs map[string]any
}

func (f *fakeContext) ExecutionID() string { return "exec-1" }
func (f *fakeContext) JobName() string     { return "deliverPackageJob" }
func (f *fakeContext) Param(key string) (string, bool) {
	v, ok := f.params[key]
	return v, ok
}
func (f *fakeContext) Params() map[string]string { return f.params }
func (f *fakeContext) Output(key string) (any, bool) {
	v, ok := f.outputs[key]
	return v, ok
}
func (f *fakeContext) Outputs() map[string]any { return f.outputs }

func testScope() *Scope {
	return NewScope(&fakeContext{
		params: map[string]string{"item": "flowers", "run.date": "2024-01-01"},
		outputs: map[string]any{
			"invoice": map[string]any{"number": "INV-7", "total": 12.5},
			"count":   3,
		},
	})
}

func newEngines(t *testing.T) *Engines {
	t.Helper()
	e, err := NewEngines()
	require.NoError(t, err)
	return e
}

func TestEngines_Names(t *testing.T) {
	e := newEngines(t)
	assert.Equal(t, []string{"cel", "expr", "jq"}, e.Names())

	eng, err := e.Get("")
	require.NoError(t, err)
	assert.Equal(t, DefaultEngine, eng.Name())

	eng, err = e.Get("JQ")
	require.NoError(t, err)
	assert.Equal(t, "jq", eng.Name())

	_, err = e.Get("lua")
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestEvaluateStatus_CEL(t *testing.T) {
	e := newEngines(t)
	scope := testScope()

	status, err := e.EvaluateStatus(context.Background(), "cel",
		`params.item == "flowers" ? "TRIM_REQUIRED" : "NO_TRIM_REQUIRED"`, scope)
	require.NoError(t, err)
	assert.Equal(t, schema.ExitStatus("TRIM_REQUIRED"), status)

	status, err = e.EvaluateStatus(context.Background(), "cel",
		`status == "FAILED" ? "RETRY" : status`, scope.WithStatus(schema.StatusFailed))
	require.NoError(t, err)
	assert.Equal(t, schema.ExitStatus("RETRY"), status)
}

func TestEvaluateStatus_Expr(t *testing.T) {
	e := newEngines(t)
	status, err := e.EvaluateStatus(context.Background(), "expr",
		`outputs.count > 2 ? "MANY" : "FEW"`, testScope())
	require.NoError(t, err)
	assert.Equal(t, schema.ExitStatus("MANY"), status)
}

func TestEvaluateStatus_JQ(t *testing.T) {
	e := newEngines(t)
	status, err := e.EvaluateStatus(context.Background(), "jq",
		`.outputs.invoice.number`, testScope())
	require.NoError(t, err)
	assert.Equal(t, schema.ExitStatus("INV-7"), status)
}

func TestEvaluateStatus_BooleanIsStringified(t *testing.T) {
	e := newEngines(t)
	status, err := e.EvaluateStatus(context.Background(), "cel", `params.item == "flowers"`, testScope())
	require.NoError(t, err)
	assert.Equal(t, schema.ExitStatus("true"), status)
}

func TestEvaluateStatus_Errors(t *testing.T) {
	e := newEngines(t)
	ctx := context.Background()

	_, err := e.EvaluateStatus(ctx, "cel", `params.item ==`, testScope())
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = e.EvaluateStatus(ctx, "cel", `params.missing`, testScope())
	assert.True(t, schema.IsCode(err, schema.ErrCodeExpression))

	_, err = e.EvaluateStatus(ctx, "jq", `.outputs.nothing`, testScope())
	assert.True(t, schema.IsCode(err, schema.ErrCodeExpression))

	_, err = e.EvaluateStatus(ctx, "cel", `""`, testScope())
	assert.True(t, schema.IsCode(err, schema.ErrCodeExpression))
}

func TestCELEngine_Compile(t *testing.T) {
	eng, err := NewCELEngine()
	require.NoError(t, err)
	assert.NoError(t, eng.Compile(`status == "COMPLETED"`))
	assert.Error(t, eng.Compile(`unknownVar > 1`))
}

func TestCELEngine_EmptyScope(t *testing.T) {
	eng, err := NewCELEngine()
	require.NoError(t, err)
	out, err := eng.Evaluate(context.Background(), `size(outputs) == 0 && status == ""`, nil)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestGoJQEngine_EvaluateAll(t *testing.T) {
	eng := NewGoJQEngine()
	out, err := eng.EvaluateAll(context.Background(), `.items[]`, map[string]any{
		"items": []any{"a", "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, out)

	single, err := eng.Evaluate(context.Background(), `.n + 1`, map[string]any{"n": int64(2)})
	require.NoError(t, err)
	assert.Equal(t, float64(3), single)
}

func TestGoJQEngine_NoEnvironment(t *testing.T) {
	eng := NewGoJQEngine()
	out, err := eng.Evaluate(context.Background(), `$ENV | length`, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, 0, out)
}

func TestScope_SnapshotIsIsolated(t *testing.T) {
	outputs := map[string]any{"invoice": map[string]any{"number": "INV-1"}}
	scope := NewScope(&fakeContext{params: map[string]string{}, outputs: outputs})

	outputs["invoice"].(map[string]any)["number"] = "INV-2"
	assert.Equal(t, "INV-1", scope.Outputs["invoice"].(map[string]any)["number"])

	data := scope.Data()
	assert.Equal(t, "exec-1", data["execution"].(map[string]any)["id"])
	assert.Equal(t, "deliverPackageJob", data["execution"].(map[string]any)["job"])
	assert.Equal(t, "", data["status"])
}
