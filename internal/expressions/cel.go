package expressions

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/rendis/jobflow/pkg/schema"
)

// CELEngine evaluates Common Expression Language conditions for deciders
// and step exit-status mappings.
type CELEngine struct {
	env   *cel.Env
	cache *programCache[cel.Program]
}

// celMaps are the map-typed variables of the environment, matching Scope.
var celMaps = []string{"params", "outputs", "execution"}

// NewCELEngine creates a new CEL expression engine with a sandboxed environment.
// The environment exposes the Scope variables:
//   - params:    map(string, dyn): job parameters
//   - outputs:   map(string, dyn): outputs of the nodes that ran so far
//   - execution: map(string, dyn): execution metadata (id, job)
//   - status:    string: the status being mapped, empty for deciders
func NewCELEngine() (*CELEngine, error) {
	mapType := cel.MapType(cel.StringType, cel.DynType)

	opts := make([]cel.EnvOption, 0, len(celMaps)+1)
	for _, name := range celMaps {
		opts = append(opts, cel.Variable(name, mapType))
	}
	opts = append(opts, cel.Variable("status", cel.StringType))

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	return &CELEngine{
		env:   env,
		cache: newProgramCache[cel.Program](),
	}, nil
}

func (e *CELEngine) Name() string { return "cel" }

// Evaluate compiles (or retrieves from cache) a CEL expression and evaluates it
// against the provided data.
func (e *CELEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty CEL expression")
	}

	prg, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	out, _, err := prg.ContextEval(ctx, buildActivation(data))
	if err != nil {
		return nil, evalError(e.Name(), expression, err)
	}

	return out.Value(), nil
}

// Compile checks an expression without evaluating it.
func (e *CELEngine) Compile(expression string) error {
	_, err := e.getOrCompile(expression)
	return err
}

func (e *CELEngine) getOrCompile(expression string) (cel.Program, error) {
	return e.cache.get(expression, func() (cel.Program, error) {
		ast, issues := e.env.Compile(expression)
		if issues != nil && issues.Err() != nil {
			return nil, compileError(e.Name(), expression, issues.Err())
		}
		prg, err := e.env.Program(ast)
		if err != nil {
			return nil, compileError(e.Name(), expression, err)
		}
		return prg, nil
	})
}

// buildActivation fills in missing variables so expressions over an empty
// scope fail on logic, not on unbound names.
func buildActivation(data map[string]any) map[string]any {
	activation := make(map[string]any, len(celMaps)+1)
	for _, key := range celMaps {
		if v, ok := data[key]; ok && v != nil {
			activation[key] = v
		} else {
			activation[key] = map[string]any{}
		}
	}
	status, _ := data["status"].(string)
	activation["status"] = status
	return activation
}

var _ Engine = (*CELEngine)(nil)
