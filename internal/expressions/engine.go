package expressions

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rendis/jobflow/pkg/schema"
)

// Engine evaluates expressions against a job scope.
// Three implementations: CEL (conditions), GoJQ (transforms), Expr (logic).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// DefaultEngine is used when a definition does not name one.
const DefaultEngine = "cel"

// Engines holds one instance of every expression engine by name.
type Engines struct {
	byName map[string]Engine
}

// NewEngines creates the CEL, Expr and jq engines.
func NewEngines() (*Engines, error) {
	cel, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	e := &Engines{byName: make(map[string]Engine, 3)}
	for _, eng := range []Engine{cel, NewExprEngine(), NewGoJQEngine()} {
		e.byName[eng.Name()] = eng
	}
	return e, nil
}

// Get returns the engine registered under name, or the default for "".
func (e *Engines) Get(name string) (Engine, error) {
	if name == "" {
		name = DefaultEngine
	}
	eng, ok := e.byName[strings.ToLower(name)]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"unknown expression engine %q; available: %s", name, strings.Join(e.Names(), ", "))
	}
	return eng, nil
}

// Has reports whether an engine is registered under name.
func (e *Engines) Has(name string) bool {
	_, ok := e.byName[strings.ToLower(name)]
	return ok
}

// Names lists the registered engines, sorted.
func (e *Engines) Names() []string {
	names := make([]string, 0, len(e.byName))
	for n := range e.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// EvaluateStatus runs expression on the named engine and converts the result
// to a status string. Booleans become "true"/"false".
func (e *Engines) EvaluateStatus(ctx context.Context, engine, expression string, scope *Scope) (schema.ExitStatus, error) {
	eng, err := e.Get(engine)
	if err != nil {
		return "", err
	}
	out, err := eng.Evaluate(ctx, expression, scope.Data())
	if err != nil {
		return "", err
	}
	var status string
	switch v := out.(type) {
	case string:
		status = v
	case nil:
		return "", schema.NewErrorf(schema.ErrCodeExpression, "expression %q produced no value", expression)
	default:
		status = fmt.Sprint(v)
	}
	if status == "" {
		return "", schema.NewErrorf(schema.ErrCodeExpression, "expression %q produced an empty status", expression)
	}
	return schema.ExitStatus(status), nil
}
