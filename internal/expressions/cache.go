package expressions

import (
	"sync"

	"github.com/rendis/jobflow/pkg/schema"
)

// programCache memoizes compiled programs by expression text. Compilation
// happens at most once per expression; failures are not cached.
type programCache[P any] struct {
	mu    sync.RWMutex
	progs map[string]P
}

func newProgramCache[P any]() *programCache[P] {
	return &programCache[P]{progs: make(map[string]P)}
}

func (c *programCache[P]) get(expression string, compile func() (P, error)) (P, error) {
	c.mu.RLock()
	p, ok := c.progs[expression]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.progs[expression]; ok {
		return p, nil
	}
	p, err := compile()
	if err != nil {
		var zero P
		return zero, err
	}
	c.progs[expression] = p
	return p, nil
}

func (c *programCache[P]) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.progs)
}

// compileError reports an expression that does not compile: a definition
// problem, not a runtime one.
func compileError(engine, expression string, err error) *schema.JobflowError {
	return schema.NewErrorf(schema.ErrCodeValidation, "%s compile error in %q: %s", engine, expression, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"expression": expression, "engine": engine})
}

// evalError reports an expression that failed while running.
func evalError(engine, expression string, err error) *schema.JobflowError {
	return schema.NewErrorf(schema.ErrCodeExpression, "%s evaluation failed for %q: %s", engine, expression, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"expression": expression, "engine": engine})
}
