package engine

import (
	"maps"
	"sync"

	"dario.cat/mergo"

	"github.com/rendis/jobflow/internal/job"
)

// execContext is the ExecutionContext handed to nodes. Outputs written during
// a run land in overlay; base is a frozen copy of what the enclosing scope
// had produced when this context was forked for a split branch or a nested job.
type execContext struct {
	executionID string
	jobName     string
	params      map[string]string

	mu      sync.RWMutex
	base    map[string]any
	overlay map[string]any
}

var _ job.ExecutionContext = (*execContext)(nil)

func newExecContext(executionID, jobName string, params map[string]string) *execContext {
	return &execContext{
		executionID: executionID,
		jobName:     jobName,
		params:      maps.Clone(params),
		base:        map[string]any{},
		overlay:     map[string]any{},
	}
}

func (c *execContext) ExecutionID() string { return c.executionID }
func (c *execContext) JobName() string     { return c.jobName }

func (c *execContext) Param(key string) (string, bool) {
	v, ok := c.params[key]
	return v, ok
}

func (c *execContext) Params() map[string]string {
	return maps.Clone(c.params)
}

func (c *execContext) Output(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.overlay[key]; ok {
		return v, true
	}
	v, ok := c.base[key]
	return v, ok
}

// Outputs returns base and overlay flattened into a fresh map.
func (c *execContext) Outputs() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.base)+len(c.overlay))
	maps.Copy(out, c.base)
	maps.Copy(out, c.overlay)
	return out
}

// set publishes the outputs of a completed node. Later writes win.
func (c *execContext) set(values map[string]any) {
	if len(values) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	maps.Copy(c.overlay, values)
}

// fork returns a context for a split branch or a nested job. It sees every
// output produced so far but writes only to its own overlay.
func (c *execContext) fork(executionID, jobName string) *execContext {
	child := newExecContext(executionID, jobName, c.params)
	child.base = c.Outputs()
	return child
}

// join folds the overlays of forked contexts back in the given order, so
// for a key written by two branches the later branch wins.
func (c *execContext) join(children ...*execContext) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, child := range children {
		child.mu.RLock()
		src := maps.Clone(child.overlay)
		child.mu.RUnlock()
		if len(src) == 0 {
			continue
		}
		if err := mergo.Merge(&c.overlay, src, mergo.WithOverride); err != nil {
			// Still publish what the branch produced.
			maps.Copy(c.overlay, src)
			return err
		}
	}
	return nil
}
