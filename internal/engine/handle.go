package engine

import (
	"maps"
	"sync"

	"github.com/rendis/jobflow/internal/job"
	"github.com/rendis/jobflow/internal/store"
	"github.com/rendis/jobflow/pkg/schema"
)

// stepHandle is the job.Handle of one step invocation. It is closed when the
// action returns; Set after that is ignored and Commit fails.
type stepHandle struct {
	mu        sync.Mutex
	outputs   map[string]any
	committed bool
	closed    bool
	status    schema.ExitStatus
	effect    store.SideEffect
}

var _ job.Handle = (*stepHandle)(nil)

func newStepHandle() *stepHandle {
	return &stepHandle{outputs: map[string]any{}}
}

func (h *stepHandle) Set(key string, value any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.outputs[key] = value
}

func (h *stepHandle) Commit(status schema.ExitStatus, effect store.SideEffect) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch {
	case h.closed:
		return schema.NewError(schema.ErrCodeHandleUsed, "handle used after the step returned")
	case h.committed:
		return schema.NewError(schema.ErrCodeHandleUsed, "handle already committed")
	case status == "":
		return schema.NewError(schema.ErrCodeValidation, "commit requires a status")
	}
	h.committed = true
	h.status = status
	h.effect = effect
	return nil
}

func (h *stepHandle) close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
}

// result returns what the action staged. Without a Commit the step
// completes with COMPLETED and no side effect.
func (h *stepHandle) result() (schema.ExitStatus, map[string]any, store.SideEffect) {
	h.mu.Lock()
	defer h.mu.Unlock()
	status := schema.StatusCompleted
	if h.committed {
		status = h.status
	}
	var outputs map[string]any
	if len(h.outputs) > 0 {
		outputs = maps.Clone(h.outputs)
	}
	return status, outputs, h.effect
}
