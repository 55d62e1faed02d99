package actions

import (
	"sort"
	"sync"

	"github.com/rendis/jobflow/pkg/schema"
)

// Registry holds the actions step definitions can name. Safe for concurrent
// use; the catalog resolves every step against it.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]Action)}
}

// Register adds actions. Either all of them are added or, on a nil action,
// an empty name or a duplicate, none are.
func (r *Registry) Register(actions ...Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	batch := make(map[string]Action, len(actions))
	for _, a := range actions {
		if a == nil {
			return schema.NewError(schema.ErrCodeValidation, "action is nil")
		}
		name := a.Name()
		if name == "" {
			return schema.NewError(schema.ErrCodeValidation, "action name is empty")
		}
		_, registered := r.actions[name]
		_, repeated := batch[name]
		if registered || repeated {
			return schema.NewErrorf(schema.ErrCodeConflict, "action %q already registered", name)
		}
		batch[name] = a
	}
	for name, a := range batch {
		r.actions[name] = a
	}
	return nil
}

// Get retrieves an action by name.
func (r *Registry) Get(name string) (Action, error) {
	r.mu.RLock()
	a, ok := r.actions[name]
	r.mu.RUnlock()
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "action %q not registered", name).
			WithDetails(map[string]any{"action": name})
	}
	return a, nil
}

// Has implements the validation lookup for step definitions.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.actions[name]
	return ok
}

// List describes every registered action, sorted by name.
func (r *Registry) List() []ActionInfo {
	r.mu.RLock()
	infos := make([]ActionInfo, 0, len(r.actions))
	for name, a := range r.actions {
		s := a.Schema()
		infos = append(infos, ActionInfo{Name: name, Description: s.Description, InputSchema: s.InputSchema})
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Count returns the number of registered actions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.actions)
}
