package deciders

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rendis/jobflow/internal/expressions"
	"github.com/rendis/jobflow/internal/job"
	"github.com/rendis/jobflow/pkg/schema"
)

// Factory builds a decision from the config block of a decider definition.
type Factory func(config map[string]any) (job.Decision, error)

// Registry maps decider names used in definitions to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates a registry with the built-in deciders. src feeds the
// random classifiers; engines serves expression deciders.
func NewRegistry(src RandomSource, engines *expressions.Engines) *Registry {
	if src == nil {
		src = DefaultSource
	}
	r := &Registry{factories: make(map[string]Factory)}
	r.factories["itemValidator"] = func(map[string]any) (job.Decision, error) {
		return ItemValidator(src), nil
	}
	r.factories["deliveryDecider"] = func(map[string]any) (job.Decision, error) {
		return DeliveryDecider(src), nil
	}
	r.factories["threshold"] = func(cfg map[string]any) (job.Decision, error) {
		return thresholdFromConfig(cfg, src)
	}
	r.factories["param"] = paramFromConfig
	if engines != nil {
		r.factories["expression"] = func(cfg map[string]any) (job.Decision, error) {
			expr, _ := cfg["expression"].(string)
			engine, _ := cfg["engine"].(string)
			return NewExpression(engines, engine, expr)
		}
	}
	return r
}

// Register adds a factory. Returns CONFLICT on a duplicate name.
func (r *Registry) Register(name string, f Factory) error {
	if name == "" || f == nil {
		return schema.NewError(schema.ErrCodeValidation, "decider name and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "decider %q already registered", name)
	}
	r.factories[name] = f
	return nil
}

// Build creates the decision registered under name.
func (r *Registry) Build(name string, config map[string]any) (job.Decision, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "decider %q not registered", name).
			WithDetails(map[string]any{"decider": name, "available": r.Names()})
	}
	d, err := f(config)
	if err != nil {
		return nil, fmt.Errorf("decider %q: %w", name, err)
	}
	return d, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// Names lists registered deciders, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func paramFromConfig(cfg map[string]any) (job.Decision, error) {
	name, _ := cfg["name"].(string)
	if name == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "param decider requires config.name")
	}
	def, _ := cfg["default"].(string)
	return &Param{Name: name, Default: schema.ExitStatus(def)}, nil
}

func thresholdFromConfig(cfg map[string]any, src RandomSource) (job.Decision, error) {
	var cut float64
	switch v := cfg["cut"].(type) {
	case float64:
		cut = v
	case int:
		cut = float64(v)
	default:
		return nil, schema.NewError(schema.ErrCodeValidation, "threshold decider requires numeric config.cut")
	}
	if cut < 0 || cut > 1 {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "threshold cut %v outside [0, 1]", cut)
	}
	below, _ := cfg["below"].(string)
	above, _ := cfg["above"].(string)
	if below == "" || above == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "threshold decider requires config.below and config.above")
	}
	return &Threshold{Cut: cut, Below: schema.ExitStatus(below), Above: schema.ExitStatus(above), Src: src}, nil
}
