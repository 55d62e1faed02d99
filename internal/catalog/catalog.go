// Package catalog turns job definition documents into compiled jobs.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/rendis/jobflow/internal/actions"
	"github.com/rendis/jobflow/internal/deciders"
	"github.com/rendis/jobflow/internal/expressions"
	"github.com/rendis/jobflow/internal/job"
	"github.com/rendis/jobflow/internal/validation"
	"github.com/rendis/jobflow/pkg/schema"
)

// Config wires the registries definitions are resolved against.
type Config struct {
	Actions  *actions.Registry
	Deciders *deciders.Registry
	Engines  *expressions.Engines
	Logger   *slog.Logger
}

// Catalog holds every job and flow loaded so far. Documents may reference
// jobs and flows from documents loaded before them. Safe for concurrent use.
type Catalog struct {
	actions   *actions.Registry
	deciders  *deciders.Registry
	engines   *expressions.Engines
	validator *validation.DefinitionValidator
	logger    *slog.Logger

	mu       sync.RWMutex
	jobDefs  map[string]schema.JobDefinition
	flowDefs map[string]schema.FlowDefinition
	jobs     map[string]*job.Job
	flows    map[string]*job.Flow
}

// New creates an empty Catalog.
func New(cfg Config) (*Catalog, error) {
	if cfg.Actions == nil || cfg.Deciders == nil || cfg.Engines == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "catalog requires action, decider and engine registries")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	c := &Catalog{
		actions:  cfg.Actions,
		deciders: cfg.Deciders,
		engines:  cfg.Engines,
		logger:   cfg.Logger,
		jobDefs:  make(map[string]schema.JobDefinition),
		flowDefs: make(map[string]schema.FlowDefinition),
		jobs:     make(map[string]*job.Job),
		flows:    make(map[string]*job.Flow),
	}
	v, err := validation.NewDefinitionValidator(validation.Lookups{
		Actions:  cfg.Actions,
		Deciders: cfg.Deciders,
		Engines:  cfg.Engines,
		Jobs:     validation.LookupFunc(c.hasJob),
		Flows:    validation.LookupFunc(c.hasFlow),
	})
	if err != nil {
		return nil, err
	}
	c.validator = v
	return c, nil
}

// Validator returns the definition validator, which also validates launch
// parameters.
func (c *Catalog) Validator() *validation.DefinitionValidator {
	return c.validator
}

func (c *Catalog) hasJob(name string) bool {
	_, ok := c.jobDefs[name]
	return ok
}

func (c *Catalog) hasFlow(name string) bool {
	_, ok := c.flowDefs[name]
	return ok
}

// Validate checks doc against the catalog without loading it.
func (c *Catalog) Validate(doc *schema.Document) *schema.ValidationResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.validator.Validate(doc)
}

// Load validates doc, builds every job and flow in it and adds them to the
// catalog. Names already loaded are rejected with CONFLICT. Nothing is added
// when any part fails. Returns the new jobs in document order.
func (c *Catalog) Load(doc *schema.Document) ([]*job.Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkNew(doc); err != nil {
		return nil, err
	}

	result := c.validator.Validate(doc)
	if err := result.ToError(); err != nil {
		return nil, err
	}
	for _, w := range result.Warnings {
		c.logger.Warn("definition warning", "path", w.Path, "message", w.Message)
	}

	b := &builder{
		c:        c,
		jobDefs:  make(map[string]schema.JobDefinition, len(doc.Jobs)),
		flowDefs: make(map[string]schema.FlowDefinition, len(doc.Flows)),
		jobs:     make(map[string]*job.Job),
		flows:    make(map[string]*job.Flow),
		building: make(map[string]bool),
	}
	for _, j := range doc.Jobs {
		b.jobDefs[j.Name] = j
	}
	for _, f := range doc.Flows {
		b.flowDefs[f.Name] = f
	}

	for _, f := range doc.Flows {
		if _, err := b.flow(f.Name); err != nil {
			return nil, err
		}
	}
	loaded := make([]*job.Job, 0, len(doc.Jobs))
	for _, d := range doc.Jobs {
		j, err := b.job(d.Name)
		if err != nil {
			return nil, err
		}
		loaded = append(loaded, j)
	}

	for name, def := range b.flowDefs {
		c.flowDefs[name] = def
		c.flows[name] = b.flows[name]
	}
	for name, def := range b.jobDefs {
		c.jobDefs[name] = def
		c.jobs[name] = b.jobs[name]
	}
	for _, j := range loaded {
		c.logger.Info("job loaded", "job", j.Name(), "nodes", len(j.Flow().Nodes()))
	}
	return loaded, nil
}

// checkNew rejects a document that redefines a loaded job or flow. Loaded
// jobs may already be registered with a launcher, so replacing them here
// would leave the two describing different graphs.
func (c *Catalog) checkNew(doc *schema.Document) error {
	for _, d := range doc.Jobs {
		if _, ok := c.jobs[d.Name]; ok {
			return schema.NewErrorf(schema.ErrCodeConflict, "job %q is already defined", d.Name).
				WithDetails(map[string]any{"job": d.Name})
		}
	}
	for _, d := range doc.Flows {
		if _, ok := c.flows[d.Name]; ok {
			return schema.NewErrorf(schema.ErrCodeConflict, "flow %q is already defined", d.Name).
				WithDetails(map[string]any{"flow": d.Name})
		}
	}
	return nil
}

// Job returns a loaded job by name.
func (c *Catalog) Job(name string) (*job.Job, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	j, ok := c.jobs[name]
	return j, ok
}

// Jobs returns every loaded job sorted by name.
func (c *Catalog) Jobs() []*job.Job {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*job.Job, 0, len(c.jobs))
	for _, j := range c.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name() < out[k].Name() })
	return out
}

// Actions describes the actions step definitions may reference.
func (c *Catalog) Actions() []actions.ActionInfo {
	return c.actions.List()
}

// Definition returns the document form of a loaded job.
func (c *Catalog) Definition(name string) (schema.JobDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.jobDefs[name]
	return d, ok
}

// builder compiles one document. Lookups fall back to what the catalog
// already holds.
type builder struct {
	c        *Catalog
	jobDefs  map[string]schema.JobDefinition
	flowDefs map[string]schema.FlowDefinition
	jobs     map[string]*job.Job
	flows    map[string]*job.Flow
	building map[string]bool
}

func (b *builder) enter(key string) error {
	if b.building[key] {
		return schema.NewErrorf(schema.ErrCodeCycleDetected, "%s references itself", key)
	}
	b.building[key] = true
	return nil
}

func (b *builder) flow(name string) (*job.Flow, error) {
	if f, ok := b.flows[name]; ok {
		return f, nil
	}
	def, ok := b.flowDefs[name]
	if !ok {
		if f, ok := b.c.flows[name]; ok {
			return f, nil
		}
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "flow %q is not defined", name)
	}
	if err := b.enter("flow " + name); err != nil {
		return nil, err
	}
	f, err := b.graph(def.Name, def.Start, def.Nodes)
	if err != nil {
		return nil, err
	}
	b.flows[name] = f
	return f, nil
}

func (b *builder) job(name string) (*job.Job, error) {
	if j, ok := b.jobs[name]; ok {
		return j, nil
	}
	def, ok := b.jobDefs[name]
	if !ok {
		if j, ok := b.c.jobs[name]; ok {
			return j, nil
		}
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "job %q is not defined", name)
	}
	if err := b.enter("job " + name); err != nil {
		return nil, err
	}
	f, err := b.graph(def.Name, def.Start, def.Nodes)
	if err != nil {
		return nil, err
	}

	opts := []job.JobOption{job.WithDescription(def.Description)}
	if !def.IsRestartable() {
		opts = append(opts, job.NotRestartable())
	}
	if len(def.Parameters) > 0 {
		raw, err := json.Marshal(def.Parameters)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "job %q: parameter schema: %v", name, err)
		}
		opts = append(opts, job.WithParameterSchema(raw))
	}
	j := job.NewJob(f, opts...)
	b.jobs[name] = j
	return j, nil
}

// graph builds and compiles the nodes and transitions of a job or flow.
func (b *builder) graph(name, start string, defs []schema.NodeDefinition) (*job.Flow, error) {
	fb := job.NewFlow(name)
	for i := range defs {
		n, err := b.node(&defs[i])
		if err != nil {
			return nil, fmt.Errorf("%s: node %q: %w", name, defs[i].ID, err)
		}
		fb.Add(n)
		for _, t := range defs[i].Transitions {
			fb.Rule(job.Rule{From: defs[i].ID, Pattern: t.On, Target: target(t)})
		}
	}
	fb.StartAt(start)
	return fb.Build()
}

func target(t schema.TransitionDefinition) job.Target {
	switch {
	case t.End:
		return job.End()
	case t.Fail:
		return job.Fail()
	case t.Stop:
		return job.Stop()
	default:
		return job.ToNode(t.To)
	}
}

func (b *builder) node(def *schema.NodeDefinition) (job.Node, error) {
	switch def.NodeType() {
	case schema.NodeTypeStep:
		a, err := b.c.actions.Get(def.Action)
		if err != nil {
			return nil, err
		}
		var opts []job.StepOption
		if def.AllowRestart {
			opts = append(opts, job.AllowRestart())
		}
		if def.ExitStatus != nil {
			opts = append(opts, job.WithStatusMapper(b.statusMapper(def.ExitStatus)))
		}
		return job.NewStep(def.ID, actions.Bind(def.ID, a, def.Params), opts...), nil
	case schema.NodeTypeDecider:
		d, err := b.c.deciders.Build(def.Decider, def.Config)
		if err != nil {
			return nil, err
		}
		return job.NewDecider(def.ID, d), nil
	case schema.NodeTypeSplit:
		flows := make([]*job.Flow, 0, len(def.Flows))
		for _, name := range def.Flows {
			f, err := b.flow(name)
			if err != nil {
				return nil, err
			}
			flows = append(flows, f)
		}
		return job.NewSplit(def.ID, flows...), nil
	case schema.NodeTypeJob:
		j, err := b.job(def.Job)
		if err != nil {
			return nil, err
		}
		return job.NewNestedJob(def.ID, j), nil
	case schema.NodeTypeFlow:
		f, err := b.flow(def.Flow)
		if err != nil {
			return nil, err
		}
		return job.NewFlowNode(def.ID, f), nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown node type %q", def.Type)
	}
}

// statusMapper evaluates an exit_status expression with the step's raw
// status bound to "status".
func (b *builder) statusMapper(def *schema.ExpressionDefinition) job.StatusMapper {
	engines := b.c.engines
	return func(ctx context.Context, ec job.ExecutionContext, status schema.ExitStatus) (schema.ExitStatus, error) {
		return engines.EvaluateStatus(ctx, def.Engine, def.Expression, expressions.NewScope(ec).WithStatus(status))
	}
}
