package job

import "github.com/rendis/jobflow/pkg/schema"

// Flow is a compiled, immutable graph of nodes and transition rules. It is
// safe to share across concurrent executions.
type Flow struct {
	name     string
	start    string
	order    []string
	nodes    map[string]Node
	declared []Rule
	rules    map[string]*table
	warnings []schema.ValidationIssue
}

// Resolution is the outcome of looking up a node's next target.
type Resolution struct {
	Target   Target
	Matched  bool
	HasRules bool
}

func (f *Flow) Name() string { return f.name }

// Start returns the start node.
func (f *Flow) Start() Node { return f.nodes[f.start] }

// Node looks up a node by name.
func (f *Flow) Node(name string) (Node, bool) {
	n, ok := f.nodes[name]
	return n, ok
}

// Nodes returns the nodes in declaration order.
func (f *Flow) Nodes() []Node {
	out := make([]Node, 0, len(f.order))
	for _, name := range f.order {
		out = append(out, f.nodes[name])
	}
	return out
}

// Rules returns the transition rules in declaration order.
func (f *Flow) Rules() []Rule {
	out := make([]Rule, len(f.declared))
	copy(out, f.declared)
	return out
}

// Warnings returns non-fatal issues found while compiling.
func (f *Flow) Warnings() []schema.ValidationIssue { return f.warnings }

// Resolve finds where a status produced by node from leads. A literal rule
// wins over the wildcard regardless of declaration order.
func (f *Flow) Resolve(from string, status schema.ExitStatus) Resolution {
	t, ok := f.rules[from]
	if !ok {
		return Resolution{}
	}
	target, matched := t.resolve(status)
	return Resolution{Target: target, Matched: matched, HasRules: true}
}

// Job is a named flow plus launch-time configuration.
type Job struct {
	flow        *Flow
	description string
	restartable bool
	paramSchema []byte
}

// JobOption configures a Job.
type JobOption func(*Job)

// WithDescription sets a human-readable description.
func WithDescription(d string) JobOption {
	return func(j *Job) { j.description = d }
}

// NotRestartable rejects restart requests for the job.
func NotRestartable() JobOption {
	return func(j *Job) { j.restartable = false }
}

// WithParameterSchema sets a JSON Schema that launch parameters must satisfy.
func WithParameterSchema(schemaJSON []byte) JobOption {
	return func(j *Job) { j.paramSchema = schemaJSON }
}

// NewJob wraps a compiled flow as a launchable job named after the flow.
func NewJob(flow *Flow, opts ...JobOption) *Job {
	j := &Job{flow: flow, restartable: true}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

func (j *Job) Name() string { return j.flow.name }
func (j *Job) Flow() *Flow { return j.flow }
func (j *Job) Description() string { return j.description }
func (j *Job) Restartable() bool { return j.restartable }
func (j *Job) ParameterSchema() []byte { return j.paramSchema }
