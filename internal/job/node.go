package job

// Kind classifies a node variant.
type Kind string

const (
	KindStep    Kind = "step"
	KindDecider Kind = "decider"
	KindSplit   Kind = "split"
	KindJob     Kind = "job"
	KindFlow    Kind = "flow"
)

// Node is one vertex of a flow graph. The engine dispatches on the concrete
// variant: *Step, *Decider, *Split, *NestedJob or *FlowNode.
type Node interface {
	Name() string
	Kind() Kind
}

// Step performs work through its Action and may commit a side effect.
type Step struct {
	name         string
	action       Action
	mapper       StatusMapper
	allowRestart bool
}

// StepOption configures a Step.
type StepOption func(*Step)

// WithStatusMapper installs a listener that rewrites the step's exit status.
func WithStatusMapper(m StatusMapper) StepOption {
	return func(s *Step) { s.mapper = m }
}

// AllowRestart makes the step run again on restart even if it completed.
func AllowRestart() StepOption {
	return func(s *Step) { s.allowRestart = true }
}

// NewStep creates a step node.
func NewStep(name string, action Action, opts ...StepOption) *Step {
	s := &Step{name: name, action: action}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Step) Name() string { return s.name }
func (s *Step) Kind() Kind { return KindStep }
func (s *Step) Action() Action { return s.action }
func (s *Step) StatusMapper() StatusMapper { return s.mapper }
func (s *Step) AllowsRestart() bool { return s.allowRestart }

// Decider routes on a computed status. It must not mutate external state.
type Decider struct {
	name     string
	decision Decision
}

// NewDecider creates a decider node.
func NewDecider(name string, d Decision) *Decider {
	return &Decider{name: name, decision: d}
}

func (d *Decider) Name() string { return d.name }
func (d *Decider) Kind() Kind { return KindDecider }
func (d *Decider) Decision() Decision { return d.decision }

// Split runs its flows concurrently and joins on all of them.
type Split struct {
	name  string
	flows []*Flow
}

// NewSplit creates a split node over compiled flows.
func NewSplit(name string, flows ...*Flow) *Split {
	return &Split{name: name, flows: flows}
}

func (s *Split) Name() string { return s.name }
func (s *Split) Kind() Kind { return KindSplit }
func (s *Split) Flows() []*Flow { return s.flows }

// NestedJob runs another job as a single node of this one.
type NestedJob struct {
	name string
	job  *Job
}

// NewNestedJob creates a node wrapping a compiled job.
func NewNestedJob(name string, j *Job) *NestedJob {
	return &NestedJob{name: name, job: j}
}

func (n *NestedJob) Name() string { return n.name }
func (n *NestedJob) Kind() Kind { return KindJob }
func (n *NestedJob) Job() *Job { return n.job }

// FlowNode embeds a reusable flow inline. The flow's terminal status is the
// node's status.
type FlowNode struct {
	name string
	flow *Flow
}

// NewFlowNode creates a node embedding a compiled flow.
func NewFlowNode(name string, f *Flow) *FlowNode {
	return &FlowNode{name: name, flow: f}
}

func (n *FlowNode) Name() string { return n.name }
func (n *FlowNode) Kind() Kind { return KindFlow }
func (n *FlowNode) Flow() *Flow { return n.flow }
