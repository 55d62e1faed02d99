package schema

// NodeType identifies the variant a NodeDefinition builds.
type NodeType string

const (
	NodeTypeStep    NodeType = "step"
	NodeTypeDecider NodeType = "decider"
	NodeTypeSplit   NodeType = "split"
	NodeTypeJob     NodeType = "job"
	NodeTypeFlow    NodeType = "flow"
)

// Document is the top-level shape of a definition file. Flows declared in any
// document are visible to every job loaded into the same catalog.
type Document struct {
	Flows []FlowDefinition `json:"flows,omitempty" yaml:"flows,omitempty"`
	Jobs  []JobDefinition  `json:"jobs,omitempty" yaml:"jobs,omitempty"`
}

// JobDefinition is the serializable form of a job graph.
type JobDefinition struct {
	Name        string           `json:"name" yaml:"name"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Start       string           `json:"start" yaml:"start"`
	Restartable *bool            `json:"restartable,omitempty" yaml:"restartable,omitempty"`
	Parameters  map[string]any   `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Nodes       []NodeDefinition `json:"nodes" yaml:"nodes"`
}

// IsRestartable defaults to true when the document does not say otherwise.
func (d *JobDefinition) IsRestartable() bool {
	return d.Restartable == nil || *d.Restartable
}

// FlowDefinition is a reusable named subgraph.
type FlowDefinition struct {
	Name  string           `json:"name" yaml:"name"`
	Start string           `json:"start" yaml:"start"`
	Nodes []NodeDefinition `json:"nodes" yaml:"nodes"`
}

// NodeDefinition declares one node and its outgoing transitions.
// Which of the reference fields applies depends on Type:
//   - step:    Action, Params, ExitStatus, AllowRestart
//   - decider: Decider, Config
//   - split:   Flows
//   - job:     Job
//   - flow:    Flow
type NodeDefinition struct {
	ID           string                 `json:"id" yaml:"id"`
	Type         NodeType               `json:"type,omitempty" yaml:"type,omitempty"`
	Action       string                 `json:"action,omitempty" yaml:"action,omitempty"`
	Params       map[string]any         `json:"params,omitempty" yaml:"params,omitempty"`
	ExitStatus   *ExpressionDefinition  `json:"exit_status,omitempty" yaml:"exit_status,omitempty"`
	AllowRestart bool                   `json:"allow_restart,omitempty" yaml:"allow_restart,omitempty"`
	Decider      string                 `json:"decider,omitempty" yaml:"decider,omitempty"`
	Config       map[string]any         `json:"config,omitempty" yaml:"config,omitempty"`
	Flows        []string               `json:"flows,omitempty" yaml:"flows,omitempty"`
	Job          string                 `json:"job,omitempty" yaml:"job,omitempty"`
	Flow         string                 `json:"flow,omitempty" yaml:"flow,omitempty"`
	Transitions  []TransitionDefinition `json:"transitions,omitempty" yaml:"transitions,omitempty"`
}

// NodeType returns the declared type, defaulting to step.
func (n *NodeDefinition) NodeType() NodeType {
	if n.Type == "" {
		return NodeTypeStep
	}
	return n.Type
}

// TransitionDefinition routes a status to a node or to a terminal outcome.
// Exactly one of To, End, Fail, Stop is set.
type TransitionDefinition struct {
	On   string `json:"on" yaml:"on"`
	To   string `json:"to,omitempty" yaml:"to,omitempty"`
	End  bool   `json:"end,omitempty" yaml:"end,omitempty"`
	Fail bool   `json:"fail,omitempty" yaml:"fail,omitempty"`
	Stop bool   `json:"stop,omitempty" yaml:"stop,omitempty"`
}

// ExpressionDefinition names an expression engine (cel, expr, jq) and the
// expression it evaluates.
type ExpressionDefinition struct {
	Engine     string `json:"engine,omitempty" yaml:"engine,omitempty"`
	Expression string `json:"expression" yaml:"expression"`
}
