package diagram

// NodeKind classifies a diagram node by the job node it draws.
type NodeKind string

const (
	NodeKindStep    NodeKind = "step"
	NodeKindDecider NodeKind = "decider"
	NodeKindSplit   NodeKind = "split"
	NodeKindJob     NodeKind = "job"
	NodeKindFlow    NodeKind = "flow"
	NodeKindStart   NodeKind = "start"
	NodeKindEnd     NodeKind = "end"
	NodeKindFail    NodeKind = "fail"
	NodeKindStop    NodeKind = "stop"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node is one node of a flow. IDs are execution paths, so a node inside a
// split branch is "split/flow/node".
type Node struct {
	ID       string
	Label    string
	Kind     NodeKind
	Status   *StatusOverlay
	Children []*SubGraph // split branches, embedded flow, nested job
}

// SubGraph holds the nodes of a flow drawn inside a composite node.
type SubGraph struct {
	Label string
	Nodes []*Node
	Edges []Edge
}

// StatusOverlay carries the recorded outcome of a node.
type StatusOverlay struct {
	State      string // schema.StepStatus
	Status     string // exit status
	DurationMs int64
	Fault      string
}

// Edge is a transition rule; Label is its status pattern.
type Edge struct {
	From  string
	To    string
	Label string
}

// Reserved IDs of the virtual start and terminal nodes.
const (
	StartID = "__start__"
	EndID   = "__end__"
	FailID  = "__fail__"
	StopID  = "__stop__"
)
