package job

import (
	"fmt"

	"github.com/rendis/jobflow/pkg/schema"
)

// TargetKind says whether a rule continues to a node or terminates the flow.
type TargetKind int

const (
	TargetNode TargetKind = iota
	TargetEnd
	TargetFail
	TargetStop
)

// Target is where a matched rule sends execution.
type Target struct {
	Kind TargetKind
	Node string
}

// Terminal returns the status a terminal target ends the flow with.
func (t Target) Terminal() (schema.ExitStatus, bool) {
	switch t.Kind {
	case TargetEnd:
		return schema.StatusCompleted, true
	case TargetFail:
		return schema.StatusFailed, true
	case TargetStop:
		return schema.StatusStopped, true
	default:
		return "", false
	}
}

func (t Target) String() string {
	switch t.Kind {
	case TargetEnd:
		return "end"
	case TargetFail:
		return "fail"
	case TargetStop:
		return "stop"
	default:
		return t.Node
	}
}

// ToNode targets a node by name.
func ToNode(name string) Target { return Target{Kind: TargetNode, Node: name} }

// End terminates the flow with COMPLETED.
func End() Target { return Target{Kind: TargetEnd} }

// Fail terminates the flow with FAILED.
func Fail() Target { return Target{Kind: TargetFail} }

// Stop terminates the flow with STOPPED.
func Stop() Target { return Target{Kind: TargetStop} }

// Rule is a TransitionRule: from a node, on a status pattern, to a target.
type Rule struct {
	From    string
	Pattern string
	Target  Target
}

func (r Rule) String() string {
	return fmt.Sprintf("%s --%s--> %s", r.From, r.Pattern, r.Target)
}

// table holds the compiled rules of one node.
type table struct {
	literal  map[schema.ExitStatus]Target
	wildcard *Target
}

// resolve applies literal-then-wildcard precedence.
func (t *table) resolve(status schema.ExitStatus) (Target, bool) {
	if target, ok := t.literal[status]; ok {
		return target, true
	}
	if t.wildcard != nil {
		return *t.wildcard, true
	}
	return Target{}, false
}
