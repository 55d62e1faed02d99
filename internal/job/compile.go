package job

import (
	"fmt"
	"sort"

	"github.com/rendis/jobflow/pkg/schema"
)

// Compile validates a flow under construction and freezes it. It rejects
// missing or duplicate nodes, rules that reference unknown nodes, ambiguous
// rules (two literal rules for the same node and status, or two wildcards)
// and cycles, so every launch of the result terminates.
func Compile(b *FlowBuilder) (*Flow, error) {
	result := &schema.ValidationResult{}

	if b.name == "" {
		result.AddError("/", schema.ErrCodeValidation, "flow name is empty")
	}

	f := &Flow{
		name:  b.name,
		start: b.start,
		nodes: make(map[string]Node, len(b.nodes)),
		rules: make(map[string]*table),
	}

	for i, n := range b.nodes {
		path := fmt.Sprintf("nodes[%d]", i)
		if n == nil {
			result.AddError(path, schema.ErrCodeValidation, "node is nil")
			continue
		}
		if n.Name() == "" {
			result.AddError(path, schema.ErrCodeValidation, "node name is empty")
			continue
		}
		if _, dup := f.nodes[n.Name()]; dup {
			result.AddErrorf(path, schema.ErrCodeConflict, "duplicate node %q", n.Name())
			continue
		}
		result.Merge(checkNode(nodePath(n.Name()), n))
		f.nodes[n.Name()] = n
		f.order = append(f.order, n.Name())
	}

	if len(f.nodes) == 0 {
		result.AddError("nodes", schema.ErrCodeValidation, "flow has no nodes")
	}
	if f.start == "" {
		result.AddError("start", schema.ErrCodeValidation, "flow has no start node")
	} else if _, ok := f.nodes[f.start]; !ok {
		result.AddErrorf("start", schema.ErrCodeValidation, "start node %q is not declared", f.start)
	}

	for _, r := range b.rules {
		result.Merge(f.addRule(r))
	}

	if result.Valid() {
		result.Merge(checkGraph(f))
	}

	if err := result.ToError(); err != nil {
		jfErr, _ := schema.AsJobflowError(err)
		jfErr.Message = fmt.Sprintf("flow %q: %s", b.name, jfErr.Message)
		return nil, jfErr
	}

	f.warnings = result.Warnings
	return f, nil
}

func nodePath(name string) string {
	return fmt.Sprintf("nodes[%s]", name)
}

func checkNode(path string, n Node) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	switch v := n.(type) {
	case *Step:
		if v.action == nil {
			result.AddError(path, schema.ErrCodeValidation, "step has no action")
		}
	case *Decider:
		if v.decision == nil {
			result.AddError(path, schema.ErrCodeValidation, "decider has no decision")
		}
	case *Split:
		if len(v.flows) == 0 {
			result.AddError(path, schema.ErrCodeValidation, "split has no flows")
		}
		seen := make(map[string]bool, len(v.flows))
		for _, sub := range v.flows {
			if sub == nil {
				result.AddError(path, schema.ErrCodeValidation, "split flow is nil")
				continue
			}
			if seen[sub.name] {
				result.AddErrorf(path, schema.ErrCodeConflict, "split lists flow %q twice", sub.name)
			}
			seen[sub.name] = true
		}
	case *NestedJob:
		if v.job == nil {
			result.AddError(path, schema.ErrCodeValidation, "nested job is nil")
		}
	case *FlowNode:
		if v.flow == nil {
			result.AddError(path, schema.ErrCodeValidation, "embedded flow is nil")
		}
	default:
		result.AddErrorf(path, schema.ErrCodeValidation, "unsupported node type %T", n)
	}
	return result
}

func (f *Flow) addRule(r Rule) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	path := nodePath(r.From) + ".transitions"

	if _, ok := f.nodes[r.From]; !ok {
		result.AddErrorf(path, schema.ErrCodeValidation, "rule %s starts at undeclared node %q", r, r.From)
		return result
	}
	if r.Pattern == "" {
		result.AddErrorf(path, schema.ErrCodeValidation, "rule %s has an empty status pattern", r)
		return result
	}
	if r.Target.Kind == TargetNode {
		if _, ok := f.nodes[r.Target.Node]; !ok {
			result.AddErrorf(path, schema.ErrCodeValidation, "rule %s targets undeclared node %q", r, r.Target.Node)
			return result
		}
	}

	t, ok := f.rules[r.From]
	if !ok {
		t = &table{literal: make(map[schema.ExitStatus]Target)}
		f.rules[r.From] = t
	}

	if r.Pattern == schema.Wildcard {
		if t.wildcard != nil {
			result.AddErrorf(path, schema.ErrCodeAmbiguousTransition,
				"node %q declares more than one wildcard rule", r.From)
			return result
		}
		target := r.Target
		t.wildcard = &target
	} else {
		status := schema.ExitStatus(r.Pattern)
		if _, dup := t.literal[status]; dup {
			result.AddErrorf(path, schema.ErrCodeAmbiguousTransition,
				"node %q declares more than one rule for status %q", r.From, r.Pattern)
			return result
		}
		t.literal[status] = r.Target
	}

	f.declared = append(f.declared, r)
	return result
}

// checkGraph runs Kahn's algorithm over node-to-node rules for cycle
// detection, then walks from the start node to flag unreachable nodes.
func checkGraph(f *Flow) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	successors := make(map[string][]string, len(f.nodes))
	inDegree := make(map[string]int, len(f.nodes))
	for name := range f.nodes {
		inDegree[name] = 0
	}
	for _, r := range f.declared {
		if r.Target.Kind != TargetNode {
			continue
		}
		successors[r.From] = append(successors[r.From], r.Target.Node)
		inDegree[r.Target.Node]++
	}

	queue := make([]string, 0, len(f.nodes))
	for name, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, name)
		}
	}
	sort.Strings(queue)

	visited := 0
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range successors[n] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if visited != len(f.nodes) {
		var cyclic []string
		for name, deg := range inDegree {
			if deg > 0 {
				cyclic = append(cyclic, name)
			}
		}
		sort.Strings(cyclic)
		result.AddErrorf("transitions", schema.ErrCodeCycleDetected,
			"transition rules form a cycle through %v", cyclic)
		return result
	}

	reachable := map[string]bool{f.start: true}
	stack := []string{f.start}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, next := range successors[n] {
			if !reachable[next] {
				reachable[next] = true
				stack = append(stack, next)
			}
		}
	}
	for _, name := range f.order {
		if !reachable[name] {
			result.AddWarning(nodePath(name), schema.ErrCodeValidation,
				fmt.Sprintf("node %q is unreachable from start node %q", name, f.start))
		}
	}

	return result
}
