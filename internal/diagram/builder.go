package diagram

import (
	"fmt"
	"strings"

	"github.com/rendis/jobflow/internal/job"
	"github.com/rendis/jobflow/internal/store"
	"github.com/rendis/jobflow/pkg/schema"
)

// Build constructs a DiagramModel from a job and an optional execution
// record. When rec is set, every node it ran carries a StatusOverlay.
// Composite nodes get one SubGraph per flow they run.
func Build(j *job.Job, rec *store.ExecutionRecord) (*DiagramModel, error) {
	if j == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "diagram: job is nil")
	}
	f := j.Flow()
	b := &builder{rec: rec, seen: make(map[*job.Job]bool)}
	b.seen[j] = true

	nodes, edges := b.flow(f, "")
	model := &DiagramModel{Title: j.Name()}

	model.Nodes = append(model.Nodes, &Node{ID: StartID, Label: "Start", Kind: NodeKindStart})
	model.Nodes = append(model.Nodes, nodes...)
	model.Edges = append(model.Edges, Edge{From: StartID, To: f.Start().Name()})
	model.Edges = append(model.Edges, edges...)
	model.Nodes = append(model.Nodes, terminals(edges)...)

	model.Levels = buildLevels(model.Nodes, model.Edges)
	return model, nil
}

type builder struct {
	rec  *store.ExecutionRecord
	seen map[*job.Job]bool
}

// flow returns the nodes and edges of f with IDs under prefix. Terminal
// targets become edges to the shared terminal IDs; nodes without rules get
// an unlabeled edge to the end.
func (b *builder) flow(f *job.Flow, prefix string) ([]*Node, []Edge) {
	var nodes []*Node
	for _, n := range f.Nodes() {
		nodes = append(nodes, b.node(n, prefix))
	}

	var edges []Edge
	hasRules := make(map[string]bool)
	for _, r := range f.Rules() {
		hasRules[r.From] = true
		edges = append(edges, Edge{
			From:  prefix + r.From,
			To:    targetID(r.Target, prefix),
			Label: r.Pattern,
		})
	}
	for _, n := range f.Nodes() {
		if !hasRules[n.Name()] {
			edges = append(edges, Edge{From: prefix + n.Name(), To: EndID})
		}
	}
	return nodes, edges
}

func targetID(t job.Target, prefix string) string {
	switch t.Kind {
	case job.TargetEnd:
		return EndID
	case job.TargetFail:
		return FailID
	case job.TargetStop:
		return StopID
	default:
		return prefix + t.Node
	}
}

func (b *builder) node(n job.Node, prefix string) *Node {
	id := prefix + n.Name()
	node := &Node{ID: id, Label: n.Name()}
	b.overlay(node)

	switch v := n.(type) {
	case *job.Step:
		node.Kind = NodeKindStep
	case *job.Decider:
		node.Kind = NodeKindDecider
	case *job.Split:
		node.Kind = NodeKindSplit
		names := make([]string, 0, len(v.Flows()))
		for _, f := range v.Flows() {
			names = append(names, f.Name())
			node.Children = append(node.Children, b.subGraph(f.Name(), f, id+"/"+f.Name()+"/"))
		}
		node.Label = fmt.Sprintf("%s\n(split: %s)", n.Name(), strings.Join(names, ", "))
	case *job.FlowNode:
		node.Kind = NodeKindFlow
		node.Label = fmt.Sprintf("%s\n(flow: %s)", n.Name(), v.Flow().Name())
		node.Children = append(node.Children, b.subGraph(v.Flow().Name(), v.Flow(), id+"/"))
	case *job.NestedJob:
		node.Kind = NodeKindJob
		child := v.Job()
		node.Label = fmt.Sprintf("%s\n(job: %s)", n.Name(), child.Name())
		if !b.seen[child] {
			b.seen[child] = true
			node.Children = append(node.Children, b.subGraph(child.Name(), child.Flow(), id+"/"))
			delete(b.seen, child)
		}
	}
	return node
}

func (b *builder) subGraph(label string, f *job.Flow, prefix string) *SubGraph {
	nodes, edges := b.flow(f, prefix)
	// Inside a subgraph the end of the flow hands back to the parent, so
	// only real node-to-node edges and explicit fail/stop are kept.
	kept := edges[:0]
	for _, e := range edges {
		if e.To == EndID {
			continue
		}
		kept = append(kept, e)
	}
	return &SubGraph{Label: label, Nodes: nodes, Edges: kept}
}

// overlay applies the last recorded attempt of node to it.
func (b *builder) overlay(node *Node) {
	if b.rec == nil {
		return
	}
	s, ok := b.rec.Step(node.ID)
	if !ok {
		return
	}
	o := &StatusOverlay{
		State:  string(s.State),
		Status: string(s.Status),
		Fault:  s.Fault,
	}
	if s.EndTime != nil {
		o.DurationMs = s.EndTime.Sub(s.StartTime).Milliseconds()
	}
	node.Status = o
}

// terminals returns the virtual terminal nodes edges point at, in a fixed
// order.
func terminals(edges []Edge) []*Node {
	used := make(map[string]bool, 3)
	for _, e := range edges {
		used[e.To] = true
	}
	var out []*Node
	for _, t := range []struct {
		id, label string
		kind      NodeKind
	}{
		{EndID, "End", NodeKindEnd},
		{FailID, "Fail", NodeKindFail},
		{StopID, "Stop", NodeKindStop},
	} {
		if used[t.id] {
			out = append(out, &Node{ID: t.id, Label: t.label, Kind: t.kind})
		}
	}
	return out
}

// buildLevels assigns each node the length of its shortest path from the
// start. Terminal nodes share the last level.
func buildLevels(nodes []*Node, edges []Edge) [][]string {
	succ := make(map[string][]string)
	for _, e := range edges {
		succ[e.From] = append(succ[e.From], e.To)
	}
	terminal := map[string]bool{EndID: true, FailID: true, StopID: true}

	depth := map[string]int{StartID: 0}
	queue := []string{StartID}
	maxDepth := 0
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, next := range succ[n] {
			if _, ok := depth[next]; ok || terminal[next] {
				continue
			}
			depth[next] = depth[n] + 1
			maxDepth = max(maxDepth, depth[next])
			queue = append(queue, next)
		}
	}

	levels := make([][]string, maxDepth+1)
	var last []string
	for _, n := range nodes {
		if terminal[n.ID] {
			last = append(last, n.ID)
			continue
		}
		d, ok := depth[n.ID]
		if !ok {
			continue // unreachable
		}
		levels[d] = append(levels[d], n.ID)
	}
	if len(last) > 0 {
		levels = append(levels, last)
	}
	return levels
}
