package job

import "github.com/rendis/jobflow/pkg/schema"

// FlowBuilder collects nodes and rules as data. Nothing is checked until
// Build, which compiles the graph.
type FlowBuilder struct {
	name  string
	start string
	nodes []Node
	rules []Rule
}

// NewFlow starts building a flow with the given name.
func NewFlow(name string) *FlowBuilder {
	return &FlowBuilder{name: name}
}

// Start adds n and makes it the start node.
func (b *FlowBuilder) Start(n Node) *FlowBuilder {
	b.nodes = append(b.nodes, n)
	if n != nil {
		b.start = n.Name()
	}
	return b
}

// StartAt marks an already added node as the start node.
func (b *FlowBuilder) StartAt(name string) *FlowBuilder {
	b.start = name
	return b
}

// Add registers nodes without wiring them.
func (b *FlowBuilder) Add(nodes ...Node) *FlowBuilder {
	b.nodes = append(b.nodes, nodes...)
	return b
}

// Next routes COMPLETED from one node to another.
func (b *FlowBuilder) Next(from, to string) *FlowBuilder {
	return b.On(from, string(schema.StatusCompleted)).To(to)
}

// On begins a rule for the given node and status pattern.
func (b *FlowBuilder) On(from, pattern string) *RuleBuilder {
	return &RuleBuilder{b: b, from: from, pattern: pattern}
}

// Rule appends a fully formed rule.
func (b *FlowBuilder) Rule(r Rule) *FlowBuilder {
	b.rules = append(b.rules, r)
	return b
}

// Build compiles the flow. See Compile.
func (b *FlowBuilder) Build() (*Flow, error) {
	return Compile(b)
}

// RuleBuilder completes a rule started with FlowBuilder.On.
type RuleBuilder struct {
	b       *FlowBuilder
	from    string
	pattern string
}

func (r *RuleBuilder) target(t Target) *FlowBuilder {
	return r.b.Rule(Rule{From: r.from, Pattern: r.pattern, Target: t})
}

// To continues at the named node.
func (r *RuleBuilder) To(node string) *FlowBuilder { return r.target(ToNode(node)) }

// End ends the flow COMPLETED.
func (r *RuleBuilder) End() *FlowBuilder { return r.target(End()) }

// Fail ends the flow FAILED.
func (r *RuleBuilder) Fail() *FlowBuilder { return r.target(Fail()) }

// Stop ends the flow STOPPED.
func (r *RuleBuilder) Stop() *FlowBuilder { return r.target(Stop()) }
