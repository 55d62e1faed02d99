package diagram

import (
	"fmt"
	"strings"

	"github.com/rendis/jobflow/pkg/schema"
)

// RenderMermaid renders a DiagramModel as a Mermaid flowchart string.
func RenderMermaid(model *DiagramModel) string {
	var b strings.Builder

	b.WriteString("graph TD\n")
	if model.Title != "" {
		fmt.Fprintf(&b, "    %%%% %s\n", model.Title)
	}

	for _, node := range model.Nodes {
		writeMermaidNode(&b, node, "    ")
	}
	writeMermaidEdges(&b, model.Edges, "    ")

	b.WriteString("\n")
	b.WriteString("    classDef completed fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef failed fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")
	b.WriteString("    classDef running fill:#1a5276,stroke:#0e3a52,color:#fff\n")
	b.WriteString("    classDef stopped fill:#b7791a,stroke:#8a5c14,color:#fff\n")
	b.WriteString("    classDef replayed fill:#6b6b6b,stroke:#4a4a4a,color:#fff\n")

	walk(model.Nodes, func(n *Node) {
		if cls := statusClass(n.Status); cls != "" {
			fmt.Fprintf(&b, "    class %s %s\n", mermaidSafeID(n.ID), cls)
		}
	})
	return b.String()
}

func writeMermaidNode(b *strings.Builder, node *Node, indent string) {
	fmt.Fprintf(b, "%s%s\n", indent, mermaidNodeDef(node))
	for _, sg := range node.Children {
		fmt.Fprintf(b, "%ssubgraph %s[\"%s: %s\"]\n", indent,
			mermaidSafeID(node.ID+"_"+sg.Label), node.ID, sg.Label)
		for _, sub := range sg.Nodes {
			writeMermaidNode(b, sub, indent+"    ")
		}
		writeMermaidEdges(b, sg.Edges, indent+"    ")
		fmt.Fprintf(b, "%send\n", indent)
	}
}

func writeMermaidEdges(b *strings.Builder, edges []Edge, indent string) {
	for _, edge := range edges {
		label := ""
		if edge.Label != "" {
			label = fmt.Sprintf("|%q|", edge.Label)
		}
		fmt.Fprintf(b, "%s%s -->%s %s\n", indent, mermaidSafeID(edge.From), label, mermaidSafeID(edge.To))
	}
}

// mermaidNodeDef returns a Mermaid node definition with the appropriate shape.
func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	label := firstLine(node.Label)
	if node.Status != nil && node.Status.Status != "" {
		label += " [" + node.Status.Status + "]"
	}

	switch node.Kind {
	case NodeKindDecider:
		return fmt.Sprintf("%s{%q}", id, label)
	case NodeKindSplit:
		return fmt.Sprintf("%s[[%q]]", id, label)
	case NodeKindJob, NodeKindFlow:
		return fmt.Sprintf("%s[/%q/]", id, label)
	case NodeKindStart, NodeKindEnd:
		return fmt.Sprintf("%s((%q))", id, label)
	case NodeKindFail, NodeKindStop:
		return fmt.Sprintf("%s(((%q)))", id, label)
	default:
		return fmt.Sprintf("%s[%q]", id, label)
	}
}

// mermaidSafeID converts a node path to a Mermaid-safe identifier.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer("/", "__", ".", "_", "-", "_", " ", "_")
	return r.Replace(id)
}

// statusClass maps a recorded outcome to a style class.
func statusClass(o *StatusOverlay) string {
	if o == nil {
		return ""
	}
	switch {
	case o.State == string(schema.StepStatusStarted):
		return "running"
	case o.State == string(schema.StepStatusReplayed):
		return "replayed"
	case o.State == string(schema.StepStatusFailed), o.Status == string(schema.StatusFailed):
		return "failed"
	case o.Status == string(schema.StatusStopped):
		return "stopped"
	case o.State == string(schema.StepStatusCompleted):
		return "completed"
	default:
		return ""
	}
}

// walk visits every node, including those inside subgraphs, depth first.
func walk(nodes []*Node, fn func(*Node)) {
	for _, n := range nodes {
		fn(n)
		for _, sg := range n.Children {
			walk(sg.Nodes, fn)
		}
	}
}
