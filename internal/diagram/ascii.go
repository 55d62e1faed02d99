package diagram

import (
	"fmt"
	"strings"

	"github.com/rendis/jobflow/pkg/schema"
)

const (
	boxGap   = "  "
	arrowRun = "─→"
)

// RenderASCII draws the model top-down: one row of boxes per level, the
// transitions leaving that level under it, then every composite node's
// children.
func RenderASCII(model *DiagramModel) string {
	var b strings.Builder
	if model.Title != "" {
		fmt.Fprintf(&b, "=== %s ===\n\n", model.Title)
	}

	byID := make(map[string]*Node, len(model.Nodes))
	for _, n := range model.Nodes {
		byID[n.ID] = n
	}
	outgoing := make(map[string][]Edge)
	for _, e := range model.Edges {
		outgoing[e.From] = append(outgoing[e.From], e)
	}

	for i, level := range model.Levels {
		var row [][]string
		var edges []Edge
		for _, id := range level {
			if n, ok := byID[id]; ok {
				row = append(row, box(n))
				edges = append(edges, outgoing[id]...)
			}
		}
		writeRow(&b, row)
		if i == len(model.Levels)-1 {
			break
		}
		for _, e := range edges {
			fmt.Fprintf(&b, "   %s %s %s%s\n", label(byID, e.From), arrowRun, label(byID, e.To), pattern(e))
		}
		b.WriteString("       │\n       ▼\n")
	}

	walk(model.Nodes, func(n *Node) {
		if len(n.Children) == 0 {
			return
		}
		fmt.Fprintf(&b, "\n--- %s ---\n", n.ID)
		for _, sg := range n.Children {
			writeSubGraph(&b, sg)
		}
	})
	return b.String()
}

// box returns the lines of a bordered box for n.
func box(n *Node) []string {
	content := []string{firstLine(n.Label)}
	if tag := statusTag(n.Status); tag != "" {
		content = append(content, tag)
	}
	if n.Status != nil && n.Status.DurationMs > 0 {
		content = append(content, fmt.Sprintf("%dms", n.Status.DurationMs))
	}

	inner := 0
	for _, c := range content {
		inner = max(inner, len(c))
	}
	rule := strings.Repeat("─", inner+2)
	lines := make([]string, 0, len(content)+2)
	lines = append(lines, "┌"+rule+"┐")
	for _, c := range content {
		lines = append(lines, fmt.Sprintf("│ %-*s │", inner, c))
	}
	return append(lines, "└"+rule+"┘")
}

// writeRow prints boxes next to each other, padding shorter ones.
func writeRow(b *strings.Builder, row [][]string) {
	height := 0
	for _, lines := range row {
		height = max(height, len(lines))
	}
	for line := 0; line < height; line++ {
		cells := make([]string, len(row))
		for i, lines := range row {
			if line < len(lines) {
				cells[i] = lines[line]
			} else {
				cells[i] = strings.Repeat(" ", len([]rune(lines[0])))
			}
		}
		b.WriteString(strings.Join(cells, boxGap))
		b.WriteByte('\n')
	}
}

func writeSubGraph(b *strings.Builder, sg *SubGraph) {
	fmt.Fprintf(b, "  [%s]\n", sg.Label)
	for _, n := range sg.Nodes {
		line := firstLine(n.Label)
		if tag := statusTag(n.Status); tag != "" {
			line += " " + tag
		}
		fmt.Fprintf(b, "    %s\n", line)
	}
	for _, e := range sg.Edges {
		fmt.Fprintf(b, "    %s %s %s%s\n", lastSegment(e.From), arrowRun, lastSegment(e.To), pattern(e))
	}
}

// statusTag is the short marker for a recorded outcome. Custom exit
// statuses are shown verbatim.
func statusTag(o *StatusOverlay) string {
	if o == nil {
		return ""
	}
	switch statusClass(o) {
	case "running":
		return "[RUN]"
	case "replayed":
		return "[REPLAY]"
	case "failed":
		return "[FAIL]"
	case "stopped":
		return "[STOP]"
	}
	switch o.Status {
	case "", string(schema.StatusCompleted):
		if o.State == "" {
			return ""
		}
		return "[OK]"
	default:
		return "[" + o.Status + "]"
	}
}

func pattern(e Edge) string {
	if e.Label == "" {
		return ""
	}
	return " [" + e.Label + "]"
}

func label(byID map[string]*Node, id string) string {
	if n, ok := byID[id]; ok {
		return firstLine(n.Label)
	}
	return lastSegment(id)
}

func firstLine(s string) string {
	head, _, _ := strings.Cut(s, "\n")
	return head
}

// lastSegment drops the enclosing path of a nested node ID.
func lastSegment(id string) string {
	return id[strings.LastIndex(id, "/")+1:]
}
