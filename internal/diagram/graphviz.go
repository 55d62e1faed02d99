package diagram

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"

	"github.com/rendis/jobflow/pkg/schema"
)

// ImageFormat is an output format of RenderImage.
type ImageFormat string

const (
	ImagePNG ImageFormat = "png"
	ImageSVG ImageFormat = "svg"
)

// RenderImage renders a DiagramModel with graphviz.
func RenderImage(ctx context.Context, model *DiagramModel, format ImageFormat) ([]byte, error) {
	var gvFormat graphviz.Format
	switch format {
	case ImagePNG, "":
		gvFormat = graphviz.PNG
	case ImageSVG:
		gvFormat = graphviz.SVG
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "diagram: unsupported image format %q", format)
	}

	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("diagram: create graphviz: %w", err)
	}
	defer gv.Close()

	gv.SetLayout(graphviz.DOT)

	graph, err := gv.Graph()
	if err != nil {
		return nil, fmt.Errorf("diagram: create graph: %w", err)
	}
	defer graph.Close()

	graph.SetRankDir(cgraph.TBRank)
	if model.Title != "" {
		graph.SetLabel(model.Title)
	}

	gvNodes := make(map[string]*cgraph.Node)
	for _, node := range model.Nodes {
		gvNode, nErr := graph.CreateNodeByName(node.ID)
		if nErr != nil {
			return nil, fmt.Errorf("diagram: create node %s: %w", node.ID, nErr)
		}
		gvNode.SetLabel(imageLabel(node))
		applyNodeStyle(gvNode, node)
		gvNodes[node.ID] = gvNode
		addClusters(graph, node, gvNodes)
	}

	// Edges are created after every cluster so subgraph edges find their
	// endpoints regardless of nesting.
	var edges []Edge
	walk(model.Nodes, func(n *Node) {
		for _, sg := range n.Children {
			edges = append(edges, sg.Edges...)
		}
	})
	edges = append(edges, model.Edges...)
	for _, edge := range edges {
		fromGV, toGV := gvNodes[edge.From], gvNodes[edge.To]
		if fromGV == nil || toGV == nil {
			continue
		}
		if e, eErr := graph.CreateEdgeByName("", fromGV, toGV); eErr == nil {
			applyEdgeStyle(e, edge.Label)
		}
	}

	var buf bytes.Buffer
	if err := gv.Render(ctx, graph, gvFormat, &buf); err != nil {
		return nil, fmt.Errorf("diagram: render %s: %w", format, err)
	}
	return buf.Bytes(), nil
}

// addClusters draws the subgraphs of node as dashed clusters, recursively.
func addClusters(parent *cgraph.Graph, node *Node, gvNodes map[string]*cgraph.Node) {
	for _, sg := range node.Children {
		sub, err := parent.CreateSubGraphByName("cluster_" + mermaidSafeID(node.ID+"_"+sg.Label))
		if err != nil {
			continue
		}
		sub.SetLabel(sg.Label)
		sub.SetStyle(cgraph.DashedGraphStyle)

		for _, subNode := range sg.Nodes {
			gvSub, nErr := sub.CreateNodeByName(subNode.ID)
			if nErr != nil {
				continue
			}
			gvSub.SetLabel(imageLabel(subNode))
			applyNodeStyle(gvSub, subNode)
			gvNodes[subNode.ID] = gvSub
			addClusters(sub, subNode, gvNodes)
		}
	}
}

func imageLabel(node *Node) string {
	label := firstLine(node.Label)
	if node.Status != nil && node.Status.Status != "" {
		label += "\n" + node.Status.Status
	}
	return label
}

var kindShapes = map[NodeKind]cgraph.Shape{
	NodeKindStep:    cgraph.BoxShape,
	NodeKindDecider: cgraph.DiamondShape,
	NodeKindSplit:   cgraph.HexagonShape,
	NodeKindJob:     cgraph.EllipseShape,
	NodeKindFlow:    cgraph.EllipseShape,
	NodeKindStart:   cgraph.CircleShape,
	NodeKindEnd:     cgraph.DoubleCircleShape,
	NodeKindFail:    cgraph.DoubleCircleShape,
	NodeKindStop:    cgraph.DoubleCircleShape,
}

// statusPalette maps a status class to fill and font colors.
var statusPalette = map[string][2]string{
	"completed": {"#2d6a2d", "white"},
	"failed":    {"#8b1a1a", "white"},
	"running":   {"#1a5276", "white"},
	"stopped":   {"#b7791a", "white"},
	"replayed":  {"#d3d3d3", "black"},
}

func applyNodeStyle(gvNode *cgraph.Node, node *Node) {
	if shape, ok := kindShapes[node.Kind]; ok {
		gvNode.SetShape(shape)
	}
	switch node.Kind {
	case NodeKindStart, NodeKindEnd, NodeKindFail, NodeKindStop:
		gvNode.SetWidth(0.4)
		gvNode.SetHeight(0.4)
	}
	if colors, ok := statusPalette[statusClass(node.Status)]; ok {
		gvNode.SetStyle(cgraph.FilledNodeStyle)
		gvNode.SetFillColor(colors[0])
		gvNode.SetFontColor(colors[1])
	}
}

// applyEdgeStyle dashes wildcard rules and colors FAILED routes.
func applyEdgeStyle(e *cgraph.Edge, label string) {
	if label == "" {
		return
	}
	e.SetLabel(label)
	switch {
	case label == schema.Wildcard:
		e.SetStyle(cgraph.DashedEdgeStyle)
	case label == string(schema.StatusFailed):
		e.SetColor("#8b1a1a")
	}
}
