package diagram

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"

	"github.com/stratflow/stratflow/pkg/schema"
)

// RenderImage renders a Model as a PNG image using graphviz.
func RenderImage(m *Model) ([]byte, error) {
	ctx := context.Background()

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
	if m.Title != "" {
		graph.SetLabel(m.Title)
	}

	gvNodes := make(map[string]*cgraph.Node, len(m.Nodes))
	for _, node := range m.Nodes {
		gvNode, nErr := graph.CreateNodeByName(node.ID)
		if nErr != nil {
			return nil, fmt.Errorf("diagram: create node %s: %w", node.ID, nErr)
		}
		gvNode.SetLabel(node.Label)
		applyNodeStyle(gvNode, node.Kind)
		gvNodes[node.ID] = gvNode
	}

	for _, edge := range m.Edges {
		fromGV, toGV := gvNodes[edge.From], gvNodes[edge.To]
		if fromGV != nil && toGV != nil {
			e, eErr := graph.CreateEdgeByName("", fromGV, toGV)
			if eErr == nil && edge.Label != "" {
				e.SetLabel(edge.Label)
			}
		}
	}

	var buf bytes.Buffer
	if err := gv.Render(ctx, graph, graphviz.PNG, &buf); err != nil {
		return nil, fmt.Errorf("diagram: render PNG: %w", err)
	}

	return buf.Bytes(), nil
}

// applyNodeStyle sets shape and fill per node kind.
func applyNodeStyle(gvNode *cgraph.Node, kind schema.NodeKind) {
	gvNode.SetStyle(cgraph.FilledNodeStyle)
	gvNode.SetFontColor("white")

	switch kind {
	case schema.KindDataSource, schema.KindCustomDataset:
		gvNode.SetShape(cgraph.EllipseShape)
		gvNode.SetFillColor("#1a5276")
	case schema.KindTechnicalIndicator:
		gvNode.SetShape(cgraph.BoxShape)
		gvNode.SetFillColor("#6b4a8a")
	case schema.KindCondition, schema.KindLogic:
		gvNode.SetShape(cgraph.DiamondShape)
		gvNode.SetFillColor("#b7791a")
	case schema.KindRisk:
		gvNode.SetShape(cgraph.HexagonShape)
		gvNode.SetFillColor("#8b1a1a")
	case schema.KindAction:
		gvNode.SetShape(cgraph.BoxShape)
		gvNode.SetFillColor("#2d6a2d")
	default: // output
		gvNode.SetShape(cgraph.BoxShape)
		gvNode.SetFillColor("#4a4a4a")
	}
}
