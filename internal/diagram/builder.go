package diagram

import (
	"fmt"

	"github.com/stratflow/stratflow/pkg/schema"
)

// Build constructs a Model from a strategy graph. Node and edge order
// follows the graph, so canonical graphs produce identical output.
func Build(title string, g *schema.Graph) *Model {
	m := &Model{Title: title}

	for i := range g.Nodes {
		n := &g.Nodes[i]
		m.Nodes = append(m.Nodes, &Node{
			ID:    n.ID,
			Label: nodeLabel(n),
			Kind:  n.Kind,
		})
	}

	for i := range g.Edges {
		e := &g.Edges[i]
		m.Edges = append(m.Edges, Edge{
			From:  e.SourceNodeID,
			To:    e.TargetNodeID,
			Label: edgeLabel(e),
		})
	}

	return m
}

// nodeLabel folds the one parameter that identifies a node into its
// label, so a rendered diagram is readable without the parameter panel.
func nodeLabel(n *schema.Node) string {
	detail := ""
	switch n.Kind {
	case schema.KindDataSource:
		detail = paramString(n.Parameters, "symbol")
	case schema.KindCustomDataset:
		detail = paramString(n.Parameters, "datasetId")
	case schema.KindTechnicalIndicator:
		detail = paramString(n.Parameters, "indicator")
	case schema.KindCondition:
		detail = paramString(n.Parameters, "operator")
	case schema.KindLogic:
		detail = paramString(n.Parameters, "gate")
	case schema.KindAction:
		detail = paramString(n.Parameters, "side")
	case schema.KindOutput:
		detail = paramString(n.Parameters, "label")
	}
	if detail == "" {
		return n.ID
	}
	return fmt.Sprintf("%s (%s)", n.ID, detail)
}

func paramString(params map[string]any, key string) string {
	if params == nil {
		return ""
	}
	s, _ := params[key].(string)
	return s
}

func edgeLabel(e *schema.Edge) string {
	switch e.ConditionKind {
	case schema.ConditionTrue, schema.ConditionFalse, schema.ConditionMaybe:
		return string(e.ConditionKind)
	}
	return ""
}
