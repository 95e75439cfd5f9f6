package diagram

import (
	"fmt"
	"strings"

	"github.com/stratflow/stratflow/pkg/schema"
)

// RenderMermaid renders a Model as a Mermaid flowchart string.
func RenderMermaid(m *Model) string {
	var b strings.Builder

	b.WriteString("graph TD\n")
	if m.Title != "" {
		b.WriteString(fmt.Sprintf("    %%%% %s\n", m.Title))
	}

	for _, node := range m.Nodes {
		b.WriteString(fmt.Sprintf("    %s\n", mermaidNodeDef(node)))
	}

	for _, edge := range m.Edges {
		label := ""
		if edge.Label != "" {
			label = fmt.Sprintf("|%s|", edge.Label)
		}
		b.WriteString(fmt.Sprintf("    %s -->%s %s\n",
			mermaidSafeID(edge.From), label, mermaidSafeID(edge.To)))
	}

	// Kind styling mirrors the canvas palette.
	b.WriteString("\n")
	b.WriteString("    classDef data fill:#1a5276,stroke:#0e3a52,color:#fff\n")
	b.WriteString("    classDef signal fill:#6b4a8a,stroke:#4a3260,color:#fff\n")
	b.WriteString("    classDef decision fill:#b7791a,stroke:#8a5c14,color:#fff\n")
	b.WriteString("    classDef trade fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef guard fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")

	for _, node := range m.Nodes {
		cls := mermaidKindClass(node.Kind)
		if cls != "" {
			b.WriteString(fmt.Sprintf("    class %s %s\n", mermaidSafeID(node.ID), cls))
		}
	}

	return b.String()
}

// mermaidNodeDef returns a Mermaid node definition with a shape per kind.
func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	label := node.Label

	switch node.Kind {
	case schema.KindDataSource, schema.KindCustomDataset:
		return fmt.Sprintf("%s([%q])", id, label)
	case schema.KindCondition, schema.KindLogic:
		return fmt.Sprintf("%s{%q}", id, label)
	case schema.KindRisk:
		return fmt.Sprintf("%s{{%q}}", id, label)
	case schema.KindAction:
		return fmt.Sprintf("%s[[%q]]", id, label)
	default: // technicalIndicator, output
		return fmt.Sprintf("%s[%q]", id, label)
	}
}

// mermaidSafeID converts a node ID to a Mermaid-safe identifier.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return r.Replace(id)
}

func mermaidKindClass(kind schema.NodeKind) string {
	switch kind {
	case schema.KindDataSource, schema.KindCustomDataset:
		return "data"
	case schema.KindTechnicalIndicator:
		return "signal"
	case schema.KindCondition, schema.KindLogic:
		return "decision"
	case schema.KindAction:
		return "trade"
	case schema.KindRisk:
		return "guard"
	default:
		return ""
	}
}
