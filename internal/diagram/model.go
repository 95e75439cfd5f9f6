// Package diagram renders strategy graphs for export. It builds a
// renderer-neutral model from a graph and emits Mermaid text or a PNG
// image via graphviz.
package diagram

import "github.com/stratflow/stratflow/pkg/schema"

// Model is the intermediate representation shared by all renderers.
type Model struct {
	Title string
	Nodes []*Node
	Edges []Edge
}

// Node is one vertex of the rendered graph.
type Node struct {
	ID    string
	Label string
	Kind  schema.NodeKind
}

// Edge is a directed connection. Label carries the branch for edges
// leaving condition and logic nodes, empty otherwise.
type Edge struct {
	From  string
	To    string
	Label string
}
