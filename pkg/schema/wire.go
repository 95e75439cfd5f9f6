package schema

import (
	"encoding/json"
	"fmt"
	"sort"
)

// WireWorkflow is the persisted graph format. Field names and shapes are
// frozen for backward compatibility with previously saved workflows.
type WireWorkflow struct {
	Nodes []WireNode `json:"nodes"`
	Edges []WireEdge `json:"edges"`
}

// WireNode is the persisted node shape. Type carries the node kind and Data
// carries the parameter bag.
type WireNode struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Position Position       `json:"position"`
	Data     map[string]any `json:"data"`
}

// WireEdge is the persisted edge shape.
type WireEdge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
}

// ToWire converts a graph to its persisted shape.
func (g *Graph) ToWire() *WireWorkflow {
	w := &WireWorkflow{
		Nodes: make([]WireNode, 0, len(g.Nodes)),
		Edges: make([]WireEdge, 0, len(g.Edges)),
	}
	for _, n := range g.Nodes {
		w.Nodes = append(w.Nodes, WireNode{
			ID:       n.ID,
			Type:     string(n.Kind),
			Position: n.Position,
			Data:     n.Parameters,
		})
	}
	for _, e := range g.Edges {
		w.Edges = append(w.Edges, WireEdge{
			ID:           e.ID,
			Source:       e.SourceNodeID,
			Target:       e.TargetNodeID,
			SourceHandle: e.SourceHandle,
			TargetHandle: e.TargetHandle,
		})
	}
	return w
}

// FromWire converts a persisted workflow into a graph, deriving edge
// condition kinds from source handles. Node kinds are not checked here;
// the validator rejects unknown kinds with attribution.
func FromWire(w *WireWorkflow) *Graph {
	g := &Graph{
		Nodes: make([]Node, 0, len(w.Nodes)),
		Edges: make([]Edge, 0, len(w.Edges)),
	}
	for _, n := range w.Nodes {
		g.Nodes = append(g.Nodes, Node{
			ID:         n.ID,
			Kind:       NodeKind(n.Type),
			Parameters: n.Data,
			Position:   n.Position,
		})
	}
	for _, e := range w.Edges {
		g.Edges = append(g.Edges, Edge{
			ID:           e.ID,
			SourceNodeID: e.Source,
			TargetNodeID: e.Target,
			SourceHandle: e.SourceHandle,
			TargetHandle: e.TargetHandle,
		})
	}
	g.NormalizeConditionKinds()
	return g
}

// DecodeWire parses serialized workflow_data into a graph.
func DecodeWire(data []byte) (*Graph, error) {
	var w WireWorkflow
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode workflow_data: %w", err)
	}
	return FromWire(&w), nil
}

// EncodeWire serializes a graph as workflow_data.
func EncodeWire(g *Graph) ([]byte, error) {
	data, err := json.Marshal(g.ToWire())
	if err != nil {
		return nil, fmt.Errorf("encode workflow_data: %w", err)
	}
	return data, nil
}

// Canonical returns a normalized serialization of the graph with nodes and
// edges sorted by id and parameter keys sorted. Two graphs are structurally
// equal iff their canonical bytes are equal, regardless of element order or
// map iteration. Used by the session manager's no-op edit detection.
func (g *Graph) Canonical() []byte {
	nodes := make([]Node, len(g.Nodes))
	copy(nodes, g.Nodes)
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	edges := make([]Edge, len(g.Edges))
	copy(edges, g.Edges)
	sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })

	// encoding/json sorts map keys, so the parameter bags are stable.
	data, err := json.Marshal(Graph{Nodes: nodes, Edges: edges})
	if err != nil {
		// Graph contains only JSON-representable values once decoded from
		// the wire; a marshal failure here means a programming error.
		panic(fmt.Sprintf("canonicalize graph: %v", err))
	}
	return data
}
