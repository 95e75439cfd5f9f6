package validation

import (
	"fmt"

	"github.com/stratflow/stratflow/internal/catalog"
	"github.com/stratflow/stratflow/pkg/schema"
)

// checkCycles finds strongly connected components over the resolved edges
// (Tarjan, iterating nodes in graph order for deterministic output) and
// reports one error per edge that participates in a cycle: an edge inside
// an SCC of size > 1, or a self-loop. A cyclic dependency cannot be
// evaluated in a single pass, so each offending connection is highlighted.
// Returns the set of cyclic edge ids so the estimator can skip them.
func checkCycles(g *schema.Graph, resolved []resolvedEdge, report *schema.ValidationReport) map[string]bool {
	adj := make(map[string][]string, len(g.Nodes))
	for _, re := range resolved {
		adj[re.source.ID] = append(adj[re.source.ID], re.target.ID)
	}

	// Iterative Tarjan. index/lowlink per node id.
	const unvisited = -1
	index := make(map[string]int, len(g.Nodes))
	lowlink := make(map[string]int, len(g.Nodes))
	onStack := make(map[string]bool, len(g.Nodes))
	comp := make(map[string]int, len(g.Nodes)) // node id -> SCC id
	compSize := make(map[int]int)
	var stack []string
	counter := 0
	nextComp := 0

	for i := range g.Nodes {
		index[g.Nodes[i].ID] = unvisited
	}

	type frame struct {
		node string
		next int
	}
	for i := range g.Nodes {
		root := g.Nodes[i].ID
		if index[root] != unvisited {
			continue
		}
		frames := []frame{{node: root}}
		index[root] = counter
		lowlink[root] = counter
		counter++
		stack = append(stack, root)
		onStack[root] = true

		for len(frames) > 0 {
			f := &frames[len(frames)-1]
			if f.next < len(adj[f.node]) {
				next := adj[f.node][f.next]
				f.next++
				if index[next] == unvisited {
					index[next] = counter
					lowlink[next] = counter
					counter++
					stack = append(stack, next)
					onStack[next] = true
					frames = append(frames, frame{node: next})
				} else if onStack[next] {
					if index[next] < lowlink[f.node] {
						lowlink[f.node] = index[next]
					}
				}
				continue
			}

			// Node finished: pop frame, propagate lowlink, maybe emit SCC.
			finished := f.node
			frames = frames[:len(frames)-1]
			if len(frames) > 0 {
				parent := frames[len(frames)-1].node
				if lowlink[finished] < lowlink[parent] {
					lowlink[parent] = lowlink[finished]
				}
			}
			if lowlink[finished] == index[finished] {
				size := 0
				for {
					top := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					onStack[top] = false
					comp[top] = nextComp
					size++
					if top == finished {
						break
					}
				}
				compSize[nextComp] = size
				nextComp++
			}
		}
	}

	cyclic := make(map[string]bool)
	for _, re := range resolved {
		sameComp := comp[re.source.ID] == comp[re.target.ID]
		selfLoop := re.source.ID == re.target.ID
		if selfLoop || (sameComp && compSize[comp[re.source.ID]] > 1) {
			cyclic[re.edge.ID] = true
			report.AddError("", re.edge.ID, "edge participates in a dependency cycle")
		}
	}
	return cyclic
}

// checkReachability warns about nodes with no path to any output or action
// node. Dead branches are legal during editing, so this never blocks.
func checkReachability(g *schema.Graph, resolved []resolvedEdge, report *schema.ValidationReport) {
	reverse := make(map[string][]string, len(g.Nodes))
	for _, re := range resolved {
		reverse[re.target.ID] = append(reverse[re.target.ID], re.source.ID)
	}

	// BFS backwards from every sink-kind node.
	reachesSink := make(map[string]bool, len(g.Nodes))
	var queue []string
	for i := range g.Nodes {
		n := &g.Nodes[i]
		if n.Kind == schema.KindOutput || n.Kind == schema.KindAction {
			reachesSink[n.ID] = true
			queue = append(queue, n.ID)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, prev := range reverse[id] {
			if !reachesSink[prev] {
				reachesSink[prev] = true
				queue = append(queue, prev)
			}
		}
	}

	for i := range g.Nodes {
		n := &g.Nodes[i]
		if !reachesSink[n.ID] {
			report.AddWarning(n.ID, "",
				fmt.Sprintf("node %q has no path to any output or action node", n.ID))
		}
	}
}

// checkArity enforces port arity: single-input ports with more than one
// incoming edge and required inputs with zero incoming edges are errors
// attributed to the node.
func (v *Validator) checkArity(g *schema.Graph, resolved []resolvedEdge, report *schema.ValidationReport) {
	type portKey struct {
		nodeID string
		port   string
	}
	incoming := make(map[portKey]int, len(resolved))
	for _, re := range resolved {
		incoming[portKey{re.target.ID, re.in.Name}]++
	}

	for i := range g.Nodes {
		n := &g.Nodes[i]
		desc, ok := v.catalog.Descriptor(n.Kind)
		if !ok {
			continue
		}
		for _, in := range desc.Inputs {
			count := incoming[portKey{n.ID, in.Name}]
			if in.Required && count == 0 {
				report.AddError(n.ID, "",
					fmt.Sprintf("required input %q has no incoming connection", in.Name))
			}
			if in.SingleInput && count > 1 {
				report.AddError(n.ID, "",
					fmt.Sprintf("input %q accepts a single connection but has %d", in.Name, count))
			}
		}
	}
}

// checkDomains is the advisory type-compatibility check: the edge boundary
// is dynamically typed, so a declared-domain mismatch is a warning on the
// edge, never an error.
func checkDomains(resolved []resolvedEdge, report *schema.ValidationReport) {
	for _, re := range resolved {
		if !catalog.Compatible(re.out.Domain, re.in.Domain) {
			report.AddWarning("", re.edge.ID,
				fmt.Sprintf("output %q produces %s but input %q expects %s",
					re.out.Name, re.out.Domain, re.in.Name, re.in.Domain))
		}
	}
}

// checkShape rejects graphs without the minimum viable shape: at least one
// data source and at least one sink. Graph-level errors, no attribution.
func checkShape(g *schema.Graph, report *schema.ValidationReport) {
	sources := g.CountKind(schema.KindDataSource) + g.CountKind(schema.KindCustomDataset)
	sinks := g.CountKind(schema.KindOutput) + g.CountKind(schema.KindAction)
	if sources == 0 {
		report.AddError("", "", "strategy has no data source or custom dataset node")
	}
	if sinks == 0 {
		report.AddError("", "", "strategy has no output/action node")
	}
}
