package validation

import (
	"fmt"

	"github.com/stratflow/stratflow/pkg/schema"
)

// Path counting through fan-out/fan-in diamonds grows exponentially; the
// count is capped so the estimate stays a UI hint, not a combinatorics
// exercise.
const maxSignalPaths = 10000

// complexityBudget is the advisory threshold above which a suggestion to
// simplify is emitted.
const complexityBudget = 200

// estimate computes the advisory performance metrics. Cyclic edges are
// excluded so the longest-path and path-count recurrences terminate; the
// cycle itself is already an error. estimatedComplexity is monotonic in
// node count, edge count and logic depth, and time/memory scale linearly
// off it with per-kind weights from the catalog.
func (v *Validator) estimate(g *schema.Graph, resolved []resolvedEdge, cyclicEdges map[string]bool, report *schema.ValidationReport) {
	adj := make(map[string][]string, len(g.Nodes))
	indegree := make(map[string]int, len(g.Nodes))
	for i := range g.Nodes {
		indegree[g.Nodes[i].ID] = 0
	}
	for _, re := range resolved {
		if cyclicEdges[re.edge.ID] {
			continue
		}
		adj[re.source.ID] = append(adj[re.source.ID], re.target.ID)
		indegree[re.target.ID]++
	}

	// Topological order (Kahn), seeded in graph order for determinism.
	var queue []string
	for i := range g.Nodes {
		if indegree[g.Nodes[i].ID] == 0 {
			queue = append(queue, g.Nodes[i].ID)
		}
	}
	var topo []string
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		topo = append(topo, id)
		for _, next := range adj[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	// Longest path in edges, and path counts from source-kind nodes.
	depth := make(map[string]int, len(g.Nodes))
	paths := make(map[string]int, len(g.Nodes))
	for i := range g.Nodes {
		n := &g.Nodes[i]
		if n.Kind == schema.KindDataSource || n.Kind == schema.KindCustomDataset {
			paths[n.ID] = 1
		}
	}
	logicDepth := 0
	for _, id := range topo {
		for _, next := range adj[id] {
			if d := depth[id] + 1; d > depth[next] {
				depth[next] = d
				if d > logicDepth {
					logicDepth = d
				}
			}
			if paths[id] > 0 {
				paths[next] += paths[id]
				if paths[next] > maxSignalPaths {
					paths[next] = maxSignalPaths
				}
			}
		}
	}

	signalPaths := 0
	for i := range g.Nodes {
		n := &g.Nodes[i]
		if n.Kind == schema.KindOutput || n.Kind == schema.KindAction {
			signalPaths += paths[n.ID]
			if signalPaths > maxSignalPaths {
				signalPaths = maxSignalPaths
				break
			}
		}
	}

	complexity := float64(len(g.Nodes)) + 2*float64(len(g.Edges)) + 3*float64(logicDepth)

	var costSum, memSum float64
	for i := range g.Nodes {
		cost, mem := 1.0, 1.0
		if desc, ok := v.catalog.Descriptor(g.Nodes[i].Kind); ok {
			cost, mem = desc.CostWeight, desc.MemWeight
		}
		costSum += cost
		memSum += mem
	}

	report.PerformanceEstimate = schema.PerformanceEstimate{
		EstimatedComplexity:    complexity,
		EstimatedExecutionTime: complexity*0.5 + costSum*2, // ms
		MemoryUsage:            complexity*0.25 + memSum*8, // KB
		LogicDepth:             logicDepth,
		IndicatorCount:         g.CountKind(schema.KindTechnicalIndicator),
		SignalPathCount:        signalPaths,
	}

	if complexity > complexityBudget {
		report.AddSuggestion("", "", fmt.Sprintf(
			"estimated complexity %.0f exceeds %d; consider splitting the strategy into smaller graphs",
			complexity, complexityBudget))
	}
	if g.CountKind(schema.KindRisk) == 0 && g.CountKind(schema.KindAction) > 0 {
		report.AddSuggestion("", "", "strategy places orders without a risk node; consider adding risk controls")
	}
}
