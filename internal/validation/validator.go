// Package validation implements the graph validator: a pure function from
// a strategy graph to an attributable report. Unlike a compiler front-end
// there is no fail-fast: every check runs so the editing surface gets the
// complete picture in one pass, then the error-over-warning tie-break is
// applied per node/edge.
package validation

import (
	"fmt"

	"github.com/stratflow/stratflow/internal/catalog"
	"github.com/stratflow/stratflow/internal/expressions"
	"github.com/stratflow/stratflow/pkg/schema"
)

// Validator checks strategy graphs before they are persisted or executed.
// Safe for concurrent use; Validate has no shared mutable state beyond the
// internally locked schema and expression caches.
type Validator struct {
	catalog *catalog.Catalog
	exprs   *expressions.Registry
}

// New creates a Validator over the default kind catalog.
func New() (*Validator, error) {
	cat, err := catalog.Default()
	if err != nil {
		return nil, fmt.Errorf("load kind catalog: %w", err)
	}
	reg, err := expressions.NewRegistry()
	if err != nil {
		return nil, fmt.Errorf("create expression registry: %w", err)
	}
	return &Validator{catalog: cat, exprs: reg}, nil
}

// Validate runs every check and returns the complete report. Deterministic:
// identical graphs produce byte-equal reports.
func (v *Validator) Validate(g *schema.Graph) *schema.ValidationReport {
	report := &schema.ValidationReport{
		Errors:      []schema.Issue{},
		Warnings:    []schema.Issue{},
		Suggestions: []schema.Issue{},
	}
	if g == nil {
		report.AddError("", "", "graph is nil")
		report.Finalize()
		return report
	}

	nodes := indexNodes(g, report)
	resolved := v.resolveEdges(g, nodes, report)

	cyclicEdges := checkCycles(g, resolved, report)
	checkReachability(g, resolved, report)
	v.checkArity(g, resolved, report)
	checkDomains(resolved, report)
	v.checkParameters(g, report)
	checkShape(g, report)
	v.estimate(g, resolved, cyclicEdges, report)

	report.Finalize()
	return report
}

// nodeIndex caches per-node lookups shared by the checks.
type nodeIndex struct {
	byID map[string]*schema.Node
}

// indexNodes builds the node index and reports duplicate ids. Duplicate ids
// violate a graph invariant the editing surface should never produce, so
// they are errors attributed to the node.
func indexNodes(g *schema.Graph, report *schema.ValidationReport) *nodeIndex {
	idx := &nodeIndex{byID: make(map[string]*schema.Node, len(g.Nodes))}
	for i := range g.Nodes {
		n := &g.Nodes[i]
		if _, dup := idx.byID[n.ID]; dup {
			report.AddError(n.ID, "", fmt.Sprintf("duplicate node id %q", n.ID))
			continue
		}
		idx.byID[n.ID] = n
	}
	return idx
}

// resolvedEdge is an edge whose endpoints and ports resolved successfully.
// Checks past referential integrity only see resolved edges.
type resolvedEdge struct {
	edge   *schema.Edge
	source *schema.Node
	target *schema.Node
	out    *catalog.OutputPort
	in     *catalog.InputPort
}

// resolveEdges performs referential integrity: endpoints must exist and
// handles must name ports the node kind actually exposes. Violations are
// errors attributed to the edge.
func (v *Validator) resolveEdges(g *schema.Graph, nodes *nodeIndex, report *schema.ValidationReport) []resolvedEdge {
	resolved := make([]resolvedEdge, 0, len(g.Edges))
	for i := range g.Edges {
		e := &g.Edges[i]
		src, srcOK := nodes.byID[e.SourceNodeID]
		if !srcOK {
			report.AddError("", e.ID, fmt.Sprintf("source references non-existent node %q", e.SourceNodeID))
		}
		dst, dstOK := nodes.byID[e.TargetNodeID]
		if !dstOK {
			report.AddError("", e.ID, fmt.Sprintf("target references non-existent node %q", e.TargetNodeID))
		}
		if !srcOK || !dstOK {
			continue
		}

		// Unknown kinds are reported once by the parameter check; port
		// resolution is meaningless for them.
		srcDesc, srcKnown := v.catalog.Descriptor(src.Kind)
		dstDesc, dstKnown := v.catalog.Descriptor(dst.Kind)
		if !srcKnown || !dstKnown {
			continue
		}

		out, ok := srcDesc.Output(e.SourceHandle)
		if !ok {
			report.AddError("", e.ID,
				fmt.Sprintf("node kind %s exposes no output port %q", src.Kind, e.SourceHandle))
			continue
		}
		in, ok := dstDesc.Input(e.TargetHandle)
		if !ok {
			report.AddError("", e.ID,
				fmt.Sprintf("node kind %s exposes no input port %q", dst.Kind, e.TargetHandle))
			continue
		}

		resolved = append(resolved, resolvedEdge{edge: e, source: src, target: dst, out: out, in: in})
	}
	return resolved
}
