package validation

import (
	"fmt"
	"sort"

	"github.com/stratflow/stratflow/pkg/schema"
)

// checkParameters validates each node's parameter bag against its kind's
// schema and compiles expression-valued parameters under their declared
// language. Failures are errors attributed to the node; an unknown kind is
// reported here exactly once.
func (v *Validator) checkParameters(g *schema.Graph, report *schema.ValidationReport) {
	for i := range g.Nodes {
		n := &g.Nodes[i]

		for _, violation := range v.catalog.ValidateParameters(n.Kind, n.Parameters) {
			report.AddError(n.ID, "", violation)
		}

		desc, ok := v.catalog.Descriptor(n.Kind)
		if !ok || len(desc.ExprParams) == 0 {
			continue
		}

		// Sorted parameter names for deterministic issue ordering.
		names := make([]string, 0, len(desc.ExprParams))
		for name := range desc.ExprParams {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			raw, present := n.Parameters[name]
			if !present {
				continue
			}
			exprStr, isString := raw.(string)
			if !isString {
				// The schema already rejects non-string values; skip so the
				// node is not blamed twice for the same parameter.
				continue
			}
			if err := v.exprs.Check(string(desc.ExprParams[name]), exprStr); err != nil {
				report.AddError(n.ID, "", fmt.Sprintf("parameter %q: %s", name, errMessage(err)))
			}
		}
	}
}

// errMessage unwraps the structured message when available so node-attributed
// issues do not repeat the error code prefix.
func errMessage(err error) string {
	if se, ok := err.(*schema.Error); ok {
		return se.Message
	}
	return err.Error()
}
