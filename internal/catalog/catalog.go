// Package catalog is the registry of node-kind descriptors: the ports each
// kind exposes, its parameter schema, its expression-valued parameters and
// its cost weights. Both the editing surface and the validator consult it,
// so adding a new block type means adding one descriptor here.
package catalog

import (
	"github.com/stratflow/stratflow/pkg/schema"
)

// ValueDomain is the declared data domain of a port. The edge boundary is
// dynamically typed, so domains drive advisory compatibility warnings only.
type ValueDomain string

const (
	DomainSeries ValueDomain = "series" // numeric time series (prices, indicator values)
	DomainSignal ValueDomain = "signal" // boolean trigger stream
	DomainOrder  ValueDomain = "order"  // order intents
	DomainAny    ValueDomain = "any"
)

// Compatible reports whether a value of domain from may feed a port of
// domain to. DomainAny is compatible in both directions.
func Compatible(from, to ValueDomain) bool {
	if from == DomainAny || to == DomainAny {
		return true
	}
	return from == to
}

// InputPort describes one typed input a kind exposes.
type InputPort struct {
	Name        string
	Domain      ValueDomain
	Required    bool // zero incoming edges is an error
	SingleInput bool // more than one incoming edge is an error
}

// OutputPort describes one typed output a kind exposes.
type OutputPort struct {
	Name   string
	Domain ValueDomain
}

// ExprLang names the expression language an expression-valued parameter is
// written in.
type ExprLang string

const (
	LangExpr ExprLang = "expr" // expr-lang/expr
	LangCEL  ExprLang = "cel"  // google/cel-go
	LangJQ   ExprLang = "jq"   // itchyny/gojq
)

// Descriptor describes one node kind.
type Descriptor struct {
	Kind    schema.NodeKind
	Inputs  []InputPort
	Outputs []OutputPort

	// ExprParams maps parameter names whose string values are expressions
	// to the language they must compile under.
	ExprParams map[string]ExprLang

	// CostWeight and MemWeight scale the performance estimate; a
	// technicalIndicator costs more than a logic gate.
	CostWeight float64
	MemWeight  float64

	paramSchema string // embedded JSON Schema for the parameter bag
}

// Input returns the input port with the given handle. The empty handle
// resolves to the kind's first input, so single-input nodes need no
// explicit targetHandle on their edges.
func (d *Descriptor) Input(handle string) (*InputPort, bool) {
	if handle == "" {
		if len(d.Inputs) == 0 {
			return nil, false
		}
		return &d.Inputs[0], true
	}
	for i := range d.Inputs {
		if d.Inputs[i].Name == handle {
			return &d.Inputs[i], true
		}
	}
	return nil, false
}

// Output returns the output port with the given handle, resolving the
// empty handle to the first output.
func (d *Descriptor) Output(handle string) (*OutputPort, bool) {
	if handle == "" {
		if len(d.Outputs) == 0 {
			return nil, false
		}
		return &d.Outputs[0], true
	}
	for i := range d.Outputs {
		if d.Outputs[i].Name == handle {
			return &d.Outputs[i], true
		}
	}
	return nil, false
}

// builtinDescriptors defines the closed kind set of the strategy palette.
func builtinDescriptors() []*Descriptor {
	return []*Descriptor{
		{
			Kind:        schema.KindDataSource,
			Outputs:     []OutputPort{{Name: "out", Domain: DomainSeries}},
			CostWeight:  2,
			MemWeight:   4,
			paramSchema: dataSourceSchema,
		},
		{
			Kind:        schema.KindCustomDataset,
			Outputs:     []OutputPort{{Name: "out", Domain: DomainSeries}},
			ExprParams:  map[string]ExprLang{"query": LangJQ},
			CostWeight:  2,
			MemWeight:   6,
			paramSchema: customDatasetSchema,
		},
		{
			Kind: schema.KindTechnicalIndicator,
			Inputs: []InputPort{
				{Name: "in", Domain: DomainSeries, Required: true, SingleInput: true},
			},
			Outputs:     []OutputPort{{Name: "out", Domain: DomainSeries}},
			CostWeight:  5,
			MemWeight:   3,
			paramSchema: technicalIndicatorSchema,
		},
		{
			Kind: schema.KindCondition,
			Inputs: []InputPort{
				{Name: "left", Domain: DomainSeries, Required: true, SingleInput: true},
				{Name: "right", Domain: DomainSeries, SingleInput: true},
			},
			Outputs: []OutputPort{
				{Name: "true", Domain: DomainSignal},
				{Name: "false", Domain: DomainSignal},
				{Name: "maybe", Domain: DomainSignal},
			},
			ExprParams:  map[string]ExprLang{"expression": LangExpr},
			CostWeight:  1,
			MemWeight:   1,
			paramSchema: conditionSchema,
		},
		{
			Kind: schema.KindLogic,
			Inputs: []InputPort{
				{Name: "in", Domain: DomainSignal, Required: true},
			},
			Outputs: []OutputPort{
				{Name: "true", Domain: DomainSignal},
				{Name: "false", Domain: DomainSignal},
			},
			ExprParams:  map[string]ExprLang{"expression": LangExpr},
			CostWeight:  1,
			MemWeight:   1,
			paramSchema: logicSchema,
		},
		{
			Kind: schema.KindRisk,
			Inputs: []InputPort{
				{Name: "in", Domain: DomainSignal, Required: true, SingleInput: true},
			},
			Outputs:     []OutputPort{{Name: "out", Domain: DomainSignal}},
			ExprParams:  map[string]ExprLang{"guard": LangCEL},
			CostWeight:  2,
			MemWeight:   1,
			paramSchema: riskSchema,
		},
		{
			Kind: schema.KindAction,
			Inputs: []InputPort{
				{Name: "trigger", Domain: DomainSignal, Required: true, SingleInput: true},
			},
			Outputs:     []OutputPort{{Name: "out", Domain: DomainOrder}},
			CostWeight:  3,
			MemWeight:   1,
			paramSchema: actionSchema,
		},
		{
			Kind: schema.KindOutput,
			Inputs: []InputPort{
				{Name: "in", Domain: DomainAny, Required: true},
			},
			CostWeight:  1,
			MemWeight:   2,
			paramSchema: outputSchema,
		},
	}
}
