package catalog

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/stratflow/stratflow/pkg/schema"
)

// Per-kind parameter schemas (JSON Schema Draft 2020-12). Embedded as
// constants to avoid filesystem dependencies.

const dataSourceSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["symbol"],
  "properties": {
    "symbol": { "type": "string", "minLength": 1 },
    "timeframe": {
      "type": "string",
      "enum": ["1m", "5m", "15m", "30m", "1h", "4h", "1d", "1w"]
    },
    "source": { "type": "string" }
  },
  "additionalProperties": false
}`

const customDatasetSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["datasetId"],
  "properties": {
    "datasetId": { "type": "string", "minLength": 1 },
    "query": { "type": "string" },
    "valueColumn": { "type": "string" }
  },
  "additionalProperties": false
}`

const technicalIndicatorSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["indicator"],
  "properties": {
    "indicator": {
      "type": "string",
      "enum": ["RSI", "SMA", "EMA", "MACD", "BB", "ATR", "STOCH", "VWAP"]
    },
    "period": { "type": "integer", "minimum": 1 },
    "fastPeriod": { "type": "integer", "minimum": 1 },
    "slowPeriod": { "type": "integer", "minimum": 1 },
    "signalPeriod": { "type": "integer", "minimum": 1 },
    "deviation": { "type": "number", "exclusiveMinimum": 0 }
  },
  "additionalProperties": false,
  "allOf": [
    {
      "if": { "properties": { "indicator": { "enum": ["RSI", "SMA", "EMA", "ATR", "STOCH"] } } },
      "then": { "required": ["period"] }
    }
  ]
}`

const conditionSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "operator": {
      "type": "string",
      "enum": ["gt", "lt", "gte", "lte", "eq", "crossAbove", "crossBelow"]
    },
    "operand": { "type": "number" },
    "expression": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": false,
  "anyOf": [
    { "required": ["operator"] },
    { "required": ["expression"] }
  ]
}`

const logicSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["gate"],
  "properties": {
    "gate": { "type": "string", "enum": ["and", "or", "not", "xor"] },
    "expression": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": false
}`

const riskSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "maxDrawdownPct": { "type": "number", "exclusiveMinimum": 0, "maximum": 100 },
    "maxPositionSize": { "type": "number", "exclusiveMinimum": 0 },
    "stopLossPct": { "type": "number", "exclusiveMinimum": 0, "maximum": 100 },
    "guard": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": false
}`

const actionSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["side"],
  "properties": {
    "side": { "type": "string", "enum": ["buy", "sell"] },
    "orderType": { "type": "string", "enum": ["market", "limit"] },
    "quantity": { "type": "number", "exclusiveMinimum": 0 },
    "limitPrice": { "type": "number", "exclusiveMinimum": 0 }
  },
  "additionalProperties": false
}`

const outputSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "label": { "type": "string" },
    "format": { "type": "string", "enum": ["chart", "table", "log"] }
  },
  "additionalProperties": false
}`

// Catalog holds the compiled descriptor registry. Safe for concurrent use;
// descriptors are immutable after construction.
type Catalog struct {
	descriptors map[schema.NodeKind]*Descriptor
	compiled    map[schema.NodeKind]*jsonschema.Schema
}

var (
	defaultOnce sync.Once
	defaultCat  *Catalog
	defaultErr  error
)

// Default returns the process-wide catalog of built-in kinds. The schemas
// are constants, so compilation can only fail on a programming error; the
// error is still returned rather than panicking.
func Default() (*Catalog, error) {
	defaultOnce.Do(func() {
		defaultCat, defaultErr = New(builtinDescriptors())
	})
	return defaultCat, defaultErr
}

// New compiles the given descriptors into a catalog.
func New(descriptors []*Descriptor) (*Catalog, error) {
	c := &Catalog{
		descriptors: make(map[schema.NodeKind]*Descriptor, len(descriptors)),
		compiled:    make(map[schema.NodeKind]*jsonschema.Schema, len(descriptors)),
	}
	for _, d := range descriptors {
		if _, exists := c.descriptors[d.Kind]; exists {
			return nil, fmt.Errorf("duplicate descriptor for kind %q", d.Kind)
		}
		c.descriptors[d.Kind] = d

		if d.paramSchema == "" {
			continue
		}
		compiled, err := compileKindSchema(d.Kind, d.paramSchema)
		if err != nil {
			return nil, fmt.Errorf("compile %s parameter schema: %w", d.Kind, err)
		}
		c.compiled[d.Kind] = compiled
	}
	return c, nil
}

func compileKindSchema(kind schema.NodeKind, raw string) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	url := fmt.Sprintf("stratflow://schemas/kinds/%s.json", kind)
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat()
	if err := compiler.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return compiler.Compile(url)
}

// Descriptor returns the descriptor for a kind, or false for unknown kinds.
func (c *Catalog) Descriptor(kind schema.NodeKind) (*Descriptor, bool) {
	d, ok := c.descriptors[kind]
	return d, ok
}

// ValidateParameters checks a parameter bag against the kind's schema and
// returns one human-readable violation per problem, sorted for determinism.
// An unknown kind returns a single violation.
func (c *Catalog) ValidateParameters(kind schema.NodeKind, params map[string]any) []string {
	if _, ok := c.descriptors[kind]; !ok {
		return []string{fmt.Sprintf("unknown node kind %q", kind)}
	}
	compiled, ok := c.compiled[kind]
	if !ok {
		return nil
	}
	if params == nil {
		params = map[string]any{}
	}

	doc, err := toJSONValue(params)
	if err != nil {
		return []string{fmt.Sprintf("parameters are not JSON-representable: %v", err)}
	}
	err = compiled.Validate(doc)
	if err == nil {
		return nil
	}

	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{err.Error()}
	}
	violations := collectViolations(verr)
	sort.Strings(violations)
	return violations
}

// toJSONValue round-trips a Go value through JSON so numbers become
// json.Number, which the jsonschema library requires.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// collectViolations walks a ValidationError tree and collects leaf messages
// with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}
	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
