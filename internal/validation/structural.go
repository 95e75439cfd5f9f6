package validation

import (
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/stratflow/stratflow/pkg/schema"
)

// wireSchemaJSON is the JSON Schema for the persisted workflow_data format.
// Embedded as a constant to avoid filesystem dependencies. The field names
// are a compatibility contract with previously saved workflows.
const wireSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "stratflow://schemas/workflow_data.json",
  "type": "object",
  "required": ["nodes", "edges"],
  "properties": {
    "nodes": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "type", "position"],
        "properties": {
          "id": { "type": "string", "minLength": 1 },
          "type": { "type": "string", "minLength": 1 },
          "position": {
            "type": "object",
            "required": ["x", "y"],
            "properties": {
              "x": { "type": "number" },
              "y": { "type": "number" }
            },
            "additionalProperties": false
          },
          "data": { "type": "object" }
        },
        "additionalProperties": false
      }
    },
    "edges": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "source", "target"],
        "properties": {
          "id": { "type": "string", "minLength": 1 },
          "source": { "type": "string", "minLength": 1 },
          "target": { "type": "string", "minLength": 1 },
          "sourceHandle": { "type": "string" },
          "targetHandle": { "type": "string" }
        },
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false
}`

var (
	wireOnce     sync.Once
	wireCompiled *jsonschema.Schema
	wireErr      error
)

func wireSchema() (*jsonschema.Schema, error) {
	wireOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(wireSchemaJSON))
		if err != nil {
			wireErr = fmt.Errorf("unmarshal wire schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		c.AssertFormat()
		if err := c.AddResource("stratflow://schemas/workflow_data.json", doc); err != nil {
			wireErr = fmt.Errorf("add wire schema resource: %w", err)
			return
		}
		wireCompiled, wireErr = c.Compile("stratflow://schemas/workflow_data.json")
	})
	return wireCompiled, wireErr
}

// CheckWireFormat validates raw workflow_data bytes against the persisted
// format's schema. Used on import and on writes arriving from the editing
// surface, before the bytes are decoded into a graph.
func CheckWireFormat(data []byte) error {
	compiled, err := wireSchema()
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "wire schema unavailable").WithCause(err)
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(data)))
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow_data is not valid JSON").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		verr, ok := err.(*jsonschema.ValidationError)
		if !ok {
			return schema.NewError(schema.ErrCodeValidation, err.Error())
		}
		violations := collectWireViolations(verr)
		msg := "workflow_data failed structural validation"
		if len(violations) == 1 {
			msg = violations[0]
		}
		return schema.NewError(schema.ErrCodeValidation, msg).
			WithDetails(map[string]any{"violations": violations})
	}
	return nil
}

func collectWireViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}
	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectWireViolations(cause)...)
	}
	return violations
}
