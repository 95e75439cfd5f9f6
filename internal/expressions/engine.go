// Package expressions hosts the expression languages accepted in node
// parameters. The validator uses Check to reject unparseable expressions at
// edit time; compiled programs are cached so repeated validation of the
// same graph stays cheap.
package expressions

import (
	"fmt"

	"github.com/stratflow/stratflow/pkg/schema"
)

// Checker syntax-checks expressions of one language.
// Three implementations: Expr (condition/logic), CEL (risk guards),
// GoJQ (dataset extraction queries).
type Checker interface {
	Name() string
	Check(expression string) error
}

// Registry maps language names to checkers.
type Registry struct {
	checkers map[string]Checker
}

// NewRegistry builds a registry with the three built-in engines.
func NewRegistry() (*Registry, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, fmt.Errorf("create CEL engine: %w", err)
	}
	r := &Registry{checkers: make(map[string]Checker)}
	for _, c := range []Checker{NewExprEngine(), celEngine, NewGoJQEngine()} {
		r.checkers[c.Name()] = c
	}
	return r, nil
}

// Check validates an expression under the named language. Unknown languages
// are a programming error surfaced as a structured error.
func (r *Registry) Check(lang, expression string) error {
	c, ok := r.checkers[lang]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeValidation, "unknown expression language %q", lang)
	}
	return c.Check(expression)
}
