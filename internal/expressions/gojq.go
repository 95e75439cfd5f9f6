package expressions

import (
	"sync"

	"github.com/itchyny/gojq"

	"github.com/stratflow/stratflow/pkg/schema"
)

// GoJQEngine checks customDataset extraction queries written in jq.
// Thread-safe: parsed queries are cached across goroutines.
type GoJQEngine struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Query
}

// NewGoJQEngine creates a new GoJQ engine.
func NewGoJQEngine() *GoJQEngine {
	return &GoJQEngine{cache: make(map[string]*gojq.Query)}
}

// Name returns the engine identifier.
func (e *GoJQEngine) Name() string { return "jq" }

// Check parses the jq expression, caching the query on success.
func (e *GoJQEngine) Check(expression string) error {
	if expression == "" {
		return schema.NewError(schema.ErrCodeValidation, "empty jq expression")
	}

	e.mu.RLock()
	_, cached := e.cache[expression]
	e.mu.RUnlock()
	if cached {
		return nil
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"invalid jq expression %q: %s", expression, err.Error()).WithCause(err)
	}

	e.mu.Lock()
	e.cache[expression] = query
	e.mu.Unlock()
	return nil
}
