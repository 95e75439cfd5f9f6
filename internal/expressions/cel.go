package expressions

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/stratflow/stratflow/pkg/schema"
)

// CELEngine checks risk-guard expressions written in Google's Common
// Expression Language. The sandboxed environment exposes the portfolio
// state a guard may reference:
//   - position: map(string, dyn) with size, entry and pnl
//   - account:  map(string, dyn) with equity, drawdown and exposure
//   - signal:   map(string, dyn) carrying the incoming signal payload
//
// Thread-safe: compiled ASTs are cached across goroutines.
type CELEngine struct {
	env *cel.Env

	mu    sync.RWMutex
	cache map[string]*cel.Ast
}

// NewCELEngine creates a new CEL engine.
func NewCELEngine() (*CELEngine, error) {
	mapType := cel.MapType(cel.StringType, cel.DynType)
	env, err := cel.NewEnv(
		cel.Variable("position", mapType),
		cel.Variable("account", mapType),
		cel.Variable("signal", mapType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &CELEngine{env: env, cache: make(map[string]*cel.Ast)}, nil
}

// Name returns the engine identifier.
func (e *CELEngine) Name() string { return "cel" }

// Check compiles the expression against the sandboxed environment.
func (e *CELEngine) Check(expression string) error {
	if expression == "" {
		return schema.NewError(schema.ErrCodeValidation, "empty CEL expression")
	}

	e.mu.RLock()
	_, cached := e.cache[expression]
	e.mu.RUnlock()
	if cached {
		return nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"invalid CEL expression %q: %s", expression, issues.Err().Error()).
			WithCause(issues.Err())
	}

	e.mu.Lock()
	e.cache[expression] = ast
	e.mu.Unlock()
	return nil
}
