package expressions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratflow/stratflow/pkg/schema"
)

func TestRegistry_KnownLanguages(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	assert.NoError(t, r.Check("expr", "left > right"))
	assert.NoError(t, r.Check("cel", "account.drawdown < 20.0"))
	assert.NoError(t, r.Check("jq", ".rows[] | .close"))

	err = r.Check("brainfuck", "+>+<")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestExprEngine_Check(t *testing.T) {
	e := NewExprEngine()

	assert.NoError(t, e.Check("left > 70 && right < 30"))
	assert.NoError(t, e.Check(`inputs["rsi"] ?? 50 > params.threshold`))

	err := e.Check("left >")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid expr expression")

	assert.Error(t, e.Check(""))

	// Cached path returns the same verdict.
	assert.NoError(t, e.Check("left > 70 && right < 30"))
}

func TestCELEngine_Check(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	assert.NoError(t, e.Check("position.size * signal.price < account.equity"))
	assert.Error(t, e.Check("position.size <"))
	assert.Error(t, e.Check(""))
	assert.NoError(t, e.Check("position.size * signal.price < account.equity"))
}

func TestGoJQEngine_Check(t *testing.T) {
	e := NewGoJQEngine()

	assert.NoError(t, e.Check(".candles | map(.close)"))
	assert.Error(t, e.Check(".candles | map("))
	assert.Error(t, e.Check(""))
	assert.NoError(t, e.Check(".candles | map(.close)"))
}

func TestEngines_ConcurrentCheck(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 50; j++ {
				_ = r.Check("expr", "left > right")
				_ = r.Check("cel", "account.equity > 0.0")
				_ = r.Check("jq", ".close")
			}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	close(done)
}
