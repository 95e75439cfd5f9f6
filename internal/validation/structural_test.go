package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratflow/stratflow/pkg/schema"
)

func TestCheckWireFormat(t *testing.T) {
	t.Run("valid document", func(t *testing.T) {
		doc := []byte(`{
			"nodes": [
				{"id": "src", "type": "dataSource", "position": {"x": 0, "y": 0}, "data": {"symbol": "AAPL"}},
				{"id": "out", "type": "output", "position": {"x": 200, "y": 0}}
			],
			"edges": [
				{"id": "e1", "source": "src", "target": "out"}
			]
		}`)
		assert.NoError(t, CheckWireFormat(doc))
	})

	t.Run("empty graph is structurally fine", func(t *testing.T) {
		assert.NoError(t, CheckWireFormat([]byte(`{"nodes": [], "edges": []}`)))
	})

	t.Run("not JSON", func(t *testing.T) {
		err := CheckWireFormat([]byte(`{"nodes": [`))
		require.Error(t, err)
		assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
	})

	t.Run("missing edges array", func(t *testing.T) {
		err := CheckWireFormat([]byte(`{"nodes": []}`))
		require.Error(t, err)
		assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
	})

	t.Run("node without position", func(t *testing.T) {
		err := CheckWireFormat([]byte(`{
			"nodes": [{"id": "n1", "type": "output"}],
			"edges": []
		}`))
		require.Error(t, err)
	})

	t.Run("edge with unknown field", func(t *testing.T) {
		err := CheckWireFormat([]byte(`{
			"nodes": [],
			"edges": [{"id": "e1", "source": "a", "target": "b", "weight": 3}]
		}`))
		require.Error(t, err)
	})

	t.Run("empty node id", func(t *testing.T) {
		err := CheckWireFormat([]byte(`{
			"nodes": [{"id": "", "type": "output", "position": {"x": 0, "y": 0}}],
			"edges": []
		}`))
		require.Error(t, err)
	})
}
