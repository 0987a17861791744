package jsonrpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseBatchableSingle(t *testing.T) {
	b, err := ParseBatchable[Request]([]byte(`{"jsonrpc":"2.0","method":"eth_blockNumber","params":[],"id":1}`))
	require.NoError(t, err)
	require.False(t, b.IsBatch())

	req, ok := b.AsSingle()
	require.True(t, ok)
	require.Equal(t, "eth_blockNumber", req.Method)
}

func TestParseBatchableArray(t *testing.T) {
	b, err := ParseBatchable[Request]([]byte(`[{"jsonrpc":"2.0","method":"a","id":1},{"jsonrpc":"2.0","method":"b","id":2}]`))
	require.NoError(t, err)
	require.True(t, b.IsBatch())
	require.Len(t, b.Items(), 2)
	require.Equal(t, "a", b.Items()[0].Method)
	require.Equal(t, "b", b.Items()[1].Method)
}

func TestParseBatchableInvalid(t *testing.T) {
	_, err := ParseBatchable[Request]([]byte(`not json`))
	require.Error(t, err)

	_, err = ParseBatchable[Request](nil)
	require.Error(t, err)
}

func TestBatchableMarshalPreservesShape(t *testing.T) {
	single := Single(Request{JSONRPC: "2.0", Method: "m", ID: NewId(1)})
	data, err := json.Marshal(single)
	require.NoError(t, err)
	require.Equal(t, byte('{'), data[0])

	batch := Batch([]Request{{JSONRPC: "2.0", Method: "m1"}, {JSONRPC: "2.0", Method: "m2"}})
	data, err = json.Marshal(batch)
	require.NoError(t, err)
	require.Equal(t, byte('['), data[0])
}

func TestIdRoundTrip(t *testing.T) {
	id := NewId(7)
	data, err := json.Marshal(id)
	require.NoError(t, err)
	require.Equal(t, "7", string(data))

	var decoded Id
	require.NoError(t, json.Unmarshal([]byte(`"abc"`), &decoded))
	require.False(t, decoded.IsNull())

	var nullId Id
	require.NoError(t, json.Unmarshal([]byte(`null`), &nullId))
	require.True(t, nullId.IsNull())
}
