package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestDecodeJSONBatch_SingleObject(t *testing.T) {
	items, err := DecodeJSONBatch([]byte(`{"action": "login", "user": "alice"}`))

	require.NoError(t, err)
	require.Len(t, items, 1)
	obj := items[0].(map[string]interface{})
	assert.Equal(t, "login", obj["action"])
}

func TestDecodeJSONBatch_Array(t *testing.T) {
	items, err := DecodeJSONBatch([]byte(`[{"action": "login"}, {"action": "logout"}]`))

	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestDecodeJSONBatch_ArrayKeepsNonObjectElements(t *testing.T) {
	// Malformed elements stay in the batch so the service can reject
	// them per item with their original index.
	items, err := DecodeJSONBatch([]byte(`[{"action": "login"}, 42, "nope"]`))

	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, float64(42), items[1])
}

func TestDecodeJSONBatch_Invalid(t *testing.T) {
	_, err := DecodeJSONBatch([]byte(`{broken`))
	require.Error(t, err)

	_, err = DecodeJSONBatch([]byte("  "))
	require.Error(t, err)
}

func TestDecodeMsgpackBatch_SingleMap(t *testing.T) {
	body, err := msgpack.Marshal(map[string]interface{}{"action": "login", "user": "alice"})
	require.NoError(t, err)

	items, err := DecodeMsgpackBatch(body)

	require.NoError(t, err)
	require.Len(t, items, 1)
	obj, ok := items[0].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "login", obj["action"])
}

func TestDecodeMsgpackBatch_Array(t *testing.T) {
	body, err := msgpack.Marshal([]interface{}{
		map[string]interface{}{"action": "login"},
		map[string]interface{}{"action": "logout"},
	})
	require.NoError(t, err)

	items, err := DecodeMsgpackBatch(body)

	require.NoError(t, err)
	require.Len(t, items, 2)
	_, ok := items[0].(map[string]interface{})
	assert.True(t, ok)
}

func TestDecodeMsgpackBatch_RejectsScalars(t *testing.T) {
	body, err := msgpack.Marshal("just a string")
	require.NoError(t, err)

	_, err = DecodeMsgpackBatch(body)
	require.Error(t, err)
}

func TestDecodeMsgpackBatch_InvalidBytes(t *testing.T) {
	_, err := DecodeMsgpackBatch([]byte{0xc1, 0xff, 0x00})
	require.Error(t, err)
}
