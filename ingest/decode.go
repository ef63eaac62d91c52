package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// DecodeJSONBatch decodes a request body holding either a single JSON
// object or an array. Single objects come back as a one-element batch.
// Array elements are kept as-is even when they are not objects; the
// ingestion service rejects those per item so the rest of the batch
// still lands.
func DecodeJSONBatch(body []byte) ([]interface{}, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty request body")
	}

	if trimmed[0] == '[' {
		var items []interface{}
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
		return items, nil
	}

	var single map[string]interface{}
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return []interface{}{single}, nil
}

// DecodeMsgpackBatch decodes a MessagePack body holding a single map or
// an array of maps into the same shape DecodeJSONBatch produces.
func DecodeMsgpackBatch(body []byte) ([]interface{}, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(body))
	v, err := dec.DecodeInterface()
	if err != nil {
		return nil, fmt.Errorf("invalid msgpack: %w", err)
	}

	switch val := untypeMsgpack(v).(type) {
	case []interface{}:
		return val, nil
	case map[string]interface{}:
		return []interface{}{val}, nil
	default:
		return nil, fmt.Errorf("msgpack body must be a map or an array of maps, got %T", v)
	}
}

// untypeMsgpack converts msgpack's untyped map keys to strings so decoded
// records look like JSON-decoded maps to the normalizer.
func untypeMsgpack(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		for k, item := range val {
			val[k] = untypeMsgpack(item)
		}
		return val
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = untypeMsgpack(item)
		}
		return out
	case []interface{}:
		for i, item := range val {
			val[i] = untypeMsgpack(item)
		}
		return val
	default:
		return v
	}
}
