package jsonx

import (
	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
)

// ToDynamicJSON converts any Go value to a dynamic JSON object represented as a map[string]any.
// It first marshals the input value to JSON bytes and then unmarshals those bytes into a map.
// If either the marshaling or unmarshaling process fails, an error is returned.
func ToDynamicJSON(val any) (map[string]any, error) {
	result := make(map[string]any)
	b, err := json.Marshal(val)
	if err != nil {
		return nil, err
	}
	if err = json.Unmarshal(b, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// RawOrString returns s as raw JSON when it already is a valid JSON document,
// otherwise it returns s encoded as a JSON string.
//
// Tool results are plain strings that often contain JSON; providers that expect a
// structured value receive the structure instead of a quoted blob.
func RawOrString(s string) []byte {
	if s != "" && gjson.Valid(s) {
		return []byte(s)
	}
	b, _ := json.Marshal(s)
	return b
}

// ObjectOrEmpty returns s when it is a JSON object and `{}` otherwise.
func ObjectOrEmpty(s string) []byte {
	if gjson.Valid(s) && gjson.Parse(s).IsObject() {
		return []byte(s)
	}
	return []byte(`{}`)
}
