package dbtypes

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONValue stores an opaque JSON document. An empty value is persisted as NULL.
type JSONValue []byte

// NewJSONValue marshals v; a nil input yields an empty (NULL) value.
func NewJSONValue(v any) (JSONValue, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("JSONValue: marshal: %w", err)
	}
	if bytes.Equal(b, []byte("null")) {
		return nil, nil
	}
	return JSONValue(b), nil
}

// MustJSONValue is NewJSONValue for values that always marshal (strings, numbers, maps of those).
func MustJSONValue(v any) JSONValue {
	out, err := NewJSONValue(v)
	if err != nil {
		panic(err)
	}
	return out
}

func (j JSONValue) IsNull() bool {
	return len(j) == 0
}

// Decode unmarshals the stored document into dst.
func (j JSONValue) Decode(dst any) error {
	if j.IsNull() {
		return nil
	}
	return json.Unmarshal(j, dst)
}

func (j JSONValue) Value() (driver.Value, error) {
	if j.IsNull() {
		return nil, nil
	}
	return string(j), nil
}

func (j *JSONValue) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*j = nil
	case string:
		*j = JSONValue(v)
	case []byte:
		cp := make([]byte, len(v))
		copy(cp, v)
		*j = JSONValue(cp)
	default:
		return fmt.Errorf("JSONValue: unsupported Scan type %T", src)
	}
	return nil
}

func (j JSONValue) MarshalJSON() ([]byte, error) {
	if j.IsNull() {
		return []byte("null"), nil
	}
	return []byte(j), nil
}

func (j *JSONValue) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*j = nil
		return nil
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	*j = JSONValue(cp)
	return nil
}
