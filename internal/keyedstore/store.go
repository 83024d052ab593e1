// Package keyedstore holds presence and connection records under string
// keys. Local keeps them in process for single-node deployments; Shared
// keeps them in the shared store so every server process sees the same view.
package keyedstore

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
)

// Store is the keyed record contract. Get reports false when the key is
// absent or when the stored value cannot be read as dst's type; a type
// mismatch is a cache miss, never an error.
type Store interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
	Size(ctx context.Context) (int, error)
}

// entry is the stored form of a record: the value plus the Go type it was
// written as.
type entry struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

func typeTag(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.PkgPath() == "" {
		return t.String()
	}
	return t.PkgPath() + "." + t.Name()
}

func encode(value any) ([]byte, error) {
	if value == nil {
		return nil, fmt.Errorf("keyedstore: nil value")
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("keyedstore: encode %T: %w", value, err)
	}
	return json.Marshal(entry{Type: typeTag(reflect.TypeOf(value)), Value: raw})
}

// decode fills dst from data and reports whether the stored entry matched
// dst's type.
func decode(data []byte, dst any) bool {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return false
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return false
	}
	if e.Type != typeTag(rv.Type()) {
		return false
	}
	if err := json.Unmarshal(e.Value, dst); err != nil {
		return false
	}
	return true
}
