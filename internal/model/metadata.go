package model

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// MetaValue is the closed set of values a metadata key can hold.
//
// This is a sealed interface - only types in this package can implement it.
// The unexported marker method prevents external implementations.
type MetaValue interface {
	metaValue() // unexported marker - seals the interface

	// Text returns the value as matchable text. ok is false when the
	// value carries nothing to match against.
	Text() (text string, ok bool)
}

// MetaString is a JSON string value.
type MetaString string

// MetaNull is an explicit JSON null.
type MetaNull struct{}

// MetaRaw holds the compact JSON text of any non-string, non-null value
// (numbers, booleans, arrays, objects).
type MetaRaw string

func (MetaString) metaValue() {}
func (MetaNull) metaValue()   {}
func (MetaRaw) metaValue()    {}

func (v MetaString) Text() (string, bool) { return string(v), true }
func (MetaNull) Text() (string, bool)     { return "", false }
func (v MetaRaw) Text() (string, bool)    { return string(v), true }

// MetaField is one key/value pair of a Metadata bag.
type MetaField struct {
	Key   string
	Value MetaValue
}

// Metadata is an ordered bag of source fields that have no dedicated Entry
// attribute. Order is insertion order and survives a JSON round-trip.
type Metadata []MetaField

// Get returns the value stored under exactly key.
func (m Metadata) Get(key string) (MetaValue, bool) {
	for _, f := range m {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// Lookup tries an exact key match first, then a case-insensitive scan in
// insertion order.
func (m Metadata) Lookup(key string) (MetaValue, bool) {
	if v, ok := m.Get(key); ok {
		return v, true
	}
	for _, f := range m {
		if strings.EqualFold(f.Key, key) {
			return f.Value, true
		}
	}
	return nil, false
}

// Set replaces the value under key, or appends a new field.
func (m *Metadata) Set(key string, v MetaValue) {
	if v == nil {
		v = MetaNull{}
	}
	for i := range *m {
		if (*m)[i].Key == key {
			(*m)[i].Value = v
			return
		}
	}
	*m = append(*m, MetaField{Key: key, Value: v})
}

// SetString is shorthand for Set(key, MetaString(s)).
func (m *Metadata) SetString(key, s string) {
	m.Set(key, MetaString(s))
}

// Keys returns the keys in order.
func (m Metadata) Keys() []string {
	keys := make([]string, len(m))
	for i, f := range m {
		keys[i] = f.Key
	}
	return keys
}

// Clone returns a copy that shares no backing array with m.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	copy(out, m)
	return out
}

// MarshalJSON encodes the bag as a JSON object in insertion order.
func (m Metadata) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := json.Marshal(f.Key)
		if err != nil {
			return nil, fmt.Errorf("marshal key %q: %w", f.Key, err)
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')

		valBytes, err := marshalMetaValue(f.Value)
		if err != nil {
			return nil, fmt.Errorf("marshal value for key %q: %w", f.Key, err)
		}
		buf.Write(valBytes)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func marshalMetaValue(v MetaValue) ([]byte, error) {
	switch val := v.(type) {
	case nil, MetaNull:
		return []byte("null"), nil
	case MetaString:
		return json.Marshal(string(val))
	case MetaRaw:
		if !json.Valid([]byte(val)) {
			return nil, fmt.Errorf("raw value is not valid JSON: %q", string(val))
		}
		return []byte(val), nil
	default:
		return nil, fmt.Errorf("unknown MetaValue type: %T", v)
	}
}

// UnmarshalJSON decodes a JSON object preserving key order. A JSON null
// decodes to an empty bag.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	parsed, err := ParseMetadata(data)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParseMetadata decodes a JSON object into an ordered bag. Empty input and
// JSON null yield an empty bag. Anything other than an object is an error.
func ParseMetadata(data []byte) (Metadata, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("metadata: expected object, got %v", tok)
	}

	var m Metadata
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("metadata: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("metadata: expected key, got %v", keyTok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("metadata key %q: %w", key, err)
		}
		val, err := decodeMetaValue(raw)
		if err != nil {
			return nil, fmt.Errorf("metadata key %q: %w", key, err)
		}
		m.Set(key, val)
	}

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("metadata: trailing data after object")
	}
	return m, nil
}

func decodeMetaValue(raw json.RawMessage) (MetaValue, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty JSON value")
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return MetaString(s), nil
	case 'n':
		return MetaNull{}, nil
	default:
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return nil, err
		}
		return MetaRaw(buf.String()), nil
	}
}

// Value implements driver.Valuer. An empty bag is stored as NULL.
func (m Metadata) Value() (driver.Value, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := m.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
