package store

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// RelationCalls is the edge label for caller -> callee dependencies.
const RelationCalls = "calls"

// Well-known body keys.
const (
	BodyText     = "text"
	BodyKind     = "kind"
	BodyFile     = "file"
	BodyLine     = "start_line"
	BodyEndLine  = "end_line"
	BodyResponse = "response"
	BodyRoute    = "route"
)

// Body is the open attribute record attached to a graph node. Keys keep
// their insertion order across JSON round trips; values are scalars,
// slices, or nested maps as produced by encoding/json.
type Body struct {
	keys []string
	vals map[string]any
}

// NewBody returns an empty Body.
func NewBody() *Body {
	return &Body{vals: make(map[string]any)}
}

// Set assigns key. An existing key keeps its position.
func (b *Body) Set(key string, value any) *Body {
	if b.vals == nil {
		b.vals = make(map[string]any)
	}
	if _, ok := b.vals[key]; !ok {
		b.keys = append(b.keys, key)
	}
	b.vals[key] = value
	return b
}

// Get returns the value stored under key.
func (b *Body) Get(key string) (any, bool) {
	if b == nil {
		return nil, false
	}
	v, ok := b.vals[key]
	return v, ok
}

// String returns the value under key if it is a string.
func (b *Body) String(key string) string {
	v, _ := b.Get(key)
	s, _ := v.(string)
	return s
}

// Keys returns the keys in insertion order.
func (b *Body) Keys() []string {
	if b == nil {
		return nil
	}
	return append([]string(nil), b.keys...)
}

// Len returns the number of keys.
func (b *Body) Len() int {
	if b == nil {
		return 0
	}
	return len(b.keys)
}

// Merge copies every key of other into b, overwriting existing values.
func (b *Body) Merge(other *Body) *Body {
	for _, k := range other.Keys() {
		b.Set(k, other.vals[k])
	}
	return b
}

// Clone returns a shallow copy.
func (b *Body) Clone() *Body {
	c := NewBody()
	if b != nil {
		c.Merge(b)
	}
	return c
}

// MarshalJSON encodes the body as a JSON object in key order.
func (b *Body) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if b != nil {
		for i, k := range b.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			vb, err := json.Marshal(b.vals[k])
			if err != nil {
				return nil, fmt.Errorf("body key %q: %w", k, err)
			}
			buf.Write(kb)
			buf.WriteByte(':')
			buf.Write(vb)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, preserving top-level key order.
func (b *Body) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("body: expected JSON object")
	}
	b.keys = nil
	b.vals = make(map[string]any)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("body: expected string key, got %v", tok)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("body key %q: %w", key, err)
		}
		b.Set(key, v)
	}
	_, err = dec.Token()
	return err
}

// Edge is a directed relation between two identifiers.
type Edge struct {
	Source   string
	Target   string
	Relation string
	Attrs    map[string]any
}

// Endpoint is a registered externally-reachable route handler.
type Endpoint struct {
	Signature   string // "<METHOD> <path>" or "HTTP <path>"
	Identifier  string
	TestPlan    json.RawMessage
	Preferences json.RawMessage
}

// File returns the declaring file encoded in the endpoint's identifier.
func (e *Endpoint) File() string {
	return IdentifierFile(e.Identifier)
}
