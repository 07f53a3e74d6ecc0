package store

import (
	"encoding/json"
	"strings"
)

// MakeIdentifier builds the graph key for a symbol: "<file>:<qualifiedName>".
func MakeIdentifier(file, qualifiedName string) string {
	return file + ":" + qualifiedName
}

// IdentifierFile returns the declaring-file prefix of an identifier.
func IdentifierFile(id string) string {
	file, _, _ := strings.Cut(id, ":")
	return file
}

// IdentifierName returns the qualified-name suffix of an identifier.
func IdentifierName(id string) string {
	_, name, _ := strings.Cut(id, ":")
	return name
}

// marshalAttrs converts edge attributes to JSON text for storage.
func marshalAttrs(attrs map[string]any) string {
	if len(attrs) == 0 {
		return "{}"
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// unmarshalAttrs converts JSON text back to edge attributes.
func unmarshalAttrs(s string) map[string]any {
	if s == "" || s == "{}" || s == "null" {
		return nil
	}
	var attrs map[string]any
	_ = json.Unmarshal([]byte(s), &attrs)
	return attrs
}

// nullableJSON maps an empty raw message to SQL NULL.
func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
