package store

import (
	"encoding/json"
	"errors"
)

var (
	// ErrDuplicateEndpoint is returned when an endpoint is registered for an
	// identifier that already has one. The existing row is left unchanged.
	ErrDuplicateEndpoint = errors.New("duplicate endpoint identifier")

	// ErrNotFound is returned by registry updates for unknown identifiers.
	ErrNotFound = errors.New("not found")
)

// Graph is the directed node/edge store. Every mutating call applies
// atomically: it either fully takes effect or has no effect.
type Graph interface {
	// UpsertNode inserts the node or replaces its body.
	UpsertNode(id string, body *Body) error
	// FindNode returns the node body, or nil if the node does not exist.
	FindNode(id string) (*Body, error)
	// Connect inserts an edge. Inserting an identical edge again is a no-op,
	// and neither endpoint has to exist as a node.
	Connect(source, target, relation string, attrs map[string]any) error
	// InboundNeighbors returns the sources of edges targeting id.
	InboundNeighbors(id string) ([]string, error)
	// OutboundNeighbors returns the targets of edges leaving id.
	OutboundNeighbors(id string) ([]string, error)
}

// Registry is the endpoint registry keyed by unique identifier.
type Registry interface {
	// InsertEndpoint registers ep. Returns ErrDuplicateEndpoint if the
	// identifier is already registered.
	InsertEndpoint(ep *Endpoint) error
	// EndpointByIdentifier returns the endpoint, or nil if unregistered.
	EndpointByIdentifier(id string) (*Endpoint, error)
	// Endpoints returns every registered endpoint ordered by identifier.
	Endpoints() ([]*Endpoint, error)
	SetTestPlan(id string, plan json.RawMessage) error
	SetPreferences(id string, prefs json.RawMessage) error
}

// Backend is a complete persisted store for one analyzed snapshot.
type Backend interface {
	Graph
	Registry

	// Commit applies every write buffered in b inside one transaction and
	// returns the endpoints rejected as duplicates.
	Commit(b *Batch) ([]*Endpoint, error)

	SetMetadata(key, value string) error
	GetMetadata(key string) (string, error)
	Close() error
}
