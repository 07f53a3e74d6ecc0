package blastradius

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/jward/blastradius/internal/store"
)

// QueryBuilder provides read access to the graph and the endpoint
// registry, plus the registry's test-plan and preference updates.
type QueryBuilder struct {
	store store.Backend
}

// Node is a graph node with its body.
type Node struct {
	Identifier string      `json:"identifier" yaml:"identifier"`
	File       string      `json:"file" yaml:"file"`
	Name       string      `json:"name" yaml:"name"`
	Body       *store.Body `json:"body" yaml:"-"`
}

// EndpointGroup lists the endpoints whose handlers are declared in File.
type EndpointGroup struct {
	File      string
	Endpoints []*Endpoint
}

// Node returns the node for id, or nil if it is not in the graph.
func (q *QueryBuilder) Node(id string) (*Node, error) {
	body, err := q.store.FindNode(id)
	if err != nil {
		return nil, fmt.Errorf("node: %w", err)
	}
	if body == nil {
		return nil, nil
	}
	return &Node{
		Identifier: id,
		File:       store.IdentifierFile(id),
		Name:       store.IdentifierName(id),
		Body:       body,
	}, nil
}

// Callers returns the direct callers of id.
func (q *QueryBuilder) Callers(id string) ([]string, error) {
	ids, err := q.store.InboundNeighbors(id)
	if err != nil {
		return nil, fmt.Errorf("callers: %w", err)
	}
	return ids, nil
}

// Callees returns what id calls directly.
func (q *QueryBuilder) Callees(id string) ([]string, error) {
	ids, err := q.store.OutboundNeighbors(id)
	if err != nil {
		return nil, fmt.Errorf("callees: %w", err)
	}
	return ids, nil
}

// Ancestors returns every node that reaches id through one or more edges,
// id excluded, sorted.
func (q *QueryBuilder) Ancestors(id string) ([]string, error) {
	anc, err := store.Ancestors(q.store, id)
	if err != nil {
		return nil, fmt.Errorf("ancestors: %w", err)
	}
	out := anc[1:]
	sort.Strings(out)
	return out, nil
}

// Descendants returns every node id reaches through one or more edges,
// id excluded, sorted.
func (q *QueryBuilder) Descendants(id string) ([]string, error) {
	desc, err := store.Descendants(q.store, id)
	if err != nil {
		return nil, fmt.Errorf("descendants: %w", err)
	}
	out := desc[1:]
	sort.Strings(out)
	return out, nil
}

// Endpoints returns every registered endpoint grouped by the file that
// declares its handler, files in sorted order.
func (q *QueryBuilder) Endpoints() ([]EndpointGroup, error) {
	eps, err := q.store.Endpoints()
	if err != nil {
		return nil, fmt.Errorf("endpoints: %w", err)
	}
	byFile := make(map[string][]*Endpoint)
	for _, ep := range eps {
		byFile[ep.File()] = append(byFile[ep.File()], ep)
	}
	groups := make([]EndpointGroup, 0, len(byFile))
	for file, list := range byFile {
		groups = append(groups, EndpointGroup{File: file, Endpoints: list})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].File < groups[j].File })
	return groups, nil
}

// Endpoint returns the endpoint registered for id, or store.ErrNotFound.
func (q *QueryBuilder) Endpoint(id string) (*Endpoint, error) {
	ep, err := q.store.EndpointByIdentifier(id)
	if err != nil {
		return nil, fmt.Errorf("endpoint: %w", err)
	}
	if ep == nil {
		return nil, fmt.Errorf("endpoint %s: %w", id, store.ErrNotFound)
	}
	return ep, nil
}

// TestPlan returns the stored test plan for id; nil if none was set.
func (q *QueryBuilder) TestPlan(id string) (json.RawMessage, error) {
	ep, err := q.Endpoint(id)
	if err != nil {
		return nil, err
	}
	return ep.TestPlan, nil
}

// SetTestPlan replaces the test plan of id. plan must be valid JSON.
func (q *QueryBuilder) SetTestPlan(id string, plan json.RawMessage) error {
	if err := q.store.SetTestPlan(id, plan); err != nil {
		return fmt.Errorf("set test plan: %w", err)
	}
	return nil
}

// Preferences returns the stored test preferences for id; nil if none.
func (q *QueryBuilder) Preferences(id string) (json.RawMessage, error) {
	ep, err := q.Endpoint(id)
	if err != nil {
		return nil, err
	}
	return ep.Preferences, nil
}

// SetPreferences replaces the test preferences of id. prefs must be valid
// JSON.
func (q *QueryBuilder) SetPreferences(id string, prefs json.RawMessage) error {
	if err := q.store.SetPreferences(id, prefs); err != nil {
		return fmt.Errorf("set preferences: %w", err)
	}
	return nil
}
