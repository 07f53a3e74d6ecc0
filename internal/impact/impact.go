// Package impact computes the blast radius of a change: the registered
// entry points that transitively depend on any changed symbol.
package impact

import (
	"fmt"
	"sort"

	"github.com/jward/blastradius/internal/store"
)

// Entry is one affected entry point.
type Entry struct {
	EntryPoint string `json:"entry_point" yaml:"entry_point"`
	Identifier string `json:"identifier" yaml:"identifier"`
}

// Result groups affected entry points by the file declaring their handler.
type Result map[string][]Entry

// Files returns the result's files in sorted order.
func (r Result) Files() []string {
	files := make([]string, 0, len(r))
	for f := range r {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// Len returns the number of entries across all files.
func (r Result) Len() int {
	n := 0
	for _, entries := range r {
		n += len(entries)
	}
	return n
}

// Computer evaluates blast radii against one graph and registry. Ancestor
// closures are cached for the Computer's lifetime, so a Computer must not
// outlive writes to its graph.
type Computer struct {
	graph    store.Graph
	registry store.Registry
	memo     map[string][]string
}

// NewComputer returns a Computer over g and r.
func NewComputer(g store.Graph, r store.Registry) *Computer {
	return &Computer{graph: g, registry: r, memo: make(map[string][]string)}
}

// Compute is shorthand for NewComputer(g, r).Compute(changed).
func Compute(changed []string, g store.Graph, r store.Registry) (Result, error) {
	return NewComputer(g, r).Compute(changed)
}

// Compute returns the entry points affected by changed. A node is an entry
// point when nothing calls it: its ancestor closure is only itself. Entry
// points without a registered endpoint are dropped.
func (c *Computer) Compute(changed []string) (Result, error) {
	affected := make(map[string]bool)
	for _, id := range changed {
		anc, err := c.ancestors(id)
		if err != nil {
			return nil, err
		}
		for _, a := range anc {
			affected[a] = true
		}
	}

	candidates := make([]string, 0, len(affected))
	for id := range affected {
		candidates = append(candidates, id)
	}
	sort.Strings(candidates)

	res := make(Result)
	for _, id := range candidates {
		root, err := c.isRoot(id)
		if err != nil {
			return nil, err
		}
		if !root {
			continue
		}
		ep, err := c.registry.EndpointByIdentifier(id)
		if err != nil {
			return nil, fmt.Errorf("impact: endpoint %s: %w", id, err)
		}
		if ep == nil {
			continue
		}
		file := ep.File()
		res[file] = append(res[file], Entry{EntryPoint: ep.Signature, Identifier: id})
	}
	return res, nil
}

func (c *Computer) isRoot(id string) (bool, error) {
	anc, err := c.ancestors(id)
	if err != nil {
		return false, err
	}
	return len(anc) == 1 && anc[0] == id, nil
}

func (c *Computer) ancestors(id string) ([]string, error) {
	if anc, ok := c.memo[id]; ok {
		return anc, nil
	}
	anc, err := store.Ancestors(c.graph, id)
	if err != nil {
		return nil, fmt.Errorf("impact: ancestors of %s: %w", id, err)
	}
	c.memo[id] = anc
	return anc, nil
}
