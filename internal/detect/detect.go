// Package detect finds externally reachable route handlers in Python
// source. Each Detector looks at one file and reports the routes it
// declares plus any statically declared dependencies; detectors hold no
// mutable state and may run concurrently.
package detect

import (
	"context"

	"github.com/jward/blastradius/internal/store"
	"github.com/jward/blastradius/internal/syntax"
)

// File is the input handed to a detector.
type File struct {
	Path   string // relative to the analyzed root
	Source []byte
	Table  *syntax.SymbolTable
}

// Route pairs a route signature ("GET /users", "HTTP /users/") with the
// identifier of its handler.
type Route struct {
	Signature  string
	Identifier string
}

// Edge is a dependency a detector wants recorded in the graph.
type Edge struct {
	Source   string
	Target   string
	Relation string
	Attrs    map[string]any
}

// Attr is a body key to set on an existing node.
type Attr struct {
	Identifier string
	Key        string
	Value      any
}

// Result is what a detector found in one file.
type Result struct {
	Routes []Route
	Edges  []Edge
	Attrs  []Attr

	// Unresolved lists view references that could not be resolved.
	Unresolved []string
}

// Merge appends other to r.
func (r *Result) Merge(other Result) {
	r.Routes = append(r.Routes, other.Routes...)
	r.Edges = append(r.Edges, other.Edges...)
	r.Attrs = append(r.Attrs, other.Attrs...)
	r.Unresolved = append(r.Unresolved, other.Unresolved...)
}

// Empty reports whether nothing was found.
func (r Result) Empty() bool {
	return len(r.Routes) == 0 && len(r.Edges) == 0 && len(r.Attrs) == 0
}

// Detector finds routes in one file.
type Detector interface {
	Name() string
	Detect(ctx context.Context, f File) (Result, error)
}

// httpVerbs are the decorator attribute names that declare a route.
var httpVerbs = map[string]bool{
	"get":       true,
	"post":      true,
	"put":       true,
	"patch":     true,
	"delete":    true,
	"options":   true,
	"head":      true,
	"trace":     true,
	"websocket": true,
}

// genericRouteMarkers declare routes whose methods come from a methods=[...]
// argument.
var genericRouteMarkers = map[string]bool{
	"route":     true,
	"api_route": true,
}

func callsEdge(source, target string, attrs map[string]any) Edge {
	return Edge{Source: source, Target: target, Relation: store.RelationCalls, Attrs: attrs}
}
