package runtime

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/risor-io/risor/object"

	"github.com/jward/blastradius/internal/detect"
	"github.com/jward/blastradius/internal/resolve"
	"github.com/jward/blastradius/internal/store"
	"github.com/jward/blastradius/internal/syntax"
)

// ScriptDetector is a detect.Detector backed by one Risor script. The
// script sees these globals in addition to the host functions:
//
//	source                   file contents
//	file_path                path relative to the analyzed root
//	symbols                  [{name, kind, start_line, end_line}, ...]
//	emit_route(sig, name)    register a route handled by name
//	emit_edge(from, to)      record a "calls" dependency
//
// Names passed to emit_* are resolved from the current file; a name that
// already contains ":" is taken as an identifier.
type ScriptDetector struct {
	rt       *Runtime
	script   string
	resolver *resolve.Resolver
}

var _ detect.Detector = (*ScriptDetector)(nil)

// NewScriptDetector returns a detector running script. resolver may be nil,
// in which case names resolve to declarations in the current file only.
func NewScriptDetector(rt *Runtime, script string, resolver *resolve.Resolver) *ScriptDetector {
	return &ScriptDetector{rt: rt, script: script, resolver: resolver}
}

// LoadDetectors returns one ScriptDetector per script in DetectDir.
func LoadDetectors(rt *Runtime, resolver *resolve.Resolver) ([]*ScriptDetector, error) {
	scripts, err := rt.DetectorScripts()
	if err != nil {
		return nil, err
	}
	out := make([]*ScriptDetector, 0, len(scripts))
	for _, s := range scripts {
		out = append(out, NewScriptDetector(rt, s, resolver))
	}
	return out, nil
}

func (d *ScriptDetector) Name() string {
	return "script:" + strings.TrimSuffix(path.Base(d.script), ".risor")
}

func (d *ScriptDetector) Detect(ctx context.Context, f detect.File) (detect.Result, error) {
	var res detect.Result
	extras := map[string]any{
		"source":     string(f.Source),
		"file_path":  f.Path,
		"symbols":    symbolsObject(f.Table),
		"emit_route": d.makeEmitRouteFn(f, &res),
		"emit_edge":  d.makeEmitEdgeFn(f, &res),
	}
	if err := d.rt.RunScript(ctx, d.script, extras); err != nil {
		return detect.Result{}, fmt.Errorf("%s: %w", d.Name(), err)
	}
	return res, nil
}

// identifierFor turns a script-supplied name into a graph identifier.
func (d *ScriptDetector) identifierFor(f detect.File, name string) (string, bool) {
	if strings.Contains(name, ":") {
		return name, true
	}
	if d.resolver != nil {
		if id, ok := d.resolver.ResolveIdentifier(name, f.Path); ok {
			return id, true
		}
	}
	if f.Table.Declares(name) {
		return store.MakeIdentifier(f.Path, name), true
	}
	return "", false
}

// makeEmitRouteFn creates "emit_route".
//
// emit_route(signature, name) → bool (false if name did not resolve)
func (d *ScriptDetector) makeEmitRouteFn(f detect.File, res *detect.Result) *object.Builtin {
	return object.NewBuiltin("emit_route", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("emit_route", 2, len(args))
		}
		sig, ok := args[0].(*object.String)
		if !ok {
			return object.Errorf("emit_route: signature must be a string, got %s", args[0].Type())
		}
		name, ok := args[1].(*object.String)
		if !ok {
			return object.Errorf("emit_route: name must be a string, got %s", args[1].Type())
		}
		id, ok := d.identifierFor(f, name.Value())
		if !ok {
			res.Unresolved = append(res.Unresolved, name.Value())
			return object.False
		}
		res.Routes = append(res.Routes, detect.Route{Signature: sig.Value(), Identifier: id})
		return object.True
	})
}

// makeEmitEdgeFn creates "emit_edge".
//
// emit_edge(from, to) → bool (false if either side did not resolve)
func (d *ScriptDetector) makeEmitEdgeFn(f detect.File, res *detect.Result) *object.Builtin {
	return object.NewBuiltin("emit_edge", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("emit_edge", 2, len(args))
		}
		var ids [2]string
		for i, a := range args {
			s, ok := a.(*object.String)
			if !ok {
				return object.Errorf("emit_edge: argument %d must be a string, got %s", i+1, a.Type())
			}
			id, ok := d.identifierFor(f, s.Value())
			if !ok {
				res.Unresolved = append(res.Unresolved, s.Value())
				return object.False
			}
			ids[i] = id
		}
		res.Edges = append(res.Edges, detect.Edge{
			Source:   ids[0],
			Target:   ids[1],
			Relation: store.RelationCalls,
			Attrs:    map[string]any{"via": d.Name()},
		})
		return object.True
	})
}

// symbolsObject exposes a file's spans to scripts.
func symbolsObject(tbl *syntax.SymbolTable) *object.List {
	items := []object.Object{}
	if tbl == nil {
		return object.NewList(items)
	}
	for _, s := range tbl.Spans {
		items = append(items, object.NewMap(map[string]object.Object{
			"name":       object.NewString(s.QualifiedName),
			"kind":       object.NewString(string(s.Kind)),
			"start_line": object.NewInt(int64(s.StartLine)),
			"end_line":   object.NewInt(int64(s.EndLine)),
		}))
	}
	return object.NewList(items)
}
