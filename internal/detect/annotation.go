package detect

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/blastradius/internal/store"
	"github.com/jward/blastradius/internal/syntax"
)

// Annotation detects decorator-declared routes in the FastAPI and Flask
// style:
//
//	@app.get("/items", response_model=Item)    -> GET /items
//	@bp.route("/x", methods=["GET", "POST"])    -> GET /x, POST /x
//
// Decorators that reach a verb through a deeper chain (mock.patch.object)
// are not routes.
type Annotation struct{}

// NewAnnotation returns the decorator route detector.
func NewAnnotation() *Annotation { return &Annotation{} }

func (*Annotation) Name() string { return "annotation" }

func (a *Annotation) Detect(ctx context.Context, f File) (Result, error) {
	tree, err := syntax.Parse(ctx, f.Source)
	if err != nil {
		return Result{}, fmt.Errorf("annotation detector %s: %w", f.Path, err)
	}
	defer tree.Close()

	var res Result
	syntax.Walk(tree.RootNode(), func(n *sitter.Node) bool {
		if n.Type() != "decorated_definition" {
			return true
		}
		def := n.ChildByFieldName("definition")
		if def == nil || def.Type() != "function_definition" {
			return true
		}
		qn := handlerName(f.Table, n, syntax.Text(def.ChildByFieldName("name"), f.Source))
		if qn == "" {
			return true
		}
		id := store.MakeIdentifier(f.Path, qn)
		for _, dec := range syntax.Children(n) {
			if dec.Type() != "decorator" {
				continue
			}
			a.decorator(dec, f.Source, id, &res)
		}
		return true
	})
	return res, nil
}

// decorator adds the routes a single decorator declares.
func (a *Annotation) decorator(dec *sitter.Node, src []byte, id string, res *Result) {
	nodes := syntax.NamedChildren(dec)
	if len(nodes) == 0 {
		return
	}
	expr := nodes[0]
	if expr.Type() != "call" {
		return
	}
	callee := syntax.Dotted(expr.ChildByFieldName("function"), src)
	segs := strings.Split(callee, ".")
	if len(segs) < 2 {
		return
	}
	for _, s := range segs[1 : len(segs)-1] {
		if httpVerbs[strings.ToLower(s)] {
			return
		}
	}
	marker := segs[len(segs)-1]

	args := expr.ChildByFieldName("arguments")
	var methods []string
	switch {
	case httpVerbs[marker]:
		methods = []string{strings.ToUpper(marker)}
	case genericRouteMarkers[marker]:
		methods = routeMethods(args, src)
	default:
		return
	}

	path := routePath(args, src)
	for _, m := range methods {
		res.Routes = append(res.Routes, Route{Signature: m + " " + path, Identifier: id})
	}
	if model := keywordArg(args, "response_model", src); model != nil {
		res.Attrs = append(res.Attrs, Attr{Identifier: id, Key: store.BodyResponse, Value: syntax.Text(model, src)})
	}
}

// handlerName finds the qualified name of the function wrapped by the
// decorated node, preferring the span the index recorded for it.
func handlerName(tbl *syntax.SymbolTable, decorated *sitter.Node, name string) string {
	if name == "" {
		return ""
	}
	if tbl != nil {
		line := syntax.Line(decorated)
		for _, s := range tbl.Spans {
			if s.Kind != syntax.KindFunction || s.StartLine != line {
				continue
			}
			if s.QualifiedName == name || strings.HasSuffix(s.QualifiedName, "."+name) {
				return s.QualifiedName
			}
		}
	}
	return name
}

// routePath is the first positional argument, or the path= / rule=
// keyword. String literals are unquoted; other expressions are kept as
// written. An empty path is "/".
func routePath(args *sitter.Node, src []byte) string {
	var arg *sitter.Node
	for _, c := range syntax.NamedChildren(args) {
		if c.Type() != "keyword_argument" && c.Type() != "comment" {
			arg = c
			break
		}
	}
	if arg == nil {
		arg = keywordArg(args, "path", src)
	}
	if arg == nil {
		arg = keywordArg(args, "rule", src)
	}
	if arg == nil {
		return "/"
	}
	p, ok := syntax.StringValue(arg, src)
	if !ok {
		p = syntax.Text(arg, src)
	}
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	return p
}

// routeMethods reads methods=[...]; GET when absent or empty.
func routeMethods(args *sitter.Node, src []byte) []string {
	list := keywordArg(args, "methods", src)
	var methods []string
	for _, el := range syntax.NamedChildren(list) {
		if v, ok := syntax.StringValue(el, src); ok && v != "" {
			methods = append(methods, strings.ToUpper(v))
		}
	}
	if len(methods) == 0 {
		return []string{"GET"}
	}
	return methods
}

// keywordArg returns the value of name=... in an argument list.
func keywordArg(args *sitter.Node, name string, src []byte) *sitter.Node {
	for _, c := range syntax.NamedChildren(args) {
		if c.Type() != "keyword_argument" {
			continue
		}
		if syntax.Text(c.ChildByFieldName("name"), src) == name {
			return c.ChildByFieldName("value")
		}
	}
	return nil
}
