package detect

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/blastradius/internal/resolve"
	"github.com/jward/blastradius/internal/syntax"
)

// genericViews are base class names whose subclasses declare their model
// or form as class attributes.
var genericViews = []string{
	"CreateView", "UpdateView", "DeleteView", "DetailView", "ListView",
	"FormView", "ArchiveIndexView", "DateDetailView",
	"GenericAPIView", "ListAPIView", "CreateAPIView", "RetrieveAPIView",
	"UpdateAPIView", "DestroyAPIView", "ListCreateAPIView",
	"RetrieveUpdateDestroyAPIView", "ModelViewSet",
}

// classAttr matches "model = X" and "form_class = X" class attributes.
var classAttr = regexp.MustCompile(`(?m)^\s+(model|form_class)\s*=\s*([A-Za-z_][\w.]*)\s*$`)

// patternCallees are the URL entry constructors.
var patternCallees = map[string]bool{
	"path":    true,
	"re_path": true,
	"url":     true,
}

// PatternList detects Django URL configurations: module-level
// urlpatterns lists built by assignment, "+=" or .extend/.append, whose
// entries are path()/re_path()/url() calls or (path, view) tuples.
type PatternList struct {
	resolver *resolve.Resolver
}

// NewPatternList returns a detector that resolves views through r.
func NewPatternList(r *resolve.Resolver) *PatternList {
	return &PatternList{resolver: r}
}

func (*PatternList) Name() string { return "patternlist" }

func (p *PatternList) Detect(ctx context.Context, f File) (Result, error) {
	if !strings.Contains(string(f.Source), "urlpatterns") {
		return Result{}, nil
	}
	tree, err := syntax.Parse(ctx, f.Source)
	if err != nil {
		return Result{}, fmt.Errorf("pattern-list detector %s: %w", f.Path, err)
	}
	defer tree.Close()

	var res Result
	for _, list := range patternLists(tree.RootNode(), f.Source) {
		for _, el := range syntax.NamedChildren(list) {
			route, view, ok := patternEntry(el, f.Source)
			if !ok {
				continue
			}
			p.entry(f, route, view, &res)
		}
	}
	return res, nil
}

// entry resolves one (route, view) pair into the result.
func (p *PatternList) entry(f File, route, view string, res *Result) {
	target, ok := p.resolver.Resolve(view, f.Path)
	if !ok {
		res.Unresolved = append(res.Unresolved, view)
		return
	}
	id := target.Identifier()
	res.Routes = append(res.Routes, Route{Signature: "HTTP /" + strings.TrimPrefix(route, "/"), Identifier: id})

	span, ok := p.resolver.Span(target)
	if !ok || span.Kind != syntax.KindClass || !usesGenericView(span.Text) {
		return
	}
	for _, m := range classAttr.FindAllStringSubmatch(span.Text, -1) {
		dep, ok := p.resolver.ResolveIdentifier(m[2], target.File)
		if !ok {
			res.Unresolved = append(res.Unresolved, m[2])
			continue
		}
		res.Edges = append(res.Edges, callsEdge(id, dep, map[string]any{"via": m[1]}))
	}
}

func usesGenericView(text string) bool {
	for _, g := range genericViews {
		if strings.Contains(text, g) {
			return true
		}
	}
	return false
}

// patternLists returns the list literals contributing to urlpatterns at
// module level.
func patternLists(root *sitter.Node, src []byte) []*sitter.Node {
	var lists []*sitter.Node
	for _, stmt := range syntax.NamedChildren(root) {
		if stmt.Type() != "expression_statement" {
			continue
		}
		for _, expr := range syntax.NamedChildren(stmt) {
			switch expr.Type() {
			case "assignment", "augmented_assignment":
				if syntax.Text(expr.ChildByFieldName("left"), src) == "urlpatterns" {
					lists = append(lists, listsIn(expr.ChildByFieldName("right"))...)
				}
			case "call":
				callee := syntax.Dotted(expr.ChildByFieldName("function"), src)
				args := syntax.NamedChildren(expr.ChildByFieldName("arguments"))
				switch {
				case callee == "urlpatterns.extend" && len(args) > 0:
					lists = append(lists, listsIn(args[0])...)
				case callee == "urlpatterns.append":
					// Wrap the single entry so callers see a list.
					lists = append(lists, expr.ChildByFieldName("arguments"))
				}
			}
		}
	}
	return lists
}

// listsIn collects list literals from a list expression, following "+"
// concatenation.
func listsIn(n *sitter.Node) []*sitter.Node {
	if n == nil {
		return nil
	}
	switch n.Type() {
	case "list", "tuple":
		return []*sitter.Node{n}
	case "binary_operator":
		return append(listsIn(n.ChildByFieldName("left")), listsIn(n.ChildByFieldName("right"))...)
	case "parenthesized_expression":
		var out []*sitter.Node
		for _, c := range syntax.NamedChildren(n) {
			out = append(out, listsIn(c)...)
		}
		return out
	}
	return nil
}

// patternEntry extracts the route and view reference from one list
// element. include(...) entries and non-literal routes are skipped.
func patternEntry(el *sitter.Node, src []byte) (string, string, bool) {
	var args []*sitter.Node
	switch el.Type() {
	case "call":
		callee := syntax.Dotted(el.ChildByFieldName("function"), src)
		if !patternCallees[callee[strings.LastIndex(callee, ".")+1:]] {
			return "", "", false
		}
		for _, a := range syntax.NamedChildren(el.ChildByFieldName("arguments")) {
			if a.Type() != "keyword_argument" && a.Type() != "comment" {
				args = append(args, a)
			}
		}
	case "tuple", "parenthesized_expression":
		args = syntax.NamedChildren(el)
	default:
		return "", "", false
	}
	if len(args) < 2 {
		return "", "", false
	}
	route, ok := syntax.StringValue(args[0], src)
	if !ok {
		return "", "", false
	}
	view := viewReference(args[1], src)
	if view == "" {
		return "", "", false
	}
	return route, view, true
}

// viewReference returns the dotted name of a view expression, stripping a
// trailing .as_view(...) call.
func viewReference(n *sitter.Node, src []byte) string {
	if n.Type() == "call" {
		callee := syntax.Dotted(n.ChildByFieldName("function"), src)
		if strings.HasSuffix(callee, ".as_view") {
			return strings.TrimSuffix(callee, ".as_view")
		}
		return ""
	}
	return syntax.Dotted(n, src)
}
