package syntax

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
)

var (
	// ErrParse is returned when a file cannot be turned into a syntax tree.
	// The file contributes nothing to the index for the run.
	ErrParse = errors.New("parse failure")

	// ErrMissingFile is returned when a file named for indexing is not on
	// disk. It wraps os.ErrNotExist.
	ErrMissingFile = errors.New("missing file")
)

// Parse builds a Python syntax tree for src. The caller owns the tree and
// should Close it.
//
// tree-sitter recovers from local syntax errors, so a tree containing ERROR
// nodes is still returned; only sources that cannot be parsed at all yield
// ErrParse.
func Parse(ctx context.Context, src []byte) (*sitter.Tree, error) {
	if !utf8.Valid(src) {
		return nil, fmt.Errorf("%w: source is not valid UTF-8", ErrParse)
	}
	lang, _ := GrammarForLanguage("python")

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if tree == nil || tree.RootNode() == nil {
		return nil, fmt.Errorf("%w: empty tree", ErrParse)
	}
	return tree, nil
}

// Text returns the source text of n.
func Text(n *sitter.Node, src []byte) string {
	if n == nil {
		return ""
	}
	return n.Content(src)
}

// Line returns the 1-based start line of n.
func Line(n *sitter.Node) int {
	return int(n.StartPoint().Row) + 1
}

// EndLine returns the 1-based, inclusive end line of n.
func EndLine(n *sitter.Node) int {
	return int(n.EndPoint().Row) + 1
}

// Dotted returns the text of a name or a chain of attribute accesses on a
// name ("a.b.c") with whitespace removed, or "" for any other expression.
func Dotted(n *sitter.Node, src []byte) string {
	if n == nil {
		return ""
	}
	switch n.Type() {
	case "identifier", "dotted_name":
		return strings.Join(strings.Fields(n.Content(src)), "")
	case "attribute":
		obj := Dotted(n.ChildByFieldName("object"), src)
		attr := n.ChildByFieldName("attribute")
		if obj == "" || attr == nil {
			return ""
		}
		return obj + "." + attr.Content(src)
	}
	return ""
}

// StringValue returns the value of a string literal node with prefixes and
// quotes removed. Implicitly concatenated literals are joined. The second
// result is false when n is not a string literal.
func StringValue(n *sitter.Node, src []byte) (string, bool) {
	if n == nil {
		return "", false
	}
	switch n.Type() {
	case "string":
		return unquote(n.Content(src)), true
	case "concatenated_string":
		var b strings.Builder
		for i := 0; i < int(n.NamedChildCount()); i++ {
			v, ok := StringValue(n.NamedChild(i), src)
			if !ok {
				return "", false
			}
			b.WriteString(v)
		}
		return b.String(), true
	}
	return "", false
}

func unquote(s string) string {
	s = strings.TrimLeft(s, "rRbBuUfF")
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if len(s) >= 2*len(q) && strings.HasPrefix(s, q) && strings.HasSuffix(s, q) {
			return s[len(q) : len(s)-len(q)]
		}
	}
	return s
}

// Children returns the direct children of n.
func Children(n *sitter.Node) []*sitter.Node {
	if n == nil {
		return nil
	}
	out := make([]*sitter.Node, 0, n.ChildCount())
	for i := 0; i < int(n.ChildCount()); i++ {
		if c := n.Child(i); c != nil {
			out = append(out, c)
		}
	}
	return out
}

// NamedChildren returns the named children of n.
func NamedChildren(n *sitter.Node) []*sitter.Node {
	if n == nil {
		return nil
	}
	out := make([]*sitter.Node, 0, n.NamedChildCount())
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if c := n.NamedChild(i); c != nil {
			out = append(out, c)
		}
	}
	return out
}

// Walk calls fn for n and every descendant in document order. Returning
// false from fn skips the node's children.
func Walk(n *sitter.Node, fn func(*sitter.Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, c := range Children(n) {
		Walk(c, fn)
	}
}
