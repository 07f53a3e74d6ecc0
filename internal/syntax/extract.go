package syntax

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	sitter "github.com/smacker/go-tree-sitter"
)

// IndexFile reads root/rel from disk and indexes it. A file that is not
// on disk yields ErrMissingFile; one that cannot be parsed yields ErrParse.
func IndexFile(ctx context.Context, root, rel string) (*SymbolTable, error) {
	src, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s: %w", ErrMissingFile, rel, err)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rel, err)
	}
	return IndexSource(ctx, rel, src)
}

// IndexSource indexes Python source text. rel is the file path recorded in
// the spans.
func IndexSource(ctx context.Context, rel string, src []byte) (*SymbolTable, error) {
	tree, err := Parse(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("index %s: %w", rel, err)
	}
	defer tree.Close()

	t := newSymbolTable(rel, src)
	x := &extractor{src: src, table: t}
	x.spans(tree.RootNode(), nil)
	x.bindings(tree.RootNode())
	return t, nil
}

type extractor struct {
	src   []byte
	table *SymbolTable

	// pending instance bindings whose callee is not capitalized; kept only
	// if the callee turns out to be a class declared in this file.
	pending map[string]string
}

// spans records class and function declarations. classes is the stack of
// enclosing class names, innermost last.
func (x *extractor) spans(n *sitter.Node, classes []string) {
	switch n.Type() {
	case "decorated_definition":
		if def := n.ChildByFieldName("definition"); def != nil {
			x.definition(def, n, classes)
			return
		}
	case "class_definition", "function_definition":
		x.definition(n, n, classes)
		return
	}
	for _, c := range Children(n) {
		x.spans(c, classes)
	}
}

// definition records def, using outer (the decorated wrapper, if any) for
// the line range and text.
func (x *extractor) definition(def, outer *sitter.Node, classes []string) {
	name := Text(def.ChildByFieldName("name"), x.src)
	if name == "" {
		return
	}
	span := Span{
		File:      x.table.File,
		StartLine: Line(outer),
		EndLine:   EndLine(outer),
		Text:      Text(outer, x.src),
	}

	switch def.Type() {
	case "class_definition":
		span.QualifiedName = name
		span.Kind = KindClass
		for _, b := range NamedChildren(def.ChildByFieldName("superclasses")) {
			if b.Type() == "keyword_argument" {
				continue
			}
			span.Bases = append(span.Bases, strings.Join(strings.Fields(Text(b, x.src)), ""))
		}
		x.table.Spans = append(x.table.Spans, span)

		inner := append(append([]string(nil), classes...), name)
		for _, c := range Children(def.ChildByFieldName("body")) {
			x.spans(c, inner)
		}

	case "function_definition":
		span.QualifiedName = name
		if len(classes) > 0 {
			span.QualifiedName = classes[len(classes)-1] + "." + name
		}
		span.Kind = KindFunction
		span.Calls = x.calls(def.ChildByFieldName("body"))
		x.table.Spans = append(x.table.Spans, span)
	}
}

// calls collects callee expressions under body.
func (x *extractor) calls(body *sitter.Node) []string {
	var out []string
	seen := make(map[string]bool)
	Walk(body, func(n *sitter.Node) bool {
		if n.Type() != "call" {
			return true
		}
		callee := Dotted(n.ChildByFieldName("function"), x.src)
		if callee != "" && !seen[callee] {
			seen[callee] = true
			out = append(out, callee)
		}
		return true
	})
	return out
}

// bindings records imports and "alias = Class(...)" assignments anywhere
// in the file.
func (x *extractor) bindings(root *sitter.Node) {
	x.pending = make(map[string]string)
	Walk(root, func(n *sitter.Node) bool {
		switch n.Type() {
		case "import_statement":
			x.importStatement(n)
			return false
		case "import_from_statement":
			x.importFrom(n)
			return false
		case "assignment":
			x.assignment(n)
		}
		return true
	})
	for alias, class := range x.pending {
		if x.table.Declares(class) {
			x.table.Instances[alias] = class
		}
	}
}

func (x *extractor) importStatement(n *sitter.Node) {
	for _, c := range NamedChildren(n) {
		switch c.Type() {
		case "dotted_name":
			mod := Dotted(c, x.src)
			x.table.Imports = append(x.table.Imports, Import{Alias: mod, Module: mod})
		case "aliased_import":
			mod := Dotted(c.ChildByFieldName("name"), x.src)
			alias := Text(c.ChildByFieldName("alias"), x.src)
			x.table.Imports = append(x.table.Imports, Import{Alias: alias, Module: mod})
		}
	}
}

func (x *extractor) importFrom(n *sitter.Node) {
	modNode := n.ChildByFieldName("module_name")
	if modNode == nil {
		return
	}
	module := strings.Join(strings.Fields(Text(modNode, x.src)), "")
	relative := strings.HasPrefix(module, ".")

	afterImport := false
	for _, c := range Children(n) {
		if c.Type() == "import" {
			afterImport = true
			continue
		}
		if !afterImport {
			continue
		}
		switch c.Type() {
		case "dotted_name":
			name := Dotted(c, x.src)
			x.table.Imports = append(x.table.Imports, Import{Alias: name, Module: module, Name: name, Relative: relative})
		case "aliased_import":
			name := Dotted(c.ChildByFieldName("name"), x.src)
			alias := Text(c.ChildByFieldName("alias"), x.src)
			x.table.Imports = append(x.table.Imports, Import{Alias: alias, Module: module, Name: name, Relative: relative})
		case "wildcard_import":
			x.table.Imports = append(x.table.Imports, Import{Alias: "*", Module: module, Name: "*", Relative: relative})
		}
	}
}

func (x *extractor) assignment(n *sitter.Node) {
	left := n.ChildByFieldName("left")
	right := n.ChildByFieldName("right")
	if left == nil || right == nil || left.Type() != "identifier" || right.Type() != "call" {
		return
	}
	alias := Text(left, x.src)
	callee := Dotted(right.ChildByFieldName("function"), x.src)
	if callee == "" {
		return
	}
	last := callee[strings.LastIndex(callee, ".")+1:]
	if r := []rune(last); len(r) > 0 && unicode.IsUpper(r[0]) {
		x.table.Instances[alias] = callee
		return
	}
	x.pending[alias] = callee
}
