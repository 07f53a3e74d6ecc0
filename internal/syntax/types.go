package syntax

import "strings"

// Kind classifies a declared symbol.
type Kind string

const (
	KindClass    Kind = "class"
	KindFunction Kind = "function"
)

// Span is a declared symbol and the lines it occupies. Lines are 1-based
// and end-inclusive. Methods are qualified with their innermost enclosing
// class ("Class.method").
type Span struct {
	QualifiedName string
	File          string
	StartLine     int
	EndLine       int
	Kind          Kind
	Text          string

	// Bases lists the superclass expressions of a class, as written.
	Bases []string
	// Calls lists the callee expressions found in a function body, in
	// first-seen order without duplicates ("helper", "self.svc.run").
	Calls []string
}

// Import is one name bound by an import statement.
//
//	import a.b          -> {Alias: "a.b", Module: "a.b"}
//	import a.b as x     -> {Alias: "x", Module: "a.b"}
//	from m import x     -> {Alias: "x", Module: "m", Name: "x"}
//	from ..u import x   -> {Alias: "x", Module: "..u", Name: "x", Relative: true}
type Import struct {
	Alias    string
	Module   string
	Name     string
	Relative bool
}

// SymbolTable is everything the index records for one file.
type SymbolTable struct {
	File      string // path relative to the index root, slash separated
	Spans     []Span
	Imports   []Import
	Instances map[string]string // alias -> class name
	Source    []byte
}

func newSymbolTable(file string, src []byte) *SymbolTable {
	return &SymbolTable{File: file, Instances: make(map[string]string), Source: src}
}

// Span returns the span declared under qualifiedName.
func (t *SymbolTable) Span(qualifiedName string) (Span, bool) {
	if t == nil {
		return Span{}, false
	}
	for _, s := range t.Spans {
		if s.QualifiedName == qualifiedName {
			return s, true
		}
	}
	return Span{}, false
}

// Declares reports whether the file declares qualifiedName.
func (t *SymbolTable) Declares(qualifiedName string) bool {
	_, ok := t.Span(qualifiedName)
	return ok
}

// Instance returns the class bound to alias by an "alias = Class(...)"
// assignment.
func (t *SymbolTable) Instance(alias string) (string, bool) {
	if t == nil {
		return "", false
	}
	c, ok := t.Instances[alias]
	return c, ok
}

// ImportFor finds the import that binds name: an exact alias match first,
// then any import whose dotted module path has name as a segment.
func (t *SymbolTable) ImportFor(name string) (Import, bool) {
	if t == nil || name == "" {
		return Import{}, false
	}
	for _, imp := range t.Imports {
		if imp.Alias == name {
			return imp, true
		}
	}
	for _, imp := range t.Imports {
		for _, seg := range strings.Split(strings.TrimLeft(imp.Module, "."), ".") {
			if seg == name {
				return imp, true
			}
		}
	}
	return Import{}, false
}

// LineRange is an inclusive range of 1-based line numbers.
type LineRange struct {
	Start int
	End   int
}

// Overlaps reports whether the span shares at least one line with r.
func (s Span) Overlaps(r LineRange) bool {
	return s.StartLine <= r.End && r.Start <= s.EndLine
}

// SpansOverlapping returns the spans that share a line with any of ranges.
func (t *SymbolTable) SpansOverlapping(ranges []LineRange) []Span {
	if t == nil {
		return nil
	}
	var out []Span
	for _, s := range t.Spans {
		for _, r := range ranges {
			if s.Overlaps(r) {
				out = append(out, s)
				break
			}
		}
	}
	return out
}
