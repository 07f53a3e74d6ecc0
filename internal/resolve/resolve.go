// Package resolve maps a dotted name used in one file to the file and
// qualified name that declare it.
//
// Resolution is syntactic and best-effort. It follows instance bindings and
// import statements, turns module paths into directory fragments, and
// searches the indexed files whose paths contain the fragment. When several
// files declare a matching symbol, the first one in sorted path order wins.
// A name that cannot be resolved yields ok == false; callers drop the
// reference.
package resolve

import (
	"path"
	"strings"
	"sync"

	"github.com/jward/blastradius/internal/store"
	"github.com/jward/blastradius/internal/syntax"
)

// Target is a resolved declaration.
type Target struct {
	File string
	Name string
}

// Identifier returns the graph identifier of the target.
func (t Target) Identifier() string {
	return store.MakeIdentifier(t.File, t.Name)
}

// Resolver resolves names against a syntax.Index. It only reads the index
// and is safe for concurrent use.
type Resolver struct {
	ix *syntax.Index

	mu         sync.Mutex
	candidates map[string][]string // fragment -> matching files
}

// New returns a Resolver over ix.
func New(ix *syntax.Index) *Resolver {
	return &Resolver{ix: ix, candidates: make(map[string][]string)}
}

// lookup is one (directory fragment, name within the matched file) attempt.
type lookup struct {
	fragment string
	target   string
}

// Resolve finds where name, as written in fromFile, is declared.
func (r *Resolver) Resolve(name, fromFile string) (Target, bool) {
	tbl := r.ix.Table(fromFile)
	if tbl == nil || name == "" {
		return Target{}, false
	}
	base, rest := splitFirst(name)

	if class, ok := tbl.Instance(base); ok {
		if qn, ok := mostSpecific(tbl, class, rest); ok {
			return Target{File: fromFile, Name: qn}, true
		}
		name = joinName(class, rest)
		base, rest = splitFirst(name)
	}

	imp, ok := tbl.ImportFor(base)
	if !ok {
		return r.local(tbl, name)
	}

	for _, l := range lookups(imp, name, base, rest, fromFile) {
		if l.fragment == "" || l.target == "" {
			continue
		}
		for _, file := range r.filesMatching(l.fragment) {
			if qn, ok := declared(r.ix.Table(file), l.target); ok {
				return Target{File: file, Name: qn}, true
			}
		}
	}
	return Target{}, false
}

// ResolveIdentifier is Resolve returning the graph identifier.
func (r *Resolver) ResolveIdentifier(name, fromFile string) (string, bool) {
	t, ok := r.Resolve(name, fromFile)
	if !ok {
		return "", false
	}
	return t.Identifier(), true
}

// Span returns the declaration span of a resolved target.
func (r *Resolver) Span(t Target) (syntax.Span, bool) {
	return r.ix.Table(t.File).Span(t.Name)
}

// local resolves a name with no import binding against fromFile's own
// declarations.
func (r *Resolver) local(tbl *syntax.SymbolTable, name string) (Target, bool) {
	segs := strings.Split(name, ".")
	cands := []string{name}
	if len(segs) > 2 {
		cands = append(cands, segs[0]+"."+segs[1])
	}
	if len(segs) > 1 {
		cands = append(cands, segs[0])
	}
	for _, c := range cands {
		if tbl.Declares(c) {
			return Target{File: tbl.File, Name: c}, true
		}
	}
	return Target{}, false
}

// lookups lists the fragment/target pairs to try for a name bound by imp.
func lookups(imp syntax.Import, name, base, rest, fromFile string) []lookup {
	frag := moduleFragment(imp, fromFile)

	switch {
	case imp.Name == "*":
		return []lookup{{fragment: frag, target: name}}

	case imp.Name != "" && base != imp.Alias:
		// Matched on a module segment rather than the bound name.
		return []lookup{{fragment: frag, target: rest}}

	case imp.Name != "":
		// from m import x as y; y.rest is x.rest in m, or rest in m/x.
		var out []lookup
		if rest != "" {
			out = append(out, lookup{fragment: path.Join(frag, imp.Name), target: rest})
		}
		return append(out, lookup{fragment: frag, target: joinName(imp.Name, rest)})

	default:
		// import a.b [as m]: the remainder after the bound module name.
		target := rest
		if imp.Alias != "" && strings.HasPrefix(name, imp.Alias+".") {
			target = strings.TrimPrefix(name, imp.Alias+".")
		}
		return []lookup{{fragment: frag, target: target}}
	}
}

// moduleFragment turns an import's module path into a slash-separated
// directory fragment. For relative modules each leading dot applies one
// path.Dir step starting at fromFile, so "." is fromFile's own directory.
func moduleFragment(imp syntax.Import, fromFile string) string {
	mod := imp.Module
	if !imp.Relative {
		return strings.ReplaceAll(mod, ".", "/")
	}
	dots := len(mod) - len(strings.TrimLeft(mod, "."))
	dir := fromFile
	for i := 0; i < dots; i++ {
		dir = path.Dir(dir)
	}
	if dir == "." || dir == "/" {
		dir = ""
	}
	remaining := strings.ReplaceAll(mod[dots:], ".", "/")
	switch {
	case dir == "":
		return remaining
	case remaining == "":
		return dir
	default:
		return dir + "/" + remaining
	}
}

// filesMatching returns the indexed files whose path contains fragment as a
// substring, in sorted order. The match is loose so that sources under
// src/ or a renamed top-level package still resolve.
func (r *Resolver) filesMatching(fragment string) []string {
	r.mu.Lock()
	if files, ok := r.candidates[fragment]; ok {
		r.mu.Unlock()
		return files
	}
	r.mu.Unlock()

	var files []string
	for _, f := range r.ix.Files() {
		if strings.Contains(f, fragment) {
			files = append(files, f)
		}
	}

	r.mu.Lock()
	r.candidates[fragment] = files
	r.mu.Unlock()
	return files
}

// declared finds the most specific declaration of target in tbl, following
// an instance binding on target's first segment.
func declared(tbl *syntax.SymbolTable, target string) (string, bool) {
	if tbl == nil {
		return "", false
	}
	base, rest := splitFirst(target)
	if class, ok := tbl.Instance(base); ok {
		if qn, ok := mostSpecific(tbl, class, rest); ok {
			return qn, true
		}
	}
	if qn, ok := mostSpecific(tbl, base, rest); ok {
		return qn, true
	}
	last := target[strings.LastIndex(target, ".")+1:]
	if tbl.Declares(last) {
		return last, true
	}
	return "", false
}

// mostSpecific returns "class.<first segment of rest>" if declared, else
// class itself if declared.
func mostSpecific(tbl *syntax.SymbolTable, class, rest string) (string, bool) {
	if rest != "" {
		member, _ := splitFirst(rest)
		if qn := class + "." + member; tbl.Declares(qn) {
			return qn, true
		}
	}
	if tbl.Declares(class) {
		return class, true
	}
	return "", false
}

func splitFirst(name string) (string, string) {
	base, rest, _ := strings.Cut(name, ".")
	return base, rest
}

func joinName(a, b string) string {
	if b == "" {
		return a
	}
	return a + "." + b
}
