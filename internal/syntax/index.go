package syntax

import (
	"context"
	"sort"
	"sync"
)

// Index holds the symbol tables of one analyzed tree, keyed by path
// relative to its root directory. It is safe for concurrent use.
type Index struct {
	root string

	mu     sync.RWMutex
	tables map[string]*SymbolTable
	sorted []string // cached Files() result; nil when stale
}

// NewIndex returns an empty index for the tree at root.
func NewIndex(root string) *Index {
	return &Index{root: root, tables: make(map[string]*SymbolTable)}
}

// Add stores t under t.File, replacing any earlier table for that file.
func (ix *Index) Add(t *SymbolTable) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.tables[t.File] = t
	ix.sorted = nil
}

// IndexFile parses root/rel and adds the result. Failed files are not added.
func (ix *Index) IndexFile(ctx context.Context, rel string) (*SymbolTable, error) {
	t, err := IndexFile(ctx, ix.root, rel)
	if err != nil {
		return nil, err
	}
	ix.Add(t)
	return t, nil
}

// Table returns the symbol table for rel, or nil if the file is not indexed.
func (ix *Index) Table(rel string) *SymbolTable {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.tables[rel]
}

// Files returns every indexed relative path in sorted order.
func (ix *Index) Files() []string {
	ix.mu.RLock()
	if ix.sorted != nil {
		defer ix.mu.RUnlock()
		return ix.sorted
	}
	ix.mu.RUnlock()

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.sorted == nil {
		files := make([]string, 0, len(ix.tables))
		for f := range ix.tables {
			files = append(files, f)
		}
		sort.Strings(files)
		ix.sorted = files
	}
	return ix.sorted
}

// Len returns the number of indexed files.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.tables)
}
