package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Commit inserts all buffered data from a Batch into SQLite within a single
// transaction. Readers never observe a partially applied batch.
//
// Apply order:
//  1. Node upserts
//  2. Body patches (read-merge-write against the rows written in step 1)
//  3. Edges (insert-or-ignore)
//  4. Endpoints (duplicates are collected and returned, not fatal)
func (s *Store) Commit(b *Batch) ([]*Endpoint, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("commit batch: begin: %w", err)
	}
	defer tx.Rollback()

	// 1. Nodes
	for _, n := range b.Nodes {
		if err := upsertNodeTx(tx, n.ID, n.Body); err != nil {
			return nil, fmt.Errorf("commit batch: %w", err)
		}
	}

	// 2. Patches
	for _, p := range b.Patches {
		if err := patchNodeTx(tx, p); err != nil {
			return nil, fmt.Errorf("commit batch: %w", err)
		}
	}

	// 3. Edges
	for _, e := range b.Edges {
		if err := connectTx(tx, e.Source, e.Target, e.Relation, e.Attrs); err != nil {
			return nil, fmt.Errorf("commit batch: %w", err)
		}
	}

	// 4. Endpoints
	var rejected []*Endpoint
	for i := range b.Endpoints {
		ep := b.Endpoints[i]
		inserted, err := insertEndpointTx(tx, &ep)
		if err != nil {
			return nil, fmt.Errorf("commit batch: %w", err)
		}
		if !inserted {
			rejected = append(rejected, &ep)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit batch: %w", err)
	}
	return rejected, nil
}

func patchNodeTx(tx *sql.Tx, p BatchPatch) error {
	body := NewBody()
	var raw string
	err := tx.QueryRow("SELECT body FROM nodes WHERE id = ?", p.ID).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("patch node %q: %w", p.ID, err)
	default:
		if err := json.Unmarshal([]byte(raw), body); err != nil {
			return fmt.Errorf("patch node %q: decode: %w", p.ID, err)
		}
	}
	body.Set(p.Key, p.Value)
	return upsertNodeTx(tx, p.ID, body)
}
