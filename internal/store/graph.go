package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// --- Node operations ---

func (s *Store) UpsertNode(id string, body *Body) error {
	return upsertNodeTx(s.db, id, body)
}

func (s *Store) FindNode(id string) (*Body, error) {
	var raw string
	err := s.db.QueryRow("SELECT body FROM nodes WHERE id = ?", id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find node %q: %w", id, err)
	}
	body := NewBody()
	if err := json.Unmarshal([]byte(raw), body); err != nil {
		return nil, fmt.Errorf("decode node %q: %w", id, err)
	}
	return body, nil
}

// NodeCount returns the number of nodes in the graph.
func (s *Store) NodeCount() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM nodes").Scan(&n); err != nil {
		return 0, fmt.Errorf("count nodes: %w", err)
	}
	return n, nil
}

// --- Edge operations ---

func (s *Store) Connect(source, target, relation string, attrs map[string]any) error {
	return connectTx(s.db, source, target, relation, attrs)
}

func (s *Store) InboundNeighbors(id string) ([]string, error) {
	return s.neighbors("SELECT DISTINCT source FROM edges WHERE target = ? ORDER BY source", id)
}

func (s *Store) OutboundNeighbors(id string) ([]string, error) {
	return s.neighbors("SELECT DISTINCT target FROM edges WHERE source = ? ORDER BY target", id)
}

func (s *Store) neighbors(query, id string) ([]string, error) {
	rows, err := s.db.Query(query, id)
	if err != nil {
		return nil, fmt.Errorf("neighbors of %q: %w", id, err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan neighbor: %w", err)
		}
		ids = append(ids, n)
	}
	return ids, rows.Err()
}

// EdgesFrom returns all edges whose source is id.
func (s *Store) EdgesFrom(id string) ([]*Edge, error) {
	rows, err := s.db.Query(
		"SELECT source, target, relation, attrs FROM edges WHERE source = ? ORDER BY target, relation", id,
	)
	if err != nil {
		return nil, fmt.Errorf("edges from %q: %w", id, err)
	}
	defer rows.Close()
	var edges []*Edge
	for rows.Next() {
		e := &Edge{}
		var attrs string
		if err := rows.Scan(&e.Source, &e.Target, &e.Relation, &attrs); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		e.Attrs = unmarshalAttrs(attrs)
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// EdgeCount returns the number of edges in the graph.
func (s *Store) EdgeCount() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM edges").Scan(&n); err != nil {
		return 0, fmt.Errorf("count edges: %w", err)
	}
	return n, nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func upsertNodeTx(ex execer, id string, body *Body) error {
	if body == nil {
		body = NewBody()
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode node %q: %w", id, err)
	}
	_, err = ex.Exec(
		"INSERT INTO nodes (id, body) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET body = excluded.body",
		id, string(raw),
	)
	if err != nil {
		return fmt.Errorf("upsert node %q: %w", id, err)
	}
	return nil
}

func connectTx(ex execer, source, target, relation string, attrs map[string]any) error {
	_, err := ex.Exec(
		"INSERT OR IGNORE INTO edges (source, target, relation, attrs) VALUES (?, ?, ?, ?)",
		source, target, relation, marshalAttrs(attrs),
	)
	if err != nil {
		return fmt.Errorf("connect %q -> %q: %w", source, target, err)
	}
	return nil
}
