package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

func (s *Store) InsertEndpoint(ep *Endpoint) error {
	inserted, err := insertEndpointTx(s.db, ep)
	if err != nil {
		return err
	}
	if !inserted {
		return fmt.Errorf("%w: %s", ErrDuplicateEndpoint, ep.Identifier)
	}
	return nil
}

func (s *Store) EndpointByIdentifier(id string) (*Endpoint, error) {
	ep := &Endpoint{}
	var plan, prefs sql.NullString
	err := s.db.QueryRow(
		"SELECT path, identifier, test_plan, preferences FROM endpoints WHERE identifier = ?", id,
	).Scan(&ep.Signature, &ep.Identifier, &plan, &prefs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("endpoint by identifier: %w", err)
	}
	ep.TestPlan = rawOrNil(plan)
	ep.Preferences = rawOrNil(prefs)
	return ep, nil
}

func (s *Store) Endpoints() ([]*Endpoint, error) {
	rows, err := s.db.Query(
		"SELECT path, identifier, test_plan, preferences FROM endpoints ORDER BY identifier",
	)
	if err != nil {
		return nil, fmt.Errorf("endpoints: %w", err)
	}
	defer rows.Close()
	var eps []*Endpoint
	for rows.Next() {
		ep := &Endpoint{}
		var plan, prefs sql.NullString
		if err := rows.Scan(&ep.Signature, &ep.Identifier, &plan, &prefs); err != nil {
			return nil, fmt.Errorf("scan endpoint: %w", err)
		}
		ep.TestPlan = rawOrNil(plan)
		ep.Preferences = rawOrNil(prefs)
		eps = append(eps, ep)
	}
	return eps, rows.Err()
}

func (s *Store) SetTestPlan(id string, plan json.RawMessage) error {
	return s.updateEndpointColumn("test_plan", id, plan)
}

func (s *Store) SetPreferences(id string, prefs json.RawMessage) error {
	return s.updateEndpointColumn("preferences", id, prefs)
}

// updateEndpointColumn writes a nullable JSON column; column is one of a
// fixed set of names, never caller input.
func (s *Store) updateEndpointColumn(column, id string, raw json.RawMessage) error {
	if len(raw) > 0 && !json.Valid(raw) {
		return fmt.Errorf("update %s for %s: invalid JSON", column, id)
	}
	res, err := s.db.Exec("UPDATE endpoints SET "+column+" = ? WHERE identifier = ?", nullableJSON(raw), id)
	if err != nil {
		return fmt.Errorf("update %s: %w", column, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s: rows affected: %w", column, err)
	}
	if n == 0 {
		return fmt.Errorf("update %s for %s: %w", column, id, ErrNotFound)
	}
	return nil
}

// insertEndpointTx inserts ep unless its identifier is already registered.
// Reports whether a row was written.
func insertEndpointTx(ex execer, ep *Endpoint) (bool, error) {
	res, err := ex.Exec(
		`INSERT INTO endpoints (path, identifier, test_plan, preferences) VALUES (?, ?, ?, ?)
		 ON CONFLICT(identifier) DO NOTHING`,
		ep.Signature, ep.Identifier, nullableJSON(ep.TestPlan), nullableJSON(ep.Preferences),
	)
	if err != nil {
		return false, fmt.Errorf("insert endpoint %q: %w", ep.Identifier, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert endpoint %q: rows affected: %w", ep.Identifier, err)
	}
	return n > 0, nil
}

func rawOrNil(s sql.NullString) json.RawMessage {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.RawMessage(s.String)
}
