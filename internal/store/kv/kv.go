// Package kv is a BadgerDB implementation of the graph store and endpoint
// registry. It satisfies the same store.Backend contract as the SQLite
// store and is selected with the "badger" backend.
//
// Key layout:
//
//	n/<id>                               node body (JSON)
//	o/<source>\x00<relation>\x00<target> edge attributes (JSON)
//	i/<target>\x00<relation>\x00<source> empty; inbound index
//	e/<identifier>                       endpoint record (JSON)
//	m/<key>                              metadata value
//
// Every mutating call runs in one badger.Update transaction, so node,
// edge and endpoint writes are all-or-nothing.
package kv

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/jward/blastradius/internal/store"
)

const sep = "\x00"

// Config holds configuration for a Badger-backed store.
type Config struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM. Useful for tests.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives BadgerDB's internal logs. Nil disables them.
	Logger *slog.Logger
}

// Store is a store.Backend over BadgerDB.
type Store struct {
	db *badger.DB
}

// Compile-time check: *Store satisfies store.Backend.
var _ store.Backend = (*Store)(nil)

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Open opens (creating if needed) a Badger store.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("kv: path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("kv: create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("kv: open badger database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func nodeKey(id string) []byte { return []byte("n/" + id) }
func endpointKey(id string) []byte { return []byte("e/" + id) }
func metaKey(k string) []byte { return []byte("m/" + k) }

func outKey(source, relation, target string) []byte {
	return []byte("o/" + source + sep + relation + sep + target)
}

func inKey(target, relation, source string) []byte {
	return []byte("i/" + target + sep + relation + sep + source)
}

// --- Graph ---

func (s *Store) UpsertNode(id string, body *store.Body) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return setNode(txn, id, body)
	})
}

func setNode(txn *badger.Txn, id string, body *store.Body) error {
	if body == nil {
		body = store.NewBody()
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("kv: encode node %q: %w", id, err)
	}
	return txn.Set(nodeKey(id), raw)
}

func getNode(txn *badger.Txn, id string) (*store.Body, error) {
	item, err := txn.Get(nodeKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("kv: find node %q: %w", id, err)
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return nil, fmt.Errorf("kv: read node %q: %w", id, err)
	}
	body := store.NewBody()
	if err := json.Unmarshal(raw, body); err != nil {
		return nil, fmt.Errorf("kv: decode node %q: %w", id, err)
	}
	return body, nil
}

func (s *Store) FindNode(id string) (*store.Body, error) {
	var body *store.Body
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		body, err = getNode(txn, id)
		return err
	})
	return body, err
}

func (s *Store) Connect(source, target, relation string, attrs map[string]any) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return setEdge(txn, source, target, relation, attrs)
	})
}

// setEdge writes both index entries. An existing edge keeps its original
// attributes so repeated inserts are no-ops.
func setEdge(txn *badger.Txn, source, target, relation string, attrs map[string]any) error {
	ok := outKey(source, relation, target)
	if _, err := txn.Get(ok); err == nil {
		return nil
	} else if !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("kv: connect %q -> %q: %w", source, target, err)
	}
	raw := []byte("{}")
	if len(attrs) > 0 {
		var err error
		if raw, err = json.Marshal(attrs); err != nil {
			return fmt.Errorf("kv: encode edge attrs: %w", err)
		}
	}
	if err := txn.Set(ok, raw); err != nil {
		return err
	}
	return txn.Set(inKey(target, relation, source), nil)
}

func (s *Store) InboundNeighbors(id string) ([]string, error) {
	return s.scanNeighbors("i/" + id + sep)
}

func (s *Store) OutboundNeighbors(id string) ([]string, error) {
	return s.scanNeighbors("o/" + id + sep)
}

// scanNeighbors collects the last key segment of every key under prefix.
func (s *Store) scanNeighbors(prefix string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			key := string(it.Item().KeyCopy(nil))
			rest := strings.TrimPrefix(key, prefix)
			_, other, found := strings.Cut(rest, sep)
			if !found || seen[other] {
				continue
			}
			seen[other] = true
			out = append(out, other)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("kv: neighbors: %w", err)
	}
	sort.Strings(out)
	return out, nil
}

// --- Registry ---

type endpointRecord struct {
	Path        string          `json:"path"`
	TestPlan    json.RawMessage `json:"test_plan,omitempty"`
	Preferences json.RawMessage `json:"preferences,omitempty"`
}

func (s *Store) InsertEndpoint(ep *store.Endpoint) error {
	var inserted bool
	err := s.db.Update(func(txn *badger.Txn) error {
		var err error
		inserted, err = putEndpoint(txn, ep)
		return err
	})
	if err != nil {
		return err
	}
	if !inserted {
		return fmt.Errorf("%w: %s", store.ErrDuplicateEndpoint, ep.Identifier)
	}
	return nil
}

func putEndpoint(txn *badger.Txn, ep *store.Endpoint) (bool, error) {
	key := endpointKey(ep.Identifier)
	if _, err := txn.Get(key); err == nil {
		return false, nil
	} else if !errors.Is(err, badger.ErrKeyNotFound) {
		return false, fmt.Errorf("kv: insert endpoint %q: %w", ep.Identifier, err)
	}
	raw, err := json.Marshal(endpointRecord{Path: ep.Signature, TestPlan: ep.TestPlan, Preferences: ep.Preferences})
	if err != nil {
		return false, fmt.Errorf("kv: encode endpoint: %w", err)
	}
	return true, txn.Set(key, raw)
}

func getEndpoint(txn *badger.Txn, id string) (*store.Endpoint, error) {
	item, err := txn.Get(endpointKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("kv: endpoint %q: %w", id, err)
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	var rec endpointRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("kv: decode endpoint %q: %w", id, err)
	}
	return &store.Endpoint{Signature: rec.Path, Identifier: id, TestPlan: rec.TestPlan, Preferences: rec.Preferences}, nil
}

func (s *Store) EndpointByIdentifier(id string) (*store.Endpoint, error) {
	var ep *store.Endpoint
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		ep, err = getEndpoint(txn, id)
		return err
	})
	return ep, err
}

func (s *Store) Endpoints() ([]*store.Endpoint, error) {
	var eps []*store.Endpoint
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("e/")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			item := it.Item()
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			var rec endpointRecord
			if err := json.Unmarshal(raw, &rec); err != nil {
				return fmt.Errorf("kv: decode endpoint: %w", err)
			}
			id := strings.TrimPrefix(string(item.KeyCopy(nil)), "e/")
			eps = append(eps, &store.Endpoint{Signature: rec.Path, Identifier: id, TestPlan: rec.TestPlan, Preferences: rec.Preferences})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("kv: endpoints: %w", err)
	}
	return eps, nil
}

func (s *Store) SetTestPlan(id string, plan json.RawMessage) error {
	return s.updateEndpoint(id, func(ep *store.Endpoint) { ep.TestPlan = plan })
}

func (s *Store) SetPreferences(id string, prefs json.RawMessage) error {
	return s.updateEndpoint(id, func(ep *store.Endpoint) { ep.Preferences = prefs })
}

func (s *Store) updateEndpoint(id string, mutate func(*store.Endpoint)) error {
	return s.db.Update(func(txn *badger.Txn) error {
		ep, err := getEndpoint(txn, id)
		if err != nil {
			return err
		}
		if ep == nil {
			return fmt.Errorf("kv: update endpoint %s: %w", id, store.ErrNotFound)
		}
		mutate(ep)
		if len(ep.TestPlan) > 0 && !json.Valid(ep.TestPlan) || len(ep.Preferences) > 0 && !json.Valid(ep.Preferences) {
			return fmt.Errorf("kv: update endpoint %s: invalid JSON", id)
		}
		raw, err := json.Marshal(endpointRecord{Path: ep.Signature, TestPlan: ep.TestPlan, Preferences: ep.Preferences})
		if err != nil {
			return err
		}
		return txn.Set(endpointKey(id), raw)
	})
}

// --- Batch commit ---

// Commit applies a batch in one Badger transaction.
func (s *Store) Commit(b *store.Batch) ([]*store.Endpoint, error) {
	var rejected []*store.Endpoint
	err := s.db.Update(func(txn *badger.Txn) error {
		rejected = nil
		for _, n := range b.Nodes {
			if err := setNode(txn, n.ID, n.Body); err != nil {
				return err
			}
		}
		for _, p := range b.Patches {
			body, err := getNode(txn, p.ID)
			if err != nil {
				return err
			}
			if body == nil {
				body = store.NewBody()
			}
			body.Set(p.Key, p.Value)
			if err := setNode(txn, p.ID, body); err != nil {
				return err
			}
		}
		for _, e := range b.Edges {
			if err := setEdge(txn, e.Source, e.Target, e.Relation, e.Attrs); err != nil {
				return err
			}
		}
		for i := range b.Endpoints {
			ep := b.Endpoints[i]
			inserted, err := putEndpoint(txn, &ep)
			if err != nil {
				return err
			}
			if !inserted {
				rejected = append(rejected, &ep)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("kv: commit batch: %w", err)
	}
	return rejected, nil
}

// --- Metadata ---

func (s *Store) SetMetadata(key, value string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(metaKey(key), []byte(value))
	})
}

func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		value = string(raw)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("kv: get metadata %q: %w", key, err)
	}
	return value, nil
}
