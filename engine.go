package blastradius

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jward/blastradius/internal/detect"
	"github.com/jward/blastradius/internal/diffmap"
	"github.com/jward/blastradius/internal/impact"
	"github.com/jward/blastradius/internal/store"
	"github.com/jward/blastradius/internal/store/kv"
	"github.com/jward/blastradius/internal/telemetry"
	"github.com/jward/blastradius/scripts"
)

// Storage backends accepted by WithBackend.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// Metadata keys written by IndexDirectory.
const (
	MetaRunID     = "run_id"
	MetaRoot      = "root"
	MetaIndexedAt = "indexed_at"
	MetaFiles     = "files"
)

// ErrUnknownBackend is returned by New for an unsupported WithBackend value.
var ErrUnknownBackend = errors.New("blastradius: unknown backend")

// Engine orchestrates the pipeline: file discovery, symbol indexing,
// resolution and route detection into the graph store, diff mapping, and
// blast-radius computation.
type Engine struct {
	store   store.Backend
	logger  *slog.Logger
	metrics *telemetry.Metrics

	backend    string
	workers    int
	scriptsDir string
	scriptsFS  fs.FS
	routers    map[string]detect.Router
	detectors  []detect.Detector
	registry   *prometheus.Registry

	// root of the last IndexDirectory call, used by MapDiff when the caller
	// passes no root.
	root string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithParallel controls the worker pool. When true (default), files are
// parsed and analyzed by runtime.NumCPU() workers; false runs one worker.
func WithParallel(parallel bool) Option {
	return func(e *Engine) {
		if parallel {
			e.workers = runtime.NumCPU()
		} else {
			e.workers = 1
		}
	}
}

// WithWorkers sets the worker pool size. Values below 1 mean one worker.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		e.workers = max(n, 1)
	}
}

// WithBackend selects the storage backend: BackendSQLite (default) or
// BackendBadger, in which case dbPath is a directory.
func WithBackend(name string) Option {
	return func(e *Engine) {
		e.backend = name
	}
}

// WithScriptsFS loads detector scripts from fsys instead of the embedded
// defaults.
func WithScriptsFS(fsys fs.FS) Option {
	return func(e *Engine) {
		e.scriptsFS = fsys
	}
}

// WithScriptsDir loads detector scripts from dir on disk. WithScriptsFS
// takes precedence.
func WithScriptsDir(dir string) Option {
	return func(e *Engine) {
		e.scriptsDir = dir
	}
}

// WithRouters sets per-file router mounts, keyed by path relative to the
// indexed root.
func WithRouters(routers map[string]detect.Router) Option {
	return func(e *Engine) {
		e.routers = routers
	}
}

// WithDetectors adds detectors that run after the built-in ones.
func WithDetectors(ds ...detect.Detector) Option {
	return func(e *Engine) {
		e.detectors = append(e.detectors, ds...)
	}
}

// WithRegistry registers the engine's metrics with reg instead of a
// private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(e *Engine) {
		e.registry = reg
	}
}

// New opens (creating if needed) the store at dbPath and returns an Engine
// over it.
func New(dbPath string, opts ...Option) (*Engine, error) {
	e := &Engine{
		logger:  slog.New(slog.DiscardHandler),
		backend: BackendSQLite,
		workers: runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(e)
	}

	s, err := openBackend(e.backend, dbPath, e.logger)
	if err != nil {
		return nil, err
	}
	e.store = s
	e.metrics = telemetry.NewMetrics(e.registry)
	return e, nil
}

func openBackend(backend, dbPath string, logger *slog.Logger) (store.Backend, error) {
	switch backend {
	case BackendSQLite, "":
		s, err := store.NewStore(dbPath)
		if err != nil {
			return nil, fmt.Errorf("blastradius: create store: %w", err)
		}
		if err := s.Migrate(); err != nil {
			s.Close()
			return nil, fmt.Errorf("blastradius: migrate: %w", err)
		}
		return s, nil
	case BackendBadger:
		s, err := kv.Open(kv.Config{Path: dbPath, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("blastradius: create store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

// Close releases the store.
func (e *Engine) Close() error {
	return e.store.Close()
}

// Store returns the underlying backend for direct access.
func (e *Engine) Store() store.Backend {
	return e.store
}

// Metrics returns the engine's run counters.
func (e *Engine) Metrics() *telemetry.Metrics {
	return e.metrics
}

// Query returns a QueryBuilder over the store.
func (e *Engine) Query() *QueryBuilder {
	return &QueryBuilder{store: e.store}
}

// scriptSource returns the filesystem detector scripts are loaded from and,
// for on-disk scripts, the directory.
func (e *Engine) scriptSource() (fs.FS, string) {
	switch {
	case e.scriptsFS != nil:
		return e.scriptsFS, ""
	case e.scriptsDir != "":
		return nil, e.scriptsDir
	default:
		return scripts.FS, ""
	}
}

// MapDiff returns the identifiers of the symbols a unified diff touches.
// root is the repository the diff applies to; empty means the root of the
// last IndexDirectory call, or the one recorded in the store.
func (e *Engine) MapDiff(ctx context.Context, diffText, root string) (ids []string, err error) {
	ctx, span := telemetry.Start(ctx, "blastradius.MapDiff")
	defer func() { telemetry.End(span, err) }()

	if root == "" {
		root, err = e.indexedRoot()
		if err != nil {
			return nil, err
		}
	}
	span.SetAttributes(attribute.String("root", root))

	ids, err = diffmap.New(root, diffmap.WithLogger(e.logger)).Map(ctx, diffText)
	if err != nil {
		return nil, fmt.Errorf("blastradius: map diff: %w", err)
	}
	span.SetAttributes(attribute.Int("changed", len(ids)))
	return ids, nil
}

func (e *Engine) indexedRoot() (string, error) {
	if e.root != "" {
		return e.root, nil
	}
	root, err := e.store.GetMetadata(MetaRoot)
	if err != nil {
		return "", fmt.Errorf("blastradius: read root: %w", err)
	}
	if root == "" {
		return "", errors.New("blastradius: no indexed root; pass one or run IndexDirectory first")
	}
	return root, nil
}

// BlastRadius returns the registered entry points affected by changes to
// the given identifiers, grouped by the file declaring each handler.
func (e *Engine) BlastRadius(ctx context.Context, changed []string) (res impact.Result, err error) {
	_, span := telemetry.Start(ctx, "blastradius.BlastRadius", attribute.Int("changed", len(changed)))
	defer func() { telemetry.End(span, err) }()

	res, err = impact.Compute(changed, e.store, e.store)
	if err != nil {
		return nil, fmt.Errorf("blastradius: %w", err)
	}
	span.SetAttributes(attribute.Int("entry_points", res.Len()))
	return res, nil
}

// BlastRadiusForDiff maps diffText against root and computes the blast
// radius of the touched symbols.
func (e *Engine) BlastRadiusForDiff(ctx context.Context, diffText, root string) (impact.Result, error) {
	ids, err := e.MapDiff(ctx, diffText, root)
	if err != nil {
		return nil, err
	}
	return e.BlastRadius(ctx, ids)
}

// absRoot validates that root is a readable directory.
func absRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("blastradius: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("blastradius: read root: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("blastradius: root %s is not a directory", abs)
	}
	return abs, nil
}
