package blastradius

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/jward/blastradius/internal/detect"
	"github.com/jward/blastradius/internal/resolve"
	blastrt "github.com/jward/blastradius/internal/runtime"
	"github.com/jward/blastradius/internal/store"
	"github.com/jward/blastradius/internal/syntax"
	"github.com/jward/blastradius/internal/telemetry"
)

// IndexReport summarizes one IndexDirectory run.
type IndexReport struct {
	RunID              string `json:"run_id" yaml:"run_id"`
	Root               string `json:"root" yaml:"root"`
	Files              int    `json:"files" yaml:"files"`
	ParseFailures      int    `json:"parse_failures" yaml:"parse_failures"`
	Nodes              int    `json:"nodes" yaml:"nodes"`
	Edges              int    `json:"edges" yaml:"edges"`
	Routes             int    `json:"routes" yaml:"routes"`
	DuplicateEndpoints int    `json:"duplicate_endpoints" yaml:"duplicate_endpoints"`
	Unresolved         int    `json:"unresolved" yaml:"unresolved"`
}

// fileWork is what one worker produced for one file.
type fileWork struct {
	rel    string
	batch  *store.Batch
	routes []detect.Route
	attrs  []detect.Attr

	nodes      int
	edges      int
	unresolved int
}

// IndexDirectory indexes every Python file under root and records the
// symbol graph and endpoint registry in the store. It runs in three phases:
//
//	Phase A (parallel): parse every file into the syntax index.
//	Phase B (parallel): resolve calls and run detectors, each file into its
//	                    own store.Batch.
//	Phase C (serial):   commit the batches in path order, then annotate
//	                    route handlers.
//
// Files that fail to parse and detectors that fail on a file are logged and
// skipped. Only an unreadable root or a failing store is returned as an
// error.
func (e *Engine) IndexDirectory(ctx context.Context, root string) (report *IndexReport, err error) {
	ctx, span := telemetry.Start(ctx, "blastradius.IndexDirectory")
	defer func() { telemetry.End(span, err) }()

	abs, err := absRoot(root)
	if err != nil {
		return nil, err
	}
	paths, err := syntax.ListFiles(abs)
	if err != nil {
		return nil, fmt.Errorf("blastradius: list files: %w", err)
	}
	var files []string
	for _, p := range paths {
		if syntax.Indexable(p) {
			files = append(files, p)
		}
	}

	report = &IndexReport{RunID: uuid.NewString(), Root: abs}
	log := e.logger.With("run_id", report.RunID)
	span.SetAttributes(attribute.String("run_id", report.RunID), attribute.Int("files", len(files)))

	// ---- Phase A: parse ----
	ix := syntax.NewIndex(abs)
	failures, err := e.parseFiles(ctx, ix, files, log)
	if err != nil {
		return nil, err
	}
	report.Files = ix.Len()
	report.ParseFailures = failures

	// ---- Phase B: analyze ----
	resolver := resolve.New(ix)
	detectors, err := e.buildDetectors(resolver)
	if err != nil {
		return nil, err
	}
	works, err := e.analyzeFiles(ctx, ix, resolver, detectors, log)
	if err != nil {
		return nil, err
	}

	// ---- Phase C: commit ----
	var errs []error
	for _, w := range works {
		rejected, err := e.store.Commit(w.batch)
		if err != nil {
			errs = append(errs, fmt.Errorf("commit %s: %w", w.rel, err))
			continue
		}
		for _, ep := range rejected {
			log.Warn("rejected endpoint", "identifier", ep.Identifier, "signature", ep.Signature, "err", store.ErrDuplicateEndpoint)
		}
		e.metrics.DuplicateEndpoints.Add(float64(len(rejected)))
		report.DuplicateEndpoints += len(rejected)
		report.Nodes += w.nodes
		report.Edges += w.edges
		report.Routes += len(w.routes)
		report.Unresolved += w.unresolved
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("blastradius: indexing had %d error(s): %w", len(errs), errs[0])
	}
	if _, err := e.store.Commit(annotations(works)); err != nil {
		return nil, fmt.Errorf("blastradius: annotate handlers: %w", err)
	}

	if err := e.recordRun(report); err != nil {
		return nil, err
	}
	e.root = abs

	log.Info("indexed directory",
		"root", abs,
		"files", report.Files,
		"parse_failures", report.ParseFailures,
		"edges", report.Edges,
		"routes", report.Routes,
		"duplicate_endpoints", report.DuplicateEndpoints,
		"unresolved", report.Unresolved,
	)
	return report, nil
}

// parseFiles fills ix from files on the worker pool and returns the number
// of files that could not be parsed.
func (e *Engine) parseFiles(ctx context.Context, ix *syntax.Index, files []string, log *slog.Logger) (int, error) {
	var failures atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for _, rel := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if _, err := ix.IndexFile(gctx, rel); err != nil {
				if errors.Is(err, syntax.ErrParse) {
					failures.Add(1)
					e.metrics.ParseFailures.Inc()
				}
				log.Warn("skipping file", "path", rel, "err", err)
				return nil
			}
			e.metrics.FilesIndexed.Inc()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, fmt.Errorf("blastradius: parse: %w", err)
	}
	return int(failures.Load()), nil
}

// analyzeFiles builds one fileWork per indexed file on the worker pool.
// The result is in path order.
func (e *Engine) analyzeFiles(ctx context.Context, ix *syntax.Index, r *resolve.Resolver, detectors []detect.Detector, log *slog.Logger) ([]fileWork, error) {
	files := ix.Files()
	works := make([]fileWork, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, rel := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			works[i] = e.analyzeFile(gctx, ix.Table(rel), r, detectors, log)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("blastradius: analyze: %w", err)
	}
	return works, nil
}

// analyzeFile records tbl's spans as nodes, their resolvable calls and base
// classes as edges, and everything the detectors report.
func (e *Engine) analyzeFile(ctx context.Context, tbl *syntax.SymbolTable, r *resolve.Resolver, detectors []detect.Detector, log *slog.Logger) fileWork {
	rel := tbl.File
	w := fileWork{rel: rel, batch: store.NewBatch()}

	link := func(source, ref string, attrs map[string]any) {
		target, ok := r.ResolveIdentifier(ref, rel)
		if !ok {
			w.unresolved++
			log.Debug("unresolved reference", "path", rel, "identifier", source, "reference", ref)
			return
		}
		w.batch.Connect(source, target, store.RelationCalls, attrs)
		w.edges++
	}

	for _, s := range tbl.Spans {
		id := store.MakeIdentifier(rel, s.QualifiedName)
		w.batch.UpsertNode(id, store.NewBody().
			Set(store.BodyText, s.Text).
			Set(store.BodyKind, string(s.Kind)).
			Set(store.BodyFile, rel).
			Set(store.BodyLine, s.StartLine).
			Set(store.BodyEndLine, s.EndLine))
		w.nodes++
		for _, call := range s.Calls {
			link(id, call, nil)
		}
		for _, base := range s.Bases {
			link(id, base, map[string]any{"via": "inherits"})
		}
	}

	file := detect.File{Path: rel, Source: tbl.Source, Table: tbl}
	var res detect.Result
	for _, d := range detectors {
		found, err := d.Detect(ctx, file)
		if err != nil {
			log.Warn("detector failed", "detector", d.Name(), "path", rel, "err", err)
			continue
		}
		res.Merge(found)
	}
	res = detect.ApplyRouters(rel, res, e.routers)

	for _, rt := range res.Routes {
		w.batch.InsertEndpoint(store.Endpoint{Signature: rt.Signature, Identifier: rt.Identifier})
	}
	for _, edge := range res.Edges {
		w.batch.Connect(edge.Source, edge.Target, edge.Relation, edge.Attrs)
	}
	for _, ref := range res.Unresolved {
		log.Debug("unresolved view", "path", rel, "reference", ref)
	}
	w.routes = res.Routes
	w.attrs = res.Attrs
	w.edges += len(res.Edges)
	w.unresolved += len(res.Unresolved)

	e.metrics.RoutesDetected.Add(float64(len(res.Routes)))
	e.metrics.EdgesRecorded.Add(float64(w.edges))
	e.metrics.UnresolvedReferences.Add(float64(w.unresolved))
	return w
}

// annotations collects the body keys detectors attach to handler nodes.
// Handlers are often declared in another file than their route, so the
// keys are applied after every file's nodes exist. A handler keeps the
// signature of its first route, matching the registry.
func annotations(works []fileWork) *store.Batch {
	b := store.NewBatch()
	seen := make(map[string]bool)
	for _, w := range works {
		for _, rt := range w.routes {
			if seen[rt.Identifier] {
				continue
			}
			seen[rt.Identifier] = true
			b.SetNodeAttr(rt.Identifier, store.BodyRoute, rt.Signature)
		}
		for _, a := range w.attrs {
			b.SetNodeAttr(a.Identifier, a.Key, a.Value)
		}
	}
	return b
}

// buildDetectors returns the built-in detectors, the script detectors, and
// any added with WithDetectors, in that order.
func (e *Engine) buildDetectors(r *resolve.Resolver) ([]detect.Detector, error) {
	ds := []detect.Detector{detect.NewAnnotation(), detect.NewPatternList(r)}

	fsys, dir := e.scriptSource()
	rtOpts := []blastrt.RuntimeOption{blastrt.WithLogger(e.logger)}
	if fsys != nil {
		rtOpts = append(rtOpts, blastrt.WithRuntimeFS(fsys))
	}
	scripted, err := blastrt.LoadDetectors(blastrt.NewRuntime(dir, rtOpts...), r)
	if err != nil {
		return nil, fmt.Errorf("blastradius: load detector scripts: %w", err)
	}
	for _, s := range scripted {
		ds = append(ds, s)
	}
	return append(ds, e.detectors...), nil
}

func (e *Engine) recordRun(report *IndexReport) error {
	meta := [][2]string{
		{MetaRunID, report.RunID},
		{MetaRoot, report.Root},
		{MetaIndexedAt, time.Now().UTC().Format(time.RFC3339)},
		{MetaFiles, strconv.Itoa(report.Files)},
	}
	for _, kv := range meta {
		if err := e.store.SetMetadata(kv[0], kv[1]); err != nil {
			return fmt.Errorf("blastradius: record %s: %w", kv[0], err)
		}
	}
	return nil
}
