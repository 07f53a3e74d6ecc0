// Package blastradius performs static change-impact analysis on Python
// source trees. It builds a directed call graph from parsed source, detects
// externally reachable route handlers, maps a unified diff to the declared
// symbols it touches, and reports the entry points transitively affected by
// those symbols: the change's blast radius.
//
// # Pipeline
//
//  1. Index: [Engine.IndexDirectory] parses every Python file with
//     tree-sitter into per-file symbol tables (spans, imports, instance
//     bindings), resolves each call to its declaring symbol, runs the route
//     detectors, and records nodes, "calls" edges, and endpoints in the
//     store.
//
//  2. Map: [Engine.MapDiff] reads a unified diff and returns the identifiers
//     ("path/to/file.py:Class.method") of the symbols whose line spans
//     contain a changed line.
//
//  3. Compute: [Engine.BlastRadius] takes the ancestor closure of each
//     changed identifier, keeps the nodes nothing calls, and joins them
//     with the endpoint registry.
//
// # Usage
//
//	e, err := blastradius.New(".blastradius/index.db")
//	if err != nil { ... }
//	defer e.Close()
//
//	ctx := context.Background()
//	_, err = e.IndexDirectory(ctx, "path/to/repo")
//	res, err := e.BlastRadiusForDiff(ctx, diffText, "")
//	for _, file := range res.Files() {
//		for _, entry := range res[file] {
//			fmt.Println(file, entry.EntryPoint)
//		}
//	}
//
// # Detectors
//
// Two detectors are built in: decorator routes (FastAPI, Flask) and Django
// urlpatterns lists. More live in Risor scripts under scripts/detect, which
// are embedded by default; see the internal/runtime package for the globals
// exposed to them. [WithRouters] mounts a file's routes under a prefix and
// wires its handlers to dependency identifiers.
//
// # Storage
//
// The default backend is SQLite in WAL mode. [WithBackend] selects BadgerDB
// instead. Either way one store holds one analyzed snapshot.
package blastradius
