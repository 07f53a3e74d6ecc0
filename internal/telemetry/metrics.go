// Package telemetry holds the run metrics and trace spans of an analysis.
//
// Metrics live in a per-engine registry rather than the global default, so
// several engines in one process count independently. Batch runs export
// them with WriteTextfile for the node exporter's textfile collector.
package telemetry

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "blastradius"

// Metrics counts what one engine did across its runs.
type Metrics struct {
	Registry *prometheus.Registry

	// FilesIndexed counts files whose symbol tables were built.
	FilesIndexed prometheus.Counter
	// ParseFailures counts files skipped because they could not be parsed.
	ParseFailures prometheus.Counter
	// UnresolvedReferences counts references the resolver dropped.
	UnresolvedReferences prometheus.Counter
	// DuplicateEndpoints counts endpoint rows rejected by the registry.
	DuplicateEndpoints prometheus.Counter
	// RoutesDetected counts routes reported by detectors.
	RoutesDetected prometheus.Counter
	// EdgesRecorded counts edges submitted to the graph.
	EdgesRecorded prometheus.Counter
}

// NewMetrics registers the counters with reg. A nil reg gets a fresh
// registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	counter := func(name, help string) prometheus.Counter {
		return f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
		})
	}
	return &Metrics{
		Registry:             reg,
		FilesIndexed:         counter("files_indexed_total", "Files whose symbol tables were built."),
		ParseFailures:        counter("parse_failures_total", "Files skipped because they could not be parsed."),
		UnresolvedReferences: counter("unresolved_references_total", "References that resolved to no declaration."),
		DuplicateEndpoints:   counter("duplicate_endpoints_total", "Endpoints rejected because the identifier was already registered."),
		RoutesDetected:       counter("routes_detected_total", "Routes reported by detectors."),
		EdgesRecorded:        counter("edges_recorded_total", "Edges submitted to the graph store."),
	}
}

// WriteTextfile writes every metric in the registry to path in the text
// exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("telemetry: write %s: %w", path, err)
	}
	return nil
}
