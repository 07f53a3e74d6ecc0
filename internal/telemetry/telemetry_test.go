package telemetry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestNewMetrics_Counters(t *testing.T) {
	t.Parallel()
	m := NewMetrics(nil)

	m.FilesIndexed.Add(3)
	m.ParseFailures.Inc()
	m.DuplicateEndpoints.Inc()

	assert.Equal(t, 3.0, testutil.ToFloat64(m.FilesIndexed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ParseFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DuplicateEndpoints))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.EdgesRecorded))
	assert.Equal(t, 6, testutil.CollectAndCount(m.Registry))
}

func TestNewMetrics_SeparateRegistries(t *testing.T) {
	t.Parallel()
	a := NewMetrics(prometheus.NewRegistry())
	b := NewMetrics(prometheus.NewRegistry())

	a.RoutesDetected.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.RoutesDetected))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.RoutesDetected))
}

func TestWriteTextfile(t *testing.T) {
	t.Parallel()
	m := NewMetrics(nil)
	m.UnresolvedReferences.Add(2)
	path := filepath.Join(t.TempDir(), "blastradius.prom")

	require.NoError(t, m.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "blastradius_unresolved_references_total 2")
}

func TestWriteTextfile_BadPath(t *testing.T) {
	t.Parallel()
	err := NewMetrics(nil).WriteTextfile(filepath.Join(t.TempDir(), "missing", "x.prom"))
	assert.Error(t, err)
}

func TestStartEnd_NoopProvider(t *testing.T) {
	t.Parallel()
	ctx, span := Start(context.Background(), "test", attribute.String("k", "v"))
	require.NotNil(t, ctx)
	End(span, errors.New("boom"))
	End(span, nil)
}
