package store

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

// =============================================================================
// Schema & Lifecycle
// =============================================================================

func TestMigrate_AllTablesExist(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	for _, table := range []string{"nodes", "edges", "endpoints", "metadata"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.Migrate())
}

func TestMigrate_WALMode(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	var mode string
	err := s.db.QueryRow("PRAGMA journal_mode").Scan(&mode)
	require.NoError(t, err)
	assert.Equal(t, "wal", mode)
}

// =============================================================================
// Nodes
// =============================================================================

func TestNode_UpsertAndFind(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	body := NewBody().Set(BodyText, "def foo(): pass").Set(BodyKind, "function").Set(BodyLine, 3)
	require.NoError(t, s.UpsertNode("a.py:foo", body))

	got, err := s.FindNode("a.py:foo")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{BodyText, BodyKind, BodyLine}, got.Keys())
	assert.Equal(t, "def foo(): pass", got.String(BodyText))
	line, _ := got.Get(BodyLine)
	assert.Equal(t, json.Number("3"), line)
}

func TestNode_FindMissingReturnsNil(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	got, err := s.FindNode("nope.py:x")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestNode_UpsertKeepsLatestBody(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	require.NoError(t, s.UpsertNode("a.py:foo", NewBody().Set(BodyText, "v1")))
	require.NoError(t, s.UpsertNode("a.py:foo", NewBody().Set(BodyText, "v2")))

	got, err := s.FindNode("a.py:foo")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.String(BodyText))

	n, err := s.NodeCount()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNode_NilBodyStoredEmpty(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	require.NoError(t, s.UpsertNode("a.py:x", nil))
	got, err := s.FindNode("a.py:x")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 0, got.Len())
}

// =============================================================================
// Edges
// =============================================================================

func TestConnect_Idempotent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	require.NoError(t, s.Connect("a", "b", RelationCalls, nil))
	require.NoError(t, s.Connect("a", "b", RelationCalls, map[string]any{"x": 1}))

	n, err := s.EdgeCount()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	edges, err := s.EdgesFrom("a")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Nil(t, edges[0].Attrs, "first insert wins")
}

func TestConnect_DistinctRelationsAreSeparateEdges(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	require.NoError(t, s.Connect("a", "b", RelationCalls, nil))
	require.NoError(t, s.Connect("a", "b", "model", nil))

	n, err := s.EdgeCount()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	out, err := s.OutboundNeighbors("a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, out, "neighbors are distinct across relations")
}

func TestConnect_EndpointsNeedNotExist(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	require.NoError(t, s.Connect("ghost.py:a", "ghost.py:b", RelationCalls, nil))
	in, err := s.InboundNeighbors("ghost.py:b")
	require.NoError(t, err)
	assert.Equal(t, []string{"ghost.py:a"}, in)
}

func TestNeighbors_Directions(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	require.NoError(t, s.Connect("r", "svc", RelationCalls, nil))
	require.NoError(t, s.Connect("svc", "util", RelationCalls, nil))
	require.NoError(t, s.Connect("other", "util", RelationCalls, nil))

	in, err := s.InboundNeighbors("util")
	require.NoError(t, err)
	assert.Equal(t, []string{"other", "svc"}, in)

	out, err := s.OutboundNeighbors("svc")
	require.NoError(t, err)
	assert.Equal(t, []string{"util"}, out)

	none, err := s.InboundNeighbors("r")
	require.NoError(t, err)
	assert.Empty(t, none)
}

// =============================================================================
// Traversal
// =============================================================================

func TestTraverse_Acyclic(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	require.NoError(t, s.Connect("route1", "svcA", RelationCalls, nil))
	require.NoError(t, s.Connect("svcA", "util1", RelationCalls, nil))
	require.NoError(t, s.Connect("route2", "util1", RelationCalls, nil))

	anc, err := Ancestors(s, "util1")
	require.NoError(t, err)
	assert.Equal(t, "util1", anc[0], "start node comes first")
	assert.ElementsMatch(t, []string{"util1", "svcA", "route2", "route1"}, anc)

	desc, err := Descendants(s, "route1")
	require.NoError(t, err)
	assert.Equal(t, []string{"route1", "svcA", "util1"}, desc)
}

func TestTraverse_CycleTerminates(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	require.NoError(t, s.Connect("a", "b", RelationCalls, nil))
	require.NoError(t, s.Connect("b", "c", RelationCalls, nil))
	require.NoError(t, s.Connect("c", "a", RelationCalls, nil))

	anc, err := Ancestors(s, "a")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, anc)
}

func TestTraverse_SelfLoop(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	require.NoError(t, s.Connect("a", "a", RelationCalls, nil))
	anc, err := Ancestors(s, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, anc)
}

func TestTraverse_IsolatedNode(t *testing.T) {
	t.Parallel()

	got, err := Traverse("x", func(string) ([]string, error) { return nil, nil })
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, got)
}

// =============================================================================
// Endpoints
// =============================================================================

func TestEndpoint_InsertAndLookup(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	require.NoError(t, s.InsertEndpoint(&Endpoint{Signature: "GET /users", Identifier: "api/users.py:list_users"}))

	ep, err := s.EndpointByIdentifier("api/users.py:list_users")
	require.NoError(t, err)
	require.NotNil(t, ep)
	assert.Equal(t, "GET /users", ep.Signature)
	assert.Equal(t, "api/users.py", ep.File())
	assert.Nil(t, ep.TestPlan)

	missing, err := s.EndpointByIdentifier("api/users.py:nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestEndpoint_DuplicateRejectedOriginalUnchanged(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	require.NoError(t, s.InsertEndpoint(&Endpoint{Signature: "GET /a", Identifier: "f.py:h"}))
	err := s.InsertEndpoint(&Endpoint{Signature: "POST /b", Identifier: "f.py:h"})
	require.ErrorIs(t, err, ErrDuplicateEndpoint)

	ep, err := s.EndpointByIdentifier("f.py:h")
	require.NoError(t, err)
	assert.Equal(t, "GET /a", ep.Signature)
}

func TestEndpoint_ListOrdered(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	require.NoError(t, s.InsertEndpoint(&Endpoint{Signature: "GET /z", Identifier: "z.py:z"}))
	require.NoError(t, s.InsertEndpoint(&Endpoint{Signature: "GET /a", Identifier: "a.py:a"}))

	eps, err := s.Endpoints()
	require.NoError(t, err)
	require.Len(t, eps, 2)
	assert.Equal(t, "a.py:a", eps[0].Identifier)
	assert.Equal(t, "z.py:z", eps[1].Identifier)
}

func TestEndpoint_TestPlanAndPreferences(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	require.NoError(t, s.InsertEndpoint(&Endpoint{Signature: "GET /a", Identifier: "a.py:a"}))
	require.NoError(t, s.SetTestPlan("a.py:a", json.RawMessage(`{"steps":["login"]}`)))
	require.NoError(t, s.SetPreferences("a.py:a", json.RawMessage(`{"env":"staging"}`)))

	ep, err := s.EndpointByIdentifier("a.py:a")
	require.NoError(t, err)
	assert.JSONEq(t, `{"steps":["login"]}`, string(ep.TestPlan))
	assert.JSONEq(t, `{"env":"staging"}`, string(ep.Preferences))

	require.NoError(t, s.SetTestPlan("a.py:a", nil))
	ep, err = s.EndpointByIdentifier("a.py:a")
	require.NoError(t, err)
	assert.Nil(t, ep.TestPlan)
}

func TestEndpoint_UpdateUnknownIsNotFound(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	err := s.SetTestPlan("missing.py:x", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEndpoint_UpdateRejectsInvalidJSON(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	require.NoError(t, s.InsertEndpoint(&Endpoint{Signature: "GET /a", Identifier: "a.py:a"}))
	assert.Error(t, s.SetPreferences("a.py:a", json.RawMessage(`{not json`)))
}

// =============================================================================
// Metadata
// =============================================================================

func TestMetadata_SetGet(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	v, err := s.GetMetadata("run_id")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, s.SetMetadata("run_id", "r1"))
	require.NoError(t, s.SetMetadata("run_id", "r2"))
	v, err = s.GetMetadata("run_id")
	require.NoError(t, err)
	assert.Equal(t, "r2", v)
}

// =============================================================================
// Body
// =============================================================================

func TestBody_KeyOrderRoundTrip(t *testing.T) {
	t.Parallel()

	b := NewBody().Set("z", 1).Set("a", "x").Set("m", []any{"p"})
	b.Set("z", 2)
	raw, err := json.Marshal(b)
	require.NoError(t, err)
	assert.Equal(t, `{"z":2,"a":"x","m":["p"]}`, string(raw))

	back := NewBody()
	require.NoError(t, json.Unmarshal(raw, back))
	assert.Equal(t, []string{"z", "a", "m"}, back.Keys())
}

func TestBody_RejectsNonObject(t *testing.T) {
	t.Parallel()
	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), NewBody()))
}

func TestIdentifier_Parts(t *testing.T) {
	t.Parallel()

	id := MakeIdentifier("pkg/mod.py", "Class.method")
	assert.Equal(t, "pkg/mod.py:Class.method", id)
	assert.Equal(t, "pkg/mod.py", IdentifierFile(id))
	assert.Equal(t, "Class.method", IdentifierName(id))
}
