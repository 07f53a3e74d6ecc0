package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatch_UpsertReplacesEarlierBody(t *testing.T) {
	t.Parallel()

	b := NewBatch()
	assert.True(t, b.Empty())
	b.UpsertNode("a.py:f", NewBody().Set(BodyText, "old"))
	b.UpsertNode("a.py:f", NewBody().Set(BodyText, "new"))

	require.Len(t, b.Nodes, 1)
	assert.Equal(t, "new", b.Nodes[0].Body.String(BodyText))
	assert.False(t, b.Empty())
}

func TestBatch_SetNodeAttrOnBufferedNode(t *testing.T) {
	t.Parallel()

	b := NewBatch()
	b.UpsertNode("a.py:f", NewBody().Set(BodyText, "def f(): pass"))
	b.SetNodeAttr("a.py:f", BodyResponse, "UserOut")

	assert.Empty(t, b.Patches, "buffered node is updated in place")
	assert.Equal(t, "UserOut", b.Nodes[0].Body.String(BodyResponse))
}

func TestCommit_AppliesEverything(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	b := NewBatch()
	b.UpsertNode("a.py:route", NewBody().Set(BodyText, "def route(): svc()"))
	b.UpsertNode("a.py:svc", NewBody().Set(BodyText, "def svc(): pass"))
	b.Connect("a.py:route", "a.py:svc", RelationCalls, nil)
	b.InsertEndpoint(Endpoint{Signature: "GET /r", Identifier: "a.py:route"})

	rejected, err := s.Commit(b)
	require.NoError(t, err)
	assert.Empty(t, rejected)

	n, err := s.NodeCount()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	in, err := s.InboundNeighbors("a.py:svc")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.py:route"}, in)

	ep, err := s.EndpointByIdentifier("a.py:route")
	require.NoError(t, err)
	require.NotNil(t, ep)
	assert.Equal(t, "GET /r", ep.Signature)
}

func TestCommit_PatchMergesIntoStoredBody(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	require.NoError(t, s.UpsertNode("a.py:h", NewBody().Set(BodyText, "def h(): pass")))

	b := NewBatch()
	b.SetNodeAttr("a.py:h", BodyResponse, "Item")
	b.SetNodeAttr("b.py:ghost", BodyRoute, "GET /g")
	_, err := s.Commit(b)
	require.NoError(t, err)

	got, err := s.FindNode("a.py:h")
	require.NoError(t, err)
	assert.Equal(t, "def h(): pass", got.String(BodyText))
	assert.Equal(t, "Item", got.String(BodyResponse))

	ghost, err := s.FindNode("b.py:ghost")
	require.NoError(t, err)
	require.NotNil(t, ghost, "patch on a missing node creates it")
	assert.Equal(t, "GET /g", ghost.String(BodyRoute))
}

func TestCommit_DuplicateEndpointsReported(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	require.NoError(t, s.InsertEndpoint(&Endpoint{Signature: "GET /a", Identifier: "a.py:h"}))

	b := NewBatch()
	b.InsertEndpoint(Endpoint{Signature: "POST /a", Identifier: "a.py:h"})
	b.InsertEndpoint(Endpoint{Signature: "GET /b", Identifier: "b.py:h"})
	b.InsertEndpoint(Endpoint{Signature: "PUT /b", Identifier: "b.py:h"})

	rejected, err := s.Commit(b)
	require.NoError(t, err)
	require.Len(t, rejected, 2)
	assert.Equal(t, "POST /a", rejected[0].Signature)
	assert.Equal(t, "PUT /b", rejected[1].Signature)

	ep, err := s.EndpointByIdentifier("a.py:h")
	require.NoError(t, err)
	assert.Equal(t, "GET /a", ep.Signature)
}

func TestCommit_EmptyBatch(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	rejected, err := s.Commit(NewBatch())
	require.NoError(t, err)
	assert.Empty(t, rejected)
}
