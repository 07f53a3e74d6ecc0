package store

import "sync"

// Batch buffers graph and registry writes in memory so that parallel
// workers never touch the database. A Backend applies a Batch with Commit
// inside a single transaction.
//
// Thread safety: the mutex protects the buffers; a Batch may be shared by
// the goroutines of one worker but is normally owned by exactly one.
type Batch struct {
	mu sync.Mutex

	Nodes     []BatchNode
	Patches   []BatchPatch
	Edges     []Edge
	Endpoints []Endpoint

	nodeIndex map[string]int // node id -> index in Nodes
}

// BatchNode is a buffered node upsert.
type BatchNode struct {
	ID   string
	Body *Body
}

// BatchPatch sets one body key on a node that was not upserted in this
// batch. Commit merges it into the stored body.
type BatchPatch struct {
	ID    string
	Key   string
	Value any
}

// NewBatch creates an empty Batch.
func NewBatch() *Batch {
	return &Batch{nodeIndex: make(map[string]int)}
}

// UpsertNode buffers a node upsert. A later upsert of the same id in the
// same batch replaces the earlier body.
func (b *Batch) UpsertNode(id string, body *Body) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if body == nil {
		body = NewBody()
	}
	if i, ok := b.nodeIndex[id]; ok {
		b.Nodes[i].Body = body
		return
	}
	b.nodeIndex[id] = len(b.Nodes)
	b.Nodes = append(b.Nodes, BatchNode{ID: id, Body: body})
}

// SetNodeAttr sets key on the node's body. If the node was upserted in this
// batch the buffered body is updated in place; otherwise a patch is
// recorded and merged at commit time.
func (b *Batch) SetNodeAttr(id, key string, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i, ok := b.nodeIndex[id]; ok {
		b.Nodes[i].Body.Set(key, value)
		return
	}
	b.Patches = append(b.Patches, BatchPatch{ID: id, Key: key, Value: value})
}

// Connect buffers an edge insert.
func (b *Batch) Connect(source, target, relation string, attrs map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Edges = append(b.Edges, Edge{Source: source, Target: target, Relation: relation, Attrs: attrs})
}

// InsertEndpoint buffers an endpoint registration.
func (b *Batch) InsertEndpoint(ep Endpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Endpoints = append(b.Endpoints, ep)
}

// Empty reports whether nothing was buffered.
func (b *Batch) Empty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Nodes) == 0 && len(b.Patches) == 0 && len(b.Edges) == 0 && len(b.Endpoints) == 0
}
