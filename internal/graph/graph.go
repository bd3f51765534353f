// Package graph implements the base graph underneath the distributed
// facade: identity-keyed node/edge catalogs, per-layer adjacency with
// stable insertion order, and the insert/erase callback hooks the sync
// modes attach to.
package graph

import (
	"sync"

	"github.com/fpmas-go/fpmas/internal/id"
)

// State distinguishes a node or edge hosted on this process (LOCAL) from a
// replica or reference to one hosted elsewhere (DISTANT).
type State int

const (
	// Local means this process owns the node/edge outright.
	Local State = iota
	// Distant means the node/edge is a reference to data owned elsewhere.
	Distant
)

func (s State) String() string {
	if s == Local {
		return "LOCAL"
	}
	return "DISTANT"
}

// Node carries an opaque application payload T alongside the bookkeeping
// the graph needs: identity, weight, state/location, and per-layer
// incoming/outgoing edge sequences in stable insertion order.
type Node[T any] struct {
	Id       id.DistributedId
	Weight   float64
	Data     T
	State    State
	Location int

	mu  sync.RWMutex
	out map[int][]*Edge[T]
	in  map[int][]*Edge[T]
}

func newNode[T any](nodeId id.DistributedId, weight float64, data T, location int) *Node[T] {
	return &Node[T]{
		Id:       nodeId,
		Weight:   weight,
		Data:     data,
		State:    Local,
		Location: location,
		out:      make(map[int][]*Edge[T]),
		in:       make(map[int][]*Edge[T]),
	}
}

// NewLocalNode constructs a LOCAL node with a known id, used by migration
// import which must preserve the id an exported node carried on its origin
// rank rather than minting a fresh one.
func NewLocalNode[T any](nodeId id.DistributedId, weight float64, data T, rank int) *Node[T] {
	return newNode(nodeId, weight, data, rank)
}

// NewDistantNode constructs a DISTANT replica node with a known id and
// location, used by migration import and ghost-mode link import when a
// referenced endpoint has no existing local representation yet.
func NewDistantNode[T any](nodeId id.DistributedId, weight float64, data T, location int) *Node[T] {
	n := newNode(nodeId, weight, data, location)
	n.State = Distant
	return n
}

// OutEdges returns the outgoing edges on a layer in insertion order. The
// returned slice is owned by the caller; mutating it does not affect the
// node.
func (n *Node[T]) OutEdges(layer int) []*Edge[T] {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*Edge[T], len(n.out[layer]))
	copy(out, n.out[layer])
	return out
}

// InEdges returns the incoming edges on a layer in insertion order.
func (n *Node[T]) InEdges(layer int) []*Edge[T] {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*Edge[T], len(n.in[layer]))
	copy(out, n.in[layer])
	return out
}

// Layers returns every layer this node has at least one incident edge on.
func (n *Node[T]) Layers() []int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	seen := make(map[int]struct{})
	for l := range n.out {
		seen[l] = struct{}{}
	}
	for l := range n.in {
		seen[l] = struct{}{}
	}
	layers := make([]int, 0, len(seen))
	for l := range seen {
		layers = append(layers, l)
	}
	return layers
}

func (n *Node[T]) addOut(e *Edge[T]) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.out[e.Layer] = append(n.out[e.Layer], e)
}

func (n *Node[T]) addIn(e *Edge[T]) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.in[e.Layer] = append(n.in[e.Layer], e)
}

func (n *Node[T]) removeOut(e *Edge[T]) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.out[e.Layer] = removeEdge(n.out[e.Layer], e)
}

func (n *Node[T]) removeIn(e *Edge[T]) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.in[e.Layer] = removeEdge(n.in[e.Layer], e)
}

func removeEdge[T any](edges []*Edge[T], target *Edge[T]) []*Edge[T] {
	out := edges[:0]
	for _, e := range edges {
		if e.Id != target.Id {
			out = append(out, e)
		}
	}
	return out
}

// Edge links a source node to a target node on one layer. State is derived
// from the endpoints: LOCAL iff both source and target are LOCAL.
type Edge[T any] struct {
	Id     id.DistributedId
	Layer  int
	Weight float64
	Source *Node[T]
	Target *Node[T]
	State  State
}

// nodeCallback and edgeCallback are the insert/erase hooks: insert
// callbacks fire after a node or edge is inserted, erase callbacks fire
// before a node or edge is removed.
type nodeCallback[T any] func(*Node[T])
type edgeCallback[T any] func(*Edge[T])

// BaseGraph is the identity-keyed catalog of nodes and edges underneath the
// distributed facade. It knows nothing about ranks, sync modes or
// migration — only insert/erase/lookup and layer adjacency.
type BaseGraph[T any] struct {
	muNodes sync.RWMutex
	nodes   map[id.DistributedId]*Node[T]

	muEdges sync.RWMutex
	edges   map[id.DistributedId]*Edge[T]

	minter *id.Minter

	muCallbacks   sync.RWMutex
	onInsertNode  []nodeCallback[T]
	onEraseNode   []nodeCallback[T]
	onInsertEdge  []edgeCallback[T]
	onEraseEdge   []edgeCallback[T]
}

// NewBaseGraph creates an empty graph that mints ids for the given rank.
func NewBaseGraph[T any](rank int) *BaseGraph[T] {
	return &BaseGraph[T]{
		nodes:  make(map[id.DistributedId]*Node[T]),
		edges:  make(map[id.DistributedId]*Edge[T]),
		minter: id.NewMinter(rank),
	}
}

// OnInsertNode registers a callback invoked after a node is inserted.
func (g *BaseGraph[T]) OnInsertNode(cb func(*Node[T])) {
	g.muCallbacks.Lock()
	defer g.muCallbacks.Unlock()
	g.onInsertNode = append(g.onInsertNode, cb)
}

// OnEraseNode registers a callback invoked before a node is erased.
func (g *BaseGraph[T]) OnEraseNode(cb func(*Node[T])) {
	g.muCallbacks.Lock()
	defer g.muCallbacks.Unlock()
	g.onEraseNode = append(g.onEraseNode, cb)
}

// OnInsertEdge registers a callback invoked after an edge is inserted.
func (g *BaseGraph[T]) OnInsertEdge(cb func(*Edge[T])) {
	g.muCallbacks.Lock()
	defer g.muCallbacks.Unlock()
	g.onInsertEdge = append(g.onInsertEdge, cb)
}

// OnEraseEdge registers a callback invoked before an edge is erased.
func (g *BaseGraph[T]) OnEraseEdge(cb func(*Edge[T])) {
	g.muCallbacks.Lock()
	defer g.muCallbacks.Unlock()
	g.onEraseEdge = append(g.onEraseEdge, cb)
}

// InsertLocalNode mints a fresh id and inserts a new LOCAL node carrying
// data, firing the insert-node callbacks.
func (g *BaseGraph[T]) InsertLocalNode(weight float64, data T, rank int) *Node[T] {
	n := newNode(g.minter.Next(), weight, data, rank)
	g.insertNode(n)
	return n
}

// InsertNode inserts an already-constructed node (LOCAL or DISTANT), used
// by migration import and edge import to place nodes with a pre-known id.
func (g *BaseGraph[T]) InsertNode(n *Node[T]) {
	g.insertNode(n)
}

func (g *BaseGraph[T]) insertNode(n *Node[T]) {
	g.muNodes.Lock()
	g.nodes[n.Id] = n
	g.muNodes.Unlock()

	g.muCallbacks.RLock()
	callbacks := append([]nodeCallback[T]{}, g.onInsertNode...)
	g.muCallbacks.RUnlock()
	for _, cb := range callbacks {
		cb(n)
	}
}

// GetNode looks up a node by id.
func (g *BaseGraph[T]) GetNode(nodeId id.DistributedId) (*Node[T], bool) {
	g.muNodes.RLock()
	defer g.muNodes.RUnlock()
	n, ok := g.nodes[nodeId]
	return n, ok
}

// GetEdge looks up an edge by id.
func (g *BaseGraph[T]) GetEdge(edgeId id.DistributedId) (*Edge[T], bool) {
	g.muEdges.RLock()
	defer g.muEdges.RUnlock()
	e, ok := g.edges[edgeId]
	return e, ok
}

// Nodes returns every node currently in the graph, in no particular order.
func (g *BaseGraph[T]) Nodes() []*Node[T] {
	g.muNodes.RLock()
	defer g.muNodes.RUnlock()
	out := make([]*Node[T], 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	return out
}

// Edges returns every edge currently in the graph, in no particular order.
func (g *BaseGraph[T]) Edges() []*Edge[T] {
	g.muEdges.RLock()
	defer g.muEdges.RUnlock()
	out := make([]*Edge[T], 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, e)
	}
	return out
}

// NodeCount returns the number of nodes in the graph.
func (g *BaseGraph[T]) NodeCount() int {
	g.muNodes.RLock()
	defer g.muNodes.RUnlock()
	return len(g.nodes)
}

// EdgeCount returns the number of edges in the graph.
func (g *BaseGraph[T]) EdgeCount() int {
	g.muEdges.RLock()
	defer g.muEdges.RUnlock()
	return len(g.edges)
}

// Link creates an edge from source to target on layer, firing the
// insert-edge callbacks. The caller is responsible for deciding whether
// this requires sync-mode escalation; BaseGraph only maintains the graph
// structure itself.
func (g *BaseGraph[T]) Link(source, target *Node[T], layer int, weight float64) *Edge[T] {
	e := &Edge[T]{
		Id:     g.minter.Next(),
		Layer:  layer,
		Weight: weight,
		Source: source,
		Target: target,
		State:  edgeState(source, target),
	}
	g.InsertEdge(e)
	return e
}

// InsertEdge inserts an already-constructed edge (used by migration import,
// which carries an existing id) and wires it into both endpoints'
// adjacency.
func (g *BaseGraph[T]) InsertEdge(e *Edge[T]) {
	g.muEdges.Lock()
	g.edges[e.Id] = e
	g.muEdges.Unlock()

	e.Source.addOut(e)
	e.Target.addIn(e)

	g.muCallbacks.RLock()
	callbacks := append([]edgeCallback[T]{}, g.onInsertEdge...)
	g.muCallbacks.RUnlock()
	for _, cb := range callbacks {
		cb(e)
	}
}

func edgeState[T any](source, target *Node[T]) State {
	if source.State == Local && target.State == Local {
		return Local
	}
	return Distant
}

// EraseEdge removes an edge and detaches it from both endpoints' adjacency,
// firing the erase-edge callbacks first.
func (g *BaseGraph[T]) EraseEdge(e *Edge[T]) {
	g.muCallbacks.RLock()
	callbacks := append([]edgeCallback[T]{}, g.onEraseEdge...)
	g.muCallbacks.RUnlock()
	for _, cb := range callbacks {
		cb(e)
	}

	e.Source.removeOut(e)
	e.Target.removeIn(e)

	g.muEdges.Lock()
	delete(g.edges, e.Id)
	g.muEdges.Unlock()
}

// EraseNode removes a node and cascades to erase every edge incident to it,
// firing the erase-node callbacks after the cascade (so a removeNode
// observer sees a node whose edges are already gone, matching the base
// graph's "erase cascades" contract).
func (g *BaseGraph[T]) EraseNode(n *Node[T]) {
	for _, l := range n.Layers() {
		for _, e := range n.OutEdges(l) {
			g.EraseEdge(e)
		}
		for _, e := range n.InEdges(l) {
			g.EraseEdge(e)
		}
	}

	g.muCallbacks.RLock()
	callbacks := append([]nodeCallback[T]{}, g.onEraseNode...)
	g.muCallbacks.RUnlock()
	for _, cb := range callbacks {
		cb(n)
	}

	g.muNodes.Lock()
	delete(g.nodes, n.Id)
	g.muNodes.Unlock()
}

// Clear erases every edge then every node, in that order, matching the
// base graph's erase-cascade contract.
func (g *BaseGraph[T]) Clear() {
	for _, e := range g.Edges() {
		g.EraseEdge(e)
	}
	for _, n := range g.Nodes() {
		g.muCallbacks.RLock()
		callbacks := append([]nodeCallback[T]{}, g.onEraseNode...)
		g.muCallbacks.RUnlock()
		for _, cb := range callbacks {
			cb(n)
		}
	}
	g.muNodes.Lock()
	g.nodes = make(map[id.DistributedId]*Node[T])
	g.muNodes.Unlock()
}

// CurrentNodeId returns the next id this graph's minter will assign,
// without consuming it.
func (g *BaseGraph[T]) CurrentNodeId() uint64 {
	return g.minter.Current()
}

// Minter exposes the id minter so collaborators (distgraph, migration) can
// mint ids for nodes/edges they construct outside BaseGraph's own helpers.
func (g *BaseGraph[T]) Minter() *id.Minter {
	return g.minter
}

// SwitchLayer moves e from its current layer to newLayer, updating both
// endpoints' adjacency. The caller is responsible for restricting this to
// LOCAL edges, per spec §6.1.
func (g *BaseGraph[T]) SwitchLayer(e *Edge[T], newLayer int) {
	e.Source.removeOut(e)
	e.Target.removeIn(e)
	e.Layer = newLayer
	e.Source.addOut(e)
	e.Target.addIn(e)
}
