// Package graphbuilder provides deterministic, distributed graph
// construction helpers on top of distgraph.DistributedGraph: a ring (each
// node linked to its k successors in sorted-id order) and a complete graph. Both are
// grounded on original_source/src/fpmas/graph/ring_graph_builder.h and
// uniform_graph_builder.h, but run the two-phase (gather node inventory,
// then link) exchange through comm.Communicator's AllGather rather than the
// original's hand-rolled count-then-id-list send loop.
package graphbuilder

import (
	"context"
	"sort"

	"github.com/fpmas-go/fpmas/internal/codec"
	"github.com/fpmas-go/fpmas/internal/comm"
	"github.com/fpmas-go/fpmas/internal/distgraph"
	"github.com/fpmas-go/fpmas/internal/graph"
	"github.com/fpmas-go/fpmas/internal/id"
)

// nodeRef is one entry of the cluster-wide node inventory every rank gathers
// before linking: just enough to resolve a ghost and place it in ring order.
type nodeRef struct {
	Id     codec.DistributedIdPack
	Owner  int
	Weight float64
}

type nodeRefBatch struct {
	Nodes []nodeRef
}

// gatherNodeRefs gathers every rank's LOCAL node inventory and returns it
// sorted by id, the same global order on every rank.
func gatherNodeRefs[T any](ctx context.Context, c comm.Communicator, bg *graph.BaseGraph[T]) ([]nodeRef, error) {
	wire := codec.NewTextCodec()
	var mine []nodeRef
	for _, n := range bg.Nodes() {
		if n.State != graph.Local {
			continue
		}
		mine = append(mine, nodeRef{Id: codec.ToPack(n.Id), Owner: c.Rank(), Weight: n.Weight})
	}
	payload, err := codec.Marshal(wire, nodeRefBatch{Nodes: mine})
	if err != nil {
		return nil, err
	}
	replies, err := c.AllGather(ctx, payload)
	if err != nil {
		return nil, err
	}
	var all []nodeRef
	for _, raw := range replies {
		if len(raw) == 0 {
			continue
		}
		var batch nodeRefBatch
		if err := codec.Unmarshal(wire, raw, &batch); err != nil {
			return nil, err
		}
		all = append(all, batch.Nodes...)
	}
	sort.Slice(all, func(i, j int) bool {
		a, b := all[i].Id.FromPack(), all[j].Id.FromPack()
		return a.Less(b)
	})
	return all, nil
}

// resolveRef returns the node for ref, creating a zero-value DISTANT ghost
// on bg if ref is owned by another rank and not already present. Ghost data
// is refreshed the usual way, via a sync-mode Synchronize call.
func resolveRef[T any](g *distgraph.DistributedGraph[T], ref nodeRef) *graph.Node[T] {
	nodeId := ref.Id.FromPack()
	if n, ok := g.BaseGraph().GetNode(nodeId); ok {
		return n
	}
	var zero T
	ghost := graph.NewDistantNode[T](nodeId, ref.Weight, zero, ref.Owner)
	g.InsertDistant(ghost)
	return ghost
}

// RingGraphBuilder links every node to its k successors (in the
// cluster-wide sorted-id order computed by gatherNodeRefs) on a single
// layer, wrapping around at the ends. With k=1 this is a simple cycle,
// matching spec §8 scenario 1.
type RingGraphBuilder[T any] struct {
	K     int
	Layer int
}

// NewRingGraphBuilder returns a builder linking each node to its k
// successors on layer.
func NewRingGraphBuilder[T any](k, layer int) *RingGraphBuilder[T] {
	return &RingGraphBuilder[T]{K: k, Layer: layer}
}

// Link must be called identically (same k, same layer) on every rank after
// each rank has already built its own LOCAL share of nodes via
// g.BuildNode. It gathers the global node order once, then links every
// LOCAL node forward to its k ring successors, creating DISTANT ghosts for
// any successor owned elsewhere.
func (b *RingGraphBuilder[T]) Link(ctx context.Context, c comm.Communicator, g *distgraph.DistributedGraph[T]) error {
	refs, err := gatherNodeRefs(ctx, c, g.BaseGraph())
	if err != nil {
		return err
	}
	n := len(refs)
	if n == 0 {
		return nil
	}
	index := make(map[id.DistributedId]int, n)
	for i, r := range refs {
		index[r.Id.FromPack()] = i
	}

	for _, r := range refs {
		if r.Owner != c.Rank() {
			continue
		}
		source, ok := g.BaseGraph().GetNode(r.Id.FromPack())
		if !ok {
			continue
		}
		i := index[r.Id.FromPack()]
		for j := 1; j <= b.K && j < n; j++ {
			next := refs[(i+j)%n]
			target := resolveRef(g, next)
			g.Link(source, target, b.Layer, 1.0)
		}
	}
	return nil
}
