package graphbuilder

import (
	"context"

	"github.com/fpmas-go/fpmas/internal/comm"
	"github.com/fpmas-go/fpmas/internal/distgraph"
)

// CompleteGraphBuilder links every LOCAL node to every other node in the
// cluster on a single layer, producing a complete directed graph: the
// degenerate case of original_source's UniformGraphBuilder where the
// requested degree equals n-1. Used by spec §8 scenarios 2 and 6.
type CompleteGraphBuilder[T any] struct {
	Layer int
}

// NewCompleteGraphBuilder returns a builder connecting every node to every
// other node on layer.
func NewCompleteGraphBuilder[T any](layer int) *CompleteGraphBuilder[T] {
	return &CompleteGraphBuilder[T]{Layer: layer}
}

// Link must be called identically on every rank after each rank has built
// its own LOCAL share of nodes. It gathers the global node inventory once,
// then links every LOCAL node to every other node in the cluster,
// resolving remote endpoints into DISTANT ghosts as needed.
func (b *CompleteGraphBuilder[T]) Link(ctx context.Context, c comm.Communicator, g *distgraph.DistributedGraph[T]) error {
	refs, err := gatherNodeRefs(ctx, c, g.BaseGraph())
	if err != nil {
		return err
	}

	for _, r := range refs {
		if r.Owner != c.Rank() {
			continue
		}
		source, ok := g.BaseGraph().GetNode(r.Id.FromPack())
		if !ok {
			continue
		}
		for _, other := range refs {
			if other.Id == r.Id {
				continue
			}
			target := resolveRef(g, other)
			g.Link(source, target, b.Layer, 1.0)
		}
	}
	return nil
}

// UniformGraphBuilder links every LOCAL node to a fixed number of distinct
// neighbors chosen deterministically from the cluster-wide node order
// (offsets 1..degree in sorted-id order), standing in for
// original_source's random-sampling DistributedUniformGraphBuilder: same
// shape of exchange (gather global ids once, then link), but with a
// reproducible choice of neighbors instead of one driven by a seeded RNG,
// since this module never calls into math/rand for wire-visible structure.
type UniformGraphBuilder[T any] struct {
	Degree int
	Layer  int
}

// NewUniformGraphBuilder returns a builder giving every node exactly degree
// outgoing neighbors on layer (capped at n-1).
func NewUniformGraphBuilder[T any](degree, layer int) *UniformGraphBuilder[T] {
	return &UniformGraphBuilder[T]{Degree: degree, Layer: layer}
}

// Link must be called identically on every rank, after node construction.
func (b *UniformGraphBuilder[T]) Link(ctx context.Context, c comm.Communicator, g *distgraph.DistributedGraph[T]) error {
	return (&RingGraphBuilder[T]{K: b.Degree, Layer: b.Layer}).Link(ctx, c, g)
}
