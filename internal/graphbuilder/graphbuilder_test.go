package graphbuilder

import (
	"context"
	"sync"
	"testing"

	"github.com/fpmas-go/fpmas/internal/comm"
	"github.com/fpmas-go/fpmas/internal/distgraph"
	"github.com/fpmas-go/fpmas/internal/graph"
	"github.com/fpmas-go/fpmas/internal/location"
	"github.com/fpmas-go/fpmas/internal/migration"
	"github.com/fpmas-go/fpmas/internal/sync/none"
)

func intCodec() migration.DataCodec[int] {
	return migration.DataCodec[int]{
		Encode: func(i int) ([]byte, error) { return []byte{byte(i)}, nil },
		Decode: func(b []byte) (int, error) {
			if len(b) == 0 {
				return 0, nil
			}
			return int(b[0]), nil
		},
	}
}

// runRanks runs fn concurrently for every rank of a world of the given
// size and returns the first error, if any.
func runRanks(size int, fn func(rank int) error) error {
	w := comm.NewWorld(size)
	var wg sync.WaitGroup
	errs := make([]error, size)
	for r := 0; r < size; r++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			errs[rank] = fn(rank)
		}(r)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func newRank(rank int, c comm.Communicator) *distgraph.DistributedGraph[int] {
	bg := graph.NewBaseGraph[int](rank)
	lm := location.New[int](rank, c)
	mode := none.New[int]()
	return distgraph.New[int](rank, c.Size(), c, bg, lm, mode, intCodec())
}

func TestRingGraphBuilder_KEquals1_ProducesCycleAcrossRanks(t *testing.T) {
	t.Parallel()

	const size = 4
	w := comm.NewWorld(size)
	graphs := make([]*distgraph.DistributedGraph[int], size)

	err := runRanks(size, func(rank int) error {
		c := w.Rank(rank)
		g := newRank(rank, c)
		graphs[rank] = g
		g.BuildNode(1.0, rank)

		builder := NewRingGraphBuilder[int](1, 0)
		return builder.Link(context.Background(), c, g)
	})
	if err != nil {
		t.Fatalf("ring build failed: %v", err)
	}

	for rank, g := range graphs {
		if g.BaseGraph().NodeCount() != 2 {
			t.Errorf("rank %d: expected 1 local + 1 ghost node, got %d", rank, g.BaseGraph().NodeCount())
		}
		var local *graph.Node[int]
		for _, n := range g.BaseGraph().Nodes() {
			if n.State == graph.Local {
				local = n
			}
		}
		if local == nil {
			t.Fatalf("rank %d: no local node found", rank)
		}
		if len(local.OutEdges(0)) != 1 {
			t.Errorf("rank %d: expected exactly 1 outgoing edge, got %d", rank, len(local.OutEdges(0)))
		}
		// The none mode does not propagate links, so the edge from the
		// predecessor exists only on the predecessor's rank.
		if len(local.InEdges(0)) != 0 {
			t.Errorf("rank %d: expected no incoming edge under the none mode, got %d", rank, len(local.InEdges(0)))
		}
	}
}

func TestCompleteGraphBuilder_EveryNodeLinksToEveryOther(t *testing.T) {
	t.Parallel()

	const size = 2
	w := comm.NewWorld(size)
	graphs := make([]*distgraph.DistributedGraph[int], size)

	err := runRanks(size, func(rank int) error {
		c := w.Rank(rank)
		g := newRank(rank, c)
		graphs[rank] = g
		g.BuildNode(1.0, rank*10)
		g.BuildNode(1.0, rank*10+1)

		builder := NewCompleteGraphBuilder[int](0)
		return builder.Link(context.Background(), c, g)
	})
	if err != nil {
		t.Fatalf("complete graph build failed: %v", err)
	}

	for rank, g := range graphs {
		for _, n := range g.BaseGraph().Nodes() {
			if n.State != graph.Local {
				continue
			}
			if got := len(n.OutEdges(0)); got != 3 {
				t.Errorf("rank %d node %v: expected 3 outgoing edges in a 4-node complete graph, got %d", rank, n.Id, got)
			}
		}
	}
}
