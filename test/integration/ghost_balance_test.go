// Package integration runs the distributed graph facade end to end across
// several in-process ranks, the way the teacher's tests/integration package
// exercises its ClusterManager/Coordinator across goroutine-simulated nodes
// rather than real processes.
package integration

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fpmas-go/fpmas/internal/comm"
	"github.com/fpmas-go/fpmas/internal/distgraph"
	"github.com/fpmas-go/fpmas/internal/graph"
	"github.com/fpmas-go/fpmas/internal/graphbuilder"
	"github.com/fpmas-go/fpmas/internal/location"
	"github.com/fpmas-go/fpmas/internal/migration"
	"github.com/fpmas-go/fpmas/internal/sync/ghost"
)

func intGhostCodec() ghost.DataCodec[int] {
	return ghost.DataCodec[int]{
		Encode: func(i int) ([]byte, error) { return []byte(strconv.Itoa(i)), nil },
		Decode: func(b []byte) (int, error) {
			if len(b) == 0 {
				return 0, nil
			}
			return strconv.Atoi(string(b))
		},
	}
}

func intMigrationCodec() migration.DataCodec[int] {
	return migration.DataCodec[int]{
		Encode: func(i int) ([]byte, error) { return []byte(strconv.Itoa(i)), nil },
		Decode: func(b []byte) (int, error) {
			if len(b) == 0 {
				return 0, nil
			}
			return strconv.Atoi(string(b))
		},
	}
}

func runRanks(t *testing.T, size int, fn func(rank int) error) {
	t.Helper()
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
	for r, err := range errs {
		require.NoError(t, err, "rank %d", r)
	}
}

func newGhostGraph(rank int, c comm.Communicator) *distgraph.DistributedGraph[int] {
	bg := graph.NewBaseGraph[int](rank)
	lm := location.New[int](rank, c)
	mode := ghost.New[int](rank, c, bg, lm, intGhostCodec())
	return distgraph.New[int](rank, c.Size(), c, bg, lm, mode, intMigrationCodec())
}

// TestBalance_WeightBalancePartitioner_SeparatesHeavyNodes exercises spec §8
// scenario 2 through the full DistributedGraph facade (ghost mode): a
// complete graph over 4 nodes split 2-per-rank across 2 ranks, one node per
// rank bumped to weight 3.0, then Balance with the weight-balancing
// partitioner. No rank should end up owning two weight-3.0 nodes, and the
// total number of weight-3.0 nodes in the cluster must be unchanged.
func TestBalance_WeightBalancePartitioner_SeparatesHeavyNodes(t *testing.T) {
	const size = 2
	w := comm.NewWorld(size)

	graphs := make([]*distgraph.DistributedGraph[int], size)

	runRanks(t, size, func(rank int) error {
		c := w.Rank(rank)
		g := newGhostGraph(rank, c)
		graphs[rank] = g

		g.BuildNode(1.0, rank*10)
		g.BuildNode(1.0, rank*10+1)

		builder := graphbuilder.NewCompleteGraphBuilder[int](0)
		if err := builder.Link(context.Background(), c, g); err != nil {
			return err
		}

		for _, n := range g.BaseGraph().Nodes() {
			if n.State == graph.Local {
				n.Weight = 3.0
				break
			}
		}

		return g.Balance(context.Background(), migration.WeightBalance[int](size), distgraph.Repartition)
	})

	totalHeavy := 0
	for rank, g := range graphs {
		heavyHere := 0
		for _, n := range g.BaseGraph().Nodes() {
			if n.State == graph.Local && n.Weight == 3.0 {
				heavyHere++
			}
		}
		require.LessOrEqualf(t, heavyHere, 1, "rank %d owns %d weight-3.0 nodes, want at most 1", rank, heavyHere)
		totalHeavy += heavyHere
	}
	require.Equal(t, size, totalHeavy, "total weight-3.0 nodes changed across the rebalance")
}

// TestDistribute_RingTopology_PreservesConnectivityAndGhostData exercises
// spec §8 scenario 1 (ring of size P) through the full facade with ghost
// mode, including the subsequent data refresh: after distributing node i to
// rank i, every rank holds exactly one LOCAL node with one outgoing and one
// incoming DISTANT edge, and a synchronize() call refreshes the ghost
// endpoints' data to match their owners.
func TestDistribute_RingTopology_PreservesConnectivityAndGhostData(t *testing.T) {
	const size = 4
	w := comm.NewWorld(size)

	graphs := make([]*distgraph.DistributedGraph[int], size)

	runRanks(t, size, func(rank int) error {
		c := w.Rank(rank)
		g := newGhostGraph(rank, c)
		graphs[rank] = g

		if rank == 0 {
			for i := 0; i < size; i++ {
				g.BuildNode(1.0, i*100)
			}
		}
		return nil
	})

	var partition migration.PartitionMap
	runRanks(t, size, func(rank int) error {
		if rank != 0 {
			return nil
		}
		partition = migration.PartitionMap{}
		for _, n := range graphs[0].BaseGraph().Nodes() {
			partition[n.Id] = int(n.Id.Seq)
		}
		return nil
	})

	runRanks(t, size, func(rank int) error {
		return graphs[rank].Distribute(context.Background(), partition)
	})

	builder := graphbuilder.NewRingGraphBuilder[int](1, 0)
	runRanks(t, size, func(rank int) error {
		return builder.Link(context.Background(), w.Rank(rank), graphs[rank])
	})

	runRanks(t, size, func(rank int) error {
		return graphs[rank].Synchronize(context.Background())
	})

	for rank, g := range graphs {
		var local *graph.Node[int]
		nodeCount := 0
		for _, n := range g.BaseGraph().Nodes() {
			nodeCount++
			if n.State == graph.Local {
				local = n
			}
		}
		require.NotNilf(t, local, "rank %d: no LOCAL node after distribute", rank)
		require.Equal(t, 3, nodeCount, "rank %d: want 1 local + 2 ghost nodes (successor and predecessor)", rank)
		require.Len(t, local.OutEdges(0), 1, "rank %d: expected exactly one outgoing edge", rank)
		require.Len(t, local.InEdges(0), 1, "rank %d: expected exactly one incoming edge", rank)

		expectedData := rank * 100
		require.Equal(t, expectedData, local.Data, "rank %d: LOCAL node's own data changed unexpectedly", rank)

		outTarget := local.OutEdges(0)[0].Target
		wantNeighborData := ((rank + 1) % size) * 100
		require.Equal(t, wantNeighborData, outTarget.Data, "rank %d: ghost successor's data not refreshed by synchronize", rank)
	}
}
