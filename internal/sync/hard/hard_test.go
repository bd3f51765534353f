package hard

import (
	"context"
	"sync"
	"testing"

	"github.com/fpmas-go/fpmas/internal/comm"
	"github.com/fpmas-go/fpmas/internal/graph"
	"github.com/fpmas-go/fpmas/internal/id"
	"github.com/fpmas-go/fpmas/internal/location"
	"github.com/fpmas-go/fpmas/internal/metrics"
)

func intCodec() DataCodec[int] {
	return DataCodec[int]{
		Encode: func(i int) ([]byte, error) { return []byte{byte(i)}, nil },
		Decode: func(b []byte) (int, error) {
			if len(b) == 0 {
				return 0, nil
			}
			return int(b[0]), nil
		},
	}
}

func runRanks(size int, fn func(rank int) error) error {
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

// TestAcquireRelease_ConcurrentAcquiresSerializeUpdates exercises spec §8
// scenario 4: node A lives on rank 0 with data 0; ranks 1 and 2 each acquire
// it, add 1, and release. Regardless of interleaving, A.data must end at 2.
func TestAcquireRelease_ConcurrentAcquiresSerializeUpdates(t *testing.T) {
	t.Parallel()

	const size = 3
	w := comm.NewWorld(size)
	dc := intCodec()
	aId := id.DistributedId{Rank: 0, Seq: 0}

	bgs := make([]*graph.BaseGraph[int], size)

	err := runRanks(size, func(rank int) error {
		c := w.Rank(rank)
		bg := graph.NewBaseGraph[int](rank)
		lm := location.New[int](rank, c)
		mode := New[int](rank, size, c, bg, lm, dc)
		bgs[rank] = bg

		if rank == 0 {
			a := bg.InsertLocalNode(1.0, 0, 0)
			lm.SetLocal(a)
			// The owner serves the acquirers' RPCs while it waits in the
			// termination round.
			return mode.DataSync().Synchronize(context.Background())
		}

		ghost := graph.NewDistantNode[int](aId, 1.0, 0, 0)
		bg.InsertNode(ghost)
		lm.SetDistant(ghost)

		mtx := mode.NewMutex(ghost)
		cur, err := mtx.Acquire(context.Background())
		if err != nil {
			return err
		}
		if err := mtx.ReleaseAcquire(context.Background(), cur+1); err != nil {
			return err
		}
		return mode.DataSync().Synchronize(context.Background())
	})
	if err != nil {
		t.Fatalf("scenario failed: %v", err)
	}

	node, ok := bgs[0].GetNode(aId)
	if !ok {
		t.Fatal("owner lost its node")
	}
	if node.Data != 2 {
		t.Errorf("A.data = %d, want 2", node.Data)
	}
}

// TestMutexClient_SetMetrics_RecordsRPCLatency exercises the optional
// metrics hook: once a collector is attached via SetMetrics, every
// Acquire/ReleaseAcquire round trip to a remote owner must show up in the
// collector's per-operation counts.
func TestMutexClient_SetMetrics_RecordsRPCLatency(t *testing.T) {
	t.Parallel()

	const size = 2
	w := comm.NewWorld(size)
	dc := intCodec()
	aId := id.DistributedId{Rank: 0, Seq: 0}

	var remoteMetrics *metrics.Collector

	err := runRanks(size, func(rank int) error {
		c := w.Rank(rank)
		bg := graph.NewBaseGraph[int](rank)
		lm := location.New[int](rank, c)
		mode := New[int](rank, size, c, bg, lm, dc)

		mc, err := metrics.NewCollector(&metrics.Config{Enabled: true, Namespace: "fpmas_test"})
		if err != nil {
			return err
		}
		mode.SetMetrics(mc)

		if rank == 0 {
			a := bg.InsertLocalNode(1.0, 0, 0)
			lm.SetLocal(a)
			return mode.DataSync().Synchronize(context.Background())
		}

		remoteMetrics = mc
		ghost := graph.NewDistantNode[int](aId, 1.0, 0, 0)
		bg.InsertNode(ghost)
		lm.SetDistant(ghost)

		mtx := mode.NewMutex(ghost)
		cur, err := mtx.Acquire(context.Background())
		if err != nil {
			return err
		}
		if err := mtx.ReleaseAcquire(context.Background(), cur+1); err != nil {
			return err
		}
		return mode.DataSync().Synchronize(context.Background())
	})
	if err != nil {
		t.Fatalf("scenario failed: %v", err)
	}

	ops := remoteMetrics.GetMetrics()["operations"].(map[string]*metrics.OperationMetrics)
	if ops["rpc:ACQUIRE"] == nil || ops["rpc:ACQUIRE"].Count != 1 {
		t.Fatalf("rpc:ACQUIRE = %+v, want one recorded call", ops["rpc:ACQUIRE"])
	}
	if ops["rpc:RELEASE_ACQUIRE"] == nil || ops["rpc:RELEASE_ACQUIRE"].Count != 1 {
		t.Fatalf("rpc:RELEASE_ACQUIRE = %+v, want one recorded call", ops["rpc:RELEASE_ACQUIRE"])
	}
}

// TestRead_OccupiesSharedSlot exercises spec §4.8's READ/LOCK_SHARED row
// directly against the state machine: a granted Read must hold the shared
// slot open exactly like LockShared, so a concurrent Acquire queues behind
// it instead of being granted while the read is still in flight.
func TestRead_OccupiesSharedSlot(t *testing.T) {
	t.Parallel()

	var m hardSyncMutex
	out := m.Submit(queuedRequest{kind: Read, source: 1})
	if !out.replyNow {
		t.Fatal("Read on an idle mutex should be granted immediately")
	}
	if m.sharedCount != 1 {
		t.Fatalf("sharedCount after Read = %d, want 1", m.sharedCount)
	}

	out = m.Submit(queuedRequest{kind: Acquire, source: 2})
	if out.replyNow {
		t.Fatal("Acquire should queue behind an outstanding Read")
	}

	out = m.Submit(queuedRequest{kind: UnlockShared, source: 1})
	if len(out.granted) != 1 || out.granted[0].kind != Acquire {
		t.Fatalf("releasing the Read's shared slot should admit the queued Acquire, got %+v", out.granted)
	}
}

// TestMutexClient_Read_ReleasesSharedSlot exercises the same invariant
// end to end through MutexClient.request: after Read's reply is decoded,
// the client must issue UnlockShared so a subsequent Acquire from another
// rank is not blocked forever behind a reader that never released.
func TestMutexClient_Read_ReleasesSharedSlot(t *testing.T) {
	t.Parallel()

	const size = 2
	w := comm.NewWorld(size)
	dc := intCodec()
	aId := id.DistributedId{Rank: 0, Seq: 0}

	err := runRanks(size, func(rank int) error {
		c := w.Rank(rank)
		bg := graph.NewBaseGraph[int](rank)
		lm := location.New[int](rank, c)
		mode := New[int](rank, size, c, bg, lm, dc)

		if rank == 0 {
			a := bg.InsertLocalNode(1.0, 5, 0)
			lm.SetLocal(a)
			return mode.DataSync().Synchronize(context.Background())
		}

		ghost := graph.NewDistantNode[int](aId, 1.0, 0, 0)
		bg.InsertNode(ghost)
		lm.SetDistant(ghost)

		mtx := mode.NewMutex(ghost)
		if _, err := mtx.Read(context.Background()); err != nil {
			return err
		}
		cur, err := mtx.Acquire(context.Background())
		if err != nil {
			return err
		}
		if err := mtx.ReleaseAcquire(context.Background(), cur+1); err != nil {
			return err
		}
		return mode.DataSync().Synchronize(context.Background())
	})
	if err != nil {
		t.Fatalf("scenario failed: %v", err)
	}
}

// TestSynchronize_TerminatesWithFourRanksAfterBurstOfAcquires exercises spec
// §8 scenario 5: a burst of acquires crossing every rank, then a synchronize
// from every rank. Termination must complete and leave every rank's epoch
// toggled together with no leaked sends.
func TestSynchronize_TerminatesWithFourRanksAfterBurstOfAcquires(t *testing.T) {
	t.Parallel()

	const size = 4
	w := comm.NewWorld(size)
	dc := intCodec()

	err := runRanks(size, func(rank int) error {
		c := w.Rank(rank)
		bg := graph.NewBaseGraph[int](rank)
		lm := location.New[int](rank, c)
		mode := New[int](rank, size, c, bg, lm, dc)

		// Every rank's first minted node is deterministically {Rank: rank,
		// Seq: 0}; build it locally, then ghost every peer's node by that
		// same deterministic id.
		n := bg.InsertLocalNode(1.0, rank, rank)
		lm.SetLocal(n)

		// Burst of acquires crossing every rank: acquire and release each
		// peer's node once before anyone calls synchronize.
		for peer := 0; peer < size; peer++ {
			if peer == rank {
				continue
			}
			peerId := id.DistributedId{Rank: peer, Seq: 0}
			ghost := graph.NewDistantNode[int](peerId, 1.0, 0, peer)
			bg.InsertNode(ghost)
			lm.SetDistant(ghost)

			mtx := mode.NewMutex(ghost)
			cur, err := mtx.Acquire(context.Background())
			if err != nil {
				return err
			}
			if err := mtx.ReleaseAcquire(context.Background(), cur); err != nil {
				return err
			}
		}

		if err := mode.DataSync().Synchronize(context.Background()); err != nil {
			return err
		}
		return c.WaitAll()
	})
	if err != nil {
		t.Fatalf("scenario failed: %v", err)
	}
}
