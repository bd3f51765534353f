package none

import (
	"context"
	"testing"

	"github.com/fpmas-go/fpmas/internal/graph"
	"github.com/fpmas-go/fpmas/internal/id"
)

// TestMode_SyncLinkerAndDataSyncAreNoOps exercises spec §4.6: the none mode
// never propagates links, unlinks, removals or data across processes, and
// Synchronize always succeeds trivially.
func TestMode_SyncLinkerAndDataSyncAreNoOps(t *testing.T) {
	t.Parallel()

	m := New[int]()
	if m.Name() != "none" {
		t.Fatalf("Name() = %q, want \"none\"", m.Name())
	}

	a := graph.NewLocalNode(id.DistributedId{Rank: 0, Seq: 0}, 1.0, 1, 0)
	b := graph.NewLocalNode(id.DistributedId{Rank: 0, Seq: 1}, 1.0, 2, 0)
	e := &graph.Edge[int]{Source: a, Target: b, Layer: 0, Weight: 1.0, State: graph.Local}

	linker := m.SyncLinker()
	linker.InitLink(e)
	linker.NotifyLinked(e)
	linker.InitUnlink(e)
	linker.NotifyUnlinked(e)
	linker.RemoveNode(a)

	if err := linker.Synchronize(context.Background()); err != nil {
		t.Fatalf("SyncLinker.Synchronize: %v", err)
	}

	ds := m.DataSync()
	if err := ds.Synchronize(context.Background()); err != nil {
		t.Fatalf("DataSync.Synchronize: %v", err)
	}
	if err := ds.SynchronizeNodes(context.Background(), []*graph.Node[int]{a}); err != nil {
		t.Fatalf("DataSync.SynchronizeNodes: %v", err)
	}
}

// TestMode_MutexIsLocalPassThrough exercises spec §4.6's note that the none
// mode's Mutex factory is a trivial pass-through: reads and writes never
// leave the process.
func TestMode_MutexIsLocalPassThrough(t *testing.T) {
	t.Parallel()

	m := New[int]()
	n := graph.NewLocalNode(id.DistributedId{Rank: 0, Seq: 0}, 1.0, 5, 0)
	mtx := m.NewMutex(n)

	v, err := mtx.Read(context.Background())
	if err != nil || v != 5 {
		t.Fatalf("Read() = (%d, %v), want (5, nil)", v, err)
	}

	cur, err := mtx.Acquire(context.Background())
	if err != nil || cur != 5 {
		t.Fatalf("Acquire() = (%d, %v), want (5, nil)", cur, err)
	}
	if err := mtx.ReleaseAcquire(context.Background(), 9); err != nil {
		t.Fatalf("ReleaseAcquire: %v", err)
	}
	if n.Data != 9 {
		t.Fatalf("n.Data = %d after ReleaseAcquire, want 9", n.Data)
	}

	if err := mtx.LockShared(context.Background()); err != nil {
		t.Fatalf("LockShared: %v", err)
	}
	if err := mtx.UnlockShared(context.Background()); err != nil {
		t.Fatalf("UnlockShared: %v", err)
	}
	if err := mtx.Lock(context.Background()); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if err := mtx.Unlock(context.Background()); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
}
