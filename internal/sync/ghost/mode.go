// Package ghost implements spec §4.7: boundary nodes are kept as cached
// DISTANT replicas ("ghosts"), bulk-refreshed at each synchronize() barrier.
// Writes to ghosts are local and lost at the next refresh.
package ghost

import (
	"context"

	"github.com/fpmas-go/fpmas/internal/codec"
	"github.com/fpmas-go/fpmas/internal/comm"
	"github.com/fpmas-go/fpmas/internal/graph"
	"github.com/fpmas-go/fpmas/internal/id"
	"github.com/fpmas-go/fpmas/internal/location"
	syncmode "github.com/fpmas-go/fpmas/internal/sync"
)

// DataCodec packages the application payload's encode/decode pair, since
// the distributed graph's Mode is parameterized over an opaque T the sync
// mode otherwise cannot marshal on its own.
type DataCodec[T any] struct {
	Encode func(T) ([]byte, error)
	Decode func([]byte) (T, error)
}

// Mode is the ghost synchronization mode.
type Mode[T any] struct {
	rank   int
	comm   comm.Communicator
	bg     *graph.BaseGraph[T]
	lm     *location.LocationManager[T]
	dc     DataCodec[T]
	wire   codec.Codec
	linker *syncLinker[T]
	data   *dataSync[T]
}

// New creates a ghost Mode bound to the local base graph and location
// manager of this rank.
func New[T any](rank int, c comm.Communicator, bg *graph.BaseGraph[T], lm *location.LocationManager[T], dc DataCodec[T]) *Mode[T] {
	wire := codec.NewTextCodec()
	m := &Mode[T]{rank: rank, comm: c, bg: bg, lm: lm, dc: dc, wire: wire}
	m.linker = &syncLinker[T]{
		rank: rank, comm: c, bg: bg, lm: lm, dc: dc, wire: wire,
		pendingLinks:   make(map[id.DistributedId]*graph.Edge[T]),
		pendingUnlinks: make(map[id.DistributedId]*graph.Edge[T]),
	}
	m.data = &dataSync[T]{rank: rank, comm: c, bg: bg, dc: dc, wire: wire}
	return m
}

var _ syncmode.Mode[int] = (*Mode[int])(nil)

func (m *Mode[T]) Name() string                       { return "ghost" }
func (m *Mode[T]) DataSync() syncmode.DataSync[T]     { return m.data }
func (m *Mode[T]) SyncLinker() syncmode.SyncLinker[T] { return m.linker }

// NewMutex returns a pass-through mutex: ghost mode applies no per-access
// locking, only bulk data refresh at the barrier, per spec §4.7.
func (m *Mode[T]) NewMutex(n *graph.Node[T]) syncmode.Mutex[T] { return &mutex[T]{node: n} }

type mutex[T any] struct {
	node *graph.Node[T]
}

func (m *mutex[T]) Read(ctx context.Context) (T, error)    { return m.node.Data, nil }
func (m *mutex[T]) Acquire(ctx context.Context) (T, error) { return m.node.Data, nil }
func (m *mutex[T]) ReleaseAcquire(ctx context.Context, data T) error {
	m.node.Data = data
	return nil
}
func (m *mutex[T]) LockShared(ctx context.Context) error   { return nil }
func (m *mutex[T]) UnlockShared(ctx context.Context) error { return nil }
func (m *mutex[T]) Lock(ctx context.Context) error         { return nil }
func (m *mutex[T]) Unlock(ctx context.Context) error       { return nil }
