// Package none implements spec §4.6: a pure local graph with no
// cross-process propagation of links, unlinks, removals or data. Used for
// embarrassingly-partitioned workloads where losing connectivity across a
// migration is acceptable.
package none

import (
	"context"

	"github.com/fpmas-go/fpmas/internal/graph"
	"github.com/fpmas-go/fpmas/internal/sync"
)

// Mode is the none synchronization mode.
type Mode[T any] struct{}

// New creates a none Mode.
func New[T any]() *Mode[T] { return &Mode[T]{} }

var _ sync.Mode[int] = (*Mode[int])(nil)

func (m *Mode[T]) Name() string                     { return "none" }
func (m *Mode[T]) DataSync() sync.DataSync[T]       { return dataSync[T]{} }
func (m *Mode[T]) SyncLinker() sync.SyncLinker[T]   { return syncLinker[T]{} }
func (m *Mode[T]) NewMutex(n *graph.Node[T]) sync.Mutex[T] { return &mutex[T]{node: n} }

type dataSync[T any] struct{}

func (dataSync[T]) Synchronize(ctx context.Context) error { return nil }
func (dataSync[T]) SynchronizeNodes(ctx context.Context, nodes []*graph.Node[T]) error {
	return nil
}

type syncLinker[T any] struct{}

func (syncLinker[T]) InitLink(e *graph.Edge[T])      {}
func (syncLinker[T]) NotifyLinked(e *graph.Edge[T])  {}
func (syncLinker[T]) InitUnlink(e *graph.Edge[T])    {}
func (syncLinker[T]) NotifyUnlinked(e *graph.Edge[T]) {}
func (syncLinker[T]) RemoveNode(n *graph.Node[T])    {}
func (syncLinker[T]) Synchronize(ctx context.Context) error {
	return nil
}

// mutex is a trivial pass-through over the node's own Data field: reads and
// writes never leave the process, matching spec §4.6's "no DataSync
// traffic".
type mutex[T any] struct {
	node *graph.Node[T]
}

func (m *mutex[T]) Read(ctx context.Context) (T, error) { return m.node.Data, nil }

func (m *mutex[T]) Acquire(ctx context.Context) (T, error) { return m.node.Data, nil }

func (m *mutex[T]) ReleaseAcquire(ctx context.Context, data T) error {
	m.node.Data = data
	return nil
}

func (m *mutex[T]) LockShared(ctx context.Context) error   { return nil }
func (m *mutex[T]) UnlockShared(ctx context.Context) error { return nil }
func (m *mutex[T]) Lock(ctx context.Context) error         { return nil }
func (m *mutex[T]) Unlock(ctx context.Context) error       { return nil }
