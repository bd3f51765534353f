// Package sync defines the pluggable synchronization boundary spec §6.2
// describes: a Mode exposes a DataSync and a SyncLinker collaborator plus a
// per-node Mutex factory. internal/sync/none, internal/sync/ghost and
// internal/sync/hard provide the three concrete implementations spec
// §4.6-§4.8 describe.
package sync

import (
	"context"

	"github.com/fpmas-go/fpmas/internal/graph"
)

// DataSync refreshes the data payload of DISTANT node replicas.
// Synchronize refreshes every DISTANT node the mode is tracking; Synchronize
// on a subset refreshes only those.
type DataSync[T any] interface {
	Synchronize(ctx context.Context) error
	SynchronizeNodes(ctx context.Context, nodes []*graph.Node[T]) error
}

// SyncLinker propagates link/unlink/removeNode operations that cross a
// process boundary. InitLink/InitUnlink are called before the local graph
// mutation; NotifyLinked/NotifyUnlinked after. Synchronize flushes whatever
// the mode buffers between barriers.
type SyncLinker[T any] interface {
	InitLink(e *graph.Edge[T])
	NotifyLinked(e *graph.Edge[T])
	InitUnlink(e *graph.Edge[T])
	NotifyUnlinked(e *graph.Edge[T])
	RemoveNode(n *graph.Node[T])
	Synchronize(ctx context.Context) error
}

// Mutex is the per-node synchronization primitive a Mode hands out. In
// sync/none and sync/ghost it is a trivial pass-through over the local
// node's data; in sync/hard every method not served locally is a
// synchronous RPC to the node's owner.
type Mutex[T any] interface {
	// Read takes a shared (reader) lock, returns the current data, and
	// releases the lock before returning.
	Read(ctx context.Context) (T, error)
	// Acquire takes an exclusive lock and returns the current data; the
	// caller must eventually call ReleaseAcquire.
	Acquire(ctx context.Context) (T, error)
	// ReleaseAcquire writes back updated data and releases the exclusive
	// lock taken by Acquire.
	ReleaseAcquire(ctx context.Context, data T) error
	// LockShared takes a shared (reader) lock.
	LockShared(ctx context.Context) error
	// UnlockShared releases a shared lock taken by LockShared.
	UnlockShared(ctx context.Context) error
	// Lock takes an exclusive lock without reading data.
	Lock(ctx context.Context) error
	// Unlock releases an exclusive lock taken by Lock.
	Unlock(ctx context.Context) error
}

// Mode bundles the collaborators a DistributedGraph needs from its active
// synchronization mode.
type Mode[T any] interface {
	Name() string
	DataSync() DataSync[T]
	SyncLinker() SyncLinker[T]
	// NewMutex returns the Mutex a caller should use to access n's data.
	NewMutex(n *graph.Node[T]) Mutex[T]
}
