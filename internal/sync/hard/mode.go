package hard

import (
	"context"

	"github.com/fpmas-go/fpmas/internal/codec"
	"github.com/fpmas-go/fpmas/internal/comm"
	"github.com/fpmas-go/fpmas/internal/graph"
	"github.com/fpmas-go/fpmas/internal/location"
	"github.com/fpmas-go/fpmas/internal/metrics"
	syncmode "github.com/fpmas-go/fpmas/internal/sync"
)

// Mode is the hard synchronization mode: every DISTANT access is a
// synchronous RPC guarded by the owner's per-node mutex, and synchronize()
// drains outstanding RPCs with a termination round before returning.
type Mode[T any] struct {
	rank  int
	comm  comm.Communicator
	bg    *graph.BaseGraph[T]
	lm    *location.LocationManager[T]
	dc    DataCodec[T]
	wire  codec.Codec
	epoch *EpochState
	color *ColorState

	mutexServer *MutexServer[T]
	linkServer  *LinkServer[T]
	serverPack  *ServerPack[T]
	mutexClient *MutexClient[T]
	linkClient  *LinkClient[T]

	linker *syncLinker[T]
	data   *dataSync[T]
}

// New creates a hard-sync Mode bound to the local base graph and location
// manager of this rank.
func New[T any](rank, size int, c comm.Communicator, bg *graph.BaseGraph[T], lm *location.LocationManager[T], dc DataCodec[T]) *Mode[T] {
	wire := codec.NewTextCodec()
	epoch := &EpochState{}
	color := &ColorState{}

	ms := newMutexServer[T](rank, c, bg, dc, wire, epoch, color)
	ls := newLinkServer[T](rank, c, bg, lm, dc, wire, epoch, color)
	sp := newServerPack[T](c, epoch, ms, ls)
	mc := newMutexClient[T](rank, c, wire, epoch, color, sp, ms)
	lc := newLinkClient[T](rank, c, wire, epoch, color, sp, ls)
	term := newTerminator[T](rank, size, c, epoch, color, sp)

	m := &Mode[T]{
		rank: rank, comm: c, bg: bg, lm: lm, dc: dc, wire: wire, epoch: epoch, color: color,
		mutexServer: ms, linkServer: ls, serverPack: sp, mutexClient: mc, linkClient: lc,
	}
	m.linker = &syncLinker[T]{lm: lm, client: lc, dc: dc}
	m.data = &dataSync[T]{comm: c, term: term}
	return m
}

var _ syncmode.Mode[int] = (*Mode[int])(nil)

func (m *Mode[T]) Name() string                       { return "hard" }
func (m *Mode[T]) DataSync() syncmode.DataSync[T]     { return m.data }
func (m *Mode[T]) SyncLinker() syncmode.SyncLinker[T] { return m.linker }

// SetMetrics attaches a collector that every mutex RPC issued by this rank
// reports its latency to. A nil collector disables reporting.
func (m *Mode[T]) SetMetrics(c *metrics.Collector) {
	m.mutexClient.metrics = c
}

// PollOnce services at most one pending inbound mutex or link request
// addressed to this rank. Callers (tests, the demo CLI) must run this in a
// loop on a dedicated goroutine for as long as the mode is in use: hard-sync
// RPCs are serviced cooperatively, not on a background goroutine owned by
// the mode itself.
func (m *Mode[T]) PollOnce() (bool, error) {
	return m.serverPack.PollOnce()
}

// NewMutex returns a mutex that contends for n through its owner's
// hardSyncMutex, whether that owner is this rank or a remote one.
func (m *Mode[T]) NewMutex(n *graph.Node[T]) syncmode.Mutex[T] {
	return &mutex[T]{node: n, client: m.mutexClient, dc: m.dc}
}

// syncLinker propagates link/unlink immediately, as a synchronous RPC, per
// spec §4.8 — nothing is buffered to a barrier.
type syncLinker[T any] struct {
	lm     *location.LocationManager[T]
	client *LinkClient[T]
	dc     DataCodec[T]
}

func (sl *syncLinker[T]) destinations(e *graph.Edge[T]) []int {
	seen := make(map[int]struct{}, 2)
	if e.Source.State == graph.Distant {
		seen[e.Source.Location] = struct{}{}
	}
	if e.Target.State == graph.Distant {
		seen[e.Target.Location] = struct{}{}
	}
	out := make([]int, 0, len(seen))
	for r := range seen {
		out = append(out, r)
	}
	return out
}

// InitLink is a no-op: the notification is sent once the edge actually
// exists, in NotifyLinked.
func (sl *syncLinker[T]) InitLink(e *graph.Edge[T]) {}

// NotifyLinked synchronously tells every remote endpoint's owner about the
// new edge. A communication failure here is unrecoverable — spec §7 treats
// it as a process abort, not a retryable error — so it panics rather than
// threading an error back through an interface method that cannot return
// one.
func (sl *syncLinker[T]) NotifyLinked(e *graph.Edge[T]) {
	if e.State == graph.Local {
		return
	}
	for _, dest := range sl.destinations(e) {
		if err := sl.client.notify(dest, opLink, e, sl.dc); err != nil {
			panic(err)
		}
	}
}

// InitUnlink has nothing to cancel: hard-sync never buffers a link, so by
// the time an edge can be unlinked its remote owner already knows about it.
func (sl *syncLinker[T]) InitUnlink(e *graph.Edge[T]) {}

// NotifyUnlinked synchronously tells every remote endpoint's owner the edge
// is gone.
func (sl *syncLinker[T]) NotifyUnlinked(e *graph.Edge[T]) {
	if e.State == graph.Local {
		return
	}
	for _, dest := range sl.destinations(e) {
		if err := sl.client.notify(dest, opUnlink, e, sl.dc); err != nil {
			panic(err)
		}
	}
}

// RemoveNode needs no notification of its own: BaseGraph.EraseNode erases
// every incident edge first, which already drives NotifyUnlinked for each.
func (sl *syncLinker[T]) RemoveNode(n *graph.Node[T]) {}

// Synchronize has nothing buffered to flush; link propagation already
// happened synchronously at each operation.
func (sl *syncLinker[T]) Synchronize(ctx context.Context) error { return nil }

// dataSync has no bulk refresh to perform — every read already went through
// a synchronous RPC. Synchronize instead runs the termination round that
// lets any outstanding hard-sync RPCs drain and toggles the epoch, per spec
// §4.8's account of when the four-color algorithm runs.
type dataSync[T any] struct {
	comm comm.Communicator
	term *Terminator[T]
}

func (ds *dataSync[T]) Synchronize(ctx context.Context) error {
	if _, err := ds.term.Run(); err != nil {
		return err
	}
	return ds.comm.WaitAll()
}

// SynchronizeNodes ignores the node subset: the termination barrier is
// global regardless of which nodes triggered it.
func (ds *dataSync[T]) SynchronizeNodes(ctx context.Context, nodes []*graph.Node[T]) error {
	return ds.Synchronize(ctx)
}
