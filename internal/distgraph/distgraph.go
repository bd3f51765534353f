// Package distgraph implements the application-facing distributed graph
// facade of spec §4.4 and §6.1: it decides, for every lifecycle operation,
// whether the work stays local or must be escalated to the active sync
// mode, and it owns the two buffers spec §4.4 calls out — nodes created
// DISTANT since the last data sync, and deferred node removals.
package distgraph

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fpmas-go/fpmas/internal/comm"
	"github.com/fpmas-go/fpmas/internal/graph"
	"github.com/fpmas-go/fpmas/internal/id"
	"github.com/fpmas-go/fpmas/internal/location"
	"github.com/fpmas-go/fpmas/internal/metrics"
	"github.com/fpmas-go/fpmas/internal/migration"
	syncmode "github.com/fpmas-go/fpmas/internal/sync"
	"github.com/fpmas-go/fpmas/pkg/errors"
)

// LocalContext names why a node just became LOCAL, for on_set_local
// observers.
type LocalContext int

const (
	UnspecifiedLocal LocalContext = iota
	BuildLocal
	ImportNewLocal
	ImportExistingLocal
)

func (c LocalContext) String() string {
	switch c {
	case BuildLocal:
		return "BUILD_LOCAL"
	case ImportNewLocal:
		return "IMPORT_NEW_LOCAL"
	case ImportExistingLocal:
		return "IMPORT_EXISTING_LOCAL"
	default:
		return "UNSPECIFIED"
	}
}

// DistantContext names why a node just became DISTANT, for on_set_distant
// observers.
type DistantContext int

const (
	UnspecifiedDistant DistantContext = iota
	ImportNewDistant
	ExportDistant
)

func (c DistantContext) String() string {
	switch c {
	case ImportNewDistant:
		return "IMPORT_NEW_DISTANT"
	case ExportDistant:
		return "EXPORT_DISTANT"
	default:
		return "UNSPECIFIED"
	}
}

// BalanceMode selects whether balance() treats the computed PartitionMap as
// an initial placement or an incremental rebalance; the migration protocol
// itself (§4.9) doesn't distinguish the two, but spec §6.1 names both so
// applications can express intent.
type BalanceMode int

const (
	Partition BalanceMode = iota
	Repartition
)

// OnSetLocal is invoked after a node transitions to LOCAL.
type OnSetLocal[T any] func(n *graph.Node[T], ctx LocalContext)

// OnSetDistant is invoked after a node transitions to DISTANT.
type OnSetDistant[T any] func(n *graph.Node[T], ctx DistantContext)

// DistributedGraph is the facade applications build against: a BaseGraph
// plus a LocationManager plus an active sync Mode, wired together per the
// lifecycle table of spec §4.4.
type DistributedGraph[T any] struct {
	rank int
	size int

	bg   *graph.BaseGraph[T]
	lm   *location.LocationManager[T]
	mode syncmode.Mode[T]
	dc   migration.DataCodec[T]
	comm comm.Communicator

	mu              sync.Mutex
	unsyncNodes     map[id.DistributedId]*graph.Node[T]
	deferredRemoval map[id.DistributedId]*graph.Node[T]
	onSetLocal      []OnSetLocal[T]
	onSetDistant    []OnSetDistant[T]
	metrics         *metrics.Collector
}

// SetMetrics attaches a metrics collector that Synchronize and Distribute
// report timing and item counts to. A nil collector (the default) disables
// reporting entirely.
func (g *DistributedGraph[T]) SetMetrics(c *metrics.Collector) {
	g.metrics = c
}

// New creates a DistributedGraph bound to bg, lm and the given active sync
// mode. dc is used to decode/encode the application payload for migration
// transport (mode-specific codecs are wired separately, inside each mode's
// constructor).
func New[T any](rank, size int, c comm.Communicator, bg *graph.BaseGraph[T], lm *location.LocationManager[T], mode syncmode.Mode[T], dc migration.DataCodec[T]) *DistributedGraph[T] {
	g := &DistributedGraph[T]{
		rank: rank, size: size, comm: c, bg: bg, lm: lm, mode: mode, dc: dc,
		unsyncNodes:     make(map[id.DistributedId]*graph.Node[T]),
		deferredRemoval: make(map[id.DistributedId]*graph.Node[T]),
	}
	bg.OnEraseNode(func(n *graph.Node[T]) {
		g.mu.Lock()
		delete(g.unsyncNodes, n.Id)
		delete(g.deferredRemoval, n.Id)
		g.mu.Unlock()
	})
	return g
}

// AddOnSetLocal registers a callback fired every time a node transitions to
// LOCAL, regardless of why.
func (g *DistributedGraph[T]) AddOnSetLocal(cb OnSetLocal[T]) {
	g.mu.Lock()
	g.onSetLocal = append(g.onSetLocal, cb)
	g.mu.Unlock()
}

// AddOnSetDistant registers a callback fired every time a node transitions
// to DISTANT.
func (g *DistributedGraph[T]) AddOnSetDistant(cb OnSetDistant[T]) {
	g.mu.Lock()
	g.onSetDistant = append(g.onSetDistant, cb)
	g.mu.Unlock()
}

func (g *DistributedGraph[T]) fireSetLocal(n *graph.Node[T], ctx LocalContext) {
	g.mu.Lock()
	cbs := append([]OnSetLocal[T]{}, g.onSetLocal...)
	g.mu.Unlock()
	for _, cb := range cbs {
		cb(n, ctx)
	}
}

func (g *DistributedGraph[T]) fireSetDistant(n *graph.Node[T], ctx DistantContext) {
	g.mu.Lock()
	cbs := append([]OnSetDistant[T]{}, g.onSetDistant...)
	g.mu.Unlock()
	for _, cb := range cbs {
		cb(n, ctx)
	}
}

// BuildNode inserts a new LOCAL node with the given weight and payload.
func (g *DistributedGraph[T]) BuildNode(weight float64, data T) *graph.Node[T] {
	n := g.bg.InsertLocalNode(weight, data, g.rank)
	g.lm.SetLocal(n)
	g.fireSetLocal(n, BuildLocal)
	return n
}

// InsertDistant registers an already-constructed DISTANT node, used by
// custom graph builders and the migration importer that build ghosts
// directly rather than through Link.
func (g *DistributedGraph[T]) InsertDistant(n *graph.Node[T]) {
	g.bg.InsertNode(n)
	g.lm.SetDistant(n)
	g.mu.Lock()
	g.unsyncNodes[n.Id] = n
	g.mu.Unlock()
	g.fireSetDistant(n, ImportNewDistant)
}

// Link creates an edge from source to target on layer, running the active
// mode's init/notify hooks around the local mutation per spec §4.4. When
// neither endpoint is LOCAL here, this process has no standing to hold the
// edge in its own BaseGraph — only the mode notification is run, matching
// "an edge appears in a process's graph iff at least one endpoint is LOCAL
// there."
func (g *DistributedGraph[T]) Link(source, target *graph.Node[T], layer int, weight float64) *graph.Edge[T] {
	linker := g.mode.SyncLinker()
	placeholder := &graph.Edge[T]{Source: source, Target: target, Layer: layer, Weight: weight}
	linker.InitLink(placeholder)

	var e *graph.Edge[T]
	if source.State == graph.Distant && target.State == graph.Distant {
		e = &graph.Edge[T]{
			Id:     g.bg.Minter().Next(),
			Layer:  layer,
			Weight: weight,
			Source: source,
			Target: target,
			State:  graph.Distant,
		}
	} else {
		e = g.bg.Link(source, target, layer, weight)
	}

	linker.NotifyLinked(e)
	if e.State == graph.Distant {
		g.trackUnsynced(source)
		g.trackUnsynced(target)
	}
	return e
}

func (g *DistributedGraph[T]) trackUnsynced(n *graph.Node[T]) {
	if n.State != graph.Distant {
		return
	}
	g.mu.Lock()
	g.unsyncNodes[n.Id] = n
	g.mu.Unlock()
}

// Unlink removes e, running the active mode's init/notify hooks around the
// local erase.
func (g *DistributedGraph[T]) Unlink(e *graph.Edge[T]) {
	linker := g.mode.SyncLinker()
	linker.InitUnlink(e)
	g.bg.EraseEdge(e)
	linker.NotifyUnlinked(e)
}

// UnlinkId looks up the edge by id and unlinks it.
func (g *DistributedGraph[T]) UnlinkId(edgeId id.DistributedId) error {
	e, ok := g.bg.GetEdge(edgeId)
	if !ok {
		return errors.NewError(errors.ErrCodeBadId, "unlink: no such edge").
			WithComponent("distgraph").WithOperation("UnlinkId")
	}
	g.Unlink(e)
	return nil
}

// SwitchLayer moves a LOCAL edge to a different layer. Spec §6.1 restricts
// this to LOCAL edges: a DISTANT edge's layer is owned by whichever process
// sees it as LOCAL.
func (g *DistributedGraph[T]) SwitchLayer(e *graph.Edge[T], newLayer int) error {
	if e.State != graph.Local {
		return errors.NewError(errors.ErrCodeBadId, "switch_layer: edge is not LOCAL").
			WithComponent("distgraph").WithOperation("SwitchLayer")
	}
	g.bg.SwitchLayer(e, newLayer)
	return nil
}

// RemoveNode erases n, registering the removal with the active mode so it
// can propagate the removal globally if needed (Ghost/Hard) or simply
// defer it (None).
func (g *DistributedGraph[T]) RemoveNode(n *graph.Node[T]) {
	g.mode.SyncLinker().RemoveNode(n)
	g.mu.Lock()
	g.deferredRemoval[n.Id] = n
	g.mu.Unlock()
	g.bg.EraseNode(n)
}

// RemoveNodeId looks up the node by id and removes it.
func (g *DistributedGraph[T]) RemoveNodeId(nodeId id.DistributedId) error {
	n, ok := g.bg.GetNode(nodeId)
	if !ok {
		return errors.NewError(errors.ErrCodeBadId, "remove_node: no such node").
			WithComponent("distgraph").WithOperation("RemoveNodeId")
	}
	g.RemoveNode(n)
	return nil
}

// Synchronize flushes the active mode's linker buffer then refreshes
// DISTANT data, clearing the unsynchronized-nodes buffer on success.
func (g *DistributedGraph[T]) Synchronize(ctx context.Context) error {
	start := time.Now()
	if err := g.mode.SyncLinker().Synchronize(ctx); err != nil {
		if g.metrics != nil {
			g.metrics.RecordError("synchronize", err)
		}
		return err
	}
	if err := g.mode.DataSync().Synchronize(ctx); err != nil {
		if g.metrics != nil {
			g.metrics.RecordError("synchronize", err)
		}
		return err
	}
	g.mu.Lock()
	g.unsyncNodes = make(map[id.DistributedId]*graph.Node[T])
	g.mu.Unlock()
	if g.metrics != nil {
		g.metrics.RecordSynchronize(time.Since(start))
	}
	return nil
}

// SynchronizeNodes refreshes only the given subset; syncLinks additionally
// flushes the linker buffer first, matching the default in spec §6.1.
func (g *DistributedGraph[T]) SynchronizeNodes(ctx context.Context, nodes []*graph.Node[T], syncLinks bool) error {
	if syncLinks {
		if err := g.mode.SyncLinker().Synchronize(ctx); err != nil {
			return err
		}
	}
	if err := g.mode.DataSync().SynchronizeNodes(ctx, nodes); err != nil {
		return err
	}
	g.mu.Lock()
	for _, n := range nodes {
		delete(g.unsyncNodes, n.Id)
	}
	g.mu.Unlock()
	return nil
}

// Balance obtains a PartitionMap from partitioner and applies it via
// Distribute, per spec §4.4's description of balance() as a barrier that
// triggers migration. mode is not read; the migration protocol itself
// doesn't distinguish an initial placement from an incremental rebalance.
func (g *DistributedGraph[T]) Balance(ctx context.Context, partitioner migration.Partitioner[T], mode BalanceMode) error {
	pm, err := partitioner.Partition(ctx, g.comm, g.bg)
	if err != nil {
		return err
	}
	return g.Distribute(ctx, pm)
}

// Distribute runs the migration protocol of spec §4.9 against an
// already-computed PartitionMap: export/import nodes and edges, fire the
// on_set_local/on_set_distant callbacks for every transition, refresh
// locations, and run a final synchronize.
func (g *DistributedGraph[T]) Distribute(ctx context.Context, partition map[id.DistributedId]int) error {
	result, err := migration.Migrate(ctx, g.rank, g.bg, g.lm, g.comm, g.dc, migration.PartitionMap(partition))
	if err != nil {
		if g.metrics != nil {
			g.metrics.RecordError("distribute", err)
		}
		return err
	}
	if g.metrics != nil {
		g.metrics.RecordMigration("import", int64(len(result.NewLocal)+len(result.NewDistant)), 0)
		g.metrics.RecordMigration("export", int64(len(result.ExportedDistant)), 0)
	}

	for _, n := range result.NewLocal {
		g.fireSetLocal(n, ImportNewLocal)
	}
	for _, n := range result.ExistingLocal {
		g.fireSetLocal(n, ImportExistingLocal)
	}
	for _, n := range result.NewDistant {
		g.fireSetDistant(n, ImportNewDistant)
		g.mu.Lock()
		g.unsyncNodes[n.Id] = n
		g.mu.Unlock()
	}
	for _, n := range result.ExportedDistant {
		g.fireSetDistant(n, ExportDistant)
		g.mu.Lock()
		g.unsyncNodes[n.Id] = n
		g.mu.Unlock()
	}

	if err := g.lm.UpdateLocations(ctx); err != nil {
		return err
	}
	return g.Synchronize(ctx)
}

// GetUnsynchronizedNodes returns every DISTANT node created since the last
// full Synchronize, in deterministic id order.
func (g *DistributedGraph[T]) GetUnsynchronizedNodes() []*graph.Node[T] {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*graph.Node[T], 0, len(g.unsyncNodes))
	for _, n := range g.unsyncNodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id.Less(out[j].Id) })
	return out
}

// CurrentNodeId returns the next id this rank's minter will allocate, for
// graph builders that need deterministic id cursors across ranks.
func (g *DistributedGraph[T]) CurrentNodeId() uint64 {
	return g.bg.CurrentNodeId()
}

// SetCurrentNodeId rewinds or fast-forwards this rank's id cursor.
func (g *DistributedGraph[T]) SetCurrentNodeId(seq uint64) {
	g.bg.Minter().SetCurrent(seq)
}

// BaseGraph exposes the underlying graph for read-only inspection
// (analysis, graph builders that need Nodes()/Edges() directly).
func (g *DistributedGraph[T]) BaseGraph() *graph.BaseGraph[T] { return g.bg }

// LocationManager exposes the underlying location manager, needed after a
// migration round to run updateLocations (spec §4.9 step 8).
func (g *DistributedGraph[T]) LocationManager() *location.LocationManager[T] { return g.lm }

// Rank returns this process's rank.
func (g *DistributedGraph[T]) Rank() int { return g.rank }

// Size returns the cluster size.
func (g *DistributedGraph[T]) Size() int { return g.size }
