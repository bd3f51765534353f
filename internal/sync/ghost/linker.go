package ghost

import (
	"context"
	"sync"

	"github.com/fpmas-go/fpmas/internal/codec"
	"github.com/fpmas-go/fpmas/internal/comm"
	"github.com/fpmas-go/fpmas/internal/graph"
	"github.com/fpmas-go/fpmas/internal/id"
	"github.com/fpmas-go/fpmas/internal/location"
)

// linkWire is the wire form of a buffered link, carrying enough of each
// endpoint to instantiate a fresh ghost on the importer side if it does not
// already hold a representation of that node.
type linkWire struct {
	Edge         codec.EdgePack
	SourceWeight float64
	SourceData   []byte
	TargetWeight float64
	TargetData   []byte
}

type linkBatch struct {
	Links []linkWire
}

type unlinkBatch struct {
	Ids []codec.DistributedIdPack
}

// syncLinker buffers link/unlink operations touching a remote rank and
// flushes them with one all_to_all per kind at Synchronize, per spec §4.7.
type syncLinker[T any] struct {
	rank int
	comm comm.Communicator
	bg   *graph.BaseGraph[T]
	lm   *location.LocationManager[T]
	dc   DataCodec[T]
	wire codec.Codec

	mu             sync.Mutex
	pendingLinks   map[id.DistributedId]*graph.Edge[T]
	pendingUnlinks map[id.DistributedId]*graph.Edge[T]
}

func destinationsFor[T any](e *graph.Edge[T]) []int {
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

// InitLink is a no-op: ghost mode only needs to act once the edge actually
// exists, in NotifyLinked.
func (sl *syncLinker[T]) InitLink(e *graph.Edge[T]) {}

// NotifyLinked buffers a cross-process edge for the next flush. An edge
// whose endpoints are both LOCAL needs no propagation.
func (sl *syncLinker[T]) NotifyLinked(e *graph.Edge[T]) {
	if e.State == graph.Local {
		return
	}
	sl.mu.Lock()
	sl.pendingLinks[e.Id] = e
	sl.mu.Unlock()
}

// InitUnlink cancels a not-yet-flushed buffered link for the same edge id.
// NotifyUnlinked still buffers the unlink once the local erase has
// happened; a remote rank that never received the link ignores it as a
// missing edge.
func (sl *syncLinker[T]) InitUnlink(e *graph.Edge[T]) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	delete(sl.pendingLinks, e.Id)
}

// NotifyUnlinked buffers a cross-process edge removal for the next flush.
func (sl *syncLinker[T]) NotifyUnlinked(e *graph.Edge[T]) {
	if e.State == graph.Local {
		return
	}
	sl.mu.Lock()
	sl.pendingUnlinks[e.Id] = e
	sl.mu.Unlock()
}

// RemoveNode does not need to buffer anything of its own: removing a node
// cascades through BaseGraph.EraseNode, which erases every incident edge
// first and so already drives NotifyUnlinked for each of them.
func (sl *syncLinker[T]) RemoveNode(n *graph.Node[T]) {}

func edgeToWire[T any](e *graph.Edge[T], dc DataCodec[T]) (linkWire, error) {
	w := linkWire{
		Edge: codec.EdgePack{
			Id:             codec.ToPack(e.Id),
			Layer:          e.Layer,
			Weight:         e.Weight,
			SourceId:       codec.ToPack(e.Source.Id),
			TargetId:       codec.ToPack(e.Target.Id),
			SourceOrigin:   e.Source.Id.Rank,
			SourceLocation: e.Source.Location,
			TargetOrigin:   e.Target.Id.Rank,
			TargetLocation: e.Target.Location,
		},
		SourceWeight: e.Source.Weight,
		TargetWeight: e.Target.Weight,
	}
	var err error
	w.SourceData, err = dc.Encode(e.Source.Data)
	if err != nil {
		return w, err
	}
	w.TargetData, err = dc.Encode(e.Target.Data)
	return w, err
}

// Synchronize flushes the buffered link and unlink operations: one
// all_to_all for links (grouped by destination rank) followed by one for
// unlinks, attaching or erasing edges on the importing side. Both complete
// before Synchronize returns, so the subsequent DataSync.Synchronize call
// sees fully reattached endpoints, per spec §4.7's ordering note.
func (sl *syncLinker[T]) Synchronize(ctx context.Context) error {
	if err := sl.flushLinks(ctx); err != nil {
		return err
	}
	return sl.flushUnlinks(ctx)
}

func (sl *syncLinker[T]) flushLinks(ctx context.Context) error {
	sl.mu.Lock()
	links := sl.pendingLinks
	sl.pendingLinks = make(map[id.DistributedId]*graph.Edge[T])
	sl.mu.Unlock()

	byDest := make(map[int][]linkWire)
	for _, e := range links {
		w, err := edgeToWire(e, sl.dc)
		if err != nil {
			return err
		}
		for _, dest := range destinationsFor(e) {
			byDest[dest] = append(byDest[dest], w)
		}
	}

	out := make(map[int][]byte)
	for dest, ws := range byDest {
		data, err := codec.Marshal(sl.wire, linkBatch{Links: ws})
		if err != nil {
			return err
		}
		out[dest] = data
	}

	incoming, err := sl.comm.AllToAll(ctx, out)
	if err != nil {
		return err
	}

	for _, data := range incoming {
		if len(data) == 0 {
			continue
		}
		var batch linkBatch
		if err := codec.Unmarshal(sl.wire, data, &batch); err != nil {
			return err
		}
		for _, w := range batch.Links {
			sl.importLink(w)
		}
	}
	return nil
}

func (sl *syncLinker[T]) importLink(w linkWire) {
	edgeId := w.Edge.Id.FromPack()
	if _, exists := sl.bg.GetEdge(edgeId); exists {
		return // duplicate arrival: idempotent
	}
	source := sl.resolveEndpoint(w.Edge.SourceId.FromPack(), w.Edge.SourceLocation, w.SourceWeight, w.SourceData)
	target := sl.resolveEndpoint(w.Edge.TargetId.FromPack(), w.Edge.TargetLocation, w.TargetWeight, w.TargetData)
	e := &graph.Edge[T]{
		Id:     edgeId,
		Layer:  w.Edge.Layer,
		Weight: w.Edge.Weight,
		Source: source,
		Target: target,
		State:  graph.Distant,
	}
	sl.bg.InsertEdge(e)
}

func (sl *syncLinker[T]) resolveEndpoint(nodeId id.DistributedId, location_ int, weight float64, payload []byte) *graph.Node[T] {
	if n, ok := sl.bg.GetNode(nodeId); ok {
		return n
	}
	var data T
	if len(payload) > 0 {
		if v, err := sl.dc.Decode(payload); err == nil {
			data = v
		}
	}
	n := graph.NewDistantNode(nodeId, weight, data, location_)
	sl.bg.InsertNode(n)
	sl.lm.SetDistant(n)
	return n
}

func (sl *syncLinker[T]) flushUnlinks(ctx context.Context) error {
	sl.mu.Lock()
	unlinks := sl.pendingUnlinks
	sl.pendingUnlinks = make(map[id.DistributedId]*graph.Edge[T])
	sl.mu.Unlock()

	byDest := make(map[int][]codec.DistributedIdPack)
	for _, e := range unlinks {
		for _, dest := range destinationsFor(e) {
			byDest[dest] = append(byDest[dest], codec.ToPack(e.Id))
		}
	}

	out := make(map[int][]byte)
	for dest, ids := range byDest {
		data, err := codec.Marshal(sl.wire, unlinkBatch{Ids: ids})
		if err != nil {
			return err
		}
		out[dest] = data
	}

	incoming, err := sl.comm.AllToAll(ctx, out)
	if err != nil {
		return err
	}

	for _, data := range incoming {
		if len(data) == 0 {
			continue
		}
		var batch unlinkBatch
		if err := codec.Unmarshal(sl.wire, data, &batch); err != nil {
			return err
		}
		for _, idPack := range batch.Ids {
			edgeId := idPack.FromPack()
			if e, ok := sl.bg.GetEdge(edgeId); ok {
				sl.bg.EraseEdge(e)
			}
			// missing edge: duplicate or already-removed arrival, ignored idempotently.
		}
	}
	return nil
}
