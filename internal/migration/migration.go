// Package migration implements the nine-step repartition protocol of spec
// §4.9: compute an export list from a PartitionMap, serialize and transmit
// exported nodes and their incident edges in one all_to_all round each,
// reattach on the import side, and ghost-promote or erase on the export
// side. Steps 8 (LocationManager.updateLocations) and 9 (synchronize) are
// the caller's responsibility since they are already owned by the location
// manager and the distributed graph facade.
package migration

import (
	"context"
	"sort"

	"github.com/fpmas-go/fpmas/internal/codec"
	"github.com/fpmas-go/fpmas/internal/comm"
	"github.com/fpmas-go/fpmas/internal/graph"
	"github.com/fpmas-go/fpmas/internal/id"
	"github.com/fpmas-go/fpmas/internal/location"
)

// DataCodec packages the application payload's encode/decode pair.
type DataCodec[T any] struct {
	Encode func(T) ([]byte, error)
	Decode func([]byte) (T, error)
}

// PartitionMap assigns every node a destination rank for the next
// distribution; an entry whose rank equals the node's current owner is a
// no-op.
type PartitionMap map[id.DistributedId]int

type nodeWire struct {
	Id     codec.DistributedIdPack
	Weight float64
	Data   []byte
}

type nodeBatch struct {
	Nodes []nodeWire
}

type edgeWire struct {
	Edge         codec.EdgePack
	SourceWeight float64
	SourceData   []byte
	TargetWeight float64
	TargetData   []byte
}

type edgeBatch struct {
	Edges []edgeWire
}

// ImportResult reports, for the purposes of firing the distributed graph's
// on_set_local / on_set_distant callbacks, which nodes changed state and
// why.
type ImportResult[T any] struct {
	NewLocal        []*graph.Node[T]
	ExistingLocal   []*graph.Node[T]
	NewDistant      []*graph.Node[T]
	ExportedDistant []*graph.Node[T]
}

func other[T any](e *graph.Edge[T], n *graph.Node[T]) *graph.Node[T] {
	if e.Source == n {
		return e.Target
	}
	return e.Source
}

// Migrate executes steps 1-7 of the protocol: compute this rank's export
// list from partition, transmit exported nodes and their incident edges,
// reattach on import, and ghost-promote or erase on export.
func Migrate[T any](ctx context.Context, rank int, bg *graph.BaseGraph[T], lm *location.LocationManager[T], c comm.Communicator, dc DataCodec[T], partition PartitionMap) (*ImportResult[T], error) {
	exportList := make(map[id.DistributedId]int)
	for nodeId, dest := range partition {
		if dest == rank {
			continue
		}
		n, ok := bg.GetNode(nodeId)
		if !ok || n.State != graph.Local {
			continue
		}
		exportList[nodeId] = dest
	}

	nodeOut, err := buildNodeBatches(bg, dc, exportList)
	if err != nil {
		return nil, err
	}
	edgeOut, err := buildEdgeBatches(bg, dc, exportList)
	if err != nil {
		return nil, err
	}

	incomingNodes, err := c.AllToAll(ctx, nodeOut)
	if err != nil {
		return nil, err
	}
	incomingEdges, err := c.AllToAll(ctx, edgeOut)
	if err != nil {
		return nil, err
	}

	result := &ImportResult[T]{}
	var staleEdges []*graph.Edge[T]

	for _, data := range incomingNodes {
		if len(data) == 0 {
			continue
		}
		var batch nodeBatch
		if err := codec.Unmarshal(codec.NewTextCodec(), data, &batch); err != nil {
			return nil, err
		}
		for _, w := range batch.Nodes {
			nodeId := w.Id.FromPack()
			appData, err := dc.Decode(w.Data)
			if err != nil {
				return nil, err
			}

			existing, hadExisting := bg.GetNode(nodeId)
			hadGhost := hadExisting && existing.State == graph.Distant
			if hadGhost {
				for _, l := range existing.Layers() {
					staleEdges = append(staleEdges, existing.OutEdges(l)...)
					staleEdges = append(staleEdges, existing.InEdges(l)...)
				}
			}

			newNode := graph.NewLocalNode(nodeId, w.Weight, appData, rank)
			bg.InsertNode(newNode)
			lm.SetLocal(newNode)

			if hadGhost {
				result.ExistingLocal = append(result.ExistingLocal, newNode)
			} else {
				result.NewLocal = append(result.NewLocal, newNode)
			}
		}
	}

	for _, data := range incomingEdges {
		if len(data) == 0 {
			continue
		}
		var batch edgeBatch
		if err := codec.Unmarshal(codec.NewTextCodec(), data, &batch); err != nil {
			return nil, err
		}
		for _, w := range batch.Edges {
			edgeId := w.Edge.Id.FromPack()
			if _, exists := bg.GetEdge(edgeId); exists {
				continue // duplicate arrival: idempotent per spec §4.9
			}
			source, isNewDistant := resolveEndpoint(bg, lm, w.Edge.SourceId.FromPack(), w.Edge.SourceLocation, w.SourceWeight, w.SourceData, dc)
			if isNewDistant {
				result.NewDistant = append(result.NewDistant, source)
			}
			target, isNewDistant := resolveEndpoint(bg, lm, w.Edge.TargetId.FromPack(), w.Edge.TargetLocation, w.TargetWeight, w.TargetData, dc)
			if isNewDistant {
				result.NewDistant = append(result.NewDistant, target)
			}
			state := graph.Local
			if source.State == graph.Distant || target.State == graph.Distant {
				state = graph.Distant
			}
			bg.InsertEdge(&graph.Edge[T]{
				Id: edgeId, Layer: w.Edge.Layer, Weight: w.Edge.Weight,
				Source: source, Target: target, State: state,
			})
		}
	}

	for _, e := range staleEdges {
		if cur, ok := bg.GetEdge(e.Id); ok && cur == e {
			bg.EraseEdge(e)
		}
	}

	exported, err := promoteOrEraseExported(bg, lm, exportList)
	if err != nil {
		return nil, err
	}
	result.ExportedDistant = exported
	return result, nil
}

func resolveEndpoint[T any](bg *graph.BaseGraph[T], lm *location.LocationManager[T], nodeId id.DistributedId, loc int, weight float64, payload []byte, dc DataCodec[T]) (*graph.Node[T], bool) {
	if n, ok := bg.GetNode(nodeId); ok {
		return n, false
	}
	var data T
	if len(payload) > 0 {
		if v, err := dc.Decode(payload); err == nil {
			data = v
		}
	}
	n := graph.NewDistantNode(nodeId, weight, data, loc)
	bg.InsertNode(n)
	lm.SetDistant(n)
	return n, true
}

func buildNodeBatches[T any](bg *graph.BaseGraph[T], dc DataCodec[T], exportList map[id.DistributedId]int) (map[int][]byte, error) {
	byDest := make(map[int][]nodeWire)
	for nodeId, dest := range exportList {
		n, _ := bg.GetNode(nodeId)
		payload, err := dc.Encode(n.Data)
		if err != nil {
			return nil, err
		}
		byDest[dest] = append(byDest[dest], nodeWire{Id: codec.ToPack(nodeId), Weight: n.Weight, Data: payload})
	}
	out := make(map[int][]byte)
	wire := codec.NewTextCodec()
	for dest, ws := range byDest {
		data, err := codec.Marshal(wire, nodeBatch{Nodes: ws})
		if err != nil {
			return nil, err
		}
		out[dest] = data
	}
	return out, nil
}

func buildEdgeBatches[T any](bg *graph.BaseGraph[T], dc DataCodec[T], exportList map[id.DistributedId]int) (map[int][]byte, error) {
	byDest := make(map[int][]edgeWire)
	seen := make(map[id.DistributedId]map[int]struct{})

	for _, e := range bg.Edges() {
		dests := make(map[int]struct{}, 2)
		if dest, ok := exportList[e.Source.Id]; ok {
			dests[dest] = struct{}{}
		}
		if dest, ok := exportList[e.Target.Id]; ok {
			dests[dest] = struct{}{}
		}
		if len(dests) == 0 {
			continue
		}
		for dest := range dests {
			if seen[e.Id] == nil {
				seen[e.Id] = make(map[int]struct{})
			}
			if _, dup := seen[e.Id][dest]; dup {
				continue
			}
			seen[e.Id][dest] = struct{}{}

			w := edgeWire{Edge: codec.EdgePack{
				Id:             codec.ToPack(e.Id),
				Layer:          e.Layer,
				Weight:         e.Weight,
				SourceId:       codec.ToPack(e.Source.Id),
				TargetId:       codec.ToPack(e.Target.Id),
				SourceOrigin:   e.Source.Id.Rank,
				SourceLocation: e.Source.Location,
				TargetOrigin:   e.Target.Id.Rank,
				TargetLocation: e.Target.Location,
			}}
			var err error
			w.SourceWeight = e.Source.Weight
			w.TargetWeight = e.Target.Weight
			w.SourceData, err = dc.Encode(e.Source.Data)
			if err != nil {
				return nil, err
			}
			w.TargetData, err = dc.Encode(e.Target.Data)
			if err != nil {
				return nil, err
			}
			byDest[dest] = append(byDest[dest], w)
		}
	}

	out := make(map[int][]byte)
	wire := codec.NewTextCodec()
	for dest, ws := range byDest {
		data, err := codec.Marshal(wire, edgeBatch{Edges: ws})
		if err != nil {
			return nil, err
		}
		out[dest] = data
	}
	return out, nil
}

// promoteOrEraseExported implements step 7: edges whose both endpoints
// migrated away are erased outright (they no longer touch any LOCAL node
// here); exported nodes that retain a LOCAL neighbor become DISTANT ghosts,
// the rest are erased with their now-dangling edges.
func promoteOrEraseExported[T any](bg *graph.BaseGraph[T], lm *location.LocationManager[T], exportList map[id.DistributedId]int) ([]*graph.Node[T], error) {
	for _, e := range bg.Edges() {
		_, srcExported := exportList[e.Source.Id]
		_, tgtExported := exportList[e.Target.Id]
		if srcExported && tgtExported {
			bg.EraseEdge(e)
		}
	}

	var promoted []*graph.Node[T]
	for nodeId, dest := range exportList {
		n, ok := bg.GetNode(nodeId)
		if !ok {
			continue
		}
		hasLocalNeighbor := false
		for _, l := range n.Layers() {
			for _, e := range n.OutEdges(l) {
				if other(e, n).State == graph.Local {
					hasLocalNeighbor = true
				}
			}
			for _, e := range n.InEdges(l) {
				if other(e, n).State == graph.Local {
					hasLocalNeighbor = true
				}
			}
		}

		if hasLocalNeighbor {
			n.State = graph.Distant
			n.Location = dest
			for _, l := range n.Layers() {
				for _, e := range n.OutEdges(l) {
					e.State = graph.Distant
				}
				for _, e := range n.InEdges(l) {
					e.State = graph.Distant
				}
			}
			lm.SetDistant(n)
			promoted = append(promoted, n)
		} else {
			bg.EraseNode(n)
			lm.Remove(n.Id)
		}
	}
	sort.Slice(promoted, func(i, j int) bool { return promoted[i].Id.Less(promoted[j].Id) })
	return promoted, nil
}
