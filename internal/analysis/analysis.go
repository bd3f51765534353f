// Package analysis provides read-only queries over a distributed graph's
// LOCAL/DISTANT view, grounded on
// original_source/src/fpmas/graph/analysis.h: cluster-wide node/edge
// counts and the local clustering coefficient (Watts & Strogatz) of a
// layer.
package analysis

import (
	"context"
	"encoding/binary"
	"math"
	"sort"

	"github.com/fpmas-go/fpmas/internal/codec"
	"github.com/fpmas-go/fpmas/internal/comm"
	"github.com/fpmas-go/fpmas/internal/distgraph"
	"github.com/fpmas-go/fpmas/internal/graph"
	"github.com/fpmas-go/fpmas/internal/id"
)

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func decodeUint64(b []byte) uint64 { return binary.BigEndian.Uint64(b) }

func encodeFloat64(v float64) []byte { return encodeUint64(math.Float64bits(v)) }

func decodeFloat64(b []byte) float64 { return math.Float64frombits(decodeUint64(b)) }

func sumUint64(acc, next []byte) []byte {
	return encodeUint64(decodeUint64(acc) + decodeUint64(next))
}

func sumFloat64(acc, next []byte) []byte {
	return encodeFloat64(decodeFloat64(acc) + decodeFloat64(next))
}

// NodeCount returns the total number of LOCAL nodes across the whole
// cluster. Collective: every rank must call it.
func NodeCount[T any](ctx context.Context, c comm.Communicator, g *distgraph.DistributedGraph[T]) (uint64, error) {
	local := uint64(0)
	for _, n := range g.BaseGraph().Nodes() {
		if n.State == graph.Local {
			local++
		}
	}
	result, err := c.AllReduce(ctx, encodeUint64(local), sumUint64)
	if err != nil {
		return 0, err
	}
	return decodeUint64(result), nil
}

// EdgeCount returns the total number of edges across the cluster (every
// edge counted once, at the rank holding its source node as LOCAL; a copy
// held where the source is DISTANT is not counted). Collective.
func EdgeCount[T any](ctx context.Context, c comm.Communicator, g *distgraph.DistributedGraph[T]) (uint64, error) {
	local := uint64(0)
	for _, e := range g.BaseGraph().Edges() {
		if e.Source.State == graph.Local {
			local++
		}
	}
	result, err := c.AllReduce(ctx, encodeUint64(local), sumUint64)
	if err != nil {
		return 0, err
	}
	return decodeUint64(result), nil
}

type idList struct {
	Ids []codec.DistributedIdPack
}

type neighborRequest struct {
	NodeId  codec.DistributedIdPack
	Targets []codec.DistributedIdPack
}

type neighborRequestBatch struct {
	Requests []neighborRequest
}

// distantOutgoingNeighbors resolves, for every DISTANT node on this rank on
// layer, the ids of its owner's outgoing neighbors on that layer: a single
// all-to-all round of requests followed by one of replies, mirroring
// distant_nodes_outgoing_neighbors in the original.
func distantOutgoingNeighbors[T any](ctx context.Context, c comm.Communicator, g *distgraph.DistributedGraph[T], layer int) (map[id.DistributedId][]id.DistributedId, error) {
	wire := codec.NewTextCodec()

	byOwner := map[int][]codec.DistributedIdPack{}
	for _, n := range g.BaseGraph().Nodes() {
		if n.State != graph.Distant {
			continue
		}
		byOwner[n.Location] = append(byOwner[n.Location], codec.ToPack(n.Id))
	}

	requests := make(map[int][]byte, len(byOwner))
	for owner, ids := range byOwner {
		payload, err := codec.Marshal(wire, idList{Ids: ids})
		if err != nil {
			return nil, err
		}
		requests[owner] = payload
	}

	incoming, err := c.AllToAll(ctx, requests)
	if err != nil {
		return nil, err
	}

	replies := map[int][]byte{}
	for src, raw := range incoming {
		if len(raw) == 0 {
			continue
		}
		var req idList
		if err := codec.Unmarshal(wire, raw, &req); err != nil {
			return nil, err
		}
		var batch neighborRequestBatch
		for _, packed := range req.Ids {
			nodeId := packed.FromPack()
			n, ok := g.BaseGraph().GetNode(nodeId)
			if !ok {
				continue
			}
			var targets []codec.DistributedIdPack
			for _, e := range n.OutEdges(layer) {
				targets = append(targets, codec.ToPack(e.Target.Id))
			}
			batch.Requests = append(batch.Requests, neighborRequest{NodeId: packed, Targets: targets})
		}
		payload, err := codec.Marshal(wire, batch)
		if err != nil {
			return nil, err
		}
		replies[src] = payload
	}

	results, err := c.AllToAll(ctx, replies)
	if err != nil {
		return nil, err
	}

	neighbors := map[id.DistributedId][]id.DistributedId{}
	for _, raw := range results {
		if len(raw) == 0 {
			continue
		}
		var batch neighborRequestBatch
		if err := codec.Unmarshal(wire, raw, &batch); err != nil {
			return nil, err
		}
		for _, r := range batch.Requests {
			ids := make([]id.DistributedId, len(r.Targets))
			for i, t := range r.Targets {
				ids[i] = t.FromPack()
			}
			neighbors[r.NodeId.FromPack()] = ids
		}
	}
	return neighbors, nil
}

// ClusteringCoefficient computes the average local clustering coefficient
// (Watts & Strogatz) of layer across the whole cluster. Collective: every
// rank must call it with the same layer.
func ClusteringCoefficient[T any](ctx context.Context, c comm.Communicator, g *distgraph.DistributedGraph[T], layer int) (float64, error) {
	distantNeighbors, err := distantOutgoingNeighbors(ctx, c, g, layer)
	if err != nil {
		return 0, err
	}

	var localSum float64
	for _, n := range g.BaseGraph().Nodes() {
		if n.State != graph.Local {
			continue
		}
		neighborSet := map[id.DistributedId]bool{}
		for _, e := range n.InEdges(layer) {
			neighborSet[e.Source.Id] = true
		}
		for _, e := range n.OutEdges(layer) {
			neighborSet[e.Target.Id] = true
		}
		delete(neighborSet, n.Id)

		neighbors := make([]id.DistributedId, 0, len(neighborSet))
		for nid := range neighborSet {
			neighbors = append(neighbors, nid)
		}
		sort.Slice(neighbors, func(i, j int) bool { return neighbors[i].Less(neighbors[j]) })

		var edgesBetween int
		for _, nid := range neighbors {
			var outgoing []id.DistributedId
			if neighbor, ok := g.BaseGraph().GetNode(nid); ok && neighbor.State == graph.Local {
				for _, e := range neighbor.OutEdges(layer) {
					outgoing = append(outgoing, e.Target.Id)
				}
			} else {
				outgoing = distantNeighbors[nid]
			}
			for _, target := range outgoing {
				if target == n.Id {
					continue
				}
				if neighborSet[target] {
					edgesBetween++
				}
			}
		}

		k := len(neighbors)
		if k > 1 {
			localSum += float64(edgesBetween) / float64(k*(k-1))
		}
	}

	summed, err := c.AllReduce(ctx, encodeFloat64(localSum), sumFloat64)
	if err != nil {
		return 0, err
	}
	totalSum := decodeFloat64(summed)

	totalNodes, err := NodeCount(ctx, c, g)
	if err != nil {
		return 0, err
	}
	if totalNodes == 0 {
		return 0, nil
	}
	return totalSum / float64(totalNodes), nil
}
