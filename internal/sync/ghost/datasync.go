package ghost

import (
	"context"

	"github.com/fpmas-go/fpmas/internal/codec"
	"github.com/fpmas-go/fpmas/internal/comm"
	"github.com/fpmas-go/fpmas/internal/graph"
	"github.com/fpmas-go/fpmas/internal/id"
)

type nodeDataEntry struct {
	Id      codec.DistributedIdPack
	Weight  float64
	Payload []byte
}

type nodeDataBatch struct {
	Entries []nodeDataEntry
}

type idBatch struct {
	Ids []codec.DistributedIdPack
}

// dataSync refreshes DISTANT ghost replicas by asking each replica's owner
// for its current data, per spec §4.7: one request per DISTANT node to its
// Location, batched per-owner into a single all_to_all round.
type dataSync[T any] struct {
	rank int
	comm comm.Communicator
	bg   *graph.BaseGraph[T]
	dc   DataCodec[T]
	wire codec.Codec
}

// Synchronize refreshes every DISTANT node currently held on this rank.
func (ds *dataSync[T]) Synchronize(ctx context.Context) error {
	var distant []*graph.Node[T]
	for _, n := range ds.bg.Nodes() {
		if n.State == graph.Distant {
			distant = append(distant, n)
		}
	}
	return ds.SynchronizeNodes(ctx, distant)
}

// SynchronizeNodes refreshes only the given DISTANT nodes. It always runs
// both all_to_all rounds, even when nodes is empty: the rounds are
// collective, and this rank may need to answer other ranks' requests for
// data it owns even though it has nothing of its own to refresh.
func (ds *dataSync[T]) SynchronizeNodes(ctx context.Context, nodes []*graph.Node[T]) error {
	byOwner := make(map[int][]id.DistributedId)
	byId := make(map[id.DistributedId]*graph.Node[T], len(nodes))
	for _, n := range nodes {
		byOwner[n.Location] = append(byOwner[n.Location], n.Id)
		byId[n.Id] = n
	}

	requests := make(map[int][]byte)
	for owner, ids := range byOwner {
		packed := make([]codec.DistributedIdPack, len(ids))
		for i, x := range ids {
			packed[i] = codec.ToPack(x)
		}
		data, err := codec.Marshal(ds.wire, idBatch{Ids: packed})
		if err != nil {
			return err
		}
		requests[owner] = data
	}

	incoming, err := ds.comm.AllToAll(ctx, requests)
	if err != nil {
		return err
	}

	replies := make(map[int][]byte)
	for requester, data := range incoming {
		var req idBatch
		if err := codec.Unmarshal(ds.wire, data, &req); err != nil {
			return err
		}
		var reply nodeDataBatch
		for _, idPack := range req.Ids {
			nodeId := idPack.FromPack()
			n, ok := ds.bg.GetNode(nodeId)
			if !ok || n.State != graph.Local {
				continue
			}
			payload, err := ds.dc.Encode(n.Data)
			if err != nil {
				return err
			}
			reply.Entries = append(reply.Entries, nodeDataEntry{Id: codec.ToPack(nodeId), Weight: n.Weight, Payload: payload})
		}
		replyData, err := codec.Marshal(ds.wire, reply)
		if err != nil {
			return err
		}
		replies[requester] = replyData
	}

	answers, err := ds.comm.AllToAll(ctx, replies)
	if err != nil {
		return err
	}

	for _, data := range answers {
		if len(data) == 0 {
			continue
		}
		var reply nodeDataBatch
		if err := codec.Unmarshal(ds.wire, data, &reply); err != nil {
			return err
		}
		for _, entry := range reply.Entries {
			nodeId := entry.Id.FromPack()
			n, ok := byId[nodeId]
			if !ok {
				continue
			}
			data, err := ds.dc.Decode(entry.Payload)
			if err != nil {
				return err
			}
			n.Data = data
			n.Weight = entry.Weight
		}
	}
	return nil
}
