// Package location implements the per-process LocationManager: the
// bookkeeping that resolves, for any node id referenced locally, which rank
// currently hosts it as LOCAL.
package location

import (
	"context"
	"sync"

	"github.com/fpmas-go/fpmas/internal/codec"
	"github.com/fpmas-go/fpmas/internal/comm"
	"github.com/fpmas-go/fpmas/internal/graph"
	"github.com/fpmas-go/fpmas/internal/id"
)

const (
	tagOwnership comm.Tag = 1
	tagLocQuery  comm.Tag = 2
	tagLocReply  comm.Tag = 3
)

// LocationManager tracks, per spec §4.5, the three disjoint node sets
// (local, distant, new-local-since-last-update) plus the managed-nodes map:
// for every id this rank originated, the last known owning rank.
type LocationManager[T any] struct {
	rank int
	comm comm.Communicator
	text codec.Codec

	mu            sync.Mutex
	localNodes    map[id.DistributedId]struct{}
	distantNodes  map[id.DistributedId]*graph.Node[T]
	newLocalNodes map[id.DistributedId]struct{}
	managedNodes  map[id.DistributedId]int
}

// New creates a LocationManager for the given rank.
func New[T any](rank int, c comm.Communicator) *LocationManager[T] {
	return &LocationManager[T]{
		rank:          rank,
		comm:          c,
		text:          codec.NewTextCodec(),
		localNodes:    make(map[id.DistributedId]struct{}),
		distantNodes:  make(map[id.DistributedId]*graph.Node[T]),
		newLocalNodes: make(map[id.DistributedId]struct{}),
		managedNodes:  make(map[id.DistributedId]int),
	}
}

// SetLocal records that n is now LOCAL on this rank. If this rank
// originated n, it is its own owner of record.
func (lm *LocationManager[T]) SetLocal(n *graph.Node[T]) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	delete(lm.distantNodes, n.Id)
	lm.localNodes[n.Id] = struct{}{}
	lm.newLocalNodes[n.Id] = struct{}{}
	if n.Id.Rank == lm.rank {
		lm.managedNodes[n.Id] = lm.rank
	}
}

// SetDistant records that n is a DISTANT replica on this rank.
func (lm *LocationManager[T]) SetDistant(n *graph.Node[T]) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	delete(lm.localNodes, n.Id)
	delete(lm.newLocalNodes, n.Id)
	lm.distantNodes[n.Id] = n
}

// Remove drops all bookkeeping for a node that has been destroyed.
func (lm *LocationManager[T]) Remove(nodeId id.DistributedId) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	delete(lm.localNodes, nodeId)
	delete(lm.distantNodes, nodeId)
	delete(lm.newLocalNodes, nodeId)
	if nodeId.Rank == lm.rank {
		delete(lm.managedNodes, nodeId)
	}
}

// AddManagedNode records that rank now owns nodeId, for an id this process
// originated, setting the entry directly, outside the two-phase exchange.
func (lm *LocationManager[T]) AddManagedNode(nodeId id.DistributedId, rank int) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.managedNodes[nodeId] = rank
}

// Owner returns the last known owning rank for an id this process
// originated, if any.
func (lm *LocationManager[T]) Owner(nodeId id.DistributedId) (int, bool) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	r, ok := lm.managedNodes[nodeId]
	return r, ok
}

// IsLocal reports whether nodeId is currently tracked as LOCAL here.
func (lm *LocationManager[T]) IsLocal(nodeId id.DistributedId) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	_, ok := lm.localNodes[nodeId]
	return ok
}

func marshalIds(c codec.Codec, ids []id.DistributedId) ([]byte, error) {
	pack := codec.LocationQueryPack{Ids: make([]codec.DistributedIdPack, len(ids))}
	for i, x := range ids {
		pack.Ids[i] = codec.ToPack(x)
	}
	return codec.Marshal(c, pack)
}

func unmarshalIds(c codec.Codec, data []byte) ([]id.DistributedId, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var pack codec.LocationQueryPack
	if err := codec.Unmarshal(c, data, &pack); err != nil {
		return nil, err
	}
	out := make([]id.DistributedId, len(pack.Ids))
	for i, x := range pack.Ids {
		out[i] = x.FromPack()
	}
	return out, nil
}

// UpdateLocations runs the two-phase exchange of spec §4.5:
//
//  1. Every rank announces, grouped by origin rank, the ids it has newly
//     taken LOCAL ownership of since the last call. Origins update
//     managedNodes to record the new owner.
//  2. Every rank asks, grouped by origin rank, for the current location of
//     every DISTANT node it holds whose origin is some other rank. Origins
//     answer from the (now updated) managedNodes map, and the replies set
//     Location on each matching local DISTANT node object.
//
// After this returns, every node referenced locally has an accurate
// Location field, per the invariant in spec §4.5 and §8.
func (lm *LocationManager[T]) UpdateLocations(ctx context.Context) error {
	if err := lm.announceOwnership(ctx); err != nil {
		return err
	}
	return lm.queryLocations(ctx)
}

func (lm *LocationManager[T]) announceOwnership(ctx context.Context) error {
	lm.mu.Lock()
	byOrigin := make(map[int][]id.DistributedId)
	for nodeId := range lm.newLocalNodes {
		byOrigin[nodeId.Rank] = append(byOrigin[nodeId.Rank], nodeId)
	}
	lm.newLocalNodes = make(map[id.DistributedId]struct{})
	lm.mu.Unlock()

	out := make(map[int][]byte)
	for origin, ids := range byOrigin {
		data, err := marshalIds(lm.text, ids)
		if err != nil {
			return err
		}
		out[origin] = data
	}

	replies, err := lm.comm.AllToAll(ctx, out)
	if err != nil {
		return err
	}

	for sender, data := range replies {
		ids, err := unmarshalIds(lm.text, data)
		if err != nil {
			return err
		}
		lm.mu.Lock()
		for _, nodeId := range ids {
			lm.managedNodes[nodeId] = sender
		}
		lm.mu.Unlock()
	}
	return nil
}

func (lm *LocationManager[T]) queryLocations(ctx context.Context) error {
	lm.mu.Lock()
	byOrigin := make(map[int][]id.DistributedId)
	for nodeId := range lm.distantNodes {
		if nodeId.Rank == lm.rank {
			continue
		}
		byOrigin[nodeId.Rank] = append(byOrigin[nodeId.Rank], nodeId)
	}
	lm.mu.Unlock()

	queries := make(map[int][]byte)
	for origin, ids := range byOrigin {
		data, err := marshalIds(lm.text, ids)
		if err != nil {
			return err
		}
		queries[origin] = data
	}

	requests, err := lm.comm.AllToAll(ctx, queries)
	if err != nil {
		return err
	}

	replies := make(map[int][]byte)
	for requester, data := range requests {
		ids, err := unmarshalIds(lm.text, data)
		if err != nil {
			return err
		}
		reply := codec.LocationReplyPack{}
		lm.mu.Lock()
		for _, nodeId := range ids {
			rank, ok := lm.managedNodes[nodeId]
			if !ok {
				rank = nodeId.Rank
			}
			reply.Locations = append(reply.Locations, codec.LocationEntry{Id: codec.ToPack(nodeId), Rank: rank})
		}
		lm.mu.Unlock()
		payload, err := codec.Marshal(lm.text, reply)
		if err != nil {
			return err
		}
		replies[requester] = payload
	}

	answers, err := lm.comm.AllToAll(ctx, replies)
	if err != nil {
		return err
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()
	for _, data := range answers {
		if len(data) == 0 {
			continue
		}
		var reply codec.LocationReplyPack
		if err := codec.Unmarshal(lm.text, data, &reply); err != nil {
			return err
		}
		for _, entry := range reply.Locations {
			nodeId := entry.Id.FromPack()
			if n, ok := lm.distantNodes[nodeId]; ok {
				n.Location = entry.Rank
			}
		}
	}
	return nil
}
