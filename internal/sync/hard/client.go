package hard

import (
	"context"
	"time"

	"github.com/fpmas-go/fpmas/internal/codec"
	"github.com/fpmas-go/fpmas/internal/comm"
	"github.com/fpmas-go/fpmas/internal/graph"
	"github.com/fpmas-go/fpmas/internal/id"
	"github.com/fpmas-go/fpmas/internal/metrics"
)

// MutexClient issues synchronous mutex RPCs to a node's owner, or drives the
// same state machine in-process when this rank is the owner. While awaiting
// a remote reply it pumps its own ServerPack so this rank keeps answering
// other ranks' requests — the deadlock avoidance spec §4.8 requires.
type MutexClient[T any] struct {
	rank        int
	comm        comm.Communicator
	wire        codec.Codec
	epoch       *EpochState
	color       *ColorState
	serverPack  *ServerPack[T]
	mutexServer *MutexServer[T]
	metrics     *metrics.Collector
}

func newMutexClient[T any](rank int, c comm.Communicator, wire codec.Codec, epoch *EpochState, color *ColorState, sp *ServerPack[T], ms *MutexServer[T]) *MutexClient[T] {
	return &MutexClient[T]{rank: rank, comm: c, wire: wire, epoch: epoch, color: color, serverPack: sp, mutexServer: ms}
}

func (c *MutexClient[T]) request(owner int, kind RequestKind, nodeId id.DistributedId, payload []byte) (mutexReplyWire, error) {
	if c.metrics != nil {
		start := time.Now()
		defer func() { c.metrics.RecordRPC(kind.String(), time.Since(start)) }()
	}

	if owner == c.rank {
		return c.mutexServer.localRequest(c.serverPack, kind, nodeId, payload)
	}

	epoch := c.epoch.Get()
	req := mutexRequestWire{Kind: kind, NodeId: codec.ToPack(nodeId), Source: c.rank, Payload: payload}
	data, err := codec.Marshal(c.wire, req)
	if err != nil {
		return mutexReplyWire{}, err
	}
	c.color.MarkBlack()
	if err := c.comm.Send(owner, tagMutexRequest.WithEpoch(epoch), data); err != nil {
		return mutexReplyWire{}, err
	}

	for {
		if _, ok, err := c.comm.IProbe(owner, tagMutexReply.WithEpoch(epoch)); err != nil {
			return mutexReplyWire{}, err
		} else if ok {
			raw, _, err := c.comm.Recv(owner, tagMutexReply.WithEpoch(epoch))
			if err != nil {
				return mutexReplyWire{}, err
			}
			var rep mutexReplyWire
			if err := codec.Unmarshal(c.wire, raw, &rep); err != nil {
				return mutexReplyWire{}, err
			}
			return rep, nil
		}
		handled, err := c.serverPack.PollOnce()
		if err != nil {
			return mutexReplyWire{}, err
		}
		if !handled {
			yield()
		}
	}
}

// mutex implements sync.Mutex[T] for a single DISTANT or LOCAL node, routing
// every access through the owner's hardSyncMutex state machine.
type mutex[T any] struct {
	node   *graph.Node[T]
	client *MutexClient[T]
	dc     DataCodec[T]
}

func (m *mutex[T]) owner() int { return m.node.Location }

func (m *mutex[T]) Read(ctx context.Context) (T, error) {
	rep, err := m.client.request(m.owner(), Read, m.node.Id, nil)
	if err != nil {
		var zero T
		return zero, err
	}
	data, err := m.dc.Decode(rep.Payload)
	if err != nil {
		return data, err
	}
	if _, err := m.client.request(m.owner(), UnlockShared, m.node.Id, nil); err != nil {
		return data, err
	}
	return data, nil
}

func (m *mutex[T]) Acquire(ctx context.Context) (T, error) {
	rep, err := m.client.request(m.owner(), Acquire, m.node.Id, nil)
	if err != nil {
		var zero T
		return zero, err
	}
	return m.dc.Decode(rep.Payload)
}

func (m *mutex[T]) ReleaseAcquire(ctx context.Context, data T) error {
	payload, err := m.dc.Encode(data)
	if err != nil {
		return err
	}
	_, err = m.client.request(m.owner(), ReleaseAcquire, m.node.Id, payload)
	return err
}

func (m *mutex[T]) LockShared(ctx context.Context) error {
	_, err := m.client.request(m.owner(), LockShared, m.node.Id, nil)
	return err
}

func (m *mutex[T]) UnlockShared(ctx context.Context) error {
	_, err := m.client.request(m.owner(), UnlockShared, m.node.Id, nil)
	return err
}

func (m *mutex[T]) Lock(ctx context.Context) error {
	_, err := m.client.request(m.owner(), Lock, m.node.Id, nil)
	return err
}

func (m *mutex[T]) Unlock(ctx context.Context) error {
	_, err := m.client.request(m.owner(), Unlock, m.node.Id, nil)
	return err
}

// LinkClient notifies a remote rank of a link or unlink, or applies it
// in-process when this rank is the destination.
type LinkClient[T any] struct {
	rank       int
	comm       comm.Communicator
	wire       codec.Codec
	epoch      *EpochState
	color      *ColorState
	serverPack *ServerPack[T]
	linkServer *LinkServer[T]
}

func newLinkClient[T any](rank int, c comm.Communicator, wire codec.Codec, epoch *EpochState, color *ColorState, sp *ServerPack[T], ls *LinkServer[T]) *LinkClient[T] {
	return &LinkClient[T]{rank: rank, comm: c, wire: wire, epoch: epoch, color: color, serverPack: sp, linkServer: ls}
}

func (lc *LinkClient[T]) notify(dest int, op linkOp, e *graph.Edge[T], dc DataCodec[T]) error {
	req := linkRequestWire{
		Op: op,
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
		Source:       lc.rank,
	}
	if op == opLink {
		var err error
		req.SourceData, err = dc.Encode(e.Source.Data)
		if err != nil {
			return err
		}
		req.TargetData, err = dc.Encode(e.Target.Data)
		if err != nil {
			return err
		}
	}

	if dest == lc.rank {
		data, err := codec.Marshal(lc.wire, req)
		if err != nil {
			return err
		}
		return lc.linkServer.handle(data)
	}

	epoch := lc.epoch.Get()
	data, err := codec.Marshal(lc.wire, req)
	if err != nil {
		return err
	}
	lc.color.MarkBlack()
	if err := lc.comm.Send(dest, tagLinkRequest.WithEpoch(epoch), data); err != nil {
		return err
	}
	for {
		if _, ok, err := lc.comm.IProbe(dest, tagLinkReply.WithEpoch(epoch)); err != nil {
			return err
		} else if ok {
			_, _, err := lc.comm.Recv(dest, tagLinkReply.WithEpoch(epoch))
			return err
		}
		handled, err := lc.serverPack.PollOnce()
		if err != nil {
			return err
		}
		if !handled {
			yield()
		}
	}
}
