package hard

import (
	"runtime"
	"sync"

	"github.com/fpmas-go/fpmas/internal/codec"
	"github.com/fpmas-go/fpmas/internal/comm"
	"github.com/fpmas-go/fpmas/internal/graph"
	"github.com/fpmas-go/fpmas/internal/id"
	"github.com/fpmas-go/fpmas/internal/location"
)

type mutexRequestWire struct {
	Kind    RequestKind
	NodeId  codec.DistributedIdPack
	Source  int
	Payload []byte
}

type mutexReplyWire struct {
	Kind    RequestKind
	NodeId  codec.DistributedIdPack
	Weight  float64
	Payload []byte
}

type linkOp int

const (
	opLink linkOp = iota + 1
	opUnlink
)

type linkRequestWire struct {
	Op           linkOp
	Edge         codec.EdgePack
	SourceWeight float64
	SourceData   []byte
	TargetWeight float64
	TargetData   []byte
	Source       int
}

// MutexServer answers incoming mutex RPCs for every LOCAL node on this rank,
// lazily creating a HardSyncMutex the first time a node is referenced. It
// also serves this rank's own application code when it accesses a LOCAL
// node, so that a local reader/writer contends through the very same state
// machine a remote requester would.
type MutexServer[T any] struct {
	rank  int
	comm  comm.Communicator
	bg    *graph.BaseGraph[T]
	dc    DataCodec[T]
	wire  codec.Codec
	epoch *EpochState
	color *ColorState

	mu          sync.Mutex
	mutexes     map[id.DistributedId]*hardSyncMutex
	localGrants map[id.DistributedId][]mutexReplyWire
}

func newMutexServer[T any](rank int, c comm.Communicator, bg *graph.BaseGraph[T], dc DataCodec[T], wire codec.Codec, epoch *EpochState, color *ColorState) *MutexServer[T] {
	return &MutexServer[T]{
		rank: rank, comm: c, bg: bg, dc: dc, wire: wire, epoch: epoch, color: color,
		mutexes:     make(map[id.DistributedId]*hardSyncMutex),
		localGrants: make(map[id.DistributedId][]mutexReplyWire),
	}
}

func (s *MutexServer[T]) mutexFor(nodeId id.DistributedId) *hardSyncMutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mutexes[nodeId]
	if !ok {
		m = &hardSyncMutex{}
		s.mutexes[nodeId] = m
	}
	return m
}

// handle applies one already-received mutex request and sends a reply for
// every request it granted, immediate or drained from the wait queue.
func (s *MutexServer[T]) handle(raw []byte) error {
	var req mutexRequestWire
	if err := codec.Unmarshal(s.wire, raw, &req); err != nil {
		return err
	}
	nodeId := req.NodeId.FromPack()
	return s.submit(req.Kind, req.Source, nodeId, req.Payload)
}

// submit drives one request (remote or this rank's own) through the node's
// state machine, applying a RELEASE_ACQUIRE payload and sending every reply
// the submission immediately grants.
func (s *MutexServer[T]) submit(kind RequestKind, source int, nodeId id.DistributedId, payload []byte) error {
	if kind == ReleaseAcquire && len(payload) > 0 {
		if n, ok := s.bg.GetNode(nodeId); ok {
			data, err := s.dc.Decode(payload)
			if err != nil {
				return err
			}
			n.Data = data
		}
	}

	m := s.mutexFor(nodeId)
	out := m.Submit(queuedRequest{kind: kind, source: source, payload: payload})
	if out.replyNow {
		if err := s.reply(queuedRequest{kind: kind, source: source}, nodeId); err != nil {
			return err
		}
	}
	for _, g := range out.granted {
		if err := s.reply(g, nodeId); err != nil {
			return err
		}
	}
	return nil
}

func (s *MutexServer[T]) buildReply(req queuedRequest, nodeId id.DistributedId) (mutexReplyWire, error) {
	rep := mutexReplyWire{Kind: req.kind, NodeId: codec.ToPack(nodeId)}
	if req.kind == Read || req.kind == Acquire {
		if n, ok := s.bg.GetNode(nodeId); ok {
			payload, err := s.dc.Encode(n.Data)
			if err != nil {
				return rep, err
			}
			rep.Payload = payload
			rep.Weight = n.Weight
		}
	}
	return rep, nil
}

// reply delivers a granted request's reply: in-process for this rank's own
// request, over the wire for a remote one.
func (s *MutexServer[T]) reply(req queuedRequest, nodeId id.DistributedId) error {
	rep, err := s.buildReply(req, nodeId)
	if err != nil {
		return err
	}
	if req.source == s.rank {
		s.mu.Lock()
		s.localGrants[nodeId] = append(s.localGrants[nodeId], rep)
		s.mu.Unlock()
		return nil
	}
	data, err := codec.Marshal(s.wire, rep)
	if err != nil {
		return err
	}
	s.color.MarkBlack()
	return s.comm.Send(req.source, tagMutexReply.WithEpoch(s.epoch.Get()), data)
}

func (s *MutexServer[T]) takeLocalGrant(nodeId id.DistributedId) (mutexReplyWire, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	grants := s.localGrants[nodeId]
	if len(grants) == 0 {
		return mutexReplyWire{}, false
	}
	s.localGrants[nodeId] = grants[1:]
	return grants[0], true
}

// localRequest submits a request from this rank's own application code and
// blocks, cooperatively polling the server pack, until it is granted —
// exactly the contention a remote requester would face.
func (s *MutexServer[T]) localRequest(sp *ServerPack[T], kind RequestKind, nodeId id.DistributedId, payload []byte) (mutexReplyWire, error) {
	if err := s.submit(kind, s.rank, nodeId, payload); err != nil {
		return mutexReplyWire{}, err
	}
	if rep, ok := s.takeLocalGrant(nodeId); ok {
		return rep, nil
	}
	for {
		handled, err := sp.PollOnce()
		if err != nil {
			return mutexReplyWire{}, err
		}
		if rep, ok := s.takeLocalGrant(nodeId); ok {
			return rep, nil
		}
		if !handled {
			yield()
		}
	}
}

// LinkServer applies incoming link/unlink notifications targeting a node
// this rank owns or holds a ghost of.
type LinkServer[T any] struct {
	rank  int
	comm  comm.Communicator
	bg    *graph.BaseGraph[T]
	lm    *location.LocationManager[T]
	dc    DataCodec[T]
	wire  codec.Codec
	epoch *EpochState
	color *ColorState
}

func newLinkServer[T any](rank int, c comm.Communicator, bg *graph.BaseGraph[T], lm *location.LocationManager[T], dc DataCodec[T], wire codec.Codec, epoch *EpochState, color *ColorState) *LinkServer[T] {
	return &LinkServer[T]{rank: rank, comm: c, bg: bg, lm: lm, dc: dc, wire: wire, epoch: epoch, color: color}
}

func (s *LinkServer[T]) resolveEndpoint(nodeId id.DistributedId, loc int, weight float64, payload []byte) *graph.Node[T] {
	if n, ok := s.bg.GetNode(nodeId); ok {
		return n
	}
	var data T
	if len(payload) > 0 {
		if v, err := s.dc.Decode(payload); err == nil {
			data = v
		}
	}
	n := graph.NewDistantNode(nodeId, weight, data, loc)
	s.bg.InsertNode(n)
	s.lm.SetDistant(n)
	return n
}

func (s *LinkServer[T]) handle(raw []byte) error {
	var req linkRequestWire
	if err := codec.Unmarshal(s.wire, raw, &req); err != nil {
		return err
	}
	edgeId := req.Edge.Id.FromPack()
	switch req.Op {
	case opLink:
		if _, exists := s.bg.GetEdge(edgeId); !exists {
			source := s.resolveEndpoint(req.Edge.SourceId.FromPack(), req.Edge.SourceLocation, req.SourceWeight, req.SourceData)
			target := s.resolveEndpoint(req.Edge.TargetId.FromPack(), req.Edge.TargetLocation, req.TargetWeight, req.TargetData)
			s.bg.InsertEdge(&graph.Edge[T]{
				Id: edgeId, Layer: req.Edge.Layer, Weight: req.Edge.Weight,
				Source: source, Target: target, State: graph.Distant,
			})
		}
	case opUnlink:
		if e, ok := s.bg.GetEdge(edgeId); ok {
			s.bg.EraseEdge(e)
		}
	}
	data, err := codec.Marshal(s.wire, struct{}{})
	if err != nil {
		return err
	}
	s.color.MarkBlack()
	return s.comm.Send(req.Source, tagLinkReply.WithEpoch(s.epoch.Get()), data)
}

// ServerPack multiplexes the mutex and link servers behind one cooperative
// poll entry point, per spec §4.8: a client blocked waiting on its own RPC
// reply pumps PollOnce so this rank never stalls a remote requester.
type ServerPack[T any] struct {
	comm        comm.Communicator
	epoch       *EpochState
	mutexServer *MutexServer[T]
	linkServer  *LinkServer[T]
}

func newServerPack[T any](c comm.Communicator, epoch *EpochState, ms *MutexServer[T], ls *LinkServer[T]) *ServerPack[T] {
	return &ServerPack[T]{comm: c, epoch: epoch, mutexServer: ms, linkServer: ls}
}

// PollOnce services at most one pending inbound mutex or link request for
// the current epoch, returning false if there was nothing to do.
func (sp *ServerPack[T]) PollOnce() (bool, error) {
	epoch := sp.epoch.Get()
	if _, ok, err := sp.comm.IProbe(comm.AnySource, tagMutexRequest.WithEpoch(epoch)); err != nil {
		return false, err
	} else if ok {
		data, _, err := sp.comm.Recv(comm.AnySource, tagMutexRequest.WithEpoch(epoch))
		if err != nil {
			return false, err
		}
		return true, sp.mutexServer.handle(data)
	}
	if _, ok, err := sp.comm.IProbe(comm.AnySource, tagLinkRequest.WithEpoch(epoch)); err != nil {
		return false, err
	} else if ok {
		data, _, err := sp.comm.Recv(comm.AnySource, tagLinkRequest.WithEpoch(epoch))
		if err != nil {
			return false, err
		}
		return true, sp.linkServer.handle(data)
	}
	return false, nil
}

// yield gives other goroutines (other simulated ranks) a chance to run
// between cooperative poll attempts that find nothing to do.
func yield() {
	runtime.Gosched()
}
