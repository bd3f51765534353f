package comm

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

type message struct {
	tag  Tag
	data []byte
}

// World is the shared in-process transport backing every rank's
// LocalCommunicator: N goroutines (one per rank) exchanging messages through
// per-(source,destination) FIFO mailboxes, which gives the pairwise FIFO
// ordering per (source, destination, tag) spec §4.1 requires (a single FIFO
// queue per ordered pair is strictly stronger than per-tag FIFO, so it
// satisfies it).
type World struct {
	size int

	mu      sync.Mutex
	cond    *sync.Cond
	inboxes []map[int][]message // inboxes[dst][src] = FIFO queue

	barrierMu    sync.Mutex
	barrierCond  *sync.Cond
	barrierCount int
	barrierGen   int
}

// NewWorld creates a World emulating size ranks.
func NewWorld(size int) *World {
	w := &World{
		size:    size,
		inboxes: make([]map[int][]message, size),
	}
	for i := range w.inboxes {
		w.inboxes[i] = make(map[int][]message)
	}
	w.cond = sync.NewCond(&w.mu)
	w.barrierCond = sync.NewCond(&w.barrierMu)
	return w
}

// Rank returns a LocalCommunicator bound to the given rank of this World.
func (w *World) Rank(rank int) *LocalCommunicator {
	return &LocalCommunicator{world: w, rank: rank}
}

// LocalCommunicator is the Communicator implementation backing the test
// suite and the demo CLI: an in-process, channel-free (mutex+cond guarded)
// transport over a shared World.
type LocalCommunicator struct {
	world *World
	rank  int

	muPending sync.Mutex
	pending   []*PendingSend
}

var _ Communicator = (*LocalCommunicator)(nil)

// Rank returns this communicator's rank.
func (c *LocalCommunicator) Rank() int { return c.rank }

// Size returns the world size.
func (c *LocalCommunicator) Size() int { return c.world.size }

func (c *LocalCommunicator) enqueue(dest int, tag Tag, data []byte) {
	w := c.world
	w.mu.Lock()
	w.inboxes[dest][c.rank] = append(w.inboxes[dest][c.rank], message{tag: tag, data: data})
	w.mu.Unlock()
	w.cond.Broadcast()
}

// Send delivers data to dest's mailbox. Local delivery is an in-memory
// append, so it never blocks on the destination's schedule.
func (c *LocalCommunicator) Send(dest int, tag Tag, data []byte) error {
	if dest < 0 || dest >= c.world.size {
		return abortf("Send", "destination rank %d out of range", dest)
	}
	c.enqueue(dest, tag, data)
	return nil
}

// ISend is functionally identical to Send here (local delivery cannot
// block), but returns a PendingSend so callers and WaitAll track it exactly
// as spec §9 describes for a real transport.
func (c *LocalCommunicator) ISend(dest int, tag Tag, data []byte) (*PendingSend, error) {
	if dest < 0 || dest >= c.world.size {
		return nil, abortf("ISend", "destination rank %d out of range", dest)
	}
	p := newPendingSend()
	c.enqueue(dest, tag, data)
	p.complete(nil)
	c.muPending.Lock()
	c.pending = append(c.pending, p)
	c.muPending.Unlock()
	return p, nil
}

// WaitAll waits on every outstanding send issued by this rank and clears
// the pending list.
func (c *LocalCommunicator) WaitAll() error {
	c.muPending.Lock()
	pending := c.pending
	c.pending = nil
	c.muPending.Unlock()

	for _, p := range pending {
		if err := p.Wait(); err != nil {
			return err
		}
	}
	return nil
}

func (c *LocalCommunicator) match(source int, tag Tag) (int, int) {
	w := c.world
	inbox := w.inboxes[c.rank]
	if source != AnySource {
		for i, m := range inbox[source] {
			if m.tag == tag {
				return source, i
			}
		}
		return -1, -1
	}
	for src, q := range inbox {
		for i, m := range q {
			if m.tag == tag {
				return src, i
			}
		}
	}
	return -1, -1
}

// Recv blocks until a message matching (source, tag) arrives, then removes
// and returns it.
func (c *LocalCommunicator) Recv(source int, tag Tag) ([]byte, int, error) {
	w := c.world
	w.mu.Lock()
	defer w.mu.Unlock()
	for {
		src, idx := c.match(source, tag)
		if idx >= 0 {
			q := w.inboxes[c.rank][src]
			m := q[idx]
			w.inboxes[c.rank][src] = append(q[:idx], q[idx+1:]...)
			return m.data, src, nil
		}
		w.cond.Wait()
	}
}

// Probe blocks until a message matching (source, tag) is available without
// consuming it.
func (c *LocalCommunicator) Probe(source int, tag Tag) (ProbeInfo, error) {
	w := c.world
	w.mu.Lock()
	defer w.mu.Unlock()
	for {
		src, idx := c.match(source, tag)
		if idx >= 0 {
			m := w.inboxes[c.rank][src][idx]
			return ProbeInfo{Source: src, Tag: m.tag, Bytes: len(m.data)}, nil
		}
		w.cond.Wait()
	}
}

// IProbe is the non-blocking form of Probe.
func (c *LocalCommunicator) IProbe(source int, tag Tag) (ProbeInfo, bool, error) {
	w := c.world
	w.mu.Lock()
	defer w.mu.Unlock()
	src, idx := c.match(source, tag)
	if idx < 0 {
		return ProbeInfo{}, false, nil
	}
	m := w.inboxes[c.rank][src][idx]
	return ProbeInfo{Source: src, Tag: m.tag, Bytes: len(m.data)}, true, nil
}

// recvEach receives one message tagged tag from each rank in [0, size),
// fanning the blocking Recv calls out across an errgroup so a collective's
// receive side isn't serialized behind whichever sender happens to be
// scheduled last. Failures are aggregated with multierr so a collective
// touching several peers never hides all but the first cause.
func (c *LocalCommunicator) recvEach(size int, tag Tag) ([][]byte, error) {
	out := make([][]byte, size)
	var g errgroup.Group
	var mu sync.Mutex
	var errs error
	for r := 0; r < size; r++ {
		r := r
		g.Go(func() error {
			d, _, err := c.Recv(r, tag)
			if err != nil {
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("recv from rank %d: %w", r, err))
				mu.Unlock()
				return nil
			}
			out[r] = d
			return nil
		})
	}
	_ = g.Wait()
	if errs != nil {
		return nil, errs
	}
	return out, nil
}

// AllGather sends this rank's data to every rank (including itself) and
// assembles the full ordered result.
func (c *LocalCommunicator) AllGather(ctx context.Context, data []byte) ([][]byte, error) {
	size := c.world.size
	sends := make([]*PendingSend, 0, size)
	for r := 0; r < size; r++ {
		p, err := c.ISend(r, tagAllGather, data)
		if err != nil {
			return nil, err
		}
		sends = append(sends, p)
	}
	for _, p := range sends {
		if err := p.Wait(); err != nil {
			return nil, err
		}
	}

	return c.recvEach(size, tagAllGather)
}

// AllToAll exchanges a sparse map[dest]bytes for a symmetric map[source]bytes.
// It first all-gathers a presence vector so every rank knows exactly which
// peers will send it data, then exchanges only those payloads — the
// analogue of an Alltoallv count exchange followed by the data exchange.
func (c *LocalCommunicator) AllToAll(ctx context.Context, data map[int][]byte) (map[int][]byte, error) {
	size := c.world.size
	presence := make([]byte, size)
	for dest := range data {
		if dest < 0 || dest >= size {
			return nil, abortf("AllToAll", "destination rank %d out of range", dest)
		}
		presence[dest] = 1
	}

	allPresence, err := c.allGatherTagged(ctx, presence, tagAllToAllPresence)
	if err != nil {
		return nil, err
	}

	var sends []*PendingSend
	for dest, payload := range data {
		p, err := c.ISend(dest, tagAllToAllData, payload)
		if err != nil {
			return nil, err
		}
		sends = append(sends, p)
	}

	var senders []int
	for src := 0; src < size; src++ {
		if src < len(allPresence) && len(allPresence[src]) > c.rank && allPresence[src][c.rank] == 1 {
			senders = append(senders, src)
		}
	}

	var g errgroup.Group
	var mu sync.Mutex
	out := make(map[int][]byte, len(senders))
	var errs error
	for _, src := range senders {
		src := src
		g.Go(func() error {
			payload, _, err := c.Recv(src, tagAllToAllData)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("recv from rank %d: %w", src, err))
				return nil
			}
			out[src] = payload
			return nil
		})
	}
	_ = g.Wait()
	if errs != nil {
		return nil, errs
	}

	for _, p := range sends {
		if err := p.Wait(); err != nil {
			return nil, err
		}
	}

	return out, nil
}

// allGatherTagged is AllGather parameterized on the control tag, used so
// AllToAll's presence exchange cannot be confused with an application-level
// AllGather call happening to overlap (the cooperative single-threaded model
// means they never truly run concurrently, but distinct tags keep the
// mailboxes correctly separated even so).
func (c *LocalCommunicator) allGatherTagged(ctx context.Context, data []byte, tag Tag) ([][]byte, error) {
	size := c.world.size
	sends := make([]*PendingSend, 0, size)
	for r := 0; r < size; r++ {
		p, err := c.ISend(r, tag, data)
		if err != nil {
			return nil, err
		}
		sends = append(sends, p)
	}
	for _, p := range sends {
		if err := p.Wait(); err != nil {
			return nil, err
		}
	}
	return c.recvEach(size, tag)
}

// Gather collects every rank's data at root, in rank order.
func (c *LocalCommunicator) Gather(ctx context.Context, root int, data []byte) ([][]byte, error) {
	p, err := c.ISend(root, tagGather, data)
	if err != nil {
		return nil, err
	}
	defer func() { _ = p.Wait() }()

	if c.rank != root {
		return nil, nil
	}
	return c.recvEach(c.world.size, tagGather)
}

// Broadcast sends root's data to every rank, root included.
func (c *LocalCommunicator) Broadcast(ctx context.Context, root int, data []byte) ([]byte, error) {
	if c.rank == root {
		size := c.world.size
		sends := make([]*PendingSend, 0, size)
		for r := 0; r < size; r++ {
			p, err := c.ISend(r, tagBroadcast, data)
			if err != nil {
				return nil, err
			}
			sends = append(sends, p)
		}
		for _, p := range sends {
			if err := p.Wait(); err != nil {
				return nil, err
			}
		}
		return data, nil
	}
	d, _, err := c.Recv(root, tagBroadcast)
	return d, err
}

// Barrier blocks every rank until all ranks have called Barrier: a
// centralized rendezvous at rank 0, gather-then-release.
func (c *LocalCommunicator) Barrier(ctx context.Context) error {
	if _, err := c.Gather(ctx, 0, []byte{1}); err != nil {
		return err
	}
	_, err := c.Broadcast(ctx, 0, []byte{1})
	return err
}

// AllReduce gathers every rank's data at rank 0, folds it there in rank
// order, and broadcasts the result — spec §4.1's "layered on gather + local
// fold".
func (c *LocalCommunicator) AllReduce(ctx context.Context, data []byte, fold func(acc, next []byte) []byte) ([]byte, error) {
	gathered, err := c.Gather(ctx, 0, data)
	if err != nil {
		return nil, err
	}

	var result []byte
	if c.rank == 0 {
		result = gathered[0]
		for i := 1; i < len(gathered); i++ {
			result = fold(result, gathered[i])
		}
	}
	return c.Broadcast(ctx, 0, result)
}
