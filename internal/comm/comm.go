// Package comm defines the communication substrate every rank's graph,
// location manager, sync mode and migration protocol is layered on: typed
// point-to-point send/receive, non-blocking probe/test/wait, and the
// collectives (all_to_all, gather, all_gather, broadcast, barrier,
// all_reduce) built on top of them.
package comm

import (
	"context"
	"fmt"

	"github.com/fpmas-go/fpmas/pkg/errors"
)

// Epoch is the two-valued round tag carried in the upper bits of every
// message tag so that a message from a previous synchronization round
// cannot be confused with a later one.
type Epoch int

const (
	EpochEven Epoch = iota
	EpochOdd
)

// Toggle returns the other epoch value.
func (e Epoch) Toggle() Epoch {
	if e == EpochEven {
		return EpochOdd
	}
	return EpochEven
}

func (e Epoch) String() string {
	if e == EpochEven {
		return "EVEN"
	}
	return "ODD"
}

// Tag identifies the kind of a message. The epoch is folded into the high
// bit so that pairwise FIFO delivery never lets a stale round's message be
// mistaken for the current round's.
type Tag uint32

const epochBit Tag = 1 << 31

// WithEpoch returns kind tagged with the given epoch.
func (kind Tag) WithEpoch(e Epoch) Tag {
	if e == EpochOdd {
		return kind | epochBit
	}
	return kind &^ epochBit
}

// Kind strips the epoch bit, returning the bare request kind.
func (t Tag) Kind() Tag { return t &^ epochBit }

// Epoch extracts the epoch carried by t.
func (t Tag) Epoch() Epoch {
	if t&epochBit != 0 {
		return EpochOdd
	}
	return EpochEven
}

// Reserved control tags used internally by the collectives. Request kinds
// used by application-level point-to-point RPC (hard-sync mutex/link
// traffic) are small integers defined by their own packages and never
// collide with this range.
const (
	controlTagBase      Tag = 1 << 20
	tagAllGather        Tag = controlTagBase + 1
	tagAllToAllPresence Tag = controlTagBase + 2
	tagAllToAllData     Tag = controlTagBase + 3
	tagGather           Tag = controlTagBase + 4
	tagBroadcast        Tag = controlTagBase + 5
	tagBarrierJoin      Tag = controlTagBase + 6
	tagBarrierRelease   Tag = controlTagBase + 7
)

// AnySource matches a receive against any sending rank.
const AnySource = -1

// ProbeInfo describes a message available to be received without consuming
// it.
type ProbeInfo struct {
	Source int
	Tag    Tag
	Bytes  int
}

// PendingSend tracks a non-blocking send until it is waited on. Sync-mode
// servers keep a list of these and drain them with WaitAll at every
// barrier, per spec §4.1 and §9.
type PendingSend struct {
	done chan struct{}
	err  error
}

func newPendingSend() *PendingSend {
	return &PendingSend{done: make(chan struct{})}
}

func (p *PendingSend) complete(err error) {
	p.err = err
	close(p.done)
}

// Test reports whether the send has completed without blocking.
func (p *PendingSend) Test() (bool, error) {
	select {
	case <-p.done:
		return true, p.err
	default:
		return false, nil
	}
}

// Wait blocks until the send completes.
func (p *PendingSend) Wait() error {
	<-p.done
	return p.err
}

// Communicator is the substrate every rank-local collaborator (location
// manager, sync modes, migration) is layered on top of. LocalCommunicator is
// the one concrete implementation in this module; a real deployment would
// satisfy the same interface over sockets or an MPI binding.
type Communicator interface {
	Rank() int
	Size() int

	// Send blocks until the message is delivered to the destination's
	// mailbox (not until the destination calls Recv).
	Send(dest int, tag Tag, data []byte) error

	// ISend enqueues a non-blocking send and returns a handle the caller
	// must eventually Wait on (directly, or via WaitAll at a barrier).
	ISend(dest int, tag Tag, data []byte) (*PendingSend, error)

	// Recv blocks until a message matching (source, tag) is available,
	// then consumes and returns it. source may be AnySource.
	Recv(source int, tag Tag) ([]byte, int, error)

	// Probe blocks until a message matching (source, tag) is available
	// without consuming it.
	Probe(source int, tag Tag) (ProbeInfo, error)

	// IProbe is the non-blocking form of Probe.
	IProbe(source int, tag Tag) (ProbeInfo, bool, error)

	// WaitAll drains every outstanding non-blocking send issued by this
	// rank, per spec §4.1 ("non-blocking sends must be drained before the
	// next barrier").
	WaitAll() error

	// AllToAll exchanges a sparse map[dest]bytes for a symmetric
	// map[source]bytes: every rank receives an entry from every rank that
	// sent it one, and only those.
	AllToAll(ctx context.Context, data map[int][]byte) (map[int][]byte, error)

	// Gather collects every rank's data at root, in rank order. Non-root
	// callers receive a nil slice.
	Gather(ctx context.Context, root int, data []byte) ([][]byte, error)

	// AllGather is Gather followed by a Broadcast of the result to every
	// rank.
	AllGather(ctx context.Context, data []byte) ([][]byte, error)

	// Broadcast sends root's data to every rank, root included.
	Broadcast(ctx context.Context, root int, data []byte) ([]byte, error)

	// Barrier blocks every rank until all ranks have called Barrier.
	Barrier(ctx context.Context) error

	// AllReduce gathers every rank's data at rank 0, folds it with fold in
	// rank order, then broadcasts the result, per spec §4.1 ("layered on
	// gather + local fold").
	AllReduce(ctx context.Context, data []byte, fold func(acc, next []byte) []byte) ([]byte, error)
}

func abortf(op, format string, args ...interface{}) error {
	return errors.NewError(errors.ErrCodeCommunicationAbort, fmt.Sprintf(format, args...)).
		WithComponent("comm").WithOperation(op)
}
