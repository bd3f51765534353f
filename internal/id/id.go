// Package id provides the globally unique node/edge identifier used
// throughout the distributed graph: a pair of the minting rank and a
// per-rank monotonic sequence number.
package id

import (
	"fmt"
	"sync/atomic"
)

// DistributedId is a globally unique identifier. It is unique across all
// ranks because each rank only ever mints sequence numbers for its own
// Rank value.
type DistributedId struct {
	Rank int
	Seq  uint64
}

// String renders the id as "rank:seq", used as a map key string and in logs.
func (id DistributedId) String() string {
	return fmt.Sprintf("%d:%d", id.Rank, id.Seq)
}

// Less provides a total order over ids, used where deterministic iteration
// matters (e.g. stable export ordering during migration).
func (id DistributedId) Less(other DistributedId) bool {
	if id.Rank != other.Rank {
		return id.Rank < other.Rank
	}
	return id.Seq < other.Seq
}

// Minter mints monotonically increasing ids for a single rank. Safe for
// concurrent use, though a process is expected to be single-threaded per
// the cooperative scheduling model.
type Minter struct {
	rank int
	next uint64
}

// NewMinter creates a Minter for the given rank starting sequence numbers at 0.
func NewMinter(rank int) *Minter {
	return &Minter{rank: rank}
}

// Next returns the next DistributedId for this rank.
func (m *Minter) Next() DistributedId {
	seq := atomic.AddUint64(&m.next, 1) - 1
	return DistributedId{Rank: m.rank, Seq: seq}
}

// Current returns the next sequence number that will be minted, used by
// graph builders that need deterministic id allocation across a known
// number of buildNode calls.
func (m *Minter) Current() uint64 {
	return atomic.LoadUint64(&m.next)
}

// SetCurrent resets the next sequence number to mint, used to replay a
// deterministic allocation (e.g. a graph builder pre-computing ids before
// any node exists).
func (m *Minter) SetCurrent(seq uint64) {
	atomic.StoreUint64(&m.next, seq)
}
