// Package hard implements spec §4.8: strong, per-access consistency.
// Every read, write, lock and link/unlink operation on a DISTANT node is a
// synchronous RPC to the node's owner, guarded by a per-node HardSyncMutex
// and drained at each synchronize() by a Dijkstra-Scholten-style four-color
// termination algorithm.
package hard

import (
	"sync"

	"github.com/fpmas-go/fpmas/internal/comm"
)

// RequestKind enumerates the per-node request kinds spec §4.8 names.
type RequestKind int

const (
	Read RequestKind = iota + 1
	LockShared
	UnlockShared
	Acquire
	ReleaseAcquire
	Lock
	Unlock
)

func (k RequestKind) String() string {
	switch k {
	case Read:
		return "READ"
	case LockShared:
		return "LOCK_SHARED"
	case UnlockShared:
		return "UNLOCK_SHARED"
	case Acquire:
		return "ACQUIRE"
	case ReleaseAcquire:
		return "RELEASE_ACQUIRE"
	case Lock:
		return "LOCK"
	case Unlock:
		return "UNLOCK"
	default:
		return "UNKNOWN"
	}
}

// Color is a process's Dijkstra-Scholten termination color: BLACK means it
// has sent an RPC since its color was last reset to WHITE.
type Color int

const (
	White Color = iota
	Black
)

// ColorState is the shared, mutex-guarded color of this rank's hard-sync
// activity. Every outbound mutex/link RPC (request or reply) flips it to
// Black; a termination round resets it to White once forwarded.
type ColorState struct {
	mu    sync.Mutex
	color Color
}

// MarkBlack flips the color to Black; called by every outbound RPC send.
func (c *ColorState) MarkBlack() {
	c.mu.Lock()
	c.color = Black
	c.mu.Unlock()
}

// Reset returns the color to White, matching a token forward.
func (c *ColorState) Reset() {
	c.mu.Lock()
	c.color = White
	c.mu.Unlock()
}

// Get returns the current color.
func (c *ColorState) Get() Color {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.color
}

// EpochState is the per-server Epoch tag of spec §3: toggled by the
// termination algorithm's END broadcast, carried in the upper bit of every
// RPC tag this rank sends.
type EpochState struct {
	mu    sync.Mutex
	epoch comm.Epoch
}

// Get returns the current epoch.
func (e *EpochState) Get() comm.Epoch {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.epoch
}

// Toggle flips the epoch.
func (e *EpochState) Toggle() {
	e.mu.Lock()
	e.epoch = e.epoch.Toggle()
	e.mu.Unlock()
}

const (
	tagMutexRequest comm.Tag = 20
	tagMutexReply   comm.Tag = 21
	tagLinkRequest  comm.Tag = 22
	tagLinkReply    comm.Tag = 23
	tagToken        comm.Tag = 24
	tagTokenEnd     comm.Tag = 25
)

// DataCodec packages the application payload's encode/decode pair, mirroring
// ghost.DataCodec (duplicated rather than shared since the two modes'
// collaborators otherwise have no reason to depend on each other).
type DataCodec[T any] struct {
	Encode func(T) ([]byte, error)
	Decode func([]byte) (T, error)
}
