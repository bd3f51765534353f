package hard

// queuedRequest is a request waiting on a HardSyncMutex because the node is
// currently busy; it carries enough information for the server to build and
// address the eventual reply.
type queuedRequest struct {
	kind    RequestKind
	source  int
	payload []byte
}

// hardSyncMutex is the per-node state machine of spec §4.8: idle, shared (a
// reader count) or locked (one exclusive holder), with a FIFO wait queue
// that admits queued readers ahead of a queued writer but stops at the
// first admitted writer, giving it bounded fairness against new readers.
type hardSyncMutex struct {
	locked      bool
	sharedCount int
	queue       []queuedRequest
}

// outcome describes what a Submit or drain pass produced: replyNow is set
// when the submitting request itself was granted immediately; granted holds
// any previously queued requests newly admitted by this call (e.g. by a
// release unblocking queued readers and/or one writer).
type outcome struct {
	replyNow bool
	granted  []queuedRequest
}

// Submit applies an incoming request to the state machine. READ, LOCK_SHARED
// and ACQUIRE/LOCK are granted immediately when the mutex permits, else
// queued. UNLOCK_SHARED, RELEASE_ACQUIRE and UNLOCK always apply immediately
// and then drain the queue.
func (m *hardSyncMutex) Submit(req queuedRequest) outcome {
	switch req.kind {
	case Read, LockShared:
		if !m.locked {
			m.sharedCount++
			return outcome{replyNow: true}
		}
		m.queue = append(m.queue, req)
		return outcome{}
	case Acquire, Lock:
		if !m.locked && m.sharedCount == 0 {
			m.locked = true
			return outcome{replyNow: true}
		}
		m.queue = append(m.queue, req)
		return outcome{}
	case UnlockShared:
		if m.sharedCount > 0 {
			m.sharedCount--
		}
		var granted []queuedRequest
		if m.sharedCount == 0 {
			granted = m.drain()
		}
		return outcome{replyNow: true, granted: granted}
	case ReleaseAcquire, Unlock:
		m.locked = false
		return outcome{replyNow: true, granted: m.drain()}
	default:
		return outcome{}
	}
}

// drain admits queued readers (READ, LOCK_SHARED) until it reaches a queued
// writer (ACQUIRE, LOCK), admits that single writer, and stops — leaving any
// requests queued behind it for the next release.
func (m *hardSyncMutex) drain() []queuedRequest {
	var granted []queuedRequest
	for len(m.queue) > 0 {
		req := m.queue[0]
		switch req.kind {
		case Read, LockShared:
			if m.locked {
				return granted
			}
			m.queue = m.queue[1:]
			m.sharedCount++
			granted = append(granted, req)
		case Acquire, Lock:
			if m.locked || m.sharedCount > 0 {
				return granted
			}
			m.queue = m.queue[1:]
			m.locked = true
			granted = append(granted, req)
			return granted
		default:
			m.queue = m.queue[1:]
		}
	}
	return granted
}
