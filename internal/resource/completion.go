package resource

import "sync"

// Completion tracks the fan-out/fan-in bookkeeping for one Request: the
// cumulative rc (first non-zero wins), the terminal-status count, and a
// per-medium status array. A mutex guards status transitions and the
// remaining counter, so the "last writer frees the request" check
// (invariant 2) runs under that same mutex.
//
// Locking discipline mirrors the teacher's functionPool: a plain mutex for
// the rare write path (status transitions), nothing fancier, since unlike
// a warm-VM pool there is no waiter to wake — completion is observed by
// workers polling on their own loop turn (§5).
type Completion struct {
	mu        sync.Mutex
	statuses  []SubStatus
	rc        int32
	remaining int32 // sub-requests not yet terminal
	freed     bool
}

// NewCompletion allocates a completion structure for n sub-requests.
func NewCompletion(n int) *Completion {
	return &Completion{
		statuses:  make([]SubStatus, n),
		remaining: int32(n),
	}
}

// SetStatus transitions sub-request i's status. Returns true if this call
// made the owning request fully terminal (i.e. the caller is the last
// writer and must free the request).
func (c *Completion) SetStatus(i int, status SubStatus, rc int32) (lastWriter bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	wasTerminal := c.statuses[i].Terminal()
	c.statuses[i] = status
	if rc != 0 && c.rc == 0 {
		c.rc = rc
	}
	if !wasTerminal && status.Terminal() {
		c.remaining--
	}
	if c.remaining == 0 && !c.freed {
		c.freed = true
		return true
	}
	return false
}

// Status returns sub-request i's current status.
func (c *Completion) Status(i int) SubStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statuses[i]
}

// RC returns the cumulative (first non-zero wins) return code.
func (c *Completion) RC() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rc
}

// SetRC forces the cumulative rc if unset, used for hard cancellation:
// any worker holding a sibling sub-request observes this on its next loop
// turn and moves its own slot to cancel (§5).
func (c *Completion) SetRC(rc int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rc == 0 {
		c.rc = rc
	}
}

// Ended reports whether every sub-request has reached a terminal status.
func (c *Completion) Ended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining == 0
}

// Len returns the number of sub-requests tracked.
func (c *Completion) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.statuses)
}
