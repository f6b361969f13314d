package binheap

import (
	"time"

	"github.com/benbjohnson/clock"
)

// A TimeoutQueue schedules callbacks to run after a delay. It has no
// goroutine of its own: the owner calls NextTimeout to learn how long it may
// sleep and Process to run expired callbacks. Not safe for concurrent use.
type TimeoutQueue struct {
	clock clock.Clock
	heap  *Heap[timeoutRecord]
}

type timeoutRecord struct {
	expiration time.Time
	callback   func()
}

// NewTimeoutQueue returns an empty queue reading time from c.
func NewTimeoutQueue(c clock.Clock) *TimeoutQueue {
	return &TimeoutQueue{
		clock: c,
		heap: New(func(a, b timeoutRecord) bool {
			return a.expiration.Before(b.expiration)
		}),
	}
}

func (tq *TimeoutQueue) Empty() bool { return tq.heap.Empty() }

// NextTimeout returns the time until the next timeout expires, or 0 if a
// timeout has already expired. Only call on a non-empty queue.
func (tq *TimeoutQueue) NextTimeout() time.Duration {
	if tq.heap.Empty() {
		panic("binheap: NextTimeout on empty TimeoutQueue")
	}
	d := tq.heap.Top().Value.expiration.Sub(tq.clock.Now())
	if d < 0 {
		return 0
	}
	return d
}

// Process runs the callbacks of all expired timeouts. A callback may set new
// timeouts, including on its own handle.
func (tq *TimeoutQueue) Process() {
	if tq.heap.Empty() {
		return
	}
	now := tq.clock.Now()
	for !tq.heap.Empty() && tq.heap.Top().Value.expiration.Before(now) {
		node := tq.heap.Top()
		// Move the callback out so it can reschedule itself.
		callback := node.Value.callback
		node.Value.callback = nil
		tq.heap.Remove(node)
		callback()
	}
}

// A TimeoutHandle tracks at most one pending callback on a TimeoutQueue.
// Clearing the handle guarantees the callback will not run afterward. A
// handle that is dropped without Clear stays queued, and its callback still
// runs when due.
type TimeoutHandle struct {
	tq   *TimeoutQueue
	node Node[timeoutRecord]
}

// NewTimeoutHandle returns an inactive handle bound to tq.
func NewTimeoutHandle(tq *TimeoutQueue) *TimeoutHandle {
	return &TimeoutHandle{tq: tq}
}

// Active reports whether a timeout is pending.
func (th *TimeoutHandle) Active() bool { return th.node.InHeap() }

// Clear cancels the pending timeout, if any.
func (th *TimeoutHandle) Clear() {
	if th.node.InHeap() {
		th.tq.heap.Remove(&th.node)
		th.node.Value.callback = nil
	}
}

// Set arms the handle to run callback after delay, cancelling any previous
// timeout on this handle.
func (th *TimeoutHandle) Set(delay time.Duration, callback func()) {
	if callback == nil {
		panic("binheap: Set with nil callback")
	}
	th.Clear()
	th.node.Value.expiration = th.tq.clock.Now().Add(delay)
	th.node.Value.callback = callback
	th.tq.heap.Insert(&th.node)
}
