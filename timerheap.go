package ivyloop

import (
	"container/heap"
	"time"
)

// Timer is a one-shot deadline (spec §3 Timer). It is either idle or armed;
// arming an already-armed timer fails with ErrAlreadyArmed. A Timer's
// handler may re-arm it with a new deadline from within its own invocation.
type Timer struct {
	loop     *Loop
	Handler  func()
	Cookie   any
	deadline time.Time
	seq      uint64
	index    int // position in the heap, -1 when not armed
}

// NewTimer creates an idle timer bound to loop. Handler is invoked on
// loop's thread when the timer expires; Cookie is opaque user state the
// caller may stash for retrieval in Handler's closure.
func NewTimer(loop *Loop, handler func()) *Timer {
	return &Timer{loop: loop, Handler: handler, index: -1}
}

// Armed reports whether the timer is currently in the ordered deadline set.
func (t *Timer) Armed() bool { return t.index >= 0 }

// Deadline returns the timer's absolute monotonic deadline, valid only
// while Armed.
func (t *Timer) Deadline() time.Time { return t.deadline }

// Arm inserts the timer into the loop's ordered deadline set with the
// given absolute deadline. A deadline at or before the loop's cached "now"
// is legal: the timer simply fires at the next drain (spec §3).
func (t *Timer) Arm(deadline time.Time) error {
	if t.Armed() {
		return ErrAlreadyArmed
	}
	t.deadline = deadline
	t.loop.timers.insert(t)
	return nil
}

// Disarm removes the timer from the ordered deadline set if armed. After
// Disarm returns, the timer's handler is guaranteed not to run for this
// arming (spec §4.3). Disarming an idle timer is a no-op.
func (t *Timer) Disarm() {
	if !t.Armed() {
		return
	}
	t.loop.timers.remove(t)
}

// timerHeap is the ordered deadline engine of spec §4.3: a min-heap keyed
// on (deadline, insertion sequence), giving O(log n) insert/remove/min and
// FIFO tie-break among timers sharing a deadline. Ported from the teacher's
// timerHeap (eventloop/loop.go), extended with the sequence field the
// teacher's heap lacked, since the spec requires FIFO tie-break as an
// observable invariant (spec §8 invariant 2).
type timerHeap struct {
	items   []*Timer
	nextSeq uint64
}

func (h *timerHeap) insert(t *Timer) {
	t.seq = h.nextSeq
	h.nextSeq++
	heap.Push(h, t)
}

func (h *timerHeap) remove(t *Timer) {
	heap.Remove(h, t.index)
}

// min returns the earliest-deadline armed timer, or nil if none are armed.
func (h *timerHeap) min() *Timer {
	if len(h.items) == 0 {
		return nil
	}
	return h.items[0]
}

// popExpired removes and returns the next timer whose deadline is <= now,
// or nil if the earliest armed timer has not yet expired.
func (h *timerHeap) popExpired(now time.Time) *Timer {
	if len(h.items) == 0 {
		return nil
	}
	if h.items[0].deadline.After(now) {
		return nil
	}
	return heap.Pop(h).(*Timer)
}

func (h *timerHeap) Len() int { return len(h.items) }

func (h *timerHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if a.deadline.Equal(b.deadline) {
		return a.seq < b.seq
	}
	return a.deadline.Before(b.deadline)
}

func (h *timerHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(h.items)
	h.items = append(h.items, t)
}

func (h *timerHeap) Pop() any {
	old := h.items
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	h.items = old[:n-1]
	return t
}
