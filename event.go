package ivyloop

import "sync/atomic"

// Event is a one-shot cross-thread post (spec §3, §4.4): any thread may
// call Post; the handler always runs on the owning Loop's thread. Multiple
// Post calls between deliveries coalesce to a single handler invocation.
type Event struct {
	loop    *Loop
	Handler func()
	Cookie  any

	pending atomic.Bool
}

// NewEvent creates a cross-thread event bound to loop.
func NewEvent(loop *Loop, handler func()) *Event {
	return &Event{loop: loop, Handler: handler}
}

// Post schedules a delivery of the event's handler on its owning loop.
// Safe to call from any goroutine, including the loop's own. If a post is
// already pending (not yet drained), this call is a no-op: at-least-once
// posting collapses to exactly-once handler invocation per drained edge
// (spec §3, §4.4).
func (e *Event) Post() {
	if !e.pending.CompareAndSwap(false, true) {
		return
	}
	e.loop.postedMu.Lock()
	e.loop.posted = append(e.loop.posted, e)
	e.loop.postedMu.Unlock()
	e.loop.wake()
}

// Cancel synchronously prevents any pending post from being delivered. If
// called from a thread other than the loop's owner while the loop may be
// concurrently draining, the caller is responsible for external
// synchronization (spec §4.4); Cancel itself never blocks.
//
// Implementation note: rather than unlinking the event from the loop's
// posted list under a lock shared with the drain path, Cancel clears the
// pending flag that the drain loop gates delivery on (see (*Loop).drainPosted).
// A drain that observes the flag already cleared skips the entry, which
// satisfies "no further handler runs" without requiring the drain path to
// take a lock per entry.
func (e *Event) Cancel() {
	e.pending.Store(false)
}

// wake signals the loop's wakeup descriptor so a blocked backend poll
// returns promptly. Safe to call from any thread.
func (l *Loop) wake() {
	l.wakeSrc.signal()
}

// drainPosted is invoked on the loop's own thread when the wakeup
// descriptor becomes readable. It snapshots the posted list — so that any
// Post occurring from within a handler schedules a new delivery on a
// subsequent iteration rather than being picked up by this same pass — then
// fires each entry still pending (spec §4.4).
func (l *Loop) drainPosted() {
	l.postedMu.Lock()
	batch := l.posted
	l.posted = nil
	l.postedMu.Unlock()

	for _, e := range batch {
		if !e.pending.CompareAndSwap(true, false) {
			continue
		}
		if e.Handler != nil {
			e.Handler()
		}
	}
}
