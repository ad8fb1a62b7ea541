package ivyloop

import "time"

// cachedNow holds the loop's monotonic "now", stable across all handler
// invocations within one iteration (spec §4.2).
//
// time.Time already carries a monotonic reading on this platform, so we
// store it directly rather than reimplementing the (seconds, nanoseconds)
// pair ivykis' iv_now would track.
type cachedNow struct {
	t time.Time
}

func (c *cachedNow) refresh() {
	c.t = time.Now()
}

func (c *cachedNow) get() time.Time {
	return c.t
}

// Now returns the loop's cached monotonic time as it stood at the start of
// the current iteration (or the most recent explicit RefreshNow call).
// Safe to call only from the loop's own thread.
func (l *Loop) Now() time.Time {
	return l.now.get()
}

// RefreshNow re-reads the OS clock, advancing the loop's cached "now". A
// handler that performs a long-running computation and wants to re-arm a
// timer relative to the present, rather than to the iteration's start,
// should call this first (spec §4.2).
func (l *Loop) RefreshNow() time.Time {
	l.now.refresh()
	return l.now.get()
}
