package ivyloop

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/ivyloop/ivyloop/internal/poller"
)

// FD represents interest in the readiness of one OS descriptor (spec §3).
// At most one FD may be registered per OS descriptor per loop; the handle
// is immovable once registered, since the loop's fd map, keyed by the
// descriptor number the backend reports, holds a pointer to it.
//
// The three handler slots are invoked in err, readable, writable order
// within one iteration (spec §4.1), and only for bits that are both wanted
// and ready. Setting a handler to nil clears the corresponding wanted bit;
// wanted bits with a nil handler are otherwise forbidden.
type FD struct {
	loop   *Loop
	fd     int
	Cookie any

	onReadable func(*FD)
	onWritable func(*FD)
	onError    func(*FD)

	wanted poller.Event
	// ready is the shadow mask described in spec §4.1/§9: bits are set
	// when the backend reports readiness and cleared only when a user
	// operation explicitly reports WouldBlock via MarkWouldBlock. This
	// lets an edge-triggered backend present level-triggered semantics
	// upward.
	ready poller.Event

	registered bool
}

// NewFD creates an unregistered handle for the given OS descriptor. Call
// Register to add it to loop.
func NewFD(loop *Loop, fd int, cookie any) *FD {
	return &FD{loop: loop, fd: fd, Cookie: cookie}
}

// Fd returns the OS descriptor number this handle watches.
func (h *FD) Fd() int { return h.fd }

// SetReadableHandler sets (or, with nil, clears) the readable handler and
// updates the wanted mask. Per spec §4.1, the new handler becomes visible
// no later than the next backend poll.
func (h *FD) SetReadableHandler(fn func(*FD)) {
	h.onReadable = fn
	h.syncWanted(poller.Readable, fn != nil)
}

// SetWritableHandler sets (or clears) the writable handler.
func (h *FD) SetWritableHandler(fn func(*FD)) {
	h.onWritable = fn
	h.syncWanted(poller.Writable, fn != nil)
}

// SetErrorHandler sets (or clears) the error handler.
func (h *FD) SetErrorHandler(fn func(*FD)) {
	h.onError = fn
	h.syncWanted(poller.Err, fn != nil)
}

func (h *FD) syncWanted(bit poller.Event, want bool) {
	if want {
		h.wanted |= bit
	} else {
		h.wanted &^= bit
	}
	if h.registered {
		_ = h.loop.backend.Modify(h.fd, h.wanted)
	}
}

// Register adds the handle to its loop, failing with ErrAlreadyRegistered
// if already registered, an error wrapping ErrResourceExhausted if the
// backend has no room for another watch (ENOSPC), or a *BadDescriptorError
// if the OS rejects fd for any other reason.
func (h *FD) Register() error {
	if h.registered {
		return ErrAlreadyRegistered
	}
	if _, exists := h.loop.fds[h.fd]; exists {
		return ErrAlreadyRegistered
	}
	if err := h.loop.backend.Add(h.fd, h.wanted); err != nil {
		if errors.Is(err, syscall.ENOSPC) {
			return fmt.Errorf("%w: fd %d: %v", ErrResourceExhausted, h.fd, err)
		}
		return &BadDescriptorError{FD: h.fd, Cause: err}
	}
	h.registered = true
	h.loop.fds[h.fd] = h
	return nil
}

// Unregister removes the handle from its loop. Calling Unregister on a
// handle that was never registered is a programmer error (spec §4.1) and
// is not recoverable; Unregister panics in that case rather than silently
// succeeding, so the bug surfaces immediately instead of masking a leak.
func (h *FD) Unregister() {
	if !h.registered {
		panic("ivyloop: unregister of an unregistered FD")
	}
	delete(h.loop.fds, h.fd)
	h.registered = false
	h.ready = 0
	_ = h.loop.backend.Remove(h.fd)
}

// MarkWouldBlock clears the shadow ready bits named by mask, signaling
// that the user operation on this descriptor returned WouldBlock and the
// loop should wait for the backend to report readiness again before
// invoking the corresponding handler(s) (spec §4.1, §9).
func (h *FD) MarkWouldBlock(mask poller.Event) {
	h.ready &^= mask
}

// dispatch invokes, in err/readable/writable order, the handlers whose
// bits are both wanted and ready. A handler may unregister any FD
// (including itself or a sibling not yet dispatched this iteration); the
// registration membership check before each invocation makes that safe
// (spec §4.1 re-entrancy).
func (h *FD) dispatch(reported poller.Event) {
	h.ready |= reported

	active := h.wanted & h.ready
	if active&poller.Err != 0 && h.onError != nil {
		if !h.registered {
			return
		}
		h.onError(h)
	}
	if active&poller.Readable != 0 && h.onReadable != nil {
		if !h.registered {
			return
		}
		h.onReadable(h)
	}
	if active&poller.Writable != 0 && h.onWritable != nil {
		if !h.registered {
			return
		}
		h.onWritable(h)
	}
}
