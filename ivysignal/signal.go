// Package ivysignal dispatches UNIX signals to per-loop interests.
//
// A single process-global table maps signal number to the list of
// registered interests (spec §4.5, ported in spirit from ivykis'
// iv_wait_interests AVL tree, here a plain map guarded by one sync.Mutex
// since Go has no container_of trick to hang a tree node off arbitrary
// structs). The async-signal-safe half of the self-pipe idiom is Go's own
// os/signal package: Notify already relays a signal into a channel from
// safe, non-preemptible runtime code, so ivysignal's job is the
// registration rules (exclusive vs shared) and fanning each delivery out to
// every interested loop via ivyloop.Event.Post.
package ivysignal

import (
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/ivyloop/ivyloop"
)

// ErrExclusiveConflict is returned by Register when the exclusive/shared
// rule for a signal number is violated: at most one exclusive interest may
// be active per signal, and exclusive/non-exclusive interests never
// coexist on the same signal (spec §4.5).
var ErrExclusiveConflict = errors.New("ivysignal: exclusive conflict")

var (
	mu        sync.Mutex
	interests = map[syscall.Signal][]*Interest{}
	notifiers = map[syscall.Signal]chan os.Signal{}
)

// Interest is a per-loop registration of interest in a UNIX signal number.
type Interest struct {
	Signal    syscall.Signal
	Exclusive bool
	Handler   func()
	Cookie    any

	loop         *ivyloop.Loop
	event        *ivyloop.Event
	unregistered bool
}

// Register adds an interest in sig, dispatched onto loop. If exclusive is
// true, registration fails with ErrExclusiveConflict unless sig currently
// has no interests at all; registering a non-exclusive interest likewise
// fails if an exclusive interest already holds sig.
func Register(loop *ivyloop.Loop, sig syscall.Signal, exclusive bool, handler func(), cookie any) (*Interest, error) {
	mu.Lock()
	defer mu.Unlock()

	existing := interests[sig]
	if len(existing) > 0 && (exclusive || existing[0].Exclusive) {
		return nil, ErrExclusiveConflict
	}

	it := &Interest{Signal: sig, Exclusive: exclusive, Handler: handler, Cookie: cookie, loop: loop}
	it.event = ivyloop.NewEvent(loop, func() {
		// fanOut copies the interest list and posts outside of mu, so a
		// Post already in flight can still land after Unregister returns;
		// re-check unregistered here so that window never reaches Handler.
		mu.Lock()
		unregistered := it.unregistered
		mu.Unlock()
		if unregistered {
			return
		}
		if it.Handler != nil {
			it.Handler()
		}
	})

	if len(existing) == 0 {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, sig)
		notifiers[sig] = ch
		go fanOut(sig, ch)
	}
	interests[sig] = append(existing, it)
	return it, nil
}

// fanOut relays every delivery of sig to the current interest list's
// events. Each Post lands on the interest's own loop, so handlers always
// run on loop-owning goroutines, never from signal-notification context.
func fanOut(sig syscall.Signal, ch chan os.Signal) {
	for range ch {
		mu.Lock()
		list := append([]*Interest(nil), interests[sig]...)
		mu.Unlock()

		for _, it := range list {
			it.event.Post()
		}
	}
}

// Unregister removes the interest. Calling Unregister a second time is a
// programmer error and panics, matching the idempotent-call contract of
// ivyloop's other handle types (spec §4.1, §5 cancellation semantics).
func (it *Interest) Unregister() {
	mu.Lock()
	defer mu.Unlock()

	if it.unregistered {
		panic("ivysignal: unregister of an already-unregistered interest")
	}
	it.unregistered = true

	list := interests[it.Signal]
	for i, e := range list {
		if e == it {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}

	if len(list) == 0 {
		delete(interests, it.Signal)
		if ch, ok := notifiers[it.Signal]; ok {
			signal.Stop(ch)
			close(ch)
			delete(notifiers, it.Signal)
		}
	} else {
		interests[it.Signal] = list
	}

	it.event.Cancel()
}
