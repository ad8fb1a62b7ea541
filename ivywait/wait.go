// Package ivywait centralizes child-process reaping behind a single
// SIGCHLD interest, fanning wait4 results out to per-PID interests that may
// live on any loop (spec §4.6).
//
// Ported from ivykis' modules/iv_wait.c: the single package-global
// SIGCHLD registration corresponds to iv_wait_got_sigchld's thread-local
// sigchld_interest, the per-PID map to iv_wait_interests (an AVL tree there,
// a map plus one sync.Mutex here, since Go has no container_of to hang a
// tree node off an arbitrary caller struct), and Interest.drain to
// iv_wait_completion. Unlike the C original, self-unregistration safety
// during drain is detected with a generation counter rather than nulling a
// pointer the unregister call is told about (spec §9's suggested
// modernization), since there is no equivalent "this" stack slot to null in
// Go.
//
// Reap results for a PID with no registered interest (the race between a
// process exiting and a caller unregistering, or a PID ivywait never saw
// registered) are silently dropped, not backlogged — matching the open
// question in spec §4.6 step 4, resolved in favor of the simpler, ivykis-
// matching behavior.
package ivywait

import (
	"sync"
	"syscall"

	"github.com/ivyloop/ivyloop"
	"github.com/ivyloop/ivyloop/ivysignal"
)

var (
	mu         sync.Mutex
	interests  = map[int]*Interest{}
	reapCount  int
	reapSignal *ivysignal.Interest
)

type waitEvent struct {
	status syscall.WaitStatus
	rusage syscall.Rusage
}

// Interest is a registered interest in the exit of a single PID.
type Interest struct {
	PID     int
	Handler func(status syscall.WaitStatus, rusage *syscall.Rusage)
	Cookie  any

	loop  *ivyloop.Loop
	event *ivyloop.Event

	mu           sync.Mutex
	events       []waitEvent
	gen          uint64
	unregistered bool
}

// Register adds an interest in pid's exit, dispatched onto loop. The first
// Register call in the process installs the single, process-wide SIGCHLD
// reaper; it is torn down again when the last Interest unregisters.
func Register(loop *ivyloop.Loop, pid int, handler func(status syscall.WaitStatus, rusage *syscall.Rusage), cookie any) (*Interest, error) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := interests[pid]; exists {
		return nil, ivyloop.ErrAlreadyRegistered
	}

	it := &Interest{PID: pid, Handler: handler, Cookie: cookie, loop: loop}
	it.event = ivyloop.NewEvent(loop, it.drain)

	if reapCount == 0 {
		sig, err := ivysignal.Register(loop, syscall.SIGCHLD, true, reap, nil)
		if err != nil {
			return nil, err
		}
		reapSignal = sig
	}
	reapCount++

	interests[pid] = it
	return it, nil
}

// reap drains every currently-exited child via wait4(-1, WNOHANG), fanning
// each result out to the matching PID's Interest, if one is registered.
func reap() {
	for {
		var status syscall.WaitStatus
		var rusage syscall.Rusage

		pid, err := syscall.Wait4(-1, &status, syscall.WNOHANG, &rusage)
		if pid <= 0 {
			return
		}
		if err != nil {
			return
		}

		mu.Lock()
		it, ok := interests[pid]
		if ok {
			it.mu.Lock()
			it.events = append(it.events, waitEvent{status: status, rusage: rusage})
			it.mu.Unlock()
		}
		mu.Unlock()

		if ok {
			it.event.Post()
		}
	}
}

// drain runs on the Interest's owning loop, invoking Handler once per
// queued wait event in FIFO order. If the Interest unregisters itself from
// within Handler, the generation counter changes and drain stops touching
// it immediately rather than looping again.
func (it *Interest) drain() {
	startGen := it.currentGen()

	for {
		it.mu.Lock()
		if len(it.events) == 0 {
			it.mu.Unlock()
			return
		}
		we := it.events[0]
		it.events = it.events[1:]
		it.mu.Unlock()

		if it.Handler != nil {
			it.Handler(we.status, &we.rusage)
		}

		if it.currentGen() != startGen {
			return
		}
	}
}

func (it *Interest) currentGen() uint64 {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.gen
}

// Unregister removes the interest and discards any still-queued, undrained
// wait events. Calling Unregister a second time is a programmer error and
// panics (spec §5 cancellation semantics: deregistration from the owning
// loop is synchronous and exactly once).
func (it *Interest) Unregister() {
	mu.Lock()

	it.mu.Lock()
	if it.unregistered {
		it.mu.Unlock()
		mu.Unlock()
		panic("ivywait: unregister of an already-unregistered interest")
	}
	it.unregistered = true
	it.gen++
	it.events = nil
	it.mu.Unlock()

	delete(interests, it.PID)

	reapCount--
	var sig *ivysignal.Interest
	if reapCount == 0 {
		sig = reapSignal
		reapSignal = nil
	}
	mu.Unlock()

	it.event.Cancel()
	if sig != nil {
		sig.Unregister()
	}
}
