// Package ivyloop is a per-thread cooperative event loop: it multiplexes
// file-descriptor readiness, timer expiry, cross-thread wakeups, UNIX
// signals (see subpackage ivysignal), child-process reaping (subpackage
// ivywait), and filesystem-watch notifications (subpackage ivyfsnotify)
// onto a single dispatch loop.
//
// A Loop is confined to the goroutine that calls Run: all handles
// registered on it (FD, Timer, Event) must be registered, unregistered, and
// have their handlers invoked from that same goroutine, except Event.Post
// and Event.Cancel, which are safe from any goroutine by design (spec §5).
package ivyloop

import (
	"context"
	"sync"
	"time"

	"github.com/ivyloop/ivyloop/internal/ivylog"
	"github.com/ivyloop/ivyloop/internal/poller"
)

// Loop is the per-thread dispatch context of spec §3. It owns the backend
// handle, the ordered deadline set, the cross-thread wakeup receiver, and
// the set of currently registered descriptors and timers.
type Loop struct {
	backend poller.Poller
	wakeSrc *wakeSource
	wakeFD  *FD

	fds    map[int]*FD
	timers timerHeap

	postedMu sync.Mutex
	posted   []*Event

	state atomicState
	now   cachedNow

	logger ivylog.Logger

	readiness []poller.Readiness
}

// Option configures a Loop at construction time, ported from the teacher's
// functional-options pattern (eventloop/options.go).
type Option interface {
	apply(*Loop)
}

type optionFunc func(*Loop)

func (f optionFunc) apply(l *Loop) { f(l) }

// WithLogger installs a structured logger for loop lifecycle and error
// events. The default is a no-op logger.
func WithLogger(logger ivylog.Logger) Option {
	return optionFunc(func(l *Loop) { l.logger = logger })
}

// New creates a Loop bound to the calling goroutine. The loop owns an OS
// readiness backend (epoll/kqueue) and a wakeup descriptor from
// construction; Close releases both if Run is never called.
func New(opts ...Option) (*Loop, error) {
	wakeSrc, err := newWakeSource()
	if err != nil {
		return nil, err
	}

	l := &Loop{
		backend: poller.New(),
		wakeSrc: wakeSrc,
		fds:     make(map[int]*FD),
		logger:  ivylog.NoOp(),
	}
	for _, opt := range opts {
		opt.apply(l)
	}

	if err := l.backend.Init(); err != nil {
		_ = wakeSrc.close()
		return nil, err
	}

	l.wakeFD = NewFD(l, wakeSrc.readFD(), nil)
	l.wakeFD.SetReadableHandler(func(*FD) {
		l.wakeSrc.drain()
		l.drainPosted()
	})
	if err := l.wakeFD.Register(); err != nil {
		_ = l.backend.Close()
		_ = wakeSrc.close()
		return nil, err
	}

	l.now.refresh()
	return l, nil
}

// Close releases the loop's backend and wakeup descriptor. Run must not be
// called after Close.
func (l *Loop) Close() error {
	var err error
	if e := l.backend.Close(); e != nil {
		err = e
	}
	if e := l.wakeSrc.close(); e != nil && err == nil {
		err = e
	}
	return err
}

// Run drives the dispatch loop until Quit is called or ctx is canceled
// (spec §4.2 loop_run). It returns ctx.Err() if ctx's cancellation is what
// ended the run, otherwise nil.
//
// Entry points per iteration, matching spec §4.2 exactly:
//  1. refresh cached monotonic time
//  2. compute the next deadline (earliest armed timer, or block indefinitely)
//  3. poll the backend with that timeout
//  4. refresh cached time again
//  5. drain all expired timers in non-decreasing deadline/FIFO order
//  6. dispatch readiness callbacks in backend-reported FD order, err/in/out
//     per FD
//  7. stop if Quit was requested and this iteration's work is done
func (l *Loop) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// A Quit that landed before this call (or between two Run calls on a
	// reused Loop) already wrote stateQuitting and woke the backend; a
	// plain store here would clobber that and strand the loop blocking
	// indefinitely with nothing left to wake it. CAS from idle only, so a
	// pending quit survives into the first iteration's exit check below.
	l.state.compareAndSwap(stateIdle, stateRunning)

	ctxDone := make(chan struct{})
	defer close(ctxDone)
	go func() {
		select {
		case <-ctx.Done():
			l.Quit()
		case <-ctxDone:
		}
	}()

	for {
		l.now.refresh()
		timeout := l.nextTimeout()

		var err error
		l.readiness, err = l.backend.Wait(timeout, l.readiness[:0])
		if err != nil {
			l.logger.Log(ivylog.Entry{Level: ivylog.LevelError, Category: "poll", Message: "backend wait failed", Err: err})
			return err
		}

		l.now.refresh()

		l.runExpiredTimers()
		l.dispatchReadiness()

		if l.state.load() == stateQuitting {
			break
		}
	}

	l.state.store(stateIdle)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// Quit requests that the loop stop after the current iteration's callbacks
// finish running. Callable from any handler, or from a cross-thread Event;
// it does not interrupt handlers already in flight (spec §4.2 loop_quit).
func (l *Loop) Quit() {
	for {
		cur := l.state.load()
		if cur == stateQuitting {
			return
		}
		if l.state.compareAndSwap(cur, stateQuitting) {
			l.wake()
			return
		}
	}
}

// blockIndefinitely, passed to the backend's Wait, means no armed timer
// bounds how long the loop may sleep.
const blockIndefinitely = -1 * time.Nanosecond

func (l *Loop) nextTimeout() time.Duration {
	t := l.timers.min()
	if t == nil {
		return blockIndefinitely
	}
	d := t.deadline.Sub(l.now.get())
	if d < 0 {
		d = 0
	}
	return d
}

func (l *Loop) runExpiredTimers() {
	for {
		t := l.timers.popExpired(l.now.get())
		if t == nil {
			return
		}
		if t.Handler != nil {
			t.Handler()
		}
	}
}

func (l *Loop) dispatchReadiness() {
	for _, r := range l.readiness {
		h, ok := l.fds[r.FD]
		if !ok {
			continue
		}
		h.dispatch(r.Events)
	}
}
