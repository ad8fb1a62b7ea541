//go:build darwin || netbsd || freebsd || openbsd || dragonfly

package poller

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Kqueue implements Poller on BSD-derived kernels using kqueue(2).
//
// Unlike epoll, kqueue tracks read and write interest as independent
// filters rather than a single bitmask, so Add/Modify/Remove translate a
// wanted Event into up to two EV_ADD/EV_DELETE changes.
type Kqueue struct {
	fd       int
	eventBuf []unix.Kevent_t
	// wanted remembers the last registered mask per fd so Modify/Remove
	// know which filters are currently active without a second syscall.
	wanted map[int]Event
}

// NewKqueue constructs an uninitialized Kqueue backend.
func NewKqueue() *Kqueue {
	return &Kqueue{fd: -1, eventBuf: make([]unix.Kevent_t, 128), wanted: make(map[int]Event)}
}

func (p *Kqueue) Init() error {
	fd, err := unix.Kqueue()
	if err != nil {
		return fmt.Errorf("poller: kqueue: %w", err)
	}
	unix.CloseOnExec(fd)
	p.fd = fd
	return nil
}

func (p *Kqueue) Close() error {
	if p.fd < 0 {
		return nil
	}
	err := unix.Close(p.fd)
	p.fd = -1
	return err
}

func (p *Kqueue) Add(fd int, wanted Event) error {
	changes := filterChanges(fd, 0, wanted)
	if _, err := unix.Kevent(p.fd, changes, nil, nil); err != nil {
		return fmt.Errorf("poller: kevent add: %w", err)
	}
	p.wanted[fd] = wanted
	return nil
}

func (p *Kqueue) Modify(fd int, wanted Event) error {
	prev := p.wanted[fd]
	changes := filterChanges(fd, prev, wanted)
	if len(changes) == 0 {
		return nil
	}
	if _, err := unix.Kevent(p.fd, changes, nil, nil); err != nil {
		return fmt.Errorf("poller: kevent modify: %w", err)
	}
	p.wanted[fd] = wanted
	return nil
}

func (p *Kqueue) Remove(fd int) error {
	prev := p.wanted[fd]
	changes := filterChanges(fd, prev, 0)
	delete(p.wanted, fd)
	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(p.fd, changes, nil, nil)
	return err
}

// filterChanges computes the EV_ADD/EV_DELETE changelist to move filter
// registration from prev to next for fd.
func filterChanges(fd int, prev, next Event) []unix.Kevent_t {
	var changes []unix.Kevent_t
	if next&Readable != 0 && prev&Readable == 0 {
		changes = append(changes, kevent(fd, unix.EVFILT_READ, unix.EV_ADD|unix.EV_CLEAR))
	} else if next&Readable == 0 && prev&Readable != 0 {
		changes = append(changes, kevent(fd, unix.EVFILT_READ, unix.EV_DELETE))
	}
	if next&Writable != 0 && prev&Writable == 0 {
		changes = append(changes, kevent(fd, unix.EVFILT_WRITE, unix.EV_ADD|unix.EV_CLEAR))
	} else if next&Writable == 0 && prev&Writable != 0 {
		changes = append(changes, kevent(fd, unix.EVFILT_WRITE, unix.EV_DELETE))
	}
	return changes
}

func kevent(fd int, filter int16, flags uint16) unix.Kevent_t {
	return unix.Kevent_t{Ident: uint64(fd), Filter: filter, Flags: flags}
}

func (p *Kqueue) Wait(timeout time.Duration, dst []Readiness) ([]Readiness, error) {
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &t
	}
	n, err := unix.Kevent(p.fd, nil, p.eventBuf, ts)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, fmt.Errorf("poller: kevent wait: %w", err)
	}
	// kqueue reports read and write readiness as separate events for the
	// same fd; coalesce them into one Readiness per fd for this batch.
	byFD := make(map[int]Event, n)
	order := make([]int, 0, n)
	for i := 0; i < n; i++ {
		ev := &p.eventBuf[i]
		fd := int(ev.Ident)
		var e Event
		switch ev.Filter {
		case unix.EVFILT_READ:
			e = Readable
		case unix.EVFILT_WRITE:
			e = Writable
		}
		if ev.Flags&unix.EV_EOF != 0 || ev.Flags&unix.EV_ERROR != 0 {
			e |= Err
		}
		if _, seen := byFD[fd]; !seen {
			order = append(order, fd)
		}
		byFD[fd] |= e
	}
	for _, fd := range order {
		dst = append(dst, Readiness{FD: fd, Events: byFD[fd]})
	}
	return dst, nil
}

// New constructs the native backend for this platform.
func New() Poller {
	return NewKqueue()
}
