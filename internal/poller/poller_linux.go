//go:build linux

package poller

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Epoll implements Poller on Linux using epoll(7).
//
// The instance is created CLOEXEC so it is never leaked across exec. Events
// are delivered level-triggered (no EPOLLET), matching the spec's
// requirement that the backend present level semantics; the shadow
// ready-mask in package ivyloop exists for backends that can't make that
// promise natively, and is a harmless pass-through here.
type Epoll struct {
	fd       int
	eventBuf []unix.EpollEvent
}

// NewEpoll constructs an uninitialized Epoll backend.
func NewEpoll() *Epoll {
	return &Epoll{fd: -1, eventBuf: make([]unix.EpollEvent, 128)}
}

func (p *Epoll) Init() error {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return fmt.Errorf("poller: epoll_create1: %w", err)
	}
	p.fd = fd
	return nil
}

func (p *Epoll) Close() error {
	if p.fd < 0 {
		return nil
	}
	err := unix.Close(p.fd)
	p.fd = -1
	return err
}

func (p *Epoll) Add(fd int, wanted Event) error {
	ev := unix.EpollEvent{Events: toEpoll(wanted), Fd: int32(fd)}
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (p *Epoll) Modify(fd int, wanted Event) error {
	ev := unix.EpollEvent{Events: toEpoll(wanted), Fd: int32(fd)}
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (p *Epoll) Remove(fd int) error {
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *Epoll) Wait(timeout time.Duration, dst []Readiness) ([]Readiness, error) {
	ms := timeoutMillis(timeout)
	n, err := unix.EpollWait(p.fd, p.eventBuf, ms)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, fmt.Errorf("poller: epoll_wait: %w", err)
	}
	for i := 0; i < n; i++ {
		dst = append(dst, Readiness{
			FD:     int(p.eventBuf[i].Fd),
			Events: fromEpoll(p.eventBuf[i].Events),
		})
	}
	return dst, nil
}

func toEpoll(e Event) uint32 {
	var m uint32
	if e&Readable != 0 {
		m |= unix.EPOLLIN
	}
	if e&Writable != 0 {
		m |= unix.EPOLLOUT
	}
	// Errors and hangups are always reported by the kernel regardless of
	// the requested mask; we still request them explicitly for clarity.
	m |= unix.EPOLLERR | unix.EPOLLHUP
	return m
}

func fromEpoll(m uint32) Event {
	var e Event
	if m&unix.EPOLLIN != 0 {
		e |= Readable
	}
	if m&unix.EPOLLOUT != 0 {
		e |= Writable
	}
	if m&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		e |= Err
	}
	return e
}

func timeoutMillis(d time.Duration) int {
	if d < 0 {
		return -1
	}
	ms := d.Milliseconds()
	if ms == 0 && d > 0 {
		return 1
	}
	if ms > int64(^uint32(0)>>1) {
		ms = int64(^uint32(0) >> 1)
	}
	return int(ms)
}

// New constructs the native backend for this platform.
func New() Poller {
	return NewEpoll()
}
