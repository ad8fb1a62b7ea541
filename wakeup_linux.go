//go:build linux

package ivyloop

import "golang.org/x/sys/unix"

// wakeSource is the per-loop wakeup descriptor backing cross-thread Event
// delivery (spec §4.4), ported from the teacher's eventfd-based wakeup
// (eventloop/wakeup_linux.go).
type wakeSource struct {
	efd int
}

func newWakeSource() (*wakeSource, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, err
	}
	return &wakeSource{efd: fd}, nil
}

func (w *wakeSource) readFD() int  { return w.efd }
func (w *wakeSource) writeFD() int { return w.efd }

// signal adds one to the eventfd counter, which is a natural coalescing
// point: concurrent signals accumulate into a single nonzero counter that
// drain() resets to zero with a single read.
func (w *wakeSource) signal() {
	var buf [8]byte
	buf[0] = 1
	_, _ = unix.Write(w.efd, buf[:])
}

// drain reads the eventfd counter until EAGAIN. A read failure other than
// EAGAIN on a descriptor the backend just reported ready is the fatal
// condition named in spec §7.
func (w *wakeSource) drain() {
	var buf [8]byte
	for {
		_, err := unix.Read(w.efd, buf[:])
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			fatalf("ivyloop: wakeup descriptor read failed: %v", err)
		}
	}
}

func (w *wakeSource) close() error {
	return unix.Close(w.efd)
}
