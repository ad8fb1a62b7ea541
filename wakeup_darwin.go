//go:build darwin || netbsd || freebsd || openbsd || dragonfly

package ivyloop

import "golang.org/x/sys/unix"

// wakeSource backs cross-thread Event delivery on kernels without eventfd,
// using a self-pipe (spec §4.4, §9 "self-pipe" idiom also used by signal
// dispatch). One byte is written per signal; multiple pending signals
// naturally coalesce because drain() reads until empty regardless of how
// many bytes accumulated.
type wakeSource struct {
	r, w int
}

func newWakeSource() (*wakeSource, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return nil, err
	}
	return &wakeSource{r: fds[0], w: fds[1]}, nil
}

func (w *wakeSource) readFD() int  { return w.r }
func (w *wakeSource) writeFD() int { return w.w }

func (w *wakeSource) signal() {
	var b [1]byte
	_, _ = unix.Write(w.w, b[:])
}

func (w *wakeSource) drain() {
	var buf [64]byte
	for {
		_, err := unix.Read(w.r, buf[:])
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			fatalf("ivyloop: wakeup descriptor read failed: %v", err)
		}
	}
}

func (w *wakeSource) close() error {
	_ = unix.Close(w.w)
	return unix.Close(w.r)
}
