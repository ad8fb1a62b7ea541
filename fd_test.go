package ivyloop_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/ivyloop/ivyloop"
	"github.com/ivyloop/ivyloop/internal/poller"
)

// TestFDReadableCoalesces writes several bytes to a pipe in one write
// before the loop gets a chance to poll, and checks the readable handler
// reads all of them in one dispatch, draining until EAGAIN and then
// calling MarkWouldBlock.
func TestFDReadableCoalesces(t *testing.T) {
	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK))
	r, w := fds[0], fds[1]
	defer unix.Close(w)

	loop, err := ivyloop.New()
	require.NoError(t, err)
	defer loop.Close()

	_, werr := unix.Write(w, []byte("hello"))
	require.NoError(t, werr)

	var totalRead int
	handle := ivyloop.NewFD(loop, r, nil)
	handle.SetReadableHandler(func(h *ivyloop.FD) {
		// Drain until the descriptor would block, the idiomatic pattern for
		// an edge-triggered-capable FD handle: read repeatedly within one
		// dispatch rather than waiting for a second readiness report.
		for {
			buf := make([]byte, 16)
			n, rerr := unix.Read(r, buf)
			if n > 0 {
				totalRead += n
			}
			if rerr == unix.EAGAIN {
				h.MarkWouldBlock(poller.Readable)
				loop.Quit()
				return
			}
			if rerr != nil || n == 0 {
				loop.Quit()
				return
			}
		}
	})
	require.NoError(t, handle.Register())
	defer handle.Unregister()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, loop.Run(ctx))

	require.Equal(t, 5, totalRead)
}

func TestFDRegisterTwiceFails(t *testing.T) {
	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK))
	r, w := fds[0], fds[1]
	defer unix.Close(r)
	defer unix.Close(w)

	loop, err := ivyloop.New()
	require.NoError(t, err)
	defer loop.Close()

	handle := ivyloop.NewFD(loop, r, nil)
	require.NoError(t, handle.Register())
	defer handle.Unregister()

	err = handle.Register()
	require.ErrorIs(t, err, ivyloop.ErrAlreadyRegistered)
}

func TestFDUnregisterOfUnregisteredPanics(t *testing.T) {
	loop, err := ivyloop.New()
	require.NoError(t, err)
	defer loop.Close()

	handle := ivyloop.NewFD(loop, -1, nil)
	require.Panics(t, func() { handle.Unregister() })
}
