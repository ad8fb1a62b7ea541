package poller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newBackend(t *testing.T) Poller {
	t.Helper()
	p := New()
	require.NoError(t, p.Init())
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestPollerReadable(t *testing.T) {
	p := newBackend(t)

	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	require.NoError(t, p.Add(fds[0], Readable))

	_, err := unix.Write(fds[1], []byte("x"))
	require.NoError(t, err)

	var buf []Readiness
	buf, err = p.Wait(time.Second, buf[:0])
	require.NoError(t, err)
	require.Len(t, buf, 1)
	require.Equal(t, fds[0], buf[0].FD)
	require.NotZero(t, buf[0].Events&Readable)
}

func TestPollerTimeout(t *testing.T) {
	p := newBackend(t)

	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	require.NoError(t, p.Add(fds[0], Readable))

	buf, err := p.Wait(10*time.Millisecond, nil)
	require.NoError(t, err)
	require.Empty(t, buf)
}

func TestPollerRemove(t *testing.T) {
	p := newBackend(t)

	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	require.NoError(t, p.Add(fds[0], Readable))
	require.NoError(t, p.Remove(fds[0]))

	_, err := unix.Write(fds[1], []byte("x"))
	require.NoError(t, err)

	buf, err := p.Wait(10*time.Millisecond, nil)
	require.NoError(t, err)
	require.Empty(t, buf)
}
