package ivysignal_test

import (
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ivyloop/ivyloop"
	"github.com/ivyloop/ivyloop/ivysignal"
)

func TestExclusiveConflict(t *testing.T) {
	loop, err := ivyloop.New()
	require.NoError(t, err)
	defer loop.Close()

	first, err := ivysignal.Register(loop, syscall.SIGUSR1, true, func() {}, nil)
	require.NoError(t, err)

	_, err = ivysignal.Register(loop, syscall.SIGUSR1, true, func() {}, nil)
	require.ErrorIs(t, err, ivysignal.ErrExclusiveConflict)

	first.Unregister()

	second, err := ivysignal.Register(loop, syscall.SIGUSR1, true, func() {}, nil)
	require.NoError(t, err)
	second.Unregister()
}

func TestSharedVsExclusiveConflict(t *testing.T) {
	loop, err := ivyloop.New()
	require.NoError(t, err)
	defer loop.Close()

	excl, err := ivysignal.Register(loop, syscall.SIGUSR2, true, func() {}, nil)
	require.NoError(t, err)
	defer excl.Unregister()

	_, err = ivysignal.Register(loop, syscall.SIGUSR2, false, func() {}, nil)
	require.ErrorIs(t, err, ivysignal.ErrExclusiveConflict)
}

func TestDispatch(t *testing.T) {
	loop, err := ivyloop.New()
	require.NoError(t, err)
	defer loop.Close()

	delivered := make(chan struct{}, 1)
	it, err := ivysignal.Register(loop, syscall.SIGUSR1, false, func() {
		select {
		case delivered <- struct{}{}:
		default:
		}
		loop.Quit()
	}, nil)
	require.NoError(t, err)
	defer it.Unregister()

	go func() {
		time.Sleep(10 * time.Millisecond)
		require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, loop.Run(ctx))

	select {
	case <-delivered:
	default:
		t.Fatal("signal handler never ran")
	}
}
