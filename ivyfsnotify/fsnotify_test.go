package ivyfsnotify_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ivyloop/ivyloop"
	"github.com/ivyloop/ivyloop/ivyfsnotify"
)

func TestWatchWrite(t *testing.T) {
	loop, err := ivyloop.New()
	require.NoError(t, err)
	defer loop.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "watched.txt")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0o644))

	inst, err := ivyfsnotify.NewInstance(loop)
	require.NoError(t, err)
	defer inst.Close()

	got := make(chan ivyfsnotify.Event, 1)
	w, err := inst.Register(path, ivyfsnotify.Write, func(e ivyfsnotify.Event) {
		got <- e
		loop.Quit()
	}, "cookie")
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = os.WriteFile(path, []byte("ab"), 0o644)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, loop.Run(ctx))

	select {
	case e := <-got:
		require.Equal(t, w.WD, e.WD)
		require.Equal(t, "cookie", e.Cookie)
	default:
		t.Fatal("write event never delivered")
	}
}

func TestUnregisterTwicePanics(t *testing.T) {
	loop, err := ivyloop.New()
	require.NoError(t, err)
	defer loop.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "watched.txt")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0o644))

	inst, err := ivyfsnotify.NewInstance(loop)
	require.NoError(t, err)
	defer inst.Close()

	w, err := inst.Register(path, ivyfsnotify.Write, func(ivyfsnotify.Event) {}, nil)
	require.NoError(t, err)

	require.NoError(t, w.Unregister())
	require.Panics(t, func() { _ = w.Unregister() })
}

func TestDuplicateRegisterRejected(t *testing.T) {
	loop, err := ivyloop.New()
	require.NoError(t, err)
	defer loop.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "watched.txt")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0o644))

	inst, err := ivyfsnotify.NewInstance(loop)
	require.NoError(t, err)
	defer inst.Close()

	w, err := inst.Register(path, ivyfsnotify.Write, func(ivyfsnotify.Event) {}, nil)
	require.NoError(t, err)
	defer w.Unregister()

	_, err = inst.Register(path, ivyfsnotify.Write, func(ivyfsnotify.Event) {}, nil)
	require.ErrorIs(t, err, ivyloop.ErrAlreadyRegistered)
}
