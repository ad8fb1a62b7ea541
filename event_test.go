package ivyloop_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ivyloop/ivyloop"
)

// TestEventCrossThreadCoalesces posts to the same Event many times
// concurrently from other goroutines before the loop's thread has a chance
// to drain, and checks the handler only runs once per drained edge.
func TestEventCrossThreadCoalesces(t *testing.T) {
	loop, err := ivyloop.New()
	require.NoError(t, err)
	defer loop.Close()

	var runs atomic.Int32
	done := make(chan struct{})
	ev := ivyloop.NewEvent(loop, func() {
		if runs.Add(1) == 1 {
			close(done)
		}
	})

	const posters = 20
	for i := 0; i < posters; i++ {
		go ev.Post()
	}

	quit := ivyloop.NewTimer(loop, func() { loop.Quit() })
	require.NoError(t, quit.Arm(loop.Now().Add(100*time.Millisecond)))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, loop.Run(ctx))

	select {
	case <-done:
	default:
		t.Fatal("event handler never ran")
	}
	require.Equal(t, int32(1), runs.Load())
}

func TestEventCancelPreventsDelivery(t *testing.T) {
	loop, err := ivyloop.New()
	require.NoError(t, err)
	defer loop.Close()

	ran := false
	ev := ivyloop.NewEvent(loop, func() { ran = true })
	ev.Post()
	ev.Cancel()

	quit := ivyloop.NewTimer(loop, func() { loop.Quit() })
	require.NoError(t, quit.Arm(loop.Now().Add(30*time.Millisecond)))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, loop.Run(ctx))

	require.False(t, ran)
}
