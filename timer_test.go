package ivyloop_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ivyloop/ivyloop"
)

// TestTimerOrdering arms timers with equal and distinct deadlines and
// checks they fire in non-decreasing deadline order, with equal deadlines
// breaking ties in registration (FIFO) order.
func TestTimerOrdering(t *testing.T) {
	loop, err := ivyloop.New()
	require.NoError(t, err)
	defer loop.Close()

	var fired []string
	base := loop.Now().Add(20 * time.Millisecond)

	record := func(name string) func() {
		return func() { fired = append(fired, name) }
	}

	tC := ivyloop.NewTimer(loop, record("c"))
	tA := ivyloop.NewTimer(loop, record("a"))
	tB := ivyloop.NewTimer(loop, record("b"))
	tLater := ivyloop.NewTimer(loop, func() {
		fired = append(fired, "later")
		loop.Quit()
	})

	require.NoError(t, tC.Arm(base))
	require.NoError(t, tA.Arm(base))
	require.NoError(t, tB.Arm(base))
	require.NoError(t, tLater.Arm(base.Add(20*time.Millisecond)))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, loop.Run(ctx))

	require.Equal(t, []string{"c", "a", "b", "later"}, fired)
}

func TestTimerDisarmBeforeFire(t *testing.T) {
	loop, err := ivyloop.New()
	require.NoError(t, err)
	defer loop.Close()

	fired := false
	t1 := ivyloop.NewTimer(loop, func() { fired = true })
	require.NoError(t, t1.Arm(loop.Now().Add(50*time.Millisecond)))
	t1.Disarm()
	require.False(t, t1.Armed())

	done := ivyloop.NewTimer(loop, func() { loop.Quit() })
	require.NoError(t, done.Arm(loop.Now().Add(100*time.Millisecond)))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, loop.Run(ctx))

	require.False(t, fired)
}

func TestTimerArmTwiceFails(t *testing.T) {
	loop, err := ivyloop.New()
	require.NoError(t, err)
	defer loop.Close()

	timer := ivyloop.NewTimer(loop, func() {})
	require.NoError(t, timer.Arm(loop.Now().Add(time.Second)))
	err = timer.Arm(loop.Now().Add(2 * time.Second))
	require.ErrorIs(t, err, ivyloop.ErrAlreadyArmed)
	timer.Disarm()
}
