package vm

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// countdownSource counts a local down from a constant to zero, looping
// long enough that a concurrent safepoint request is guaranteed to land
// mid-run on a busy machine; every iteration passes through a safepoint
// check (thread.go's execOne is preceded by Thread.safepoint on every
// instruction dispatch).
const countdownSource = `
	ldint 20000
	stloc 0
loop:
	ldloc 0
	brfalse done
	ldloc 0
	ldint 1
	sub
	stloc 0
	br loop
done:
	ldint 1
	ret
`

func TestSafepointSuspendsRunningThreads(t *testing.T) {
	machine := New()

	module := NewModule(machine.Strings())
	method := &MethodOverload{Name: "countdown", ArgCount: 0, LocalCount: 2}
	body, err := NewAssembler(module).Assemble(countdownSource)
	require.NoError(t, err)
	method.SourceBody = body

	var collected atomic.Bool
	var g errgroup.Group

	const workers = 4
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			thread := machine.NewThread()
			defer machine.StopThread(thread)
			result, err := thread.Evaluate(method, nil)
			if err != nil {
				return err
			}
			require.Equal(t, int64(1), result.Int())
			return nil
		})
	}

	g.Go(func() error {
		time.Sleep(time.Millisecond)
		machine.Safepoints().SuspendForGC(func() {
			collected.Store(true)
		})
		return nil
	})

	require.NoError(t, g.Wait())
	require.True(t, collected.Load(), "the GC callback must have actually run")
}

func TestEnterUnmanagedRegionRejectsNesting(t *testing.T) {
	machine := New()
	thread := machine.NewThread()
	defer machine.StopThread(thread)

	require.NoError(t, thread.EnterUnmanagedRegion())
	err := thread.EnterUnmanagedRegion()
	require.ErrorIs(t, err, ErrNestedUnmanagedRegion)
	thread.LeaveUnmanagedRegion()
}
