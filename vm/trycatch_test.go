package vm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// assembleAndRunTry is assembleAndRun plus try-block wiring: it threads
// the assembler's .try/.catch/.finally/.endtry directives through to the
// method's TryBlocks field, exercising the same MethodInitializer offset
// translation a loaded module's try blocks go through. A non-nil machine
// is the VM the method runs on, so a test can register that VM's own
// types in module; nil runs on a fresh VM.
func assembleAndRunTry(t *testing.T, machine *VM, module *Module, src string) (Value, error) {
	t.Helper()
	if machine == nil {
		machine = New()
	}
	if module == nil {
		module = NewModule(machine.Strings())
	}
	method := &MethodOverload{Name: "test", ArgCount: 0, LocalCount: 8}

	body, tryBlocks, err := NewAssembler(module).AssembleWithTryBlocks(src)
	require.NoError(t, err)
	method.SourceBody = body
	method.TryBlocks = tryBlocks

	thread := machine.NewThread()
	defer machine.StopThread(thread)
	return thread.Evaluate(method, nil)
}

// TestTryCatchDivideByZero grounds end-to-end scenario 3: a try protecting
// a division, with a catch-all handler producing a fixed fallback value
// when the division throws.
func TestTryCatchDivideByZero(t *testing.T) {
	src := `
		.try
			ldint 10
			ldint 0
			div
			ret
		.catch
			ldint -1
			ret
		.endtry
	`
	result, err := assembleAndRunTry(t, nil, nil, src)
	require.NoError(t, err)
	require.Equal(t, int64(-1), result.Int())
}

// TestTryCatchNoThrowSkipsHandler checks the ordinary path through a
// protected region never touches its catch handler.
func TestTryCatchNoThrowSkipsHandler(t *testing.T) {
	src := `
		.try
			ldint 10
			ldint 2
			div
			ret
		.catch
			ldint -1
			ret
		.endtry
	`
	result, err := assembleAndRunTry(t, nil, nil, src)
	require.NoError(t, err)
	require.Equal(t, int64(5), result.Int())
}

// TestLeaveRunsNestedFinallysInnermostFirst grounds end-to-end scenario 5's
// leave behavior: a 3-deep nested try/finally with a leave jumping from
// the innermost try past all three. Each finally multiplies the
// accumulator by ten and adds its own digit, so the final value only
// comes out as 321 if finally3 ran before finally2 before finally1.
func TestLeaveRunsNestedFinallysInnermostFirst(t *testing.T) {
	src := `
		.try
			.try
				.try
					ldint 0
					stloc 0
					leave done
				.finally
					ldloc 0
					ldint 10
					mul
					ldint 3
					add
					stloc 0
					endfinally
				.endtry
			.finally
				ldloc 0
				ldint 10
				mul
				ldint 2
				add
				stloc 0
				endfinally
			.endtry
		.finally
			ldloc 0
			ldint 10
			mul
			ldint 1
			add
			stloc 0
			endfinally
		.endtry
	done:
		ldloc 0
		ret
	`
	result, err := assembleAndRunTry(t, nil, nil, src)
	require.NoError(t, err)
	require.Equal(t, int64(321), result.Int())
}

// TestThrowInFinallyCaughtByOuterCatch grounds end-to-end scenario 5's
// catch behavior: an error raised inside a finally (itself entered via a
// leave unwinding out of its own try) is not matched by any try block it
// is physically nested inside, only by one strictly more outer.
func TestThrowInFinallyCaughtByOuterCatch(t *testing.T) {
	machine := New()
	module := NewModule(machine.Strings())
	module.RegisterType(machine.types.Int)

	src := `
		.try
			.try
				ldint 0
				stloc 0
				leave done
			.finally
				ldint 7
				throw
			.endtry
		.catch Int
			stloc 1
			ldint 42
			ret
		.endtry
	done:
		ldloc 0
		ret
	`
	result, err := assembleAndRunTry(t, machine, module, src)
	require.NoError(t, err)
	require.Equal(t, int64(42), result.Int())
}

// TestUncaughtThrowPropagatesPastAllTryBlocks confirms a thrown error with
// no enclosing try block (or none whose catch type matches) still
// surfaces as a plain Go error from Evaluate.
func TestUncaughtThrowPropagatesPastAllTryBlocks(t *testing.T) {
	src := `
		.try
			ldint 1
			throw
		.finally
			ldint 99
			stloc 0
			endfinally
		.endtry
	`
	_, err := assembleAndRunTry(t, nil, nil, src)
	require.Error(t, err)
}
