package vm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// assembleAndRun assembles src as a zero-argument method body and runs it
// to completion on a fresh machine, returning its result.
func assembleAndRun(t *testing.T, src string) (Value, error) {
	t.Helper()
	machine := New()
	module := NewModule(machine.Strings())
	method := &MethodOverload{Name: "test", ArgCount: 0, LocalCount: 8}

	body, err := NewAssembler(module).Assemble(src)
	require.NoError(t, err)
	method.SourceBody = body

	thread := machine.NewThread()
	defer machine.StopThread(thread)
	return thread.Evaluate(method, nil)
}

func TestInterpreterArithmetic(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want int64
	}{
		{"add", "ldint 2\nldint 3\nadd\nret", 5},
		{"sub", "ldint 10\nldint 4\nsub\nret", 6},
		{"mul", "ldint 6\nldint 7\nmul\nret", 42},
		{"nested locals", "ldint 11\nstloc 0\nldloc 0\nldint 1\nadd\nret", 12},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := assembleAndRun(t, tc.src)
			require.NoError(t, err)
			require.Equal(t, tc.want, result.Int())
		})
	}
}

func TestInterpreterBranching(t *testing.T) {
	src := `
		ldint 0
		stloc 0
		ldint 5
		stloc 1
	loop:
		ldloc 1
		brfalse done
		ldloc 0
		ldint 1
		add
		stloc 0
		ldloc 1
		ldint 1
		sub
		stloc 1
		br loop
	done:
		ldloc 0
		ret
	`
	result, err := assembleAndRun(t, src)
	require.NoError(t, err)
	require.Equal(t, int64(5), result.Int())
}

func TestInterpreterDivisionByZero(t *testing.T) {
	_, err := assembleAndRun(t, "ldint 1\nldint 0\ndiv\nret")
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "division by zero"))
}

func TestInterpreterCompareBranch(t *testing.T) {
	src := `
		ldint 3
		ldint 5
		cmplt
		brfalse notless
		ldint 1
		ret
	notless:
		ldint 0
		ret
	`
	result, err := assembleAndRun(t, src)
	require.NoError(t, err)
	require.Equal(t, int64(1), result.Int())
}

func TestInterpreterReturnNull(t *testing.T) {
	result, err := assembleAndRun(t, "retnull")
	require.NoError(t, err)
	require.True(t, result.IsNull())
}
