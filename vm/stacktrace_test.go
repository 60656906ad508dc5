package vm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatStackTraceUnknownSource(t *testing.T) {
	machine := New()
	module := NewModule(machine.Strings())

	// A method whose throw is never caught leaves the frame chain intact
	// long enough for thread.go's Evaluate to log it, but FormatStackTrace
	// itself must be callable directly against a frame built by hand,
	// since by the time Evaluate returns its error the frame has already
	// been popped.
	inner := &MethodOverload{Name: "inner", DeclType: &Type{Name: "Greeter"}, ArgCount: 0}
	body, err := NewAssembler(module).Assemble("ldint 1\nthrow")
	require.NoError(t, err)
	inner.SourceBody = body

	thread := machine.NewThread()
	defer machine.StopThread(thread)

	frame := NewStackFrame(inner, nil, 0, 4, nil)
	thread.frame = frame

	trace := FormatStackTrace(thread)
	require.True(t, strings.Contains(trace, "Greeter.inner"))
	require.True(t, strings.Contains(trace, "unknown source"))
}

func TestAppendParametersVariadic(t *testing.T) {
	var b strings.Builder
	m := &MethodOverload{Name: "fn", ArgCount: 2, IsVariadic: true}
	appendParameters(&b, m)
	require.Equal(t, "(arg0, arg1, ...)", b.String())
}
