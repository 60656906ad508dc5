package vm

import (
	"strconv"
	"strings"
)

// FormatStackTrace renders t's current call chain into a human-readable
// trace, mirroring stacktraceformatter.h/.cpp's GetStackTrace: one line
// per frame, innermost first, naming the method, its declaring type (if
// any), its parameter count, and the source line covering the frame's
// PrevInstr offset (if debug symbols cover it).
func FormatStackTrace(t *Thread) string {
	var b strings.Builder
	AppendStackTrace(t, &b)
	return b.String()
}

// AppendStackTrace appends t's current frame chain to b, innermost frame
// first, for callers building a larger diagnostic message around it.
func AppendStackTrace(t *Thread, b *strings.Builder) {
	for frame := t.CurrentFrame(); frame != nil; frame = frame.Prev {
		appendStackFrame(b, frame)
	}
}

func appendStackFrame(b *strings.Builder, frame *StackFrame) {
	b.WriteString("  at ")
	appendMethodName(b, frame.Method)
	appendParameters(b, frame.Method)
	appendSourceLocation(b, frame.Method, frame.PrevInstr)
	b.WriteByte('\n')
}

func appendMethodName(b *strings.Builder, m *MethodOverload) {
	if m.DeclType != nil {
		b.WriteString(m.DeclType.Name)
		b.WriteByte('.')
	}
	b.WriteString(m.Name)
}

func appendParameters(b *strings.Builder, m *MethodOverload) {
	b.WriteByte('(')
	for i := 0; i < m.ArgCount; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("arg")
		b.WriteString(strconv.Itoa(i))
	}
	if m.IsVariadic {
		b.WriteString(", ...")
	}
	b.WriteByte(')')
}

// appendSourceLocation looks up the line covering offset in m's debug
// symbols (original-stream offsets, per DebugSymbols.LineAt's contract);
// a method compiled without debug information renders as "unknown
// source" rather than line 0, which would read as a real location.
func appendSourceLocation(b *strings.Builder, m *MethodOverload, offset uint32) {
	line := m.Debug.LineAt(offset)
	if line == 0 {
		b.WriteString(" (unknown source)")
		return
	}
	b.WriteString(" line ")
	b.WriteString(strconv.Itoa(int(line)))
}
