package vm

// StackFrame is one activation record: the arguments and declared locals
// a method was invoked with, plus its evaluation stack, threaded back to
// the caller's frame. Mirrors ee/stackframe.h's StackFrame, adapted from
// a raw-pointer-plus-trailing-allocation layout to ordinary Go slices
// since this port has no need to avoid a second allocation per frame the
// way the original's single-block layout does.
type StackFrame struct {
	Method    *MethodOverload
	Args      []Value
	Locals    []Value
	eval      []Value // fixed-capacity slice; len(eval) is the live count
	PrevInstr uint32   // original-stream offset StackTraceFormatter looks up; nothing in this package assigns it, so it stays 0 unless a caller sets it
	Prev      *StackFrame
}

// NewStackFrame allocates a frame for method with the given argument
// values, sized locals, and eval-stack capacity (Thread.Evaluate passes
// MethodInitializer's computed max stack height plus
// Config.InitialStackCapacity).
func NewStackFrame(method *MethodOverload, args []Value, localCount int, maxStack int, prev *StackFrame) *StackFrame {
	return &StackFrame{
		Method: method,
		Args:   args,
		Locals: make([]Value, localCount),
		eval:   make([]Value, 0, maxStack),
		Prev:   prev,
	}
}

// StackCount returns the number of values currently on the eval stack.
func (f *StackFrame) StackCount() int { return len(f.eval) }

// NextStackSlot grows the eval stack by one uninitialized slot and
// returns a pointer to it, for instructions that construct a Value in
// place rather than pushing a precomputed one.
func (f *StackFrame) NextStackSlot() *Value {
	f.eval = append(f.eval, Value{})
	return &f.eval[len(f.eval)-1]
}

// Push appends v to the eval stack.
func (f *StackFrame) Push(v Value) { f.eval = append(f.eval, v) }

// Pop removes and returns the top of the eval stack.
func (f *StackFrame) Pop() Value {
	v := f.eval[len(f.eval)-1]
	f.eval = f.eval[:len(f.eval)-1]
	return v
}

// PopN removes the top n values from the eval stack.
func (f *StackFrame) PopN(n int) {
	f.eval = f.eval[:len(f.eval)-n]
}

// Peek returns the value n slots below the top (0 = top) without
// removing it.
func (f *StackFrame) Peek(n int) Value {
	return f.eval[len(f.eval)-1-n]
}

// PeekRef returns a pointer to the slot n positions below the top, for
// instructions that mutate the top of stack in place (e.g. a fused
// producer-then-store).
func (f *StackFrame) PeekRef(n int) *Value {
	return &f.eval[len(f.eval)-1-n]
}

// Shift removes the slot offset positions below the top, shifting every
// value above it down by one and shrinking the stack by one, without
// disturbing the slots below offset. The original VM uses this (see
// ee/stackframe.h) to discard an in-flight error value once a finally
// block has run to completion as part of a `leave`, without perturbing
// whatever the enclosing method had already pushed below it.
func (f *StackFrame) Shift(offset int) {
	idx := len(f.eval) - 1 - offset
	copy(f.eval[idx:], f.eval[idx+1:])
	f.eval = f.eval[:len(f.eval)-1]
}

// ResetTo truncates the eval stack to height, used when entering a catch
// or finally block (which always begin with a known, fixed stack shape
// regardless of what the protected block had pushed before the error).
func (f *StackFrame) ResetTo(height int) {
	f.eval = f.eval[:height]
}
