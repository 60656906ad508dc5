package vm

// CompareOp names the comparison an eq/cmp instruction (or a fused
// compare+branch) performs.
type CompareOp uint8

const (
	CompareEqual CompareOp = iota
	CompareLess
	CompareLessEqual
	CompareGreater
	CompareGreaterEqual
)

// Branch is an unconditional jump.
type Branch struct {
	baseInstr
	Target JumpTarget
}

func NewBranch(target JumpTarget) *Branch {
	return &Branch{baseInstr: baseInstr{op: OpBranch, flags: FlagBranch, sc: stackChangeEmpty}, Target: target}
}
func (i *Branch) ArgsSize() int { return 4 }
func (i *Branch) Emit(buf *MethodBuffer) {
	buf.WriteByte(byte(opcodeBranch))
	buf.WriteUint32(uint32(i.Target.Offset))
}

// condBranchKind distinguishes the four unary conditional branch forms;
// they share a struct since they differ only in opcode and condition.
type condBranchKind uint8

const (
	condIfNull condBranchKind = iota
	condIfNotNull
	condIfFalse
	condIfTrue
)

var condBranchOpcodes = [...]opcode{
	condIfNull:    opcodeBranchIfNull,
	condIfNotNull: opcodeBranchIfNotNull,
	condIfFalse:   opcodeBranchIfFalse,
	condIfTrue:    opcodeBranchIfTrue,
}

// CondBranch pops one value, tests it, and branches if the test holds.
type CondBranch struct {
	baseInstr
	Kind   condBranchKind
	Target JumpTarget
}

func newCondBranch(op IntermediateOpcode, kind condBranchKind, target JumpTarget) *CondBranch {
	return &CondBranch{
		baseInstr: baseInstr{op: op, flags: FlagBranch | FlagHasInput, sc: StackChange{Removed: 1}},
		Kind:      kind,
		Target:    target,
	}
}

func NewBranchIfNull(target JumpTarget) *CondBranch {
	return newCondBranch(OpBranchIfNull, condIfNull, target)
}
func NewBranchIfNotNull(target JumpTarget) *CondBranch {
	return newCondBranch(OpBranchIfNotNull, condIfNotNull, target)
}
func NewBranchIfFalse(target JumpTarget) *CondBranch {
	return newCondBranch(OpBranchIfFalse, condIfFalse, target)
}
func NewBranchIfTrue(target JumpTarget) *CondBranch {
	return newCondBranch(OpBranchIfTrue, condIfTrue, target)
}

func (i *CondBranch) ArgsSize() int { return 4 }
func (i *CondBranch) Emit(buf *MethodBuffer) {
	buf.WriteByte(byte(condBranchOpcodes[i.Kind]))
	buf.WriteUint32(uint32(i.Target.Offset))
}

// BranchCompare is the fused form MethodInitializer.tryUpdateConditionalBranch
// produces when a comparison operator immediately precedes a conditional
// branch that consumes its result: it pops two values, compares them, and
// branches in one step instead of three.
type BranchCompare struct {
	baseInstr
	Op     CompareOp
	Invert bool // branch-if-false vs branch-if-true on the comparison result
	Target JumpTarget
}

func NewBranchCompare(op CompareOp, invert bool, target JumpTarget) *BranchCompare {
	return &BranchCompare{
		baseInstr: baseInstr{op: OpBranchCompare, flags: FlagBranch | FlagHasInput, sc: StackChange{Removed: 2}},
		Op:        op, Invert: invert, Target: target,
	}
}

func (i *BranchCompare) ArgsSize() int { return 5 }
func (i *BranchCompare) Emit(buf *MethodBuffer) {
	buf.WriteByte(byte(opcodeBranchCompare))
	flag := byte(i.Op)
	if i.Invert {
		flag |= 0x80
	}
	buf.WriteByte(flag)
	buf.WriteUint32(uint32(i.Target.Offset))
}

// Switch pops an integer index and branches to Targets[index], or falls
// through if the index is out of range. The jump table is written after
// the header and aligned per SPEC_FULL.md's Open Question decision #2
// (alignment is computed by construction, never asserted after the fact).
type Switch struct {
	baseInstr
	Targets []JumpTarget
}

func NewSwitch(targets []JumpTarget) *Switch {
	return &Switch{baseInstr: baseInstr{op: OpSwitch, flags: FlagSwitch | FlagHasInput, sc: StackChange{Removed: 1}}, Targets: targets}
}

// ArgsSize is the table length field (4 bytes) plus alignment padding
// plus 4 bytes per entry; padding is folded in here so GetByteSize-style
// upper bounds computed from ArgsSize already match what Emit writes.
func (i *Switch) ArgsSize() int {
	const headerSize = 4
	padding := (4 - (headerSize % 4)) % 4
	return headerSize + padding + 4*len(i.Targets)
}

func (i *Switch) Emit(buf *MethodBuffer) {
	buf.WriteByte(byte(opcodeSwitch))
	buf.WriteUint32(uint32(len(i.Targets)))
	buf.AlignTo(4)
	for _, t := range i.Targets {
		buf.WriteUint32(uint32(t.Offset))
	}
}

// Leave unwinds out of one or more enclosing try blocks to Target,
// running any intervening finally blocks along the way. The interpreter,
// not the emitted stream, walks the try-block table to find which
// finallys lie between the current offset and Target.
type Leave struct {
	baseInstr
	Target JumpTarget
}

func NewLeave(target JumpTarget) *Leave {
	return &Leave{baseInstr: baseInstr{op: OpLeave, flags: FlagBranch, sc: stackChangeEmpty}, Target: target}
}
func (i *Leave) ArgsSize() int { return 4 }
func (i *Leave) Emit(buf *MethodBuffer) {
	buf.WriteByte(byte(opcodeLeave))
	buf.WriteUint32(uint32(i.Target.Offset))
}

// EndFinally resumes whatever unwind (leave or exception propagation) was
// in progress when the finally block was entered.
type EndFinally struct{ baseInstr }

func NewEndFinally() *EndFinally {
	return &EndFinally{baseInstr{op: OpEndFinally, flags: FlagNone, sc: stackChangeEmpty}}
}
func (i *EndFinally) ArgsSize() int          { return 0 }
func (i *EndFinally) Emit(buf *MethodBuffer) { buf.WriteByte(byte(opcodeEndFinally)) }

// Return pops the top of stack and returns it from the current method.
type Return struct{ baseInstr }

func NewReturn() *Return {
	return &Return{baseInstr{op: OpReturn, flags: FlagHasInput, sc: StackChange{Removed: 1}}}
}
func (i *Return) ArgsSize() int          { return 0 }
func (i *Return) Emit(buf *MethodBuffer) { buf.WriteByte(byte(opcodeReturn)) }

// ReturnNull returns the null sentinel without touching the stack.
type ReturnNull struct{ baseInstr }

func NewReturnNull() *ReturnNull {
	return &ReturnNull{baseInstr{op: OpReturnNull, flags: FlagNone, sc: stackChangeEmpty}}
}
func (i *ReturnNull) ArgsSize() int          { return 0 }
func (i *ReturnNull) Emit(buf *MethodBuffer) { buf.WriteByte(byte(opcodeReturnNull)) }

// Throw pops the top of stack and raises it as the active error.
type Throw struct{ baseInstr }

func NewThrow() *Throw {
	return &Throw{baseInstr{op: OpThrow, flags: FlagHasInput, sc: StackChange{Removed: 1}}}
}
func (i *Throw) ArgsSize() int          { return 0 }
func (i *Throw) Emit(buf *MethodBuffer) { buf.WriteByte(byte(opcodeThrow)) }

// Rethrow re-raises the value currently being handled by the innermost
// catch block, as a new managed error; no stack trace is carried over.
type Rethrow struct{ baseInstr }

func NewRethrow() *Rethrow {
	return &Rethrow{baseInstr{op: OpRethrow, flags: FlagNone, sc: stackChangeEmpty}}
}
func (i *Rethrow) ArgsSize() int          { return 0 }
func (i *Rethrow) Emit(buf *MethodBuffer) { buf.WriteByte(byte(opcodeRethrow)) }
