package vm

// IntermediateOpcode names one intermediate-instruction shape produced by
// MethodParser and consumed by MethodInitializer/the interpreter. It plays
// the role the original's IntermediateOpcode enum plays in ee/instructions.h.
type IntermediateOpcode uint16

const (
	OpNop IntermediateOpcode = iota

	// Locals: every combination of {local,stack,ref} source/destination
	// reduces to one of these nine plus Dup.
	OpLoadLocal
	OpLoadLocalRef
	OpStoreLocal
	OpStoreLocalRef
	OpLoadFromRef
	OpStoreToRef
	OpDup

	// Constants.
	OpLoadNull
	OpLoadBool
	OpLoadInt
	OpLoadUInt
	OpLoadReal
	OpLoadString
	OpLoadArgCount

	// Fields and static/indexed storage.
	OpLoadField
	OpStoreField
	OpLoadFieldRef
	OpLoadStaticField
	OpStoreStaticField
	OpLoadStaticFieldRef
	OpLoadMember
	OpStoreMember
	OpLoadMemberRef
	OpLoadIndex
	OpStoreIndex

	// Control flow.
	OpBranch
	OpBranchIfNull
	OpBranchIfNotNull
	OpBranchIfFalse
	OpBranchIfTrue
	OpBranchCompare // fused compare+branch, see IsBranchComparisonOperator
	OpSwitch
	OpLeave
	OpEndFinally
	OpReturn
	OpReturnNull
	OpThrow
	OpRethrow

	// Calls.
	OpCall
	OpCallMember
	OpStaticCall
	OpApply
	OpStaticApply
	OpNewObject

	// Operators.
	OpOperator
	OpUnaryOperator
	OpCompareEq
	OpCompare
	OpConcat
)

// InstrFlags mirrors ee/instructions.h's InstrFlags bitset, describing the
// shape of an intermediate instruction for the analyzer and the peephole
// passes without needing a type switch on every instruction kind.
type InstrFlags uint32

const (
	FlagNone                InstrFlags = 0
	FlagHasIncomingBranches InstrFlags = 1 << (iota - 1)
	FlagHasInput
	FlagHasOutput
	FlagInputOnStack
	FlagBranch
	FlagSwitch
	FlagLoadLocal
	FlagStoreLocal
	FlagDup
	FlagAcceptsRefs
	FlagPushesRef
)

const FlagHasInOut = FlagHasInput | FlagHasOutput

func (f InstrFlags) Has(bit InstrFlags) bool { return f&bit != 0 }

// StackChange describes how many Values an instruction removes from, then
// adds to, the eval stack. It mirrors ee/instructions.h's StackChange.
type StackChange struct {
	Removed uint16
	Added   uint16
}

var stackChangeEmpty = StackChange{}

// JumpTarget mirrors the original's union JumpTarget: a branch offset is
// read from the source stream as a signed relative offset, translated to
// an absolute source offset and then to a MethodBuilder index while the
// builder is mutable, and translated back to a relative offset only once,
// at final emission.
type JumpTarget struct {
	// Offset is a relative byte offset; meaningful only before or after
	// the builder's index-resolution pass.
	Offset int32
	// Index is a MethodBuilder slice index; meaningful only between
	// MethodInitializer's relinkBranchTargets and patchFinalOffsets.
	Index  int
	UseIdx bool
}

func JumpFromOffset(off int32) JumpTarget { return JumpTarget{Offset: off} }
func JumpFromIndex(idx int) JumpTarget    { return JumpTarget{Index: idx, UseIdx: true} }

// Instruction is one intermediate-form instruction. Concrete shapes
// (instructions_locals.go, instructions_const.go, ...) implement it;
// MethodBuilder stores them behind this interface because, unlike the
// teacher's fixed 8-byte record, operand shapes genuinely vary (branch
// target, switch table, call signature) here.
type Instruction interface {
	Opcode() IntermediateOpcode
	Flags() InstrFlags
	// ArgsSize is the encoded size, in bytes, of this instruction's
	// operands in the final emitted stream (not counting the opcode
	// byte itself).
	ArgsSize() int
	StackChange() StackChange
	// Emit appends this instruction's final encoded form (opcode byte
	// followed by operands) to buf.
	Emit(buf *MethodBuffer)
}

// baseInstr factors the flags/stack-change bookkeeping shared by every
// concrete instruction type.
type baseInstr struct {
	op    IntermediateOpcode
	flags InstrFlags
	sc    StackChange
}

func (b baseInstr) Opcode() IntermediateOpcode { return b.op }
func (b baseInstr) Flags() InstrFlags          { return b.flags }
func (b baseInstr) StackChange() StackChange   { return b.sc }

// IsBranchComparisonOperator reports whether op is one of the two
// comparison opcodes (eq, and cmp carrying lt/lte/gt/gte) that
// MethodInitializer can fuse into the branch immediately following them,
// per ee/methodinitializer.h's IsBranchComparisonOperator.
func IsBranchComparisonOperator(op IntermediateOpcode) bool {
	switch op {
	case OpCompareEq, OpCompare:
		return true
	}
	return false
}
