package vm

// opcode is the one-byte tag written to the final emitted instruction
// stream and read back by the interpreter's dispatch loop. It is a
// distinct, smaller enumeration from IntermediateOpcode because several
// intermediate shapes (e.g. the fused comparison+branch family) collapse
// to one opcode parameterized by an operand, and because keeping it byte
// sized keeps the interpreter's dispatch table dense — the same shape as
// the teacher's Bytecode byte enum in vm/bytecode.go.
type opcode byte

const (
	opcodeNop opcode = iota

	opcodeLoadLocal
	opcodeStoreLocal
	opcodeLoadLocalRef
	opcodeStoreLocalRef
	opcodeLoadFromRef
	opcodeStoreToRef
	opcodeDup
	opcodeMoveLocal

	opcodeLoadNull
	opcodeLoadBool
	opcodeLoadInt
	opcodeLoadUInt
	opcodeLoadReal
	opcodeLoadString
	opcodeLoadArgCount

	opcodeLoadField
	opcodeStoreField
	opcodeLoadFieldRef
	opcodeLoadStaticField
	opcodeStoreStaticField
	opcodeLoadStaticFieldRef
	opcodeLoadMember
	opcodeStoreMember
	opcodeLoadMemberRef
	opcodeLoadIndex
	opcodeStoreIndex

	opcodeBranch
	opcodeBranchIfNull
	opcodeBranchIfNotNull
	opcodeBranchIfFalse
	opcodeBranchIfTrue
	opcodeBranchCompare
	opcodeSwitch
	opcodeLeave
	opcodeEndFinally
	opcodeReturn
	opcodeReturnNull
	opcodeThrow
	opcodeRethrow

	opcodeCall
	opcodeCallMember
	opcodeStaticCall
	opcodeApply
	opcodeStaticApply
	opcodeNewObject

	opcodeOperator
	opcodeUnaryOperator
	opcodeCompareEq
	opcodeCompare
	opcodeConcat
)

func (o opcode) String() string {
	if int(o) < len(opcodeNames) {
		return opcodeNames[o]
	}
	return "unknown-opcode"
}

var opcodeNames = [...]string{
	opcodeNop:                "nop",
	opcodeLoadLocal:          "ldloc",
	opcodeStoreLocal:         "stloc",
	opcodeLoadLocalRef:       "ldlocref",
	opcodeStoreLocalRef:      "stlocref",
	opcodeLoadFromRef:        "ldref",
	opcodeStoreToRef:         "stref",
	opcodeDup:                "dup",
	opcodeMoveLocal:          "movloc",
	opcodeLoadNull:           "ldnull",
	opcodeLoadBool:           "ldbool",
	opcodeLoadInt:            "ldint",
	opcodeLoadUInt:           "lduint",
	opcodeLoadReal:           "ldreal",
	opcodeLoadString:         "ldstr",
	opcodeLoadArgCount:       "ldargc",
	opcodeLoadField:          "ldfld",
	opcodeStoreField:         "stfld",
	opcodeLoadFieldRef:       "ldfldref",
	opcodeLoadStaticField:    "ldsfld",
	opcodeStoreStaticField:   "stsfld",
	opcodeLoadStaticFieldRef: "ldsfldref",
	opcodeLoadMember:         "ldmem",
	opcodeStoreMember:        "stmem",
	opcodeLoadMemberRef:      "ldmemref",
	opcodeLoadIndex:          "ldidx",
	opcodeStoreIndex:         "stidx",
	opcodeBranch:             "br",
	opcodeBranchIfNull:       "brnull",
	opcodeBranchIfNotNull:    "brinst",
	opcodeBranchIfFalse:      "brfalse",
	opcodeBranchIfTrue:       "brtrue",
	opcodeBranchCompare:      "brcmp",
	opcodeSwitch:             "switch",
	opcodeLeave:              "leave",
	opcodeEndFinally:         "endfinally",
	opcodeReturn:             "ret",
	opcodeReturnNull:         "retnull",
	opcodeThrow:              "throw",
	opcodeRethrow:            "rethrow",
	opcodeCall:               "call",
	opcodeCallMember:         "callmem",
	opcodeStaticCall:         "scall",
	opcodeApply:              "apply",
	opcodeStaticApply:        "sapply",
	opcodeNewObject:          "newobj",
	opcodeOperator:           "operator",
	opcodeUnaryOperator:      "unaryop",
	opcodeCompareEq:          "eq",
	opcodeCompare:            "cmp",
	opcodeConcat:             "concat",
}
