package vm

// DupStoreLocal is the fused form of a Dup immediately followed by a
// StoreLocal, held as one builder entry: it emits the dup opcode followed
// by the stloc opcode, so the value ends up in the slot and still on the
// stack. MethodInitializer's dup+store-local fold produces this whenever
// it sees that exact pair (see methodinitializer.go's
// tryFoldDupStoreLocal).
type DupStoreLocal struct {
	baseInstr
	Slot LocalOffset
}

func NewDupStoreLocal(slot LocalOffset) *DupStoreLocal {
	return &DupStoreLocal{
		baseInstr: baseInstr{op: OpStoreLocal, flags: FlagHasInOut | FlagStoreLocal | FlagDup, sc: StackChange{Removed: 1, Added: 1}},
		Slot:      slot,
	}
}

func (i *DupStoreLocal) ArgsSize() int { return 5 }
func (i *DupStoreLocal) Emit(buf *MethodBuffer) {
	buf.WriteByte(byte(opcodeDup))
	buf.WriteByte(byte(opcodeStoreLocal))
	buf.WriteUint32(uint32(i.Slot))
}
