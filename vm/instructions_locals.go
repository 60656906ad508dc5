package vm

// LocalOffset names one slot of a frame's Locals slice by index (the
// teacher's own Instruction.register field addresses locals by index,
// never by raw byte offset, so this port keeps that idiom).
type LocalOffset int

// LoadLocal pushes the value currently in slot Slot.
type LoadLocal struct {
	baseInstr
	Slot LocalOffset
}

func NewLoadLocal(slot LocalOffset) *LoadLocal {
	return &LoadLocal{
		baseInstr: baseInstr{op: OpLoadLocal, flags: FlagHasOutput | FlagLoadLocal, sc: StackChange{Added: 1}},
		Slot:      slot,
	}
}

func (i *LoadLocal) ArgsSize() int { return 4 }
func (i *LoadLocal) Emit(buf *MethodBuffer) {
	buf.WriteByte(byte(opcodeLoadLocal))
	buf.WriteUint32(uint32(i.Slot))
}

// StoreLocal pops the top of stack into slot Slot.
type StoreLocal struct {
	baseInstr
	Slot LocalOffset
}

func NewStoreLocal(slot LocalOffset) *StoreLocal {
	return &StoreLocal{
		baseInstr: baseInstr{op: OpStoreLocal, flags: FlagHasInput | FlagStoreLocal, sc: StackChange{Removed: 1}},
		Slot:      slot,
	}
}

func (i *StoreLocal) ArgsSize() int { return 4 }
func (i *StoreLocal) Emit(buf *MethodBuffer) {
	buf.WriteByte(byte(opcodeStoreLocal))
	buf.WriteUint32(uint32(i.Slot))
}

// LoadLocalRef pushes a KindLocalRef Value pointing at slot Slot, for
// by-reference argument passing.
type LoadLocalRef struct {
	baseInstr
	Slot LocalOffset
}

func NewLoadLocalRef(slot LocalOffset) *LoadLocalRef {
	return &LoadLocalRef{
		baseInstr: baseInstr{op: OpLoadLocalRef, flags: FlagHasOutput | FlagPushesRef, sc: StackChange{Added: 1}},
		Slot:      slot,
	}
}

func (i *LoadLocalRef) ArgsSize() int { return 4 }
func (i *LoadLocalRef) Emit(buf *MethodBuffer) {
	buf.WriteByte(byte(opcodeLoadLocalRef))
	buf.WriteUint32(uint32(i.Slot))
}

// StoreLocalRef pops a KindLocalRef (or other ref-kind) Value and stores
// its dereferenced value into slot Slot.
type StoreLocalRef struct {
	baseInstr
	Slot LocalOffset
}

func NewStoreLocalRef(slot LocalOffset) *StoreLocalRef {
	return &StoreLocalRef{
		baseInstr: baseInstr{op: OpStoreLocalRef, flags: FlagHasInput | FlagAcceptsRefs, sc: StackChange{Removed: 1}},
		Slot:      slot,
	}
}

func (i *StoreLocalRef) ArgsSize() int { return 4 }
func (i *StoreLocalRef) Emit(buf *MethodBuffer) {
	buf.WriteByte(byte(opcodeStoreLocalRef))
	buf.WriteUint32(uint32(i.Slot))
}

// LoadFromRef pops a reference Value and pushes the Value it points at.
type LoadFromRef struct{ baseInstr }

func NewLoadFromRef() *LoadFromRef {
	return &LoadFromRef{baseInstr{op: OpLoadFromRef, flags: FlagHasInOut | FlagAcceptsRefs, sc: StackChange{Removed: 1, Added: 1}}}
}

func (i *LoadFromRef) ArgsSize() int { return 0 }
func (i *LoadFromRef) Emit(buf *MethodBuffer) { buf.WriteByte(byte(opcodeLoadFromRef)) }

// StoreToRef pops a value and a reference (value on top) and stores the
// value into the referent cell.
type StoreToRef struct{ baseInstr }

func NewStoreToRef() *StoreToRef {
	return &StoreToRef{baseInstr{op: OpStoreToRef, flags: FlagHasInput | FlagAcceptsRefs, sc: StackChange{Removed: 2}}}
}

func (i *StoreToRef) ArgsSize() int { return 0 }
func (i *StoreToRef) Emit(buf *MethodBuffer) { buf.WriteByte(byte(opcodeStoreToRef)) }

// MoveLocal copies slot From directly into slot To without an
// intervening push/pop of the eval stack. MethodInitializer's load-fold
// produces this whenever it sees a LoadLocal immediately followed by a
// StoreLocal with nothing else observing the stack in between (see
// methodinitializer.go's tryFoldLoadStoreMove).
type MoveLocal struct {
	baseInstr
	From, To LocalOffset
}

func NewMoveLocal(from, to LocalOffset) *MoveLocal {
	return &MoveLocal{baseInstr: baseInstr{op: OpLoadLocal, flags: FlagLoadLocal | FlagStoreLocal, sc: stackChangeEmpty}, From: from, To: to}
}

func (i *MoveLocal) ArgsSize() int { return 8 }
func (i *MoveLocal) Emit(buf *MethodBuffer) {
	buf.WriteByte(byte(opcodeMoveLocal))
	buf.WriteUint32(uint32(i.From))
	buf.WriteUint32(uint32(i.To))
}

// Dup duplicates the top of stack.
type Dup struct{ baseInstr }

func NewDup() *Dup {
	return &Dup{baseInstr{op: OpDup, flags: FlagHasInOut | FlagDup, sc: StackChange{Removed: 1, Added: 2}}}
}

func (i *Dup) ArgsSize() int          { return 0 }
func (i *Dup) Emit(buf *MethodBuffer) { buf.WriteByte(byte(opcodeDup)) }
