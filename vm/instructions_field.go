package vm

// FieldToken identifies a resolved field member (see
// TokenResolver.FieldFromToken).
type FieldToken struct {
	Field *Field
}

// LoadField pops an object reference and pushes the value of one of its
// instance fields. Per the field-access synchronization asymmetry in
// SPEC_FULL.md's Open Question decisions, this direct form is
// unsynchronized; only LoadFieldRef takes the per-object field lock.
type LoadField struct {
	baseInstr
	Field *Field
}

func NewLoadField(f *Field) *LoadField {
	return &LoadField{baseInstr: baseInstr{op: OpLoadField, flags: FlagHasInOut, sc: StackChange{Removed: 1, Added: 1}}, Field: f}
}
func (i *LoadField) ArgsSize() int          { return 4 }
func (i *LoadField) Emit(buf *MethodBuffer) { buf.WriteByte(byte(opcodeLoadField)); buf.WriteUint32(uint32(i.Field.Offset)) }

// StoreField pops a value and an object reference (value on top) and
// stores it into the field, unsynchronized.
type StoreField struct {
	baseInstr
	Field *Field
}

func NewStoreField(f *Field) *StoreField {
	return &StoreField{baseInstr: baseInstr{op: OpStoreField, flags: FlagHasInput, sc: StackChange{Removed: 2}}, Field: f}
}
func (i *StoreField) ArgsSize() int          { return 4 }
func (i *StoreField) Emit(buf *MethodBuffer) { buf.WriteByte(byte(opcodeStoreField)); buf.WriteUint32(uint32(i.Field.Offset)) }

// LoadFieldRef pops an object reference and pushes a KindFieldRef Value
// pointing at the field's storage cell. This is the reference-mediated
// form; accesses through the resulting reference take the field's lock.
type LoadFieldRef struct {
	baseInstr
	Field *Field
}

func NewLoadFieldRef(f *Field) *LoadFieldRef {
	return &LoadFieldRef{baseInstr: baseInstr{op: OpLoadFieldRef, flags: FlagHasInOut | FlagPushesRef, sc: StackChange{Removed: 1, Added: 1}}, Field: f}
}
func (i *LoadFieldRef) ArgsSize() int { return 4 }
func (i *LoadFieldRef) Emit(buf *MethodBuffer) {
	buf.WriteByte(byte(opcodeLoadFieldRef))
	buf.WriteUint32(uint32(i.Field.Offset))
}

// LoadStaticField pushes the value of a static field, identified by a
// token resolved once at parse time.
type LoadStaticField struct {
	baseInstr
	Field *Field
}

func NewLoadStaticField(f *Field) *LoadStaticField {
	return &LoadStaticField{baseInstr: baseInstr{op: OpLoadStaticField, flags: FlagHasOutput, sc: StackChange{Added: 1}}, Field: f}
}
func (i *LoadStaticField) ArgsSize() int          { return 4 }
func (i *LoadStaticField) Emit(buf *MethodBuffer) { buf.WriteByte(byte(opcodeLoadStaticField)); buf.WriteUint32(uint32(i.Field.Offset)) }

// StoreStaticField pops a value and stores it into a static field.
type StoreStaticField struct {
	baseInstr
	Field *Field
}

func NewStoreStaticField(f *Field) *StoreStaticField {
	return &StoreStaticField{baseInstr: baseInstr{op: OpStoreStaticField, flags: FlagHasInput, sc: StackChange{Removed: 1}}, Field: f}
}
func (i *StoreStaticField) ArgsSize() int { return 4 }
func (i *StoreStaticField) Emit(buf *MethodBuffer) {
	buf.WriteByte(byte(opcodeStoreStaticField))
	buf.WriteUint32(uint32(i.Field.Offset))
}

// LoadStaticFieldRef pushes a KindStaticRef Value pointing at a static
// field's storage cell.
type LoadStaticFieldRef struct {
	baseInstr
	Field *Field
}

func NewLoadStaticFieldRef(f *Field) *LoadStaticFieldRef {
	return &LoadStaticFieldRef{baseInstr: baseInstr{op: OpLoadStaticFieldRef, flags: FlagHasOutput | FlagPushesRef, sc: StackChange{Added: 1}}, Field: f}
}
func (i *LoadStaticFieldRef) ArgsSize() int { return 4 }
func (i *LoadStaticFieldRef) Emit(buf *MethodBuffer) {
	buf.WriteByte(byte(opcodeLoadStaticFieldRef))
	buf.WriteUint32(uint32(i.Field.Offset))
}

// LoadMember and StoreMember access a dynamically-named member (resolved
// at runtime via the object's type, not at parse time), used when the
// member name is only known as a runtime string value on the stack.
type LoadMember struct{ baseInstr }

func NewLoadMember() *LoadMember {
	return &LoadMember{baseInstr{op: OpLoadMember, flags: FlagHasInOut, sc: StackChange{Removed: 2, Added: 1}}}
}
func (i *LoadMember) ArgsSize() int          { return 0 }
func (i *LoadMember) Emit(buf *MethodBuffer) { buf.WriteByte(byte(opcodeLoadMember)) }

type StoreMember struct{ baseInstr }

func NewStoreMember() *StoreMember {
	return &StoreMember{baseInstr{op: OpStoreMember, flags: FlagHasInput, sc: StackChange{Removed: 3}}}
}
func (i *StoreMember) ArgsSize() int          { return 0 }
func (i *StoreMember) Emit(buf *MethodBuffer) { buf.WriteByte(byte(opcodeStoreMember)) }

type LoadMemberRef struct{ baseInstr }

func NewLoadMemberRef() *LoadMemberRef {
	return &LoadMemberRef{baseInstr{op: OpLoadMemberRef, flags: FlagHasInOut | FlagPushesRef, sc: StackChange{Removed: 2, Added: 1}}}
}
func (i *LoadMemberRef) ArgsSize() int          { return 0 }
func (i *LoadMemberRef) Emit(buf *MethodBuffer) { buf.WriteByte(byte(opcodeLoadMemberRef)) }

// LoadIndex and StoreIndex implement the indexer protocol (obj[key]).
type LoadIndex struct {
	baseInstr
	ArgCount int
}

func NewLoadIndex(argCount int) *LoadIndex {
	return &LoadIndex{baseInstr: baseInstr{op: OpLoadIndex, flags: FlagHasInOut, sc: StackChange{Removed: uint16(argCount + 1), Added: 1}}, ArgCount: argCount}
}
func (i *LoadIndex) ArgsSize() int { return 2 }
func (i *LoadIndex) Emit(buf *MethodBuffer) {
	buf.WriteByte(byte(opcodeLoadIndex))
	buf.WriteUint16(uint16(i.ArgCount))
}

type StoreIndex struct {
	baseInstr
	ArgCount int
}

func NewStoreIndex(argCount int) *StoreIndex {
	return &StoreIndex{baseInstr: baseInstr{op: OpStoreIndex, flags: FlagHasInput, sc: StackChange{Removed: uint16(argCount + 2)}}, ArgCount: argCount}
}
func (i *StoreIndex) ArgsSize() int { return 2 }
func (i *StoreIndex) Emit(buf *MethodBuffer) {
	buf.WriteByte(byte(opcodeStoreIndex))
	buf.WriteUint16(uint16(i.ArgCount))
}
