package vm

// LoadNull pushes the null sentinel.
type LoadNull struct{ baseInstr }

func NewLoadNull() *LoadNull {
	return &LoadNull{baseInstr{op: OpLoadNull, flags: FlagHasOutput, sc: StackChange{Added: 1}}}
}
func (i *LoadNull) ArgsSize() int          { return 0 }
func (i *LoadNull) Emit(buf *MethodBuffer) { buf.WriteByte(byte(opcodeLoadNull)) }

// LoadBool pushes a literal boolean.
type LoadBool struct {
	baseInstr
	Value bool
}

func NewLoadBool(v bool) *LoadBool {
	return &LoadBool{baseInstr: baseInstr{op: OpLoadBool, flags: FlagHasOutput, sc: StackChange{Added: 1}}, Value: v}
}
func (i *LoadBool) ArgsSize() int { return 1 }
func (i *LoadBool) Emit(buf *MethodBuffer) {
	buf.WriteByte(byte(opcodeLoadBool))
	if i.Value {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

// LoadInt pushes a literal signed integer.
type LoadInt struct {
	baseInstr
	Value int64
}

func NewLoadInt(v int64) *LoadInt {
	return &LoadInt{baseInstr: baseInstr{op: OpLoadInt, flags: FlagHasOutput, sc: StackChange{Added: 1}}, Value: v}
}
func (i *LoadInt) ArgsSize() int { return 8 }
func (i *LoadInt) Emit(buf *MethodBuffer) {
	buf.WriteByte(byte(opcodeLoadInt))
	buf.WriteUint64(uint64(i.Value))
}

// LoadUInt pushes a literal unsigned integer.
type LoadUInt struct {
	baseInstr
	Value uint64
}

func NewLoadUInt(v uint64) *LoadUInt {
	return &LoadUInt{baseInstr: baseInstr{op: OpLoadUInt, flags: FlagHasOutput, sc: StackChange{Added: 1}}, Value: v}
}
func (i *LoadUInt) ArgsSize() int { return 8 }
func (i *LoadUInt) Emit(buf *MethodBuffer) {
	buf.WriteByte(byte(opcodeLoadUInt))
	buf.WriteUint64(i.Value)
}

// LoadReal pushes a literal floating-point value.
type LoadReal struct {
	baseInstr
	Value float64
}

func NewLoadReal(v float64) *LoadReal {
	return &LoadReal{baseInstr: baseInstr{op: OpLoadReal, flags: FlagHasOutput, sc: StackChange{Added: 1}}, Value: v}
}
func (i *LoadReal) ArgsSize() int { return 8 }
func (i *LoadReal) Emit(buf *MethodBuffer) {
	buf.WriteByte(byte(opcodeLoadReal))
	buf.WriteUint64(NewReal(nil, i.Value).Raw)
}

// LoadString pushes an interned string reference resolved from a module
// token at parse time; StringID indexes the owning module's string pool.
type LoadString struct {
	baseInstr
	StringID uint32
}

func NewLoadString(id uint32) *LoadString {
	return &LoadString{baseInstr: baseInstr{op: OpLoadString, flags: FlagHasOutput, sc: StackChange{Added: 1}}, StringID: id}
}
func (i *LoadString) ArgsSize() int { return 4 }
func (i *LoadString) Emit(buf *MethodBuffer) {
	buf.WriteByte(byte(opcodeLoadString))
	buf.WriteUint32(i.StringID)
}

// LoadArgCount pushes the argument count the current call was actually
// made with (distinct from the overload's declared ArgCount when the
// overload is variadic).
type LoadArgCount struct{ baseInstr }

func NewLoadArgCount() *LoadArgCount {
	return &LoadArgCount{baseInstr{op: OpLoadArgCount, flags: FlagHasOutput, sc: StackChange{Added: 1}}}
}
func (i *LoadArgCount) ArgsSize() int          { return 0 }
func (i *LoadArgCount) Emit(buf *MethodBuffer) { buf.WriteByte(byte(opcodeLoadArgCount)) }
