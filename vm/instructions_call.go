package vm

// Call invokes a statically-resolved instance method overload. The
// instance and ArgCount arguments are already on the stack (instance
// deepest, last argument on top); the result replaces them.
type Call struct {
	baseInstr
	Overload      *MethodOverload
	ArgCount      int
	resolvedIndex uint32
}

func NewCall(m *MethodOverload, argCount int) *Call {
	return &Call{
		baseInstr: baseInstr{op: OpCall, flags: FlagHasInOut, sc: StackChange{Removed: uint16(argCount + 1), Added: 1}},
		Overload:  m, ArgCount: argCount,
	}
}
func (i *Call) ArgsSize() int { return 6 }
func (i *Call) Emit(buf *MethodBuffer) {
	buf.WriteByte(byte(opcodeCall))
	buf.WriteUint16(uint16(i.ArgCount))
	// The overload pointer itself is resolved once at parse time and
	// carried in the intermediate instruction; WriteInitializedBody
	// patches in the final index into the method's resolved-overload
	// table immediately before this Emit call.
	buf.WriteUint32(i.resolvedIndex)
}

// resolvedIndex is filled in by MethodInitializer.WriteInitializedBody
// right before Emit, once the owning method's resolved-overload table has
// a stable index for Overload.
func (i *Call) SetResolvedIndex(idx uint32) { i.resolvedIndex = idx }

// CallMember invokes a member resolved dynamically by name at runtime
// (the name is a stack value, not a parse-time token).
type CallMember struct {
	baseInstr
	ArgCount int
}

func NewCallMember(argCount int) *CallMember {
	return &CallMember{baseInstr: baseInstr{op: OpCallMember, flags: FlagHasInOut, sc: StackChange{Removed: uint16(argCount + 2), Added: 1}}, ArgCount: argCount}
}
func (i *CallMember) ArgsSize() int { return 2 }
func (i *CallMember) Emit(buf *MethodBuffer) {
	buf.WriteByte(byte(opcodeCallMember))
	buf.WriteUint16(uint16(i.ArgCount))
}

// StaticCall invokes a statically-resolved static method overload (no
// instance argument).
type StaticCall struct {
	baseInstr
	Overload      *MethodOverload
	ArgCount      int
	resolvedIndex uint32
}

func NewStaticCall(m *MethodOverload, argCount int) *StaticCall {
	return &StaticCall{
		baseInstr: baseInstr{op: OpStaticCall, flags: FlagHasInOut, sc: StackChange{Removed: uint16(argCount), Added: 1}},
		Overload:  m, ArgCount: argCount,
	}
}
func (i *StaticCall) ArgsSize() int { return 6 }
func (i *StaticCall) Emit(buf *MethodBuffer) {
	buf.WriteByte(byte(opcodeStaticCall))
	buf.WriteUint16(uint16(i.ArgCount))
	buf.WriteUint32(i.resolvedIndex)
}
func (i *StaticCall) SetResolvedIndex(idx uint32) { i.resolvedIndex = idx }

// Apply invokes an instance method overload chosen at runtime by arity
// (an overloaded member whose exact overload depends on the actual
// argument count, e.g. through a native varargs bridge).
type Apply struct {
	baseInstr
	Member        *Member
	resolvedIndex uint32
}

func NewApply(m *Member) *Apply {
	return &Apply{baseInstr: baseInstr{op: OpApply, flags: FlagHasInOut, sc: StackChange{Removed: 3, Added: 1}}, Member: m}
}
func (i *Apply) ArgsSize() int          { return 4 }
func (i *Apply) Emit(buf *MethodBuffer) { buf.WriteByte(byte(opcodeApply)); buf.WriteUint32(i.resolvedIndex) }
func (i *Apply) SetResolvedIndex(idx uint32) { i.resolvedIndex = idx }

// StaticApply is Apply's static-method counterpart.
type StaticApply struct {
	baseInstr
	Member        *Member
	resolvedIndex uint32
}

func NewStaticApply(m *Member) *StaticApply {
	return &StaticApply{baseInstr: baseInstr{op: OpStaticApply, flags: FlagHasInOut, sc: StackChange{Removed: 2, Added: 1}}, Member: m}
}
func (i *StaticApply) ArgsSize() int { return 4 }
func (i *StaticApply) Emit(buf *MethodBuffer) {
	buf.WriteByte(byte(opcodeStaticApply))
	buf.WriteUint32(i.resolvedIndex)
}
func (i *StaticApply) SetResolvedIndex(idx uint32) { i.resolvedIndex = idx }

// NewObject constructs an instance of Type, invoking its ArgCount-arity
// constructor, and pushes the new object.
type NewObject struct {
	baseInstr
	Type          *Type
	ArgCount      int
	resolvedIndex uint32
}

func NewNewObject(t *Type, argCount int) *NewObject {
	return &NewObject{
		baseInstr: baseInstr{op: OpNewObject, flags: FlagHasInOut, sc: StackChange{Removed: uint16(argCount), Added: 1}},
		Type:      t, ArgCount: argCount,
	}
}
func (i *NewObject) ArgsSize() int { return 6 }
func (i *NewObject) Emit(buf *MethodBuffer) {
	buf.WriteByte(byte(opcodeNewObject))
	buf.WriteUint16(uint16(i.ArgCount))
	buf.WriteUint32(i.resolvedIndex)
}
func (i *NewObject) SetResolvedIndex(idx uint32) { i.resolvedIndex = idx }
