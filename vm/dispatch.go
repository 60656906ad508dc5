package vm

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"sync"
	"unsafe"
)

// Dispatcher executes every opcode whose semantics depend on the concrete
// object/type model a host supplies: field and member access, calls, and
// operator application. Thread.execOne handles everything whose meaning
// is fixed by the bytecode format itself (locals, branches, stack
// shuffling) directly; anything that needs to consult a Type's field
// layout, method table, or operator slots is routed through this seam
// instead, keeping those policies out of the core interpreter loop
// (spec.md §1 excludes the full type system and module loader).
type Dispatcher interface {
	Exec(t *Thread, frame *StackFrame, op opcode, buf []byte, pos *int) (nextIP int, signal unwindSignal, result Value, thrown error)
	Compare(lhs, rhs Value, op CompareOp) bool
}

// defaultDispatcher is the Dispatcher a VM uses unless a host supplies its
// own: plain field-slot object semantics sufficient to run the bytecode
// forms this engine's own assembler emits, with static storage held in a
// table keyed by the byte offset a LoadStaticField/StoreStaticField
// instruction carries (the only identity that survives into the emitted
// stream; see module.go's callSite for why calls need a side table of
// their own instead).
type defaultDispatcher struct {
	statics sync.Map // map[uint32]*Value
}

func newDefaultDispatcher() *defaultDispatcher { return &defaultDispatcher{} }

func (d *defaultDispatcher) staticCell(offset uint32) *Value {
	cell, _ := d.statics.LoadOrStore(offset, new(Value))
	return cell.(*Value)
}

func readU32At(buf []byte, pos *int) uint32 {
	v := binary.LittleEndian.Uint32(buf[*pos:])
	*pos += 4
	return v
}

func readU16At(buf []byte, pos *int) uint16 {
	v := binary.LittleEndian.Uint16(buf[*pos:])
	*pos += 2
	return v
}

func readByteAt(buf []byte, pos *int) byte {
	v := buf[*pos]
	*pos++
	return v
}

func storageOf(v Value) *ObjectStorage { return (*ObjectStorage)(v.Ptr) }

func bodyOf(frame *StackFrame) *emittedBody { return frame.Method.Body() }

// findField walks t's supertype chain looking for a field named name,
// for the two dynamically-named member opcodes (a statically-resolved
// access has its *Field resolved at parse time through
// TokenResolver.FieldFromToken instead).
func findField(t *Type, name string) *Field {
	for cur := t; cur != nil; cur = cur.Supertype {
		for _, f := range cur.Fields {
			if f.Name == name {
				return f
			}
		}
	}
	return nil
}

// resolveOverload picks the overload of m matching argCount, preferring
// an exact match and falling back to the lowest-arity variadic overload
// that can absorb it.
func resolveOverload(m *Member, argCount int) *MethodOverload {
	var variadic *MethodOverload
	for _, ov := range m.Overloads {
		if ov.ArgCount == argCount && !ov.IsVariadic {
			return ov
		}
		if ov.IsVariadic && argCount >= ov.ArgCount && (variadic == nil || ov.ArgCount < variadic.ArgCount) {
			variadic = ov
		}
	}
	return variadic
}

func (d *defaultDispatcher) Exec(t *Thread, frame *StackFrame, op opcode, buf []byte, pos *int) (int, unwindSignal, Value, error) {
	switch op {
	case opcodeLoadField:
		idx := readU32At(buf, pos)
		obj := frame.Pop()
		frame.Push(storageOf(obj).Fields[idx])

	case opcodeStoreField:
		idx := readU32At(buf, pos)
		val := frame.Pop()
		obj := frame.Pop()
		storageOf(obj).Fields[idx] = val

	case opcodeLoadFieldRef:
		idx := readU32At(buf, pos)
		obj := frame.Pop()
		storage := storageOf(obj)
		frame.Push(RefToField(&storage.Fields[idx], storage.FieldLock()))

	case opcodeLoadStaticField:
		idx := readU32At(buf, pos)
		frame.Push(*d.staticCell(idx))

	case opcodeStoreStaticField:
		idx := readU32At(buf, pos)
		val := frame.Pop()
		*d.staticCell(idx) = val

	case opcodeLoadStaticFieldRef:
		idx := readU32At(buf, pos)
		frame.Push(RefTo(KindStaticRef, d.staticCell(idx)))

	case opcodeLoadMember:
		name := Content(frame.Pop())
		obj := frame.Pop()
		f := findField(obj.Type, name)
		if f == nil {
			return *pos, unwindThrow, Value{}, fmt.Errorf("vm: no member %q on type %s", name, obj.Type.Name)
		}
		frame.Push(storageOf(obj).Fields[f.Offset])

	case opcodeStoreMember:
		val := frame.Pop()
		name := Content(frame.Pop())
		obj := frame.Pop()
		f := findField(obj.Type, name)
		if f == nil {
			return *pos, unwindThrow, Value{}, fmt.Errorf("vm: no member %q on type %s", name, obj.Type.Name)
		}
		storageOf(obj).Fields[f.Offset] = val

	case opcodeLoadMemberRef:
		name := Content(frame.Pop())
		obj := frame.Pop()
		f := findField(obj.Type, name)
		if f == nil {
			return *pos, unwindThrow, Value{}, fmt.Errorf("vm: no member %q on type %s", name, obj.Type.Name)
		}
		storage := storageOf(obj)
		frame.Push(RefToField(&storage.Fields[f.Offset], storage.FieldLock()))

	case opcodeLoadIndex:
		argCount := int(readU16At(buf, pos))
		if argCount != 1 {
			return *pos, unwindThrow, Value{}, fmt.Errorf("vm: indexer with %d arguments is not supported", argCount)
		}
		key := frame.Pop()
		obj := frame.Pop()
		idx := int(key.Int())
		fields := storageOf(obj).Fields
		if idx < 0 || idx >= len(fields) {
			return *pos, unwindThrow, Value{}, fmt.Errorf("vm: index %d out of range (len %d)", idx, len(fields))
		}
		frame.Push(fields[idx])

	case opcodeStoreIndex:
		argCount := int(readU16At(buf, pos))
		if argCount != 1 {
			return *pos, unwindThrow, Value{}, fmt.Errorf("vm: indexer with %d arguments is not supported", argCount)
		}
		val := frame.Pop()
		key := frame.Pop()
		obj := frame.Pop()
		idx := int(key.Int())
		fields := storageOf(obj).Fields
		if idx < 0 || idx >= len(fields) {
			return *pos, unwindThrow, Value{}, fmt.Errorf("vm: index %d out of range (len %d)", idx, len(fields))
		}
		fields[idx] = val

	case opcodeCall:
		argCount := int(readU16At(buf, pos))
		siteIdx := readU32At(buf, pos)
		site := bodyOf(frame).callSites[siteIdx]
		args := make([]Value, argCount+1)
		for i := argCount; i >= 0; i-- {
			args[i] = frame.Pop()
		}
		result, err := t.Evaluate(site.Overload, args)
		if err != nil {
			return *pos, unwindThrow, Value{}, err
		}
		frame.Push(result)

	case opcodeCallMember:
		argCount := int(readU16At(buf, pos))
		name := Content(frame.Pop())
		args := make([]Value, argCount)
		for i := argCount - 1; i >= 0; i-- {
			args[i] = frame.Pop()
		}
		obj := frame.Pop()
		member, ok := obj.Type.Methods[name]
		if !ok {
			return *pos, unwindThrow, Value{}, fmt.Errorf("vm: no method %q on type %s", name, obj.Type.Name)
		}
		overload := resolveOverload(member, len(args)+1)
		if overload == nil {
			return *pos, unwindThrow, Value{}, fmt.Errorf("vm: no overload of %q on type %s accepts %d arguments", name, obj.Type.Name, len(args))
		}
		callArgs := append([]Value{obj}, args...)
		result, err := t.Evaluate(overload, callArgs)
		if err != nil {
			return *pos, unwindThrow, Value{}, err
		}
		frame.Push(result)

	case opcodeStaticCall:
		argCount := int(readU16At(buf, pos))
		siteIdx := readU32At(buf, pos)
		site := bodyOf(frame).callSites[siteIdx]
		args := make([]Value, argCount)
		for i := argCount - 1; i >= 0; i-- {
			args[i] = frame.Pop()
		}
		result, err := t.Evaluate(site.Overload, args)
		if err != nil {
			return *pos, unwindThrow, Value{}, err
		}
		frame.Push(result)

	case opcodeApply:
		siteIdx := readU32At(buf, pos)
		site := bodyOf(frame).callSites[siteIdx]
		argCountVal := frame.Pop()
		argList := frame.Pop()
		instance := frame.Pop()
		n := int(argCountVal.Int())
		fields := storageOf(argList).Fields
		if n > len(fields) {
			n = len(fields)
		}
		overload := resolveOverload(site.Member, n+1)
		if overload == nil {
			return *pos, unwindThrow, Value{}, fmt.Errorf("vm: no overload of %q accepts %d arguments", site.Member.Name, n)
		}
		callArgs := make([]Value, 0, n+1)
		callArgs = append(callArgs, instance)
		callArgs = append(callArgs, fields[:n]...)
		result, err := t.Evaluate(overload, callArgs)
		if err != nil {
			return *pos, unwindThrow, Value{}, err
		}
		frame.Push(result)

	case opcodeStaticApply:
		siteIdx := readU32At(buf, pos)
		site := bodyOf(frame).callSites[siteIdx]
		argCountVal := frame.Pop()
		argList := frame.Pop()
		n := int(argCountVal.Int())
		fields := storageOf(argList).Fields
		if n > len(fields) {
			n = len(fields)
		}
		overload := resolveOverload(site.Member, n)
		if overload == nil {
			return *pos, unwindThrow, Value{}, fmt.Errorf("vm: no overload of %q accepts %d arguments", site.Member.Name, n)
		}
		result, err := t.Evaluate(overload, fields[:n])
		if err != nil {
			return *pos, unwindThrow, Value{}, err
		}
		frame.Push(result)

	case opcodeNewObject:
		argCount := int(readU16At(buf, pos))
		siteIdx := readU32At(buf, pos)
		site := bodyOf(frame).callSites[siteIdx]
		args := make([]Value, argCount)
		for i := argCount - 1; i >= 0; i-- {
			args[i] = frame.Pop()
		}
		storage := NewObjectStorage(site.Type)
		obj := NewObject(site.Type, unsafe.Pointer(storage))
		if site.Type.Constructor != nil {
			ctorArgs := append([]Value{obj}, args...)
			if _, err := t.Evaluate(site.Type.Constructor, ctorArgs); err != nil {
				return *pos, unwindThrow, Value{}, err
			}
		}
		frame.Push(obj)

	case opcodeOperator:
		op := BinaryOp(readByteAt(buf, pos))
		rhs := frame.Pop()
		lhs := frame.Pop()
		result, err := applyBinary(lhs, rhs, op)
		if err != nil {
			return *pos, unwindThrow, Value{}, err
		}
		frame.Push(result)

	case opcodeUnaryOperator:
		op := UnaryOp(readByteAt(buf, pos))
		v := frame.Pop()
		result, err := applyUnary(v, op)
		if err != nil {
			return *pos, unwindThrow, Value{}, err
		}
		frame.Push(result)

	case opcodeCompareEq:
		rhs := frame.Pop()
		lhs := frame.Pop()
		frame.Push(boolValueFrom(lhs, valuesEqual(lhs, rhs)))

	case opcodeCompare:
		op := CompareOp(readByteAt(buf, pos))
		rhs := frame.Pop()
		lhs := frame.Pop()
		frame.Push(boolValueFrom(lhs, d.Compare(lhs, rhs, op)))

	case opcodeConcat:
		count := int(readU16At(buf, pos))
		parts := make([]string, count)
		for i := count - 1; i >= 0; i-- {
			parts[i] = Content(frame.Pop())
		}
		frame.Push(t.vm.strings.Get(t.vm.strings.Intern(strings.Join(parts, ""))))

	default:
		return *pos, unwindThrow, Value{}, fmt.Errorf("vm: dispatcher does not handle opcode %s", op)
	}
	return *pos, unwindNone, Value{}, nil
}

// boolValueFrom tags a comparison result with around's primitive type,
// since a Value's payload carries no type information of its own beyond
// what its Type field records.
func boolValueFrom(around Value, b bool) Value {
	t := around.Type
	return NewBool(t, b)
}

func (d *defaultDispatcher) Compare(lhs, rhs Value, op CompareOp) bool {
	if op == CompareEqual {
		return valuesEqual(lhs, rhs)
	}
	c, ok := compareOrdered(lhs, rhs)
	if !ok {
		return false
	}
	switch op {
	case CompareLess:
		return c < 0
	case CompareLessEqual:
		return c <= 0
	case CompareGreater:
		return c > 0
	case CompareGreaterEqual:
		return c >= 0
	}
	return false
}

func isRealType(t *Type) bool     { return t != nil && t.Name == "Real" }
func isUnsignedType(t *Type) bool { return t != nil && t.Name == "UInt" }
func isStringType(t *Type) bool   { return t != nil && t.Name == "String" }

func valuesEqual(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindNull:
		return true
	case KindPrimitive:
		if a.Type != b.Type {
			return false
		}
		if isRealType(a.Type) {
			return a.Real() == b.Real()
		}
		return a.Raw == b.Raw
	case KindObject:
		if isStringType(a.Type) && isStringType(b.Type) {
			return Content(a) == Content(b)
		}
		return a.Ptr == b.Ptr
	default:
		return a.Ptr == b.Ptr
	}
}

func compareOrdered(a, b Value) (int, bool) {
	if a.Kind == KindObject && b.Kind == KindObject && isStringType(a.Type) && isStringType(b.Type) {
		return strings.Compare(Content(a), Content(b)), true
	}
	if a.Kind != KindPrimitive || b.Kind != KindPrimitive {
		return 0, false
	}
	switch {
	case isRealType(a.Type) || isRealType(b.Type):
		x, y := a.Real(), b.Real()
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		default:
			return 0, true
		}
	case isUnsignedType(a.Type) || isUnsignedType(b.Type):
		x, y := a.UInt(), b.UInt()
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		default:
			return 0, true
		}
	default:
		x, y := a.Int(), b.Int()
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		default:
			return 0, true
		}
	}
}

func applyBinary(lhs, rhs Value, op BinaryOp) (Value, error) {
	if lhs.Kind != KindPrimitive || rhs.Kind != KindPrimitive {
		return Value{}, fmt.Errorf("vm: binary operator requires primitive operands")
	}
	if isRealType(lhs.Type) || isRealType(rhs.Type) {
		a, b := lhs.Real(), rhs.Real()
		var r float64
		switch op {
		case OpAdd:
			r = a + b
		case OpSub:
			r = a - b
		case OpMul:
			r = a * b
		case OpDiv:
			r = a / b
		default:
			return Value{}, fmt.Errorf("vm: operator %d is not defined for Real operands", op)
		}
		return Value{Kind: KindPrimitive, Type: lhs.Type, Raw: math.Float64bits(r)}, nil
	}
	if isUnsignedType(lhs.Type) {
		a, b := lhs.UInt(), rhs.UInt()
		r, err := applyIntegerOp(op, a, b,
			func(x, y uint64) (uint64, error) {
				if y == 0 {
					return 0, fmt.Errorf("vm: division by zero")
				}
				return x / y, nil
			},
			func(x, y uint64) (uint64, error) {
				if y == 0 {
					return 0, fmt.Errorf("vm: division by zero")
				}
				return x % y, nil
			})
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindPrimitive, Type: lhs.Type, Raw: r}, nil
	}
	a, b := uint64(lhs.Int()), uint64(rhs.Int())
	r, err := applyIntegerOp(op, a, b,
		func(x, y uint64) (uint64, error) {
			if int64(y) == 0 {
				return 0, fmt.Errorf("vm: division by zero")
			}
			return uint64(int64(x) / int64(y)), nil
		},
		func(x, y uint64) (uint64, error) {
			if int64(y) == 0 {
				return 0, fmt.Errorf("vm: division by zero")
			}
			return uint64(int64(x) % int64(y)), nil
		})
	if err != nil {
		return Value{}, err
	}
	return Value{Kind: KindPrimitive, Type: lhs.Type, Raw: r}, nil
}

// applyIntegerOp factors the bitwise/shift/add/sub/mul cases shared by
// the signed and unsigned integer paths of applyBinary; div and mod are
// handed in as callbacks since they need sign-aware zero-checks the
// shared cases do not.
func applyIntegerOp(op BinaryOp, a, b uint64, div, mod func(uint64, uint64) (uint64, error)) (uint64, error) {
	switch op {
	case OpAdd:
		return a + b, nil
	case OpSub:
		return a - b, nil
	case OpMul:
		return a * b, nil
	case OpDiv:
		return div(a, b)
	case OpMod:
		return mod(a, b)
	case OpAnd:
		return a & b, nil
	case OpOr:
		return a | b, nil
	case OpXor:
		return a ^ b, nil
	case OpShiftLeft:
		return a << (b & 63), nil
	case OpShiftRight:
		return a >> (b & 63), nil
	}
	return 0, fmt.Errorf("vm: unknown binary operator %d", op)
}

func applyUnary(v Value, op UnaryOp) (Value, error) {
	if v.Kind != KindPrimitive {
		return Value{}, fmt.Errorf("vm: unary operator requires a primitive operand")
	}
	switch op {
	case UnaryNot:
		return NewBool(v.Type, !v.Bool()), nil
	case UnaryNegate:
		if isRealType(v.Type) {
			return Value{Kind: KindPrimitive, Type: v.Type, Raw: math.Float64bits(-v.Real())}, nil
		}
		return Value{Kind: KindPrimitive, Type: v.Type, Raw: uint64(-v.Int())}, nil
	case UnaryPlus:
		return v, nil
	case UnaryBitwiseNot:
		return Value{Kind: KindPrimitive, Type: v.Type, Raw: ^v.Raw}, nil
	}
	return Value{}, fmt.Errorf("vm: unknown unary operator %d", op)
}
