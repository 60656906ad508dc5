package vm

import (
	"encoding/binary"
	"fmt"
)

// sourceOpcode tags one instruction in a method's original,
// token-addressed source stream, as produced by a module loader before
// MethodParser has resolved any of its tokens. It is distinct from the
// intermediate IntermediateOpcode/opcode enums used post-resolution: the
// source stream still carries raw token operands (type/method/field
// tokens) that have not yet been looked up in the owning module.
type sourceOpcode byte

const (
	srcNop sourceOpcode = iota
	srcLoadLocal
	srcStoreLocal
	srcLoadLocalRef
	srcStoreLocalRef
	srcLoadFromRef
	srcStoreToRef
	srcDup
	srcLoadNull
	srcLoadFalse
	srcLoadTrue
	srcLoadInt
	srcLoadUInt
	srcLoadReal
	srcLoadString // token
	srcLoadArgCount
	srcLoadField      // token
	srcStoreField     // token
	srcLoadFieldRef   // token
	srcLoadStaticField      // token
	srcStoreStaticField     // token
	srcLoadStaticFieldRef   // token
	srcLoadMember
	srcStoreMember
	srcLoadMemberRef
	srcLoadIndex  // argCount
	srcStoreIndex // argCount
	srcBranch
	srcBranchIfNull
	srcBranchIfNotNull
	srcBranchIfFalse
	srcBranchIfTrue
	srcEq
	srcCompareLt
	srcCompareLte
	srcCompareGt
	srcCompareGte
	srcSwitch
	srcLeave
	srcEndFinally
	srcReturn
	srcReturnNull
	srcThrow
	srcRethrow
	srcCall       // token, argCount
	srcCallMember // argCount
	srcStaticCall // token, argCount
	srcApply      // token
	srcStaticApply // token
	srcNewObject  // token, argCount
	srcOperator    // byte
	srcUnaryOperator // byte
	srcConcat      // argCount
)

// TokenResolver is the set of module-level lookups MethodParser needs to
// turn a source-stream token into a concrete engine object. A module
// loader supplies the concrete implementation; resolving tokens is the
// only place the parser touches the owning module (see
// methodparser.h's *FromToken family).
type TokenResolver interface {
	// TypeFromToken resolves a type token, verifying it exists and is
	// accessible from the parsing context.
	TypeFromToken(token uint32) (*Type, error)
	// StringFromToken resolves a string token to an interned string id.
	StringFromToken(token uint32) (uint32, error)
	// MethodFromToken resolves a method token to its (possibly
	// overloaded) member, without picking an overload.
	MethodFromToken(token uint32) (*Member, error)
	// MethodOverloadFromToken resolves a method token and picks the
	// overload matching argCount, verifying the match exists.
	MethodOverloadFromToken(token uint32, argCount int) (*MethodOverload, error)
	// FieldFromToken resolves a field token, verifying it exists,
	// is accessible, and that its staticness matches shouldBeStatic.
	FieldFromToken(token uint32, shouldBeStatic bool) (*Field, error)
	// EnsureConstructible verifies t has an accessible constructor
	// taking argCount arguments.
	EnsureConstructible(t *Type, argCount int) error
}

// MethodParser decodes one method overload's source instruction stream
// into intermediate Instructions appended to a MethodBuilder. It performs
// token resolution and member/overload/accessibility checks; it
// deliberately does not validate stack heights or reference signatures,
// which is the stack-height analyzer's job (see stackanalyzer.go).
type MethodParser struct {
	method   *MethodOverload
	body     []byte
	pos      int
	bodyEnd  int
	resolver TokenResolver
	module   *RefSignaturePool

	// argRefOffset skips the reserved instance bit (bit 0) of the
	// method's ref signature for static methods, which have no implicit
	// instance argument.
	argRefOffset int
}

// ParseInto decodes method's SourceBody into builder, resolving tokens
// via resolver. pool is kept on the parser; ParseInto itself interns
// nothing in it and does not build a reference signature for method.
func ParseInto(method *MethodOverload, builder *MethodBuilder, resolver TokenResolver, pool *RefSignaturePool) error {
	p := &MethodParser{
		method:   method,
		body:     method.SourceBody,
		bodyEnd:  len(method.SourceBody),
		resolver: resolver,
		module:   pool,
	}
	if method.IsStatic {
		p.argRefOffset = 1
	}
	for !p.isAtEnd() {
		if err := p.parseInstruction(builder); err != nil {
			return err
		}
	}
	return nil
}

func (p *MethodParser) isAtEnd() bool { return p.pos >= p.bodyEnd }

func (p *MethodParser) readByte() byte {
	v := p.body[p.pos]
	p.pos++
	return v
}

func (p *MethodParser) readUint16() uint16 {
	v := binary.LittleEndian.Uint16(p.body[p.pos:])
	p.pos += 2
	return v
}

func (p *MethodParser) readUint32() uint32 {
	v := binary.LittleEndian.Uint32(p.body[p.pos:])
	p.pos += 4
	return v
}

func (p *MethodParser) readInt32() int32 { return int32(p.readUint32()) }

func (p *MethodParser) readUint64() uint64 {
	v := binary.LittleEndian.Uint64(p.body[p.pos:])
	p.pos += 8
	return v
}

func (p *MethodParser) parseInstruction(builder *MethodBuilder) error {
	startOffset := uint32(p.pos)
	op := sourceOpcode(p.readByte())
	instr, err := p.parseArguments(op, builder)
	if err != nil {
		return fmt.Errorf("vm: parsing instruction at offset %d: %w", startOffset, err)
	}
	builder.Append(startOffset, p.pos-int(startOffset), instr)
	return nil
}

func (p *MethodParser) parseArguments(op sourceOpcode, builder *MethodBuilder) (Instruction, error) {
	switch op {
	case srcNop:
		return &baseNop, nil
	case srcLoadLocal:
		return NewLoadLocal(LocalOffset(p.readUint32())), nil
	case srcStoreLocal:
		return NewStoreLocal(LocalOffset(p.readUint32())), nil
	case srcLoadLocalRef:
		return NewLoadLocalRef(LocalOffset(p.readUint32())), nil
	case srcStoreLocalRef:
		return NewStoreLocalRef(LocalOffset(p.readUint32())), nil
	case srcLoadFromRef:
		return NewLoadFromRef(), nil
	case srcStoreToRef:
		return NewStoreToRef(), nil
	case srcDup:
		return NewDup(), nil
	case srcLoadNull:
		return NewLoadNull(), nil
	case srcLoadFalse:
		return NewLoadBool(false), nil
	case srcLoadTrue:
		return NewLoadBool(true), nil
	case srcLoadInt:
		return NewLoadInt(int64(p.readUint64())), nil
	case srcLoadUInt:
		return NewLoadUInt(p.readUint64()), nil
	case srcLoadReal:
		bits := p.readUint64()
		return NewLoadReal(Value{Raw: bits}.Real()), nil
	case srcLoadString:
		id, err := p.resolver.StringFromToken(p.readUint32())
		if err != nil {
			return nil, err
		}
		return NewLoadString(id), nil
	case srcLoadArgCount:
		return NewLoadArgCount(), nil
	case srcLoadField:
		f, err := p.resolver.FieldFromToken(p.readUint32(), false)
		if err != nil {
			return nil, err
		}
		return NewLoadField(f), nil
	case srcStoreField:
		f, err := p.resolver.FieldFromToken(p.readUint32(), false)
		if err != nil {
			return nil, err
		}
		return NewStoreField(f), nil
	case srcLoadFieldRef:
		f, err := p.resolver.FieldFromToken(p.readUint32(), false)
		if err != nil {
			return nil, err
		}
		return NewLoadFieldRef(f), nil
	case srcLoadStaticField:
		f, err := p.resolver.FieldFromToken(p.readUint32(), true)
		if err != nil {
			return nil, err
		}
		return NewLoadStaticField(f), nil
	case srcStoreStaticField:
		f, err := p.resolver.FieldFromToken(p.readUint32(), true)
		if err != nil {
			return nil, err
		}
		return NewStoreStaticField(f), nil
	case srcLoadStaticFieldRef:
		f, err := p.resolver.FieldFromToken(p.readUint32(), true)
		if err != nil {
			return nil, err
		}
		return NewLoadStaticFieldRef(f), nil
	case srcLoadMember:
		return NewLoadMember(), nil
	case srcStoreMember:
		return NewStoreMember(), nil
	case srcLoadMemberRef:
		return NewLoadMemberRef(), nil
	case srcLoadIndex:
		return NewLoadIndex(int(p.readUint16())), nil
	case srcStoreIndex:
		return NewStoreIndex(int(p.readUint16())), nil
	case srcBranch:
		return NewBranch(JumpFromOffset(p.readInt32())), nil
	case srcBranchIfNull:
		return NewBranchIfNull(JumpFromOffset(p.readInt32())), nil
	case srcBranchIfNotNull:
		return NewBranchIfNotNull(JumpFromOffset(p.readInt32())), nil
	case srcBranchIfFalse:
		return NewBranchIfFalse(JumpFromOffset(p.readInt32())), nil
	case srcBranchIfTrue:
		return NewBranchIfTrue(JumpFromOffset(p.readInt32())), nil
	case srcEq:
		return NewEq(), nil
	case srcCompareLt:
		return NewCompare(CompareLess), nil
	case srcCompareLte:
		return NewCompare(CompareLessEqual), nil
	case srcCompareGt:
		return NewCompare(CompareGreater), nil
	case srcCompareGte:
		return NewCompare(CompareGreaterEqual), nil
	case srcSwitch:
		count := int(p.readUint32())
		targets := make([]JumpTarget, count)
		for i := range targets {
			targets[i] = JumpFromOffset(p.readInt32())
		}
		return NewSwitch(targets), nil
	case srcLeave:
		return NewLeave(JumpFromOffset(p.readInt32())), nil
	case srcEndFinally:
		return NewEndFinally(), nil
	case srcReturn:
		return NewReturn(), nil
	case srcReturnNull:
		return NewReturnNull(), nil
	case srcThrow:
		return NewThrow(), nil
	case srcRethrow:
		return NewRethrow(), nil
	case srcCall:
		argCount := int(p.readUint16())
		m, err := p.resolver.MethodOverloadFromToken(p.readUint32(), argCount)
		if err != nil {
			return nil, err
		}
		return NewCall(m, argCount), nil
	case srcCallMember:
		return NewCallMember(int(p.readUint16())), nil
	case srcStaticCall:
		argCount := int(p.readUint16())
		m, err := p.resolver.MethodOverloadFromToken(p.readUint32(), argCount)
		if err != nil {
			return nil, err
		}
		return NewStaticCall(m, argCount), nil
	case srcApply:
		member, err := p.resolver.MethodFromToken(p.readUint32())
		if err != nil {
			return nil, err
		}
		return NewApply(member), nil
	case srcStaticApply:
		member, err := p.resolver.MethodFromToken(p.readUint32())
		if err != nil {
			return nil, err
		}
		return NewStaticApply(member), nil
	case srcNewObject:
		argCount := int(p.readUint16())
		t, err := p.resolver.TypeFromToken(p.readUint32())
		if err != nil {
			return nil, err
		}
		if err := p.resolver.EnsureConstructible(t, argCount); err != nil {
			return nil, err
		}
		return NewNewObject(t, argCount), nil
	case srcOperator:
		return NewOperator(BinaryOp(p.readByte())), nil
	case srcUnaryOperator:
		return NewUnaryOperator(UnaryOp(p.readByte())), nil
	case srcConcat:
		return NewConcat(int(p.readUint16())), nil
	default:
		return nil, fmt.Errorf("vm: unknown source opcode 0x%02x", byte(op))
	}
}

// baseNop is a shared singleton for srcNop, which carries no state.
var baseNop = nopInstr{baseInstr{op: OpNop, flags: FlagNone, sc: stackChangeEmpty}}

type nopInstr struct{ baseInstr }

func (nopInstr) ArgsSize() int          { return 0 }
func (nopInstr) Emit(buf *MethodBuffer) { buf.WriteByte(byte(opcodeNop)) }
