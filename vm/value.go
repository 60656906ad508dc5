package vm

import (
	"math"
	"sync"
	"unsafe"
)

// ValueKind distinguishes what a Value's payload means. It plays the role
// that a reserved tag value plays in the original VM: there, the "type"
// field of a value is either a real Type pointer or one of three sentinel
// bit patterns meaning null, local reference, or static reference. Here we
// spell that out directly instead of overloading a pointer, per the design
// note in DESIGN.md (the sentinel-tag trick is a space optimization a safer
// port does not need to reproduce).
type ValueKind uint8

const (
	// KindNull is the value of an uninitialized or explicitly nulled slot.
	KindNull ValueKind = iota
	// KindPrimitive holds a bool/int/uint/real inline in Raw.
	KindPrimitive
	// KindObject holds a pointer to heap-allocated object storage.
	KindObject
	// KindLocalRef is a reference cell pointing into a stack frame.
	KindLocalRef
	// KindStaticRef is a reference cell pointing into a module's static
	// storage block.
	KindStaticRef
	// KindFieldRef is a reference cell pointing at one field slot inside
	// an object's storage.
	KindFieldRef
)

// IsRef reports whether k is one of the three reference-cell kinds. Per
// the data-model invariant in spec.md §3, values of these kinds must never
// be observed in static storage or in a local variable slot that outlives
// the call that produced them; they only live transiently on the eval
// stack.
func (k ValueKind) IsRef() bool {
	return k == KindLocalRef || k == KindStaticRef || k == KindFieldRef
}

// Value is the engine's (tag, payload) pair (spec.md §3). Kind+Type plays
// the role of the tag; Raw and Ptr together play the role of the 8-byte
// payload, split into an inline numeric form and a pointer form since Go,
// unlike the original's C union, cannot safely alias the two.
type Value struct {
	Kind ValueKind
	// Type is nil for Null and for all three reference kinds; it names
	// the runtime type for Primitive and Object values.
	Type *Type
	// Raw holds the bit pattern of a bool/int/uint/real value when
	// Kind == KindPrimitive. Unused otherwise.
	Raw uint64
	// Ptr holds the object storage pointer when Kind == KindObject, or
	// the referent cell address for the three reference kinds. Unused
	// for Null and Primitive.
	Ptr unsafe.Pointer
	// Lock is the owning object's per-instance field-access lock, set
	// only when Kind == KindFieldRef (spec.md §5's ordering guarantee:
	// field reads/writes that pass through a reference cell take this
	// lock, while a direct ldfld/stfld does not). Nil for every other
	// kind.
	Lock *sync.Mutex
}

// Null is the zero Value; provided for readability at call sites.
var Null = Value{}

func NewBool(t *Type, b bool) Value {
	v := Value{Kind: KindPrimitive, Type: t}
	if b {
		v.Raw = 1
	}
	return v
}

func NewInt(t *Type, i int64) Value {
	return Value{Kind: KindPrimitive, Type: t, Raw: uint64(i)}
}

func NewUInt(t *Type, u uint64) Value {
	return Value{Kind: KindPrimitive, Type: t, Raw: u}
}

func NewReal(t *Type, f float64) Value {
	return Value{Kind: KindPrimitive, Type: t, Raw: math.Float64bits(f)}
}

func NewObject(t *Type, storage unsafe.Pointer) Value {
	return Value{Kind: KindObject, Type: t, Ptr: storage}
}

// RefTo builds a reference cell of the given kind pointing at cell. kind
// must be one of the three IsRef() kinds other than KindFieldRef, which
// needs RefToField's accompanying lock.
func RefTo(kind ValueKind, cell *Value) Value {
	return Value{Kind: kind, Ptr: unsafe.Pointer(cell)}
}

// RefToField builds a KindFieldRef Value pointing at cell, carrying the
// owning object's field-access lock so a later ldfromref/storetoref
// through this reference synchronizes with concurrent accesses to the
// same object (spec.md §5).
func RefToField(cell *Value, lock *sync.Mutex) Value {
	return Value{Kind: KindFieldRef, Ptr: unsafe.Pointer(cell), Lock: lock}
}

// Deref follows a reference-kind Value back to the Value it points at.
// Panics (as a programmer-error bug, not a managed error) if v is not a
// reference.
func (v Value) Deref() *Value {
	if !v.Kind.IsRef() {
		panic("vm: Deref of a non-reference value")
	}
	return (*Value)(v.Ptr)
}

// Int returns the payload of a Primitive value as a signed 64-bit integer.
func (v Value) Int() int64 { return int64(v.Raw) }

// UInt returns the payload of a Primitive value as an unsigned 64-bit
// integer.
func (v Value) UInt() uint64 { return v.Raw }

// Real returns the payload of a Primitive value as a float64.
func (v Value) Real() float64 { return math.Float64frombits(v.Raw) }

// Bool returns the payload of a Primitive value interpreted as a boolean.
func (v Value) Bool() bool { return v.Raw != 0 }

// IsNull reports whether v is the null sentinel.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// IsTrue mirrors IsTrue_ in the original value.h: null and zero-valued
// primitives are false; everything else (including all object references)
// is true.
func (v Value) IsTrue() bool {
	if v.Kind == KindNull {
		return false
	}
	if v.Kind == KindPrimitive {
		return v.Raw != 0
	}
	return true
}

// SameReference mirrors IsSameReference_: null equals null, primitives
// compare by bit pattern, and objects compare by identity.
func SameReference(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	if a.Kind == KindNull {
		return true
	}
	if a.Kind == KindPrimitive {
		return a.Type == b.Type && a.Raw == b.Raw
	}
	if a.Kind == KindObject {
		return a.Type == b.Type && a.Ptr == b.Ptr
	}
	// References compare by the cell they point at.
	return a.Ptr == b.Ptr
}
