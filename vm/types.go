package vm

// WellKnownTypes holds the handful of built-in primitive and string
// types the interpreter itself needs to construct and tag literal
// values; everything beyond these is a module-loader concern
// (spec.md §1 excludes the full type system).
type WellKnownTypes struct {
	Bool   *Type
	Int    *Type
	UInt   *Type
	Real   *Type
	String *Type
}

// NewWellKnownTypes builds the primitive type set a freshly constructed
// VM needs before it can execute anything.
func NewWellKnownTypes() *WellKnownTypes {
	return &WellKnownTypes{
		Bool:   &Type{Name: "Bool", Primitive: true},
		Int:    &Type{Name: "Int", Primitive: true},
		UInt:   &Type{Name: "UInt", Primitive: true},
		Real:   &Type{Name: "Real", Primitive: true},
		String: &Type{Name: "String", Primitive: false},
	}
}
