package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValueIsTrue(t *testing.T) {
	intType := &Type{Name: "Int", Primitive: true}

	assert.False(t, Value{}.IsTrue(), "null is never true")
	assert.False(t, NewInt(intType, 0).IsTrue(), "zero primitive is false")
	assert.True(t, NewInt(intType, 1).IsTrue())
	assert.True(t, NewBool(intType, true).IsTrue())

	obj := NewObject(&Type{Name: "Foo"}, nil)
	assert.True(t, obj.IsTrue(), "objects are always true regardless of payload")
}

func TestValueRealRoundTrip(t *testing.T) {
	realType := &Type{Name: "Real", Primitive: true}
	v := NewReal(realType, 3.5)
	assert.Equal(t, 3.5, v.Real())
}

func TestSameReference(t *testing.T) {
	intType := &Type{Name: "Int", Primitive: true}
	a := NewInt(intType, 5)
	b := NewInt(intType, 5)
	c := NewInt(intType, 6)

	assert.True(t, SameReference(a, b))
	assert.False(t, SameReference(a, c))
	assert.True(t, SameReference(Value{}, Value{}), "null equals null")
}

func TestValueDeref(t *testing.T) {
	cell := NewInt(&Type{Name: "Int"}, 42)
	ref := RefTo(KindLocalRef, &cell)
	assert.Equal(t, int64(42), ref.Deref().Int())

	assert.Panics(t, func() {
		cell.Deref()
	}, "Deref of a non-reference value is a programmer error")
}
