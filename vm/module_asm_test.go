package vm

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAssembleLoadInt(t *testing.T) {
	module := NewModule(NewStringPool(&Type{Name: "String"}))
	body, err := NewAssembler(module).Assemble("ldint 5\nret")
	require.NoError(t, err)

	require.Equal(t, byte(srcLoadInt), body[0])
	require.Equal(t, uint64(5), binary.LittleEndian.Uint64(body[1:9]))
	require.Equal(t, byte(srcReturn), body[9])
}

func TestAssembleBranchLabel(t *testing.T) {
	module := NewModule(NewStringPool(&Type{Name: "String"}))
	body, err := NewAssembler(module).Assemble(`
		br target
	target:
		retnull
	`)
	require.NoError(t, err)

	require.Equal(t, byte(srcBranch), body[0])
	off := int32(binary.LittleEndian.Uint32(body[1:5]))
	// br is 5 bytes (1 opcode + 4 offset); target is immediately after.
	require.Equal(t, int32(0), off)
	require.Equal(t, byte(srcReturnNull), body[5])
}

func TestAssembleUnknownMnemonic(t *testing.T) {
	module := NewModule(NewStringPool(&Type{Name: "String"}))
	_, err := NewAssembler(module).Assemble("frobnicate")
	require.Error(t, err)
}

func TestAssembleUndefinedLabel(t *testing.T) {
	module := NewModule(NewStringPool(&Type{Name: "String"}))
	_, err := NewAssembler(module).Assemble("br nowhere\nret")
	require.Error(t, err)
}

func TestModuleTokenRegistration(t *testing.T) {
	module := NewModule(NewStringPool(&Type{Name: "String"}))
	fooType := &Type{Name: "Foo"}
	module.RegisterType(fooType)

	field := &Field{Name: "bar", Static: false}
	module.RegisterField(field)

	got, err := module.FieldFromToken(0, false)
	require.NoError(t, err)
	require.Same(t, field, got)

	_, err = module.FieldFromToken(0, true)
	require.Error(t, err, "staticness mismatch must be rejected")

	resolvedType, err := module.TypeFromToken(0)
	require.NoError(t, err)
	require.Same(t, fooType, resolvedType)
}

func TestAssembleStringLiteral(t *testing.T) {
	pool := NewStringPool(&Type{Name: "String"})
	module := NewModule(pool)
	machine := New(WithStrings(pool), WithTokenResolver(module))
	body, err := NewAssembler(module).Assemble(`ldstr "hi"` + "\nret")
	require.NoError(t, err)
	require.Equal(t, byte(srcLoadString), body[0])

	method := &MethodOverload{Name: "greet", ArgCount: 0, SourceBody: body}
	thread := machine.NewThread()
	defer machine.StopThread(thread)

	result, err := thread.Evaluate(method, nil)
	require.NoError(t, err)
	require.Equal(t, "hi", Content(result))
}
