package arch

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCondFor(t *testing.T) {
	tests := []struct {
		op   SemanticOp
		cond ConditionalState
	}{
		{OpEq, CondEq},
		{OpNe, CondNe},
		{OpLtS, CondLtS},
		{OpLtU, CondLtU},
		{OpGtS, CondGtS},
		{OpGtU, CondGtU},
		{OpLeS, CondLeS},
		{OpLeU, CondLeU},
		{OpGeS, CondGeS},
		{OpGeU, CondGeU},
		{OpFEq, CondEq},
		{OpFLt, CondLtU},
		{OpFGe, CondGeU},
		{OpEqz, CondEq},
	}
	for _, tc := range tests {
		require.Equal(t, tc.cond, CondFor(tc.op))
	}
	// Non-comparison ops have no condition.
	require.Equal(t, ConditionalStateUnset, CondFor(OpAdd))
}

func TestTrapCodeStrings(t *testing.T) {
	require.Equal(t, "none", TrapNone.String())
	require.Equal(t, "out of bounds memory access", TrapOutOfBoundsMemoryAccess.String())
	require.Equal(t, "runtime interrupt requested", TrapRuntimeInterruptRequested.String())
	require.Equal(t, "trap(200)", TrapCode(200).String())
}

func TestMachineType(t *testing.T) {
	require.True(t, TypeI64.Is64())
	require.True(t, TypeF64.Is64())
	require.False(t, TypeI32.Is64())
	require.True(t, TypeF32.IsFloat())
	require.False(t, TypeI64.IsFloat())
	require.Equal(t, "i32", TypeI32.String())
	require.Equal(t, "invalid", TypeInvalid.String())
}
