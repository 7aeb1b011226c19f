package codegen

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasmforge/wasmforge/internal/arch"
)

func TestFoldConstant(t *testing.T) {
	tests := []struct {
		name string
		op   arch.SemanticOp
		mt   arch.MachineType
		a, b int64
		want int64
	}{
		{name: "i32 add", op: arch.OpAdd, mt: arch.TypeI32, a: 2, b: 3, want: 5},
		{name: "i32 add wraps", op: arch.OpAdd, mt: arch.TypeI32, a: -1, b: 1, want: 0},
		{name: "i32 add overflow truncates", op: arch.OpAdd, mt: arch.TypeI32, a: 0x7fffffff, b: 1, want: -0x80000000},
		{name: "i64 add", op: arch.OpAdd, mt: arch.TypeI64, a: 1 << 40, b: 1, want: 1<<40 + 1},
		{name: "i32 sub", op: arch.OpSub, mt: arch.TypeI32, a: 3, b: 5, want: -2},
		{name: "i32 mul", op: arch.OpMul, mt: arch.TypeI32, a: 6, b: 7, want: 42},
		{name: "i32 shl masks count", op: arch.OpShl, mt: arch.TypeI32, a: 1, b: 33, want: 2},
		{name: "i64 shl masks count", op: arch.OpShl, mt: arch.TypeI64, a: 1, b: 65, want: 2},
		{name: "and", op: arch.OpAnd, mt: arch.TypeI32, a: 0b1100, b: 0b1010, want: 0b1000},
		{name: "divs", op: arch.OpDivS, mt: arch.TypeI32, a: -9, b: 3, want: -3},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := foldConstant(tc.op, tc.mt, tc.a, tc.b)
			require.True(t, ok)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestFoldConstantLeavesTrapsToRuntime(t *testing.T) {
	_, ok := foldConstant(arch.OpDivS, arch.TypeI32, 1, 0)
	require.False(t, ok)
}

func TestFoldCompareConstant(t *testing.T) {
	got, ok := foldCompareConstant(arch.OpLtS, arch.TypeI32, 2, 3)
	require.True(t, ok)
	require.Equal(t, int64(1), got)

	got, ok = foldCompareConstant(arch.OpEq, arch.TypeI64, 4, 5)
	require.True(t, ok)
	require.Zero(t, got)

	// Unsigned comparisons are not folded here; they take the runtime path.
	_, ok = foldCompareConstant(arch.OpLtU, arch.TypeI32, 1, 2)
	require.False(t, ok)
}

func TestFoldConstantUnary(t *testing.T) {
	got, ok := foldConstantUnary(arch.OpEqz, arch.TypeI32, 0)
	require.True(t, ok)
	require.Equal(t, int64(1), got)

	got, ok = foldConstantUnary(arch.OpEqz, arch.TypeI32, 7)
	require.True(t, ok)
	require.Zero(t, got)
}
