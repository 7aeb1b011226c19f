package wasmforge

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHostModuleBuilder(t *testing.T) {
	syms := NewHostModuleBuilder("env").
		NewSymbolBuilder().
		WithSignature("(ii)(i)").
		WithPtr(0x1000).
		Export("add").
		NewSymbolBuilder().
		WithSignature("(F)(F)").
		WithPtr(0x2000).
		WithVersion(ImportV1).
		WithDynamicLinkage().
		Export("sqrt").
		Build()

	require.Len(t, syms, 2)

	require.Equal(t, "env", syms[0].ModuleName)
	require.Equal(t, "add", syms[0].Symbol)
	require.Equal(t, "(ii)(i)", syms[0].Signature)
	require.Equal(t, uintptr(0x1000), syms[0].Ptr)
	require.Equal(t, Static, syms[0].Linkage)
	require.Equal(t, ImportV2, syms[0].ImportVersion)

	require.Equal(t, "sqrt", syms[1].Symbol)
	require.Equal(t, Dynamic, syms[1].Linkage)
	require.Equal(t, ImportV1, syms[1].ImportVersion)
}

func TestHostModuleBuilderBuildCopies(t *testing.T) {
	b := NewHostModuleBuilder("env").
		NewSymbolBuilder().WithSignature("()()").Export("a")
	first := b.Build()
	b.NewSymbolBuilder().WithSignature("()()").Export("b")

	require.Len(t, first, 1)
	require.Len(t, b.Build(), 2)
}
