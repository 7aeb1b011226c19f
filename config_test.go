package wasmforge

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompileConfigDefaults(t *testing.T) {
	cfg := NewCompileConfig()
	require.True(t, cfg.boundsChecked)
	require.False(t, cfg.emitDebugMap)
	require.Equal(t, defaultStacktraceDepth, cfg.stacktraceDepth)
	require.NotNil(t, cfg.logger)
}

func TestCompileConfigWithReturnsCopies(t *testing.T) {
	base := NewCompileConfig()
	derived := base.WithArchitecture(TriCore).
		WithBoundsChecks(false).
		WithDebugMap(true).
		WithStacktraceDepth(4).
		WithAllowUnknownImports(true)

	require.Equal(t, TriCore, derived.arch)
	require.False(t, derived.boundsChecked)
	require.True(t, derived.emitDebugMap)
	require.Equal(t, 4, derived.stacktraceDepth)
	require.True(t, derived.allowUnknownImports)

	// The base is untouched.
	require.NotEqual(t, TriCore, base.arch)
	require.True(t, base.boundsChecked)
	require.False(t, base.emitDebugMap)
}

func TestRuntimeConfigWithReturnsCopies(t *testing.T) {
	base := NewRuntimeConfig()
	derived := base.WithMemoryLimitPages(8).WithCustomContext(0x42)

	require.Equal(t, uint32(8), derived.memoryLimitPages)
	require.Equal(t, uintptr(0x42), derived.customContext)
	require.Equal(t, uint32(memoryLimitPagesDefault), base.memoryLimitPages)
	require.Zero(t, base.customContext)
}

func TestRuntimeConfigWithRealloc(t *testing.T) {
	cfg := NewRuntimeConfig().WithRealloc(func(current []byte, minLength uint32) []byte {
		out := make([]byte, minLength)
		copy(out, current)
		return out
	})
	require.IsType(t, &reallocAllocator{}, cfg.allocator)
}
