package wasmforge

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasmforge/wasmforge/internal/wasm"
)

func TestGoAllocatorInit(t *testing.T) {
	a := &goAllocator{}
	buf, err := a.Init(128, 2)
	require.NoError(t, err)
	require.Len(t, buf, 128+2*wasm.WasmPageSize)
	require.Equal(t, uint32(2*wasm.WasmPageSize), a.GetLinearMemorySize(128))
}

func TestGoAllocatorExtendPreservesAndZeroFills(t *testing.T) {
	a := &goAllocator{}
	buf, err := a.Init(16, 1)
	require.NoError(t, err)
	buf[16] = 0xAB // first linear-memory byte

	require.True(t, a.Extend(3))
	grown := a.Base()
	require.Len(t, grown, 16+3*wasm.WasmPageSize)
	require.Equal(t, byte(0xAB), grown[16])
	for _, i := range []int{16 + wasm.WasmPageSize, len(grown) - 1} {
		require.Zero(t, grown[i])
	}
}

func TestGoAllocatorShrinkThenRegrowReadsZero(t *testing.T) {
	a := &goAllocator{}
	_, err := a.Init(0, 2)
	require.NoError(t, err)
	a.Base()[wasm.WasmPageSize] = 0xCD

	require.True(t, a.Shrink(wasm.WasmPageSize))
	require.Equal(t, uint32(wasm.WasmPageSize), a.GetLinearMemorySize(0))

	require.True(t, a.Extend(2))
	require.Zero(t, a.Base()[wasm.WasmPageSize])
}

func TestGoAllocatorProbe(t *testing.T) {
	a := &goAllocator{}
	_, err := a.Init(8, 1)
	require.NoError(t, err)
	require.True(t, a.Probe(0))
	require.True(t, a.Probe(wasm.WasmPageSize-1))
	require.False(t, a.Probe(wasm.WasmPageSize))
}

func TestReallocAllocator(t *testing.T) {
	var calls int
	a := &reallocAllocator{realloc: func(current []byte, minLength uint32) []byte {
		calls++
		out := make([]byte, minLength)
		copy(out, current)
		// Deliberately dirty the tail: the adapter must zero-fill.
		for i := len(current); i < len(out); i++ {
			out[i] = 0xFF
		}
		return out
	}}

	buf, err := a.Init(8, 1)
	require.NoError(t, err)
	require.Len(t, buf, 8+wasm.WasmPageSize)
	require.Zero(t, buf[8])

	buf[8] = 0x77
	require.True(t, a.Extend(2))
	require.Equal(t, byte(0x77), a.Base()[8])
	require.Zero(t, a.Base()[8+wasm.WasmPageSize])
	require.Equal(t, 2, calls)

	// Shrink is declined by contract.
	require.False(t, a.Shrink(0))
}

func TestReallocAllocatorFailure(t *testing.T) {
	a := &reallocAllocator{realloc: func([]byte, uint32) []byte { return nil }}
	_, err := a.Init(8, 1)
	require.ErrorIs(t, err, ErrOutOfMemory)
}
