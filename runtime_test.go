package wasmforge

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasmforge/wasmforge/internal/arch"
	"github.com/wasmforge/wasmforge/internal/basedata"
	"github.com/wasmforge/wasmforge/internal/trap"
	"github.com/wasmforge/wasmforge/internal/wasm"
)

func section(id byte, content ...byte) []byte {
	return append([]byte{id, byte(len(content))}, content...)
}

func moduleBytes(sections ...[]byte) []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	for _, s := range sections {
		out = append(out, s...)
	}
	return out
}

// addModule is (func (export "add") (param i32 i32) (result i32)
// local.get 0 local.get 1 i32.add).
func addModule() []byte {
	return moduleBytes(
		section(1, 0x01, 0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f),
		section(3, 0x01, 0x00),
		section(7, 0x01, 0x03, 'a', 'd', 'd', 0x00, 0x00),
		section(10, 0x01, 0x07, 0x00, 0x20, 0x00, 0x20, 0x01, 0x6a, 0x0b),
	)
}

// memoryModule declares (memory 1 16), a data segment "hi" at offset 8, and
// exports (func (export "peek") (param i32) (result i32) local.get 0 i32.load).
func memoryModule() []byte {
	return moduleBytes(
		section(1, 0x01, 0x60, 0x01, 0x7f, 0x01, 0x7f),
		section(3, 0x01, 0x00),
		section(5, 0x01, 0x01, 0x01, 0x10),
		section(7, 0x01, 0x04, 'p', 'e', 'e', 'k', 0x00, 0x00),
		section(10, 0x01, 0x07, 0x00, 0x20, 0x00, 0x28, 0x02, 0x00, 0x0b),
		section(11, 0x01, 0x00, 0x41, 0x08, 0x0b, 0x02, 'h', 'i'),
	)
}

// globalsModule exports (global i32 (i32.const 41)) as "c" and
// (global (mut i64) (i64.const 7)) as "v".
func globalsModule() []byte {
	return moduleBytes(
		section(6, 0x02,
			0x7f, 0x00, 0x41, 0x29, 0x0b,
			0x7e, 0x01, 0x42, 0x07, 0x0b),
		section(7, 0x02,
			0x01, 'c', 0x03, 0x00,
			0x01, 'v', 0x03, 0x01),
	)
}

func compileFixture(t *testing.T, bin []byte) *CompiledModule {
	t.Helper()
	compiled, err := Compile(bin, nil, NewCompileConfig())
	require.NoError(t, err)
	return compiled
}

func newRuntimeFixture(t *testing.T, bin []byte) *Runtime {
	t.Helper()
	rt, err := NewRuntime(compileFixture(t, bin), nil, NewRuntimeConfig())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, rt.Close()) })
	return rt
}

func TestExportedFunction(t *testing.T) {
	rt := newRuntimeFixture(t, addModule())

	f, err := rt.ExportedFunction("add")
	require.NoError(t, err)
	require.Equal(t, "(ii)(i)", f.Signature())

	_, err = rt.ExportedFunction("missing")
	require.ErrorIs(t, err, trap.ErrFunctionNotFound)
}

func TestExportedFunctionWithSignature(t *testing.T) {
	rt := newRuntimeFixture(t, addModule())

	_, err := rt.ExportedFunctionWithSignature("add", "(ii)(i)")
	require.NoError(t, err)

	_, err = rt.ExportedFunctionWithSignature("add", "(I)(i)")
	var mismatch *SignatureMismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, "(ii)(i)", mismatch.Got)
	require.Equal(t, "(I)(i)", mismatch.Want)
}

func TestCallValidatesArgumentCount(t *testing.T) {
	rt := newRuntimeFixture(t, addModule())
	f, err := rt.ExportedFunction("add")
	require.NoError(t, err)

	_, err = f.Call(context.Background(), 1)
	require.ErrorContains(t, err, "expects 2 arguments")
}

func TestExportedGlobals(t *testing.T) {
	rt := newRuntimeFixture(t, globalsModule())

	c, err := rt.ExportedGlobal("c")
	require.NoError(t, err)
	require.Equal(t, arch.TypeI32, c.Type())
	require.False(t, c.Mutable())
	require.Equal(t, int32(41), c.GetI32())
	require.ErrorIs(t, c.Set(1), trap.ErrGlobalIsImmutable)

	v, err := rt.ExportedGlobal("v")
	require.NoError(t, err)
	require.True(t, v.Mutable())
	require.Equal(t, uint64(7), v.Get())
	require.NoError(t, v.Set(99))
	require.Equal(t, uint64(99), v.Get())

	_, err = rt.ExportedGlobal("missing")
	require.ErrorIs(t, err, trap.ErrGlobalNotFound)
}

func TestExportedGlobalWithType(t *testing.T) {
	rt := newRuntimeFixture(t, globalsModule())

	_, err := rt.ExportedGlobalWithType("v", arch.TypeI64, true)
	require.NoError(t, err)

	_, err = rt.ExportedGlobalWithType("v", arch.TypeF32, false)
	require.ErrorIs(t, err, trap.ErrGlobalTypeMismatch)

	_, err = rt.ExportedGlobalWithType("c", arch.TypeI32, true)
	require.ErrorIs(t, err, trap.ErrGlobalIsImmutable)
}

func TestLinearMemoryRegion(t *testing.T) {
	rt := newRuntimeFixture(t, memoryModule())
	require.Equal(t, uint32(1), rt.MemorySizePages())

	// The data segment landed at offset 8.
	region, err := rt.GetLinearMemoryRegion(8, 2)
	require.NoError(t, err)
	require.Equal(t, []byte("hi"), region)

	_, err = rt.GetLinearMemoryRegion(0, wasm.WasmPageSize)
	require.NoError(t, err)

	_, err = rt.GetLinearMemoryRegion(1, wasm.WasmPageSize)
	require.ErrorIs(t, err, trap.ErrMemoryOutOfRange)
	_, err = rt.GetLinearMemoryRegion(wasm.WasmPageSize, 1)
	require.ErrorIs(t, err, trap.ErrMemoryOutOfRange)
}

func TestGrow(t *testing.T) {
	rt := newRuntimeFixture(t, memoryModule())

	prev := rt.Grow(2)
	require.Equal(t, int64(1), prev)
	require.Equal(t, uint32(3), rt.MemorySizePages())
	require.Equal(t, uint64(3*wasm.WasmPageSize), rt.basedataWord(basedata.ActualSizeOffset))

	// Grown pages are zero-filled and addressable.
	region, err := rt.GetLinearMemoryRegion(wasm.WasmPageSize, 8)
	require.NoError(t, err)
	require.Equal(t, make([]byte, 8), region)

	// The data segment survives the reallocation.
	region, err = rt.GetLinearMemoryRegion(8, 2)
	require.NoError(t, err)
	require.Equal(t, []byte("hi"), region)

	// Exceeding the declared max (16 pages) fails without side effects.
	require.Equal(t, int64(-1), rt.Grow(14))
	require.Equal(t, uint32(3), rt.MemorySizePages())
}

func TestGrowHonorsConfigLimit(t *testing.T) {
	compiled := compileFixture(t, memoryModule())
	rt, err := NewRuntime(compiled, nil, NewRuntimeConfig().WithMemoryLimitPages(2))
	require.NoError(t, err)
	defer rt.Close()

	require.Equal(t, int64(1), rt.Grow(1))
	require.Equal(t, int64(-1), rt.Grow(1))
}

func TestShrinkToSize(t *testing.T) {
	rt := newRuntimeFixture(t, memoryModule())
	require.Equal(t, int64(1), rt.Grow(4))

	rt.ShrinkToSize(2 * wasm.WasmPageSize)
	// Pages stay logically grown; only backing memory beyond min was
	// released, and regrowth must still work.
	require.Equal(t, uint32(5), rt.MemorySizePages())
}

func TestRequestInterruption(t *testing.T) {
	rt := newRuntimeFixture(t, addModule())

	rt.RequestInterruption(arch.TrapRuntimeInterruptRequested)
	w := atomic.LoadUint64(rt.statusWord())
	require.EqualValues(t, basedata.StatusInterruptBit, w&basedata.StatusInterruptBit)
	require.Equal(t, uint64(arch.TrapRuntimeInterruptRequested), w>>8)

	rt.RequestInterruption(arch.TrapNone)
	require.Zero(t, atomic.LoadUint64(rt.statusWord()))
}

func TestBasedataInitialization(t *testing.T) {
	rt := newRuntimeFixture(t, memoryModule())

	require.Equal(t, uint64(wasm.WasmPageSize), rt.basedataWord(basedata.ActualSizeOffset))
	require.NotZero(t, rt.basedataWord(basedata.TrapHandlerOffset))
	require.Equal(t, rt.backrefID, rt.basedataWord(basedata.RuntimeBackrefOffset))
	require.Zero(t, rt.basedataWord(basedata.TrapCodeOffset))
	require.Zero(t, rt.basedataWord(basedata.LastFrameOffset))
	require.Zero(t, rt.basedataWord(basedata.StackFenceOffset))
}

func TestStaticSymbolAtRuntimeIsRejected(t *testing.T) {
	compiled := compileFixture(t, addModule())
	sym := NewHostModuleBuilder("env").
		NewSymbolBuilder().WithSignature("(i)()").WithPtr(1).Export("log").
		Build()
	_, err := NewRuntime(compiled, sym, NewRuntimeConfig())
	require.ErrorIs(t, err, ErrStaticSymbolAtRuntime)
}

// importingModule imports env.mul (i32,i32)->(i32) and re-exports a caller.
func importingModule() []byte {
	return moduleBytes(
		section(1, 0x01, 0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f),
		section(2, 0x01, 0x03, 'e', 'n', 'v', 0x03, 'm', 'u', 'l', 0x00, 0x00),
		section(3, 0x01, 0x00),
		section(7, 0x01, 0x02, 'g', 'o', 0x00, 0x01),
		section(10, 0x01, 0x08, 0x00, 0x20, 0x00, 0x20, 0x01, 0x10, 0x00, 0x0b),
	)
}

func TestDynamicImportLinking(t *testing.T) {
	cfg := NewCompileConfig().WithAllowUnknownImports(true)
	compiled, err := Compile(importingModule(), nil, cfg)
	require.NoError(t, err)

	// Missing at init time: error, not a deferred trap.
	_, err = NewRuntime(compiled, nil, NewRuntimeConfig())
	require.ErrorContains(t, err, "unresolved dynamic import")

	syms := NewHostModuleBuilder("env").
		NewSymbolBuilder().
		WithSignature("(ii)(i)").
		WithPtr(0xBEEF).
		WithDynamicLinkage().
		Export("mul").
		Build()
	rt, err := NewRuntime(compiled, syms, NewRuntimeConfig())
	require.NoError(t, err)
	defer rt.Close()

	slot := compiled.header.Imports[0].LinkDataOffset
	require.Equal(t, uint64(0xBEEF), getU64(rt.job[slot:]))
}

func TestStartWithoutStartFunction(t *testing.T) {
	rt := newRuntimeFixture(t, addModule())
	require.NoError(t, rt.Start(context.Background()))
}

func TestCloseIsIdempotentAndFinal(t *testing.T) {
	rt, err := NewRuntime(compileFixture(t, addModule()), nil, NewRuntimeConfig())
	require.NoError(t, err)

	require.NoError(t, rt.Close())
	require.NoError(t, rt.Close())

	_, err = rt.ExportedFunction("add")
	require.ErrorIs(t, err, ErrClosed)
	_, err = rt.GetLinearMemoryRegion(0, 0)
	require.ErrorIs(t, err, ErrClosed)
	require.Equal(t, int64(-1), rt.Grow(1))
}

func TestLinkUnlinkMemory(t *testing.T) {
	rt := newRuntimeFixture(t, addModule())
	span := make([]byte, 64)
	rt.LinkMemory(span)
	require.NotNil(t, rt.linkedMem)
	rt.UnlinkMemory()
	require.Nil(t, rt.linkedMem)
}
