package compiler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasmforge/wasmforge/internal/arch"
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

// importingModule imports env.mul (i32,i32)->(i32) and defines one caller.
func importingModule() []byte {
	return moduleBytes(
		section(1, 0x01, 0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f),
		section(2, 0x01, 0x03, 'e', 'n', 'v', 0x03, 'm', 'u', 'l', 0x00, 0x00),
		section(3, 0x01, 0x00),
		section(7, 0x01, 0x02, 'g', 'o', 0x00, 0x01),
		// local.get 0 local.get 1 call 0
		section(10, 0x01, 0x08, 0x00, 0x20, 0x00, 0x20, 0x01, 0x10, 0x00, 0x0b),
	)
}

func testOptions(a Architecture) Options {
	return Options{Architecture: a, BoundsChecked: true, StacktraceDepth: 8}
}

func TestCompileArchitectures(t *testing.T) {
	for _, a := range []Architecture{AMD64, ARM64, TriCore} {
		t.Run(a.String(), func(t *testing.T) {
			res, err := Compile(addModule(), nil, false, testOptions(a))
			require.NoError(t, err)
			require.NotEmpty(t, res.Code)
			require.Len(t, res.Header.FunctionOffsets, 1)
			require.Equal(t, uint32(NoStartFunction), res.Header.StartFunctionOffset)
		})
	}
}

func TestCompileDeterminism(t *testing.T) {
	opts := testOptions(AMD64)
	opts.EmitDebugMap = true
	first, err := Compile(addModule(), nil, false, opts)
	require.NoError(t, err)
	second, err := Compile(addModule(), nil, false, opts)
	require.NoError(t, err)

	require.Equal(t, first.Code, second.Code)
	require.Equal(t, first.DebugMap, second.DebugMap)
	require.Equal(t, first.Header, second.Header)
}

func TestCompileHeaderShape(t *testing.T) {
	res, err := Compile(addModule(), nil, false, testOptions(AMD64))
	require.NoError(t, err)
	h := res.Header

	require.Len(t, h.Exports, 1)
	require.Equal(t, "add", h.Exports[0].Name)

	require.Len(t, h.Types, 1)
	require.Equal(t, []arch.MachineType{arch.TypeI32, arch.TypeI32}, h.Types[0].Params)
	require.Equal(t, []arch.MachineType{arch.TypeI32}, h.Types[0].Results)

	require.Equal(t, uint32(8), h.StacktraceRecordCount)
	require.Zero(t, h.LinkDataLength)
	require.Empty(t, h.Imports)

	// Helper stubs are appended after the function bodies.
	require.Greater(t, h.HelperStubs.GenericTrapHandler, uint32(0))
	require.Less(t, h.HelperStubs.GenericTrapHandler, uint32(len(res.Code)))
}

func TestCompileUnknownArchitecture(t *testing.T) {
	_, err := Compile(addModule(), nil, false, Options{Architecture: Architecture(99)})
	require.ErrorContains(t, err, "unknown architecture")
}

func TestCompileRejectsInvalidBytecode(t *testing.T) {
	_, err := Compile([]byte{0xde, 0xad, 0xbe, 0xef}, nil, false, testOptions(AMD64))
	require.ErrorContains(t, err, "decode")
}

func TestCompileResolvesImports(t *testing.T) {
	sym := NativeSymbol{
		Linkage: Static, ModuleName: "env", Symbol: "mul",
		Signature: "(ii)(i)", Ptr: 0x1000, ImportVersion: arch.ImportV2,
	}
	res, err := Compile(importingModule(), []NativeSymbol{sym}, false, testOptions(AMD64))
	require.NoError(t, err)

	require.Len(t, res.Header.Imports, 1)
	b := res.Header.Imports[0]
	require.True(t, b.Bound)
	require.Equal(t, "env", b.ModuleName)
	require.Equal(t, "mul", b.Symbol)
	require.Equal(t, uintptr(0x1000), b.Ptr)
	// The import slot sits in link data, after the (zero) global slots.
	require.Equal(t, uint32(8), res.Header.LinkDataLength)
}

func TestCompileUnresolvedImport(t *testing.T) {
	_, err := Compile(importingModule(), nil, false, testOptions(AMD64))
	require.ErrorContains(t, err, "unresolved import")

	res, err := Compile(importingModule(), nil, true, testOptions(AMD64))
	require.NoError(t, err)
	require.Len(t, res.Header.Imports, 1)
	require.False(t, res.Header.Imports[0].Bound)
}

func TestCompileImportSignatureMismatch(t *testing.T) {
	sym := NativeSymbol{
		Linkage: Static, ModuleName: "env", Symbol: "mul",
		Signature: "(I)(i)", ImportVersion: arch.ImportV2,
	}
	_, err := Compile(importingModule(), []NativeSymbol{sym}, false, testOptions(AMD64))
	require.ErrorContains(t, err, "signature mismatch")
}

func TestCompileGlobalsGetLinkDataSlots(t *testing.T) {
	bin := moduleBytes(
		section(6, 0x02,
			0x7f, 0x00, 0x41, 0x29, 0x0b, // (global i32 (i32.const 41))
			0x7e, 0x01, 0x42, 0x07, 0x0b), // (global (mut i64) (i64.const 7))
		section(7, 0x02,
			0x01, 'c', 0x03, 0x00,
			0x01, 'v', 0x03, 0x01),
	)
	res, err := Compile(bin, nil, false, testOptions(AMD64))
	require.NoError(t, err)

	require.Len(t, res.Header.Globals, 2)
	require.Equal(t, uint32(0), res.Header.Globals[0].LinkDataOffset)
	require.Equal(t, uint32(8), res.Header.Globals[1].LinkDataOffset)
	require.Equal(t, int64(41), res.Header.Globals[0].Init)
	require.Equal(t, int64(7), res.Header.Globals[1].Init)
	require.False(t, res.Header.Globals[0].Mutable)
	require.True(t, res.Header.Globals[1].Mutable)
	require.Equal(t, uint32(16), res.Header.LinkDataLength)
}

func TestDebugMapVersionHeader(t *testing.T) {
	opts := testOptions(AMD64)
	opts.EmitDebugMap = true
	res, err := Compile(addModule(), nil, false, opts)
	require.NoError(t, err)
	require.NotEmpty(t, res.DebugMap)
	// First word of the wire format is the version.
	require.Equal(t, byte(2), res.DebugMap[0])
}

func TestCompileWithoutDebugMap(t *testing.T) {
	res, err := Compile(addModule(), nil, false, testOptions(AMD64))
	require.NoError(t, err)
	require.Nil(t, res.DebugMap)
}
