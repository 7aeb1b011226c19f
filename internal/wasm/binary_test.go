package wasm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// section frames a section payload. Sizes in these fixtures stay below
// 128 so single-byte LEB128 encodings are enough.
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

func TestDecodeRejectsBadHeader(t *testing.T) {
	tests := []struct {
		name string
		bin  []byte
	}{
		{name: "too short", bin: []byte{0x00, 0x61, 0x73}},
		{name: "bad magic", bin: []byte{0x01, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}},
		{name: "bad version", bin: []byte{0x00, 0x61, 0x73, 0x6d, 0x02, 0x00, 0x00, 0x00}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.bin)
			require.Error(t, err)
		})
	}
}

func TestDecodeEmptyModule(t *testing.T) {
	dm, err := Decode(moduleBytes())
	require.NoError(t, err)
	require.Empty(t, dm.TypeSection)
	require.Empty(t, dm.FunctionSection)
	require.Nil(t, dm.MemorySection)
	require.Nil(t, dm.StartFunction)
}

func TestDecodeAddModule(t *testing.T) {
	dm, err := Decode(addModule())
	require.NoError(t, err)

	require.Len(t, dm.TypeSection, 1)
	sig := dm.TypeSection[0]
	require.Equal(t, []ValueType{ValueTypeI32, ValueTypeI32}, sig.Params)
	require.Equal(t, []ValueType{ValueTypeI32}, sig.Results)

	require.Len(t, dm.FunctionSection, 1)
	require.False(t, dm.FunctionSection[0].IsImported)
	require.Zero(t, dm.NumImportedFunctions)

	require.Len(t, dm.ExportSection, 1)
	require.Equal(t, Export{Name: "add", Kind: ExportKindFunc, Index: 0}, dm.ExportSection[0])

	require.Len(t, dm.Code, 1)
	require.Empty(t, dm.Code[0].LocalTypes)
	require.Equal(t, []byte{0x20, 0x00, 0x20, 0x01, 0x6a}, dm.Code[0].Body)
}

func TestDecodeMemoryAndData(t *testing.T) {
	bin := moduleBytes(
		section(5, 0x01, 0x01, 0x01, 0x10),                      // (memory 1 16)
		section(11, 0x01, 0x00, 0x41, 0x08, 0x0b, 0x02, 0xAA, 0xBB), // (data (i32.const 8) "\aa\bb")
	)
	dm, err := Decode(bin)
	require.NoError(t, err)

	require.NotNil(t, dm.MemorySection)
	require.Equal(t, uint32(1), dm.MemorySection.Min)
	require.NotNil(t, dm.MemorySection.Max)
	require.Equal(t, uint32(16), *dm.MemorySection.Max)
	require.Equal(t, uint32(16), dm.MemorySection.MaxPages)

	require.Len(t, dm.DataSection, 1)
	require.Equal(t, int64(8), dm.DataSection[0].Offset.I64)
	require.Equal(t, []byte{0xAA, 0xBB}, dm.DataSection[0].Init)
}

func TestDecodeGlobals(t *testing.T) {
	bin := moduleBytes(
		// (global i32 (i32.const 41)) (global (mut i64) (i64.const 7))
		section(6, 0x02,
			0x7f, 0x00, 0x41, 0x29, 0x0b,
			0x7e, 0x01, 0x42, 0x07, 0x0b),
	)
	dm, err := Decode(bin)
	require.NoError(t, err)
	require.Len(t, dm.GlobalSection, 2)

	require.False(t, dm.GlobalSection[0].Mutable)
	require.Equal(t, ValueTypeI32, dm.GlobalSection[0].ValType)
	require.Equal(t, int64(41), dm.GlobalSection[0].Init.I64)

	require.True(t, dm.GlobalSection[1].Mutable)
	require.Equal(t, ValueTypeI64, dm.GlobalSection[1].ValType)
	require.Equal(t, int64(7), dm.GlobalSection[1].Init.I64)
}

func TestDecodeImportsSplitIndexSpace(t *testing.T) {
	bin := moduleBytes(
		section(1, 0x02,
			0x60, 0x01, 0x7f, 0x00, // (i32) -> ()
			0x60, 0x00, 0x01, 0x7f), // () -> (i32)
		// (import "env" "log" (func (type 0)))
		section(2, 0x01, 0x03, 'e', 'n', 'v', 0x03, 'l', 'o', 'g', 0x00, 0x00),
		section(3, 0x01, 0x01),
		section(10, 0x01, 0x04, 0x00, 0x41, 0x05, 0x0b),
	)
	dm, err := Decode(bin)
	require.NoError(t, err)

	require.Equal(t, 1, dm.NumImportedFunctions)
	require.Len(t, dm.FunctionSection, 2)
	require.True(t, dm.FunctionSection[0].IsImported)
	require.Equal(t, "env.log", dm.FunctionSection[0].ImportedAs)
	require.False(t, dm.FunctionSection[1].IsImported)
	require.Equal(t, uint32(1), dm.FunctionSection[1].TypeIndex)
}

func TestDecodeTableAndElement(t *testing.T) {
	bin := moduleBytes(
		section(1, 0x01, 0x60, 0x00, 0x01, 0x7f),
		section(3, 0x02, 0x00, 0x00),
		section(4, 0x01, 0x70, 0x00, 0x02), // (table 2 funcref)
		section(9, 0x01, 0x00, 0x41, 0x00, 0x0b, 0x02, 0x00, 0x01),
		section(10, 0x02,
			0x04, 0x00, 0x41, 0x01, 0x0b,
			0x04, 0x00, 0x41, 0x02, 0x0b),
	)
	dm, err := Decode(bin)
	require.NoError(t, err)

	require.Len(t, dm.TableSection, 1)
	require.Equal(t, ValueTypeFuncref, dm.TableSection[0].ElemType)
	require.Equal(t, uint32(2), dm.TableSection[0].Min)

	require.Len(t, dm.ElementSection, 1)
	require.Equal(t, int64(0), dm.ElementSection[0].Offset.I64)
	require.Equal(t, []uint32{0, 1}, dm.ElementSection[0].FuncIndex)
}

func TestDecodeRejectsOutOfOrderSections(t *testing.T) {
	bin := moduleBytes(
		section(3, 0x00),
		section(1, 0x00),
	)
	_, err := Decode(bin)
	require.ErrorContains(t, err, "out of canonical order")
}

func TestDecodeRejectsCodeCountMismatch(t *testing.T) {
	bin := moduleBytes(
		section(1, 0x01, 0x60, 0x00, 0x00),
		section(3, 0x01, 0x00),
		// no code section
	)
	_, err := Decode(bin)
	require.ErrorContains(t, err, "code section count mismatch")
}

func TestFindExport(t *testing.T) {
	dm, err := Decode(addModule())
	require.NoError(t, err)

	e, ok := dm.FindExport("add", ExportKindFunc)
	require.True(t, ok)
	require.Equal(t, uint32(0), e.Index)

	_, ok = dm.FindExport("add", ExportKindGlobal)
	require.False(t, ok)
	_, ok = dm.FindExport("missing", ExportKindFunc)
	require.False(t, ok)
}
