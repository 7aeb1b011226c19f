package compiler

import (
	"encoding/binary"

	"github.com/wasmforge/wasmforge/internal/arch"
	"github.com/wasmforge/wasmforge/internal/basedata"
	"github.com/wasmforge/wasmforge/internal/codegen"
	"github.com/wasmforge/wasmforge/internal/wasm"
)

// NoStartFunction is the sentinel Header.StartFunctionOffset carries when
// the module declares no start function.
const NoStartFunction = 0xFFFF_FFFF

// HelperStubs locates the three synthesized entry points every compiled
// module carries regardless of its own exports: the landing pad a trap
// site jumps to, a stacktrace-collector entry and an indirect-call
// dispatcher entry. emitHelperStubs emits the last two as a bare return.
type HelperStubs struct {
	GenericTrapHandler   uint32
	StacktraceCollector  uint32
	IndirectCallDispatch uint32
}

// ExportEntry is one row of the sorted-by-name export table.
type ExportEntry struct {
	Name  string
	Kind  wasm.ExportKind
	Index uint32
}

// TypeEntry is one row of the type table, the decoded form of a
// FunctionType's PARAMSTART/PARAMEND-bracketed wire encoding.
type TypeEntry struct {
	Params  []arch.MachineType
	Results []arch.MachineType
}

// GlobalEntry is one row of the global table.
type GlobalEntry struct {
	Type           arch.MachineType
	Mutable        bool
	IsImported     bool
	LinkDataOffset uint32
	// Init is the resolved initializer bit pattern, written into the
	// link-data slot at runtime init. Imported globals carry zero here and
	// are overwritten during dynamic linking.
	Init int64
}

// TableEntry is one row of the table-definitions list.
type TableEntry struct {
	ElemType wasm.ValueType
	Min      uint32
	Max      *uint32
}

// Header is the compiled binary's parsed footer: everything needed to
// locate exports, resolve imports, and lay out link data at instantiation,
// without re-parsing the Wasm source module.
type Header struct {
	HelperStubs           HelperStubs
	Exports               []ExportEntry
	Imports               []ImportBinding
	Types                 []TypeEntry
	Globals               []GlobalEntry
	LinkDataLength        uint32
	StacktraceRecordCount uint32
	Tables                []TableEntry
	StartFunctionOffset   uint32
	FunctionOffsets       []uint32 // native code offset of each module-defined function, indexed from NumImportedFunctions

	// Instantiation images: everything the runtime writes into job memory
	// at init without re-parsing the Wasm source. FunctionTypeIndices spans
	// the whole function index space (imported functions first) so element
	// segments can fill table entries with their {typeIndex, entryPointer}
	// pairs.
	Memory               *wasm.MemoryType
	Elements             []wasm.ElementSegment
	Data                 []wasm.DataSegment
	FunctionTypeIndices  []uint32
	NumImportedFunctions int
	TableLinkDataOffset  uint32

	// FunctionNames is the best-effort naming recovered from the custom
	// name section, used to decorate trap stacktraces. Nil when absent.
	FunctionNames map[uint32]string
}

func buildHeader(mod *wasm.Module, imports []ImportBinding, linkLen, tableLinkBase uint32, offsets []uint32, stubs HelperStubs, stacktraceDepth int) Header {
	h := Header{
		HelperStubs:           stubs,
		Imports:               imports,
		LinkDataLength:        linkLen,
		StacktraceRecordCount: uint32(stacktraceDepth),
		FunctionOffsets:       offsets,
		StartFunctionOffset:   NoStartFunction,
		Memory:                mod.MemorySection,
		Elements:              mod.ElementSection,
		Data:                  mod.DataSection,
		NumImportedFunctions:  mod.NumImportedFunctions,
		TableLinkDataOffset:   tableLinkBase,
	}
	h.FunctionTypeIndices = make([]uint32, len(mod.FunctionSection))
	for i, f := range mod.FunctionSection {
		h.FunctionTypeIndices[i] = f.TypeIndex
	}
	if mod.NameSection != nil {
		h.FunctionNames = mod.NameSection.FunctionNames
	}

	h.Exports = make([]ExportEntry, len(mod.ExportSection))
	for i, e := range mod.ExportSection {
		h.Exports[i] = ExportEntry{Name: e.Name, Kind: e.Kind, Index: e.Index}
	}

	h.Types = make([]TypeEntry, len(mod.TypeSection))
	for i, t := range mod.TypeSection {
		params := make([]arch.MachineType, len(t.Params))
		for j, p := range t.Params {
			params[j] = p.MachineType()
		}
		results := make([]arch.MachineType, len(t.Results))
		for j, r := range t.Results {
			results[j] = r.MachineType()
		}
		h.Types[i] = TypeEntry{Params: params, Results: results}
	}

	h.Globals = make([]GlobalEntry, len(mod.GlobalSection))
	for i, g := range mod.GlobalSection {
		h.Globals[i] = GlobalEntry{
			Type: g.ValType.MachineType(), Mutable: g.Mutable,
			IsImported: g.IsImported, LinkDataOffset: g.LinkDataOffset,
			Init: resolveGlobalInit(mod, uint32(i), 0),
		}
	}

	h.Tables = make([]TableEntry, len(mod.TableSection))
	for i, t := range mod.TableSection {
		h.Tables[i] = TableEntry{ElemType: t.ElemType, Min: t.Min, Max: t.Max}
	}

	if mod.StartFunction != nil {
		idx := *mod.StartFunction
		if int(idx) >= mod.NumImportedFunctions {
			h.StartFunctionOffset = offsets[int(idx)-mod.NumImportedFunctions]
		}
	}
	return h
}

// resolveGlobalInit chases a global.get initializer chain down to its
// numeric constant. Wasm only permits global.get of a previously declared
// (imported, immutable) global, so the chain is short and acyclic; the
// depth guard is against malformed input only. Imported globals resolve to
// zero here and are overwritten during dynamic linking.
func resolveGlobalInit(mod *wasm.Module, idx uint32, depth int) int64 {
	if depth > len(mod.GlobalSection) {
		return 0
	}
	g := mod.GlobalSection[idx]
	if g.IsImported {
		return 0
	}
	if g.Init.Opcode == wasm.OpcodeGlobalGet {
		return resolveGlobalInit(mod, g.Init.GlobalIndex, depth+1)
	}
	return g.Init.I64
}

// emitHelperStubs appends the three synthesized entry points to code and
// returns their offsets. The generic trap handler is the landing pad the
// signal bridge's trap-handler slot points at: by the time control reaches
// it, the trap code is already in its basedata slot, so it only unwinds
// (restore the host stack pointer from the unwind slot) and returns into
// the host. The stacktrace collector and indirect-call dispatcher are
// host-side in this build, so their entry points reduce to a return.
func emitHelperStubs(newAssembler func() (arch.Assembler, error), info codegen.BackendInfo, code []byte) (HelperStubs, []byte, error) {
	var stubs HelperStubs

	asm, err := newAssembler()
	if err != nil {
		return stubs, nil, err
	}
	asm.CompileMemoryToRegister(info.MoveMemToReg(arch.TypeI64), info.ReservedLinearMemoryBase, basedata.StackUnwindOffset, info.ReservedStackPointer)
	asm.CompileStandAlone(info.Ret)
	b, err := asm.Assemble()
	if err != nil {
		return stubs, nil, err
	}
	stubs.GenericTrapHandler = uint32(len(code))
	code = append(code, b...)

	for _, dst := range []*uint32{&stubs.StacktraceCollector, &stubs.IndirectCallDispatch} {
		asm, err := newAssembler()
		if err != nil {
			return stubs, nil, err
		}
		asm.CompileStandAlone(info.Ret)
		b, err := asm.Assemble()
		if err != nil {
			return stubs, nil, err
		}
		*dst = uint32(len(code))
		code = append(code, b...)
	}
	return stubs, code, nil
}

// SourcePos is one (wasmOffset, nativeOffset) pair of a function's
// best-effort source map, present only when name-section or per-opcode
// offset tracking recovered it.
type SourcePos struct {
	WasmOffset   uint32
	NativeOffset uint32
}

const debugMapVersion = 2

// buildDebugMap serializes the version-2 debug map wire format:
//
//	{version, lastFramePtrOffset, actualLinMemSizeOffset, linkDataStartOffset,
//	 genericTrapHandlerOffset, count_mutableGlobals, [(globalIdx, linkDataOffset)],
//	 count_nonImportedFunctions, [(fncIdx, count_locals, [localFrameOffset...],
//	 count_sourceMap, [(wasmOffset, nativeOffset)...])]}
func buildDebugMap(mod *wasm.Module, layouts []wasm.LocalLayout, offsets []uint32, sourceMaps [][]SourcePos, genericTrapHandlerOffset uint32) []byte {
	var buf []byte
	putU32 := func(v uint32) { buf = binary.LittleEndian.AppendUint32(buf, v) }
	putI64 := func(v int64) { buf = binary.LittleEndian.AppendUint64(buf, uint64(v)) }

	putU32(debugMapVersion)
	putI64(int64(basedata.LastFrameOffset))
	putI64(int64(basedata.ActualSizeOffset))
	putU32(0) // linkDataStartOffset: link data begins at basedata base + 0 in this layout
	putU32(genericTrapHandlerOffset)

	var mutable []wasm.GlobalDefinition
	var mutableIdx []uint32
	for i, g := range mod.GlobalSection {
		if g.Mutable {
			mutable = append(mutable, g)
			mutableIdx = append(mutableIdx, uint32(i))
		}
	}
	putU32(uint32(len(mutable)))
	for i, g := range mutable {
		putU32(mutableIdx[i])
		putU32(g.LinkDataOffset)
	}

	putU32(uint32(len(layouts)))
	for i, layout := range layouts {
		fncIdx := uint32(mod.NumImportedFunctions + i)
		putU32(fncIdx)
		putU32(uint32(len(layout.FrameOffset)))
		for _, off := range layout.FrameOffset {
			putU32(uint32(off))
		}
		sm := sourceMaps[i]
		putU32(uint32(len(sm)))
		for _, p := range sm {
			putU32(p.WasmOffset)
			putU32(p.NativeOffset)
		}
	}
	_ = offsets
	return buf
}
