// Package wasm holds the decoded Wasm module descriptors
// ("Module info"): the type table, function/global/table/memory
// descriptors, and the per-function local layout the compiler driver
// mutates while generating one function body at a time.
package wasm

import (
	"fmt"

	"github.com/wasmforge/wasmforge/internal/arch"
)

// ValueType is the wire encoding of a Wasm value type, distinct from
// arch.MachineType: ValueType is what the binary format spells; MachineType
// is what the compile-time stack tracks. funcRefOrExternRef values still
// carry MachineType i64 at the machine level (an opaque index/address).
type ValueType byte

const (
	ValueTypeI32       ValueType = 0x7f
	ValueTypeI64       ValueType = 0x7e
	ValueTypeF32       ValueType = 0x7d
	ValueTypeF64       ValueType = 0x7c
	ValueTypeFuncref   ValueType = 0x70
	ValueTypeExternref ValueType = 0x6f
)

func (v ValueType) String() string {
	switch v {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	case ValueTypeFuncref:
		return "funcref"
	case ValueTypeExternref:
		return "externref"
	default:
		return fmt.Sprintf("unknown(0x%x)", byte(v))
	}
}

// MachineType maps a wire value type onto the compile-time machine type.
// funcref/externref are tracked as i64 (an index, or on 64-bit hosts a
// pointer-sized opaque handle); the distinction only matters to validation,
// not to code generation.
func (v ValueType) MachineType() arch.MachineType {
	switch v {
	case ValueTypeI32:
		return arch.TypeI32
	case ValueTypeI64, ValueTypeFuncref, ValueTypeExternref:
		return arch.TypeI64
	case ValueTypeF32:
		return arch.TypeF32
	case ValueTypeF64:
		return arch.TypeF64
	default:
		return arch.TypeInvalid
	}
}

// FunctionType is a signature: the PARAMSTART/PARAMEND-bracketed encoding of
// this collapses, once decoded, to a params/results pair.
type FunctionType struct {
	Params  []ValueType
	Results []ValueType

	// key memoizes a unique string identity for deduplicating equal
	// signatures during decode (many modules repeat the same type).
	key string
}

// Key returns a cache key uniquely identifying this signature, computed
// once and memoized.
func (f *FunctionType) Key() string {
	if f.key == "" {
		b := make([]byte, 0, len(f.Params)+len(f.Results)+1)
		for _, p := range f.Params {
			b = append(b, byte(p))
		}
		b = append(b, '_')
		for _, r := range f.Results {
			b = append(b, byte(r))
		}
		f.key = string(b)
	}
	return f.key
}

// FunctionDefinition describes one entry of the function index space,
// whether imported or module-defined.
type FunctionDefinition struct {
	// TypeIndex indexes into Module.TypeSection.
	TypeIndex uint32
	// IsImported is true when this function has no Code entry and must be
	// resolved against NativeSymbol/dynamic linkage at runtime init.
	IsImported  bool
	ImportedAs  string // "module.name" for diagnostics
	Name        string // from the optional custom name section, may be empty
	CodeOffset  uint64 // byte offset of this function's body within Module.Code (imported functions: unused)
	NativeIndex int    // position of the corresponding NativeSymbol, or -1

	// ImportLinkOffset/ImportVersion are filled during import resolution
	// for imported functions: the link-data slot holding the resolved
	// native entry, and which import-call bridge family the call sites
	// compile against.
	ImportLinkOffset uint32
	ImportVersion    arch.ImportVersion
}

// GlobalType describes the machine type and mutability of one global.
type GlobalType struct {
	ValType ValueType
	Mutable bool
}

// GlobalDefinition is one entry in the global index space.
type GlobalDefinition struct {
	GlobalType
	IsImported bool
	// Init holds the constant initializer (global.get of an imported
	// immutable global, or a numeric const) for module-defined globals.
	Init ConstExpr
	// LinkDataOffset is this global's slot in the job-memory link area
	// (its link-data slot); assigned during driver Compile for every
	// global, imported or not, since mutable globals always live there and
	// immutable ones are reduced to constants at consumption anyway.
	LinkDataOffset uint32
}

// ConstExpr is a decoded constant initializer expression: Wasm restricts
// these to a single const/global.get instruction followed by end.
type ConstExpr struct {
	Opcode Opcode
	// I64 holds the decoded literal bit pattern for any numeric const
	// (i32.const/i64.const/f32.const/f64.const all fit in 64 bits).
	I64 int64
	// GlobalIndex is set when Opcode == OpcodeGlobalGet.
	GlobalIndex uint32
}

// TableType describes one table's element type and size limits.
type TableType struct {
	ElemType ValueType // Funcref or Externref
	Min      uint32
	Max      *uint32
}

// MemoryType describes the module's single linear memory, in 64KiB pages.
type MemoryType struct {
	Min uint32
	Max *uint32
	// MaxPages is Max if present, else the implementation ceiling.
	MaxPages uint32
}

const WasmPageSize = 1 << 16

// ExportKind distinguishes the four exportable index spaces.
type ExportKind byte

const (
	ExportKindFunc ExportKind = iota
	ExportKindTable
	ExportKindMemory
	ExportKindGlobal
)

// Export is one entry of the export section, sorted by Name once decoded so
// the compiled binary's export table can be binary-searched.
type Export struct {
	Name  string
	Kind  ExportKind
	Index uint32
}

// ElementSegment fills a range of a table with function indices at
// instantiation (driver step 4, filling the link area).
type ElementSegment struct {
	TableIndex uint32
	Offset     ConstExpr
	FuncIndex  []uint32
}

// DataSegment copies a byte range into linear memory at instantiation.
type DataSegment struct {
	MemoryIndex uint32
	Offset      ConstExpr
	Init        []byte
}

// LocalLayout is the per-function mapping from local index (params first,
// then declared locals) to machine type and stack-frame slot, computed once
// at function-body-decode time and then held fixed for the remainder of
// compilation of that function.
type LocalLayout struct {
	Types []arch.MachineType
	// FrameOffset[i] is local i's fixed offset in the function's stack
	// frame, reserved whether or not the local is ever spilled there.
	FrameOffset []int32
}

// FunctionState is the per-function mutable state the driver (C7) threads
// through code generation for a single function body; it
// "Lifecycles" scopes its mutation to "only during the current function
// body".
type FunctionState struct {
	Locals LocalLayout
	// ParamWidth is the number of locals that are parameters (vs.
	// explicitly declared locals).
	ParamWidth int
	// StackFrameSize is the current size of the native stack frame, set by
	// setStackFrameSize and adjusted directly by spillTemp and
	// pushStacktraceRecord.
	StackFrameSize int32
	// CheckedStackFrameSize is the high-water mark already validated
	// against the stack fence (see setStackFrameSize).
	CheckedStackFrameSize int32
}

// Module is the fully decoded module-info structure,
// populated section by section by internal/compiler's driver.
type Module struct {
	TypeSection     []*FunctionType
	FunctionSection []FunctionDefinition
	TableSection    []TableType
	MemorySection   *MemoryType
	GlobalSection   []GlobalDefinition
	ExportSection   []Export // kept sorted by Name
	StartFunction   *uint32
	ElementSection  []ElementSegment
	DataSection     []DataSegment

	// NumImportedFunctions/Globals mark the boundary between the imported
	// and module-defined halves of each index space.
	NumImportedFunctions int
	NumImportedGlobals   int

	// NameSection is the best-effort function/local naming recovered from
	// the optional custom "name" section, used to decorate trap
	// stacktraces and the debug map with names. Nil when absent.
	NameSection *NameSection
}

// NameSection holds the subset of the custom name section the debug map
// and trap stacktraces can make use of.
type NameSection struct {
	ModuleName    string
	FunctionNames map[uint32]string
	LocalNames    map[uint32]map[uint32]string
}

// TypeOf returns the signature for a given function index, spanning both
// imported and defined functions.
func (m *Module) TypeOf(funcIndex uint32) *FunctionType {
	return m.TypeSection[m.FunctionSection[funcIndex].TypeIndex]
}

// FindExport returns the export with the given name and kind, if any.
func (m *Module) FindExport(name string, kind ExportKind) (Export, bool) {
	lo, hi := 0, len(m.ExportSection)
	for lo < hi {
		mid := (lo + hi) / 2
		if m.ExportSection[mid].Name < name {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(m.ExportSection) && m.ExportSection[lo].Name == name && m.ExportSection[lo].Kind == kind {
		return m.ExportSection[lo], true
	}
	return Export{}, false
}
