package compiler

import (
	"fmt"

	"github.com/wasmforge/wasmforge/internal/arch"
	"github.com/wasmforge/wasmforge/internal/arch/amd64"
	"github.com/wasmforge/wasmforge/internal/arch/arm64"
	"github.com/wasmforge/wasmforge/internal/arch/tricore"
	"github.com/wasmforge/wasmforge/internal/basedata"
	"github.com/wasmforge/wasmforge/internal/codegen"
	"github.com/wasmforge/wasmforge/internal/wasm"
)

// Architecture selects the target instruction set the driver compiles to.
type Architecture byte

const (
	AMD64 Architecture = iota + 1
	ARM64
	TriCore
)

func (a Architecture) String() string {
	switch a {
	case AMD64:
		return "amd64"
	case ARM64:
		return "arm64"
	case TriCore:
		return "tricore"
	default:
		return "invalid"
	}
}

// Options configures one Compile call.
type Options struct {
	Architecture Architecture
	// BoundsChecked forces the explicit compare-and-trap sequence on every
	// load/store regardless of architecture. Architectures with no MMU
	// fallback (TriCore) always compile it in, Options or not.
	BoundsChecked bool
	// EmitDebugMap requests the version-2 debug map byte stream alongside
	// the code buffer.
	EmitDebugMap bool
	// StacktraceDepth sizes the basedata stacktrace ring: the maximum
	// number of live call frames ever recorded at once.
	StacktraceDepth int
}

// CompileResult is the driver's output: two independently owned byte
// buffers (code, debug) plus a parsed header locating every exported
// symbol, import slot, and global's link-data offset.
type CompileResult struct {
	Code     []byte
	DebugMap []byte
	Header   Header
}

// Compile decodes bytecode, resolves its imports against nativeSymbols,
// lowers every defined function to native code for opts.Architecture, and
// serializes the binary footer (and, if requested, the debug map).
//
// allowUnknownImports lets a module whose imports aren't all present in
// nativeSymbols compile anyway, the runtime treating any uncalled missing
// import as a non-issue and any call through one as a dynamic-link error on
// first use rather than a compile-time failure.
func Compile(bytecode []byte, nativeSymbols []NativeSymbol, allowUnknownImports bool, opts Options) (*CompileResult, error) {
	decoded, err := wasm.Decode(bytecode)
	if err != nil {
		return nil, fmt.Errorf("compiler: decode: %w", err)
	}
	mod := decoded.Module

	// Link-data layout: global slots first, then one slot per imported
	// function, then the table's {typeIndex, entryPointer} array.
	globalsEnd := assignGlobalLinkData(mod)
	resolved, importsEnd, err := resolveImports(mod, nativeSymbols, allowUnknownImports, globalsEnd)
	if err != nil {
		return nil, err
	}
	linkLen := assignTableLinkData(mod, importsEnd)

	info, newAssembler, patchCall, err := selectBackend(opts.Architecture)
	if err != nil {
		return nil, err
	}
	if opts.Architecture == TriCore {
		opts.BoundsChecked = true
	}

	// Link data sits at the very bottom of basedata, below the stacktrace
	// ring and the fixed fields; generated code addresses its slots at this
	// negative offset from the linear-memory base.
	linkDataBase := -(int64(linkLen) + basedata.TotalSize(opts.StacktraceDepth))

	funcCount := len(mod.FunctionSection) - mod.NumImportedFunctions
	offsets := make([]uint32, funcCount)
	sourceMaps := make([][]SourcePos, funcCount)
	localLayouts := make([]wasm.LocalLayout, funcCount)
	var code []byte

	// Direct internal call sites, patched once every callee's final code
	// offset is known (a call site can precede its callee's compilation).
	type callPatch struct {
		site   uint64
		callee uint32
	}
	var callPatches []callPatch

	for i := 0; i < funcCount; i++ {
		fnIndex := uint32(mod.NumImportedFunctions + i)
		sig := mod.TypeOf(fnIndex)
		layout := buildLocalLayout(sig, decoded.Code[i])
		localLayouts[i] = layout

		state := &wasm.FunctionState{
			Locals:     layout,
			ParamWidth: len(sig.Params),
		}

		asm, err := newAssembler()
		if err != nil {
			return nil, fmt.Errorf("compiler: function %d: %w", fnIndex, err)
		}
		backend := codegen.New(asm, info, mod, state)
		backend.BoundsChecked = opts.BoundsChecked
		backend.LinkDataBase = linkDataBase
		backend.TableLinkBase = int64(importsEnd)

		paramTypes := make([]arch.MachineType, len(sig.Params))
		for j, p := range sig.Params {
			paramTypes[j] = p.MachineType()
		}
		resultTypes := make([]arch.MachineType, len(sig.Results))
		for j, r := range sig.Results {
			resultTypes[j] = r.MachineType()
		}
		argRegs := info.ArgRegisters
		if len(argRegs) > len(paramTypes) {
			argRegs = argRegs[:len(paramTypes)]
		}
		resultRegs := info.ResultRegisters
		if len(resultRegs) > len(resultTypes) {
			resultRegs = resultRegs[:len(resultTypes)]
		}

		if err := backend.Prologue(paramTypes, argRegs, 0); err != nil {
			return nil, fmt.Errorf("compiler: function %d: prologue: %w", fnIndex, err)
		}
		if err := backend.Compile(decoded.Code[i].Body); err != nil {
			return nil, fmt.Errorf("compiler: function %d: %w", fnIndex, err)
		}
		if err := backend.Epilogue(resultTypes, resultRegs); err != nil {
			return nil, fmt.Errorf("compiler: function %d: epilogue: %w", fnIndex, err)
		}

		fnCode, err := asm.Assemble()
		if err != nil {
			return nil, fmt.Errorf("compiler: function %d: assemble: %w", fnIndex, err)
		}
		offsets[i] = uint32(len(code))
		for _, cs := range backend.CallSites {
			callPatches = append(callPatches, callPatch{
				site:   uint64(offsets[i]) + cs.Node.OffsetInBinary(),
				callee: cs.CalleeIndex,
			})
		}
		code = append(code, fnCode...)
		sourceMaps[i] = nil // best-effort only; no per-instruction wasm-offset tracking is recovered without re-threading dispatch
	}

	for _, p := range callPatches {
		if int(p.callee) < mod.NumImportedFunctions {
			return nil, fmt.Errorf("compiler: direct call site recorded for imported function %d", p.callee)
		}
		target := uint64(offsets[int(p.callee)-mod.NumImportedFunctions])
		if err := patchCall(code, p.site, target); err != nil {
			return nil, fmt.Errorf("compiler: %w", err)
		}
	}

	helperStubs, code, err := emitHelperStubs(newAssembler, info, code)
	if err != nil {
		return nil, err
	}

	header := buildHeader(mod, resolved, linkLen, importsEnd, offsets, helperStubs, opts.StacktraceDepth)

	result := &CompileResult{Code: code, Header: header}
	if opts.EmitDebugMap {
		result.DebugMap = buildDebugMap(mod, localLayouts, offsets, sourceMaps, helperStubs.GenericTrapHandler)
	}
	return result, nil
}

// patchCallFunc rewrites a direct-call site's displacement in the final
// code buffer; each backend supplies its own encoding-aware implementation.
type patchCallFunc func(code []byte, siteOffset, targetOffset uint64) error

func selectBackend(a Architecture) (codegen.BackendInfo, func() (arch.Assembler, error), patchCallFunc, error) {
	switch a {
	case AMD64:
		return amd64.BackendInfo(), func() (arch.Assembler, error) { return amd64.NewAssembler() }, amd64.PatchCall, nil
	case ARM64:
		return arm64.BackendInfo(), func() (arch.Assembler, error) {
			return arm64.NewAssembler(arm64.ReservedRegisterTemporary)
		}, arm64.PatchCall, nil
	case TriCore:
		return tricore.BackendInfo(), func() (arch.Assembler, error) { return tricore.NewAssembler(), nil }, tricore.PatchCall, nil
	default:
		return codegen.BackendInfo{}, nil, nil, fmt.Errorf("compiler: unknown architecture %v", a)
	}
}

// buildLocalLayout lays out a function's params followed by its declared
// locals at consecutive 8-byte frame slots, params first so Prologue's
// argument-to-slot copy and the byte-code's local index space line up
// directly.
func buildLocalLayout(sig *wasm.FunctionType, cs wasm.CodeSection) wasm.LocalLayout {
	n := len(sig.Params)
	for _, run := range cs.LocalTypes {
		n += int(run.Count)
	}
	types := make([]arch.MachineType, 0, n)
	offsets := make([]int32, 0, n)
	var off int32
	for _, p := range sig.Params {
		types = append(types, p.MachineType())
		offsets = append(offsets, off)
		off += 8
	}
	for _, run := range cs.LocalTypes {
		for i := uint32(0); i < run.Count; i++ {
			types = append(types, run.Type.MachineType())
			offsets = append(offsets, off)
			off += 8
		}
	}
	return wasm.LocalLayout{Types: types, FrameOffset: offsets}
}

// assignGlobalLinkData assigns every global (imported or module-defined) an
// 8-byte slot in the link area: mutable globals always live there since
// writes must be visible to every caller, and immutable imported globals
// are stored there too so dynamic-linkage imports still have a concrete
// slot to read at call sites that haven't constant-folded them away.
func assignGlobalLinkData(mod *wasm.Module) uint32 {
	var off uint32
	for i := range mod.GlobalSection {
		mod.GlobalSection[i].LinkDataOffset = off
		off += 8
	}
	return off
}

// tableElementStride is the byte size of one {typeIndex, entryPointer}
// element in the first table's link-data array; codegen's call_indirect
// lowering assumes the same stride. A module with more than one table only
// ever uses table 0 in the subset of call_indirect implemented here.
const tableElementStride = 16

func assignTableLinkData(mod *wasm.Module, base uint32) uint32 {
	if len(mod.TableSection) == 0 {
		return base
	}
	return base + mod.TableSection[0].Min*tableElementStride
}
