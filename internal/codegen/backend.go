// Package codegen is the per-opcode backend dispatch: for
// every Wasm instruction it either constant-folds, defers (for fusion), or
// lowers straight to native code via internal/arch's Assembler interface,
// internal/opstack's compile-time stack, and internal/regalloc's allocator.
package codegen

import (
	"github.com/wasmforge/wasmforge/internal/arch"
	"github.com/wasmforge/wasmforge/internal/basedata"
	"github.com/wasmforge/wasmforge/internal/opstack"
	"github.com/wasmforge/wasmforge/internal/regalloc"
	"github.com/wasmforge/wasmforge/internal/wasm"
)

// BackendInfo is everything about a concrete architecture that codegen
// needs but which arch.Assembler's instruction-emission-only interface
// doesn't expose: register files, reserved registers, and the
// SemanticOp->Instruction table.
type BackendInfo struct {
	IntRegisters  []arch.Register
	VecRegisters  []arch.Register
	ClassOf       func(r arch.Register) regalloc.Class
	CandidatesFor func(op arch.SemanticOp, mt arch.MachineType) []arch.Instruction

	// MoveRegToMem/MoveMemToReg return the natural same-width store/load
	// instruction, used for spills and reloads where no arithmetic is
	// involved (as opposed to memory.go's LowerLoad/LowerStore, which
	// additionally handles narrow/sign-extending Wasm load/store variants).
	MoveRegToMem func(mt arch.MachineType) arch.Instruction
	MoveMemToReg func(mt arch.MachineType) arch.Instruction
	// MoveRegToReg returns the natural same-width register-to-register
	// move, used to copy an operand into the chosen destination register
	// before emitting a two-operand instruction whose destination must
	// equal its first source.
	MoveRegToReg func(mt arch.MachineType) arch.Instruction

	// LoadInstr/StoreInstr resolve a Wasm load/store's access width and
	// signedness to the concrete narrow/widening move: byteWidth is the
	// accessed memory width (1, 2, 4, 8) and signed selects the
	// sign-extending load variant.
	LoadInstr  func(mt arch.MachineType, byteWidth int, signed bool) arch.Instruction
	StoreInstr func(mt arch.MachineType, byteWidth int) arch.Instruction

	// Control-transfer instructions: no-op (branch anchor), unconditional
	// jump, direct call (displacement patched by the driver once every
	// function's position is known), indirect call through a register, and
	// return.
	Nop     arch.Instruction
	Jmp     arch.Instruction
	Call    arch.Instruction
	CallReg arch.Instruction
	Ret     arch.Instruction

	ReservedStackPointer     arch.Register
	ReservedLinearMemoryBase arch.Register
	ReservedModuleInstance   arch.Register
	ReservedTemporary        arch.Register

	// ArgRegisters/ResultRegisters are the WasmABI's register-passed
	// argument and return-value slots, in order, shared across GP and
	// vector values (a backend with separate GP/vector argument register
	// files still only needs one ordered list here since codegen picks
	// the register of the right class at each position via ClassOf).
	ArgRegisters    []arch.Register
	ResultRegisters []arch.Register

	// NonMMU is true for backends (TriCore) with no signal-handler
	// fallback: bounds checks are always compiled in and executable
	// memory is never remapped RX-only.
	NonMMU bool
}

// Backend drives lowering for a single function body. One Backend is
// created per function by internal/compiler's driver and discarded once
// that function's code is emitted.
type Backend struct {
	Asm   arch.Assembler
	Stack *opstack.Stack
	Alloc *regalloc.Allocator
	Info  BackendInfo

	Module *wasm.Module
	Func   *wasm.FunctionState

	// Reachable implements the per-function Prologue->Body{reachable |
	// unreachable}->Epilogue state machine.
	Reachable bool

	// BoundsChecked selects the explicit compare-and-trap sequence on every
	// linear-memory access; set by the driver from the compile options (and
	// forced on for non-MMU backends).
	BoundsChecked bool

	// LinkDataBase is the (negative) offset of link-data byte 0 from the
	// linear-memory base register: link data sits at the very bottom of
	// basedata, below the stacktrace ring and the fixed fields. Set by the
	// driver once the module's link-data length and stacktrace depth are
	// known; a global or import slot at link offset o is addressed as
	// [linearMemoryBase + LinkDataBase + o].
	LinkDataBase int64
	// TableLinkBase is the link-data offset of the first table's
	// {typeIndex, entryPointer} element array.
	TableLinkBase int64

	// CallSites records every direct internal call emitted in this
	// function body; the driver patches each site's displacement once the
	// callee's final code offset is known (callees later in the module
	// haven't been compiled when their call sites are emitted).
	CallSites []CallSite

	// openBlocks is the stack of currently open control frames, innermost
	// last; index 0 is the function's implicit outer block.
	openBlocks []*opstack.Element

	deferred *opstack.Element // at most one DeferredAction pending fusion
}

// CallSite is one direct call awaiting cross-function displacement
// resolution by the driver.
type CallSite struct {
	CalleeIndex uint32
	Node        arch.Node
}

// New creates a Backend ready to compile one function body.
func New(asm arch.Assembler, info BackendInfo, module *wasm.Module, fn *wasm.FunctionState) *Backend {
	stack := opstack.New()
	files := map[regalloc.Class][]arch.Register{
		regalloc.ClassGeneralPurpose: info.IntRegisters,
		regalloc.ClassVector:         info.VecRegisters,
	}
	protected := []arch.Register{
		info.ReservedStackPointer, info.ReservedLinearMemoryBase,
		info.ReservedModuleInstance, info.ReservedTemporary,
	}
	alloc := regalloc.New(stack, files, protected)
	b := &Backend{
		Asm: asm, Stack: stack, Alloc: alloc, Info: info,
		Module: module, Func: fn, Reachable: true,
	}
	alloc.SpillLocal = b.spillLocal
	alloc.SpillTemp = b.spillTemp
	alloc.WritebackGlobal = b.writebackGlobal
	return b
}

func (b *Backend) classOf(r arch.Register) regalloc.Class { return b.Info.ClassOf(r) }

func classForType(mt arch.MachineType) regalloc.Class {
	if mt.IsFloat() {
		return regalloc.ClassVector
	}
	return regalloc.ClassGeneralPurpose
}

// spillLocal writes a local's current register-cached value back to its
// reserved frame slot, per the eviction rule for locals.
func (b *Backend) spillLocal(local *opstack.Element) opstack.Storage {
	idx := local.Index
	reg := b.Info.ReservedTemporary // placeholder: the concrete register the local was cached in is tracked by the caller before invoking eviction
	off := b.Func.Locals.FrameOffset[idx]
	b.Asm.CompileRegisterToMemory(b.Info.MoveRegToMem(b.Func.Locals.Types[idx]), reg, b.Info.ReservedStackPointer, int64(off))
	return opstack.Storage{Kind: opstack.StorageStackMemory, FrameOffset: off}
}

// spillTemp stores a computed temporary to a freshly assigned frame slot,
// growing the function's frame as necessary.
func (b *Backend) spillTemp(temp *opstack.Element) opstack.Storage {
	off := b.Func.StackFrameSize
	b.Func.StackFrameSize += 8
	if b.Func.StackFrameSize > b.Func.CheckedStackFrameSize {
		b.checkStackFence()
	}
	b.Asm.CompileRegisterToMemory(b.Info.MoveRegToMem(temp.MachineType), temp.Storage.Register, b.Info.ReservedStackPointer, int64(off))
	return opstack.Storage{Kind: opstack.StorageStackMemory, FrameOffset: off}
}

func (b *Backend) writebackGlobal(global *opstack.Element) {
	def := b.Module.GlobalSection[global.Index]
	b.Asm.CompileRegisterToMemory(b.Info.MoveRegToMem(def.ValType.MachineType()), b.Info.ReservedTemporary, b.Info.ReservedLinearMemoryBase, b.LinkDataBase+int64(def.LinkDataOffset))
}

// checkStackFence re-validates the native stack pointer against the
// basedata fence slot after the frame grew past its previously checked
// high-water mark: SP below the fence traps StackFenceBreached. A zero
// fence (the runtime default) never trips the unsigned comparison.
func (b *Backend) checkStackFence() {
	b.Func.CheckedStackFrameSize = b.Func.StackFrameSize
	b.Asm.CompileMemoryToRegister(b.Info.MoveMemToReg(arch.TypeI64), b.Info.ReservedLinearMemoryBase, basedata.StackFenceOffset, b.Info.ReservedTemporary)
	cmp := b.Info.CandidatesFor(arch.OpLtU, arch.TypeI64)
	b.Asm.CompileRegisterToRegister(cmp[0], b.Info.ReservedTemporary, b.Info.ReservedStackPointer)
	b.Asm.CTRAP(arch.TrapStackFenceBreached, arch.CondLtU)
}

// compareWithZero emits `reg cmp 0`, the flag setup shared by br_if,
// select, and eqz-style consumers (all of which only need the symmetric
// Eq/Ne conditions).
func (b *Backend) compareWithZero(reg arch.Register, mt arch.MachineType) {
	cmp := b.Info.CandidatesFor(arch.OpEq, mt)
	b.Asm.CompileRegisterToConst(cmp[0], reg, 0)
}

