package codegen

import (
	"github.com/wasmforge/wasmforge/internal/arch"
	"github.com/wasmforge/wasmforge/internal/basedata"
	"github.com/wasmforge/wasmforge/internal/opstack"
	"github.com/wasmforge/wasmforge/internal/regalloc"
	"github.com/wasmforge/wasmforge/internal/wasm"
)

// lowerLocalSet implements local.set/local.tee: pop the value, write it back
// to the local's reserved frame slot, and for local.tee push a fresh Local
// reference so later reads reload from that slot (mirroring how LocalGet
// always produces a Local element rather than caching the written register).
func (b *Backend) lowerLocalSet(idx uint32, isTee bool) error {
	v := b.Stack.Pop()
	mt := b.Func.Locals.Types[idx]
	r := b.materialize(v, arch.NilRegister)
	off := b.Func.Locals.FrameOffset[idx]
	b.Asm.CompileRegisterToMemory(b.Info.MoveRegToMem(mt), r, b.Info.ReservedStackPointer, int64(off))
	b.releaseIfScratch(v)
	if isTee {
		b.Stack.Push(opstack.NewLocal(idx, mt))
	}
	return nil
}

// lowerGlobalSet implements global.set: pop the value and write it to the
// global's link-data slot (its link area), the mutable-global
// counterpart to materialize's global.get read path.
func (b *Backend) lowerGlobalSet(idx uint32) error {
	v := b.Stack.Pop()
	def := b.Module.GlobalSection[idx]
	r := b.materialize(v, arch.NilRegister)
	b.Asm.CompileRegisterToMemory(b.Info.MoveRegToMem(def.ValType.MachineType()), r, b.Info.ReservedLinearMemoryBase, b.LinkDataBase+int64(def.LinkDataOffset))
	b.releaseIfScratch(v)
	return nil
}

// basedataMemoryHelperOffset mirrors internal/basedata.MemoryHelperOffset
// under a local name; like basedata's field it is an untyped constant.
const basedataMemoryHelperOffset = basedata.MemoryHelperOffset

// lowerMemorySize implements memory.size: the cached byte size lives in the
// basedata actualSize slot, converted to 64KiB pages by a right shift.
func (b *Backend) lowerMemorySize() error {
	sizeReg, err := b.Alloc.RequestScratch(regalloc.ClassGeneralPurpose, arch.NilRegister, b.classOf)
	if err != nil {
		return err
	}
	b.Asm.CompileMemoryToRegister(b.Info.MoveMemToReg(arch.TypeI64), b.Info.ReservedLinearMemoryBase, basedataActualSizeOffset, sizeReg)
	shr := b.Info.CandidatesFor(arch.OpShrU, arch.TypeI64)
	b.Asm.CompileRegisterToConst(shr[0], sizeReg, 16)
	b.Stack.Push(opstack.NewScratchRegister(sizeReg, arch.TypeI32))
	return nil
}

// lowerMemoryGrow implements memory.grow: hands the delta (in pages) to the
// runtime's memory helper reached through the basedata memoryHelper slot;
// the helper itself (and the real calling convention into it) is owned by
// internal/compiler and the root runtime package, not codegen.
func (b *Backend) lowerMemoryGrow() error {
	delta := b.Stack.Pop()
	deltaReg := b.materialize(delta, arch.NilRegister)

	helperReg, err := b.Alloc.RequestScratch(regalloc.ClassGeneralPurpose, arch.NilRegister, b.classOf)
	if err != nil {
		return err
	}
	b.Asm.CompileMemoryToRegister(b.Info.MoveMemToReg(arch.TypeI64), b.Info.ReservedLinearMemoryBase, basedataMemoryHelperOffset, helperReg)
	if len(b.Info.ArgRegisters) > 0 && deltaReg != b.Info.ArgRegisters[0] {
		b.Asm.CompileRegisterToRegister(b.Info.MoveRegToReg(arch.TypeI32), deltaReg, b.Info.ArgRegisters[0])
	}
	b.Asm.CompileJumpToRegister(b.Info.CallReg, helperReg)
	b.Alloc.Release(helperReg)
	b.releaseIfScratch(delta)

	result, err := b.Alloc.RequestScratch(regalloc.ClassGeneralPurpose, arch.NilRegister, b.classOf)
	if err != nil {
		return err
	}
	if len(b.Info.ResultRegisters) > 0 {
		b.Asm.CompileRegisterToRegister(b.Info.MoveRegToReg(arch.TypeI32), b.Info.ResultRegisters[0], result)
	}
	b.Stack.Push(opstack.NewScratchRegister(result, arch.TypeI32))
	return nil
}

// lowerSelect implements the select opcode: pop cond, then the two value
// operands (Wasm's stack order is val1, val2, cond with cond on top), and
// pick one via a cmp-then-jump sequence since none of the architectures
// modeled here expose a dedicated conditional-move Instruction in their
// coarse enum (the same branch-based idiom BrIf already uses).
func (b *Backend) lowerSelect() error {
	cond := b.Stack.Pop()
	val2 := b.Stack.Pop()
	val1 := b.Stack.Pop()
	mt := val1.MachineType

	condReg := b.materialize(cond, arch.NilRegister)
	oneReg := b.materialize(val1, arch.NilRegister)
	twoReg := b.materialize(val2, arch.NilRegister)

	// Nonzero condition keeps val1; zero replaces it with val2.
	b.compareWithZero(condReg, arch.TypeI32)
	skip := b.Asm.CompileConditionalJump(arch.CondNe)
	b.Asm.CompileRegisterToRegister(b.Info.MoveRegToReg(mt), twoReg, oneReg)
	here := b.Asm.CompileStandAlone(b.Info.Nop)
	skip.AssignJumpTarget(here)

	b.releaseIfScratch(cond)
	b.releaseIfScratch(val2)
	b.releaseIfScratch(val1)
	b.Stack.Push(opstack.NewScratchRegister(oneReg, mt))
	return nil
}

// toWasmSig narrows a decoded *wasm.FunctionType to the machine-type-only
// shape InternalCall/V1ImportCall/V2ImportCall need, so this package never
// has to reach back into ValueType outside this one conversion point.
func toWasmSig(ft *wasm.FunctionType) wasmSig {
	sig := wasmSig{Params: make([]arch.MachineType, len(ft.Params)), Results: make([]arch.MachineType, len(ft.Results))}
	for i, p := range ft.Params {
		sig.Params[i] = p.MachineType()
	}
	for i, r := range ft.Results {
		sig.Results[i] = r.MachineType()
	}
	return sig
}

// lowerCall implements the call opcode: internal calls marshal arguments
// straight into registers/stack per InternalCall; calls to an imported
// function route through the import bridge its NativeSymbol selected, the
// context register being the reserved module-instance pointer every
// trampoline receives.
func (b *Backend) lowerCall(idx uint32) error {
	sig := toWasmSig(b.Module.TypeOf(idx))
	def := b.Module.FunctionSection[idx]
	if def.IsImported {
		if def.ImportVersion == arch.ImportV1 {
			return b.V1ImportCall(&sig, def.ImportLinkOffset, b.Info.ReservedModuleInstance, b.Info.ArgRegisters)
		}
		// The V2 bridge reads arguments from SP slots and writes results
		// back to the same area.
		return b.V2ImportCall(&sig, def.ImportLinkOffset, b.Info.ReservedStackPointer, b.Info.ReservedStackPointer, b.Info.ReservedModuleInstance)
	}
	return b.InternalCall(&sig, idx, b.Info.ArgRegisters)
}

// tableElementStride is the byte size of one {typeIndex, entryPointer}
// table element in link data, kept equal to internal/compiler's layout
// constant.
const tableElementStride = 16

// lowerCallIndirect implements call_indirect: bounds-checks the table index
// (trapping UndefinedElement), verifies the callee's declared type matches
// typeIdx (trapping IndirectCallTypeMismatch), then calls through the
// fetched entry pointer exactly like an internal call once validated.
func (b *Backend) lowerCallIndirect(typeIdx uint32) error {
	tableIdx := b.Stack.Pop()
	idxReg := b.materialize(tableIdx, arch.NilRegister)

	tableLen := int64(0)
	if len(b.Module.TableSection) > 0 {
		tableLen = int64(b.Module.TableSection[0].Min)
	}
	lenReg, err := b.Alloc.RequestScratch(regalloc.ClassGeneralPurpose, arch.NilRegister, b.classOf)
	if err != nil {
		return err
	}
	b.Asm.MOVimm(lenReg, tableLen, arch.TypeI64)
	cmpU := b.Info.CandidatesFor(arch.OpGeU, arch.TypeI64)
	b.Asm.CompileRegisterToRegister(cmpU[0], lenReg, idxReg)
	b.Alloc.Release(lenReg)
	b.Asm.CTRAP(arch.TrapUndefinedElement, arch.CondGeU)

	// elem = linearMemoryBase + LinkDataBase + TableLinkBase + idx*16;
	// word 0 is the element's typeIndex, word 1 its entry pointer.
	elem, err := b.Alloc.RequestScratch(regalloc.ClassGeneralPurpose, arch.NilRegister, b.classOf)
	if err != nil {
		return err
	}
	b.Asm.CompileRegisterToRegister(b.Info.MoveRegToReg(arch.TypeI32), idxReg, elem)
	shl := b.Info.CandidatesFor(arch.OpShl, arch.TypeI64)
	b.Asm.CompileRegisterToConst(shl[0], elem, 4)
	add := b.Info.CandidatesFor(arch.OpAdd, arch.TypeI64)
	b.Asm.CompileRegisterToRegister(add[0], b.Info.ReservedLinearMemoryBase, elem)
	elemBase := b.LinkDataBase + b.TableLinkBase

	typeReg, err := b.Alloc.RequestScratch(regalloc.ClassGeneralPurpose, arch.NilRegister, b.classOf)
	if err != nil {
		return err
	}
	b.Asm.CompileMemoryToRegister(b.Info.MoveMemToReg(arch.TypeI64), elem, elemBase, typeReg)
	cmpEq := b.Info.CandidatesFor(arch.OpEq, arch.TypeI64)
	b.Asm.CompileRegisterToConst(cmpEq[0], typeReg, int64(typeIdx))
	b.Alloc.Release(typeReg)
	b.Asm.CTRAP(arch.TrapIndirectCallTypeMismatch, arch.CondNe)

	calleeReg, err := b.Alloc.RequestScratch(regalloc.ClassGeneralPurpose, arch.NilRegister, b.classOf)
	if err != nil {
		return err
	}
	b.Asm.CompileMemoryToRegister(b.Info.MoveMemToReg(arch.TypeI64), elem, elemBase+8, calleeReg)
	b.Alloc.Release(elem)
	b.releaseIfScratch(tableIdx)

	sig := toWasmSig(b.Module.TypeSection[typeIdx])
	args := b.popArgs(len(sig.Params))
	protectCallee := b.Alloc.ProtectReads(calleeReg)
	moves := make([]regalloc.Move, 0, len(b.Info.ArgRegisters))
	for i, target := range b.Info.ArgRegisters {
		if i >= len(args) {
			break
		}
		moves = append(moves, regalloc.Move{Target: target, Source: b.materialize(args[i], target)})
	}
	if err := regalloc.Resolve(moves, b.emitMove, b.emitSwap, b.Info.ReservedTemporary); err != nil {
		return err
	}
	protectCallee()
	for _, a := range args {
		b.releaseIfScratch(a)
	}

	b.pushStacktraceRecord(0)
	b.Asm.CompileJumpToRegister(b.Info.CallReg, calleeReg)
	b.popStacktraceRecord()
	b.Alloc.Release(calleeReg)
	return b.pushResults(sig.Results)
}

// LowerUnaryDispatch is the entry point dispatch's opTable calls for every
// unary opcode. It exists as a seam separate from LowerUnary itself so ops
// with no single-instruction realization (eqz everywhere, clz/ctz/popcnt
// on architectures lacking a native encoding) can special-case without
// touching the dispatch table.
func (b *Backend) LowerUnaryDispatch(op arch.SemanticOp, mt arch.MachineType) error {
	if op == arch.OpEqz {
		return b.lowerEqz(mt)
	}
	return b.LowerUnary(op, mt)
}

// lowerEqz compares against zero and materializes the equality flag; there
// is no single-instruction eqz on any of the modeled architectures.
func (b *Backend) lowerEqz(mt arch.MachineType) error {
	v := b.Stack.Pop()
	if v.Kind == opstack.KindConstant {
		var folded int64
		if v.ConstantBits == 0 {
			folded = 1
		}
		b.Stack.Push(opstack.NewConstant(arch.TypeI32, folded))
		return nil
	}
	r := b.materialize(v, arch.NilRegister)
	b.releaseIfScratch(v)
	b.compareWithZero(r, mt)
	dest, err := b.Alloc.RequestScratch(regalloc.ClassGeneralPurpose, arch.NilRegister, b.classOf)
	if err != nil {
		return err
	}
	b.Asm.CompileSetCondition(arch.CondEq, dest)
	b.Stack.Push(opstack.NewScratchRegister(dest, arch.TypeI32))
	return nil
}
