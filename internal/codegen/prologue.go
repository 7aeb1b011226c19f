package codegen

import (
	"github.com/wasmforge/wasmforge/internal/arch"
	"github.com/wasmforge/wasmforge/internal/opstack"
)

// Prologue runs the per-function
// state machine: reserves the frame slots every local needs (whether or
// not it is ever spilled there), moves incoming arguments from their ABI
// locations into those slots, and adds room for this function's
// stacktrace record to the frame size (see pushStacktraceRecord; no record
// is written).
//
// argRegs is the subset of the architecture's WasmABI argument registers
// actually used by this signature (one per param, register-pair-aware
// callers pass two entries for an i64 on a 32-bit target); params beyond
// len(argRegs) arrive on the native stack at stackArgBase and are copied
// into their local slots through a scratch register.
func (b *Backend) Prologue(paramTypes []arch.MachineType, argRegs []arch.Register, stackArgBase int32) error {
	frameSize := int32(len(b.Func.Locals.Types)) * 8
	if err := b.setStackFrameSize(frameSize); err != nil {
		return err
	}
	for i, mt := range paramTypes {
		off := b.Func.Locals.FrameOffset[i]
		if i < len(argRegs) {
			b.Asm.CompileRegisterToMemory(b.Info.MoveRegToMem(mt), argRegs[i], b.Info.ReservedStackPointer, int64(off))
		} else {
			stackOff := stackArgBase + int32(i-len(argRegs))*8
			r, err := b.Alloc.RequestScratch(classForType(mt), arch.NilRegister, b.classOf)
			if err != nil {
				return err
			}
			b.Asm.CompileMemoryToRegister(b.Info.MoveMemToReg(mt), b.Info.ReservedStackPointer, int64(stackOff), r)
			b.Asm.CompileRegisterToMemory(b.Info.MoveRegToMem(mt), r, b.Info.ReservedStackPointer, int64(off))
			b.Alloc.Release(r)
		}
	}
	b.pushStacktraceRecord(0)
	return nil
}

// setStackFrameSize sets the function's frame size, emits the SP
// adjustment through Asm.SubSP, and re-checks the stack fence
// (Backend.checkStackFence) whenever the new size exceeds the previously
// validated high-water mark. spillTemp and pushStacktraceRecord also change
// Func.StackFrameSize, without going through this method.
func (b *Backend) setStackFrameSize(newSize int32) error {
	if newSize > implementationMaxStackFrame {
		return frameTooLargeError(newSize)
	}
	b.Func.StackFrameSize = newSize
	b.Asm.SubSP(int64(newSize))
	if newSize > b.Func.CheckedStackFrameSize {
		b.checkStackFence()
	}
	return nil
}

// implementationMaxStackFrame is the hard per-function frame size ceiling
// setStackFrameSize enforces against every frame it sizes.
const implementationMaxStackFrame = 1 << 20

type frameTooLargeError int32

func (e frameTooLargeError) Error() string {
	return "codegen: stack frame size exceeds implementation limit"
}

// Epilogue materializes every declared result into its ABI return location
// (register-backed first, then stack-memory temps), pops the stacktrace
// record, restores SP, and returns.
func (b *Backend) Epilogue(resultTypes []arch.MachineType, resultRegs []arch.Register) error {
	results := make([]*opstack.Element, len(resultTypes))
	for i := len(resultTypes) - 1; i >= 0; i-- {
		results[i] = b.Stack.Pop()
	}
	for i, mt := range resultTypes {
		dst := arch.NilRegister
		if i < len(resultRegs) {
			dst = resultRegs[i]
		}
		r := b.materialize(results[i], dst)
		if dst != arch.NilRegister && r != dst {
			b.Asm.CompileRegisterToRegister(b.Info.MoveRegToReg(mt), r, dst)
		}
		b.releaseIfScratch(results[i])
	}
	b.popStacktraceRecord()
	b.Asm.SubSP(-int64(b.Func.StackFrameSize))
	b.Asm.CompileStandAlone(b.Info.Ret)
	return nil
}
