package codegen

import (
	"github.com/wasmforge/wasmforge/internal/arch"
	"github.com/wasmforge/wasmforge/internal/opstack"
)

// materialize ensures e's value is readable from a concrete register,
// loading it there if it currently lives in a local slot, a global's link
// data, a stack-memory spill, or is a bare constant. Returns the register.
func (b *Backend) materialize(e *opstack.Element, hint arch.Register) arch.Register {
	switch e.Kind {
	case opstack.KindScratchRegister:
		return e.Register

	case opstack.KindTempResult:
		if e.Storage.Kind == opstack.StorageRegister {
			return e.Storage.Register
		}
		r, err := b.Alloc.RequestScratch(classForType(e.MachineType), hint, b.classOf)
		if err != nil {
			panic(err)
		}
		b.reload(r, e.Storage, e.MachineType)
		e.Storage = opstack.Storage{Kind: opstack.StorageRegister, Register: r}
		return r

	case opstack.KindLocal:
		r, err := b.Alloc.RequestScratch(classForType(e.MachineType), hint, b.classOf)
		if err != nil {
			panic(err)
		}
		off := b.Func.Locals.FrameOffset[e.Index]
		b.Asm.CompileMemoryToRegister(b.Info.MoveMemToReg(e.MachineType), b.Info.ReservedStackPointer, int64(off), r)
		return r

	case opstack.KindGlobal:
		r, err := b.Alloc.RequestScratch(classForType(e.MachineType), hint, b.classOf)
		if err != nil {
			panic(err)
		}
		def := b.Module.GlobalSection[e.Index]
		if !def.Mutable {
			b.Asm.MOVimm(r, def.Init.I64, e.MachineType)
		} else {
			b.Asm.CompileMemoryToRegister(b.Info.MoveMemToReg(e.MachineType), b.Info.ReservedLinearMemoryBase, b.LinkDataBase+int64(def.LinkDataOffset), r)
		}
		return r

	case opstack.KindConstant:
		r, err := b.Alloc.RequestScratch(classForType(e.MachineType), hint, b.classOf)
		if err != nil {
			panic(err)
		}
		b.Asm.MOVimm(r, e.ConstantBits, e.MachineType)
		return r

	default:
		panic("codegen: materialize of non-value stack element")
	}
}

func (b *Backend) reload(dst arch.Register, storage opstack.Storage, mt arch.MachineType) {
	switch storage.Kind {
	case opstack.StorageStackMemory:
		b.Asm.CompileMemoryToRegister(b.Info.MoveMemToReg(mt), b.Info.ReservedStackPointer, int64(storage.FrameOffset), dst)
	case opstack.StorageLinkData:
		b.Asm.CompileMemoryToRegister(b.Info.MoveMemToReg(mt), b.Info.ReservedLinearMemoryBase, b.LinkDataBase+int64(storage.LinkOffset), dst)
	case opstack.StorageConstant:
		b.Asm.MOVimm(dst, storage.ConstantBits, mt)
	default:
		panic("codegen: reload of a register-kind storage")
	}
}

// operands is the result of loadArgsToRegsAndPrepDest: the (up to two)
// source registers and the chosen destination register.
type operands struct {
	Arg0, Arg1 arch.Register
	Dest       arch.Register
}

// loadArgsToRegsAndPrepDest lifts each
// operand to a usable register (no-op if already a writable scratch or
// matching the hint), then pick a destination: the hint if free, a reusable
// input scratch, or a fresh scratch.
func (b *Backend) loadArgsToRegsAndPrepDest(dstType arch.MachineType, arg0, arg1 *opstack.Element, hint arch.Register, forceDstArg0Diff, forceDstArg1Diff bool) operands {
	release := b.Alloc.ProtectReads()
	defer release()

	r0 := b.materialize(arg0, hint)
	var r1 arch.Register = arch.NilRegister
	if arg1 != nil {
		// Protect r0 from being chosen/evicted while materializing arg1.
		stop := b.Alloc.ProtectReads(r0)
		r1 = b.materialize(arg1, arch.NilRegister)
		stop()
	}

	dest := hint
	if dest == arch.NilRegister || b.Stack.IsRegisterUsed(dest) && dest != r0 && dest != r1 {
		switch {
		case arg0.Kind == opstack.KindScratchRegister && !forceDstArg0Diff:
			dest = r0
		case arg1 != nil && arg1.Kind == opstack.KindScratchRegister && !forceDstArg1Diff:
			dest = r1
		default:
			d, err := b.Alloc.RequestScratch(classForType(dstType), arch.NilRegister, b.classOf)
			if err != nil {
				panic(err)
			}
			dest = d
		}
	}
	return operands{Arg0: r0, Arg1: r1, Dest: dest}
}

// candidate is one encoding choice selectInstr weighs.
type candidate struct {
	Instr       arch.Instruction
	Cost        int
	Commutative bool
	// DestMustEqualArg0 filters the candidate out unless the chosen
	// destination can be made to equal arg0 (two-operand instruction
	// forms on amd64/arm64 where dst==src0 is implicit).
	DestMustEqualArg0 bool
}

// selectInstr picks, among equivalent encodings, the one with the lowest
// caller-supplied Cost; on equal Cost the earlier candidate wins, and lift
// counts are not compared. Commutative instructions also consider
// the operand-swapped layout.
func selectInstr(cands []candidate, arg0SameAsDest bool) (candidate, bool) {
	best := candidate{Cost: 1 << 30}
	bestSwapped := false
	for _, c := range cands {
		if c.DestMustEqualArg0 && !arg0SameAsDest {
			if !c.Commutative {
				continue
			}
		}
		if c.Cost < best.Cost {
			best = c
			bestSwapped = c.DestMustEqualArg0 && !arg0SameAsDest && c.Commutative
		}
	}
	return best, bestSwapped
}

// simpleCandidates wraps a CandidatesFor result (almost always a single
// instruction, given our coarse per-architecture Instruction enums) into
// selectInstr's candidate form with a flat cost, so every lowering path
// goes through the same selection machinery even when there's nothing
// interesting to select between yet.
func simpleCandidates(instrs []arch.Instruction, commutative bool) []candidate {
	out := make([]candidate, len(instrs))
	for i, ins := range instrs {
		out[i] = candidate{Instr: ins, Cost: 1, Commutative: commutative}
	}
	return out
}
