package codegen

import (
	"github.com/wasmforge/wasmforge/internal/arch"
	"github.com/wasmforge/wasmforge/internal/basedata"
	"github.com/wasmforge/wasmforge/internal/opstack"
	"github.com/wasmforge/wasmforge/internal/regalloc"
)

// MemArg is a load/store instruction's static immediate operand pair.
type MemArg struct {
	Align  uint32
	Offset uint32
}

// MemoryMode toggles whether LowerLoad/LowerStore emit the pre-access
// compare-and-trap sequence. Non-MMU backends (TriCore)
// always force this on regardless of the flag, since there is no signal
// handler to fall back on.
type MemoryMode struct {
	BoundsChecked bool
}

// effectiveAddress computes linearMemoryBase + addr into a fresh scratch
// register, leaving the static offset to be folded into the access's own
// displacement. The i32 address is copied through a 32-bit move first so
// its upper half is known-zero before the pointer-width add.
func (b *Backend) effectiveAddress(addrReg arch.Register) (arch.Register, error) {
	ea, err := b.Alloc.RequestScratch(regalloc.ClassGeneralPurpose, arch.NilRegister, b.classOf)
	if err != nil {
		return arch.NilRegister, err
	}
	b.Asm.CompileRegisterToRegister(b.Info.MoveRegToReg(arch.TypeI32), addrReg, ea)
	add := b.Info.CandidatesFor(arch.OpAdd, arch.TypeI64)
	b.Asm.CompileRegisterToRegister(add[0], b.Info.ReservedLinearMemoryBase, ea)
	return ea, nil
}

// LowerLoad composes effective = address + staticOffset + linearMemoryBase,
// optionally bounds-checks it, and loads width/signedness-adjusted bits
// into a fresh scratch register. The static offset is folded into the
// load's displacement operand.
func (b *Backend) LowerLoad(resultType arch.MachineType, byteWidth int, signed bool, arg MemArg, mode MemoryMode) error {
	addr := b.Stack.Pop()
	release := b.Alloc.ProtectReads()
	addrReg := b.materialize(addr, arch.NilRegister)
	release()

	if mode.BoundsChecked || b.Info.NonMMU {
		b.emitBoundsCheck(addrReg, arg.Offset, int64(byteWidth))
	}

	ea, err := b.effectiveAddress(addrReg)
	if err != nil {
		return err
	}
	b.releaseIfScratch(addr)

	dest, err := b.Alloc.RequestScratch(classForType(resultType), arch.NilRegister, b.classOf)
	if err != nil {
		return err
	}
	b.Asm.CompileMemoryToRegister(b.Info.LoadInstr(resultType, byteWidth, signed), ea, int64(arg.Offset), dest)
	b.Alloc.Release(ea)

	b.Stack.Push(opstack.NewScratchRegister(dest, resultType))
	return nil
}

// LowerStore is LowerLoad's write counterpart: pops the value then the
// address (Wasm's stack order is address below value).
func (b *Backend) LowerStore(valueType arch.MachineType, byteWidth int, arg MemArg, mode MemoryMode) error {
	value := b.Stack.Pop()
	addr := b.Stack.Pop()

	release := b.Alloc.ProtectReads()
	valReg := b.materialize(value, arch.NilRegister)
	protectVal := b.Alloc.ProtectReads(valReg)
	addrReg := b.materialize(addr, arch.NilRegister)
	protectVal()
	release()

	if mode.BoundsChecked || b.Info.NonMMU {
		b.emitBoundsCheck(addrReg, arg.Offset, int64(byteWidth))
	}

	ea, err := b.effectiveAddress(addrReg)
	if err != nil {
		return err
	}
	b.Asm.CompileRegisterToMemory(b.Info.StoreInstr(valueType, byteWidth), valReg, ea, int64(arg.Offset))
	b.Alloc.Release(ea)

	b.releaseIfScratch(value)
	b.releaseIfScratch(addr)
	return nil
}

// emitBoundsCheck traps with OutOfBoundsMemoryAccess before any side effect
// when [addr+offset, addr+offset+width) crosses the cached linear-memory
// size: limit = actualSize - width - offset is computed once, and the
// access is admitted only while addr <= limit (unsigned).
func (b *Backend) emitBoundsCheck(addrReg arch.Register, offset uint32, width int64) {
	limit, err := b.Alloc.RequestScratch(regalloc.ClassGeneralPurpose, arch.NilRegister, b.classOf)
	if err != nil {
		panic(err)
	}
	defer b.Alloc.Release(limit)
	b.Asm.CompileMemoryToRegister(b.Info.MoveMemToReg(arch.TypeI64), b.Info.ReservedLinearMemoryBase, basedataActualSizeOffset, limit)
	b.Asm.AddConstToRegister(limit, -width-int64(offset))
	cmp := b.Info.CandidatesFor(arch.OpGtU, arch.TypeI64)
	b.Asm.CompileRegisterToRegister(cmp[0], limit, addrReg)
	b.Asm.CTRAP(arch.TrapOutOfBoundsMemoryAccess, arch.CondGtU)
}

// basedataActualSizeOffset mirrors internal/basedata.ActualSizeOffset.
const basedataActualSizeOffset = basedata.ActualSizeOffset
