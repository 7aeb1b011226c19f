package codegen

import (
	"fmt"

	"github.com/wasmforge/wasmforge/internal/arch"
	"github.com/wasmforge/wasmforge/internal/opstack"
	"github.com/wasmforge/wasmforge/internal/regalloc"
)

var commutativeOps = map[arch.SemanticOp]bool{
	arch.OpAdd: true, arch.OpMul: true, arch.OpAnd: true, arch.OpOr: true, arch.OpXor: true,
	arch.OpEq: true, arch.OpNe: true,
	arch.OpFAdd: true, arch.OpFMul: true, arch.OpFMin: true, arch.OpFMax: true,
	arch.OpFEq: true, arch.OpFNe: true,
}

// LowerBinary pops two operands and pushes a ScratchRegister holding their
// combination, constant-folding when both inputs are already constants.
func (b *Backend) LowerBinary(op arch.SemanticOp, mt arch.MachineType) error {
	rhs := b.Stack.Pop()
	lhs := b.Stack.Pop()

	if lhs.Kind == opstack.KindConstant && rhs.Kind == opstack.KindConstant {
		if folded, ok := foldConstant(op, mt, lhs.ConstantBits, rhs.ConstantBits); ok {
			b.Stack.Push(opstack.NewConstant(mt, folded))
			return nil
		}
	}

	cands := b.Info.CandidatesFor(op, mt)
	if len(cands) == 0 {
		return fmt.Errorf("codegen: no candidate instruction for semantic op %d/%s", op, mt)
	}
	ops := b.loadArgsToRegsAndPrepDest(mt, lhs, rhs, arch.NilRegister, false, false)
	sel, swapped := selectInstr(simpleCandidates(cands, commutativeOps[op]), ops.Dest == ops.Arg0)
	a0, a1 := ops.Arg0, ops.Arg1
	if swapped {
		a0, a1 = a1, a0
	}
	if ops.Dest != a0 {
		b.Asm.CompileRegisterToRegister(b.Info.MoveRegToReg(mt), a0, ops.Dest)
	}
	b.Asm.CompileRegisterToRegister(sel.Instr, a1, ops.Dest)
	b.releaseIfScratch(lhs)
	b.releaseIfScratch(rhs)
	b.Stack.Push(opstack.NewScratchRegister(ops.Dest, mt))
	return nil
}

// LowerUnary pops one operand and pushes its transform. Called through
// LowerUnaryDispatch, which is the seam a future architecture-specific
// clz/ctz/popcnt software fallback would hook into.
func (b *Backend) LowerUnary(op arch.SemanticOp, mt arch.MachineType) error {
	v := b.Stack.Pop()
	if v.Kind == opstack.KindConstant {
		if folded, ok := foldConstantUnary(op, mt, v.ConstantBits); ok {
			b.Stack.Push(opstack.NewConstant(mt, folded))
			return nil
		}
	}
	cands := b.Info.CandidatesFor(op, mt)
	if len(cands) == 0 {
		return fmt.Errorf("codegen: no candidate instruction for unary op %d/%s", op, mt)
	}
	ops := b.loadArgsToRegsAndPrepDest(mt, v, nil, arch.NilRegister, false, false)
	b.Asm.CompileRegisterToRegister(cands[0], ops.Arg0, ops.Dest)
	b.releaseIfScratch(v)
	b.Stack.Push(opstack.NewScratchRegister(ops.Dest, mt))
	return nil
}

// LowerCompare pops two operands and pushes an i32 boolean result.
func (b *Backend) LowerCompare(op arch.SemanticOp, operandType arch.MachineType) error {
	rhs := b.Stack.Pop()
	lhs := b.Stack.Pop()
	if lhs.Kind == opstack.KindConstant && rhs.Kind == opstack.KindConstant {
		if folded, ok := foldCompareConstant(op, operandType, lhs.ConstantBits, rhs.ConstantBits); ok {
			b.Stack.Push(opstack.NewConstant(arch.TypeI32, folded))
			return nil
		}
	}
	cands := b.Info.CandidatesFor(op, operandType)
	if len(cands) == 0 {
		return fmt.Errorf("codegen: no compare instruction for %d/%s", op, operandType)
	}
	ops := b.loadArgsToRegsAndPrepDest(arch.TypeI32, lhs, rhs, arch.NilRegister, true, true)
	// CompileRegisterToRegister(cmp, from, to) leaves flags read as
	// `to cond from`, so passing (rhs, lhs) makes the materialized
	// condition `lhs op rhs`, Wasm's operand order.
	b.Asm.CompileRegisterToRegister(cands[0], ops.Arg1, ops.Arg0)
	b.releaseIfScratch(lhs)
	b.releaseIfScratch(rhs)
	dest, err := b.Alloc.RequestScratch(regalloc.ClassGeneralPurpose, arch.NilRegister, b.classOf)
	if err != nil {
		return err
	}
	b.Asm.CompileSetCondition(arch.CondFor(op), dest)
	b.Stack.Push(opstack.NewScratchRegister(dest, arch.TypeI32))
	return nil
}

// LowerConvert pops one operand and pushes the converted value in a fresh
// register of the destination type.
func (b *Backend) LowerConvert(op arch.SemanticOp, from, to arch.MachineType) error {
	v := b.Stack.Pop()
	cands := b.Info.CandidatesFor(op, from)
	if len(cands) == 0 {
		return fmt.Errorf("codegen: no conversion instruction for %d (%s->%s)", op, from, to)
	}
	ops := b.loadArgsToRegsAndPrepDest(to, v, nil, arch.NilRegister, false, false)
	b.Asm.CompileRegisterToRegister(cands[0], ops.Arg0, ops.Dest)
	b.releaseIfScratch(v)
	b.Stack.Push(opstack.NewScratchRegister(ops.Dest, to))
	return nil
}

func (b *Backend) releaseIfScratch(e *opstack.Element) {
	if e.Kind == opstack.KindScratchRegister {
		b.Alloc.Release(e.Register)
	}
}

func foldConstant(op arch.SemanticOp, mt arch.MachineType, a, b int64) (int64, bool) {
	var v int64
	switch op {
	case arch.OpAdd:
		v = a + b
	case arch.OpSub:
		v = a - b
	case arch.OpMul:
		v = a * b
	case arch.OpAnd:
		v = a & b
	case arch.OpOr:
		v = a | b
	case arch.OpXor:
		v = a ^ b
	case arch.OpShl:
		shift := uint(b) & 63
		if mt == arch.TypeI32 {
			shift = uint(b) & 31
		}
		v = a << shift
	case arch.OpDivS:
		if b == 0 {
			return 0, false // left to the trapping runtime path, not folded
		}
		v = a / b
	default:
		return 0, false
	}
	if mt == arch.TypeI32 {
		v = int64(int32(v))
	}
	return v, true
}

func foldConstantUnary(op arch.SemanticOp, mt arch.MachineType, a int64) (int64, bool) {
	switch op {
	case arch.OpEqz:
		if a == 0 {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func foldCompareConstant(op arch.SemanticOp, mt arch.MachineType, a, b int64) (int64, bool) {
	truth := func(v bool) int64 {
		if v {
			return 1
		}
		return 0
	}
	switch op {
	case arch.OpEq:
		return truth(a == b), true
	case arch.OpNe:
		return truth(a != b), true
	case arch.OpLtS:
		return truth(a < b), true
	case arch.OpGtS:
		return truth(a > b), true
	case arch.OpLeS:
		return truth(a <= b), true
	case arch.OpGeS:
		return truth(a >= b), true
	default:
		return 0, false
	}
}
