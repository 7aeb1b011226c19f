package amd64

import "github.com/wasmforge/wasmforge/internal/arch"

// CandidatesFor returns the amd64 instruction(s) that realize a
// architecture-neutral SemanticOp at the given machine type. Most Wasm
// numeric ops have exactly one natural amd64 form once the 32/64-bit width
// is fixed; internal/codegen's selectInstr still runs a cost comparison so
// a backend that genuinely offers more than one encoding (e.g. immediate
// vs. register forms, chosen via loadArgsToRegsAndPrepDest instead) has a
// place to plug in without codegen changes.
func CandidatesFor(op arch.SemanticOp, mt arch.MachineType) []arch.Instruction {
	is64 := mt.Is64()
	switch op {
	case arch.OpAdd:
		return pick(is64, ADDL, ADDQ)
	case arch.OpSub:
		return pick(is64, SUBL, SUBQ)
	case arch.OpMul:
		return pick(is64, IMULL, IMULQ)
	case arch.OpDivS, arch.OpRemS:
		return pick(is64, IDIVL, IDIVQ)
	case arch.OpDivU, arch.OpRemU:
		return pick(is64, DIVL, DIVQ)
	case arch.OpAnd:
		return pick(is64, ANDL, ANDQ)
	case arch.OpOr:
		return pick(is64, ORL, ORQ)
	case arch.OpXor:
		return pick(is64, XORL, XORQ)
	case arch.OpShl:
		return pick(is64, SHLL, SHLQ)
	case arch.OpShrU:
		return pick(is64, SHRL, SHRQ)
	case arch.OpShrS:
		return pick(is64, SARL, SARQ)
	case arch.OpRotl:
		return pick(is64, ROLL, ROLQ)
	case arch.OpRotr:
		return pick(is64, RORL, RORQ)
	case arch.OpClz, arch.OpCtz:
		return pick(is64, BSRL, BSRQ) // BSF for ctz is selected by the caller directly; see BitScan below
	case arch.OpPopcnt:
		return pick(is64, POPCNTL, POPCNTQ)
	case arch.OpEq, arch.OpNe, arch.OpLtS, arch.OpLtU, arch.OpGtS, arch.OpGtU, arch.OpLeS, arch.OpLeU, arch.OpGeS, arch.OpGeU:
		return pick(is64, CMPL, CMPQ)

	case arch.OpFAdd:
		return pickF(mt, ADDSS, ADDSD)
	case arch.OpFSub:
		return pickF(mt, SUBSS, SUBSD)
	case arch.OpFMul:
		return pickF(mt, MULSS, MULSD)
	case arch.OpFDiv:
		return pickF(mt, DIVSS, DIVSD)
	case arch.OpFSqrt:
		return pickF(mt, SQRTSS, SQRTSD)
	case arch.OpFEq, arch.OpFNe, arch.OpFLt, arch.OpFGt, arch.OpFLe, arch.OpFGe:
		return pickF(mt, UCOMISS, UCOMISD)
	case arch.OpFAbs:
		return pickF(mt, ANDPS, ANDPD) // mask off the sign bit via a constant operand
	case arch.OpFNeg:
		return pickF(mt, XORPS, XORPD) // flip the sign bit via a constant operand

	case arch.OpDemote:
		return []arch.Instruction{CVTSD2SS}
	case arch.OpPromote:
		return []arch.Instruction{CVTSS2SD}
	case arch.OpConvertIToFS:
		if is64 {
			return pickF(mt, CVTSQ2SS, CVTSQ2SD)
		}
		return pickF(mt, CVTSL2SS, CVTSL2SD)
	case arch.OpTruncFToIS, arch.OpTruncSatFToIS:
		if mt == arch.TypeF32 {
			return pick(is64, CVTTSS2SL, CVTTSS2SQ)
		}
		return pick(is64, CVTTSD2SL, CVTTSD2SQ)

	case arch.OpReinterpretItoF, arch.OpReinterpretFtoI:
		return pick(is64, MOVL, MOVQ) // bit-pattern move between GP and XMM register files

	case arch.OpWrap:
		return []arch.Instruction{MOVL}
	case arch.OpExtendS:
		return []arch.Instruction{MOVLQSX}
	case arch.OpExtendU:
		return []arch.Instruction{MOVLQZX}
	case arch.OpExtend8S:
		return pick(is64, MOVBLSX, MOVBQSX)
	case arch.OpExtend16S:
		return pick(is64, MOVWLSX, MOVWQSX)
	case arch.OpExtend32S:
		return []arch.Instruction{MOVLQSX}

	default:
		return nil
	}
}

// BitScanForward/Reverse expose BSF/BSR directly for ctz/clz lowering,
// which (unlike every other binary/unary numeric op) needs extra fixup
// arithmetic around the raw instruction and so does not go through the
// generic CandidatesFor/selectInstr path.
func BitScanForward(is64 bool) arch.Instruction {
	if is64 {
		return BSFQ
	}
	return BSFL
}

func BitScanReverse(is64 bool) arch.Instruction {
	if is64 {
		return BSRQ
	}
	return BSRL
}

func pick(is64 bool, narrow, wide arch.Instruction) []arch.Instruction {
	if is64 {
		return []arch.Instruction{wide}
	}
	return []arch.Instruction{narrow}
}

func pickF(mt arch.MachineType, f32, f64 arch.Instruction) []arch.Instruction {
	if mt == arch.TypeF32 {
		return []arch.Instruction{f32}
	}
	return []arch.Instruction{f64}
}
