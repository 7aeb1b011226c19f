package arm64

import "github.com/wasmforge/wasmforge/internal/arch"

// CandidatesFor is arm64's counterpart to amd64's CandidatesFor: maps a
// SemanticOp at a given width to the concrete instruction(s) that realize
// it. arm64 has no integer rotate/popcnt instruction in the base ISA, so
// OpRotl/OpRotr/OpPopcnt are lowered by internal/codegen as short sequences
// using And/Or/shift rather than a single candidate.
func CandidatesFor(op arch.SemanticOp, mt arch.MachineType) []arch.Instruction {
	is64 := mt.Is64()
	switch op {
	case arch.OpAdd:
		return pick(is64, ADDW, ADD)
	case arch.OpSub:
		return pick(is64, SUBW, SUB)
	case arch.OpMul:
		return pick(is64, MULW, MUL)
	case arch.OpDivS, arch.OpRemS:
		return pick(is64, SDIVW, SDIV) // remainder is computed via MSUB after SDIV
	case arch.OpDivU, arch.OpRemU:
		return pick(is64, UDIVW, UDIV)
	case arch.OpAnd:
		return pick(is64, ANDW, AND)
	case arch.OpOr:
		return pick(is64, ORRW, ORR)
	case arch.OpXor:
		return pick(is64, EORW, EOR)
	case arch.OpShl:
		return pick(is64, LSLW, LSL)
	case arch.OpShrU:
		return pick(is64, LSRW, LSR)
	case arch.OpShrS:
		return pick(is64, ASRW, ASR)
	case arch.OpClz:
		return pick(is64, CLZW, CLZ)
	case arch.OpCtz:
		return pick(is64, RBITW, RBIT) // reverse bits then CLZ; see codegen's ctz lowering
	case arch.OpEq, arch.OpNe, arch.OpLtS, arch.OpLtU, arch.OpGtS, arch.OpGtU, arch.OpLeS, arch.OpLeU, arch.OpGeS, arch.OpGeU:
		return pick(is64, CMPW, CMP)

	case arch.OpFAdd:
		return pickF(mt, FADDS, FADDD)
	case arch.OpFSub:
		return pickF(mt, FSUBS, FSUBD)
	case arch.OpFMul:
		return pickF(mt, FMULS, FMULD)
	case arch.OpFDiv:
		return pickF(mt, FDIVS, FDIVD)
	case arch.OpFSqrt:
		return pickF(mt, FSQRTS, FSQRTD)
	case arch.OpFEq, arch.OpFNe, arch.OpFLt, arch.OpFGt, arch.OpFLe, arch.OpFGe:
		return pickF(mt, FCMPS, FCMPD)

	case arch.OpDemote:
		return []arch.Instruction{FCVTDS}
	case arch.OpPromote:
		return []arch.Instruction{FCVTSD}
	case arch.OpConvertIToFS:
		if is64 {
			return pickF(mt, SCVTFS, SCVTFD)
		}
		return pickF(mt, SCVTFWS, SCVTFWD)
	case arch.OpTruncFToIS, arch.OpTruncSatFToIS:
		if mt == arch.TypeF32 {
			return pick(is64, FCVTZSSW, FCVTZSS)
		}
		return pick(is64, FCVTZSDW, FCVTZSD)

	case arch.OpWrap:
		return []arch.Instruction{MOVWU}
	case arch.OpExtendS:
		return []arch.Instruction{MOVW}
	case arch.OpExtendU:
		return []arch.Instruction{MOVWU}
	case arch.OpExtend8S:
		return []arch.Instruction{MOVB}
	case arch.OpExtend16S:
		return []arch.Instruction{MOVH}
	case arch.OpExtend32S:
		return []arch.Instruction{MOVW}

	default:
		return nil
	}
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
