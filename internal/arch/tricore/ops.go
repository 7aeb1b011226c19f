package tricore

import "github.com/wasmforge/wasmforge/internal/arch"

// CandidatesFor is the TriCore counterpart of amd64/arm64's CandidatesFor.
// Since this backend's instruction set is a small hand-rolled subset (see
// tricore.go's package doc), integer ops map directly and every float op
// instead resolves to CALLSOFTFLOAT — internal/codegen recognizes that
// sentinel and emits a call to the runtime's soft-float helper table rather
// than a single native instruction.
func CandidatesFor(op arch.SemanticOp, mt arch.MachineType) []arch.Instruction {
	switch op {
	case arch.OpAdd:
		return []arch.Instruction{ADD}
	case arch.OpSub:
		return []arch.Instruction{SUB}
	case arch.OpMul:
		return []arch.Instruction{MUL}
	case arch.OpDivS, arch.OpRemS:
		return []arch.Instruction{DIVS}
	case arch.OpDivU, arch.OpRemU:
		return []arch.Instruction{DIVU}
	case arch.OpAnd:
		return []arch.Instruction{AND}
	case arch.OpOr:
		return []arch.Instruction{OR}
	case arch.OpXor:
		return []arch.Instruction{XOR}
	case arch.OpShl:
		return []arch.Instruction{SHL}
	case arch.OpShrU:
		return []arch.Instruction{SHR}
	case arch.OpShrS:
		return []arch.Instruction{SHA}
	case arch.OpEq, arch.OpNe, arch.OpLtS, arch.OpLtU, arch.OpGtS, arch.OpGtU, arch.OpLeS, arch.OpLeU, arch.OpGeS, arch.OpGeU:
		return []arch.Instruction{CMP}

	case arch.OpFAdd, arch.OpFSub, arch.OpFMul, arch.OpFDiv, arch.OpFMin, arch.OpFMax, arch.OpFCopysign,
		arch.OpFAbs, arch.OpFNeg, arch.OpFCeil, arch.OpFFloor, arch.OpFTrunc, arch.OpFNearest, arch.OpFSqrt,
		arch.OpFEq, arch.OpFNe, arch.OpFLt, arch.OpFGt, arch.OpFLe, arch.OpFGe,
		arch.OpConvertIToFS, arch.OpConvertIToFU, arch.OpTruncFToIS, arch.OpTruncFToIU,
		arch.OpTruncSatFToIS, arch.OpTruncSatFToIU, arch.OpDemote, arch.OpPromote:
		return []arch.Instruction{CALLSOFTFLOAT}

	case arch.OpWrap, arch.OpReinterpretItoF, arch.OpReinterpretFtoI:
		return []arch.Instruction{MOVdd}
	case arch.OpExtendS, arch.OpExtendU, arch.OpExtend8S, arch.OpExtend16S, arch.OpExtend32S:
		return []arch.Instruction{MOVdd} // codegen masks/sign-extends around the move

	default:
		return nil
	}
}
