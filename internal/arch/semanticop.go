package arch

// SemanticOp is an architecture-neutral numeric operation; internal/codegen
// maps every arithmetic/comparison/conversion Wasm opcode onto one of
// these, and each backend package supplies the concrete Instruction(s) that
// realize it via CandidatesFor. Keeping this table in the arch package lets
// every backend depend on it without depending on internal/codegen (which
// depends on the backends), avoiding an import cycle.
type SemanticOp byte

const (
	OpAdd SemanticOp = iota
	OpSub
	OpMul
	OpDivS
	OpDivU
	OpRemS
	OpRemU
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShrS
	OpShrU
	OpRotl
	OpRotr
	OpClz
	OpCtz
	OpPopcnt
	OpEqz
	OpEq
	OpNe
	OpLtS
	OpLtU
	OpGtS
	OpGtU
	OpLeS
	OpLeU
	OpGeS
	OpGeU

	OpFAdd
	OpFSub
	OpFMul
	OpFDiv
	OpFMin
	OpFMax
	OpFCopysign
	OpFAbs
	OpFNeg
	OpFCeil
	OpFFloor
	OpFTrunc
	OpFNearest
	OpFSqrt
	OpFEq
	OpFNe
	OpFLt
	OpFGt
	OpFLe
	OpFGe

	OpWrap           // i64 -> i32
	OpExtendS        // i32 -> i64, sign
	OpExtendU        // i32 -> i64, zero
	OpExtend8S       // sign-extend low byte within the same width
	OpExtend16S      // sign-extend low 16 bits within the same width
	OpExtend32S      // sign-extend low 32 bits of an i64
	OpTruncFToIS     // float -> signed int, trapping
	OpTruncFToIU     // float -> unsigned int, trapping
	OpTruncSatFToIS  // float -> signed int, saturating
	OpTruncSatFToIU  // float -> unsigned int, saturating
	OpConvertIToFS   // signed int -> float
	OpConvertIToFU   // unsigned int -> float
	OpDemote         // f64 -> f32
	OpPromote        // f32 -> f64
	OpReinterpretItoF
	OpReinterpretFtoI
)

// CondFor maps a comparison SemanticOp onto the ConditionalState its
// compare instruction leaves, for CompileSetCondition /
// CompileConditionalJump / CTRAP consumers. Float comparisons map onto the
// unsigned conditions, matching how flags come back from
// UCOMISS/FCMP-style compares.
func CondFor(op SemanticOp) ConditionalState {
	switch op {
	case OpEq, OpFEq, OpEqz:
		return CondEq
	case OpNe, OpFNe:
		return CondNe
	case OpLtS:
		return CondLtS
	case OpLtU, OpFLt:
		return CondLtU
	case OpGtS:
		return CondGtS
	case OpGtU, OpFGt:
		return CondGtU
	case OpLeS:
		return CondLeS
	case OpLeU, OpFLe:
		return CondLeU
	case OpGeS:
		return CondGeS
	case OpGeU, OpFGe:
		return CondGeU
	default:
		return ConditionalStateUnset
	}
}
