package arm64

import (
	"github.com/wasmforge/wasmforge/internal/arch"
	"github.com/wasmforge/wasmforge/internal/codegen"
	"github.com/wasmforge/wasmforge/internal/regalloc"
)

var (
	intRegisters = []arch.Register{
		RegR0, RegR1, RegR2, RegR3, RegR4, RegR5, RegR6, RegR7, RegR8, RegR9,
		RegR10, RegR11, RegR12, RegR13, RegR14, RegR15, RegR19, RegR20, RegR21,
	}
	vecRegisters = []arch.Register{
		RegF0, RegF1, RegF2, RegF3, RegF4, RegF5, RegF6, RegF7, RegF8, RegF9,
		RegF10, RegF11, RegF12, RegF13, RegF14, RegF15,
	}

	// argRegisters follows AAPCS64's first GP argument registers; ClassOf
	// routes float arguments at the same position to the vector file.
	argRegisters    = []arch.Register{RegR0, RegR1, RegR2, RegR3, RegR4, RegR5, RegR6, RegR7}
	resultRegisters = []arch.Register{RegR0, RegR1}
)

func ClassOf(r arch.Register) regalloc.Class {
	if r >= VecRegisterRange[0] && r <= VecRegisterRange[1] {
		return regalloc.ClassVector
	}
	return regalloc.ClassGeneralPurpose
}

func moveMem(mt arch.MachineType) arch.Instruction {
	switch mt {
	case arch.TypeI32:
		return MOVW
	case arch.TypeI64:
		return MOVD
	case arch.TypeF32:
		return FMOVS
	case arch.TypeF64:
		return FMOVD
	default:
		return MOVD
	}
}

func loadInstr(mt arch.MachineType, byteWidth int, signed bool) arch.Instruction {
	switch mt {
	case arch.TypeF32:
		return FMOVS
	case arch.TypeF64:
		return FMOVD
	}
	switch byteWidth {
	case 1:
		if signed {
			return MOVB
		}
		return MOVBU
	case 2:
		if signed {
			return MOVH
		}
		return MOVHU
	case 4:
		if signed && mt == arch.TypeI64 {
			return MOVW
		}
		return MOVWU
	default:
		return MOVD
	}
}

func storeInstr(mt arch.MachineType, byteWidth int) arch.Instruction {
	switch mt {
	case arch.TypeF32:
		return FMOVS
	case arch.TypeF64:
		return FMOVD
	}
	switch byteWidth {
	case 1:
		return MOVB
	case 2:
		return MOVH
	case 4:
		return MOVW
	default:
		return MOVD
	}
}

func moveReg(mt arch.MachineType) arch.Instruction {
	if mt.IsFloat() {
		return moveMem(mt)
	}
	return MOVD
}

// BackendInfo returns the codegen.BackendInfo describing the arm64
// register files, reserved registers, and move/cost helpers.
func BackendInfo() codegen.BackendInfo {
	return codegen.BackendInfo{
		IntRegisters:             intRegisters,
		VecRegisters:             vecRegisters,
		ClassOf:                  ClassOf,
		CandidatesFor:            CandidatesFor,
		MoveRegToMem:             moveMem,
		MoveMemToReg:             moveMem,
		MoveRegToReg:             moveReg,
		LoadInstr:                loadInstr,
		StoreInstr:               storeInstr,
		Nop:                      NOP,
		Jmp:                      B,
		Call:                     BL,
		CallReg:                  BL,
		Ret:                      RET,
		ReservedStackPointer:     ReservedRegisterStackPointer,
		ReservedLinearMemoryBase: ReservedRegisterLinearMemoryBase,
		ReservedModuleInstance:   ReservedRegisterModuleInstance,
		ReservedTemporary:        ReservedRegisterTemporary,
		ArgRegisters:             argRegisters,
		ResultRegisters:          resultRegisters,
		NonMMU:                   false,
	}
}
