package amd64

import (
	"github.com/wasmforge/wasmforge/internal/arch"
	"github.com/wasmforge/wasmforge/internal/codegen"
	"github.com/wasmforge/wasmforge/internal/regalloc"
)

// intRegisters/vecRegisters enumerate the registers the scratch allocator
// is allowed to hand out. The reserved registers (SP, R13, R14, R15) are
// left out of this list and are also passed to codegen.New as protected via
// BackendInfo's Reserved* fields; ClassOf still recognizes them.
var (
	intRegisters = []arch.Register{RegAX, RegCX, RegDX, RegBX, RegBP, RegSI, RegDI, RegR8, RegR9, RegR10, RegR11, RegR12}
	vecRegisters = []arch.Register{RegX0, RegX1, RegX2, RegX3, RegX4, RegX5, RegX6, RegX7, RegX8, RegX9, RegX10, RegX11, RegX12, RegX13, RegX14}

	// argRegisters follows the System V AMD64 ABI integer argument order
	// for the first WasmABI slots; codegen picks the vector-file register
	// at the same position for float arguments via ClassOf.
	argRegisters    = []arch.Register{RegDI, RegSI, RegDX, RegCX, RegR8, RegR9}
	resultRegisters = []arch.Register{RegAX, RegDX}
)

func ClassOf(r arch.Register) regalloc.Class {
	if r >= VecRegisterRange[0] && r <= VecRegisterRange[1] {
		return regalloc.ClassVector
	}
	return regalloc.ClassGeneralPurpose
}

func moveRegToMem(mt arch.MachineType) arch.Instruction {
	switch mt {
	case arch.TypeI32:
		return MOVL
	case arch.TypeI64:
		return MOVQ
	case arch.TypeF32:
		return MOVSS
	case arch.TypeF64:
		return MOVSD
	default:
		return MOVQ
	}
}

func loadInstr(mt arch.MachineType, byteWidth int, signed bool) arch.Instruction {
	switch mt {
	case arch.TypeF32:
		return MOVSS
	case arch.TypeF64:
		return MOVSD
	case arch.TypeI32:
		switch byteWidth {
		case 1:
			if signed {
				return MOVBLSX
			}
			return MOVBLZX
		case 2:
			if signed {
				return MOVWLSX
			}
			return MOVWLZX
		default:
			return MOVL
		}
	default: // i64
		switch byteWidth {
		case 1:
			if signed {
				return MOVBQSX
			}
			return MOVBQZX
		case 2:
			if signed {
				return MOVWQSX
			}
			return MOVWQZX
		case 4:
			if signed {
				return MOVLQSX
			}
			return MOVLQZX
		default:
			return MOVQ
		}
	}
}

func storeInstr(mt arch.MachineType, byteWidth int) arch.Instruction {
	switch mt {
	case arch.TypeF32:
		return MOVSS
	case arch.TypeF64:
		return MOVSD
	}
	switch byteWidth {
	case 1:
		return MOVB
	case 2:
		return MOVW
	case 4:
		return MOVL
	default:
		return MOVQ
	}
}

func moveRegToReg(mt arch.MachineType) arch.Instruction {
	switch mt {
	case arch.TypeF32:
		return MOVSS
	case arch.TypeF64:
		return MOVSD
	case arch.TypeI32:
		return MOVL
	default:
		return MOVQ
	}
}

// BackendInfo returns the codegen.BackendInfo describing the amd64
// register files, reserved registers, and move/cost helpers.
func BackendInfo() codegen.BackendInfo {
	return codegen.BackendInfo{
		IntRegisters:             intRegisters,
		VecRegisters:             vecRegisters,
		ClassOf:                  ClassOf,
		CandidatesFor:            CandidatesFor,
		MoveRegToMem:             moveRegToMem,
		MoveMemToReg:             moveRegToMem,
		MoveRegToReg:             moveRegToReg,
		LoadInstr:                loadInstr,
		StoreInstr:               storeInstr,
		Nop:                      NOP,
		Jmp:                      JMP,
		Call:                     CALL,
		CallReg:                  CALL,
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
