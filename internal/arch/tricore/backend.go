package tricore

import (
	"github.com/wasmforge/wasmforge/internal/arch"
	"github.com/wasmforge/wasmforge/internal/codegen"
	"github.com/wasmforge/wasmforge/internal/regalloc"
)

// dataRegisters are TriCore's d0-d15: used for every Wasm value, including
// floats, since the base integer core modeled here has no FPU register
// file (software floating point calls operands through ordinary data
// registers, ABI-style, rather than a dedicated vector file). That is why
// IntRegisters and VecRegisters below are the same pool: sharing it is
// safe because opstack tracks "register in use" per physical register
// independent of class, so the allocator never double-books one.
var dataRegisters = []arch.Register{
	RegD0, RegD1, RegD2, RegD3, RegD4, RegD5, RegD6, RegD7,
	RegD8, RegD9, RegD10, RegD11, RegD12,
}

var (
	argRegisters    = []arch.Register{RegD4, RegD5, RegD6, RegD7}
	resultRegisters = []arch.Register{RegD2, RegD3}
)

// ClassOf always reports ClassGeneralPurpose: this backend has one
// physical register file, used for both integer and (software-helper)
// floating point values.
func ClassOf(arch.Register) regalloc.Class { return regalloc.ClassGeneralPurpose }

func storeMem(arch.MachineType) arch.Instruction { return STW }
func loadMem(arch.MachineType) arch.Instruction  { return LDW }
func moveReg(arch.MachineType) arch.Instruction  { return MOVdd }

func loadInstr(mt arch.MachineType, byteWidth int, signed bool) arch.Instruction {
	switch byteWidth {
	case 1:
		return LDB
	case 2:
		return LDH
	default:
		return LDW
	}
}

func storeInstr(mt arch.MachineType, byteWidth int) arch.Instruction {
	switch byteWidth {
	case 1:
		return STB
	case 2:
		return STH
	default:
		return STW
	}
}

// BackendInfo returns the codegen.BackendInfo for the TriCore backend.
// NonMMU is true: there is no signal-handler fallback, so bounds checks
// are always compiled in and executable memory is never remapped RX-only.
func BackendInfo() codegen.BackendInfo {
	return codegen.BackendInfo{
		IntRegisters:             dataRegisters,
		VecRegisters:             dataRegisters,
		ClassOf:                  ClassOf,
		CandidatesFor:            CandidatesFor,
		MoveRegToMem:             storeMem,
		MoveMemToReg:             loadMem,
		MoveRegToReg:             moveReg,
		LoadInstr:                loadInstr,
		StoreInstr:               storeInstr,
		Nop:                      NOP,
		Jmp:                      J,
		Call:                     CALL,
		CallReg:                  CALL,
		Ret:                      RET,
		ReservedStackPointer:     ReservedRegisterStackPointer,
		ReservedLinearMemoryBase: ReservedRegisterLinearMemoryBase,
		ReservedModuleInstance:   ReservedRegisterModuleInstance,
		ReservedTemporary:        ReservedRegisterTemporary,
		ArgRegisters:             argRegisters,
		ResultRegisters:          resultRegisters,
		NonMMU:                   true,
	}
}
