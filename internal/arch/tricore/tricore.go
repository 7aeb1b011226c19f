// Package tricore is the TriCore backend. Unlike amd64/arm64, no
// maintained Go encoder exists anywhere in the example corpus for this ISA
// (it is a niche automotive/embedded architecture), so this package
// hand-rolls a small byte-level encoder instead of delegating to
// golang-asm. See DESIGN.md for why this is the one backend not grounded
// on a third-party assembler.
//
// TriCore targets are assumed non-MMU: there is no RX remap step and
// linear-memory bounds checks are always compiled in, since there is no
// signal-handler fallback to lean on.
package tricore

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/wasmforge/wasmforge/internal/arch"
	"github.com/wasmforge/wasmforge/internal/basedata"
)

// condToJump realizes the arch.ConditionalState contract (`to cond from`);
// this encoder's own condition jumps are defined with exactly that sense.
var condToJump = map[arch.ConditionalState]arch.Instruction{
	arch.CondEq:  JEQ,
	arch.CondNe:  JNE,
	arch.CondLtS: JLT,
	arch.CondGtS: JGT,
	arch.CondLeS: JLE,
	arch.CondGeS: JGE,
	arch.CondLtU: JLTU,
	arch.CondGtU: JGTU,
	arch.CondLeU: JLEU,
	arch.CondGeU: JGEU,
}

// Data registers d0-d15 and address registers a0-a15, modeled as a single
// dense range the same way amd64/arm64 expose int vs. vector ranges: "data"
// registers play the role of general purpose + float (TriCore has no
// separate FPU register file in the base ISA subset implemented here, so
// f32/f64 arithmetic is lowered through software helpers called via
// CALLSOFTFLOAT),
// and "address" registers play the role of pointer/base registers.
const (
	RegNone arch.Register = iota
	RegD0
	RegD1
	RegD2
	RegD3
	RegD4
	RegD5
	RegD6
	RegD7
	RegD8
	RegD9
	RegD10
	RegD11
	RegD12
	RegD13
	RegD14
	RegD15
	regDataEnd

	RegA0 arch.Register = regDataEnd + iota - 1
	RegA1
	RegA2
	RegA3
	RegA4
	RegA5
	RegA6
	RegA7
	RegA8
	RegA9
	RegA10 // stack pointer (SP) by ABI convention
	RegA11 // return address (RA)
	RegA12
	RegA13
	RegA14
	RegA15
	regAddrEnd
)

var (
	IntRegisterRange  = [2]arch.Register{RegD0, RegD15}
	AddrRegisterRange = [2]arch.Register{RegA0, regAddrEnd - 1}
)

const (
	ReservedRegisterStackPointer     = RegA10
	ReservedRegisterLinearMemoryBase = RegA12
	ReservedRegisterModuleInstance   = RegA13
	ReservedRegisterTemporary        = RegA14
)

const (
	NOP arch.Instruction = iota
	RET
	CALL
	J  // unconditional jump
	JZ // branch if data register == 0
	JNZ
	JLT
	JGE
	JEQ
	JNE
	JGT
	JLE
	JLTU
	JGEU
	JGTU
	JLEU

	MOVconst // D[dst] = const16/32
	MOVaa    // A[dst] = A[src]
	MOVdd    // D[dst] = D[src]
	MOVda    // A[dst] = D[src] (bit pattern move, used for pointer arithmetic results)
	MOVad    // D[dst] = A[src]

	LDW // D[dst] = [A[base]+off]
	LDH
	LDB
	STW // [A[base]+off] = D[src]
	STH
	STB

	ADD
	SUB
	MUL
	DIVS // signed divide helper call (TriCore base ISA has no integer divide instruction)
	DIVU
	AND
	OR
	XOR
	SHL
	SHR
	SHA // arithmetic shift right
	NOT
	NEG
	CMP

	ADDA // A[dst] = A[src] + const, used for address-register arithmetic (frame/SP adjust)

	// Software floating point helpers: TriCore's base integer core has no
	// hardware float unit in the subset targeted here, so f32/f64 ops are
	// lowered to calls against a small runtime-provided soft-float table
	// (see internal/codegen's tricore lowering).
	CALLSOFTFLOAT
)

// node records the byte offset an instruction was emitted at and, for
// branches, a pointer to the slice cell holding its not-yet-resolved
// displacement.
type node struct {
	offset       uint64
	patchDispPos int // -1 if not a branch
	asm          *Assembler
}

func (n *node) String() string        { return fmt.Sprintf("tricore.node@%d", n.offset) }
func (n *node) OffsetInBinary() uint64 { return n.offset }

func (n *node) AssignJumpTarget(target arch.Node) {
	t := target.(*node)
	n.asm.pendingPatches = append(n.asm.pendingPatches, patch{siteOffset: n.offset, dispFieldOffset: n.patchDispPos, targetOffset: t.offset})
}

type patch struct {
	siteOffset      uint64
	dispFieldOffset int
	targetOffset    uint64
}

// Assembler is the hand-rolled TriCore encoder. Every instruction is
// emitted as a fixed 8-byte slot (4 bytes opcode metadata + 4 bytes
// immediate/displacement) to keep branch and call patching trivial; a real
// TriCore encoder would pack 16- and 32-bit instruction forms, which this
// simplified backend does not attempt.
type Assembler struct {
	buf              []byte
	pendingPatches   []patch
	pendingJumpNodes []arch.Node
	onGenerate       []func([]byte) error

	// trapSites collects every TRAP/CTRAP branch waiting for its shared
	// stub; trapOrder keeps stub emission deterministic (first-use order).
	trapSites map[arch.TrapCode][]*node
	trapOrder []arch.TrapCode
}

const slotSize = 8

// NewAssembler allocates a fresh TriCore instruction stream builder.
func NewAssembler() *Assembler {
	return &Assembler{trapSites: map[arch.TrapCode][]*node{}}
}

func (a *Assembler) emit(instr arch.Instruction, regA, regB byte, imm int32) *node {
	off := uint64(len(a.buf))
	var slot [slotSize]byte
	slot[0] = byte(instr)
	slot[1] = byte(instr >> 8)
	slot[2] = regA
	slot[3] = regB
	binary.LittleEndian.PutUint32(slot[4:], uint32(imm))
	a.buf = append(a.buf, slot[:]...)
	n := &node{offset: off, patchDispPos: 4, asm: a}
	for _, pending := range a.pendingJumpNodes {
		pending.(*node).AssignJumpTarget(n)
	}
	a.pendingJumpNodes = nil
	return n
}

// trapScratch is a data register outside the allocator's pool (it stops at
// d12), free for the trap stubs to clobber.
const trapScratch = RegD13

// emitTrapStubs materializes one shared stub per trap code at the stream
// tail: store the code into the basedata trap slot, restore the host stack
// pointer from the unwind slot, and return.
func (a *Assembler) emitTrapStubs() {
	for _, code := range a.trapOrder {
		entry := a.emit(MOVconst, reg(trapScratch), 0, int32(code))
		a.emit(STW, reg(trapScratch), reg(ReservedRegisterLinearMemoryBase), int32(basedata.TrapCodeOffset))
		a.emit(LDW, reg(trapScratch), reg(ReservedRegisterLinearMemoryBase), int32(basedata.StackUnwindOffset))
		a.emit(MOVda, reg(ReservedRegisterStackPointer), reg(trapScratch), 0)
		a.emit(RET, 0, 0, 0)
		for _, site := range a.trapSites[code] {
			site.AssignJumpTarget(entry)
		}
	}
	a.trapOrder = a.trapOrder[:0]
}

func (a *Assembler) Assemble() ([]byte, error) {
	a.emitTrapStubs()
	for _, p := range a.pendingPatches {
		disp := int64(p.targetOffset) - int64(p.siteOffset)
		if disp < math.MinInt32 || disp > math.MaxInt32 {
			return nil, fmt.Errorf("tricore: branch out of range: %d", disp)
		}
		binary.LittleEndian.PutUint32(a.buf[p.siteOffset+uint64(p.dispFieldOffset):], uint32(int32(disp)))
	}
	for _, cb := range a.onGenerate {
		if err := cb(a.buf); err != nil {
			return nil, err
		}
	}
	return a.buf, nil
}

func (a *Assembler) SetJumpTargetOnNext(nodes ...arch.Node) {
	a.pendingJumpNodes = append(a.pendingJumpNodes, nodes...)
}

func reg(r arch.Register) byte { return byte(r) }

func (a *Assembler) CompileStandAlone(instruction arch.Instruction) arch.Node {
	return a.emit(instruction, 0, 0, 0)
}

func (a *Assembler) CompileConstToRegister(instruction arch.Instruction, value int64, destination arch.Register) arch.Node {
	return a.emit(instruction, reg(destination), 0, int32(value))
}

func (a *Assembler) CompileRegisterToRegister(instruction arch.Instruction, from, to arch.Register) {
	a.emit(instruction, reg(to), reg(from), 0)
}

func (a *Assembler) CompileMemoryToRegister(instruction arch.Instruction, base arch.Register, offset int64, to arch.Register) {
	a.emit(instruction, reg(to), reg(base), int32(offset))
}

func (a *Assembler) CompileRegisterToMemory(instruction arch.Instruction, from arch.Register, base arch.Register, offset int64) {
	a.emit(instruction, reg(from), reg(base), int32(offset))
}

func (a *Assembler) CompileJump(instruction arch.Instruction) arch.Node {
	return a.emit(instruction, 0, 0, 0)
}

func (a *Assembler) CompileJumpToRegister(instruction arch.Instruction, target arch.Register) {
	a.emit(instruction, reg(target), 0, 0)
}

func (a *Assembler) CompileRegisterToConst(instruction arch.Instruction, reg_ arch.Register, value int64) {
	a.emit(instruction, reg(reg_), 0, int32(value))
}

func (a *Assembler) CompileConditionalJump(cond arch.ConditionalState) arch.Node {
	return a.CompileJump(condToJump[cond])
}

// CompileSetCondition materializes the condition branchlessly in spirit:
// preset 1, conditionally skip the clear. TriCore's base ISA has no
// SETcc/CSET equivalent.
func (a *Assembler) CompileSetCondition(cond arch.ConditionalState, dst arch.Register) {
	a.emit(MOVconst, reg(dst), 0, 1)
	skip := a.CompileConditionalJump(cond)
	a.emit(MOVconst, reg(dst), 0, 0)
	a.SetJumpTargetOnNext(skip)
}

func (a *Assembler) TRAP(code arch.TrapCode) {
	a.recordTrapSite(code, a.CompileJump(J))
}

func (a *Assembler) CTRAP(code arch.TrapCode, cond arch.ConditionalState) {
	a.recordTrapSite(code, a.CompileConditionalJump(cond))
}

func (a *Assembler) recordTrapSite(code arch.TrapCode, jump arch.Node) {
	if _, seen := a.trapSites[code]; !seen {
		a.trapOrder = append(a.trapOrder, code)
	}
	a.trapSites[code] = append(a.trapSites[code], jump.(*node))
}

func (a *Assembler) MOVimm(dst arch.Register, value int64, mt arch.MachineType) arch.Node {
	return a.emit(MOVconst, reg(dst), 0, int32(value))
}

func (a *Assembler) AddConstToRegister(reg_ arch.Register, value int64) arch.Node {
	return a.emit(ADD, reg(reg_), reg(reg_), int32(value))
}

func (a *Assembler) SubSP(value int64) arch.Node {
	return a.emit(ADDA, reg(ReservedRegisterStackPointer), reg(ReservedRegisterStackPointer), -int32(value))
}

// CompileReadInstructionAddress is modeled directly (TriCore has a plain
// PC-relative MOV-from-PC-ish pseudo-op in the real ISA; here we just
// record the offset and patch the immediate once the target is known).
func (a *Assembler) CompileReadInstructionAddress(destination arch.Register, beforeTargetInstruction arch.Instruction) {
	n := a.emit(MOVconst, reg(destination), 0, 0)
	site := n.offset
	a.onGenerate = append(a.onGenerate, func(code []byte) error {
		for off := site + slotSize; off+slotSize <= uint64(len(code)); off += slotSize {
			instr := arch.Instruction(uint16(code[off]) | uint16(code[off+1])<<8)
			if instr == beforeTargetInstruction {
				target := off + slotSize
				binary.LittleEndian.PutUint32(code[site+4:], uint32(target-site))
				return nil
			}
		}
		return fmt.Errorf("tricore: CompileReadInstructionAddress: target not found")
	})
}

func (a *Assembler) BuildJumpTable(table []byte, initialInstructions []arch.Node) {
	a.onGenerate = append(a.onGenerate, func(code []byte) error {
		base := initialInstructions[0].OffsetInBinary()
		for i, n := range initialInstructions {
			off := n.OffsetInBinary() - base
			if off >= math.MaxUint32 {
				return fmt.Errorf("tricore: br_table too large")
			}
			binary.LittleEndian.PutUint32(table[i*4:], uint32(off))
		}
		return nil
	})
}

// PatchCall rewrites the CALL slot at siteOffset so its displacement field
// targets targetOffset; both offsets are absolute positions within code.
func PatchCall(code []byte, siteOffset, targetOffset uint64) error {
	if siteOffset+slotSize > uint64(len(code)) {
		return fmt.Errorf("tricore: call site %d out of range", siteOffset)
	}
	if instr := arch.Instruction(uint16(code[siteOffset]) | uint16(code[siteOffset+1])<<8); instr != CALL {
		return fmt.Errorf("tricore: no CALL at offset %d", siteOffset)
	}
	disp := int64(targetOffset) - int64(siteOffset)
	if disp < math.MinInt32 || disp > math.MaxInt32 {
		return fmt.Errorf("tricore: call displacement out of range: %d", disp)
	}
	binary.LittleEndian.PutUint32(code[siteOffset+4:], uint32(int32(disp)))
	return nil
}
