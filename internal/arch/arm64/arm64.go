// Package arm64 is the AArch64 backend. As with amd64, actual instruction
// encoding is delegated to golang-asm's obj.Prog/obj.Link, following the
// same wrapper shape own internal/asm/arm64/golang_asm.go uses.
package arm64

import (
	"fmt"
	"math"

	goasm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/arm64"

	"github.com/wasmforge/wasmforge/internal/arch"
	"github.com/wasmforge/wasmforge/internal/basedata"
)

const (
	RegNone arch.Register = iota
	RegR0
	RegR1
	RegR2
	RegR3
	RegR4
	RegR5
	RegR6
	RegR7
	RegR8
	RegR9
	RegR10
	RegR11
	RegR12
	RegR13
	RegR14
	RegR15
	RegR16
	RegR17
	RegR18
	RegR19
	RegR20
	RegR21
	RegR22
	RegR23
	RegR24
	RegR25
	RegR26
	RegR27
	RegR28
	RegR29 // frame pointer
	RegR30 // link register
	RegRSP
	RegZero
	regIntEnd

	RegF0 arch.Register = regIntEnd + iota - 1
	RegF1
	RegF2
	RegF3
	RegF4
	RegF5
	RegF6
	RegF7
	RegF8
	RegF9
	RegF10
	RegF11
	RegF12
	RegF13
	RegF14
	RegF15
	RegF16
	RegF17
	RegF18
	RegF19
	RegF20
	RegF21
	RegF22
	RegF23
	RegF24
	RegF25
	RegF26
	RegF27
	RegF28
	RegF29
	RegF30
	RegF31
	regVecEnd
)

var (
	IntRegisterRange = [2]arch.Register{RegR0, RegR30}
	VecRegisterRange = [2]arch.Register{RegF0, RegF31}
)

const (
	ReservedRegisterStackPointer     = RegRSP
	ReservedRegisterLinearMemoryBase = RegR27
	ReservedRegisterModuleInstance   = RegR28
	ReservedRegisterTemporary        = RegR26
)

const (
	NOP arch.Instruction = iota
	RET
	BL // call
	B  // unconditional jump
	ADR

	MOVB
	MOVBU
	MOVH
	MOVHU
	MOVW
	MOVWU
	MOVD

	ADD
	ADDW
	SUB
	SUBW
	MUL
	MULW
	SDIV
	SDIVW
	UDIV
	UDIVW
	MSUB
	MSUBW
	AND
	ANDW
	ORR
	ORRW
	EOR
	EORW
	LSL
	LSLW
	LSR
	LSRW
	ASR
	ASRW
	NEG
	NEGW
	CLZ
	CLZW
	RBIT
	RBITW
	CMP
	CMPW
	CSET

	FMOVS
	FMOVD
	FADDS
	FADDD
	FSUBS
	FSUBD
	FMULS
	FMULD
	FDIVS
	FDIVD
	FSQRTS
	FSQRTD
	FCMPS
	FCMPD
	FCVTSD
	FCVTDS
	SCVTFWS
	SCVTFWD
	SCVTFS
	SCVTFD
	FCVTZSSW
	FCVTZSDW
	FCVTZSS
	FCVTZSD

	BEQ
	BNE
	BLT
	BLE
	BGT
	BGE
	BLO
	BLS
	BHI
	BHS
	BMI
)

var toGoAsmInstruction = [...]obj.As{
	NOP: obj.ANOP,
	RET: obj.ARET,
	BL:  arm64.ABL,
	B:   arm64.AB,
	ADR: arm64.AADR,

	MOVB:  arm64.AMOVB,
	MOVBU: arm64.AMOVBU,
	MOVH:  arm64.AMOVH,
	MOVHU: arm64.AMOVHU,
	MOVW:  arm64.AMOVW,
	MOVWU: arm64.AMOVWU,
	MOVD:  arm64.AMOVD,

	ADD:   arm64.AADD,
	ADDW:  arm64.AADDW,
	SUB:   arm64.ASUB,
	SUBW:  arm64.ASUBW,
	MUL:   arm64.AMUL,
	MULW:  arm64.AMULW,
	SDIV:  arm64.ASDIV,
	SDIVW: arm64.ASDIVW,
	UDIV:  arm64.AUDIV,
	UDIVW: arm64.AUDIVW,
	MSUB:  arm64.AMSUB,
	MSUBW: arm64.AMSUBW,
	AND:   arm64.AAND,
	ANDW:  arm64.AANDW,
	ORR:   arm64.AORR,
	ORRW:  arm64.AORRW,
	EOR:   arm64.AEOR,
	EORW:  arm64.AEORW,
	LSL:   arm64.ALSL,
	LSLW:  arm64.ALSLW,
	LSR:   arm64.ALSR,
	LSRW:  arm64.ALSRW,
	ASR:   arm64.AASR,
	ASRW:  arm64.AASRW,
	NEG:   arm64.ANEG,
	NEGW:  arm64.ANEGW,
	CLZ:   arm64.ACLZ,
	CLZW:  arm64.ACLZW,
	RBIT:  arm64.ARBIT,
	RBITW: arm64.ARBITW,
	CMP:   arm64.ACMP,
	CMPW:  arm64.ACMPW,
	CSET:  arm64.ACSET,

	FMOVS:    arm64.AFMOVS,
	FMOVD:    arm64.AFMOVD,
	FADDS:    arm64.AFADDS,
	FADDD:    arm64.AFADDD,
	FSUBS:    arm64.AFSUBS,
	FSUBD:    arm64.AFSUBD,
	FMULS:    arm64.AFMULS,
	FMULD:    arm64.AFMULD,
	FDIVS:    arm64.AFDIVS,
	FDIVD:    arm64.AFDIVD,
	FSQRTS:   arm64.AFSQRTS,
	FSQRTD:   arm64.AFSQRTD,
	FCMPS:    arm64.AFCMPS,
	FCMPD:    arm64.AFCMPD,
	FCVTSD:   arm64.AFCVTSD,
	FCVTDS:   arm64.AFCVTDS,
	SCVTFWS:  arm64.ASCVTFWS,
	SCVTFWD:  arm64.ASCVTFWD,
	SCVTFS:   arm64.ASCVTFS,
	SCVTFD:   arm64.ASCVTFD,
	FCVTZSSW: arm64.AFCVTZSSW,
	FCVTZSDW: arm64.AFCVTZSDW,
	FCVTZSS:  arm64.AFCVTZSS,
	FCVTZSD:  arm64.AFCVTZSD,

	BEQ: arm64.ABEQ,
	BNE: arm64.ABNE,
	BLT: arm64.ABLT,
	BLE: arm64.ABLE,
	BGT: arm64.ABGT,
	BGE: arm64.ABGE,
	BLO: arm64.ABLO,
	BLS: arm64.ABLS,
	BHI: arm64.ABHI,
	BHS: arm64.ABHS,
	BMI: arm64.ABMI,
}

// condToJump/condToCSET realize the arch.ConditionalState contract
// (`to cond from`), which is exactly how Go's arm64 assembler reads CMP
// operands, so the mapping is direct.
var condToJump = map[arch.ConditionalState]arch.Instruction{
	arch.CondEq:  BEQ,
	arch.CondNe:  BNE,
	arch.CondLtS: BLT,
	arch.CondGtS: BGT,
	arch.CondLeS: BLE,
	arch.CondGeS: BGE,
	arch.CondLtU: BLO,
	arch.CondGtU: BHI,
	arch.CondLeU: BLS,
	arch.CondGeU: BHS,
}

var condToCSET = map[arch.ConditionalState]int16{
	arch.CondEq:  arm64.COND_EQ,
	arch.CondNe:  arm64.COND_NE,
	arch.CondLtS: arm64.COND_LT,
	arch.CondGtS: arm64.COND_GT,
	arch.CondLeS: arm64.COND_LE,
	arch.CondGeS: arm64.COND_GE,
	arch.CondLtU: arm64.COND_LO,
	arch.CondGtU: arm64.COND_HI,
	arch.CondLeU: arm64.COND_LS,
	arch.CondGeU: arm64.COND_HS,
}

var toGoAsmRegister = [...]int16{
	RegR0:   arm64.REG_R0,
	RegR1:   arm64.REG_R1,
	RegR2:   arm64.REG_R2,
	RegR3:   arm64.REG_R3,
	RegR4:   arm64.REG_R4,
	RegR5:   arm64.REG_R5,
	RegR6:   arm64.REG_R6,
	RegR7:   arm64.REG_R7,
	RegR8:   arm64.REG_R8,
	RegR9:   arm64.REG_R9,
	RegR10:  arm64.REG_R10,
	RegR11:  arm64.REG_R11,
	RegR12:  arm64.REG_R12,
	RegR13:  arm64.REG_R13,
	RegR14:  arm64.REG_R14,
	RegR15:  arm64.REG_R15,
	RegR16:  arm64.REG_R16,
	RegR17:  arm64.REG_R17,
	RegR18:  arm64.REG_R18,
	RegR19:  arm64.REG_R19,
	RegR20:  arm64.REG_R20,
	RegR21:  arm64.REG_R21,
	RegR22:  arm64.REG_R22,
	RegR23:  arm64.REG_R23,
	RegR24:  arm64.REG_R24,
	RegR25:  arm64.REG_R25,
	RegR26:  arm64.REG_R26,
	RegR27:  arm64.REG_R27,
	RegR28:  arm64.REG_R28,
	RegR29:  arm64.REG_R29,
	RegR30:  arm64.REG_R30,
	RegRSP:  arm64.REGSP,
	RegZero: arm64.REGZERO,
	RegF0:   arm64.REG_F0,
	RegF1:   arm64.REG_F1,
	RegF2:   arm64.REG_F2,
	RegF3:   arm64.REG_F3,
	RegF4:   arm64.REG_F4,
	RegF5:   arm64.REG_F5,
	RegF6:   arm64.REG_F6,
	RegF7:   arm64.REG_F7,
	RegF8:   arm64.REG_F8,
	RegF9:   arm64.REG_F9,
	RegF10:  arm64.REG_F10,
	RegF11:  arm64.REG_F11,
	RegF12:  arm64.REG_F12,
	RegF13:  arm64.REG_F13,
	RegF14:  arm64.REG_F14,
	RegF15:  arm64.REG_F15,
	RegF16:  arm64.REG_F16,
	RegF17:  arm64.REG_F17,
	RegF18:  arm64.REG_F18,
	RegF19:  arm64.REG_F19,
	RegF20:  arm64.REG_F20,
	RegF21:  arm64.REG_F21,
	RegF22:  arm64.REG_F22,
	RegF23:  arm64.REG_F23,
	RegF24:  arm64.REG_F24,
	RegF25:  arm64.REG_F25,
	RegF26:  arm64.REG_F26,
	RegF27:  arm64.REG_F27,
	RegF28:  arm64.REG_F28,
	RegF29:  arm64.REG_F29,
	RegF30:  arm64.REG_F30,
	RegF31:  arm64.REG_F31,
}

type node struct{ prog *obj.Prog }

func (n *node) String() string                    { return n.prog.String() }
func (n *node) OffsetInBinary() uint64             { return uint64(n.prog.Pc) }
func (n *node) AssignJumpTarget(target arch.Node) { n.prog.To.SetTarget(target.(*node).prog) }

// Assembler implements arch.Assembler for AArch64.
type Assembler struct {
	b                *goasm.Builder
	temporary        arch.Register
	pendingJumpNodes []arch.Node
	onGenerate       []func([]byte) error

	// trapSites collects every TRAP/CTRAP branch waiting for its shared
	// stub; trapOrder keeps stub emission deterministic (first-use order).
	trapSites map[arch.TrapCode][]*obj.Prog
	trapOrder []arch.TrapCode
}

// NewAssembler allocates a fresh AArch64 instruction stream builder.
// temporary is the register this assembler clobbers to materialize memory
// offsets outside int16 range and the trap code in trap stubs; callers must
// keep it out of the scratch pool.
func NewAssembler(temporary arch.Register) (*Assembler, error) {
	b, err := goasm.NewBuilder("arm64", 1024)
	if err != nil {
		return nil, fmt.Errorf("arm64: new builder: %w", err)
	}
	return &Assembler{b: b, temporary: temporary, trapSites: map[arch.TrapCode][]*obj.Prog{}}, nil
}

func (a *Assembler) newProg() *obj.Prog { return a.b.NewProg() }

func (a *Assembler) add(p *obj.Prog) {
	a.b.AddInstruction(p)
	for _, n := range a.pendingJumpNodes {
		n.(*node).prog.To.SetTarget(p)
	}
	a.pendingJumpNodes = nil
}

func (a *Assembler) Assemble() ([]byte, error) {
	a.emitTrapStubs()
	code := a.b.Assemble()
	for _, cb := range a.onGenerate {
		if err := cb(code); err != nil {
			return nil, err
		}
	}
	return code, nil
}

// emitTrapStubs materializes one shared stub per trap code at the tail of
// the stream. The stub stores the code into the basedata trap slot, then
// unwinds to the host: the unwind slot holds the host stack pointer with
// the host link register saved 8 bytes above it (the entry thunk's layout),
// so restoring SP, reloading LR, and returning lands back in the host
// caller with a balanced stack.
func (a *Assembler) emitTrapStubs() {
	for _, code := range a.trapOrder {
		entry := a.CompileConstToRegister(MOVD, int64(code), a.temporary)
		a.CompileRegisterToMemory(MOVD, a.temporary, ReservedRegisterLinearMemoryBase, basedata.TrapCodeOffset)
		a.CompileMemoryToRegister(MOVD, ReservedRegisterLinearMemoryBase, basedata.StackUnwindOffset, RegRSP)
		a.CompileMemoryToRegister(MOVD, RegRSP, 8, RegR30)
		a.CompileConstToRegister(ADD, 16, RegRSP)
		a.CompileStandAlone(RET)
		for _, site := range a.trapSites[code] {
			site.To.SetTarget(entry.(*node).prog)
		}
	}
	a.trapOrder = a.trapOrder[:0]
}

func (a *Assembler) SetJumpTargetOnNext(nodes ...arch.Node) {
	a.pendingJumpNodes = append(a.pendingJumpNodes, nodes...)
}

func (a *Assembler) addOnGenerate(cb func([]byte) error) { a.onGenerate = append(a.onGenerate, cb) }

func (a *Assembler) CompileStandAlone(instruction arch.Instruction) arch.Node {
	p := a.newProg()
	p.As = toGoAsmInstruction[instruction]
	a.add(p)
	return &node{p}
}

// CompileConstToRegister emits `destination = value` (or REGZERO when the
// value is zero — arm64 has a dedicated hardwired-zero register).
// Offsets larger than 16 bits are expanded by golang-asm itself into a
// MOVZ/MOVK sequence using its own internal temporary, not ours.
func (a *Assembler) CompileConstToRegister(instruction arch.Instruction, value int64, destination arch.Register) arch.Node {
	p := a.newProg()
	p.As = toGoAsmInstruction[instruction]
	if value == 0 {
		p.From.Type = obj.TYPE_REG
		p.From.Reg = arm64.REGZERO
	} else {
		p.From.Type = obj.TYPE_CONST
		p.From.Offset = value
	}
	p.To.Type = obj.TYPE_REG
	p.To.Reg = toGoAsmRegister[destination]
	a.add(p)
	return &node{p}
}

func (a *Assembler) CompileRegisterToRegister(instruction arch.Instruction, from, to arch.Register) {
	p := a.newProg()
	p.As = toGoAsmInstruction[instruction]
	p.From.Type = obj.TYPE_REG
	p.From.Reg = toGoAsmRegister[from]
	p.To.Type = obj.TYPE_REG
	p.To.Reg = toGoAsmRegister[to]
	a.add(p)
}

// CompileMemoryToRegister emits a load. Offsets beyond int16 range are
// materialized into our own reserved temporary first, since golang-asm's
// own expansion temporary is untracked by the register allocator.
func (a *Assembler) CompileMemoryToRegister(instruction arch.Instruction, base arch.Register, offset int64, to arch.Register) {
	if offset > math.MaxInt16 || offset < math.MinInt16 {
		a.CompileConstToRegister(MOVD, offset, a.temporary)
		p := a.newProg()
		p.As = toGoAsmInstruction[instruction]
		p.From.Type = obj.TYPE_MEM
		p.From.Reg = toGoAsmRegister[base]
		p.From.Index = toGoAsmRegister[a.temporary]
		p.From.Scale = 1
		p.To.Type = obj.TYPE_REG
		p.To.Reg = toGoAsmRegister[to]
		a.add(p)
		return
	}
	p := a.newProg()
	p.As = toGoAsmInstruction[instruction]
	p.From.Type = obj.TYPE_MEM
	p.From.Reg = toGoAsmRegister[base]
	p.From.Offset = offset
	p.To.Type = obj.TYPE_REG
	p.To.Reg = toGoAsmRegister[to]
	a.add(p)
}

func (a *Assembler) CompileRegisterToMemory(instruction arch.Instruction, from arch.Register, base arch.Register, offset int64) {
	if offset > math.MaxInt16 || offset < math.MinInt16 {
		a.CompileConstToRegister(MOVD, offset, a.temporary)
		p := a.newProg()
		p.As = toGoAsmInstruction[instruction]
		p.To.Type = obj.TYPE_MEM
		p.To.Reg = toGoAsmRegister[base]
		p.To.Index = toGoAsmRegister[a.temporary]
		p.To.Scale = 1
		p.From.Type = obj.TYPE_REG
		p.From.Reg = toGoAsmRegister[from]
		a.add(p)
		return
	}
	p := a.newProg()
	p.As = toGoAsmInstruction[instruction]
	p.To.Type = obj.TYPE_MEM
	p.To.Reg = toGoAsmRegister[base]
	p.To.Offset = offset
	p.From.Type = obj.TYPE_REG
	p.From.Reg = toGoAsmRegister[from]
	a.add(p)
}

func (a *Assembler) CompileJump(instruction arch.Instruction) arch.Node {
	p := a.newProg()
	p.As = toGoAsmInstruction[instruction]
	p.To.Type = obj.TYPE_BRANCH
	a.add(p)
	return &node{p}
}

// CompileJumpToRegister emits `B (Rn)` / `BL (Rn)`: the Go assembler
// spells register-indirect branches as a memory operand.
func (a *Assembler) CompileJumpToRegister(instruction arch.Instruction, target arch.Register) {
	p := a.newProg()
	p.As = toGoAsmInstruction[instruction]
	p.To.Type = obj.TYPE_MEM
	p.To.Reg = toGoAsmRegister[target]
	a.add(p)
}

func (a *Assembler) CompileRegisterToConst(instruction arch.Instruction, reg arch.Register, value int64) {
	p := a.newProg()
	p.As = toGoAsmInstruction[instruction]
	p.From.Type = obj.TYPE_CONST
	p.From.Offset = value
	p.To.Type = obj.TYPE_REG
	p.To.Reg = toGoAsmRegister[reg]
	a.add(p)
}

func (a *Assembler) CompileConditionalJump(cond arch.ConditionalState) arch.Node {
	return a.CompileJump(condToJump[cond])
}

// CompileSetCondition emits CSET, arm64's native materialize-flag-as-0/1.
func (a *Assembler) CompileSetCondition(cond arch.ConditionalState, dst arch.Register) {
	p := a.newProg()
	p.As = arm64.ACSET
	p.From.Type = obj.TYPE_REG
	p.From.Reg = condToCSET[cond]
	p.To.Type = obj.TYPE_REG
	p.To.Reg = toGoAsmRegister[dst]
	a.add(p)
}

func (a *Assembler) TRAP(code arch.TrapCode) {
	a.recordTrapSite(code, a.CompileJump(B))
}

func (a *Assembler) CTRAP(code arch.TrapCode, cond arch.ConditionalState) {
	a.recordTrapSite(code, a.CompileConditionalJump(cond))
}

func (a *Assembler) recordTrapSite(code arch.TrapCode, jump arch.Node) {
	if _, seen := a.trapSites[code]; !seen {
		a.trapOrder = append(a.trapOrder, code)
	}
	a.trapSites[code] = append(a.trapSites[code], jump.(*node).prog)
}

func (a *Assembler) MOVimm(dst arch.Register, value int64, mt arch.MachineType) arch.Node {
	instr := MOVW
	if mt.Is64() {
		instr = MOVD
	}
	return a.CompileConstToRegister(instr, value, dst)
}

func (a *Assembler) AddConstToRegister(reg arch.Register, value int64) arch.Node {
	return a.CompileConstToRegister(ADD, value, reg)
}

func (a *Assembler) SubSP(value int64) arch.Node {
	return a.CompileConstToRegister(SUB, value, RegRSP)
}

// CompileReadInstructionAddress emits ADR against "here", then patches the
// immediate after assembly once the target instruction's offset is known,
// exactly as arm64 golang-asm wrapper does (golang-asm has no way
// to emit "ADR to a not-yet-placed label" directly).
func (a *Assembler) CompileReadInstructionAddress(destination arch.Register, beforeTargetInstruction arch.Instruction) {
	readAddr := a.newProg()
	readAddr.As = arm64.AADR
	readAddr.From.Type = obj.TYPE_BRANCH
	readAddr.To.Type = obj.TYPE_REG
	readAddr.To.Reg = toGoAsmRegister[destination]
	a.add(readAddr)

	target := toGoAsmInstruction[beforeTargetInstruction]
	a.addOnGenerate(func(code []byte) error {
		cur := readAddr
		for cur != nil {
			if cur.As == target {
				cur = cur.Link
				break
			}
			cur = cur.Link
		}
		if cur == nil {
			return fmt.Errorf("arm64: CompileReadInstructionAddress: target not found")
		}
		offset := cur.Pc - readAddr.Pc
		if offset > math.MaxUint8 {
			return fmt.Errorf("arm64: CompileReadInstructionAddress: offset too large")
		}
		v := byte(offset)
		b := code[readAddr.Pc : readAddr.Pc+4]
		b[3] |= (v & 0b00000011) << 5
		b[0] |= (v & 0b00011100) << 3
		b[1] |= (v & 0b11100000) >> 5
		return nil
	})
}

func (a *Assembler) BuildJumpTable(table []byte, initialInstructions []arch.Node) {
	a.addOnGenerate(func(code []byte) error {
		base := initialInstructions[0].OffsetInBinary()
		for i, n := range initialInstructions {
			off := n.OffsetInBinary() - base
			if off >= math.MaxUint32 {
				return fmt.Errorf("arm64: br_table too large")
			}
			table[i*4] = byte(off)
			table[i*4+1] = byte(off >> 8)
			table[i*4+2] = byte(off >> 16)
			table[i*4+3] = byte(off >> 24)
		}
		return nil
	})
}

// PatchCall rewrites the BL imm26 at siteOffset so it targets targetOffset;
// both offsets are absolute positions within code. Used by the driver to
// resolve cross-function call sites once every function's final position
// is known.
func PatchCall(code []byte, siteOffset, targetOffset uint64) error {
	if siteOffset+4 > uint64(len(code)) {
		return fmt.Errorf("arm64: call site %d out of range", siteOffset)
	}
	word := uint32(code[siteOffset]) | uint32(code[siteOffset+1])<<8 |
		uint32(code[siteOffset+2])<<16 | uint32(code[siteOffset+3])<<24
	if word>>26 != 0b100101 { // BL
		return fmt.Errorf("arm64: no BL at offset %d", siteOffset)
	}
	rel := (int64(targetOffset) - int64(siteOffset)) >> 2
	if rel < -(1<<25) || rel >= 1<<25 {
		return fmt.Errorf("arm64: call displacement out of range: %d", rel)
	}
	word = word&0xFC000000 | uint32(rel)&0x03FFFFFF
	code[siteOffset] = byte(word)
	code[siteOffset+1] = byte(word >> 8)
	code[siteOffset+2] = byte(word >> 16)
	code[siteOffset+3] = byte(word >> 24)
	return nil
}
