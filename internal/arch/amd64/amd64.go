// Package amd64 is the x86-64 backend: register/instruction enumerations and
// an arch.Assembler implementation. Instruction encoding is delegated to
// github.com/twitchyliquid64/golang-asm's obj.Prog/obj.Link machinery
// rather than a hand-rolled byte encoder, the same approach 
// used before it grew its own native assembler.
package amd64

import (
	"fmt"
	"math"

	goasm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"github.com/wasmforge/wasmforge/internal/arch"
	"github.com/wasmforge/wasmforge/internal/basedata"
)

// General purpose and XMM registers, numbered densely so arch.Register
// ranges (isIntRegister/isVectorRegister in internal/regalloc) can test
// membership with a single comparison.
const (
	RegNone arch.Register = iota
	RegAX
	RegCX
	RegDX
	RegBX
	RegSP
	RegBP
	RegSI
	RegDI
	RegR8
	RegR9
	RegR10
	RegR11
	RegR12
	RegR13
	RegR14
	RegR15
	regIntEnd

	RegX0 arch.Register = regIntEnd + iota - 1
	RegX1
	RegX2
	RegX3
	RegX4
	RegX5
	RegX6
	RegX7
	RegX8
	RegX9
	RegX10
	RegX11
	RegX12
	RegX13
	RegX14
	RegX15
	regVecEnd
)

// IntRegisterRange and VecRegisterRange are consulted by internal/regalloc
// to classify a register without importing this package's full symbol set.
var (
	IntRegisterRange = [2]arch.Register{RegAX, regIntEnd - 1}
	VecRegisterRange = [2]arch.Register{RegX0, regVecEnd - 1}
)

// Reserved registers: amd64's calling convention and our own ABI both claim
// a handful of registers for fixed roles, leaving the rest free for the
// scratch-oriented allocator.
const (
	// ReservedRegisterStackPointer is the native SP; moved only through
	// Assembler.SubSP / setStackFrameSize.
	ReservedRegisterStackPointer = RegSP
	// ReservedRegisterLinearMemoryBase caches linear-memory-base + basedata
	// so every memory access can address off of a single register.
	ReservedRegisterLinearMemoryBase = RegR13
	// ReservedRegisterModuleInstance holds the *wasm.ModuleInstance-like
	// context pointer passed on entry.
	ReservedRegisterModuleInstance = RegR14
	// ReservedRegisterTemporary is golang-asm's own scratch register for
	// large immediates/offsets it cannot avoid materializing itself.
	ReservedRegisterTemporary = RegR15
)

// Instructions. Naming follows Go assembler mnemonics, matching the style of
// internal/asm/amd64/consts.go.
const (
	NOP arch.Instruction = iota
	RET
	CALL
	JMP
	LEAQ

	MOVB
	MOVW
	MOVL
	MOVQ
	MOVBLZX
	MOVBLSX
	MOVBQZX
	MOVBQSX
	MOVWLZX
	MOVWLSX
	MOVWQZX
	MOVWQSX
	MOVLQZX
	MOVLQSX

	ADDL
	ADDQ
	SUBL
	SUBQ
	IMULL
	IMULQ
	IDIVL
	IDIVQ
	DIVL
	DIVQ
	ANDL
	ANDQ
	ORL
	ORQ
	XORL
	XORQ
	NEGL
	NEGQ
	NOTL
	NOTQ
	SHLL
	SHLQ
	SHRL
	SHRQ
	SARL
	SARQ
	ROLL
	ROLQ
	RORL
	RORQ
	CMPL
	CMPQ
	TESTL
	TESTQ
	CDQ
	CQO
	BSFL
	BSFQ
	BSRL
	BSRQ
	POPCNTL
	POPCNTQ

	MOVSS
	MOVSD
	ADDSS
	ADDSD
	SUBSS
	SUBSD
	MULSS
	MULSD
	DIVSS
	DIVSD
	SQRTSS
	SQRTSD
	UCOMISS
	UCOMISD
	CVTSS2SD
	CVTSD2SS
	CVTSL2SS
	CVTSL2SD
	CVTSQ2SS
	CVTSQ2SD
	CVTTSS2SL
	CVTTSD2SL
	CVTTSS2SQ
	CVTTSD2SQ
	ANDPS
	ANDPD
	ORPS
	ORPD
	XORPS
	XORPD

	JEQ
	JNE
	JLT
	JLE
	JGT
	JGE
	JCS // unsigned <, carry set
	JLS // unsigned <=
	JHI // unsigned >
	JCC // unsigned >=, carry clear
	JMI // negative
	JPL // non-negative

	SETEQ
	SETNE
	SETLT
	SETLE
	SETGT
	SETGE
	SETCS
	SETLS
	SETHI
	SETCC
)

var toGoAsmInstruction = [...]obj.As{
	NOP:  obj.ANOP,
	RET:  obj.ARET,
	CALL: obj.ACALL,
	JMP:  obj.AJMP,
	LEAQ: x86.ALEAQ,

	MOVB:    x86.AMOVB,
	MOVW:    x86.AMOVW,
	MOVL:    x86.AMOVL,
	MOVQ:    x86.AMOVQ,
	MOVBLZX: x86.AMOVBLZX,
	MOVBLSX: x86.AMOVBLSX,
	MOVBQZX: x86.AMOVBQZX,
	MOVBQSX: x86.AMOVBQSX,
	MOVWLZX: x86.AMOVWLZX,
	MOVWLSX: x86.AMOVWLSX,
	MOVWQZX: x86.AMOVWQZX,
	MOVWQSX: x86.AMOVWQSX,
	MOVLQZX: x86.AMOVLQZX,
	MOVLQSX: x86.AMOVLQSX,

	ADDL:  x86.AADDL,
	ADDQ:  x86.AADDQ,
	SUBL:  x86.ASUBL,
	SUBQ:  x86.ASUBQ,
	IMULL: x86.AIMULL,
	IMULQ: x86.AIMULQ,
	IDIVL: x86.AIDIVL,
	IDIVQ: x86.AIDIVQ,
	DIVL:  x86.ADIVL,
	DIVQ:  x86.ADIVQ,
	ANDL:  x86.AANDL,
	ANDQ:  x86.AANDQ,
	ORL:   x86.AORL,
	ORQ:   x86.AORQ,
	XORL:  x86.AXORL,
	XORQ:  x86.AXORQ,
	NEGL:  x86.ANEGL,
	NEGQ:  x86.ANEGQ,
	NOTL:  x86.ANOTL,
	NOTQ:  x86.ANOTQ,
	SHLL:  x86.ASHLL,
	SHLQ:  x86.ASHLQ,
	SHRL:  x86.ASHRL,
	SHRQ:  x86.ASHRQ,
	SARL:  x86.ASARL,
	SARQ:  x86.ASARQ,
	ROLL:  x86.AROLL,
	ROLQ:  x86.AROLQ,
	RORL:  x86.ARORL,
	RORQ:  x86.ARORQ,
	CMPL:  x86.ACMPL,
	CMPQ:  x86.ACMPQ,
	TESTL: x86.ATESTL,
	TESTQ: x86.ATESTQ,
	CDQ:   x86.ACDQ,
	CQO:   x86.ACQO,
	BSFL:  x86.ABSFL,
	BSFQ:  x86.ABSFQ,
	BSRL:  x86.ABSRL,
	BSRQ:  x86.ABSRQ,

	MOVSS:     x86.AMOVSS,
	MOVSD:     x86.AMOVSD,
	ADDSS:     x86.AADDSS,
	ADDSD:     x86.AADDSD,
	SUBSS:     x86.ASUBSS,
	SUBSD:     x86.ASUBSD,
	MULSS:     x86.AMULSS,
	MULSD:     x86.AMULSD,
	DIVSS:     x86.ADIVSS,
	DIVSD:     x86.ADIVSD,
	SQRTSS:    x86.ASQRTSS,
	SQRTSD:    x86.ASQRTSD,
	UCOMISS:   x86.AUCOMISS,
	UCOMISD:   x86.AUCOMISD,
	CVTSS2SD:  x86.ACVTSS2SD,
	CVTSD2SS:  x86.ACVTSD2SS,
	CVTSL2SS:  x86.ACVTSL2SS,
	CVTSL2SD:  x86.ACVTSL2SD,
	CVTSQ2SS:  x86.ACVTSQ2SS,
	CVTSQ2SD:  x86.ACVTSQ2SD,
	CVTTSS2SL: x86.ACVTTSS2SL,
	CVTTSD2SL: x86.ACVTTSD2SL,
	CVTTSS2SQ: x86.ACVTTSS2SQ,
	CVTTSD2SQ: x86.ACVTTSD2SQ,
	ANDPS:     x86.AANDPS,
	ANDPD:     x86.AANDPD,
	ORPS:      x86.AORPS,
	ORPD:      x86.AORPD,
	XORPS:     x86.AXORPS,
	XORPD:     x86.AXORPD,

	JEQ: x86.AJEQ,
	JNE: x86.AJNE,
	JLT: x86.AJLT,
	JLE: x86.AJLE,
	JGT: x86.AJGT,
	JGE: x86.AJGE,
	JCS: x86.AJCS,
	JLS: x86.AJLS,
	JHI: x86.AJHI,
	JCC: x86.AJCC,
	JMI: x86.AJMI,
	JPL: x86.AJPL,

	SETEQ: x86.ASETEQ,
	SETNE: x86.ASETNE,
	SETLT: x86.ASETLT,
	SETLE: x86.ASETLE,
	SETGT: x86.ASETGT,
	SETGE: x86.ASETGE,
	SETCS: x86.ASETCS,
	SETLS: x86.ASETLS,
	SETHI: x86.ASETHI,
	SETCC: x86.ASETCC,
}

// condToJump/condToSet realize the arch.ConditionalState contract
// (`to cond from` relative to the preceding compare). Go's amd64 assembler
// evaluates conditions the other way around (`from cond to`), so the
// asymmetric entries here are deliberately mirrored: CondLtS selects JGT,
// not JLT.
var condToJump = map[arch.ConditionalState]arch.Instruction{
	arch.CondEq:  JEQ,
	arch.CondNe:  JNE,
	arch.CondLtS: JGT,
	arch.CondGtS: JLT,
	arch.CondLeS: JGE,
	arch.CondGeS: JLE,
	arch.CondLtU: JHI,
	arch.CondGtU: JCS,
	arch.CondLeU: JCC,
	arch.CondGeU: JLS,
}

var condToSet = map[arch.ConditionalState]arch.Instruction{
	arch.CondEq:  SETEQ,
	arch.CondNe:  SETNE,
	arch.CondLtS: SETGT,
	arch.CondGtS: SETLT,
	arch.CondLeS: SETGE,
	arch.CondGeS: SETLE,
	arch.CondLtU: SETHI,
	arch.CondGtU: SETCS,
	arch.CondLeU: SETCC,
	arch.CondGeU: SETLS,
}

var toGoAsmRegister = [...]int16{
	RegAX:  x86.REG_AX,
	RegCX:  x86.REG_CX,
	RegDX:  x86.REG_DX,
	RegBX:  x86.REG_BX,
	RegSP:  x86.REG_SP,
	RegBP:  x86.REG_BP,
	RegSI:  x86.REG_SI,
	RegDI:  x86.REG_DI,
	RegR8:  x86.REG_R8,
	RegR9:  x86.REG_R9,
	RegR10: x86.REG_R10,
	RegR11: x86.REG_R11,
	RegR12: x86.REG_R12,
	RegR13: x86.REG_R13,
	RegR14: x86.REG_R14,
	RegR15: x86.REG_R15,
	RegX0:  x86.REG_X0,
	RegX1:  x86.REG_X1,
	RegX2:  x86.REG_X2,
	RegX3:  x86.REG_X3,
	RegX4:  x86.REG_X4,
	RegX5:  x86.REG_X5,
	RegX6:  x86.REG_X6,
	RegX7:  x86.REG_X7,
	RegX8:  x86.REG_X8,
	RegX9:  x86.REG_X9,
	RegX10: x86.REG_X10,
	RegX11: x86.REG_X11,
	RegX12: x86.REG_X12,
	RegX13: x86.REG_X13,
	RegX14: x86.REG_X14,
	RegX15: x86.REG_X15,
}

// node wraps an *obj.Prog to satisfy arch.Node.
type node struct{ prog *obj.Prog }

func (n *node) String() string                    { return n.prog.String() }
func (n *node) OffsetInBinary() uint64             { return uint64(n.prog.Pc) }
func (n *node) AssignJumpTarget(target arch.Node) { n.prog.To.SetTarget(target.(*node).prog) }

// Assembler implements arch.Assembler for x86-64 using golang-asm.
type Assembler struct {
	b                *goasm.Builder
	pendingJumpNodes []arch.Node
	onGenerate       []func([]byte) error

	// trapSites collects every TRAP/CTRAP branch waiting for its shared
	// stub; trapOrder keeps stub emission deterministic (first-use order).
	trapSites map[arch.TrapCode][]*obj.Prog
	trapOrder []arch.TrapCode
}

// NewAssembler allocates a fresh x86-64 instruction stream builder.
func NewAssembler() (*Assembler, error) {
	b, err := goasm.NewBuilder("amd64", 1024)
	if err != nil {
		return nil, fmt.Errorf("amd64: new builder: %w", err)
	}
	return &Assembler{b: b, trapSites: map[arch.TrapCode][]*obj.Prog{}}, nil
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
// the instruction stream, after all fall-through code, and points every
// recorded TRAP/CTRAP site at it. The stub stores the code into the
// basedata trap slot, restores the host stack pointer captured in the
// unwind slot, and returns into the host through the address that restore
// exposes.
func (a *Assembler) emitTrapStubs() {
	for _, code := range a.trapOrder {
		entry := a.CompileConstToRegister(MOVQ, int64(code), ReservedRegisterTemporary)
		a.CompileRegisterToMemory(MOVQ, ReservedRegisterTemporary, ReservedRegisterLinearMemoryBase, basedata.TrapCodeOffset)
		a.CompileMemoryToRegister(MOVQ, ReservedRegisterLinearMemoryBase, basedata.StackUnwindOffset, RegSP)
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

func (a *Assembler) CompileConstToRegister(instruction arch.Instruction, value int64, destination arch.Register) arch.Node {
	p := a.newProg()
	p.As = toGoAsmInstruction[instruction]
	p.From.Type = obj.TYPE_CONST
	p.From.Offset = value
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

func (a *Assembler) CompileMemoryToRegister(instruction arch.Instruction, base arch.Register, offset int64, to arch.Register) {
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
	p := a.newProg()
	p.As = toGoAsmInstruction[instruction]
	p.To.Type = obj.TYPE_MEM
	p.To.Reg = toGoAsmRegister[base]
	p.To.Offset = offset
	p.From.Type = obj.TYPE_REG
	p.From.Reg = toGoAsmRegister[from]
	a.add(p)
}

// CompileRegisterToConst emits `CMPx reg, $value` / `TESTx reg, $value`
// (Go's amd64 compare order) and `OPx $value, reg` for every other
// instruction, such as a shift by a constant count.
func (a *Assembler) CompileRegisterToConst(instruction arch.Instruction, reg arch.Register, value int64) {
	switch instruction {
	case CMPL, CMPQ, TESTL, TESTQ:
		p := a.newProg()
		p.As = toGoAsmInstruction[instruction]
		p.From.Type = obj.TYPE_REG
		p.From.Reg = toGoAsmRegister[reg]
		p.To.Type = obj.TYPE_CONST
		p.To.Offset = value
		a.add(p)
	default:
		a.CompileConstToRegister(instruction, value, reg)
	}
}

func (a *Assembler) CompileConditionalJump(cond arch.ConditionalState) arch.Node {
	return a.CompileJump(condToJump[cond])
}

// CompileSetCondition emits SETcc into the destination's low byte followed
// by a zero-extending widen, the amd64 idiom for materializing a flag as
// 0/1.
func (a *Assembler) CompileSetCondition(cond arch.ConditionalState, dst arch.Register) {
	p := a.newProg()
	p.As = toGoAsmInstruction[condToSet[cond]]
	p.To.Type = obj.TYPE_REG
	p.To.Reg = toGoAsmRegister[dst]
	a.add(p)
	a.CompileRegisterToRegister(MOVBLZX, dst, dst)
}

func (a *Assembler) TRAP(code arch.TrapCode) {
	a.recordTrapSite(code, a.CompileJump(JMP))
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

func (a *Assembler) CompileJump(instruction arch.Instruction) arch.Node {
	p := a.newProg()
	p.As = toGoAsmInstruction[instruction]
	p.To.Type = obj.TYPE_BRANCH
	a.add(p)
	return &node{p}
}

func (a *Assembler) CompileJumpToRegister(instruction arch.Instruction, target arch.Register) {
	p := a.newProg()
	p.As = toGoAsmInstruction[instruction]
	p.To.Type = obj.TYPE_REG
	p.To.Reg = toGoAsmRegister[target]
	a.add(p)
}

// MOVimm picks MOVL for values fitting in 32 bits (zero-extended stores for
// free on amd64) and MOVQ for the full 64-bit immediate otherwise.
func (a *Assembler) MOVimm(dst arch.Register, value int64, mt arch.MachineType) arch.Node {
	if !mt.Is64() || (value >= 0 && value <= math.MaxUint32) {
		return a.CompileConstToRegister(MOVL, value, dst)
	}
	return a.CompileConstToRegister(MOVQ, value, dst)
}

func (a *Assembler) AddConstToRegister(reg arch.Register, value int64) arch.Node {
	return a.CompileConstToRegister(ADDQ, value, reg)
}

func (a *Assembler) SubSP(value int64) arch.Node {
	return a.CompileConstToRegister(SUBQ, value, RegSP)
}

func (a *Assembler) CompileReadInstructionAddress(destination arch.Register, beforeTargetInstruction arch.Instruction) {
	readAddr := a.newProg()
	readAddr.As = x86.ALEAQ
	readAddr.To.Type = obj.TYPE_REG
	readAddr.To.Reg = toGoAsmRegister[destination]
	readAddr.From.Type = obj.TYPE_MEM
	readAddr.From.Name = obj.NAME_EXTERN
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
			return fmt.Errorf("amd64: CompileReadInstructionAddress: target not found")
		}
		rel := cur.Pc - (readAddr.Pc + int64(readAddr.Isize))
		if rel < math.MinInt32 || rel > math.MaxInt32 {
			return fmt.Errorf("amd64: CompileReadInstructionAddress: offset too large")
		}
		// RIP-relative displacement lives in the last 4 bytes of the LEAQ encoding.
		instrBytes := code[readAddr.Pc : cur.Pc]
		n := len(instrBytes)
		if n >= 4 {
			instrBytes[n-4] = byte(rel)
			instrBytes[n-3] = byte(rel >> 8)
			instrBytes[n-2] = byte(rel >> 16)
			instrBytes[n-1] = byte(rel >> 24)
		}
		return nil
	})
}

func (a *Assembler) BuildJumpTable(table []byte, initialInstructions []arch.Node) {
	a.addOnGenerate(func(code []byte) error {
		base := initialInstructions[0].OffsetInBinary()
		for i, n := range initialInstructions {
			off := n.OffsetInBinary() - base
			if off >= math.MaxUint32 {
				return fmt.Errorf("amd64: br_table too large")
			}
			table[i*4] = byte(off)
			table[i*4+1] = byte(off >> 8)
			table[i*4+2] = byte(off >> 16)
			table[i*4+3] = byte(off >> 24)
		}
		return nil
	})
}

// PatchCall rewrites the CALL rel32 at siteOffset so it targets
// targetOffset; both offsets are absolute positions within code. Used by
// the driver to resolve cross-function call sites once every function's
// final position is known.
func PatchCall(code []byte, siteOffset, targetOffset uint64) error {
	if siteOffset+5 > uint64(len(code)) || code[siteOffset] != 0xE8 {
		return fmt.Errorf("amd64: no CALL rel32 at offset %d", siteOffset)
	}
	rel := int64(targetOffset) - int64(siteOffset+5)
	if rel < math.MinInt32 || rel > math.MaxInt32 {
		return fmt.Errorf("amd64: call displacement out of range: %d", rel)
	}
	code[siteOffset+1] = byte(rel)
	code[siteOffset+2] = byte(rel >> 8)
	code[siteOffset+3] = byte(rel >> 16)
	code[siteOffset+4] = byte(rel >> 24)
	return nil
}
