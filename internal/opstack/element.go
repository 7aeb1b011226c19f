// Package opstack implements the compile-time operand stack that drives
// single-pass code generation: a double-linked sequence of tagged elements
// tracking where each Wasm value currently lives (constant, local slot,
// global, scratch register, spilled temp, or a postponed instruction). The
// stack itself is never emitted — internal/codegen walks it to decide what
// native instructions to emit next.
package opstack

import (
	"fmt"

	"github.com/wasmforge/wasmforge/internal/arch"
	"github.com/wasmforge/wasmforge/internal/wasm"
)

// Kind discriminates the tagged variant an Element holds.
type Kind byte

const (
	KindInvalid Kind = iota
	KindConstant
	KindLocal
	KindGlobal
	KindScratchRegister
	KindTempResult
	KindDeferredAction
	KindBlock
	KindSkip
)

func (k Kind) String() string {
	switch k {
	case KindConstant:
		return "const"
	case KindLocal:
		return "local"
	case KindGlobal:
		return "global"
	case KindScratchRegister:
		return "scratch"
	case KindTempResult:
		return "temp"
	case KindDeferredAction:
		return "deferred"
	case KindBlock:
		return "block"
	case KindSkip:
		return "skip"
	default:
		return "invalid"
	}
}

// BlockKind distinguishes the three control-frame shapes a Block element
// may take.
type BlockKind byte

const (
	BlockKindBlock BlockKind = iota
	BlockKindLoop
	BlockKindIfBlock
)

// StorageKind is the tag of a Storage descriptor (the "Variable
// storage").
type StorageKind byte

const (
	StorageInvalid StorageKind = iota
	StorageRegister
	StorageStackMemory
	StorageLinkData
	StorageConstant
)

// Storage is where a value physically lives: a concrete register, a slot in
// the current function's stack frame, a slot in the job-memory link area
// (globals, import trampolines), or a literal constant.
type Storage struct {
	Kind         StorageKind
	Register     arch.Register
	FrameOffset  int32
	LinkOffset   uint32
	ConstantBits int64
}

// Equals is the strict flavor: same storage category, same location, and
// the caller-supplied machine types also match.
func Equals(a Storage, aType arch.MachineType, b Storage, bType arch.MachineType) bool {
	return aType == bType && InSameLocation(a, b)
}

// InSameLocation ignores machine type and asks only whether both
// descriptors name the same physical location.
func InSameLocation(a, b Storage) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case StorageRegister:
		return a.Register == b.Register
	case StorageStackMemory:
		return a.FrameOffset == b.FrameOffset
	case StorageLinkData:
		return a.LinkOffset == b.LinkOffset
	case StorageConstant:
		return a.ConstantBits == b.ConstantBits
	default:
		return true // two Invalid storages are considered colocated (both nowhere)
	}
}

// Element is one entry of the compile-time stack. Only the fields relevant
// to Kind are meaningful; the rest are zero. Elements are always reached
// through a pointer obtained from Stack, so the pointer itself is a stable
// iterator — erase/insertBefore relink Prev/Next without moving the value,
// and nothing about Stack's internal growth invalidates it.
type Element struct {
	Kind        Kind
	MachineType arch.MachineType

	// Constant
	ConstantBits int64

	// Local / Global: Index is the local or global index this element
	// refers to; the authoritative current storage lives in the owning
	// side table (FunctionState locals, or the global link-data slot),
	// not here — this element is just a live reference to it.
	Index uint32

	// ScratchRegister
	Register arch.Register

	// TempResult: a computed value whose live location is Storage, chained
	// into the refill list for its RefSlot so a later spill-and-reload can
	// find every other reference to the same temporary.
	Storage Storage
	RefSlot int32
	refNext *Element
	refPrev *Element

	// DeferredAction: an instruction whose native emission was postponed
	// so the next consumer gets a chance to fuse with it (e.g. compare
	// immediately consumed by a branch).
	DeferredOpcode wasm.Opcode
	SideEffect     bool
	DataOffset     uint32

	// Block: a control frame.
	BlockKind       BlockKind
	SigIndex        int32
	BinaryPos       uint64
	EntryFrameSize  int32
	ResultOffset    int32
	// PendingBranches accumulates every forward branch site (br/br_if/
	// br_table) still waiting for this block's end to resolve its target;
	// the matching end resolves them all at once.
	PendingBranches []arch.Node
	// EntryNode is the first arch.Node emitted for a Loop block, recorded
	// so back-edges (br targeting this block) can jump to it directly.
	EntryNode arch.Node
	// ElseBranch is an IfBlock's pending false-condition jump: it resolves
	// to the else-branch entry when one exists, otherwise to the block
	// end alongside PendingBranches.
	ElseBranch  arch.Node
	Unreachable bool

	// Skip: placeholder accumulating the count of discarded opcodes while
	// the current path is unreachable.
	SkipCount int

	// Parent/Sibling let codegen walk the currently open control frames
	// without re-scanning the whole stack.
	Parent  *Element
	Sibling *Element

	// list linkage within Stack (unexported: callers only ever see *Element)
	listNext, listPrev *Element
	// alias linkage: all live elements referencing the same Local/Global
	// index are chained here so mutating the source propagates immediately.
	aliasNext, aliasPrev *Element
}

func (e *Element) String() string {
	switch e.Kind {
	case KindConstant:
		return fmt.Sprintf("const(%s,%d)", e.MachineType, e.ConstantBits)
	case KindLocal:
		return fmt.Sprintf("local(%d)", e.Index)
	case KindGlobal:
		return fmt.Sprintf("global(%d)", e.Index)
	case KindScratchRegister:
		return fmt.Sprintf("scratch(r%d,%s)", e.Register, e.MachineType)
	case KindTempResult:
		return fmt.Sprintf("temp(%v,%s,slot=%d)", e.Storage, e.MachineType, e.RefSlot)
	case KindDeferredAction:
		return fmt.Sprintf("deferred(op=0x%x)", uint16(e.DeferredOpcode))
	case KindBlock:
		return fmt.Sprintf("block(kind=%d,entryFrame=%d)", e.BlockKind, e.EntryFrameSize)
	case KindSkip:
		return fmt.Sprintf("skip(%d)", e.SkipCount)
	default:
		return "invalid"
	}
}
