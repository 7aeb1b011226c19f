package opstack

import (
	"fmt"
	"strings"

	"github.com/wasmforge/wasmforge/internal/arch"
)

// Stack is the compile-time operand stack: a double-linked
// sequence of Elements with O(1) push/pop/erase/insertBefore and pointers
// that remain valid across any of those operations, plus the auxiliary
// per-local/per-global alias lists and per-temp refill lists spilling
// propagates through.
type Stack struct {
	head, tail *Element
	sp         int
	ceil       int

	usedRegisters map[arch.Register]struct{}

	localAlias  map[uint32]*Element
	globalAlias map[uint32]*Element
	tempRefHead map[int32]*Element

	nextTempSlot int32
}

// New returns an empty compile-time stack.
func New() *Stack {
	return &Stack{
		usedRegisters: map[arch.Register]struct{}{},
		localAlias:    map[uint32]*Element{},
		globalAlias:   map[uint32]*Element{},
		tempRefHead:   map[int32]*Element{},
	}
}

func (s *Stack) Len() int          { return s.sp }
func (s *Stack) Ceil() int         { return s.ceil }
func (s *Stack) Empty() bool       { return s.sp == 0 }

func (s *Stack) String() string {
	var parts []string
	for e := s.head; e != nil; e = e.listNext {
		parts = append(parts, e.String())
	}
	return fmt.Sprintf("sp=%d stack=[%s]", s.sp, strings.Join(parts, ","))
}

// Push appends e to the top of the stack and, for variable-backed or
// register-backed kinds, registers it in the relevant auxiliary index.
func (s *Stack) Push(e *Element) *Element {
	e.listPrev = s.tail
	if s.tail != nil {
		s.tail.listNext = e
	}
	s.tail = e
	if s.head == nil {
		s.head = e
	}
	s.sp++
	if s.sp > s.ceil {
		s.ceil = s.sp
	}
	s.trackNew(e)
	return e
}

func (s *Stack) trackNew(e *Element) {
	switch e.Kind {
	case KindScratchRegister:
		s.MarkRegisterUsed(e.Register)
	case KindTempResult:
		if e.Storage.Kind == StorageRegister {
			s.MarkRegisterUsed(e.Storage.Register)
		}
		s.linkRefSlot(e)
	case KindLocal:
		s.linkAlias(s.localAlias, e.Index, e)
	case KindGlobal:
		s.linkAlias(s.globalAlias, e.Index, e)
	}
}

// Pop removes and returns the top element, relinking only the stack list.
// It does NOT free a ScratchRegister's register or detach a variable alias
// or refill-list entry — callers that are discarding the value
// (rather than, say, moving it into a local's side-table slot) should call
// Erase semantics via Release.
func (s *Stack) Pop() *Element {
	e := s.tail
	s.tail = e.listPrev
	if s.tail != nil {
		s.tail.listNext = nil
	} else {
		s.head = nil
	}
	e.listPrev = nil
	s.sp--
	return e
}

// Peek returns the element `depth` positions below the top (0 = top)
// without removing it.
func (s *Stack) Peek(depth int) *Element {
	e := s.tail
	for i := 0; i < depth && e != nil; i++ {
		e = e.listPrev
	}
	return e
}

// Erase unlinks e from wherever it currently sits in the stack (not just
// the top), releasing its register if it holds one and detaching it from
// its alias/refill list if it is variable- or temp-backed.
func (s *Stack) Erase(e *Element) {
	if e.listPrev != nil {
		e.listPrev.listNext = e.listNext
	} else {
		s.head = e.listNext
	}
	if e.listNext != nil {
		e.listNext.listPrev = e.listPrev
	} else {
		s.tail = e.listPrev
	}
	e.listNext, e.listPrev = nil, nil
	s.sp--

	switch e.Kind {
	case KindScratchRegister:
		s.MarkRegisterUnused(e.Register)
	case KindTempResult:
		if e.Storage.Kind == StorageRegister {
			s.MarkRegisterUnused(e.Storage.Register)
		}
		s.unlinkRefSlot(e)
	case KindLocal:
		s.unlinkAlias(s.localAlias, e.Index, e)
	case KindGlobal:
		s.unlinkAlias(s.globalAlias, e.Index, e)
	}
}

// InsertBefore splices e into the stack immediately below at (between at
// and at's current predecessor).
func (s *Stack) InsertBefore(at, e *Element) {
	e.listPrev = at.listPrev
	e.listNext = at
	if at.listPrev != nil {
		at.listPrev.listNext = e
	} else {
		s.head = e
	}
	at.listPrev = e
	s.sp++
	if s.sp > s.ceil {
		s.ceil = s.sp
	}
	s.trackNew(e)
}

// --- register bookkeeping ---

func (s *Stack) MarkRegisterUsed(regs ...arch.Register) {
	for _, r := range regs {
		if r != arch.NilRegister {
			s.usedRegisters[r] = struct{}{}
		}
	}
}

func (s *Stack) MarkRegisterUnused(regs ...arch.Register) {
	for _, r := range regs {
		delete(s.usedRegisters, r)
	}
}

func (s *Stack) IsRegisterUsed(r arch.Register) bool {
	_, ok := s.usedRegisters[r]
	return ok
}

// TakeFreeRegister returns the first register in candidates not currently
// marked used.
func (s *Stack) TakeFreeRegister(candidates []arch.Register) (arch.Register, bool) {
	for _, r := range candidates {
		if !s.IsRegisterUsed(r) {
			return r, true
		}
	}
	return arch.NilRegister, false
}

// StealTarget scans the stack bottom-up for the first live element backed
// by a register of the requested set, for the allocator's eviction path.
func (s *Stack) StealTarget(candidates []arch.Register) (*Element, bool) {
	inSet := func(r arch.Register) bool {
		for _, c := range candidates {
			if c == r {
				return true
			}
		}
		return false
	}
	for e := s.head; e != nil; e = e.listNext {
		switch e.Kind {
		case KindScratchRegister:
			if inSet(e.Register) {
				return e, true
			}
		case KindTempResult:
			if e.Storage.Kind == StorageRegister && inSet(e.Storage.Register) {
				return e, true
			}
		}
	}
	return nil, false
}

// --- alias lists (Local/Global) ---

func (s *Stack) linkAlias(table map[uint32]*Element, idx uint32, e *Element) {
	head := table[idx]
	e.aliasNext = head
	if head != nil {
		head.aliasPrev = e
	}
	e.aliasPrev = nil
	table[idx] = e
}

func (s *Stack) unlinkAlias(table map[uint32]*Element, idx uint32, e *Element) {
	if e.aliasPrev != nil {
		e.aliasPrev.aliasNext = e.aliasNext
	} else {
		if table[idx] == e {
			table[idx] = e.aliasNext
		}
	}
	if e.aliasNext != nil {
		e.aliasNext.aliasPrev = e.aliasPrev
	}
	e.aliasNext, e.aliasPrev = nil, nil
}

// WalkLocalAliases calls fn for every currently-live stack element
// referencing local index idx, so a spill or a local.set can propagate to
// every holder immediately.
func (s *Stack) WalkLocalAliases(idx uint32, fn func(*Element)) {
	for e := s.localAlias[idx]; e != nil; e = e.aliasNext {
		fn(e)
	}
}

// WalkGlobalAliases is WalkLocalAliases's global-index counterpart.
func (s *Stack) WalkGlobalAliases(idx uint32, fn func(*Element)) {
	for e := s.globalAlias[idx]; e != nil; e = e.aliasNext {
		fn(e)
	}
}

// --- temp refill lists ---

// NewTempSlot allocates a fresh refill-list anchor id for a freshly
// computed value that may need to be spilled and later reloaded from more
// than one reference.
func (s *Stack) NewTempSlot() int32 {
	id := s.nextTempSlot
	s.nextTempSlot++
	return id
}

func (s *Stack) linkRefSlot(e *Element) {
	head := s.tempRefHead[e.RefSlot]
	e.refNext = head
	if head != nil {
		head.refPrev = e
	}
	e.refPrev = nil
	s.tempRefHead[e.RefSlot] = e
}

func (s *Stack) unlinkRefSlot(e *Element) {
	if e.refPrev != nil {
		e.refPrev.refNext = e.refNext
	} else if s.tempRefHead[e.RefSlot] == e {
		s.tempRefHead[e.RefSlot] = e.refNext
	}
	if e.refNext != nil {
		e.refNext.refPrev = e.refPrev
	}
	e.refNext, e.refPrev = nil, nil
}

// WalkRefSlot visits every live element still referencing the same
// refSlot as e, e.g. to retarget them all after the canonical copy is
// spilled to a new stack-memory offset.
func (s *Stack) WalkRefSlot(slot int32, fn func(*Element)) {
	for e := s.tempRefHead[slot]; e != nil; e = e.refNext {
		fn(e)
	}
}

// --- constructors for each element kind ---

func NewConstant(mt arch.MachineType, bits int64) *Element {
	return &Element{Kind: KindConstant, MachineType: mt, ConstantBits: bits}
}

func NewLocal(idx uint32, mt arch.MachineType) *Element {
	return &Element{Kind: KindLocal, Index: idx, MachineType: mt}
}

func NewGlobal(idx uint32, mt arch.MachineType) *Element {
	return &Element{Kind: KindGlobal, Index: idx, MachineType: mt}
}

func NewScratchRegister(reg arch.Register, mt arch.MachineType) *Element {
	return &Element{Kind: KindScratchRegister, Register: reg, MachineType: mt}
}

func NewTempResult(storage Storage, mt arch.MachineType, refSlot int32) *Element {
	return &Element{Kind: KindTempResult, Storage: storage, MachineType: mt, RefSlot: refSlot}
}

func NewBlock(kind BlockKind, sigIndex int32, binaryPos uint64, entryFrameSize int32) *Element {
	return &Element{Kind: KindBlock, BlockKind: kind, SigIndex: sigIndex, BinaryPos: binaryPos, EntryFrameSize: entryFrameSize}
}

func NewSkip() *Element { return &Element{Kind: KindSkip, SkipCount: 1} }
