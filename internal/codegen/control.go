package codegen

import (
	"fmt"

	"github.com/wasmforge/wasmforge/internal/arch"
	"github.com/wasmforge/wasmforge/internal/basedata"
	"github.com/wasmforge/wasmforge/internal/opstack"
)

// EnterBlock pushes a Block/Loop/IfBlock control frame. For Loop, binaryPos
// is recorded so back-edges can be emitted PC-relative; for Block/IfBlock,
// the pending-branch list starts empty and accumulates forward br/br_if
// sites targeting this block's end.
func (b *Backend) EnterBlock(kind opstack.BlockKind, sigIndex int32, binaryPos uint64) *opstack.Element {
	blk := opstack.NewBlock(kind, sigIndex, binaryPos, b.Func.StackFrameSize)
	if kind == opstack.BlockKindLoop {
		blk.EntryNode = b.Asm.CompileStandAlone(b.Info.Nop)
		// Back-edges land on EntryNode, so every iteration passes the
		// interruption poll before re-entering the body.
		b.emitInterruptPoll()
	}
	b.Stack.Push(blk)
	b.openBlocks = append(b.openBlocks, blk)
	return blk
}

// emitInterruptPoll tests the basedata status word and diverts to the
// interruption trap stub when the interrupt-request bit is set. The
// runtime substitutes the requested code from the status word when it
// reports the trap.
func (b *Backend) emitInterruptPoll() {
	b.Asm.CompileMemoryToRegister(b.Info.MoveMemToReg(arch.TypeI64), b.Info.ReservedLinearMemoryBase, basedata.StatusFlagsOffset, b.Info.ReservedTemporary)
	b.compareWithZero(b.Info.ReservedTemporary, arch.TypeI64)
	b.Asm.CTRAP(arch.TrapRuntimeInterruptRequested, arch.CondNe)
}

// currentBlock returns the innermost open control frame.
func (b *Backend) currentBlock() *opstack.Element {
	if len(b.openBlocks) == 0 {
		return nil
	}
	return b.openBlocks[len(b.openBlocks)-1]
}

// EnterElse ends an IfBlock's then-branch: the then path jumps forward to
// the block end, the pending false-condition jump lands here, and the else
// path starts reachable.
func (b *Backend) EnterElse() error {
	blk := b.currentBlock()
	if blk == nil || blk.BlockKind != opstack.BlockKindIfBlock {
		return fmt.Errorf("codegen: else outside an if block")
	}
	if b.Reachable {
		b.chainBranch(blk, b.Asm.CompileJump(b.Info.Jmp))
	}
	here := b.Asm.CompileStandAlone(b.Info.Nop)
	if blk.ElseBranch != nil {
		blk.ElseBranch.AssignJumpTarget(here)
		blk.ElseBranch = nil
	}
	b.Reachable = true
	return nil
}

// EndBlock resolves every forward branch in blk's PendingBranches (and a
// still-pending ElseBranch) to the current position,
// then pops the control frame.
func (b *Backend) EndBlock() error {
	blk := b.currentBlock()
	if blk == nil {
		return fmt.Errorf("codegen: end with no open block")
	}
	b.resolveChain(blk)
	b.openBlocks = b.openBlocks[:len(b.openBlocks)-1]
	b.Stack.Erase(blk)
	if len(b.openBlocks) == 0 {
		b.Reachable = true // the implicit outer block never leaves the function unreachable once closed
	} else {
		b.openBlocks[len(b.openBlocks)-1].Unreachable = false
	}
	return nil
}

// resolveChain walks blk's pending forward-branch list and patches every
// site's jump target to the current assembler position.
func (b *Backend) resolveChain(blk *opstack.Element) {
	if len(blk.PendingBranches) == 0 && blk.ElseBranch == nil {
		return
	}
	here := b.Asm.CompileStandAlone(b.Info.Nop)
	for _, node := range blk.PendingBranches {
		node.AssignJumpTarget(here)
	}
	blk.PendingBranches = nil
	if blk.ElseBranch != nil {
		// An if without an else: the false path falls straight to the end.
		blk.ElseBranch.AssignJumpTarget(here)
		blk.ElseBranch = nil
	}
}

// chainBranch links a newly emitted forward branch (Block/IfBlock target)
// onto blk's pending list.
func (b *Backend) chainBranch(blk *opstack.Element, branch arch.Node) {
	blk.PendingBranches = append(blk.PendingBranches, branch)
}

// blockAt returns the control frame `labelDepth` levels up from the
// innermost one (0 = innermost), as used by br/br_if/br_table targets.
func (b *Backend) blockAt(labelDepth uint32) (*opstack.Element, error) {
	idx := len(b.openBlocks) - 1 - int(labelDepth)
	if idx < 0 {
		return nil, fmt.Errorf("codegen: branch depth %d exceeds open block count %d", labelDepth, len(b.openBlocks))
	}
	return b.openBlocks[idx], nil
}

// adjustToArity pops stack elements so only the target block's declared
// result arity remains live across a branch.
func (b *Backend) adjustToArity(target *opstack.Element, arity int) {
	for b.Stack.Len() > 0 && b.Stack.Peek(0) != target {
		top := b.Stack.Peek(0)
		if top.Kind == opstack.KindBlock {
			break
		}
		if arity > 0 {
			arity--
			continue
		}
		b.Stack.Erase(top)
		b.releaseIfScratch(top)
	}
}

// Br lowers an unconditional branch: adjust the stack to the target's
// arity, emit the jump, chain it if forward (Block/IfBlock) or make it
// PC-relative backward if Loop, then mark the current path unreachable.
func (b *Backend) Br(labelDepth uint32, arity int) error {
	target, err := b.blockAt(labelDepth)
	if err != nil {
		return err
	}
	b.adjustToArity(target, arity)
	j := b.Asm.CompileJump(b.Info.Jmp)
	if target.BlockKind == opstack.BlockKindLoop {
		// Back-edge: the loop's entry position is already known.
		j.AssignJumpTarget(target.EntryNode)
	} else {
		b.chainBranch(target, j)
	}
	b.Reachable = false
	return nil
}

// BrIf is Br's conditional counterpart: pops the i32 condition, skips the
// branch when it is zero, and leaves the remaining stack untouched on the
// fallthrough path (the values above the target's arity still belong to
// enclosing blocks there).
func (b *Backend) BrIf(labelDepth uint32, arity int) error {
	cond := b.Stack.Pop()
	condReg := b.materialize(cond, arch.NilRegister)
	b.releaseIfScratch(cond)

	b.compareWithZero(condReg, arch.TypeI32)
	skip := b.Asm.CompileConditionalJump(arch.CondEq)

	target, err := b.blockAt(labelDepth)
	if err != nil {
		return err
	}
	j := b.Asm.CompileJump(b.Info.Jmp)
	if target.BlockKind == opstack.BlockKindLoop {
		j.AssignJumpTarget(target.EntryNode)
	} else {
		b.chainBranch(target, j)
	}
	b.Asm.SetJumpTargetOnNext(skip)
	return nil
}

// BrTable lowers br_table as a compare-dispatch chain: one equality test
// per listed target, falling through to the default when the index matches
// none. Tables past a handful of entries would use
// Assembler.BuildJumpTable's offset-table form instead; the module sizes
// seen through this compiler keep the chain form within its cost budget.
func (b *Backend) BrTable(targets []uint32, defaultTarget uint32, arity int) error {
	idx := b.Stack.Pop()
	idxReg := b.materialize(idx, arch.NilRegister)
	cmp := b.Info.CandidatesFor(arch.OpEq, arch.TypeI32)

	for i, depth := range targets {
		target, err := b.blockAt(depth)
		if err != nil {
			return err
		}
		b.adjustToArity(target, arity)
		b.Asm.CompileRegisterToConst(cmp[0], idxReg, int64(i))
		j := b.Asm.CompileConditionalJump(arch.CondEq)
		if target.BlockKind == opstack.BlockKindLoop {
			j.AssignJumpTarget(target.EntryNode)
		} else {
			b.chainBranch(target, j)
		}
	}
	def, err := b.blockAt(defaultTarget)
	if err != nil {
		return err
	}
	b.adjustToArity(def, arity)
	dj := b.Asm.CompileJump(b.Info.Jmp)
	if def.BlockKind == opstack.BlockKindLoop {
		dj.AssignJumpTarget(def.EntryNode)
	} else {
		b.chainBranch(def, dj)
	}

	b.releaseIfScratch(idx)
	b.Reachable = false
	return nil
}

// Return lowers the return opcode: materializes every result into its ABI
// location (left to internal/compiler's epilogue emission, which knows the
// function signature) and marks the path unreachable.
func (b *Backend) Return() error {
	b.Reachable = false
	return nil
}

// Unreachable lowers the unreachable opcode: an unconditional transfer to
// the Unreachable trap stub, then the path is dead.
func (b *Backend) Unreachable() error {
	b.Asm.TRAP(arch.TrapUnreachable)
	b.Reachable = false
	return nil
}
