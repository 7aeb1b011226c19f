package opstack

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasmforge/wasmforge/internal/arch"
)

func TestPushPopPeek(t *testing.T) {
	s := New()
	require.True(t, s.Empty())

	c1 := s.Push(NewConstant(arch.TypeI32, 7))
	c2 := s.Push(NewConstant(arch.TypeI64, 9))
	require.Equal(t, 2, s.Len())

	require.Same(t, c2, s.Peek(0))
	require.Same(t, c1, s.Peek(1))

	require.Same(t, c2, s.Pop())
	require.Same(t, c1, s.Pop())
	require.True(t, s.Empty())
	require.Equal(t, 2, s.Ceil())
}

func TestEraseMiddleKeepsIteratorsValid(t *testing.T) {
	s := New()
	bottom := s.Push(NewConstant(arch.TypeI32, 1))
	mid := s.Push(NewConstant(arch.TypeI32, 2))
	top := s.Push(NewConstant(arch.TypeI32, 3))

	s.Erase(mid)
	require.Equal(t, 2, s.Len())

	// The untouched elements are still adjacent and reachable.
	require.Same(t, top, s.Peek(0))
	require.Same(t, bottom, s.Peek(1))

	require.Same(t, top, s.Pop())
	require.Same(t, bottom, s.Pop())
}

func TestInsertBefore(t *testing.T) {
	s := New()
	s.Push(NewConstant(arch.TypeI32, 1))
	top := s.Push(NewConstant(arch.TypeI32, 3))

	mid := NewConstant(arch.TypeI32, 2)
	s.InsertBefore(top, mid)

	require.Equal(t, 3, s.Len())
	require.Same(t, top, s.Peek(0))
	require.Same(t, mid, s.Peek(1))
}

func TestScratchRegisterOwnership(t *testing.T) {
	const r7 = arch.Register(7)
	s := New()
	e := s.Push(NewScratchRegister(r7, arch.TypeI32))
	require.True(t, s.IsRegisterUsed(r7))

	// Erasing a ScratchRegister frees its register.
	s.Erase(e)
	require.False(t, s.IsRegisterUsed(r7))
}

func TestTempResultRegisterTracking(t *testing.T) {
	const r3 = arch.Register(3)
	s := New()
	slot := s.NewTempSlot()
	e := s.Push(NewTempResult(Storage{Kind: StorageRegister, Register: r3}, arch.TypeI64, slot))
	require.True(t, s.IsRegisterUsed(r3))
	s.Erase(e)
	require.False(t, s.IsRegisterUsed(r3))
}

func TestTakeFreeRegister(t *testing.T) {
	regs := []arch.Register{1, 2, 3}
	s := New()
	s.Push(NewScratchRegister(1, arch.TypeI32))
	s.Push(NewScratchRegister(2, arch.TypeI32))

	r, ok := s.TakeFreeRegister(regs)
	require.True(t, ok)
	require.Equal(t, arch.Register(3), r)

	s.Push(NewScratchRegister(3, arch.TypeI32))
	_, ok = s.TakeFreeRegister(regs)
	require.False(t, ok)
}

func TestStealTargetScansBottomUp(t *testing.T) {
	regs := []arch.Register{1, 2}
	s := New()
	oldest := s.Push(NewScratchRegister(1, arch.TypeI32))
	s.Push(NewScratchRegister(2, arch.TypeI32))

	victim, ok := s.StealTarget(regs)
	require.True(t, ok)
	require.Same(t, oldest, victim)
}

func TestLocalAliasListPropagation(t *testing.T) {
	s := New()
	a := s.Push(NewLocal(4, arch.TypeI32))
	b := s.Push(NewLocal(4, arch.TypeI32))
	s.Push(NewLocal(5, arch.TypeI32))

	var visited []*Element
	s.WalkLocalAliases(4, func(e *Element) { visited = append(visited, e) })
	require.Len(t, visited, 2)
	require.Contains(t, visited, a)
	require.Contains(t, visited, b)

	// Erasing one holder detaches it without disturbing the other.
	s.Erase(b)
	visited = visited[:0]
	s.WalkLocalAliases(4, func(e *Element) { visited = append(visited, e) })
	require.Equal(t, []*Element{a}, visited)
}

func TestTempRefillList(t *testing.T) {
	s := New()
	slot := s.NewTempSlot()
	st := Storage{Kind: StorageStackMemory, FrameOffset: 16}
	a := s.Push(NewTempResult(st, arch.TypeI32, slot))
	b := s.Push(NewTempResult(st, arch.TypeI32, slot))

	var n int
	s.WalkRefSlot(slot, func(e *Element) {
		n++
		require.True(t, e == a || e == b)
	})
	require.Equal(t, 2, n)

	s.Erase(a)
	n = 0
	s.WalkRefSlot(slot, func(e *Element) { n++ })
	require.Equal(t, 1, n)
}

func TestStorageEquality(t *testing.T) {
	reg := Storage{Kind: StorageRegister, Register: 5}
	sameReg := Storage{Kind: StorageRegister, Register: 5}
	otherReg := Storage{Kind: StorageRegister, Register: 6}
	mem := Storage{Kind: StorageStackMemory, FrameOffset: 8}

	require.True(t, InSameLocation(reg, sameReg))
	require.False(t, InSameLocation(reg, otherReg))
	require.False(t, InSameLocation(reg, mem))

	// equals additionally requires matching machine types.
	require.True(t, Equals(reg, arch.TypeI32, sameReg, arch.TypeI32))
	require.False(t, Equals(reg, arch.TypeI32, sameReg, arch.TypeI64))
}
