package regalloc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasmforge/wasmforge/internal/arch"
	"github.com/wasmforge/wasmforge/internal/opstack"
)

var testFiles = map[Class][]arch.Register{
	ClassGeneralPurpose: {1, 2, 3},
	ClassVector:         {10, 11},
}

func gpOf(arch.Register) Class { return ClassGeneralPurpose }

func newTestAllocator(t *testing.T) (*Allocator, *opstack.Stack) {
	t.Helper()
	s := opstack.New()
	a := New(s, testFiles, nil)
	a.SpillTemp = func(*opstack.Element) opstack.Storage {
		return opstack.Storage{Kind: opstack.StorageStackMemory, FrameOffset: 64}
	}
	a.SpillLocal = func(*opstack.Element) opstack.Storage {
		return opstack.Storage{Kind: opstack.StorageStackMemory, FrameOffset: 0}
	}
	return a, s
}

func TestRequestScratchPrefersHint(t *testing.T) {
	a, s := newTestAllocator(t)
	r, err := a.RequestScratch(ClassGeneralPurpose, 2, gpOf)
	require.NoError(t, err)
	require.Equal(t, arch.Register(2), r)
	require.True(t, s.IsRegisterUsed(2))
}

func TestRequestScratchIgnoresBusyHint(t *testing.T) {
	a, s := newTestAllocator(t)
	s.Push(opstack.NewScratchRegister(2, arch.TypeI32))

	r, err := a.RequestScratch(ClassGeneralPurpose, 2, gpOf)
	require.NoError(t, err)
	require.NotEqual(t, arch.Register(2), r)
}

func TestRequestScratchIgnoresProtectedHint(t *testing.T) {
	s := opstack.New()
	a := New(s, testFiles, []arch.Register{2})
	r, err := a.RequestScratch(ClassGeneralPurpose, 2, gpOf)
	require.NoError(t, err)
	require.NotEqual(t, arch.Register(2), r)
}

func TestRequestScratchEvictsOldestScratch(t *testing.T) {
	a, s := newTestAllocator(t)
	oldest := s.Push(opstack.NewScratchRegister(1, arch.TypeI32))
	s.Push(opstack.NewScratchRegister(2, arch.TypeI32))
	s.Push(opstack.NewScratchRegister(3, arch.TypeI32))

	r, err := a.RequestScratch(ClassGeneralPurpose, arch.NilRegister, gpOf)
	require.NoError(t, err)
	require.Equal(t, arch.Register(1), r)
	// The evicted element is gone from the stack.
	require.Equal(t, 2, s.Len())
	require.NotSame(t, oldest, s.Peek(0))
	require.NotSame(t, oldest, s.Peek(1))
}

func TestRequestScratchEvictsTempAndRetargetsReferences(t *testing.T) {
	a, s := newTestAllocator(t)
	slot := s.NewTempSlot()
	regStorage := opstack.Storage{Kind: opstack.StorageRegister, Register: 1}
	e1 := s.Push(opstack.NewTempResult(regStorage, arch.TypeI32, slot))
	e2 := s.Push(opstack.NewTempResult(regStorage, arch.TypeI32, slot))
	s.Push(opstack.NewScratchRegister(2, arch.TypeI32))
	s.Push(opstack.NewScratchRegister(3, arch.TypeI32))

	// r1 is held by a spillable temp and scanned first (bottom-up).
	r, err := a.RequestScratch(ClassGeneralPurpose, arch.NilRegister, gpOf)
	require.NoError(t, err)
	require.Equal(t, arch.Register(1), r)

	// Every reference to the spilled temp now points at its frame slot.
	for _, e := range []*opstack.Element{e1, e2} {
		require.Equal(t, opstack.StorageStackMemory, e.Storage.Kind)
		require.Equal(t, int32(64), e.Storage.FrameOffset)
	}
}

func TestReadProtectionBlocksEviction(t *testing.T) {
	a, s := newTestAllocator(t)
	s.Push(opstack.NewScratchRegister(1, arch.TypeI32))
	s.Push(opstack.NewScratchRegister(2, arch.TypeI32))
	s.Push(opstack.NewScratchRegister(3, arch.TypeI32))

	release := a.ProtectReads(1)
	r, err := a.RequestScratch(ClassGeneralPurpose, arch.NilRegister, gpOf)
	require.NoError(t, err)
	require.Equal(t, arch.Register(2), r)

	release()
	r, err = a.RequestScratch(ClassGeneralPurpose, arch.NilRegister, gpOf)
	require.NoError(t, err)
	require.Equal(t, arch.Register(1), r)
}

func TestRequestScratchExhausted(t *testing.T) {
	a, s := newTestAllocator(t)
	for _, r := range testFiles[ClassGeneralPurpose] {
		s.Push(opstack.NewScratchRegister(r, arch.TypeI32))
	}
	release := a.ProtectReads(testFiles[ClassGeneralPurpose]...)
	defer release()

	_, err := a.RequestScratch(ClassGeneralPurpose, arch.NilRegister, gpOf)
	require.Error(t, err)
}

func TestRelease(t *testing.T) {
	a, s := newTestAllocator(t)
	r, err := a.RequestScratch(ClassGeneralPurpose, arch.NilRegister, gpOf)
	require.NoError(t, err)
	a.Release(r)
	require.False(t, s.IsRegisterUsed(r))
}
