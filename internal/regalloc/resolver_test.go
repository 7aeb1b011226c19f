package regalloc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasmforge/wasmforge/internal/arch"
)

// simulate replays the emitted move/swap sequence over a register file
// seeded so register r holds value r, and returns the final contents.
type simulator struct {
	regs  map[arch.Register]int64
	moves int
	swaps int
}

func newSimulator(regs ...arch.Register) *simulator {
	s := &simulator{regs: map[arch.Register]int64{}}
	for _, r := range regs {
		s.regs[r] = int64(r)
	}
	return s
}

func (s *simulator) move(target, source arch.Register) {
	s.regs[target] = s.regs[source]
	s.moves++
}

func (s *simulator) swap(a, b arch.Register) {
	s.regs[a], s.regs[b] = s.regs[b], s.regs[a]
	s.swaps++
}

// requireResolved checks the defining law: every target ends up holding the
// ORIGINAL value of its source.
func requireResolved(t *testing.T, s *simulator, moves []Move) {
	t.Helper()
	for _, m := range moves {
		if m.Source == arch.NilRegister {
			continue
		}
		require.Equal(t, int64(m.Source), s.regs[m.Target],
			"target r%d should hold original value of r%d", m.Target, m.Source)
	}
}

func TestResolveStraightLine(t *testing.T) {
	// 3->2, 2->1: must emit 2->1 before 3->2.
	moves := []Move{
		{Target: 1, Source: 2},
		{Target: 2, Source: 3},
	}
	s := newSimulator(1, 2, 3)
	require.NoError(t, Resolve(moves, s.move, s.swap, arch.Register(9)))
	requireResolved(t, s, moves)
	require.Zero(t, s.swaps)
}

func TestResolveAlreadyInPlace(t *testing.T) {
	moves := []Move{{Target: 1, Source: 1}}
	s := newSimulator(1)
	require.NoError(t, Resolve(moves, s.move, s.swap, arch.Register(9)))
	require.Zero(t, s.moves)
	require.Zero(t, s.swaps)
}

func TestResolveTwoCycle(t *testing.T) {
	moves := []Move{
		{Target: 1, Source: 2},
		{Target: 2, Source: 1},
	}
	s := newSimulator(1, 2)
	require.NoError(t, Resolve(moves, s.move, s.swap, arch.Register(9)))
	requireResolved(t, s, moves)
	// A cycle of length n takes exactly n-1 swaps.
	require.Equal(t, 1, s.swaps)
}

func TestResolveThreeCycle(t *testing.T) {
	moves := []Move{
		{Target: 1, Source: 2},
		{Target: 2, Source: 3},
		{Target: 3, Source: 1},
	}
	s := newSimulator(1, 2, 3)
	require.NoError(t, Resolve(moves, s.move, s.swap, arch.Register(9)))
	requireResolved(t, s, moves)
	require.Equal(t, 2, s.swaps)
}

func TestResolveCycleWithoutNativeSwap(t *testing.T) {
	moves := []Move{
		{Target: 1, Source: 2},
		{Target: 2, Source: 1},
	}
	const scratch = arch.Register(9)
	s := newSimulator(1, 2, scratch)
	require.NoError(t, Resolve(moves, s.move, nil, scratch))
	requireResolved(t, s, moves)
	require.Zero(t, s.swaps)
}

func TestResolveMixedChainAndCycle(t *testing.T) {
	moves := []Move{
		{Target: 1, Source: 2},
		{Target: 2, Source: 1}, // cycle with the first
		{Target: 3, Source: 1}, // chain reading the cycle's register
	}
	s := newSimulator(1, 2, 3)
	require.NoError(t, Resolve(moves, s.move, s.swap, arch.Register(9)))
	requireResolved(t, s, moves)
}

func TestResolveNonRegisterSourceOrdering(t *testing.T) {
	// Target 2 receives a constant (materialized by the caller, not the
	// resolver); register move 1<-2 must drain before 2 is declared free.
	moves := []Move{
		{Target: 1, Source: 2},
		{Target: 2, Source: arch.NilRegister},
	}
	s := newSimulator(1, 2)
	require.NoError(t, Resolve(moves, s.move, s.swap, arch.Register(9)))
	require.Equal(t, int64(2), s.regs[1])
}
