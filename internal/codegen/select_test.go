package codegen

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasmforge/wasmforge/internal/arch"
)

func TestSelectInstrPicksLowestCost(t *testing.T) {
	cands := []candidate{
		{Instr: 1, Cost: 4},
		{Instr: 2, Cost: 2},
		{Instr: 3, Cost: 7},
	}
	best, swapped := selectInstr(cands, false)
	require.Equal(t, arch.Instruction(2), best.Instr)
	require.False(t, swapped)
}

func TestSelectInstrFiltersDestConstrainedForms(t *testing.T) {
	cands := []candidate{
		{Instr: 1, Cost: 1, DestMustEqualArg0: true}, // cheapest but unusable
		{Instr: 2, Cost: 3},
	}
	best, swapped := selectInstr(cands, false)
	require.Equal(t, arch.Instruction(2), best.Instr)
	require.False(t, swapped)

	// With dest == arg0 the constrained form becomes the winner.
	best, swapped = selectInstr(cands, true)
	require.Equal(t, arch.Instruction(1), best.Instr)
	require.False(t, swapped)
}

func TestSelectInstrSwapsCommutativeOperands(t *testing.T) {
	cands := []candidate{
		{Instr: 1, Cost: 1, DestMustEqualArg0: true, Commutative: true},
		{Instr: 2, Cost: 3},
	}
	best, swapped := selectInstr(cands, false)
	require.Equal(t, arch.Instruction(1), best.Instr)
	require.True(t, swapped)
}

func TestSimpleCandidates(t *testing.T) {
	cands := simpleCandidates([]arch.Instruction{4, 5}, true)
	require.Len(t, cands, 2)
	for _, c := range cands {
		require.Equal(t, 1, c.Cost)
		require.True(t, c.Commutative)
		require.False(t, c.DestMustEqualArg0)
	}
}
