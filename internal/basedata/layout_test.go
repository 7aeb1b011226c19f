package basedata

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFixedFieldOffsetsAreDistinctAlignedWords(t *testing.T) {
	offsets := []int64{
		StatusFlagsOffset,
		ActualSizeOffset,
		MemoryHelperOffset,
		TrapHandlerOffset,
		StackUnwindOffset,
		CustomContextOffset,
		RuntimeBackrefOffset,
		LastFrameOffset,
		TrapCodeOffset,
		StackFenceOffset,
	}
	require.Len(t, offsets, FixedFieldCount)

	seen := map[int64]bool{}
	for _, off := range offsets {
		require.Negative(t, off)
		require.Zero(t, off%8, "offset %d must be 8-byte aligned", off)
		require.False(t, seen[off], "offset %d assigned twice", off)
		seen[off] = true
	}
}

func TestStacktraceRingSitsBelowFixedFields(t *testing.T) {
	const depth = 4
	ring := StacktraceRingOffset(depth)
	require.Less(t, ring, int64(TrapCodeOffset))
	require.Equal(t, int64(-FixedFieldCount*8)-int64(depth*RecordSlots()*8), ring)
}

func TestTotalSizeCoversRingAndFixedFields(t *testing.T) {
	require.Equal(t, int64(FixedFieldCount*8), TotalSize(0))
	require.Equal(t, -StacktraceRingOffset(6), TotalSize(6))
}
