package exec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocateCopiesCode(t *testing.T) {
	code := []byte{0xc3, 0x90, 0x90}
	m, err := Allocate(code, false)
	require.NoError(t, err)
	defer m.Free()

	require.Equal(t, code, m.Bytes())
	require.NoError(t, m.Finalize())
	require.Equal(t, code, m.Bytes())
}

func TestAllocateNonMMUSkipsRemap(t *testing.T) {
	m, err := Allocate([]byte{0xc3}, true)
	require.NoError(t, err)
	defer m.Free()
	require.NoError(t, m.Finalize())
}

func TestFreeRejectsDoubleFree(t *testing.T) {
	m, err := Allocate([]byte{0xc3}, false)
	require.NoError(t, err)
	require.NoError(t, m.Free())
	require.Error(t, m.Free())
}
