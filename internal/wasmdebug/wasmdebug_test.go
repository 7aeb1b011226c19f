package wasmdebug

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFunctionLabel(t *testing.T) {
	n := NewNames(map[uint32]string{2: "inner"})
	require.Equal(t, "inner (2)", n.FunctionLabel(2))
	require.Equal(t, "function[7]", n.FunctionLabel(7))
}

func TestFunctionLabelWithoutNameSection(t *testing.T) {
	n := NewNames(nil)
	require.Equal(t, "function[0]", n.FunctionLabel(0))
}

func TestFormatStacktrace(t *testing.T) {
	n := NewNames(map[uint32]string{2: "inner", 0: "outer"})
	require.Equal(t, "inner (2) <- function[1] <- outer (0)", n.FormatStacktrace([]uint32{2, 1, 0}))
	require.Equal(t, "(no stacktrace)", n.FormatStacktrace(nil))
}
