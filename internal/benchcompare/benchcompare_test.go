package benchcompare

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// addWasm is (func (export "add") (param i32 i32) (result i32)
// local.get 0 local.get 1 i32.add).
var addWasm = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x07, 0x01, 0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f,
	0x03, 0x02, 0x01, 0x00,
	0x07, 0x07, 0x01, 0x03, 'a', 'd', 'd', 0x00, 0x00,
	0x0a, 0x09, 0x01, 0x07, 0x00, 0x20, 0x00, 0x20, 0x01, 0x6a, 0x0b,
}

func TestReferenceEnginesAgree(t *testing.T) {
	if os.Getenv("WASMFORGE_EXEC_TESTS") == "" {
		t.Skip("set WASMFORGE_EXEC_TESTS=1 to run reference-engine cross-checks")
	}
	wt, wr, err := Call(addWasm, "add", 2, 3)
	require.NoError(t, err)
	require.Equal(t, int32(5), wt)
	require.Equal(t, int32(5), wr)
}
