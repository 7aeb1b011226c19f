//go:build amd64 || arm64

package wasmforge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wasmforge/wasmforge/internal/arch"
	"github.com/wasmforge/wasmforge/internal/trap"
)

// These tests run generated machine code on the host, end to end through
// the W^X mapping, the nativecall entry stub, and the trap bridge; the
// build tag keeps them to the two architectures with an entry stub.

func TestExecuteAdd(t *testing.T) {
	rt := newRuntimeFixture(t, addModule())
	add, err := rt.ExportedFunction("add")
	require.NoError(t, err)

	results, err := add.Call(context.Background(), 2, 3)
	require.NoError(t, err)
	require.Equal(t, []uint64{5}, results)

	results, err = add.Call(context.Background(), uint64(uint32(0xFFFFFFFF)), 1)
	require.NoError(t, err)
	require.Equal(t, uint32(0), uint32(results[0]))
}

func TestExecuteOutOfBoundsTrap(t *testing.T) {
	rt := newRuntimeFixture(t, memoryModule())
	peek, err := rt.ExportedFunction("peek")
	require.NoError(t, err)

	results, err := peek.Call(context.Background(), 0)
	require.NoError(t, err)
	require.Zero(t, results[0])

	_, err = peek.Call(context.Background(), 65536)
	require.ErrorIs(t, err, trap.New(arch.TrapOutOfBoundsMemoryAccess))

	// The runtime stays usable after a caught trap.
	_, err = peek.Call(context.Background(), 0)
	require.NoError(t, err)
}

// loopModule exports (func (export "spin") (loop br 0)).
func loopModule() []byte {
	return moduleBytes(
		section(1, 0x01, 0x60, 0x00, 0x00),
		section(3, 0x01, 0x00),
		section(7, 0x01, 0x04, 's', 'p', 'i', 'n', 0x00, 0x00),
		section(10, 0x01, 0x07, 0x00, 0x03, 0x40, 0x0c, 0x00, 0x0b, 0x0b),
	)
}

func TestExecuteInterruption(t *testing.T) {
	rt := newRuntimeFixture(t, loopModule())
	spin, err := rt.ExportedFunction("spin")
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		rt.RequestInterruption(arch.TrapRuntimeInterruptRequested)
	}()

	done := make(chan error, 1)
	go func() {
		_, callErr := spin.Call(context.Background())
		done <- callErr
	}()

	select {
	case err := <-done:
		require.ErrorIs(t, err, trap.New(arch.TrapRuntimeInterruptRequested))
	case <-time.After(10 * time.Second):
		t.Fatal("interruption was not observed")
	}
}

// chainModule is a three-function chain whose innermost executes
// unreachable: f2 -> f1 -> f0(unreachable); f2 is exported as "go".
func chainModule() []byte {
	return moduleBytes(
		section(1, 0x01, 0x60, 0x00, 0x00),
		section(3, 0x03, 0x00, 0x00, 0x00),
		section(7, 0x01, 0x02, 'g', 'o', 0x00, 0x02),
		section(10, 0x03,
			0x03, 0x00, 0x00, 0x0b, // f0: unreachable
			0x04, 0x00, 0x10, 0x00, 0x0b, // f1: call 0
			0x04, 0x00, 0x10, 0x01, 0x0b), // f2: call 1
	)
}

func TestExecuteStacktraceOrder(t *testing.T) {
	rt := newRuntimeFixture(t, chainModule())
	entry, err := rt.ExportedFunction("go")
	require.NoError(t, err)

	_, err = entry.Call(context.Background())
	var ex *trap.Exception
	require.ErrorAs(t, err, &ex)
	require.Equal(t, arch.TrapUnreachable, ex.Code)
	// Innermost to outermost.
	require.Equal(t, []uint32{0, 1, 2}, ex.Stacktrace)
}
