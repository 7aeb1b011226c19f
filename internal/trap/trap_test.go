package trap

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasmforge/wasmforge/internal/arch"
)

func TestExceptionErrorsIs(t *testing.T) {
	err := &Exception{Code: arch.TrapOutOfBoundsMemoryAccess, Stacktrace: []uint32{2, 1, 0}}

	require.True(t, errors.Is(err, New(arch.TrapOutOfBoundsMemoryAccess)))
	require.False(t, errors.Is(err, New(arch.TrapUnreachable)))
	// A zero-code target matches any trap.
	require.True(t, errors.Is(err, &Exception{}))
}

func TestExceptionErrorsAsRecoversStacktrace(t *testing.T) {
	var wrapped error = &Exception{Code: arch.TrapUnreachable, Stacktrace: []uint32{5}}

	var ex *Exception
	require.True(t, errors.As(wrapped, &ex))
	require.Equal(t, arch.TrapUnreachable, ex.Code)
	require.Equal(t, []uint32{5}, ex.Stacktrace)
}

func TestExceptionMessage(t *testing.T) {
	err := &Exception{Code: arch.TrapIntegerDivideByZero}
	require.EqualError(t, err, "wasm trap: integer divide by zero")
}

func TestGuardPassesThroughCleanReturn(t *testing.T) {
	sb := &SignalBridge{Translate: func(int) (arch.TrapCode, bool) { return 0, false }}
	err := sb.Guard(func() (arch.TrapCode, []uint32) { return arch.TrapNone, nil })
	require.NoError(t, err)
}

func TestGuardConvertsTrapCode(t *testing.T) {
	sb := &SignalBridge{Translate: func(int) (arch.TrapCode, bool) { return 0, false }}
	err := sb.Guard(func() (arch.TrapCode, []uint32) {
		return arch.TrapIndirectCallTypeMismatch, []uint32{3, 1}
	})

	var ex *Exception
	require.ErrorAs(t, err, &ex)
	require.Equal(t, arch.TrapIndirectCallTypeMismatch, ex.Code)
	require.Equal(t, []uint32{3, 1}, ex.Stacktrace)
}

func TestGuardRepanicsForeignPanics(t *testing.T) {
	sb := &SignalBridge{Translate: func(int) (arch.TrapCode, bool) { return 0, false }}
	require.Panics(t, func() {
		_ = sb.Guard(func() (arch.TrapCode, []uint32) { panic("unrelated") })
	})
}
