// Package trap implements the trap and signal bridge: it maps host signals
// and explicit generated-code traps to the typed Exception failure, and
// owns the stack-unwind target a trapping call returns through.
package trap

import (
	"errors"
	"fmt"

	"github.com/wasmforge/wasmforge/internal/arch"
)

// Exception is raised by any Wasm call that traps or is interrupted.
type Exception struct {
	Code arch.TrapCode
	// Stacktrace holds the partial innermost-to-outermost function index
	// chain recovered from the basedata stacktrace ring at the moment of
	// trap.
	Stacktrace []uint32
}

func (e *Exception) Error() string {
	return fmt.Sprintf("wasm trap: %s", e.Code)
}

// Is lets errors.Is(err, trap.ErrAny) match any *Exception regardless of
// code, and lets a specific code be matched via errors.Is against a
// zero-stacktrace Exception built with New.
func (e *Exception) Is(target error) bool {
	other, ok := target.(*Exception)
	if !ok {
		return false
	}
	return other.Code == 0 || other.Code == e.Code
}

// New builds an Exception with no stacktrace attached, usable as an
// errors.Is target: errors.Is(err, trap.New(arch.TrapOutOfBoundsMemoryAccess)).
func New(code arch.TrapCode) *Exception { return &Exception{Code: code} }

// Sentinel runtime failures that are not trap codes.
var (
	ErrMemoryOutOfRange  = errors.New("wasmforge: memory region out of range")
	ErrFunctionNotFound  = errors.New("wasmforge: exported function not found")
	ErrGlobalNotFound    = errors.New("wasmforge: exported global not found")
	ErrGlobalIsImmutable = errors.New("wasmforge: global is immutable")
	ErrGlobalTypeMismatch = errors.New("wasmforge: global type mismatch")
)

// SignalBridge wraps a native call into generated code so that a host
// signal (SIGSEGV on a non-bounds-checked out-of-bounds access, SIGFPE on
// an untrapped integer division) arriving during the call is converted to
// the same *Exception a compiled trap stub would have produced, instead of
// crashing the host process. The concrete signal-handler installation is
// platform-specific and lives in internal/platform in the full build; here
// it is exposed as a seam the runtime package drives.
type SignalBridge struct {
	// Translate maps a recovered host signal number to the trap code the
	// MMU fallback path should report; architectures with bounds checks
	// always compiled in (TriCore) never install this handler at all.
	Translate func(signal int) (arch.TrapCode, bool)
}

// Guard invokes fn (the call into generated code) and converts a recovered
// signal-derived panic into an *Exception, so an MMU fallback fault reports
// the same trap code a compiled bounds check would have produced.
func (sb *SignalBridge) Guard(fn func() (trapCode arch.TrapCode, stack []uint32)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			sig, ok := r.(signalPanic)
			if !ok {
				panic(r)
			}
			code, known := sb.Translate(sig.signal)
			if !known {
				code = arch.TrapOutOfBoundsMemoryAccess
			}
			err = &Exception{Code: code}
		}
	}()
	code, stack := fn()
	if code == arch.TrapNone {
		return nil
	}
	return &Exception{Code: code, Stacktrace: stack}
}

// signalPanic is the value a platform-specific signal handler recovers
// from; kept unexported since only internal/platform code ever raises one.
type signalPanic struct{ signal int }
