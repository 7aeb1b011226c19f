//go:build !arm64

package exec

// flushInstructionCache is a no-op on amd64: x86-64 guarantees instruction
// and data cache coherency for self-modifying/newly-written code, so no
// explicit flush is needed before execution.
func flushInstructionCache(region []byte) {}
