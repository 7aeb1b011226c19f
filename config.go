package wasmforge

import (
	"runtime"

	"go.uber.org/zap"

	"github.com/wasmforge/wasmforge/internal/compiler"
	"github.com/wasmforge/wasmforge/internal/observ"
)

// Architecture selects the instruction set Compile targets. Compiling for an
// architecture other than the host's is supported; executing the result is
// not.
type Architecture = compiler.Architecture

const (
	AMD64   = compiler.AMD64
	ARM64   = compiler.ARM64
	TriCore = compiler.TriCore
)

// CompileConfig controls one Compile call, with the default implementation
// as NewCompileConfig.
type CompileConfig struct {
	arch                Architecture
	boundsChecked       bool
	emitDebugMap        bool
	stacktraceDepth     int
	allowUnknownImports bool
	logger              *observ.Logger
}

// defaultStacktraceDepth sizes the basedata stacktrace ring when the
// embedder doesn't override it: deep enough for real call graphs, small
// enough not to dominate basedata.
const defaultStacktraceDepth = 32

// NewCompileConfig targets the host architecture with linear-memory bounds
// checks compiled in and no debug map.
func NewCompileConfig() *CompileConfig {
	return &CompileConfig{
		arch:            hostArchitecture(),
		boundsChecked:   true,
		stacktraceDepth: defaultStacktraceDepth,
		logger:          observ.Nop(),
	}
}

// clone ensures all fields are copied even if zero.
func (c *CompileConfig) clone() *CompileConfig {
	ret := *c
	return &ret
}

// WithArchitecture selects the target instruction set. TriCore implies
// bounds checks regardless of WithBoundsChecks.
func (c *CompileConfig) WithArchitecture(a Architecture) *CompileConfig {
	ret := c.clone()
	ret.arch = a
	return ret
}

// WithBoundsChecks toggles the explicit compare-and-trap sequence on every
// linear-memory access. Disabling it relies on the MMU signal-handler
// fallback to convert a faulted access into the same trap, and is rejected
// at compile time for non-MMU targets.
func (c *CompileConfig) WithBoundsChecks(enabled bool) *CompileConfig {
	ret := c.clone()
	ret.boundsChecked = enabled
	return ret
}

// WithDebugMap requests the version-2 debug map byte stream alongside the
// code buffer.
func (c *CompileConfig) WithDebugMap(enabled bool) *CompileConfig {
	ret := c.clone()
	ret.emitDebugMap = enabled
	return ret
}

// WithStacktraceDepth sizes the basedata stacktrace ring: the maximum
// number of call frames a trap report can ever carry.
func (c *CompileConfig) WithStacktraceDepth(depth int) *CompileConfig {
	ret := c.clone()
	ret.stacktraceDepth = depth
	return ret
}

// WithAllowUnknownImports lets a module compile even when not every import
// matches a provided NativeSymbol; unmatched imports must then be bound
// dynamically at runtime init.
func (c *CompileConfig) WithAllowUnknownImports(enabled bool) *CompileConfig {
	ret := c.clone()
	ret.allowUnknownImports = enabled
	return ret
}

// WithLogger installs a structured logger for compile-phase diagnostics.
// Logging is off (a nop logger) by default.
func (c *CompileConfig) WithLogger(z *zap.Logger) *CompileConfig {
	ret := c.clone()
	ret.logger = observ.Wrap(z)
	return ret
}

func hostArchitecture() Architecture {
	switch runtime.GOARCH {
	case "arm64":
		return ARM64
	default:
		return AMD64
	}
}

// RuntimeConfig controls one Runtime instantiation, with the default
// implementation as NewRuntimeConfig.
type RuntimeConfig struct {
	memoryLimitPages uint32
	allocator        Allocator
	customContext    uintptr
	memoryHelper     uintptr
	logger           *observ.Logger
}

// memoryLimitPagesDefault caps linear memory at the Wasm 1.0 ceiling
// (65536 pages = 4GiB) when neither the module nor the embedder lowers it.
const memoryLimitPagesDefault = 1 << 16

// NewRuntimeConfig uses an in-process Go allocator for job memory and the
// Wasm maximum-page ceiling.
func NewRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		memoryLimitPages: memoryLimitPagesDefault,
		logger:           observ.Nop(),
	}
}

// clone ensures all fields are copied even if zero.
func (c *RuntimeConfig) clone() *RuntimeConfig {
	ret := *c
	return &ret
}

// WithMemoryLimitPages lowers the maximum linear memory size below the
// module's own declared maximum. memory.grow beyond the lower of the two
// fails (returns -1 to the guest) rather than erroring.
func (c *RuntimeConfig) WithMemoryLimitPages(pages uint32) *RuntimeConfig {
	ret := c.clone()
	ret.memoryLimitPages = pages
	return ret
}

// WithAllocator supplies the job-memory source. Defaults to an in-process
// allocator backed by ordinary Go memory.
func (c *RuntimeConfig) WithAllocator(a Allocator) *RuntimeConfig {
	ret := c.clone()
	ret.allocator = a
	return ret
}

// WithRealloc adapts a realloc-style callback into an Allocator, for
// embedders that own job memory placement themselves.
func (c *RuntimeConfig) WithRealloc(realloc ReallocFunc) *RuntimeConfig {
	ret := c.clone()
	ret.allocator = &reallocAllocator{realloc: realloc}
	return ret
}

// WithCustomContext stores an opaque value in the basedata custom-context
// slot, where imported host functions can read it back.
func (c *RuntimeConfig) WithCustomContext(ctx uintptr) *RuntimeConfig {
	ret := c.clone()
	ret.customContext = ctx
	return ret
}

// WithMemoryHelper installs the native entry point memory.grow sites call
// through the basedata memory-helper slot. Embedders that never run guest
// code containing memory.grow, or that grow exclusively through
// Runtime.Grow from the host side, can leave this unset; a guest-side grow
// attempt then traps instead of growing.
func (c *RuntimeConfig) WithMemoryHelper(entry uintptr) *RuntimeConfig {
	ret := c.clone()
	ret.memoryHelper = entry
	return ret
}

// WithLogger installs a structured logger for runtime diagnostics (trap
// occurrences, growth, interruption). Logging is off by default.
func (c *RuntimeConfig) WithLogger(z *zap.Logger) *RuntimeConfig {
	ret := c.clone()
	ret.logger = observ.Wrap(z)
	return ret
}
