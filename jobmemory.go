package wasmforge

import (
	"errors"

	"github.com/wasmforge/wasmforge/internal/wasm"
)

// ErrOutOfMemory is returned when the job-memory source cannot satisfy an
// allocation or growth request.
var ErrOutOfMemory = errors.New("wasmforge: job memory allocation failed")

// Allocator supplies and grows one Runtime's job memory: the contiguous
// region holding basedata immediately followed by Wasm linear memory.
// Growth may move the region; the Runtime refetches Base after any
// operation that can grow.
type Allocator interface {
	// Init allocates the region for baseDataLen bytes of basedata plus
	// initialPages 64KiB pages of linear memory, zero-filled.
	Init(baseDataLen, initialPages uint32) ([]byte, error)
	// Extend grows linear memory to totalPages pages, preserving contents
	// and zero-filling the new tail. Reports whether the request was
	// satisfied; the region may have moved either way.
	Extend(totalPages uint32) bool
	// Shrink releases backing memory beyond minLen bytes of linear memory.
	// Best-effort: failure is reported, never fatal.
	Shrink(minLen uint32) bool
	// Probe reports whether the linear-memory byte at offset is backed by
	// committed memory, for builds that validate regions without a cached
	// size (no explicit bounds checks compiled in).
	Probe(offset uint32) bool
	// GetLinearMemorySize returns the current byte size of the linear
	// memory portion.
	GetLinearMemorySize(baseDataLen uint32) uint32
	// Base returns the current region. Callers must refetch after Init,
	// Extend, or Shrink.
	Base() []byte
}

// ReallocFunc is the realloc-style job-memory callback shape: given the
// current region (nil on first call) and a minimum total length, return a
// region of at least that length with the prior contents preserved, or nil
// on failure.
type ReallocFunc func(current []byte, minLength uint32) []byte

// goAllocator is the default Allocator: plain Go memory, growth by
// reallocate-and-copy when capacity runs out.
type goAllocator struct {
	buf         []byte
	baseDataLen uint32
}

func (a *goAllocator) Init(baseDataLen, initialPages uint32) ([]byte, error) {
	a.baseDataLen = baseDataLen
	a.buf = make([]byte, uint64(baseDataLen)+uint64(initialPages)*wasm.WasmPageSize)
	return a.buf, nil
}

func (a *goAllocator) Extend(totalPages uint32) bool {
	need := uint64(a.baseDataLen) + uint64(totalPages)*wasm.WasmPageSize
	if need > uint64(^uint32(0)) {
		return false
	}
	if uint64(cap(a.buf)) >= need {
		// The reslice exposes previously allocated capacity, which append
		// never wrote: still zero.
		a.buf = a.buf[:need]
		return true
	}
	grown := make([]byte, need)
	copy(grown, a.buf)
	a.buf = grown
	return true
}

func (a *goAllocator) Shrink(minLen uint32) bool {
	need := uint64(a.baseDataLen) + uint64(minLen)
	if uint64(len(a.buf)) <= need {
		return true
	}
	// Keep capacity; a later Extend reuses it. Released-then-regrown bytes
	// must read zero, so clear the tail being given up.
	tail := a.buf[need:]
	for i := range tail {
		tail[i] = 0
	}
	a.buf = a.buf[:need]
	return true
}

func (a *goAllocator) Probe(offset uint32) bool {
	return uint64(a.baseDataLen)+uint64(offset) < uint64(len(a.buf))
}

func (a *goAllocator) GetLinearMemorySize(baseDataLen uint32) uint32 {
	return uint32(len(a.buf)) - baseDataLen
}

func (a *goAllocator) Base() []byte { return a.buf }

// reallocAllocator adapts a ReallocFunc into an Allocator for embedders
// that own job-memory placement themselves.
type reallocAllocator struct {
	realloc     ReallocFunc
	buf         []byte
	baseDataLen uint32
}

func (a *reallocAllocator) Init(baseDataLen, initialPages uint32) ([]byte, error) {
	a.baseDataLen = baseDataLen
	need := uint64(baseDataLen) + uint64(initialPages)*wasm.WasmPageSize
	if need > uint64(^uint32(0)) {
		return nil, ErrOutOfMemory
	}
	buf := a.realloc(nil, uint32(need))
	if buf == nil {
		return nil, ErrOutOfMemory
	}
	// The callback's contract does not include zero-filling.
	for i := range buf[:need] {
		buf[i] = 0
	}
	a.buf = buf[:need]
	return a.buf, nil
}

func (a *reallocAllocator) Extend(totalPages uint32) bool {
	need := uint64(a.baseDataLen) + uint64(totalPages)*wasm.WasmPageSize
	if need > uint64(^uint32(0)) {
		return false
	}
	prevLen := len(a.buf)
	buf := a.realloc(a.buf, uint32(need))
	if buf == nil {
		return false
	}
	buf = buf[:need]
	tail := buf[prevLen:]
	for i := range tail {
		tail[i] = 0
	}
	a.buf = buf
	return true
}

func (a *reallocAllocator) Shrink(minLen uint32) bool {
	// The realloc contract only guarantees growth; shrinking is declined
	// rather than risking a callback that misinterprets a smaller request.
	return false
}

func (a *reallocAllocator) Probe(offset uint32) bool {
	return uint64(a.baseDataLen)+uint64(offset) < uint64(len(a.buf))
}

func (a *reallocAllocator) GetLinearMemorySize(baseDataLen uint32) uint32 {
	return uint32(len(a.buf)) - baseDataLen
}

func (a *reallocAllocator) Base() []byte { return a.buf }
