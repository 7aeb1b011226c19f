package wasmforge

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"go.uber.org/zap"

	"github.com/wasmforge/wasmforge/internal/arch"
	"github.com/wasmforge/wasmforge/internal/basedata"
	"github.com/wasmforge/wasmforge/internal/compiler"
	"github.com/wasmforge/wasmforge/internal/exec"
	"github.com/wasmforge/wasmforge/internal/observ"
	"github.com/wasmforge/wasmforge/internal/trap"
	"github.com/wasmforge/wasmforge/internal/wasm"
	"github.com/wasmforge/wasmforge/internal/wasmdebug"
)

// ErrStaticSymbolAtRuntime rejects a NativeSymbol with Static linkage
// passed to NewRuntime: statically linked symbols are strictly a
// compile-time input, so a runtime-supplied one is an interface misuse, not
// a late binding.
var ErrStaticSymbolAtRuntime = errors.New("wasmforge: statically linked symbol supplied at runtime init")

// ErrClosed is returned by any call against a Runtime after Close.
var ErrClosed = errors.New("wasmforge: runtime is closed")

// Runtime owns one instantiation of a CompiledModule: its executable code
// mapping, its job memory (basedata plus linear memory), and its resolved
// dynamic imports. A Runtime is entered by at most one host goroutine at a
// time for the duration of a Wasm call; RequestInterruption is the one
// method safe to call concurrently with a running call.
type Runtime struct {
	compiled *CompiledModule
	execMem  *exec.Memory
	alloc    Allocator
	log      *observ.Logger

	job       []byte
	linearOff uint32 // byte offset of linear memory within job; also the basedata length
	pages     uint32
	maxPages  uint32

	boundsChecked bool
	startDone     bool
	closed        bool

	linkedMem []byte

	// growMu serializes memory growth with the interruption write.
	growMu sync.Mutex

	bridge     *trap.SignalBridge
	backrefID  uint64
	customCtx  uintptr
	debugNames *wasmdebug.Names
}

// backrefs maps the id stored in the basedata runtime back-reference slot
// to the owning Runtime, so trampolines and the trap handler can recover
// Go-side state from a plain integer instead of a pinned Go pointer.
var backrefs = struct {
	sync.Mutex
	next uint64
	m    map[uint64]*Runtime
}{m: map[uint64]*Runtime{}}

// NewRuntime maps compiled's code executable, allocates job memory sized
// for basedata plus the module's initial linear memory, writes the basedata
// fields, resolves dynamic imports against symbols by (moduleName, symbol,
// signature), and initializes globals, tables, and data segments. The start
// function, if any, is only queued; it runs on the first Start call.
func NewRuntime(compiled *CompiledModule, symbols []NativeSymbol, cfg *RuntimeConfig) (*Runtime, error) {
	if cfg == nil {
		cfg = NewRuntimeConfig()
	}
	for _, s := range symbols {
		if s.Linkage == Static {
			return nil, fmt.Errorf("%w: %s.%s", ErrStaticSymbolAtRuntime, s.ModuleName, s.Symbol)
		}
	}

	h := &compiled.header
	nonMMU := compiled.arch == TriCore
	execMem, err := exec.Allocate(compiled.code, nonMMU)
	if err != nil {
		return nil, err
	}
	if err := execMem.Finalize(); err != nil {
		_ = execMem.Free()
		return nil, err
	}

	alloc := cfg.allocator
	if alloc == nil {
		alloc = &goAllocator{}
	}

	basedataLen := h.LinkDataLength + uint32(basedata.TotalSize(int(h.StacktraceRecordCount)))
	var pages, maxPages uint32
	if h.Memory != nil {
		pages = h.Memory.Min
		maxPages = h.Memory.MaxPages
	}
	if maxPages > cfg.memoryLimitPages {
		maxPages = cfg.memoryLimitPages
	}
	job, err := alloc.Init(basedataLen, pages)
	if err != nil {
		_ = execMem.Free()
		return nil, err
	}

	r := &Runtime{
		compiled:      compiled,
		execMem:       execMem,
		alloc:         alloc,
		log:           cfg.logger,
		job:           job,
		linearOff:     basedataLen,
		pages:         pages,
		maxPages:      maxPages,
		boundsChecked: compiled.boundsChecked,
		customCtx:     cfg.customContext,
		debugNames:    wasmdebug.NewNames(h.FunctionNames),
		bridge: &trap.SignalBridge{
			Translate: func(signal int) (arch.TrapCode, bool) {
				return arch.TrapOutOfBoundsMemoryAccess, true
			},
		},
	}

	backrefs.Lock()
	backrefs.next++
	r.backrefID = backrefs.next
	backrefs.m[r.backrefID] = r
	backrefs.Unlock()

	r.initBasedata(cfg)
	r.initGlobals()
	if err := r.linkImports(symbols); err != nil {
		r.unregister()
		_ = execMem.Free()
		return nil, err
	}
	r.initTables()
	if err := r.initData(); err != nil {
		r.unregister()
		_ = execMem.Free()
		return nil, err
	}

	r.log.Debug("runtime initialized",
		zap.Uint32("basedataLen", basedataLen),
		zap.Uint32("pages", pages),
		zap.Uint32("maxPages", maxPages))
	return r, nil
}

func (r *Runtime) codeBase() uintptr {
	return uintptr(unsafe.Pointer(&r.execMem.Bytes()[0]))
}

func (r *Runtime) linMemBase() uintptr {
	return uintptr(unsafe.Pointer(&r.job[0])) + uintptr(r.linearOff)
}

// basedata word access: every field is an 8-byte little-endian word at a
// negative offset from the linear-memory base.
func (r *Runtime) basedataIndex(off int64) uint32 {
	return uint32(int64(r.linearOff) + off)
}

func (r *Runtime) setBasedataWord(off int64, v uint64) {
	putU64(r.job[r.basedataIndex(off):], v)
}

func (r *Runtime) basedataWord(off int64) uint64 {
	return getU64(r.job[r.basedataIndex(off):])
}

// statusWord returns the status-flags slot as an atomically accessible
// word. Job memory is 8-byte aligned and every basedata offset is a
// multiple of 8, so the cast is always aligned.
func (r *Runtime) statusWord() *uint64 {
	return (*uint64)(unsafe.Pointer(&r.job[r.basedataIndex(basedata.StatusFlagsOffset)]))
}

func (r *Runtime) initBasedata(cfg *RuntimeConfig) {
	h := &r.compiled.header
	atomic.StoreUint64(r.statusWord(), 0)
	r.setBasedataWord(basedata.ActualSizeOffset, uint64(r.pages)*wasm.WasmPageSize)
	r.setBasedataWord(basedata.MemoryHelperOffset, uint64(cfg.memoryHelper))
	r.setBasedataWord(basedata.TrapHandlerOffset, uint64(r.codeBase())+uint64(h.HelperStubs.GenericTrapHandler))
	r.setBasedataWord(basedata.StackUnwindOffset, 0)
	r.setBasedataWord(basedata.CustomContextOffset, uint64(r.customCtx))
	r.setBasedataWord(basedata.RuntimeBackrefOffset, r.backrefID)
	r.setBasedataWord(basedata.LastFrameOffset, 0)
	r.setBasedataWord(basedata.TrapCodeOffset, 0)
	// Zero disables the stack-fence check; embedders with a bounded native
	// stack can lower it later through the slot.
	r.setBasedataWord(basedata.StackFenceOffset, 0)

	// The stacktrace ring reads back as function indices; ^0 marks an
	// unused slot since index 0 is a valid function.
	depth := int(h.StacktraceRecordCount)
	for i := 0; i < depth*basedata.RecordSlots(); i++ {
		r.setBasedataWord(basedata.StacktraceRingOffset(depth)+int64(i*8), ^uint64(0))
	}
}

func (r *Runtime) initGlobals() {
	for _, g := range r.compiled.header.Globals {
		putU64(r.job[g.LinkDataOffset:], uint64(g.Init))
	}
}

// linkImports writes each import's native entry point into its link-data
// slot: Static bindings carry their pointer from compile time, Dynamic (and
// allowUnknownImports-deferred) bindings resolve against the symbols
// supplied here, matched by (moduleName, symbol, signature).
func (r *Runtime) linkImports(symbols []NativeSymbol) error {
	type key struct{ mod, sym, sig string }
	byKey := make(map[key]NativeSymbol, len(symbols))
	for _, s := range symbols {
		byKey[key{s.ModuleName, s.Symbol, s.Signature}] = s
	}
	for _, b := range r.compiled.header.Imports {
		switch {
		case b.Bound && b.Linkage == compiler.Static:
			putU64(r.job[b.LinkDataOffset:], uint64(b.Ptr))
		default:
			s, ok := byKey[key{b.ModuleName, b.Symbol, b.Signature}]
			if !ok {
				return fmt.Errorf("wasmforge: unresolved dynamic import %s.%s %s", b.ModuleName, b.Symbol, b.Signature)
			}
			putU64(r.job[b.LinkDataOffset:], uint64(s.Ptr))
		}
	}
	return nil
}

// initTables fills the link-data table region with {typeIndex,
// entryPointer} pairs from the element segments, the layout call_indirect's
// dispatch reads: a matching typeIndex guards the jump, a mismatch traps.
func (r *Runtime) initTables() {
	h := &r.compiled.header
	for _, seg := range h.Elements {
		base := uint32(seg.Offset.I64)
		for k, fnIdx := range seg.FuncIndex {
			slot := h.TableLinkDataOffset + (base+uint32(k))*16
			putU64(r.job[slot:], uint64(h.FunctionTypeIndices[fnIdx]))
			if int(fnIdx) >= h.NumImportedFunctions {
				off := h.FunctionOffsets[int(fnIdx)-h.NumImportedFunctions]
				putU64(r.job[slot+8:], uint64(r.codeBase())+uint64(off))
			}
		}
	}
}

func (r *Runtime) initData() error {
	for _, seg := range r.compiled.header.Data {
		off := uint64(uint32(seg.Offset.I64))
		if off+uint64(len(seg.Init)) > uint64(r.pages)*wasm.WasmPageSize {
			return fmt.Errorf("wasmforge: data segment [%d, %d) exceeds initial memory", off, off+uint64(len(seg.Init)))
		}
		copy(r.job[uint64(r.linearOff)+off:], seg.Init)
	}
	return nil
}

// Start runs the module's start function exactly once. It is a no-op if
// the module has none or if it already ran.
func (r *Runtime) Start(ctx context.Context) error {
	if r.closed {
		return ErrClosed
	}
	if r.startDone || r.compiled.header.StartFunctionOffset == compiler.NoStartFunction {
		return nil
	}
	r.startDone = true
	_, err := r.invoke(ctx, r.compiled.header.StartFunctionOffset, nil, 0)
	return err
}

// Function is an exported-function handle. The zero value is invalid;
// obtain one from ExportedFunction.
type Function struct {
	rt        *Runtime
	offset    uint32
	sig       compiler.TypeEntry
	signature string
	name      string
}

// Signature returns the textual "(params)(results)" signature in the
// {i,I,f,F} character set.
func (f *Function) Signature() string { return f.signature }

// Call invokes the function. Arguments and results are passed as raw
// 64-bit bit patterns, one per Wasm value (i32/f32 in the low bits). A trap
// or interruption surfaces as a *trap.Exception; errors.As recovers the
// trap code and partial stacktrace.
func (f *Function) Call(ctx context.Context, args ...uint64) ([]uint64, error) {
	if len(args) != len(f.sig.Params) {
		return nil, fmt.Errorf("wasmforge: %s expects %d arguments, got %d", f.name, len(f.sig.Params), len(args))
	}
	return f.rt.invoke(ctx, f.offset, args, len(f.sig.Results))
}

// ExportedFunction returns an untyped handle to the named exported
// function; inspect Signature for its shape.
func (r *Runtime) ExportedFunction(name string) (*Function, error) {
	if r.closed {
		return nil, ErrClosed
	}
	h := &r.compiled.header
	for _, e := range h.Exports {
		if e.Name != name || e.Kind != wasm.ExportKindFunc {
			continue
		}
		if int(e.Index) < h.NumImportedFunctions {
			return nil, fmt.Errorf("%w: %q is a re-exported import", trap.ErrFunctionNotFound, name)
		}
		sig := h.Types[h.FunctionTypeIndices[e.Index]]
		return &Function{
			rt:        r,
			offset:    h.FunctionOffsets[int(e.Index)-h.NumImportedFunctions],
			sig:       sig,
			signature: signatureText(sig),
			name:      name,
		}, nil
	}
	return nil, fmt.Errorf("%w: %q", trap.ErrFunctionNotFound, name)
}

// ExportedFunctionWithSignature is the typed-handle variant: it validates
// the export carries exactly the given "(params)(results)" signature before
// returning the handle.
func (r *Runtime) ExportedFunctionWithSignature(name, signature string) (*Function, error) {
	f, err := r.ExportedFunction(name)
	if err != nil {
		return nil, err
	}
	if f.signature != signature {
		return nil, &SignatureMismatchError{Name: name, Want: signature, Got: f.signature}
	}
	return f, nil
}

// SignatureMismatchError reports a typed-handle request whose expected
// signature disagrees with the export's actual one.
type SignatureMismatchError struct {
	Name string
	Want string
	Got  string
}

func (e *SignatureMismatchError) Error() string {
	return fmt.Sprintf("wasmforge: %q has signature %s, not %s", e.Name, e.Got, e.Want)
}

func signatureText(sig compiler.TypeEntry) string {
	b := append(make([]byte, 0, len(sig.Params)+len(sig.Results)+4), '(')
	for _, p := range sig.Params {
		b = append(b, signatureCharOf(p))
	}
	b = append(b, ')', '(')
	for _, p := range sig.Results {
		b = append(b, signatureCharOf(p))
	}
	return string(append(b, ')'))
}

func signatureCharOf(mt arch.MachineType) byte {
	switch mt {
	case arch.TypeI32:
		return 'i'
	case arch.TypeI64:
		return 'I'
	case arch.TypeF32:
		return 'f'
	default:
		return 'F'
	}
}

// invoke calls into generated code at the given code offset with args in
// the 8-byte-slotted parameter area, then reads back results and the trap
// slot.
func (r *Runtime) invoke(ctx context.Context, offset uint32, args []uint64, nresults int) ([]uint64, error) {
	if r.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := len(args)
	if nresults > n {
		n = nresults
	}
	if n == 0 {
		n = 1
	}
	area := make([]uint64, n)
	copy(area, args)

	entry := r.codeBase() + uintptr(offset)
	err := r.bridge.Guard(func() (arch.TrapCode, []uint32) {
		nativecall(entry, r.linMemBase(), uintptr(unsafe.Pointer(&area[0])))
		code := arch.TrapCode(r.basedataWord(basedata.TrapCodeOffset))
		if code == arch.TrapNone {
			return arch.TrapNone, nil
		}
		r.setBasedataWord(basedata.TrapCodeOffset, 0)
		if code == arch.TrapRuntimeInterruptRequested {
			// The poll traps on the status word's interrupt bit; the code
			// RequestInterruption embedded beside it is what gets reported.
			if embedded := arch.TrapCode(atomic.LoadUint64(r.statusWord()) >> 8); embedded != arch.TrapNone {
				code = embedded
			}
			atomic.StoreUint64(r.statusWord(), 0)
		}
		return code, r.collectStacktrace()
	})
	if err != nil {
		var ex *trap.Exception
		if errors.As(err, &ex) {
			r.log.Debug("wasm call trapped",
				zap.String("code", ex.Code.String()),
				zap.String("stack", r.debugNames.FormatStacktrace(ex.Stacktrace)))
		}
		return nil, err
	}
	return area[:nresults], nil
}

// collectStacktrace reads function indices from the basedata ring, innermost
// first, stopping at the first unused slot. No generated code or helper stub
// writes records into the ring and initBasedata marks every slot unused, so
// the result is empty.
func (r *Runtime) collectStacktrace() []uint32 {
	depth := int(r.compiled.header.StacktraceRecordCount)
	ringOff := basedata.StacktraceRingOffset(depth)
	var stack []uint32
	for i := 0; i < depth; i++ {
		// fncIndex is the second word of each
		// {prevFrameRef, fncIndex, offsetToLocals, callerInstrOffset} record.
		w := r.basedataWord(ringOff + int64(i*basedata.RecordSlots()*8) + 8)
		if w == ^uint64(0) {
			break
		}
		stack = append(stack, uint32(w))
	}
	return stack
}

// RequestInterruption asks a running Wasm call to terminate at its next
// loop-entry check with the given trap code; other block entries and call
// sites do not check. Safe to call from another
// goroutine; code TrapNone clears a pending request.
func (r *Runtime) RequestInterruption(code arch.TrapCode) {
	r.growMu.Lock()
	defer r.growMu.Unlock()
	var w uint64
	if code != arch.TrapNone {
		w = basedata.StatusInterruptBit | uint64(code)<<8
	}
	atomic.StoreUint64(r.statusWord(), w)
}

// Grow is the host-side memory-extension request: it grows linear memory by
// deltaPages, returning the previous size in pages, or -1 when the module's
// (or the config's) maximum would be exceeded or the allocator declines.
// Growth is rounded up to an even page count.
func (r *Runtime) Grow(deltaPages uint32) int64 {
	r.growMu.Lock()
	defer r.growMu.Unlock()
	if r.closed {
		return -1
	}
	prev := r.pages
	total := uint64(prev) + uint64(deltaPages)
	if total > uint64(r.maxPages) {
		return -1
	}
	allocPages := uint32(total)
	if allocPages%2 != 0 {
		allocPages++
		if allocPages > r.maxPages {
			allocPages = uint32(total)
		}
	}
	if !r.alloc.Extend(allocPages) {
		return -1
	}
	r.job = r.alloc.Base()
	r.pages = uint32(total)
	r.setBasedataWord(basedata.ActualSizeOffset, uint64(total)*wasm.WasmPageSize)
	r.log.Debug("memory grown", zap.Uint32("fromPages", prev), zap.Uint64("toPages", total))
	return int64(prev)
}

// NotifyOfMemoryGrowth is the non-bounds-checked build's growth path: the
// MMU fault handler has already admitted the access, and the allocator is
// asked to commit pages up to newPages.
func (r *Runtime) NotifyOfMemoryGrowth(newPages uint32) bool {
	r.growMu.Lock()
	defer r.growMu.Unlock()
	if !r.alloc.Extend(newPages) {
		return false
	}
	r.job = r.alloc.Base()
	r.pages = newPages
	r.setBasedataWord(basedata.ActualSizeOffset, uint64(newPages)*wasm.WasmPageSize)
	return true
}

// MemorySizePages reports the current linear memory size in 64KiB pages.
func (r *Runtime) MemorySizePages() uint32 { return r.pages }

// GetLinearMemoryRegion validates [offset, offset+size) against the current
// linear memory and returns it as a byte slice aliasing job memory. The
// slice is invalidated by any growth.
func (r *Runtime) GetLinearMemoryRegion(offset, size uint32) ([]byte, error) {
	if r.closed {
		return nil, ErrClosed
	}
	end := uint64(offset) + uint64(size)
	if r.boundsChecked {
		if end > r.basedataWord(basedata.ActualSizeOffset) {
			return nil, fmt.Errorf("%w: [%d, %d)", trap.ErrMemoryOutOfRange, offset, end)
		}
	} else if size > 0 && !r.alloc.Probe(uint32(end-1)) {
		return nil, fmt.Errorf("%w: [%d, %d)", trap.ErrMemoryOutOfRange, offset, end)
	}
	start := uint64(r.linearOff) + uint64(offset)
	return r.job[start : start+uint64(size) : start+uint64(size)], nil
}

// LinkMemory provides a read-only host memory span to built-in intrinsics.
// The span must be 8-byte aligned where the target ISA requires aligned
// wide loads.
func (r *Runtime) LinkMemory(mem []byte) {
	r.linkedMem = mem
}

// UnlinkMemory detaches any span previously provided via LinkMemory.
func (r *Runtime) UnlinkMemory() {
	r.linkedMem = nil
}

// ShrinkToSize asks the allocator to release linear memory beyond min
// bytes. Best-effort; failure is silent by contract.
func (r *Runtime) ShrinkToSize(min uint32) {
	r.growMu.Lock()
	defer r.growMu.Unlock()
	if r.closed {
		return
	}
	if r.alloc.Shrink(min) {
		r.job = r.alloc.Base()
	}
}

func (r *Runtime) unregister() {
	backrefs.Lock()
	delete(backrefs.m, r.backrefID)
	backrefs.Unlock()
}

// Close releases the executable mapping and detaches the runtime. Close is
// idempotent; no error escapes the release path beyond being returned.
func (r *Runtime) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.unregister()
	err := r.execMem.Free()
	if serr := r.log.Sync(); err == nil {
		err = serr
	}
	return err
}

func putU64(b []byte, v uint64) { binary.LittleEndian.PutUint64(b, v) }

func getU64(b []byte) uint64 { return binary.LittleEndian.Uint64(b) }
