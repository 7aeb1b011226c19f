// Package basedata defines the fixed metadata region every compiled module
// keeps just behind its linear memory's base pointer. Every offset here is
// negative: ReservedLinearMemoryBase always points at byte 0 of linear
// memory, so basedata fields live at base+offset with offset < 0.
//
// The runtime (the root wasmforge package) writes these slots at init.
// Generated code reads them: internal/codegen loads ActualSizeOffset,
// MemoryHelperOffset, StatusFlagsOffset and StackFenceOffset, and each
// backend's trap stubs write TrapCodeOffset and read StackUnwindOffset.
package basedata

// Slot width: every basedata field is a 64-bit word, including the single
// status byte, so fields never share a cache line's worth of address
// arithmetic with their neighbors.
const slotWidth = 8

// Field offsets, all relative to the linear memory base pointer. Declared in
// the order they're laid out, working backward (toward more negative
// offsets) from base.
const (
	// StatusFlagsOffset holds the interruption-request bit (bit 0) the
	// runtime's RequestInterruption sets from another goroutine, polled by
	// compiled code at the entry of every loop, so each back-edge passes a
	// poll. Call sites and other block entries do not poll it.
	StatusFlagsOffset = -1 * slotWidth

	// ActualSizeOffset holds the current linear memory size in bytes,
	// cached here so memory.size/load/store bounds checks never need a
	// call back into the runtime. internal/codegen's basedataActualSizeOffset
	// placeholder is this field; keep the two numerically identical.
	ActualSizeOffset = -2 * slotWidth

	// MemoryHelperOffset holds a code pointer to the memory-grow trampoline
	// compiled for this module's calling convention, invoked by
	// memory.grow. internal/codegen's basedataMemoryHelperOffset
	// placeholder is this field; keep the two numerically identical.
	MemoryHelperOffset = -3 * slotWidth

	// TrapHandlerOffset holds a code pointer the signal bridge (or an
	// explicit cTRAP site) jumps to on fault: it unwinds to StackUnwindOffset
	// and returns control to the runtime's call wrapper.
	TrapHandlerOffset = -4 * slotWidth

	// StackUnwindOffset holds the native stack pointer value to restore
	// before returning from a trap, captured at call entry so a trap deep
	// in a call chain can unwind in one step instead of walking frames.
	StackUnwindOffset = -5 * slotWidth

	// CustomContextOffset holds the opaque pointer value the embedder
	// passed at instantiation (Config.WithCustomContext in spirit); host
	// functions read it back out through their context-register argument.
	CustomContextOffset = -6 * slotWidth

	// RuntimeBackrefOffset holds a pointer back to the owning Runtime value,
	// letting trampolines and the trap handler recover Go-side state (the
	// NativeSymbol table, the debug map) without a second argument register.
	RuntimeBackrefOffset = -7 * slotWidth

	// LastFrameOffset holds the most recently pushed stacktrace record's
	// address, the head of the singly-linked frame chain InternalCall and
	// V1ImportCall push to and pop from around every call site.
	LastFrameOffset = -8 * slotWidth

	// TrapCodeOffset holds the arch.TrapCode of the most recent trap, read
	// by the runtime's call wrapper after SignalBridge.Guard returns to
	// build the returned *trap.Exception.
	TrapCodeOffset = -9 * slotWidth

	// StackFenceOffset holds the lowest native stack pointer value
	// generated code may reach; a frame growth that would cross it traps
	// StackFenceBreached. Zero disables the check (no SP compares below
	// zero unsigned).
	StackFenceOffset = -10 * slotWidth

	// FixedFieldCount is the number of fixed-size slots above; the
	// stacktrace ring starts immediately below them.
	FixedFieldCount = 10
)

// StacktraceRingOffset returns the offset of the first record in a
// compile-time-sized stacktrace ring, recordSlots words per record. depth is
// the maximum number of live call frames the ring ever needs to hold
// simultaneously (the module's call-graph depth bound, or a fixed runtime
// ceiling if the module recurses unboundedly).
func StacktraceRingOffset(depth int) int64 {
	return int64(-FixedFieldCount*slotWidth) - int64(depth*recordSlots*slotWidth)
}

// recordSlots is the word count of one stacktrace record:
// {prevFrameRef, functionIndex, offsetToLocals, callerInstrOffset}, matching
// internal/codegen's stacktraceRecordSize (32 bytes = 4 slots).
const recordSlots = 4

// RecordSlots reports the word count of one stacktrace record, exported so
// internal/compiler can size the ring without duplicating the constant.
func RecordSlots() int { return recordSlots }

// TotalSize returns the byte size of the whole basedata region (fixed
// fields plus the stacktrace ring) for a module whose call-graph needs room
// for depth live frames.
func TotalSize(depth int) int64 {
	return int64(FixedFieldCount*slotWidth) + int64(depth*recordSlots*slotWidth)
}

// StatusInterruptBit is the bit of StatusFlagsOffset's word that
// Runtime.RequestInterruption sets and that compiled code's interruption poll
// tests.
const StatusInterruptBit = 1
