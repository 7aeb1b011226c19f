//go:build (amd64 || arm64) && !tinygo

package wasmforge

// nativecall transfers control to compiled code at entry with the
// linear-memory base in the architecture's reserved base register and the
// parameter/result area pointer available to the entry sequence. Arguments
// are pre-staged in the 8-byte-slotted area; results come back the same
// way. Implemented per architecture in call_GOARCH.s.
//
//go:noescape
func nativecall(entry, linearMemoryBase, paramsResults uintptr)
