package wasmforge

import (
	"fmt"
	"math"

	"github.com/wasmforge/wasmforge/internal/arch"
	"github.com/wasmforge/wasmforge/internal/compiler"
	"github.com/wasmforge/wasmforge/internal/trap"
	"github.com/wasmforge/wasmforge/internal/wasm"
)

// Global is an exported-global handle. Mutable globals read and write
// through the link-data slot that is their authoritative storage; immutable
// globals read the initializer baked into the compiled binary.
type Global struct {
	rt    *Runtime
	entry compiler.GlobalEntry
	name  string
}

// Type reports the global's machine type.
func (g *Global) Type() arch.MachineType { return g.entry.Type }

// Mutable reports whether Set is permitted.
func (g *Global) Mutable() bool { return g.entry.Mutable }

// Get returns the global's current value as a raw 64-bit bit pattern.
func (g *Global) Get() uint64 {
	if !g.entry.Mutable {
		return uint64(g.entry.Init)
	}
	return getU64(g.rt.job[g.entry.LinkDataOffset:])
}

// Set stores a raw 64-bit bit pattern. Fails with ErrGlobalIsImmutable for
// an immutable global.
func (g *Global) Set(v uint64) error {
	if !g.entry.Mutable {
		return fmt.Errorf("%w: %q", trap.ErrGlobalIsImmutable, g.name)
	}
	putU64(g.rt.job[g.entry.LinkDataOffset:], v)
	return nil
}

// GetF64 is a convenience for f64 globals.
func (g *Global) GetF64() float64 { return math.Float64frombits(g.Get()) }

// GetI32 is a convenience for i32 globals.
func (g *Global) GetI32() int32 { return int32(uint32(g.Get())) }

// ExportedGlobal returns a handle to the named exported global.
func (r *Runtime) ExportedGlobal(name string) (*Global, error) {
	if r.closed {
		return nil, ErrClosed
	}
	h := &r.compiled.header
	for _, e := range h.Exports {
		if e.Name == name && e.Kind == wasm.ExportKindGlobal {
			return &Global{rt: r, entry: h.Globals[e.Index], name: name}, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", trap.ErrGlobalNotFound, name)
}

// ExportedGlobalWithType is the typed-handle variant: it validates the
// export's machine type before returning the handle, and mutability when
// wantMutable is set.
func (r *Runtime) ExportedGlobalWithType(name string, mt arch.MachineType, wantMutable bool) (*Global, error) {
	g, err := r.ExportedGlobal(name)
	if err != nil {
		return nil, err
	}
	if g.entry.Type != mt {
		return nil, fmt.Errorf("%w: %q is %s, not %s", trap.ErrGlobalTypeMismatch, name, g.entry.Type, mt)
	}
	if wantMutable && !g.entry.Mutable {
		return nil, fmt.Errorf("%w: %q", trap.ErrGlobalIsImmutable, name)
	}
	return g, nil
}
