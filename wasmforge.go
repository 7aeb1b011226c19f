// Package wasmforge compiles WebAssembly modules straight to native machine
// code in a single pass — no intermediate representation, no interpreter —
// and executes the result with host-function linkage, linear-memory
// sandboxing, trap handling, and stacktrace reporting.
//
// The compile side is a stack-directed translator: a compile-time operand
// stack tracks where every Wasm value currently lives (constant, local
// slot, global, scratch register, spilled temp, or a deferred instruction)
// and drives instruction selection and register allocation as the bytecode
// streams by. The execute side owns a single contiguous job memory holding
// a fixed metadata region (basedata) immediately followed by the module's
// linear memory.
//
// Typical use:
//
//	compiled, err := wasmforge.Compile(wasmBytes, nil, wasmforge.NewCompileConfig())
//	if err != nil { ... }
//	rt, err := wasmforge.NewRuntime(compiled, nil, wasmforge.NewRuntimeConfig())
//	if err != nil { ... }
//	defer rt.Close()
//
//	add, err := rt.ExportedFunction("add")
//	if err != nil { ... }
//	results, err := add.Call(ctx, 2, 3)
package wasmforge

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wasmforge/wasmforge/internal/compiler"
	"github.com/wasmforge/wasmforge/internal/wasm"
)

// CompiledModule is a Wasm module lowered to native code for one target
// architecture, ready to be instantiated by NewRuntime. It is immutable and
// safe to instantiate any number of times, concurrently.
type CompiledModule struct {
	code          []byte
	debugMap      []byte
	header        compiler.Header
	arch          Architecture
	boundsChecked bool
}

// Compile decodes bytecode (WebAssembly binary format, version 1), resolves
// its imports against symbols, and emits native code plus the parsed header
// the runtime instantiates from. Compilation is deterministic: a fixed
// bytecode and symbol list always produce byte-identical code and debug
// maps.
func Compile(bytecode []byte, symbols []NativeSymbol, cfg *CompileConfig) (*CompiledModule, error) {
	if cfg == nil {
		cfg = NewCompileConfig()
	}
	opts := compiler.Options{
		Architecture:    cfg.arch,
		BoundsChecked:   cfg.boundsChecked,
		EmitDebugMap:    cfg.emitDebugMap,
		StacktraceDepth: cfg.stacktraceDepth,
	}
	res, err := compiler.Compile(bytecode, symbols, cfg.allowUnknownImports, opts)
	if err != nil {
		return nil, err
	}
	cfg.logger.Debug("compiled module",
		zap.String("arch", cfg.arch.String()),
		zap.Int("codeBytes", len(res.Code)),
		zap.Int("exports", len(res.Header.Exports)),
		zap.Int("imports", len(res.Header.Imports)))
	return &CompiledModule{
		code:          res.Code,
		debugMap:      res.DebugMap,
		header:        res.Header,
		arch:          cfg.arch,
		boundsChecked: cfg.boundsChecked || cfg.arch == TriCore,
	}, nil
}

// Code returns the raw native code buffer, including the helper stubs at
// its tail.
func (m *CompiledModule) Code() []byte { return m.code }

// DebugMap returns the serialized version-2 debug map, or nil when the
// module was compiled without WithDebugMap.
func (m *CompiledModule) DebugMap() []byte { return m.debugMap }

// Architecture reports the instruction set this module was compiled for.
func (m *CompiledModule) Architecture() Architecture { return m.arch }

// ExportedFunctions lists the names of all exported functions.
func (m *CompiledModule) ExportedFunctions() []string {
	var names []string
	for _, e := range m.header.Exports {
		if e.Kind == wasm.ExportKindFunc {
			names = append(names, e.Name)
		}
	}
	return names
}

func (m *CompiledModule) String() string {
	return fmt.Sprintf("compiled module (%s, %d bytes)", m.arch, len(m.code))
}
