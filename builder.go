package wasmforge

import (
	"github.com/wasmforge/wasmforge/internal/arch"
	"github.com/wasmforge/wasmforge/internal/compiler"
)

// NativeSymbol describes one host function a module may import: its
// (moduleName, symbol) import key, its "(params)(results)" signature in the
// {i,I,f,F} character set, the native entry point, linkage, and which
// import-call bridge family the call sites use.
type NativeSymbol = compiler.NativeSymbol

// Linkage distinguishes compile-time (Static) from init-time (Dynamic)
// symbol binding.
type Linkage = compiler.Linkage

const (
	Static  = compiler.Static
	Dynamic = compiler.Dynamic
)

// ImportVersion selects the import-call bridge family compiled at each call
// site of the symbol.
type ImportVersion = arch.ImportVersion

const (
	// ImportV1 passes a native context argument in the first parameter
	// register and marshals Wasm arguments per the trampoline's
	// pre-compiled signature.
	ImportV1 = arch.ImportV1
	// ImportV2 spills all scratch registers and passes
	// (sp, retAreaPtr, contextPtr) over an 8-byte-slotted stack layout.
	ImportV2 = arch.ImportV2
)

// HostModuleBuilder collects the host functions one import module name
// provides, so that a WebAssembly binary can import and call them.
//
// For example, this defines a module named "env" with one function:
//
//	symbols := wasmforge.NewHostModuleBuilder("env").
//		NewSymbolBuilder().
//		WithSignature("(ii)(i)").
//		WithPtr(addEntry).
//		Export("add").
//		Build()
//	compiled, err := wasmforge.Compile(wasmBytes, symbols, wasmforge.NewCompileConfig())
//
// # Notes
//
//   - HostModuleBuilder is mutable: each method returns the same instance
//     for chaining.
//   - Methods do not return errors, to allow chaining. Any validation
//     errors are deferred until Compile.
//   - Symbols are recorded in Export order, as the import table preserves
//     insertion ordering.
type HostModuleBuilder struct {
	moduleName string
	symbols    []NativeSymbol
}

// NewHostModuleBuilder begins the definition of the host functions imported
// under moduleName.
func NewHostModuleBuilder(moduleName string) *HostModuleBuilder {
	return &HostModuleBuilder{moduleName: moduleName}
}

// NewSymbolBuilder begins the definition of one host function.
func (b *HostModuleBuilder) NewSymbolBuilder() *HostSymbolBuilder {
	return &HostSymbolBuilder{
		b: b,
		sym: NativeSymbol{
			Linkage:       Static,
			ModuleName:    b.moduleName,
			ImportVersion: ImportV2,
		},
	}
}

// Build returns the accumulated symbol list, ready to pass to Compile (or,
// for Dynamic symbols, to NewRuntime).
func (b *HostModuleBuilder) Build() []NativeSymbol {
	out := make([]NativeSymbol, len(b.symbols))
	copy(out, b.symbols)
	return out
}

// HostSymbolBuilder defines a single host function. Defaults: Static
// linkage, the V2 import bridge.
type HostSymbolBuilder struct {
	b   *HostModuleBuilder
	sym NativeSymbol
}

// WithSignature declares the symbol's "(params)(results)" signature using
// the character set {i,I,f,F} for {i32,i64,f32,f64}, e.g. "(iI)(f)".
func (s *HostSymbolBuilder) WithSignature(signature string) *HostSymbolBuilder {
	s.sym.Signature = signature
	return s
}

// WithPtr supplies the native entry point. Required for Static symbols;
// Dynamic symbols may defer it to runtime init.
func (s *HostSymbolBuilder) WithPtr(ptr uintptr) *HostSymbolBuilder {
	s.sym.Ptr = ptr
	return s
}

// WithVersion selects the import-call bridge family. Defaults to ImportV2.
func (s *HostSymbolBuilder) WithVersion(v ImportVersion) *HostSymbolBuilder {
	s.sym.ImportVersion = v
	return s
}

// WithDynamicLinkage marks the symbol for rebinding at runtime init instead
// of being baked into the compiled binary.
func (s *HostSymbolBuilder) WithDynamicLinkage() *HostSymbolBuilder {
	s.sym.Linkage = Dynamic
	return s
}

// Export records the symbol under the given import name and returns the
// module builder for chaining.
func (s *HostSymbolBuilder) Export(name string) *HostModuleBuilder {
	s.sym.Symbol = name
	s.b.symbols = append(s.b.symbols, s.sym)
	return s.b
}
