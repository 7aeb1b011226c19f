package compiler

import (
	"fmt"

	"github.com/wasmforge/wasmforge/internal/arch"
	"github.com/wasmforge/wasmforge/internal/wasm"
)

// ImportBinding is one resolved (or deliberately unresolved) entry of the
// compiled binary's import table.
type ImportBinding struct {
	ModuleName     string
	Symbol         string
	Signature      string
	LinkDataOffset uint32
	Version        arch.ImportVersion
	Linkage        Linkage
	// Ptr is the native entry point for Static bindings, carried from the
	// compile-time symbol so runtime init can write the link-data slot
	// without a second lookup. Dynamic bindings leave it zero.
	Ptr uintptr
	// Bound is false when allowUnknownImports let an unmatched import
	// through; calling it traps with a dynamic-link failure at first use
	// instead of failing the compile.
	Bound bool
}

// resolveImports matches every imported function against nativeSymbols by
// (moduleName, symbol), validates the signature agrees with the module's
// declared type, and assigns each a link-data slot (used by Dynamic imports
// to hold the runtime-supplied pointer; Static imports still get one so the
// table shape doesn't depend on linkage). Unmatched imports are an error
// unless allowUnknownImports is set, in which case they're recorded Bound
// == false and resolved no further.
func resolveImports(mod *wasm.Module, nativeSymbols []NativeSymbol, allowUnknownImports bool, linkBase uint32) ([]ImportBinding, uint32, error) {
	byKey := make(map[string]int, len(nativeSymbols))
	for i, s := range nativeSymbols {
		byKey[s.key()] = i
	}

	var bindings []ImportBinding
	linkOff := linkBase
	for i := range mod.FunctionSection {
		def := &mod.FunctionSection[i]
		if !def.IsImported {
			continue
		}
		sig := mod.TypeSection[def.TypeIndex]
		wantSig := signatureString(sig)

		idx, ok := byKey[def.ImportedAs]
		if !ok {
			if !allowUnknownImports {
				return nil, 0, fmt.Errorf("compiler: unresolved import %q", def.ImportedAs)
			}
			// Deferred to dynamic linking: call sites compile against the
			// V2 bridge, the family every dynamically supplied symbol uses.
			def.ImportLinkOffset = linkOff
			def.ImportVersion = arch.ImportV2
			bindings = append(bindings, ImportBinding{
				ModuleName: moduleOf(def.ImportedAs), Symbol: nameOf(def.ImportedAs),
				Signature: wantSig, LinkDataOffset: linkOff, Version: arch.ImportV2, Bound: false,
			})
			linkOff += 8
			continue
		}
		sym := nativeSymbols[idx]
		if sym.Signature != wantSig {
			return nil, 0, fmt.Errorf("compiler: import %q: signature mismatch: module declares %q, symbol provides %q", def.ImportedAs, wantSig, sym.Signature)
		}
		def.NativeIndex = idx
		def.ImportLinkOffset = linkOff
		def.ImportVersion = sym.ImportVersion
		bindings = append(bindings, ImportBinding{
			ModuleName: sym.ModuleName, Symbol: sym.Symbol, Signature: sym.Signature,
			LinkDataOffset: linkOff, Version: sym.ImportVersion, Linkage: sym.Linkage,
			Ptr: sym.Ptr, Bound: true,
		})
		linkOff += 8
	}
	return bindings, linkOff, nil
}

func signatureString(sig *wasm.FunctionType) string {
	b := make([]byte, 0, len(sig.Params)+len(sig.Results)+2)
	b = append(b, '(')
	for _, p := range sig.Params {
		b = append(b, signatureChar(p))
	}
	b = append(b, ')', '(')
	for _, r := range sig.Results {
		b = append(b, signatureChar(r))
	}
	b = append(b, ')')
	return string(b)
}

func signatureChar(v wasm.ValueType) byte {
	switch v {
	case wasm.ValueTypeI32:
		return 'i'
	case wasm.ValueTypeI64:
		return 'I'
	case wasm.ValueTypeF32:
		return 'f'
	case wasm.ValueTypeF64:
		return 'F'
	default:
		return '?'
	}
}

func moduleOf(importedAs string) string {
	for i := 0; i < len(importedAs); i++ {
		if importedAs[i] == '.' {
			return importedAs[:i]
		}
	}
	return importedAs
}

func nameOf(importedAs string) string {
	for i := 0; i < len(importedAs); i++ {
		if importedAs[i] == '.' {
			return importedAs[i+1:]
		}
	}
	return ""
}
