// Package benchcompare cross-checks this project's compiled output against
// two independent, production Wasm engines (wasmtime and wasmer) so a
// divergence in execution equivalence shows up as a test failure rather
// than a silent miscompilation. It never participates in the compile or
// runtime path; it exists purely as a second opinion over the same .wasm
// bytes and exported-function call, run side by side in tests.
package benchcompare

import (
	"fmt"

	wasmer "github.com/wasmerio/wasmer-go/wasmer"
	wasmtime "github.com/bytecodealliance/wasmtime-go"
)

// Call runs exported function name with i32 args against both reference
// engines and returns their i32 results, so a caller can assert all three
// engines (this project's own compiled output included) agree.
func Call(wasmBytes []byte, name string, args ...int32) (wasmtimeResult, wasmerResult int32, err error) {
	wasmtimeResult, err = callWasmtime(wasmBytes, name, args)
	if err != nil {
		return 0, 0, fmt.Errorf("benchcompare: wasmtime: %w", err)
	}
	wasmerResult, err = callWasmer(wasmBytes, name, args)
	if err != nil {
		return 0, 0, fmt.Errorf("benchcompare: wasmer: %w", err)
	}
	return wasmtimeResult, wasmerResult, nil
}

func callWasmtime(wasmBytes []byte, name string, args []int32) (int32, error) {
	engine := wasmtime.NewEngine()
	store := wasmtime.NewStore(engine)
	module, err := wasmtime.NewModule(engine, wasmBytes)
	if err != nil {
		return 0, err
	}
	instance, err := wasmtime.NewInstance(store, module, nil)
	if err != nil {
		return 0, err
	}
	fn := instance.GetExport(store, name).Func()
	anyArgs := make([]interface{}, len(args))
	for i, a := range args {
		anyArgs[i] = a
	}
	ret, err := fn.Call(store, anyArgs...)
	if err != nil {
		return 0, err
	}
	v, _ := ret.(int32)
	return v, nil
}

func callWasmer(wasmBytes []byte, name string, args []int32) (int32, error) {
	engine := wasmer.NewEngine()
	store := wasmer.NewStore(engine)
	module, err := wasmer.NewModule(store, wasmBytes)
	if err != nil {
		return 0, err
	}
	importObject := wasmer.NewImportObject()
	instance, err := wasmer.NewInstance(module, importObject)
	if err != nil {
		return 0, err
	}
	fn, err := instance.Exports.GetFunction(name)
	if err != nil {
		return 0, err
	}
	anyArgs := make([]interface{}, len(args))
	for i, a := range args {
		anyArgs[i] = a
	}
	ret, err := fn(anyArgs...)
	if err != nil {
		return 0, err
	}
	v, _ := ret.(int32)
	return v, nil
}
