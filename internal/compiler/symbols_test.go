package compiler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasmforge/wasmforge/internal/arch"
)

func TestParseSignature(t *testing.T) {
	tests := []struct {
		sig     string
		params  []arch.MachineType
		results []arch.MachineType
	}{
		{sig: "()()", params: []arch.MachineType{}, results: []arch.MachineType{}},
		{sig: "(i)()", params: []arch.MachineType{arch.TypeI32}, results: []arch.MachineType{}},
		{sig: "(ii)(i)", params: []arch.MachineType{arch.TypeI32, arch.TypeI32}, results: []arch.MachineType{arch.TypeI32}},
		{
			sig:     "(iIfF)(F)",
			params:  []arch.MachineType{arch.TypeI32, arch.TypeI64, arch.TypeF32, arch.TypeF64},
			results: []arch.MachineType{arch.TypeF64},
		},
		{sig: "()(iI)", params: []arch.MachineType{}, results: []arch.MachineType{arch.TypeI32, arch.TypeI64}},
	}
	for _, tc := range tests {
		t.Run(tc.sig, func(t *testing.T) {
			params, results, err := ParseSignature(tc.sig)
			require.NoError(t, err)
			require.Equal(t, tc.params, params)
			require.Equal(t, tc.results, results)
		})
	}
}

func TestParseSignatureRejectsMalformed(t *testing.T) {
	for _, sig := range []string{"", "(", "(i)", "i)(i)", "(i)(i", "(x)(i)", "(i)(y)", "ii"} {
		t.Run(sig, func(t *testing.T) {
			_, _, err := ParseSignature(sig)
			require.Error(t, err)
		})
	}
}

func TestLinkageString(t *testing.T) {
	require.Equal(t, "static", Static.String())
	require.Equal(t, "dynamic", Dynamic.String())
	require.Equal(t, "invalid", Linkage(0).String())
}
