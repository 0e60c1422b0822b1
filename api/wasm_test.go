package api_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yamt/toywasm-sub002/api"
)

func TestValueTypeName(t *testing.T) {
	require.Equal(t, "i32", api.ValueTypeName(api.ValueTypeI32))
	require.Equal(t, "funcref", api.ValueTypeName(api.ValueTypeFuncref))
	require.Equal(t, "unknown", api.ValueTypeName(0x00))
}

func TestIsReferenceType(t *testing.T) {
	require.True(t, api.IsReferenceType(api.ValueTypeFuncref))
	require.True(t, api.IsReferenceType(api.ValueTypeExternref))
	require.False(t, api.IsReferenceType(api.ValueTypeI32))
}

func TestExternTypeName(t *testing.T) {
	require.Equal(t, "func", api.ExternTypeName(api.ExternTypeFunc))
	require.Equal(t, "global", api.ExternTypeName(api.ExternTypeGlobal))
}

func TestFloatEncodeDecodeRoundTrip(t *testing.T) {
	require.Equal(t, float32(3.5), api.DecodeF32(api.EncodeF32(3.5)))
	require.Equal(t, 3.5, api.DecodeF64(api.EncodeF64(3.5)))
}
