package ffiext

import (
	"math/big"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func libmPath(t *testing.T) string {
	switch runtime.GOOS {
	case "darwin":
		return "/usr/lib/libm.dylib"
	case "linux":
		return "libm.so.6"
	default:
		t.Skip("no known libm path for this platform")
		return ""
	}
}

func TestManager_OpenGetSymbolCallSymbol(t *testing.T) {
	m := NewManager()
	libRid, err := m.Open(libmPath(t))
	require.NoError(t, err)

	_, err = m.GetSymbol(libRid, "sqrt", CallDefinition{
		Parameters: []NativeType{TypeF64},
		Result:     TypeF64,
	})
	require.NoError(t, err)

	result, err := m.CallSymbol(libRid, "sqrt", []any{float64(81)})
	require.NoError(t, err)
	require.InDelta(t, 9.0, result, 0.0001)
}

func TestManager_CallSymbolWrongArgCount(t *testing.T) {
	m := NewManager()
	libRid, err := m.Open(libmPath(t))
	require.NoError(t, err)
	_, err = m.GetSymbol(libRid, "sqrt", CallDefinition{Parameters: []NativeType{TypeF64}, Result: TypeF64})
	require.NoError(t, err)

	_, err = m.CallSymbol(libRid, "sqrt", nil)
	require.Error(t, err)
}

func TestManager_CallSymbolUnresolvedThrows(t *testing.T) {
	m := NewManager()
	libRid, err := m.Open(libmPath(t))
	require.NoError(t, err)

	_, err = m.CallSymbol(libRid, "sqrt", []any{float64(4)})
	require.Error(t, err)
}

func TestManager_CloseInvalidatesLibrary(t *testing.T) {
	m := NewManager()
	libRid, err := m.Open(libmPath(t))
	require.NoError(t, err)
	require.NoError(t, m.Close(libRid))

	_, err = m.GetSymbol(libRid, "sqrt", CallDefinition{Result: TypeF64})
	require.Error(t, err)
}

func TestManager_CreateAndCloseCallback(t *testing.T) {
	m := NewManager()
	rid, ptr, err := m.CreateCallback(CallDefinition{
		Parameters: []NativeType{TypeI32},
		Result:     TypeI32,
	}, func(args []any) (any, error) { return float64(0), nil })
	require.NoError(t, err)
	require.NotZero(t, ptr.Uint64())

	got, err := m.GetCallbackPointer(rid)
	require.NoError(t, err)
	require.Equal(t, ptr.String(), got.String())

	require.NoError(t, m.CloseCallback(rid))
	_, err = m.GetCallbackPointer(rid)
	require.Error(t, err)
}

func TestManager_CreateCallbackArityLimit(t *testing.T) {
	m := NewManager()
	params := make([]NativeType, maxCallbackArity+1)
	for i := range params {
		params[i] = TypeU32
	}
	_, _, err := m.CreateCallback(CallDefinition{Parameters: params, Result: TypeVoid}, nil)
	require.Error(t, err)
}

func TestPointerArithmetic(t *testing.T) {
	base := big.NewInt(1000)
	offset := PointerOffset(base, 24)
	require.Equal(t, big.NewInt(1024), offset)
	require.True(t, PointerEquals(base, big.NewInt(1000)))
	require.False(t, PointerEquals(base, offset))
}

func TestManager_ReadWriteMemoryRoundTrip(t *testing.T) {
	m := NewManager()
	buf := make([]byte, 16)
	ptr := m.PointerOf(buf)

	require.NoError(t, m.WriteMemory(ptr, 4, []byte("andromeda")))
	got, err := m.ReadMemory(ptr, 4, 9)
	require.NoError(t, err)
	require.Equal(t, "andromeda", string(got))
}

func TestWidenInteger(t *testing.T) {
	require.Equal(t, float64(42), widenInteger(42))
	big64 := widenInteger(1 << 62)
	_, ok := big64.(*big.Int)
	require.True(t, ok)
}
