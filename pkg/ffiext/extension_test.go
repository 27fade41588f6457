package ffiext

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/freitascorp/andromeda/pkg/jsagent"
	"github.com/freitascorp/andromeda/pkg/jsagent/jsagenttest"
)

func newWiredAgent(t *testing.T) (*jsagenttest.Agent, map[string]jsagent.NativeFunction) {
	t.Helper()
	agent := jsagenttest.New()
	ext := NewExtension()
	require.NoError(t, ext.StorageInit(agent))

	ops := make(map[string]jsagent.NativeFunction, len(ext.Ops))
	for _, op := range ext.Ops {
		ops[op.Name] = op.Handler
	}
	return agent, ops
}

func call(t *testing.T, agent jsagent.Agent, fn jsagent.NativeFunction, args ...any) jsagent.Value {
	t.Helper()
	values := make([]jsagent.Value, len(args))
	for i, a := range args {
		values[i] = jsagenttest.Of(a)
	}
	v, err := fn(agent, nil, values)
	require.NoError(t, err)
	return v
}

func testLibmPath(t *testing.T) string {
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

func TestExtension_DlopenGetSymbolCallSymbolRoundTrip(t *testing.T) {
	agent, ops := newWiredAgent(t)

	libID := call(t, agent, ops["dlopen"], testLibmPath(t), map[string]any{})
	def := map[string]any{"parameters": []any{"f64"}, "result": "f64"}
	call(t, agent, ops["dlopen_get_symbol"], libID.Export(), "sqrt", def)

	result := call(t, agent, ops["call_symbol"], libID.Export(), "sqrt", []any{float64(16)})
	require.Equal(t, float64(4), result.Export())
}

func TestExtension_PointerOffsetAndEquals(t *testing.T) {
	agent, ops := newWiredAgent(t)

	ptr := call(t, agent, ops["pointer_create"], float64(1024))
	offset := call(t, agent, ops["pointer_offset"], ptr.Export(), float64(8))
	require.Equal(t, "1032", offset.Export())

	eq := call(t, agent, ops["pointer_equals"], ptr.Export(), ptr.Export())
	require.Equal(t, true, eq.Export())
}

func TestExtension_ReadWriteMemoryRoundTrip(t *testing.T) {
	agent, ops := newWiredAgent(t)

	ptr := call(t, agent, ops["pointer_of"], "aGVsbG8gd29ybGQ=")
	call(t, agent, ops["write_memory"], ptr.Export(), float64(0), "d29ybGQ=")
	got := call(t, agent, ops["read_memory"], ptr.Export(), float64(0), float64(5))
	require.Equal(t, "d29ybGQ=", got.Export())
}

func TestExtension_DlcloseInvalidatesLibrary(t *testing.T) {
	agent, ops := newWiredAgent(t)

	libID := call(t, agent, ops["dlopen"], testLibmPath(t), map[string]any{})
	call(t, agent, ops["dlclose"], libID.Export())

	_, err := ops["dlopen_get_symbol"](agent, nil, []jsagent.Value{
		jsagenttest.Of(libID.Export()),
		jsagenttest.Of("sqrt"),
		jsagenttest.Of(map[string]any{}),
	})
	require.Error(t, err)
}

func TestExtension_CreateAndCloseCallback(t *testing.T) {
	agent, ops := newWiredAgent(t)

	def := map[string]any{"parameters": []any{"i32"}, "result": "i32"}
	got := call(t, agent, ops["create_callback"], def, nil)
	fields := got.Export().(map[string]any)
	require.NotNil(t, fields["callbackId"])
	require.NotEmpty(t, fields["pointer"])

	call(t, agent, ops["callback_close"], fields["callbackId"])
	_, err := ops["get_callback_pointer"](agent, nil, []jsagent.Value{jsagenttest.Of(fields["callbackId"])})
	require.Error(t, err)
}
