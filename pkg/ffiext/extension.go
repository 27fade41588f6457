package ffiext

import (
	"context"
	"encoding/base64"
	"math/big"

	"github.com/freitascorp/andromeda/pkg/extension"
	"github.com/freitascorp/andromeda/pkg/hostdata"
	"github.com/freitascorp/andromeda/pkg/hosterror"
	"github.com/freitascorp/andromeda/pkg/jsagent"
	"github.com/freitascorp/andromeda/pkg/resource"
)

// NewExtension declares the "ffi" capability (spec §4.6): dlopen/symbol
// calls, callbacks and raw pointer/memory access, backed by one Manager
// stored in the agent's Host Data.
func NewExtension() extension.Extension {
	return extension.Extension{
		Name:      "ffi",
		Namespace: "ffi",
		StorageInit: func(agent jsagent.Agent) error {
			hostdata.Set(agent.HostData(), NewManager())
			return nil
		},
		Ops: []extension.ExtensionOp{
			{Name: "dlopen", Handler: opDlopen, ArgCount: 2},
			{Name: "dlopen_get_symbol", Handler: opDlopenGetSymbol, ArgCount: 3},
			{Name: "call_symbol", Handler: opCallSymbol, ArgCount: 3},
			{Name: "dlclose", Handler: opDlclose, ArgCount: 1},
			{Name: "create_callback", Handler: opCreateCallback, ArgCount: 2},
			{Name: "get_callback_pointer", Handler: opGetCallbackPointer, ArgCount: 1},
			{Name: "callback_close", Handler: opCallbackClose, ArgCount: 1},
			{Name: "pointer_create", Handler: opPointerCreate, ArgCount: 1},
			{Name: "pointer_equals", Handler: opPointerEquals, ArgCount: 2},
			{Name: "pointer_offset", Handler: opPointerOffset, ArgCount: 2},
			{Name: "pointer_value", Handler: opPointerValue, ArgCount: 1},
			{Name: "pointer_of", Handler: opPointerOf, ArgCount: 1},
			{Name: "read_memory", Handler: opReadMemory, ArgCount: 3},
			{Name: "write_memory", Handler: opWriteMemory, ArgCount: 3},
		},
	}
}

func manager(agent jsagent.Agent) (*Manager, error) {
	m, ok := hostdata.Get[*Manager](agent.HostData())
	if !ok {
		return nil, hosterror.New(hosterror.KindInternalError, "ffi extension storage not initialized")
	}
	return m, nil
}

func argString(args []jsagent.Value, i int) (string, bool) {
	if i >= len(args) {
		return "", false
	}
	s, ok := args[i].Export().(string)
	return s, ok
}

func argObject(args []jsagent.Value, i int) (map[string]any, bool) {
	if i >= len(args) {
		return nil, false
	}
	m, ok := args[i].Export().(map[string]any)
	return m, ok
}

func argRid(args []jsagent.Value, i int) (resource.Rid, bool) {
	if i >= len(args) {
		return 0, false
	}
	n, ok := args[i].Export().(float64)
	return resource.Rid(n), ok
}

func argPointer(args []jsagent.Value, i int) (*big.Int, error) {
	if i >= len(args) {
		return nil, hosterror.New(hosterror.KindTypeError, "ffi: expected a pointer argument")
	}
	return toPointer(args[i].Export())
}

func parseCallDefinition(def map[string]any) CallDefinition {
	var out CallDefinition
	if raw, ok := def["parameters"].([]any); ok {
		out.Parameters = make([]NativeType, len(raw))
		for i, p := range raw {
			if s, ok := p.(string); ok {
				out.Parameters[i] = NativeType(s)
			}
		}
	}
	if s, ok := def["result"].(string); ok {
		out.Result = NativeType(s)
	} else {
		out.Result = TypeVoid
	}
	if nb, ok := def["nonblocking"].(bool); ok {
		out.NonBlocking = nb
	}
	return out
}

// toAnyValue mirrors the plain-Go result shapes ffiext produces (float64,
// string, bool, []byte, *big.Int) into an engine Value. Arbitrary-
// precision integers that don't fit a safe float64 cross the boundary as
// their decimal string form, the same convention pkg/sqliteext uses for
// out-of-range SQL integers.
func toAnyValue(agent jsagent.Agent, v any) jsagent.Value {
	switch x := v.(type) {
	case nil:
		return agent.Undefined()
	case bool:
		return agent.NewBool(x)
	case float64:
		return agent.NewNumber(x)
	case string:
		return agent.NewString(x)
	case []byte:
		return agent.NewString(base64.StdEncoding.EncodeToString(x))
	case *big.Int:
		return agent.NewString(x.String())
	default:
		return agent.Undefined()
	}
}

func opDlopen(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	m, err := manager(agent)
	if err != nil {
		return nil, err
	}
	path, ok := argString(args, 0)
	if !ok {
		return nil, hosterror.New(hosterror.KindTypeError, "ffi: dlopen expects a path string")
	}
	rid, err := m.Open(path)
	if err != nil {
		return nil, err
	}
	return agent.NewNumber(float64(rid)), nil
}

func opDlopenGetSymbol(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	m, err := manager(agent)
	if err != nil {
		return nil, err
	}
	libRid, _ := argRid(args, 0)
	name, _ := argString(args, 1)
	defObj, _ := argObject(args, 2)
	ptr, err := m.GetSymbol(libRid, name, parseCallDefinition(defObj))
	if err != nil {
		return nil, err
	}
	return toAnyValue(agent, ptr), nil
}

// opCallSymbol dispatches synchronously, unless the symbol's definition
// set nonblocking: true at dlopen_get_symbol time (spec §4.6's ForeignFunction
// shape), in which case the call runs on the host data's worker pool and
// resolves a Promise instead of blocking the agent thread.
func opCallSymbol(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	m, err := manager(agent)
	if err != nil {
		return nil, err
	}
	libRid, _ := argRid(args, 0)
	name, _ := argString(args, 1)
	callArgs, _ := args[2].Export().([]any)

	def, err := m.SymbolDefinition(libRid, name)
	if err != nil {
		return nil, err
	}
	if !def.NonBlocking {
		result, err := m.CallSymbol(libRid, name, callArgs)
		if err != nil {
			return nil, err
		}
		return toAnyValue(agent, result), nil
	}

	promise := agent.NewPromise()
	data := agent.HostData()
	data.Spawn(func(ctx context.Context) {
		result, err := m.CallSymbol(libRid, name, callArgs)
		if err != nil {
			data.Post(hostdata.MacroTask{Kind: hostdata.KindRejectPromise, PromiseRef: promise.Ref, Message: err.Error()})
			return
		}
		data.Post(hostdata.MacroTask{Kind: hostdata.KindResolvePromiseWithData, PromiseRef: promise.Ref, Data: toPlainAsyncValue(result)})
	})
	return promise.Promise, nil
}

// toPlainAsyncValue narrows a CallSymbol result down to the plain-Go
// type set the event loop's cross-thread macro-task converter
// understands (nil/bool/float64/string), since []byte and *big.Int never
// cross that boundary directly elsewhere in this codebase either.
func toPlainAsyncValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return base64.StdEncoding.EncodeToString(x)
	case *big.Int:
		return x.String()
	default:
		return x
	}
}

func opDlclose(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	m, err := manager(agent)
	if err != nil {
		return nil, err
	}
	libRid, _ := argRid(args, 0)
	if err := m.Close(libRid); err != nil {
		return nil, err
	}
	return agent.Undefined(), nil
}

// opCreateCallback binds a real native function pointer to the supplied
// definition. The pointer is fully callable by foreign code (purego
// trampoline + libffi-style argument marshalling, same as call_symbol's
// direction), but it cannot call back into the supplied JS function: the
// Agent boundary this extension is built on (pkg/jsagent) has no
// primitive for invoking a script value from outside the agent thread,
// and a foreign call must return a value immediately, before the event
// loop could ever schedule script execution. Every invocation therefore
// resolves to the zero value for the declared result type; script-level
// side effects belong on the call_symbol/read_memory/write_memory path,
// which round-trips through real memory instead of through script.
func opCreateCallback(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	m, err := manager(agent)
	if err != nil {
		return nil, err
	}
	defObj, _ := argObject(args, 0)
	if len(args) < 2 {
		return nil, hosterror.New(hosterror.KindTypeError, "ffi: create_callback expects a function argument")
	}

	def := parseCallDefinition(defObj)
	rid, ptr, err := m.CreateCallback(def, func(callArgs []any) (any, error) {
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return agent.NewObject(map[string]jsagent.Value{
		"callbackId": agent.NewNumber(float64(rid)),
		"pointer":    toAnyValue(agent, ptr),
	}), nil
}

func opGetCallbackPointer(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	m, err := manager(agent)
	if err != nil {
		return nil, err
	}
	cbRid, _ := argRid(args, 0)
	ptr, err := m.GetCallbackPointer(cbRid)
	if err != nil {
		return nil, err
	}
	return toAnyValue(agent, ptr), nil
}

func opCallbackClose(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	m, err := manager(agent)
	if err != nil {
		return nil, err
	}
	cbRid, _ := argRid(args, 0)
	if err := m.CloseCallback(cbRid); err != nil {
		return nil, err
	}
	return agent.Undefined(), nil
}

func opPointerCreate(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	if len(args) < 1 {
		return nil, hosterror.New(hosterror.KindTypeError, "ffi: pointer_create expects a value")
	}
	ptr, err := PointerCreate(args[0].Export())
	if err != nil {
		return nil, err
	}
	return toAnyValue(agent, ptr), nil
}

func opPointerEquals(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	a, err := argPointer(args, 0)
	if err != nil {
		return nil, err
	}
	b, err := argPointer(args, 1)
	if err != nil {
		return nil, err
	}
	return agent.NewBool(PointerEquals(a, b)), nil
}

func opPointerOffset(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	ptr, err := argPointer(args, 0)
	if err != nil {
		return nil, err
	}
	delta, _ := args[1].Export().(float64)
	return toAnyValue(agent, PointerOffset(ptr, int64(delta))), nil
}

func opPointerValue(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	ptr, err := argPointer(args, 0)
	if err != nil {
		return nil, err
	}
	return toAnyValue(agent, PointerValue(ptr)), nil
}

func opPointerOf(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	m, err := manager(agent)
	if err != nil {
		return nil, err
	}
	if len(args) < 1 {
		return nil, hosterror.New(hosterror.KindTypeError, "ffi: pointer_of expects a buffer")
	}
	buf, err := toBytes(args[0].Export())
	if err != nil {
		return nil, err
	}
	return toAnyValue(agent, m.PointerOf(buf)), nil
}

func opReadMemory(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	m, err := manager(agent)
	if err != nil {
		return nil, err
	}
	ptr, err := argPointer(args, 0)
	if err != nil {
		return nil, err
	}
	offset, _ := args[1].Export().(float64)
	size, _ := args[2].Export().(float64)
	data, err := m.ReadMemory(ptr, int64(offset), int64(size))
	if err != nil {
		return nil, err
	}
	return agent.NewString(base64.StdEncoding.EncodeToString(data)), nil
}

func opWriteMemory(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	m, err := manager(agent)
	if err != nil {
		return nil, err
	}
	ptr, err := argPointer(args, 0)
	if err != nil {
		return nil, err
	}
	offset, _ := args[1].Export().(float64)
	b64, _ := args[2].Export().(string)
	data, decErr := base64.StdEncoding.DecodeString(b64)
	if decErr != nil {
		return nil, hosterror.Wrap(hosterror.KindEncodingError, decErr, "decoding write_memory data")
	}
	if err := m.WriteMemory(ptr, int64(offset), data); err != nil {
		return nil, err
	}
	return agent.Undefined(), nil
}
