package ffiext

import (
	"math/big"

	"github.com/ebitengine/purego"

	"github.com/freitascorp/andromeda/pkg/hosterror"
	"github.com/freitascorp/andromeda/pkg/resource"
)

// maxCallbackArity bounds how many parameters a created callback may
// declare; purego.NewCallback needs a concretely typed Go func, so each
// arity below is wired to its own trampoline.
const maxCallbackArity = 6

// CreateCallback exposes fn as a real native function pointer matching
// def's shape, backed by a purego trampoline of the declared arity.
//
// The trampoline calls fn directly, on whichever thread the foreign code
// invokes the pointer from; nothing is queued or handed over to the
// agent thread. Each raw argument is unmarshalled by its declared
// parameter type, fn is called, and its result is marshalled to
// def.Result. If fn returns an error, or its result cannot be
// marshalled, the trampoline returns 0.
func (m *Manager) CreateCallback(def CallDefinition, fn func(args []any) (any, error)) (resource.Rid, *big.Int, error) {
	if len(def.Parameters) > maxCallbackArity {
		return 0, nil, hosterror.Newf(hosterror.KindRangeError, "ffi: callback arity %d exceeds the %d-parameter limit", len(def.Parameters), maxCallbackArity)
	}
	for _, t := range def.Parameters {
		if !validType(t) {
			return 0, nil, hosterror.Newf(hosterror.KindTypeError, "ffi: unknown callback parameter type %q", t)
		}
	}

	dispatch := func(raw []uintptr) uintptr {
		args := make([]any, len(def.Parameters))
		for i, t := range def.Parameters {
			args[i] = m.unmarshalResult(t, raw[i])
		}
		result, err := fn(args)
		if err != nil {
			return 0
		}
		word, err := m.marshalArg(&m.pinner, def.Result, result)
		if err != nil {
			return 0
		}
		return word
	}

	trampoline := makeTrampoline(len(def.Parameters), dispatch)
	ptr := purego.NewCallback(trampoline)

	cb := &Callback{Def: def, Pointer: ptr, fn: fn}
	rid := m.callbacks.Push(cb)
	return rid, new(big.Int).SetUint64(uint64(ptr)), nil
}

// GetCallbackPointer returns the native pointer for a callback created
// earlier, or an error if the handle is unknown or already closed.
func (m *Manager) GetCallbackPointer(cbRid resource.Rid) (*big.Int, error) {
	cb, ok := m.callbacks.Get(cbRid)
	if !ok {
		return nil, hosterror.New(hosterror.KindResourceError, "ffi: unknown callback handle")
	}
	return new(big.Int).SetUint64(uint64(cb.Pointer)), nil
}

// CloseCallback releases a callback. The pointer becomes invalid for
// any foreign code still holding it.
func (m *Manager) CloseCallback(cbRid resource.Rid) error {
	if _, ok := m.callbacks.Remove(cbRid); !ok {
		return hosterror.New(hosterror.KindResourceError, "ffi: unknown callback handle")
	}
	return nil
}

// makeTrampoline returns a concretely-typed Go func of the given arity
// so purego.NewCallback can generate a matching C-callable stub; dispatch
// receives the raw uintptr arguments and returns the raw uintptr result.
func makeTrampoline(arity int, dispatch func([]uintptr) uintptr) any {
	switch arity {
	case 0:
		return func() uintptr { return dispatch(nil) }
	case 1:
		return func(a0 uintptr) uintptr { return dispatch([]uintptr{a0}) }
	case 2:
		return func(a0, a1 uintptr) uintptr { return dispatch([]uintptr{a0, a1}) }
	case 3:
		return func(a0, a1, a2 uintptr) uintptr { return dispatch([]uintptr{a0, a1, a2}) }
	case 4:
		return func(a0, a1, a2, a3 uintptr) uintptr { return dispatch([]uintptr{a0, a1, a2, a3}) }
	case 5:
		return func(a0, a1, a2, a3, a4 uintptr) uintptr { return dispatch([]uintptr{a0, a1, a2, a3, a4}) }
	default:
		return func(a0, a1, a2, a3, a4, a5 uintptr) uintptr { return dispatch([]uintptr{a0, a1, a2, a3, a4, a5}) }
	}
}
