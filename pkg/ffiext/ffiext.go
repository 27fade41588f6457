package ffiext

import (
	"math/big"
	"runtime"
	"unsafe"

	"github.com/ebitengine/purego"

	"github.com/freitascorp/andromeda/pkg/hosterror"
	"github.com/freitascorp/andromeda/pkg/resource"
)

// Symbol is a resolved function pointer bound to the parameter/result
// shape it was declared with at dlopen_get_symbol time.
type Symbol struct {
	Name    string
	Pointer uintptr
	Def     CallDefinition
}

// Library is one open dynamic library: its OS handle plus every symbol
// resolved from it so far.
type Library struct {
	Path    string
	handle  uintptr
	symbols map[string]*Symbol
}

// Callback is a JS function exposed as a native function pointer, for
// passing into a foreign call that expects one.
type Callback struct {
	Def     CallDefinition
	Pointer uintptr
	fn      func(args []any) (any, error)
}

// Manager owns every open library and created callback for one agent.
type Manager struct {
	libs      *resource.Table[*Library]
	callbacks *resource.Table[*Callback]
	pinner    runtime.Pinner
}

func NewManager() *Manager {
	return &Manager{
		libs:      resource.NewTable[*Library](),
		callbacks: resource.NewTable[*Callback](),
	}
}

// Open dlopens path and returns its library resource id.
func (m *Manager) Open(path string) (resource.Rid, error) {
	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return 0, hosterror.Wrap(hosterror.KindResourceError, err, "ffi: dlopen failed")
	}
	lib := &Library{Path: path, handle: handle, symbols: make(map[string]*Symbol)}
	return m.libs.Push(lib), nil
}

func (m *Manager) library(rid resource.Rid) (*Library, error) {
	lib, ok := m.libs.Get(rid)
	if !ok {
		return nil, hosterror.New(hosterror.KindResourceError, "ffi: unknown library handle")
	}
	return lib, nil
}

// GetSymbol resolves name within lib, binds it to def, and returns its
// address as a pointer value.
func (m *Manager) GetSymbol(libRid resource.Rid, name string, def CallDefinition) (*big.Int, error) {
	lib, err := m.library(libRid)
	if err != nil {
		return nil, err
	}
	for _, t := range def.Parameters {
		if !validType(t) {
			return nil, hosterror.Newf(hosterror.KindTypeError, "ffi: unknown parameter type %q", t)
		}
	}
	if def.Result != "" && !validType(def.Result) {
		return nil, hosterror.Newf(hosterror.KindTypeError, "ffi: unknown result type %q", def.Result)
	}
	ptr, err := purego.Dlsym(lib.handle, name)
	if err != nil {
		return nil, hosterror.Wrap(hosterror.KindResourceError, err, "ffi: symbol not found: "+name)
	}
	lib.symbols[name] = &Symbol{Name: name, Pointer: ptr, Def: def}
	return new(big.Int).SetUint64(uint64(ptr)), nil
}

// CallSymbol marshals args per the symbol's declared parameter types,
// calls through via purego.SyscallN, and widens the result per the
// symbol's declared result type.
func (m *Manager) CallSymbol(libRid resource.Rid, name string, args []any) (any, error) {
	lib, err := m.library(libRid)
	if err != nil {
		return nil, err
	}
	sym, ok := lib.symbols[name]
	if !ok {
		return nil, hosterror.New(hosterror.KindResourceError, "ffi: symbol not resolved, call dlopen_get_symbol first: "+name)
	}
	if len(args) != len(sym.Def.Parameters) {
		return nil, hosterror.Newf(hosterror.KindRangeError, "ffi: %s expects %d arguments, got %d", name, len(sym.Def.Parameters), len(args))
	}

	var pinner runtime.Pinner
	defer pinner.Unpin()

	callArgs := make([]uintptr, len(args))
	for i, a := range args {
		word, err := m.marshalArg(&pinner, sym.Def.Parameters[i], a)
		if err != nil {
			return nil, err
		}
		callArgs[i] = word
	}

	r1, _, errno := purego.SyscallN(sym.Pointer, callArgs...)
	if errno != 0 {
		return nil, hosterror.Newf(hosterror.KindResourceError, "ffi: %s returned errno %d", name, errno)
	}
	return m.unmarshalResult(sym.Def.Result, r1), nil
}

func (m *Manager) marshalArg(pinner *runtime.Pinner, t NativeType, a any) (uintptr, error) {
	switch t {
	case TypeVoid:
		return 0, nil
	case TypeBool, TypeU8, TypeI8, TypeU16, TypeI16, TypeU32, TypeI32,
		TypeU64, TypeI64, TypeUsize, TypeIsize:
		v, err := toUint64(a)
		if err != nil {
			return 0, err
		}
		return uintptr(v), nil
	case TypeF32, TypeF64:
		f, err := toFloat64(a)
		if err != nil {
			return 0, err
		}
		return uintptr(floatToBits(t, f)), nil
	case TypePointer:
		p, err := toPointer(a)
		if err != nil {
			return 0, err
		}
		return uintptr(p.Uint64()), nil
	case TypeBuffer:
		b, err := toBytes(a)
		if err != nil {
			return 0, err
		}
		if len(b) == 0 {
			return 0, nil
		}
		pinner.Pin(&b[0])
		return uintptr(unsafe.Pointer(&b[0])), nil
	case TypeFunction:
		cbRid, ok := a.(resource.Rid)
		if !ok {
			n, err := toUint64(a)
			if err != nil {
				return 0, err
			}
			return uintptr(n), nil
		}
		cb, ok := m.callbacks.Get(cbRid)
		if !ok {
			return 0, hosterror.New(hosterror.KindResourceError, "ffi: unknown callback handle")
		}
		return cb.Pointer, nil
	default:
		return 0, hosterror.Newf(hosterror.KindTypeError, "ffi: unsupported parameter type %q", t)
	}
}

func (m *Manager) unmarshalResult(t NativeType, r1 uintptr) any {
	switch t {
	case "", TypeVoid:
		return nil
	case TypeBool:
		return r1 != 0
	case TypeU8, TypeU16, TypeU32, TypeU64, TypeUsize:
		return widenUnsigned(uint64(r1))
	case TypeI8:
		return widenInteger(int64(int8(r1)))
	case TypeI16:
		return widenInteger(int64(int16(r1)))
	case TypeI32:
		return widenInteger(int64(int32(r1)))
	case TypeI64, TypeIsize:
		return widenInteger(int64(r1))
	case TypeF32, TypeF64:
		return bitsToFloat(t, uint64(r1))
	case TypePointer:
		return new(big.Int).SetUint64(uint64(r1))
	default:
		return widenUnsigned(uint64(r1))
	}
}

// SymbolDefinition returns the call shape a symbol was bound with, so
// callers can tell a nonblocking symbol apart before dispatching it.
func (m *Manager) SymbolDefinition(libRid resource.Rid, name string) (CallDefinition, error) {
	lib, err := m.library(libRid)
	if err != nil {
		return CallDefinition{}, err
	}
	sym, ok := lib.symbols[name]
	if !ok {
		return CallDefinition{}, hosterror.New(hosterror.KindResourceError, "ffi: symbol not resolved, call dlopen_get_symbol first: "+name)
	}
	return sym.Def, nil
}

// Close releases a library handle. Symbols resolved from it become
// invalid; calling through them afterward is undefined, same as dlclose.
func (m *Manager) Close(libRid resource.Rid) error {
	lib, ok := m.libs.Remove(libRid)
	if !ok {
		return hosterror.New(hosterror.KindResourceError, "ffi: unknown library handle")
	}
	return purego.Dlclose(lib.handle)
}
