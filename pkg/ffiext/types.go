// Package ffiext implements the FFI capability (spec §4.6): dynamic
// library loading, symbol calls, callbacks and raw pointer/memory access,
// built on purego so the runtime never needs cgo.
package ffiext

import (
	"encoding/base64"
	"math"
	"math/big"

	"github.com/freitascorp/andromeda/pkg/hosterror"
)

// NativeType is one tag of the native-type set a foreign function's
// parameters and result are declared with.
type NativeType string

const (
	TypeVoid     NativeType = "void"
	TypeBool     NativeType = "bool"
	TypeU8       NativeType = "u8"
	TypeI8       NativeType = "i8"
	TypeU16      NativeType = "u16"
	TypeI16      NativeType = "i16"
	TypeU32      NativeType = "u32"
	TypeI32      NativeType = "i32"
	TypeU64      NativeType = "u64"
	TypeI64      NativeType = "i64"
	TypeUsize    NativeType = "usize"
	TypeIsize    NativeType = "isize"
	TypeF32      NativeType = "f32"
	TypeF64      NativeType = "f64"
	TypePointer  NativeType = "pointer"
	TypeBuffer   NativeType = "buffer"
	TypeFunction NativeType = "function"
)

func validType(t NativeType) bool {
	switch t {
	case TypeVoid, TypeBool, TypeU8, TypeI8, TypeU16, TypeI16, TypeU32, TypeI32,
		TypeU64, TypeI64, TypeUsize, TypeIsize, TypeF32, TypeF64, TypePointer,
		TypeBuffer, TypeFunction:
		return true
	default:
		return false
	}
}

// CallDefinition is the parameter/result shape bound to a symbol or
// callback at dlopen_get_symbol / create_callback time.
type CallDefinition struct {
	Parameters  []NativeType
	Result      NativeType
	NonBlocking bool
}

func isFloatType(t NativeType) bool {
	return t == TypeF32 || t == TypeF64
}

// nativeValue is the tagged union a marshalled argument or return value
// is carried in on its way through purego.SyscallN. Integer, bool and
// pointer types travel in bits; float types travel via their IEEE-754
// bit pattern reinterpreted into the same register since SyscallN only
// moves uintptr-width words.
type nativeValue struct {
	typ   NativeType
	bits  uint64
	bytes []byte
}

func (v nativeValue) asUintptr() uintptr {
	return uintptr(v.bits)
}

func floatToBits(t NativeType, f float64) uint64 {
	if t == TypeF32 {
		return uint64(math.Float32bits(float32(f)))
	}
	return math.Float64bits(f)
}

func bitsToFloat(t NativeType, bits uint64) float64 {
	if t == TypeF32 {
		return float64(math.Float32frombits(uint32(bits)))
	}
	return math.Float64frombits(bits)
}

// widenInteger applies spec §4.6's integer-widening-to-float64-or-bigint
// return rule: results that fit the JS safe-integer range come back as
// float64, everything else as *big.Int.
func widenInteger(v int64) any {
	const maxSafe = 1<<53 - 1
	if v >= -maxSafe && v <= maxSafe {
		return float64(v)
	}
	bi := big.NewInt(v)
	return bi
}

func widenUnsigned(v uint64) any {
	const maxSafe = uint64(1)<<53 - 1
	if v <= maxSafe {
		return float64(v)
	}
	bi := new(big.Int).SetUint64(v)
	return bi
}

// toUint64 converts a JS-exported argument (float64 or *big.Int) into
// its raw unsigned 64-bit representation for an integer-family NativeType.
func toUint64(v any) (uint64, error) {
	switch x := v.(type) {
	case float64:
		return uint64(int64(x)), nil
	case *big.Int:
		return x.Uint64(), nil
	case int64:
		return uint64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case nil:
		return 0, nil
	default:
		return 0, hosterror.Newf(hosterror.KindTypeError, "ffi: cannot convert %T to an integer argument", v)
	}
}

func toFloat64(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case *big.Int:
		f := new(big.Float).SetInt(x)
		out, _ := f.Float64()
		return out, nil
	default:
		return 0, hosterror.Newf(hosterror.KindTypeError, "ffi: cannot convert %T to a float argument", v)
	}
}

// toBytes decodes a buffer-typed argument. Strings are treated as
// Base64, matching the binary-safety convention pkg/netext and pkg/vfs
// use at their own script boundaries.
func toBytes(v any) ([]byte, error) {
	switch x := v.(type) {
	case []byte:
		return x, nil
	case string:
		decoded, err := base64.StdEncoding.DecodeString(x)
		if err != nil {
			return nil, hosterror.Wrap(hosterror.KindEncodingError, err, "ffi: decoding buffer argument")
		}
		return decoded, nil
	case nil:
		return nil, nil
	default:
		return nil, hosterror.Newf(hosterror.KindTypeError, "ffi: cannot convert %T to a buffer argument", v)
	}
}

// toPointer accepts the three shapes a pointer value can arrive in: a
// *big.Int built natively, a float64 for small/literal addresses, or the
// decimal string form pointer-valued results cross the engine boundary
// as (jsagent has no native bigint constructor).
func toPointer(v any) (*big.Int, error) {
	switch x := v.(type) {
	case *big.Int:
		return x, nil
	case float64:
		bi, _ := big.NewFloat(x).Int(nil)
		return bi, nil
	case string:
		bi, ok := new(big.Int).SetString(x, 10)
		if !ok {
			return nil, hosterror.Newf(hosterror.KindTypeError, "ffi: %q is not a valid pointer value", x)
		}
		return bi, nil
	default:
		return nil, hosterror.Newf(hosterror.KindTypeError, "ffi: cannot convert %T to a pointer argument", v)
	}
}
