package ffiext

import (
	"math/big"
	"runtime"
	"unsafe"

	"github.com/freitascorp/andromeda/pkg/hosterror"
)

// PointerCreate coerces a JS number/bigint into a pointer-valued bigint.
func PointerCreate(v any) (*big.Int, error) {
	return toPointer(v)
}

// PointerEquals compares two pointers as unsigned integers.
func PointerEquals(a, b *big.Int) bool {
	return a.Cmp(b) == 0
}

// PointerOffset yields a new pointer delta bytes from ptr. No bounds
// checking: this is FFI, not a safe API.
func PointerOffset(ptr *big.Int, delta int64) *big.Int {
	return new(big.Int).Add(ptr, big.NewInt(delta))
}

// PointerValue returns ptr unchanged, as the arbitrary-precision integer
// script sees a pointer as.
func PointerValue(ptr *big.Int) *big.Int {
	return new(big.Int).Set(ptr)
}

// PointerOf returns the address of an engine-managed byte buffer, pinned
// for the lifetime of m so the GC never relocates it out from under the
// foreign side.
func (m *Manager) PointerOf(buf []byte) *big.Int {
	if len(buf) == 0 {
		return big.NewInt(0)
	}
	m.pinner.Pin(&buf[0])
	return new(big.Int).SetUint64(uint64(uintptr(unsafe.Pointer(&buf[0]))))
}

// ReadMemory copies size bytes starting at ptr+offset out of the
// process's address space.
func (m *Manager) ReadMemory(ptr *big.Int, offset, size int64) ([]byte, error) {
	if size < 0 {
		return nil, hosterror.New(hosterror.KindRangeError, "ffi: read_memory size must be non-negative")
	}
	if size == 0 {
		return nil, nil
	}
	addr := uintptr(ptr.Uint64()) + uintptr(offset)
	out := make([]byte, size)
	src := unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
	copy(out, src)
	runtime.KeepAlive(ptr)
	return out, nil
}

// WriteMemory copies data into the process's address space starting at
// ptr+offset.
func (m *Manager) WriteMemory(ptr *big.Int, offset int64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	addr := uintptr(ptr.Uint64()) + uintptr(offset)
	dst := unsafe.Slice((*byte)(unsafe.Pointer(addr)), len(data))
	copy(dst, data)
	runtime.KeepAlive(ptr)
	return nil
}
