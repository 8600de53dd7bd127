package memory

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/gomlx/devmem/dtypes"
	"github.com/pkg/errors"
)

// FlatDataToRaw returns the bytes of flat (without copying), its dtype and its dimensions.
//
// If no dimensions are given, flat is taken as a 1D array. It panics if the product of the dimensions doesn't
// match len(flat).
func FlatDataToRaw[T dtypes.Supported](flat []T, dimensions ...int) ([]byte, dtypes.DType, []int) {
	dtype := dtypes.FromGenericsType[T]()
	if len(dimensions) == 0 {
		dimensions = []int{len(flat)}
	}
	size := 1
	for _, dim := range dimensions {
		size *= dim
	}
	if size != len(flat) {
		panic(fmt.Sprintf("FlatDataToRaw: dimensions %v (size %d) don't match len(flat)=%d", dimensions, size, len(flat)))
	}
	if len(flat) == 0 {
		return []byte{}, dtype, dimensions
	}
	var zero T
	raw := unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(flat))), len(flat)*int(unsafe.Sizeof(zero)))
	return raw, dtype, dimensions
}

// ScalarToRaw returns the bytes of a copy of value, its dtype and its (empty) dimensions.
func ScalarToRaw[T dtypes.Supported](value T) ([]byte, dtypes.DType, []int) {
	dtype := dtypes.FromGenericsType[T]()
	rawSlice := unsafe.Slice((*byte)(unsafe.Pointer(&value)), int(unsafe.Sizeof(value)))
	return rawSlice, dtype, nil
}

// FromFlat allocates a buffer on device and copies flat to it.
func FromFlat[T dtypes.Supported](m *Manager, device Device, flat []T) (*Buffer, error) {
	raw, _, _ := FlatDataToRaw(flat)
	buffer, err := m.Allocate(device, uintptr(len(raw)))
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return buffer, nil
	}
	if err := m.Copy(buffer.Data(), unsafe.Pointer(unsafe.SliceData(raw)), uintptr(len(raw))); err != nil {
		_ = buffer.Release()
		return nil, err
	}
	return buffer, nil
}

// ToFlat copies the contents of buffer, wherever it lives, to a new slice of T.
// The buffer size must be a multiple of the size of T.
func ToFlat[T dtypes.Supported](m *Manager, buffer *Buffer) ([]T, error) {
	if !buffer.IsValid() {
		return nil, errors.Wrap(ErrReleased, "ToFlat() of nil or released buffer")
	}
	var zero T
	elementSize := unsafe.Sizeof(zero)
	if buffer.Size()%elementSize != 0 {
		return nil, errors.Errorf("ToFlat[%T](): buffer of %d bytes is not a multiple of the %s element size (%d bytes)",
			zero, buffer.Size(), dtypes.FromGenericsType[T](), elementSize)
	}
	flat := make([]T, buffer.Size()/elementSize)
	if len(flat) == 0 {
		return flat, nil
	}
	if err := m.Copy(unsafe.Pointer(unsafe.SliceData(flat)), buffer.Data(), buffer.Size()); err != nil {
		return nil, err
	}
	return flat, nil
}

// WrapFlat returns a host Buffer viewing the memory of flat, without copying. flat is kept alive until the buffer
// is released, and it must not be resized (appended to) in the meantime.
func WrapFlat[T dtypes.Supported](m *Manager, flat []T) (*Buffer, error) {
	raw, _, _ := FlatDataToRaw(flat)
	var data unsafe.Pointer
	if len(raw) > 0 {
		data = unsafe.Pointer(unsafe.SliceData(raw))
	} else {
		// Empty slices may have no backing array: a distinct non-nil pointer stands in.
		data = unsafe.Pointer(new(byte))
	}
	return m.Wrap(m.HostDevice(), data, uintptr(len(raw)), func() error {
		runtime.KeepAlive(flat)
		return nil
	})
}
