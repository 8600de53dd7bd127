// Package accel defines what an accelerator runtime must provide to devmem: managed allocation,
// release, pointer classification and memory transfers.
//
// Concrete runtimes live in sub-packages: accel/virtual (pure Go, always available) and accel/cuda
// (Nvidia CUDA, requires the "cuda" build tag on Linux).
package accel

import "unsafe"

// Generate String and parsing methods for MemcpyKind and MemoryType.
//go:generate go tool enumer -type=MemcpyKind -output=gen_memcpykind_enumer.go runtime.go
//go:generate go tool enumer -type=MemoryType -output=gen_memorytype_enumer.go runtime.go

// MemcpyKind is the direction of a transfer requested from a Runtime.
// The values follow CUDA's cudaMemcpyKind.
type MemcpyKind int32

const (
	MemcpyHostToHost MemcpyKind = iota
	MemcpyHostToDevice
	MemcpyDeviceToHost
	MemcpyDeviceToDevice

	// MemcpyDefault lets the runtime infer the direction from the pointers.
	MemcpyDefault
)

// MemoryType is how a Runtime classifies a pointer. The values follow CUDA's cudaMemoryType.
type MemoryType int32

const (
	// MemoryUnregistered is memory the runtime knows nothing about: plain host memory.
	MemoryUnregistered MemoryType = iota

	// MemoryHost is host memory allocated (pinned) or registered by the runtime.
	MemoryHost

	// MemoryDevice is device-only memory, e.g. allocated with cudaMalloc.
	MemoryDevice

	// MemoryManaged is unified (managed) memory, addressable from both the host and the device.
	MemoryManaged
)

// PointerAttributes is what a Runtime reports about a pointer.
type PointerAttributes struct {
	Type MemoryType

	// Device ordinal owning the memory. Only meaningful if Type is not MemoryUnregistered.
	Device int
}

// Runtime is one accelerator runtime (driver context) with one or more devices, identified by their ordinal.
//
// Implementations must be safe for concurrent use, at least to the extent the underlying hardware
// runtime is: devmem adds no locking of its own.
type Runtime interface {
	// Name of the runtime, for logging and error messages.
	Name() string

	// NumDevices returns the number of devices addressable by the runtime.
	NumDevices() int

	// MallocManaged allocates unified (managed) memory associated with the given device.
	// The memory is addressable from the host.
	MallocManaged(device int, size uintptr) (unsafe.Pointer, error)

	// Malloc allocates device-only memory.
	Malloc(device int, size uintptr) (unsafe.Pointer, error)

	// MallocHost allocates page-locked host memory registered with the runtime.
	MallocHost(size uintptr) (unsafe.Pointer, error)

	// Free releases memory allocated by any of the Malloc* methods.
	Free(ptr unsafe.Pointer) error

	// PointerAttributes classifies ptr. Pointers unknown to the runtime (including nil) are
	// reported as MemoryUnregistered, not as an error.
	PointerAttributes(ptr unsafe.Pointer) (PointerAttributes, error)

	// Memcpy copies size bytes from src to dst and returns once the destination is readable.
	Memcpy(dst, src unsafe.Pointer, size uintptr, kind MemcpyKind) error
}
