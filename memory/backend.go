package memory

import (
	"fmt"
	"unsafe"

	"github.com/gomlx/devmem/accel"
)

// Kind of a Backend: the closed set of compute environments devmem knows how to allocate on.
type Kind int

const (
	// HostKind is the host processor, memory is allocated from the Go heap.
	HostKind Kind = iota

	// AcceleratorKind is an accelerator runtime, memory is allocated as managed (unified) memory.
	AcceleratorKind

	numKinds
)

var kindNames = [numKinds]string{
	HostKind:        "host",
	AcceleratorKind: "accelerator",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if k < 0 || k >= numKinds {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// Backend is one compute environment: the host, or one accelerator runtime (with possibly many devices).
// Backends are owned by a Manager, and referenced (not owned) by Device handles.
type Backend struct {
	kind    Kind
	runtime accel.Runtime // nil for the host.
}

// Kind of the backend.
func (b *Backend) Kind() Kind { return b.kind }

// Name of the backend: "host" or the accelerator runtime name.
func (b *Backend) Name() string {
	if b.kind == AcceleratorKind {
		return b.runtime.Name()
	}
	return b.kind.String()
}

// Runtime returns the accelerator runtime of the backend, or nil for the host.
func (b *Backend) Runtime() accel.Runtime { return b.runtime }

// String implements fmt.Stringer.
func (b *Backend) String() string { return b.Name() }

// capabilities is the set of functions implementing a Kind. There is one entry per Kind in capabilityTable,
// selected by the device's backend kind at each entry point.
type capabilities struct {
	// allocate size bytes (size > 0) on the device, returning the pointer, the storage to keep alive
	// (if any) and the release action matching the allocation.
	allocate func(m *Manager, device Device, size uintptr) (ptr unsafe.Pointer, release func() error, err error)

	// holds reports whether memory of the given residency (and accelerator device index) is already on device.
	holds func(device Device, residency Residency, index int) bool
}

var capabilityTable = [numKinds]capabilities{
	HostKind: {
		allocate: hostAllocate,
		holds: func(_ Device, residency Residency, _ int) bool {
			return residency == Host
		},
	},
	AcceleratorKind: {
		allocate: acceleratorAllocate,
		holds: func(device Device, residency Residency, index int) bool {
			return residency == AcceleratorManaged && index == device.index
		},
	},
}
