package memory

import (
	"fmt"
	"unsafe"

	"github.com/gomlx/devmem/accel"
	"github.com/pkg/errors"
)

// Residency is where the memory pointed to by a pointer physically lives, as far as copying is concerned.
type Residency int

const (
	// UnknownResidency is returned along with errors.
	UnknownResidency Residency = iota

	// Host memory: the Go heap, C heap, stack, or anything the accelerator runtime doesn't know about.
	Host

	// AcceleratorManaged is accelerator managed (unified) memory, accessible from the host and the device.
	AcceleratorManaged
)

// String implements fmt.Stringer.
func (r Residency) String() string {
	switch r {
	case Host:
		return "Host"
	case AcceleratorManaged:
		return "AcceleratorManaged"
	case UnknownResidency:
		return "UnknownResidency"
	default:
		return fmt.Sprintf("Residency(%d)", int(r))
	}
}

// ProbeResidency classifies the memory pointed to by ptr.
//
// A nil pointer, and any pointer the accelerator runtime doesn't know about, is Host. Managed memory of the
// accelerator runtime is AcceleratorManaged. Device-only memory or host memory allocated (pinned) by the
// accelerator runtime returns an error wrapping ErrUnsupportedResidency. Failures querying the runtime are
// returned as is.
//
// If the Manager has no accelerator runtime, every pointer is Host.
func (m *Manager) ProbeResidency(ptr unsafe.Pointer) (Residency, error) {
	residency, _, err := m.probe(ptr)
	return residency, err
}

// probe implements ProbeResidency, and also returns the accelerator device index for AcceleratorManaged memory.
func (m *Manager) probe(ptr unsafe.Pointer) (residency Residency, index int, err error) {
	if ptr == nil || m.runtime == nil {
		return Host, 0, nil
	}
	var attr accel.PointerAttributes
	attr, err = m.runtime.PointerAttributes(ptr)
	if err != nil {
		err = errors.WithMessagef(err, "failed to probe residency of %p", ptr)
		return UnknownResidency, 0, err
	}
	switch attr.Type {
	case accel.MemoryUnregistered:
		return Host, 0, nil
	case accel.MemoryManaged:
		return AcceleratorManaged, attr.Device, nil
	default:
		err = errors.Wrapf(ErrUnsupportedResidency, "pointer %p is %s memory of %s device %d, only managed accelerator memory is supported",
			ptr, attr.Type, m.runtime.Name(), attr.Device)
		return UnknownResidency, 0, err
	}
}
