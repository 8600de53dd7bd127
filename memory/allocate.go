package memory

import (
	"unsafe"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Allocate size bytes on the device, and returns the new Buffer with one reference.
//
// Host buffers are allocated from the Go heap aligned to BufferAlignment. Accelerator buffers are allocated as
// managed memory by the accelerator runtime. A size of 0 returns a valid 0-sized buffer, with a non-nil
// pointer distinct from other live buffers, and it must be released like any other.
//
// On failure it returns an *AllocationError wrapping the backend cause (e.g. accel.ErrOutOfMemory), and no
// Buffer is created.
func (m *Manager) Allocate(device Device, size uintptr) (*Buffer, error) {
	if err := m.checkDevice(device); err != nil {
		return nil, &AllocationError{Device: device, Size: size, Err: err}
	}
	kind := device.Kind()
	reservedSize := max(size, 1)
	ptr, release, err := capabilityTable[kind].allocate(m, device, reservedSize)
	if err != nil {
		allocationFailuresTotal.WithLabelValues(kind.String()).Inc()
		return nil, &AllocationError{Device: device, Size: size, Err: err}
	}
	allocationsTotal.WithLabelValues(kind.String()).Inc()
	if klog.V(2).Enabled() {
		klog.Infof("allocated %s on %s at %p", humanize.IBytes(uint64(size)), device, ptr)
	}
	return newBuffer(device, ptr, size, reservedSize, release), nil
}

// acceleratorAllocate implements capabilities.allocate for accelerators.
func acceleratorAllocate(_ *Manager, device Device, size uintptr) (ptr unsafe.Pointer, release func() error, err error) {
	rt := device.backend.runtime
	ptr, err = rt.MallocManaged(device.index, size)
	if err != nil {
		return nil, nil, err
	}
	if ptr == nil {
		return nil, nil, errors.Errorf("%s.MallocManaged(%d, %d) returned a nil pointer", rt.Name(), device.index, size)
	}
	release = func() error {
		if err := rt.Free(ptr); err != nil {
			return errors.WithMessagef(err, "failed to free %p on %s", ptr, device)
		}
		return nil
	}
	return ptr, release, nil
}
