package memory

import (
	"fmt"
	"unsafe"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/devmem/accel"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Direction of a copy, given by the residencies of the source and destination.
type Direction int

const (
	// UnknownDirection is used in CopyError when a pointer couldn't be classified.
	UnknownDirection Direction = iota
	// HostToHost copies between host memory, with a plain memory copy.
	HostToHost
	// HostToAccelerator copies from host memory into managed accelerator memory.
	HostToAccelerator
	// AcceleratorToHost copies from managed accelerator memory into host memory.
	AcceleratorToHost
	// AcceleratorToAccelerator copies between managed accelerator memory, on the same or different devices.
	AcceleratorToAccelerator
	numDirections
)

var directionNames = [numDirections]string{
	UnknownDirection:         "UnknownDirection",
	HostToHost:               "HostToHost",
	HostToAccelerator:        "HostToAccelerator",
	AcceleratorToHost:        "AcceleratorToHost",
	AcceleratorToAccelerator: "AcceleratorToAccelerator",
}

// String implements fmt.Stringer.
func (d Direction) String() string {
	if d < 0 || d >= numDirections {
		return fmt.Sprintf("Direction(%d)", int(d))
	}
	return directionNames[d]
}

// directionOf the copy from src to dst residencies. Both must be known.
func directionOf(src, dst Residency) Direction {
	srcOnAccelerator := src == AcceleratorManaged
	dstOnAccelerator := dst == AcceleratorManaged
	switch {
	case !srcOnAccelerator && !dstOnAccelerator:
		return HostToHost
	case !srcOnAccelerator:
		return HostToAccelerator
	case !dstOnAccelerator:
		return AcceleratorToHost
	default:
		return AcceleratorToAccelerator
	}
}

// copyFn transfers size (> 0) bytes from src to dst.
type copyFn func(m *Manager, dst, src unsafe.Pointer, size uintptr) error

// runtimeCopy returns a copyFn that delegates to the accelerator runtime.
func runtimeCopy(kind accel.MemcpyKind) copyFn {
	return func(m *Manager, dst, src unsafe.Pointer, size uintptr) error {
		return m.runtime.Memcpy(dst, src, size, kind)
	}
}

var copyTable = [numDirections]copyFn{
	HostToHost: func(_ *Manager, dst, src unsafe.Pointer, size uintptr) error {
		// copy() handles overlapping memory, like memmove.
		copy(unsafe.Slice((*byte)(dst), size), unsafe.Slice((*byte)(src), size))
		return nil
	},
	HostToAccelerator:        runtimeCopy(accel.MemcpyHostToDevice),
	AcceleratorToHost:        runtimeCopy(accel.MemcpyDeviceToHost),
	AcceleratorToAccelerator: runtimeCopy(accel.MemcpyDeviceToDevice),
}

// Copy size bytes from src to dst, wherever each lives: the residency of each pointer is probed (see
// ProbeResidency) and the transfer is dispatched accordingly.
//
// Both pointers must point to at least size bytes: this is not checked (see CopyBuffer for a checked version).
// The copy is synchronous, the destination holds the bytes when Copy returns.
//
// On failure it returns a *CopyError, and the contents of dst are undefined.
// A pointer to unsupported memory returns a *CopyError wrapping ErrUnsupportedResidency.
func (m *Manager) Copy(dst, src unsafe.Pointer, size uintptr) error {
	srcResidency, _, err := m.probe(src)
	if err != nil {
		copyFailuresTotal.WithLabelValues(UnknownDirection.String()).Inc()
		return &CopyError{Direction: UnknownDirection, Size: size, Err: errors.WithMessage(err, "source")}
	}
	dstResidency, _, err := m.probe(dst)
	if err != nil {
		copyFailuresTotal.WithLabelValues(UnknownDirection.String()).Inc()
		return &CopyError{Direction: UnknownDirection, Size: size, Err: errors.WithMessage(err, "destination")}
	}
	direction := directionOf(srcResidency, dstResidency)
	if size > 0 {
		if dst == nil || src == nil {
			err = errors.Errorf("nil pointer (dst=%p, src=%p) for a %d bytes copy", dst, src, size)
		} else {
			err = copyTable[direction](m, dst, src, size)
		}
		if err != nil {
			copyFailuresTotal.WithLabelValues(direction.String()).Inc()
			return &CopyError{Direction: direction, Size: size, Err: err}
		}
	}
	copiesTotal.WithLabelValues(direction.String()).Inc()
	copiedBytesTotal.WithLabelValues(direction.String()).Add(float64(size))
	if klog.V(2).Enabled() {
		klog.Infof("copied %s %s: %p -> %p", humanize.IBytes(uint64(size)), direction, src, dst)
	}
	return nil
}

// CopyBuffer copies size bytes from src to dst. Different from Copy, it checks that both buffers are valid
// and large enough, otherwise it returns a *CopyError wrapping ErrReleased or ErrSizeMismatch.
func (m *Manager) CopyBuffer(dst, src *Buffer, size uintptr) error {
	for _, b := range []*Buffer{dst, src} {
		if !b.IsValid() {
			return &CopyError{Direction: UnknownDirection, Size: size,
				Err: errors.Wrap(ErrReleased, "CopyBuffer() with nil or released buffer")}
		}
	}
	if size > dst.Size() || size > src.Size() {
		return &CopyError{Direction: UnknownDirection, Size: size,
			Err: errors.Wrapf(ErrSizeMismatch, "CopyBuffer(): copying %d bytes from a %d bytes buffer to a %d bytes buffer",
				size, src.Size(), dst.Size())}
	}
	return m.Copy(dst.Data(), src.Data(), size)
}
