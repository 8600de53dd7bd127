package memory

import (
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Buffer is an owned, reference-counted region of memory on a Device.
//
// A Buffer is created with a reference count of 1. Retain adds a reference (the same *Buffer is shared), and
// Release drops one: the release action bound at creation (freeing the host or accelerator memory, or the
// caller's action for wrapped memory) runs exactly once, when the last reference is dropped, from whichever goroutine drops it.
//
// Buffers that are garbage collected without being released are released automatically, and errors are
// logged.
type Buffer struct {
	data     unsafe.Pointer
	size     uintptr
	device   Device
	refs     atomic.Int64
	releaser *releaser
}

// releaser holds the release action of a Buffer. It must not reference the Buffer, so the Buffer can be
// garbage collected.
type releaser struct {
	once    sync.Once
	release func() error
	err     error
	kind    Kind
	size    uintptr
}

// run the release action, at most once. Following calls return the same error.
func (r *releaser) run() error {
	r.once.Do(func() {
		r.err = r.release()
		r.release = nil
		buffersAlive.Add(-1)
		kind := r.kind.String()
		buffersLive.WithLabelValues(kind).Dec()
		bytesLive.WithLabelValues(kind).Sub(float64(r.size))
		if r.err != nil {
			releaseFailuresTotal.WithLabelValues(kind).Inc()
		}
	})
	return r.err
}

var buffersAlive atomic.Int64

// BuffersAlive returns the number of Buffers not yet released, in all Managers.
func BuffersAlive() int64 {
	return buffersAlive.Load()
}

// newBuffer creates a Buffer with one reference and registers it for release on garbage collection.
// reservedSize is the number of bytes actually reserved, which is accounted in the metrics.
func newBuffer(device Device, data unsafe.Pointer, size, reservedSize uintptr, release func() error) *Buffer {
	b := &Buffer{
		data:   data,
		size:   size,
		device: device,
		releaser: &releaser{
			release: release,
			kind:    device.Kind(),
			size:    reservedSize,
		},
	}
	b.refs.Store(1)
	buffersAlive.Add(1)
	kind := device.Kind().String()
	buffersLive.WithLabelValues(kind).Inc()
	bytesLive.WithLabelValues(kind).Add(float64(reservedSize))

	runtime.AddCleanup(b, func(r *releaser) {
		if err := r.run(); err != nil {
			klog.Errorf("memory.Buffer release on garbage collection failed: %+v", err)
		}
	}, b.releaser)
	return b
}

// Data returns the pointer to the buffer memory. It is never nil, even for 0-sized buffers, and it is only
// valid while the buffer holds references.
func (b *Buffer) Data() unsafe.Pointer { return b.data }

// Size in bytes of the buffer.
func (b *Buffer) Size() uintptr { return b.size }

// Device where the buffer lives.
func (b *Buffer) Device() Device { return b.device }

// IsValid returns whether the buffer still holds references.
func (b *Buffer) IsValid() bool {
	return b != nil && b.refs.Load() > 0
}

// Bytes returns a view of the buffer memory. Host and managed accelerator memory are both accessible from the
// host, so this works for any Buffer. The view is only valid while the buffer holds references.
func (b *Buffer) Bytes() []byte {
	if b.size == 0 {
		return []byte{}
	}
	return unsafe.Slice((*byte)(b.data), b.size)
}

// Retain adds a reference to the buffer, to be dropped with a matching Release.
// It returns ErrReleased if the buffer was already released.
func (b *Buffer) Retain() error {
	for {
		refs := b.refs.Load()
		if refs <= 0 {
			return errors.Wrapf(ErrReleased, "Retain() on buffer %p of %s", b.data, b.device)
		}
		if b.refs.CompareAndSwap(refs, refs+1) {
			return nil
		}
	}
}

// Release drops one reference to the buffer. When the last reference is dropped the memory is released, and
// the error of the release action (if any) is returned.
// It returns ErrReleased if the buffer was already released.
func (b *Buffer) Release() error {
	for {
		refs := b.refs.Load()
		if refs <= 0 {
			return errors.Wrapf(ErrReleased, "Release() on buffer %p of %s", b.data, b.device)
		}
		if b.refs.CompareAndSwap(refs, refs-1) {
			if refs > 1 {
				return nil
			}
			break
		}
	}
	defer runtime.KeepAlive(b)
	return b.releaser.run()
}

// Wrap adopts memory owned by the caller as a Buffer on device, without copying. The Buffer is counted and
// released like any other: release (it may be nil) is called once, when the last reference is dropped.
//
// data must be non-nil and live on device: host memory (anything the accelerator runtime doesn't know about)
// for the host, or managed memory of the same accelerator index. Otherwise it returns an error wrapping
// ErrInvalidDevice, or ErrUnsupportedResidency for accelerator memory that is not managed.
func (m *Manager) Wrap(device Device, data unsafe.Pointer, size uintptr, release func() error) (*Buffer, error) {
	if err := m.checkDevice(device); err != nil {
		return nil, errors.WithMessage(err, "Wrap()")
	}
	if data == nil {
		return nil, errors.Errorf("Wrap(): nil pointer for %d bytes on %s", size, device)
	}
	residency, index, err := m.probe(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "Wrap() on %s", device)
	}
	if !capabilityTable[device.Kind()].holds(device, residency, index) {
		return nil, errors.Wrapf(ErrInvalidDevice, "Wrap(): pointer %p is %s memory (device index %d), not on %s",
			data, residency, index, device)
	}
	if release == nil {
		release = func() error { return nil }
	}
	return newBuffer(device, data, size, size, release), nil
}
