package memory

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Import makes buffer available on device.
//
// If buffer already lives on device (host memory for the host, managed memory of the same accelerator index for
// an accelerator) and it belongs to this Manager, it is returned as is, with one extra reference the caller
// must Release. Buffers of another Manager are always copied, so the result is on device. Otherwise, a new
// buffer of size bytes is allocated on device, size bytes are copied from buffer, and the new buffer is
// returned. size must not exceed buffer.Size(). The source buffer is never modified.
//
// A buffer pointing to unsupported memory returns an error wrapping ErrUnsupportedResidency.
func (m *Manager) Import(device Device, buffer *Buffer, size uintptr) (*Buffer, error) {
	if err := m.checkDevice(device); err != nil {
		return nil, errors.WithMessage(err, "Import()")
	}
	if !buffer.IsValid() {
		return nil, errors.Wrap(ErrReleased, "Import() of nil or released buffer")
	}
	residency, index, err := m.probe(buffer.Data())
	if err != nil {
		return nil, errors.WithMessagef(err, "Import() to %s", device)
	}
	if buffer.Device() == device && capabilityTable[device.Kind()].holds(device, residency, index) {
		if err := buffer.Retain(); err != nil {
			return nil, err
		}
		importsTotal.WithLabelValues(importZeroCopy).Inc()
		klog.V(2).Infof("imported buffer %p into %s without copying", buffer.Data(), device)
		return buffer, nil
	}

	imported, err := m.Allocate(device, size)
	if err != nil {
		return nil, err
	}
	if err := m.Copy(imported.Data(), buffer.Data(), size); err != nil {
		if releaseErr := imported.Release(); releaseErr != nil {
			klog.Errorf("failed to release buffer after failed import to %s: %+v", device, releaseErr)
		}
		return nil, err
	}
	importsTotal.WithLabelValues(importCopied).Inc()
	klog.V(2).Infof("imported buffer %p (%s) into %s by copying to %p", buffer.Data(), residency, device, imported.Data())
	return imported, nil
}
