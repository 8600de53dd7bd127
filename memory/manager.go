// Package memory implements a device-abstracted memory manager: numeric buffers are allocated on the host or
// on an accelerator, copied across any combination of the two, and imported into a device without copying
// whenever they already live there.
//
// The entry point is the Manager, configured with an optional accelerator runtime (see package accel):
//
//	rt := must.M1(virtual.New().WithDevices(2).Done())
//	m := must.M1(memory.New().WithAccelerator(rt).Done())
//	buf := must.M1(m.Allocate(must.M1(m.AcceleratorDevice(0)), 1024))
//	defer buf.Release()
//
// Accelerator memory is always allocated as managed (unified) memory. Pointers to accelerator memory allocated
// in any other way (device-only or pinned host memory) can't be classified and are rejected with
// ErrUnsupportedResidency.
package memory

import (
	"fmt"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/devmem/accel"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Manager owns the backends (the host and, optionally, one accelerator runtime) and implements the memory
// primitives over them: Allocate, Copy, Import and ProbeResidency.
//
// It is safe for concurrent use, as long as the accelerator runtime is.
type Manager struct {
	host        *Backend
	accelerator *Backend // nil if there is no accelerator runtime.
	runtime     accel.Runtime

	hostLimit uint64 // 0 for no limit.
	hostInUse atomic.Uint64
}

// Config for a new Manager. Create it with New, and finish it with Done.
type Config struct {
	runtime   accel.Runtime
	hostLimit uint64
	err       error
}

// New returns a configuration for a new Manager. Call Config.Done to create it.
//
// Without an accelerator runtime (see Config.WithAccelerator) the manager only has the host device.
func New() *Config {
	return &Config{}
}

// WithAccelerator sets the accelerator runtime used for accelerator devices. The Manager doesn't own the
// runtime: it's up to the caller to destroy it (if applicable) after all its buffers are released.
func (c *Config) WithAccelerator(rt accel.Runtime) *Config {
	if c.err != nil {
		return c
	}
	if rt == nil {
		c.err = errors.New("memory.New().WithAccelerator(nil): runtime cannot be nil")
		return c
	}
	if rt.NumDevices() <= 0 {
		c.err = errors.Errorf("memory.New().WithAccelerator(%s): runtime has no devices", rt.Name())
		return c
	}
	c.runtime = rt
	return c
}

// WithHostMemoryLimit limits the total number of bytes of live host buffers. Allocations beyond the limit
// fail with an AllocationError wrapping ErrHostOutOfMemory. The default (0) is no limit.
func (c *Config) WithHostMemoryLimit(bytes uint64) *Config {
	if c.err != nil {
		return c
	}
	c.hostLimit = bytes
	return c
}

// Done creates the Manager, or returns the first configuration error.
func (c *Config) Done() (*Manager, error) {
	if c.err != nil {
		return nil, c.err
	}
	m := &Manager{
		host:      &Backend{kind: HostKind},
		runtime:   c.runtime,
		hostLimit: c.hostLimit,
	}
	if c.runtime != nil {
		m.accelerator = &Backend{kind: AcceleratorKind, runtime: c.runtime}
	}
	klog.V(1).Infof("created %s", m)
	return m, nil
}

// String implements fmt.Stringer.
func (m *Manager) String() string {
	if m.accelerator == nil {
		return "memory.Manager(host)"
	}
	return fmt.Sprintf("memory.Manager(host, %s x %d)", m.accelerator.Name(), m.NumAccelerators())
}

// Runtime returns the accelerator runtime, or nil if there is none.
func (m *Manager) Runtime() accel.Runtime { return m.runtime }

// HostDevice returns the handle to the host device.
func (m *Manager) HostDevice() Device {
	return Device{backend: m.host}
}

// NumAccelerators returns the number of accelerator devices, 0 if there is no accelerator runtime.
func (m *Manager) NumAccelerators() int {
	if m.runtime == nil {
		return 0
	}
	return m.runtime.NumDevices()
}

// AcceleratorDevice returns the handle to the accelerator device with the given index.
func (m *Manager) AcceleratorDevice(index int) (Device, error) {
	if m.accelerator == nil {
		return Device{}, errors.Wrap(ErrInvalidDevice, "AcceleratorDevice(): manager has no accelerator runtime")
	}
	if index < 0 || index >= m.NumAccelerators() {
		return Device{}, errors.Wrapf(ErrInvalidDevice, "AcceleratorDevice(%d): only %d accelerators available",
			index, m.NumAccelerators())
	}
	return Device{backend: m.accelerator, index: index}, nil
}

// Devices returns the host device followed by all accelerator devices.
func (m *Manager) Devices() []Device {
	devices := make([]Device, 0, 1+m.NumAccelerators())
	devices = append(devices, m.HostDevice())
	for i := range m.NumAccelerators() {
		devices = append(devices, Device{backend: m.accelerator, index: i})
	}
	return devices
}

// checkDevice returns an error wrapping ErrInvalidDevice if the device doesn't belong to this manager.
func (m *Manager) checkDevice(device Device) error {
	switch {
	case device.backend == nil:
		return errors.Wrap(ErrInvalidDevice, "zero Device")
	case device.backend == m.host:
		return nil
	case device.backend == m.accelerator && device.index >= 0 && device.index < m.NumAccelerators():
		return nil
	default:
		return errors.Wrapf(ErrInvalidDevice, "device %s doesn't belong to %s", device, m)
	}
}

// reserveHost accounts size bytes of host memory against the limit, if one is set.
func (m *Manager) reserveHost(size uintptr) error {
	if m.hostLimit == 0 {
		m.hostInUse.Add(uint64(size))
		return nil
	}
	for {
		inUse := m.hostInUse.Load()
		if inUse+uint64(size) > m.hostLimit {
			return errors.Wrapf(ErrHostOutOfMemory, "%s requested, %s of %s limit in use",
				humanize.IBytes(uint64(size)), humanize.IBytes(inUse), humanize.IBytes(m.hostLimit))
		}
		if m.hostInUse.CompareAndSwap(inUse, inUse+uint64(size)) {
			return nil
		}
	}
}

func (m *Manager) unreserveHost(size uintptr) {
	m.hostInUse.Add(-uint64(size))
}

// HostMemoryInUse returns the number of bytes reserved by live host buffers of this manager.
func (m *Manager) HostMemoryInUse() uint64 {
	return m.hostInUse.Load()
}
