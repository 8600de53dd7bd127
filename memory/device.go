package memory

import "fmt"

// Device is a lightweight handle to where memory lives: a backend and the backend-local device index.
//
// It doesn't own anything, it is cheap to copy and compare: two handles are equal (==) if they refer to the
// same backend and index. Create them with Manager.HostDevice and Manager.AcceleratorDevice.
// The zero value is an invalid device.
type Device struct {
	backend *Backend
	index   int
}

// Backend of the device, nil for the zero Device.
func (d Device) Backend() *Backend { return d.backend }

// Index of the device within its backend. Always 0 for the host.
func (d Device) Index() int { return d.index }

// Kind of the device's backend.
func (d Device) Kind() Kind {
	if d.backend == nil {
		return Kind(-1)
	}
	return d.backend.kind
}

// IsHost returns whether the device is the host.
func (d Device) IsHost() bool { return d.Kind() == HostKind }

// String implements fmt.Stringer. E.g.: "host", "cuda:1".
func (d Device) String() string {
	switch {
	case d.backend == nil:
		return "<invalid device>"
	case d.backend.kind == HostKind:
		return d.backend.Name()
	default:
		return fmt.Sprintf("%s:%d", d.backend.Name(), d.index)
	}
}
