package accel

import "github.com/pkg/errors"

// Errors reported by runtimes. Runtimes wrap them (errors.Wrapf) with the failing call, so test them
// with errors.Is.
var (
	// ErrOutOfMemory is returned when the device cannot satisfy an allocation.
	ErrOutOfMemory = errors.New("accelerator out of memory")

	// ErrInvalidValue is returned for invalid pointers, sizes or directions.
	ErrInvalidValue = errors.New("invalid value")

	// ErrInvalidDevice is returned for a device ordinal the runtime doesn't have.
	ErrInvalidDevice = errors.New("invalid device ordinal")

	// ErrNotAvailable is returned when the runtime is not compiled in or has no usable hardware.
	ErrNotAvailable = errors.New("accelerator runtime not available")
)
