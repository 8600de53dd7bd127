package memory

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

var (
	// ErrUnsupportedResidency is returned when a pointer lives in accelerator memory that was not allocated
	// as managed memory (device-only or runtime-pinned host memory). Only host and managed memory can be
	// classified, since only those are accessible from both sides.
	ErrUnsupportedResidency = errors.New("unsupported memory residency")

	// ErrReleased is returned when retaining or releasing a Buffer whose reference count already reached zero.
	ErrReleased = errors.New("buffer already released")

	// ErrInvalidDevice is returned for the zero Device, devices of another Manager or out-of-range indices.
	ErrInvalidDevice = errors.New("invalid device")

	// ErrHostOutOfMemory is returned when a host allocation can't be satisfied.
	ErrHostOutOfMemory = errors.New("host out of memory")

	// ErrSizeMismatch is returned by Manager.CopyBuffer when the number of bytes exceeds one of the buffers.
	ErrSizeMismatch = errors.New("copy size exceeds buffer size")
)

// AllocationError is returned when an allocation fails. Err holds the backend cause, e.g. accel.ErrOutOfMemory.
type AllocationError struct {
	Device Device
	Size   uintptr
	Err    error
}

// Error implements error.
func (e *AllocationError) Error() string {
	return fmt.Sprintf("failed to allocate %s on %s: %v", humanize.IBytes(uint64(e.Size)), e.Device, e.Err)
}

// Unwrap returns the backend cause.
func (e *AllocationError) Unwrap() error { return e.Err }

// CopyError is returned when a Manager.Copy fails, either classifying the pointers or transferring the bytes.
// Direction is UnknownDirection if the pointers couldn't be classified.
type CopyError struct {
	Direction Direction
	Size      uintptr
	Err       error
}

// Error implements error.
func (e *CopyError) Error() string {
	return fmt.Sprintf("failed to copy %s (%s): %v", humanize.IBytes(uint64(e.Size)), e.Direction, e.Err)
}

// Unwrap returns the cause.
func (e *CopyError) Unwrap() error { return e.Err }
