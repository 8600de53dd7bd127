//go:build cuda && linux

package cuda

/*
#cgo CFLAGS: -I/usr/local/cuda/include
#cgo LDFLAGS: -L/usr/local/cuda/lib64 -lcudart

#include <cuda_runtime.h>

// devmemPointerAttributes wraps cudaPointerGetAttributes: memory unknown to CUDA is reported as
// cudaMemoryTypeUnregistered. Older CUDA versions (< 11) return cudaErrorInvalidValue for it instead.
static cudaError_t devmemPointerAttributes(const void *ptr, int *memoryType, int *device) {
	struct cudaPointerAttributes attr;
	cudaError_t err = cudaPointerGetAttributes(&attr, ptr);
	if (err == cudaErrorInvalidValue) {
		cudaGetLastError();  // Clear the sticky error.
		*memoryType = cudaMemoryTypeUnregistered;
		*device = -1;
		return cudaSuccess;
	}
	if (err != cudaSuccess) {
		return err;
	}
	*memoryType = attr.type;
	*device = attr.device;
	return cudaSuccess;
}
*/
import "C"
import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/devmem/accel"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Runtime is the CUDA accel.Runtime. The CUDA runtime API is thread-safe, so is Runtime.
type Runtime struct {
	numDevices int
}

// Assert Runtime implements accel.Runtime.
var _ accel.Runtime = (*Runtime)(nil)

// New initializes the CUDA runtime. It returns an error wrapping accel.ErrNotAvailable if there are no devices.
func New() (accel.Runtime, error) {
	if checksEnabled() && !HasNvidiaGPU() {
		klog.Warningf("No Nvidia GPU detected, CUDA initialization will likely fail (set %s=0 to silence this warning)", ChecksEnv)
	}
	var count C.int
	if err := toError(C.cudaGetDeviceCount(&count), "cudaGetDeviceCount()"); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, errors.Wrap(accel.ErrNotAvailable, "CUDA runtime reports no devices")
	}
	r := &Runtime{numDevices: int(count)}
	klog.V(1).Infof("initialized CUDA runtime with %d devices", r.numDevices)
	return r, nil
}

// toError converts a cudaError_t to a Go error wrapping the matching accel sentinel, or nil on success.
func toError(status C.cudaError_t, format string, args ...any) error {
	if status == C.cudaSuccess {
		return nil
	}
	msg := C.GoString(C.cudaGetErrorString(status))
	var base error
	switch status {
	case C.cudaErrorMemoryAllocation:
		base = accel.ErrOutOfMemory
	case C.cudaErrorInvalidValue:
		base = accel.ErrInvalidValue
	case C.cudaErrorInvalidDevice:
		base = accel.ErrInvalidDevice
	case C.cudaErrorNoDevice, C.cudaErrorInsufficientDriver:
		base = accel.ErrNotAvailable
	default:
		base = errors.Errorf("CUDA error (code=%d)", int(status))
	}
	return errors.Wrapf(base, "%s: %s", fmt.Sprintf(format, args...), msg)
}

// Name implements accel.Runtime.
func (r *Runtime) Name() string { return "cuda" }

// NumDevices implements accel.Runtime.
func (r *Runtime) NumDevices() int { return r.numDevices }

// onDevice runs fn with device set as the current device of the calling thread.
// cudaSetDevice is per OS thread, hence the goroutine is locked to its thread while fn runs.
func (r *Runtime) onDevice(device int, fn func() error) error {
	if device < 0 || device >= r.numDevices {
		return errors.Wrapf(accel.ErrInvalidDevice, "cuda: device %d, only %d devices available", device, r.numDevices)
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if err := toError(C.cudaSetDevice(C.int(device)), "cudaSetDevice(%d)", device); err != nil {
		return err
	}
	return fn()
}

// MallocManaged implements accel.Runtime with cudaMallocManaged(cudaMemAttachGlobal).
func (r *Runtime) MallocManaged(device int, size uintptr) (ptr unsafe.Pointer, err error) {
	err = r.onDevice(device, func() error {
		return toError(C.cudaMallocManaged(&ptr, C.size_t(size), C.cudaMemAttachGlobal),
			"cudaMallocManaged(%s) on device %d", humanize.IBytes(uint64(size)), device)
	})
	return
}

// Malloc implements accel.Runtime with cudaMalloc.
func (r *Runtime) Malloc(device int, size uintptr) (ptr unsafe.Pointer, err error) {
	err = r.onDevice(device, func() error {
		return toError(C.cudaMalloc(&ptr, C.size_t(size)), "cudaMalloc(%s) on device %d", humanize.IBytes(uint64(size)), device)
	})
	return
}

// MallocHost implements accel.Runtime with cudaMallocHost.
func (r *Runtime) MallocHost(size uintptr) (ptr unsafe.Pointer, err error) {
	err = toError(C.cudaMallocHost(&ptr, C.size_t(size)), "cudaMallocHost(%s)", humanize.IBytes(uint64(size)))
	return
}

// Free implements accel.Runtime: pinned host memory is freed with cudaFreeHost, everything else with cudaFree.
func (r *Runtime) Free(ptr unsafe.Pointer) error {
	if ptr == nil {
		return nil
	}
	attr, err := r.PointerAttributes(ptr)
	if err != nil {
		return err
	}
	if attr.Type == accel.MemoryHost {
		return toError(C.cudaFreeHost(ptr), "cudaFreeHost(%p)", ptr)
	}
	return toError(C.cudaFree(ptr), "cudaFree(%p)", ptr)
}

// PointerAttributes implements accel.Runtime with cudaPointerGetAttributes.
func (r *Runtime) PointerAttributes(ptr unsafe.Pointer) (accel.PointerAttributes, error) {
	if ptr == nil {
		return accel.PointerAttributes{Type: accel.MemoryUnregistered}, nil
	}
	var memoryType, device C.int
	if err := toError(C.devmemPointerAttributes(ptr, &memoryType, &device), "cudaPointerGetAttributes(%p)", ptr); err != nil {
		return accel.PointerAttributes{}, err
	}
	return accel.PointerAttributes{Type: accel.MemoryType(memoryType), Device: int(device)}, nil
}

// Memcpy implements accel.Runtime with cudaMemcpy.
//
// cudaMemcpy may return before the transfer completes (device to device transfers, and transfers from
// pageable host memory may only be staged), so every copy touching the device is followed by a
// cudaDeviceSynchronize: on return, the destination can be read from the host.
func (r *Runtime) Memcpy(dst, src unsafe.Pointer, size uintptr, kind accel.MemcpyKind) error {
	if size == 0 {
		return nil
	}
	err := toError(C.cudaMemcpy(dst, src, C.size_t(size), C.enum_cudaMemcpyKind(kind)),
		"cudaMemcpy(%p, %p, %s, %s)", dst, src, humanize.IBytes(uint64(size)), kind)
	if err != nil {
		return err
	}
	if kind != accel.MemcpyHostToHost {
		return toError(C.cudaDeviceSynchronize(), "cudaDeviceSynchronize() after %s", kind)
	}
	return nil
}
