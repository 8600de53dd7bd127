// Package virtual implements an accel.Runtime in pure Go: virtual accelerator devices whose memory lives in
// anonymous memory mappings outside the Go heap.
//
// It keeps a registry of every allocation, so it can classify any pointer (including interior pointers) the
// same way a hardware runtime would: managed, device-only, pinned host or unregistered. Device memory of a
// virtual device is addressable from the host, but transfers still validate directions and bounds the way a
// driver would, and fail with the errors in package accel.
//
// It is used for tests and on machines without accelerators. It also supports one-shot fault injection,
// see Runtime.FailNext.
package virtual

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/devmem/accel"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Runtime is a virtual accelerator runtime. Create it with New().Done().
// It is safe for concurrent use.
type Runtime struct {
	name     string
	capacity uint64

	mu        sync.RWMutex
	inUse     []uint64      // bytes allocated per device.
	allocs    []*allocation // sorted by start address.
	faults    map[Op]error
	numFaults atomic.Int32
	destroyed bool
}

// allocation is one mapping registered with the runtime.
type allocation struct {
	mem        []byte
	start      uintptr
	size       uintptr // Requested size, mem may be larger.
	device     int
	memoryType accel.MemoryType
}

func (a *allocation) contains(p uintptr) bool {
	return p >= a.start && p < a.start+a.size
}

// Assert Runtime implements accel.Runtime.
var _ accel.Runtime = (*Runtime)(nil)

func newRuntime(c *Config) *Runtime {
	r := &Runtime{
		name:     c.name,
		capacity: c.capacity,
		inUse:    make([]uint64, c.numDevices),
		faults:   make(map[Op]error),
	}
	klog.V(1).Infof("created %s", r)
	return r
}

// String implements fmt.Stringer.
func (r *Runtime) String() string {
	return fmt.Sprintf("virtual runtime %q (%d devices, %s each)", r.name, len(r.inUse), humanize.IBytes(r.capacity))
}

// Name implements accel.Runtime.
func (r *Runtime) Name() string { return r.name }

// NumDevices implements accel.Runtime.
func (r *Runtime) NumDevices() int { return len(r.inUse) }

// Capacity returns the number of bytes each device can hold.
func (r *Runtime) Capacity() uint64 { return r.capacity }

// MemoryInUse returns the number of bytes currently allocated on the device, managed and device-only.
func (r *Runtime) MemoryInUse(device int) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if device < 0 || device >= len(r.inUse) {
		return 0
	}
	return r.inUse[device]
}

// NumAllocations returns the number of live allocations of any kind.
func (r *Runtime) NumAllocations() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.allocs)
}

// MallocManaged implements accel.Runtime.
func (r *Runtime) MallocManaged(device int, size uintptr) (unsafe.Pointer, error) {
	if err := r.takeFault(OpMalloc); err != nil {
		return nil, err
	}
	return r.malloc(device, size, accel.MemoryManaged)
}

// Malloc implements accel.Runtime. Device-only memory isn't meant to be touched by the host: the virtual
// runtime doesn't enforce it, but Memcpy rejects it as a host side.
func (r *Runtime) Malloc(device int, size uintptr) (unsafe.Pointer, error) {
	if err := r.takeFault(OpMalloc); err != nil {
		return nil, err
	}
	return r.malloc(device, size, accel.MemoryDevice)
}

// MallocHost implements accel.Runtime. Pinned host memory doesn't count towards the device capacity.
func (r *Runtime) MallocHost(size uintptr) (unsafe.Pointer, error) {
	if err := r.takeFault(OpMalloc); err != nil {
		return nil, err
	}
	return r.malloc(0, size, accel.MemoryHost)
}

func (r *Runtime) malloc(device int, size uintptr, memoryType accel.MemoryType) (unsafe.Pointer, error) {
	if device < 0 || device >= len(r.inUse) {
		return nil, errors.Wrapf(accel.ErrInvalidDevice, "%s: device %d, only %d devices available", r.name, device, len(r.inUse))
	}
	if size == 0 {
		// Same as cudaMalloc: success, but no memory.
		return nil, nil
	}
	countsTowardsCapacity := memoryType != accel.MemoryHost

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return nil, errors.Wrapf(accel.ErrNotAvailable, "%s already destroyed", r.name)
	}
	if countsTowardsCapacity && uint64(size) > r.capacity-r.inUse[device] {
		return nil, errors.Wrapf(accel.ErrOutOfMemory, "%s: allocating %s on device %d, %s of %s in use",
			r.name, humanize.IBytes(uint64(size)), device, humanize.IBytes(r.inUse[device]), humanize.IBytes(r.capacity))
	}
	mem, err := mapMemory(size)
	if err != nil {
		return nil, errors.Wrapf(accel.ErrOutOfMemory, "%s: failed to map %s: %v", r.name, humanize.IBytes(uint64(size)), err)
	}
	a := &allocation{
		mem:        mem,
		start:      uintptr(unsafe.Pointer(unsafe.SliceData(mem))),
		size:       size,
		device:     device,
		memoryType: memoryType,
	}
	idx := sort.Search(len(r.allocs), func(i int) bool { return r.allocs[i].start > a.start })
	r.allocs = append(r.allocs, nil)
	copy(r.allocs[idx+1:], r.allocs[idx:])
	r.allocs[idx] = a
	if countsTowardsCapacity {
		r.inUse[device] += uint64(size)
	}
	klog.V(2).Infof("%s: allocated %s of %s memory on device %d at 0x%x", r.name, humanize.IBytes(uint64(size)), memoryType, device, a.start)
	return unsafe.Pointer(unsafe.SliceData(mem)), nil
}

// Free implements accel.Runtime. Freeing nil is a no-op.
func (r *Runtime) Free(ptr unsafe.Pointer) error {
	if err := r.takeFault(OpFree); err != nil {
		return err
	}
	if ptr == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, a := r.lookupLocked(uintptr(ptr))
	if a == nil || a.start != uintptr(ptr) {
		return errors.Wrapf(accel.ErrInvalidValue, "%s: Free(%p) of a pointer not returned by an allocation", r.name, ptr)
	}
	r.allocs = append(r.allocs[:idx], r.allocs[idx+1:]...)
	if a.memoryType != accel.MemoryHost {
		r.inUse[a.device] -= uint64(a.size)
	}
	if err := unmapMemory(a.mem); err != nil {
		return errors.Wrapf(err, "%s: failed to unmap %p", r.name, ptr)
	}
	klog.V(2).Infof("%s: freed %s of %s memory on device %d at 0x%x", r.name, humanize.IBytes(uint64(a.size)), a.memoryType, a.device, a.start)
	return nil
}

// lookupLocked returns the allocation containing p and its index, or nil.
// r.mu must be held (read or write).
func (r *Runtime) lookupLocked(p uintptr) (int, *allocation) {
	idx := sort.Search(len(r.allocs), func(i int) bool { return r.allocs[i].start > p }) - 1
	if idx < 0 || !r.allocs[idx].contains(p) {
		return -1, nil
	}
	return idx, r.allocs[idx]
}

// PointerAttributes implements accel.Runtime.
func (r *Runtime) PointerAttributes(ptr unsafe.Pointer) (accel.PointerAttributes, error) {
	if err := r.takeFault(OpPointerAttributes); err != nil {
		return accel.PointerAttributes{}, err
	}
	if ptr == nil {
		return accel.PointerAttributes{Type: accel.MemoryUnregistered}, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, a := r.lookupLocked(uintptr(ptr))
	if a == nil {
		return accel.PointerAttributes{Type: accel.MemoryUnregistered}, nil
	}
	return accel.PointerAttributes{Type: a.memoryType, Device: a.device}, nil
}

// Memcpy implements accel.Runtime.
//
// The transfer is synchronous. Device sides must lie within a managed or device-only allocation,
// host sides must be unregistered, pinned or managed memory.
func (r *Runtime) Memcpy(dst, src unsafe.Pointer, size uintptr, kind accel.MemcpyKind) error {
	if err := r.takeFault(OpMemcpy); err != nil {
		return err
	}
	if size == 0 {
		return nil
	}
	if dst == nil || src == nil {
		return errors.Wrapf(accel.ErrInvalidValue, "%s: Memcpy(%p, %p, %d) with nil pointer", r.name, dst, src, size)
	}

	// Read lock held during the copy, so the memory can't be unmapped underneath it.
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, dstAlloc := r.lookupLocked(uintptr(dst))
	_, srcAlloc := r.lookupLocked(uintptr(src))
	if kind == accel.MemcpyDefault {
		kind = inferKind(dstAlloc, srcAlloc)
	}
	var dstOnDevice, srcOnDevice bool
	switch kind {
	case accel.MemcpyHostToHost:
	case accel.MemcpyHostToDevice:
		dstOnDevice = true
	case accel.MemcpyDeviceToHost:
		srcOnDevice = true
	case accel.MemcpyDeviceToDevice:
		dstOnDevice, srcOnDevice = true, true
	default:
		return errors.Wrapf(accel.ErrInvalidValue, "%s: invalid memcpy kind %s", r.name, kind)
	}
	if err := r.checkSide("destination", dst, dstAlloc, dstOnDevice, size, kind); err != nil {
		return err
	}
	if err := r.checkSide("source", src, srcAlloc, srcOnDevice, size, kind); err != nil {
		return err
	}
	copy(unsafe.Slice((*byte)(dst), size), unsafe.Slice((*byte)(src), size))
	return nil
}

func inferKind(dstAlloc, srcAlloc *allocation) accel.MemcpyKind {
	isDevice := func(a *allocation) bool {
		return a != nil && (a.memoryType == accel.MemoryDevice || a.memoryType == accel.MemoryManaged)
	}
	switch {
	case isDevice(dstAlloc) && isDevice(srcAlloc):
		return accel.MemcpyDeviceToDevice
	case isDevice(dstAlloc):
		return accel.MemcpyHostToDevice
	case isDevice(srcAlloc):
		return accel.MemcpyDeviceToHost
	default:
		return accel.MemcpyHostToHost
	}
}

func (r *Runtime) checkSide(side string, ptr unsafe.Pointer, a *allocation, onDevice bool, size uintptr, kind accel.MemcpyKind) error {
	if onDevice {
		if a == nil || (a.memoryType != accel.MemoryDevice && a.memoryType != accel.MemoryManaged) {
			return errors.Wrapf(accel.ErrInvalidValue, "%s: %s: %s %p is not device memory", r.name, kind, side, ptr)
		}
	} else if a != nil && a.memoryType == accel.MemoryDevice {
		return errors.Wrapf(accel.ErrInvalidValue, "%s: %s: %s %p is device-only memory", r.name, kind, side, ptr)
	}
	if a != nil && uintptr(ptr)+size > a.start+a.size {
		return errors.Wrapf(accel.ErrInvalidValue, "%s: %s: %s %p: %d bytes overflow its allocation of %d bytes at 0x%x",
			r.name, kind, side, ptr, size, a.size, a.start)
	}
	return nil
}

// Destroy frees all memory still allocated. The runtime can't allocate afterwards.
func (r *Runtime) Destroy() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return nil
	}
	r.destroyed = true
	var firstErr error
	for _, a := range r.allocs {
		if err := unmapMemory(a.mem); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "%s: failed to unmap 0x%x", r.name, a.start)
		}
	}
	if len(r.allocs) > 0 {
		klog.Warningf("%s destroyed with %d allocations still alive", r.name, len(r.allocs))
	}
	r.allocs = nil
	clear(r.inUse)
	return firstErr
}
