package memory

// This file defines the host allocation: C heap memory aligned to BufferAlignment, modelled after mm_malloc.

/*
#include <stdlib.h>
*/
import "C"
import (
	"fmt"
	"unsafe"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

// BufferAlignment is the alignment of host buffers, enough for any vectorized access of the supported dtypes.
const BufferAlignment = 64

// alignedAlloc returns size bytes of zeroed memory aligned to alignment, allocated outside the Go heap.
// It must be freed with alignedFree.
//
// It assumes calloc aligns to 8 bytes, and alignment must be a multiple of 8. If the memory is not available,
// it returns an error wrapping ErrHostOutOfMemory.
func alignedAlloc(size, alignment uintptr) (unsafe.Pointer, error) {
	if alignment < 8 || alignment%8 != 0 {
		panic(fmt.Sprintf("alignedAlloc: alignment must be a multiple of 8, got %d", alignment))
	}
	if size > ^uintptr(0)-alignment {
		return nil, errors.Wrapf(ErrHostOutOfMemory, "alignedAlloc(%d): size too large", size)
	}

	// Allocate alignment extra bytes: the original pointer is stored just before the aligned one.
	ptr := unsafe.Pointer(C.calloc(C.size_t(size+alignment), C.size_t(1)))
	if ptr == nil {
		return nil, errors.Wrapf(ErrHostOutOfMemory, "calloc(%s) failed", humanize.IBytes(uint64(size+alignment)))
	}
	offset := alignment - uintptr(ptr)%alignment // Always >= 8, so there is space for the original pointer.
	alignedPtr := unsafe.Add(ptr, offset)
	originalPtrPtr := (*uintptr)(unsafe.Add(alignedPtr, -int(unsafe.Sizeof(uintptr(0)))))
	*originalPtrPtr = uintptr(ptr)
	return alignedPtr, nil
}

// alignedFree frees an allocation created with alignedAlloc.
func alignedFree(ptr unsafe.Pointer) {
	originalPtrPtr := (*uintptr)(unsafe.Add(ptr, -int(unsafe.Sizeof(uintptr(0)))))
	originalPtr := unsafe.Pointer(*originalPtrPtr)
	C.free(originalPtr)
}

// hostAllocate implements capabilities.allocate for the host.
func hostAllocate(m *Manager, _ Device, size uintptr) (ptr unsafe.Pointer, release func() error, err error) {
	if err = m.reserveHost(size); err != nil {
		return
	}
	ptr, err = alignedAlloc(size, BufferAlignment)
	if err != nil {
		m.unreserveHost(size)
		return
	}
	release = func() error {
		alignedFree(ptr)
		m.unreserveHost(size)
		return nil
	}
	return
}
