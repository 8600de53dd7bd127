//go:build cuda && linux

package cuda

import (
	"testing"
	"unsafe"

	"github.com/gomlx/devmem/accel"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"
)

func newTestRuntime(t *testing.T) accel.Runtime {
	if !HasNvidiaGPU() {
		t.Skip("No Nvidia GPU available")
	}
	return must.M1(New())
}

func TestPointerAttributes(t *testing.T) {
	rt := newTestRuntime(t)
	managed := must.M1(rt.MallocManaged(0, 64))
	deviceOnly := must.M1(rt.Malloc(0, 64))
	pinned := must.M1(rt.MallocHost(64))
	goHeap := make([]byte, 64)

	for ptr, want := range map[unsafe.Pointer]accel.MemoryType{
		managed:                    accel.MemoryManaged,
		deviceOnly:                 accel.MemoryDevice,
		pinned:                     accel.MemoryHost,
		unsafe.Pointer(&goHeap[0]): accel.MemoryUnregistered,
	} {
		attr, err := rt.PointerAttributes(ptr)
		require.NoError(t, err)
		require.Equalf(t, want, attr.Type, "pointer %p", ptr)
	}
	for _, ptr := range []unsafe.Pointer{managed, deviceOnly, pinned} {
		require.NoError(t, rt.Free(ptr))
	}
}

func TestMemcpy(t *testing.T) {
	rt := newTestRuntime(t)
	const size = 1024
	src := make([]byte, size)
	for i := range src {
		src[i] = byte(i)
	}
	dst := make([]byte, size)
	a := must.M1(rt.MallocManaged(0, size))
	b := must.M1(rt.Malloc(0, size))
	require.NoError(t, rt.Memcpy(a, unsafe.Pointer(&src[0]), size, accel.MemcpyHostToDevice))
	require.NoError(t, rt.Memcpy(b, a, size, accel.MemcpyDeviceToDevice))
	require.NoError(t, rt.Memcpy(unsafe.Pointer(&dst[0]), b, size, accel.MemcpyDeviceToHost))
	require.Equal(t, src, dst)
	require.NoError(t, rt.Free(a))
	require.NoError(t, rt.Free(b))

	_, err := rt.MallocManaged(rt.NumDevices(), size)
	require.ErrorIs(t, err, accel.ErrInvalidDevice)
}

func TestMemcpySynchronizes(t *testing.T) {
	rt := newTestRuntime(t)
	const size = 64 << 20
	src := make([]byte, size)
	for i := range src {
		src[i] = byte(i * 13)
	}
	managed := must.M1(rt.MallocManaged(0, size))
	defer func() { require.NoError(t, rt.Free(managed)) }()
	for _, kind := range []accel.MemcpyKind{accel.MemcpyHostToDevice, accel.MemcpyDefault} {
		require.NoError(t, rt.Memcpy(managed, unsafe.Pointer(&src[0]), size, kind))
		// Read right away from the host, without any other synchronization.
		require.Equalf(t, src, unsafe.Slice((*byte)(managed), size), "after %s", kind)
		for i := range src {
			src[i]++
		}
	}
}
