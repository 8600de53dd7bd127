package virtual

import (
	"sync"
	"testing"
	"unsafe"

	"github.com/gomlx/devmem/accel"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestConfig(t *testing.T) {
	t.Setenv(DevicesEnv, "")
	t.Setenv(CapacityEnv, "")

	r, err := New().WithName("test").WithDevices(3).WithCapacity(1 << 20).Done()
	require.NoError(t, err)
	require.Equal(t, "test", r.Name())
	require.Equal(t, 3, r.NumDevices())
	require.Equal(t, uint64(1<<20), r.Capacity())

	_, err = New().WithDevices(0).Done()
	require.Error(t, err)
	_, err = New().WithCapacity(0).WithDevices(2).Done()
	require.ErrorContains(t, err, "capacity")
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv(DevicesEnv, "2")
	t.Setenv(CapacityEnv, "64KiB")
	r := must.M1(New().Done())
	require.Equal(t, 2, r.NumDevices())
	require.Equal(t, uint64(64*1024), r.Capacity())

	t.Setenv(DevicesEnv, "two")
	_, err := New().Done()
	require.ErrorContains(t, err, DevicesEnv)

	t.Setenv(DevicesEnv, "")
	t.Setenv(CapacityEnv, "lots")
	_, err = New().Done()
	require.ErrorContains(t, err, CapacityEnv)
}

func TestPointerAttributes(t *testing.T) {
	r := must.M1(New().WithDevices(2).WithCapacity(1 << 20).Done())
	defer func() { require.NoError(t, r.Destroy()) }()

	managed := must.M1(r.MallocManaged(1, 100))
	deviceOnly := must.M1(r.Malloc(0, 100))
	pinned := must.M1(r.MallocHost(100))
	goMemory := make([]byte, 10)

	testCases := []struct {
		name   string
		ptr    unsafe.Pointer
		want   accel.MemoryType
		device int
	}{
		{"nil", nil, accel.MemoryUnregistered, 0},
		{"go-heap", unsafe.Pointer(&goMemory[0]), accel.MemoryUnregistered, 0},
		{"managed", managed, accel.MemoryManaged, 1},
		{"managed-interior", unsafe.Add(managed, 99), accel.MemoryManaged, 1},
		{"device", deviceOnly, accel.MemoryDevice, 0},
		{"pinned", pinned, accel.MemoryHost, 0},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			attr, err := r.PointerAttributes(tc.ptr)
			require.NoError(t, err)
			require.Equal(t, tc.want, attr.Type)
			if tc.want != accel.MemoryUnregistered {
				require.Equal(t, tc.device, attr.Device)
			}
		})
	}

	require.Equal(t, uint64(100), r.MemoryInUse(0))
	require.Equal(t, uint64(100), r.MemoryInUse(1))
	require.Equal(t, 3, r.NumAllocations())
	for _, ptr := range []unsafe.Pointer{managed, deviceOnly, pinned} {
		require.NoError(t, r.Free(ptr))
	}
	require.Equal(t, uint64(0), r.MemoryInUse(0))
	require.Equal(t, uint64(0), r.MemoryInUse(1))
	require.Zero(t, r.NumAllocations())

	attr, err := r.PointerAttributes(managed)
	require.NoError(t, err)
	require.Equal(t, accel.MemoryUnregistered, attr.Type, "freed memory is no longer known to the runtime")
}

func TestMallocErrors(t *testing.T) {
	r := must.M1(New().WithDevices(1).WithCapacity(1024).Done())
	defer func() { require.NoError(t, r.Destroy()) }()

	_, err := r.MallocManaged(1, 10)
	require.ErrorIs(t, err, accel.ErrInvalidDevice)

	_, err = r.MallocManaged(0, 2048)
	require.ErrorIs(t, err, accel.ErrOutOfMemory)
	require.Zero(t, r.NumAllocations())

	first := must.M1(r.MallocManaged(0, 1000))
	_, err = r.Malloc(0, 100)
	require.ErrorIs(t, err, accel.ErrOutOfMemory)
	require.NoError(t, r.Free(first))
	second := must.M1(r.Malloc(0, 100))
	require.NoError(t, r.Free(second))

	ptr, err := r.MallocManaged(0, 0)
	require.NoError(t, err)
	require.Nil(t, ptr)

	require.NoError(t, r.Free(nil))
	goMemory := make([]byte, 8)
	require.ErrorIs(t, r.Free(unsafe.Pointer(&goMemory[0])), accel.ErrInvalidValue)
}

func TestMemcpy(t *testing.T) {
	r := must.M1(New().WithDevices(2).WithCapacity(1 << 20).Done())
	defer func() { require.NoError(t, r.Destroy()) }()

	host := []byte{1, 2, 3, 4, 5}
	hostPtr := unsafe.Pointer(&host[0])
	dev0 := must.M1(r.MallocManaged(0, 5))
	dev1 := must.M1(r.MallocManaged(1, 5))
	back := make([]byte, 5)
	backPtr := unsafe.Pointer(&back[0])

	require.NoError(t, r.Memcpy(dev0, hostPtr, 5, accel.MemcpyHostToDevice))
	require.NoError(t, r.Memcpy(dev1, dev0, 5, accel.MemcpyDeviceToDevice))
	require.NoError(t, r.Memcpy(backPtr, dev1, 5, accel.MemcpyDeviceToHost))
	require.Equal(t, host, back)

	clear(back)
	require.NoError(t, r.Memcpy(backPtr, dev0, 5, accel.MemcpyDefault))
	require.Equal(t, host, back)

	// Wrong directions and bounds.
	require.ErrorIs(t, r.Memcpy(backPtr, hostPtr, 5, accel.MemcpyHostToDevice), accel.ErrInvalidValue)
	require.ErrorIs(t, r.Memcpy(backPtr, hostPtr, 5, accel.MemcpyDeviceToHost), accel.ErrInvalidValue)
	require.ErrorIs(t, r.Memcpy(dev0, hostPtr, 6, accel.MemcpyHostToDevice), accel.ErrInvalidValue)
	require.ErrorIs(t, r.Memcpy(unsafe.Add(dev0, 1), hostPtr, 5, accel.MemcpyHostToDevice), accel.ErrInvalidValue)
	require.ErrorIs(t, r.Memcpy(nil, hostPtr, 5, accel.MemcpyHostToHost), accel.ErrInvalidValue)
	require.ErrorIs(t, r.Memcpy(dev0, hostPtr, 5, accel.MemcpyKind(42)), accel.ErrInvalidValue)
	require.NoError(t, r.Memcpy(nil, nil, 0, accel.MemcpyHostToDevice), "empty transfers always succeed")

	deviceOnly := must.M1(r.Malloc(0, 5))
	require.ErrorIs(t, r.Memcpy(deviceOnly, hostPtr, 5, accel.MemcpyHostToHost), accel.ErrInvalidValue)
	require.NoError(t, r.Memcpy(deviceOnly, hostPtr, 5, accel.MemcpyHostToDevice))

	for _, ptr := range []unsafe.Pointer{dev0, dev1, deviceOnly} {
		require.NoError(t, r.Free(ptr))
	}
}

func TestFailNext(t *testing.T) {
	r := must.M1(New().Done())
	defer func() { require.NoError(t, r.Destroy()) }()

	boom := errors.New("boom")
	r.FailNext(OpMalloc, boom)
	_, err := r.MallocManaged(0, 10)
	require.ErrorIs(t, err, boom)
	require.ErrorContains(t, err, "injected fault in Malloc")

	// One-shot.
	ptr := must.M1(r.MallocManaged(0, 10))

	r.FailNext(OpPointerAttributes, accel.ErrInvalidValue)
	_, err = r.PointerAttributes(ptr)
	require.ErrorIs(t, err, accel.ErrInvalidValue)
	_, err = r.PointerAttributes(ptr)
	require.NoError(t, err)

	r.FailNext(OpFree, boom)
	require.ErrorIs(t, r.Free(ptr), boom)
	require.NoError(t, r.Free(ptr))
}

func TestConcurrentAllocations(t *testing.T) {
	const numWorkers, numIterations = 8, 200
	r := must.M1(New().WithDevices(2).WithCapacity(1 << 24).Done())
	defer func() { require.NoError(t, r.Destroy()) }()

	var wg sync.WaitGroup
	errs := make(chan error, numWorkers)
	for worker := range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			src := []byte{byte(worker), 1, 2, 3}
			dst := make([]byte, 4)
			for range numIterations {
				ptr, err := r.MallocManaged(worker%2, 4)
				if err != nil {
					errs <- err
					return
				}
				if err = r.Memcpy(ptr, unsafe.Pointer(&src[0]), 4, accel.MemcpyHostToDevice); err == nil {
					err = r.Memcpy(unsafe.Pointer(&dst[0]), ptr, 4, accel.MemcpyDeviceToHost)
				}
				if err == nil && dst[0] != byte(worker) {
					err = errors.Errorf("worker %d read back %v", worker, dst)
				}
				if freeErr := r.Free(ptr); err == nil {
					err = freeErr
				}
				if err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Zero(t, r.NumAllocations())
}

func TestDestroy(t *testing.T) {
	r := must.M1(New().Done())
	_ = must.M1(r.MallocManaged(0, 10))
	require.NoError(t, r.Destroy())
	require.Zero(t, r.NumAllocations())
	_, err := r.MallocManaged(0, 10)
	require.ErrorIs(t, err, accel.ErrNotAvailable)
	require.NoError(t, r.Destroy(), "Destroy is idempotent")
}
