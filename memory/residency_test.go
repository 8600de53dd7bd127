package memory

import (
	"testing"
	"unsafe"

	"github.com/gomlx/devmem/accel"
	"github.com/gomlx/devmem/accel/virtual"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestProbeResidency(t *testing.T) {
	m, rt := newTestManager(t, 2, 1<<20)

	hostBuf := must.M1(m.Allocate(m.HostDevice(), 16))
	defer func() { require.NoError(t, hostBuf.Release()) }()
	accBuf := must.M1(m.Allocate(must.M1(m.AcceleratorDevice(1)), 16))
	defer func() { require.NoError(t, accBuf.Release()) }()

	deviceOnly := must.M1(rt.Malloc(0, 16))
	defer func() { require.NoError(t, rt.Free(deviceOnly)) }()
	pinned := must.M1(rt.MallocHost(16))
	defer func() { require.NoError(t, rt.Free(pinned)) }()

	var onStack [4]float32
	goHeap := make([]int64, 8)

	testCases := []struct {
		name      string
		ptr       unsafe.Pointer
		want      Residency
		wantIndex int
		wantErr   error
	}{
		{"nil", nil, Host, 0, nil},
		{"stack", unsafe.Pointer(&onStack[1]), Host, 0, nil},
		{"go heap", unsafe.Pointer(unsafe.SliceData(goHeap)), Host, 0, nil},
		{"host buffer", hostBuf.Data(), Host, 0, nil},
		{"managed", accBuf.Data(), AcceleratorManaged, 1, nil},
		{"managed interior", unsafe.Add(accBuf.Data(), 8), AcceleratorManaged, 1, nil},
		{"device only", deviceOnly, UnknownResidency, 0, ErrUnsupportedResidency},
		{"pinned host", pinned, UnknownResidency, 0, ErrUnsupportedResidency},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			residency, index, err := m.probe(tc.ptr)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				require.Equal(t, UnknownResidency, residency)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, residency)
			require.Equal(t, tc.wantIndex, index)

			residency, err = m.ProbeResidency(tc.ptr)
			require.NoError(t, err)
			require.Equal(t, tc.want, residency)
		})
	}
}

func TestProbeResidencyWithoutAccelerator(t *testing.T) {
	m := must.M1(New().Done())
	rt := must.M1(virtual.New().WithDevices(1).WithCapacity(1 << 20).Done())
	defer func() { require.NoError(t, rt.Destroy()) }()

	// Without a runtime, even memory of some other runtime is taken as host memory.
	managed := must.M1(rt.MallocManaged(0, 8))
	for _, ptr := range []unsafe.Pointer{nil, managed, unsafe.Pointer(&m)} {
		residency, err := m.ProbeResidency(ptr)
		require.NoError(t, err)
		require.Equal(t, Host, residency)
	}
	require.NoError(t, rt.Free(managed))
}

func TestProbeResidencyRuntimeFailure(t *testing.T) {
	m, rt := newTestManager(t, 1, 1<<20)
	accBuf := must.M1(m.Allocate(must.M1(m.AcceleratorDevice(0)), 8))
	defer func() { require.NoError(t, accBuf.Release()) }()

	queryErr := errors.New("driver gone")
	rt.FailNext(virtual.OpPointerAttributes, queryErr)
	residency, err := m.ProbeResidency(accBuf.Data())
	require.ErrorIs(t, err, queryErr)
	require.NotErrorIs(t, err, ErrUnsupportedResidency)
	require.Equal(t, UnknownResidency, residency)

	// Fault is one-shot.
	residency, err = m.ProbeResidency(accBuf.Data())
	require.NoError(t, err)
	require.Equal(t, AcceleratorManaged, residency)
}

func TestUnsupportedResidencyMessage(t *testing.T) {
	m, rt := newTestManager(t, 1, 1<<20)
	deviceOnly := must.M1(rt.Malloc(0, 16))
	defer func() { require.NoError(t, rt.Free(deviceOnly)) }()
	_, err := m.ProbeResidency(deviceOnly)
	require.ErrorIs(t, err, ErrUnsupportedResidency)
	require.ErrorContains(t, err, accel.MemoryDevice.String())
	require.ErrorContains(t, err, "vacc")
}
