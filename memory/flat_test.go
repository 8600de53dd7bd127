package memory

import (
	"testing"
	"unsafe"

	"github.com/gomlx/devmem/dtypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestFlatDataToRaw(t *testing.T) {
	data := []float64{0.0, 1.0, 2.0, 3.0, 4.0, 5.0}
	rawData, dtype, dimensions := FlatDataToRaw(data, 2, 3)
	require.Equal(t, unsafe.Pointer(unsafe.SliceData(data)), unsafe.Pointer(unsafe.SliceData(rawData)))
	require.Len(t, rawData, 6*8)
	require.Equal(t, dtypes.Float64, dtype)
	require.EqualValues(t, []int{2, 3}, dimensions)

	_, _, dimensions = FlatDataToRaw(data)
	require.Equal(t, []int{6}, dimensions)

	// Wrong size.
	require.Panics(t, func() {
		_, _, _ = FlatDataToRaw(data, 7, 3)
	})

	// Empty.
	rawData, _, dimensions = FlatDataToRaw([]float64{}, 7, 0)
	require.Empty(t, rawData)
	require.Equal(t, []int{7, 0}, dimensions)
}

func TestScalarToRaw(t *testing.T) {
	rawData, dtype, dimensions := ScalarToRaw(uint32(3))
	require.Equal(t, dtypes.Uint32, dtype)
	require.Empty(t, dimensions)
	require.Equal(t, uint32(3), *(*uint32)(unsafe.Pointer(unsafe.SliceData(rawData))))
}

func testFlatRoundTrip[T dtypes.Supported](t *testing.T, m *Manager, values []T) {
	for _, device := range m.Devices() {
		buffer, err := FromFlat(m, device, values)
		require.NoErrorf(t, err, "FromFlat[%T] on %s", values, device)
		require.Equal(t, uintptr(len(values))*uintptr(dtypes.FromGenericsType[T]().Size()), buffer.Size())
		got, err := ToFlat[T](m, buffer)
		require.NoError(t, err)
		require.Equal(t, values, got)
		require.NoError(t, buffer.Release())
	}
}

func TestFlatRoundTrip(t *testing.T) {
	m, _ := newTestManager(t, 2, 1<<20)
	testFlatRoundTrip(t, m, []float32{0, 1, 2})
	testFlatRoundTrip(t, m, []float64{-1, 0.5, 1e10})
	testFlatRoundTrip(t, m, []int8{-128, 0, 127})
	testFlatRoundTrip(t, m, []int64{1 << 40, -3})
	testFlatRoundTrip(t, m, []bool{true, false, true})
	testFlatRoundTrip(t, m, []complex64{1 + 2i})
	testFlatRoundTrip(t, m, []float16.Float16{float16.Fromfloat32(0.5), float16.Fromfloat32(-2)})
	testFlatRoundTrip(t, m, []uint16{})
}

func TestToFlatSizeMismatch(t *testing.T) {
	m, _ := newTestManager(t, 1, 1<<20)
	buffer := must.M1(m.Allocate(must.M1(m.AcceleratorDevice(0)), 6))
	defer func() { require.NoError(t, buffer.Release()) }()
	_, err := ToFlat[float32](m, buffer)
	require.ErrorContains(t, err, "Float32")
	require.Len(t, must.M1(ToFlat[int16](m, buffer)), 3)
}
