package main

import (
	"testing"

	"github.com/gomlx/devmem/accel/virtual"
	"github.com/gomlx/devmem/dtypes"
	"github.com/gomlx/devmem/memory"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"
)

func TestParseSizes(t *testing.T) {
	sizes, err := parseSizes("0, 1,3,4KiB,,1MiB")
	require.NoError(t, err)
	require.Equal(t, []uintptr{0, 1, 3, 4096, 1 << 20}, sizes)

	_, err = parseSizes("")
	require.Error(t, err)
	_, err = parseSizes("1,lots")
	require.ErrorContains(t, err, "lots")
}

func TestRunChecks(t *testing.T) {
	rt := must.M1(virtual.New().WithDevices(2).WithCapacity(1 << 20).Done())
	defer func() { require.NoError(t, rt.Destroy()) }()
	m := must.M1(memory.New().WithAccelerator(rt).Done())

	r := &report{}
	for _, size := range []uintptr{0, 3, 4096} {
		runChecks(r, m, size)
	}
	checkUnsupportedResidency(r, m)
	require.Zero(t, r.numFailed)
	// Per size: 3 allocations, 9 copies and 9 imports. Plus 2 unsupported residency checks.
	require.Equal(t, 3*(3+9+9)+2, r.numChecks)
	require.Zero(t, rt.NumAllocations())
}

func TestParseDTypes(t *testing.T) {
	parsed, err := parseDTypes("f32, Float16,int8,,bool,complex128,FLOAT64,uint64")
	require.NoError(t, err)
	require.Equal(t, []dtypes.DType{dtypes.Float32, dtypes.Float16, dtypes.Int8, dtypes.Bool, dtypes.Complex128,
		dtypes.Float64, dtypes.Uint64}, parsed)

	parsed, err = parseDTypes("")
	require.NoError(t, err)
	require.Empty(t, parsed)

	_, err = parseDTypes("float32,bfloat8")
	require.ErrorContains(t, err, "bfloat8")
	require.ErrorContains(t, err, "Float32")
	_, err = parseDTypes("invalid")
	require.Error(t, err)
}

func TestCheckDTypes(t *testing.T) {
	rt := must.M1(virtual.New().WithDevices(2).WithCapacity(1 << 20).Done())
	defer func() { require.NoError(t, rt.Destroy()) }()
	m := must.M1(memory.New().WithAccelerator(rt).Done())
	aliveBefore := memory.BuffersAlive()

	r := &report{}
	all := dtypes.DTypeValues()[1:]
	checkDTypes(r, m, all)
	require.Zero(t, r.numFailed)
	require.Equal(t, len(all)*3, r.numChecks)
	require.Equal(t, aliveBefore, memory.BuffersAlive())
	require.Zero(t, rt.NumAllocations())
}
