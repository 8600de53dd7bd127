package main

import (
	"bytes"
	"fmt"
	"unsafe"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/devmem/memory"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// report accumulates and prints the results of the checks.
type report struct {
	numChecks, numFailed int
}

func (r *report) add(name string, err error) {
	r.numChecks++
	if err != nil {
		r.numFailed++
		fmt.Printf("  %-60s FAILED: %v\n", name, err)
		klog.V(1).Infof("%s failed: %+v", name, err)
		return
	}
	fmt.Printf("  %-60s ok\n", name)
}

// pattern returns size bytes that depend on seed.
func pattern(size uintptr, seed byte) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = seed + byte(i*31)
	}
	return data
}

// upload allocates a buffer on device holding data.
func upload(m *memory.Manager, device memory.Device, data []byte) (*memory.Buffer, error) {
	return memory.FromFlat(m, device, data)
}

// verify that buffer holds want, reading it back to the host with a Copy.
func verify(m *memory.Manager, buffer *memory.Buffer, want []byte) error {
	got, err := memory.ToFlat[byte](m, buffer)
	if err != nil {
		return err
	}
	if !bytes.Equal(got, want) {
		return errors.Errorf("contents differ from source (%d bytes)", len(want))
	}
	return nil
}

// release buffers, returning the first error.
func release(buffers ...*memory.Buffer) error {
	var firstErr error
	for _, b := range buffers {
		if b == nil {
			continue
		}
		if err := b.Release(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// runChecks runs allocation, copy, import and probe checks for buffers of the given size.
func runChecks(r *report, m *memory.Manager, size uintptr) {
	sizeName := humanize.IBytes(uint64(size))
	devices := m.Devices()

	// Allocate and probe.
	for _, device := range devices {
		r.add(fmt.Sprintf("allocate+probe %s on %s", sizeName, device), func() error {
			buffer, err := m.Allocate(device, size)
			if err != nil {
				return err
			}
			residency, err := m.ProbeResidency(buffer.Data())
			if err == nil {
				want := memory.Host
				if !device.IsHost() {
					want = memory.AcceleratorManaged
				}
				if residency != want {
					err = errors.Errorf("residency is %s, wanted %s", residency, want)
				}
			}
			if releaseErr := buffer.Release(); err == nil {
				err = releaseErr
			}
			return err
		}())
	}

	// Copy between every pair of devices.
	for _, src := range devices {
		for _, dst := range devices {
			r.add(fmt.Sprintf("copy %s %s -> %s", sizeName, src, dst), checkCopy(m, src, dst, size))
		}
	}

	// Import into every device.
	for _, from := range devices {
		for _, to := range devices {
			r.add(fmt.Sprintf("import %s %s -> %s", sizeName, from, to), checkImport(m, from, to, size))
		}
	}
}

func checkCopy(m *memory.Manager, srcDevice, dstDevice memory.Device, size uintptr) error {
	want := pattern(size, 7)
	src, err := upload(m, srcDevice, want)
	if err != nil {
		return err
	}
	dst, err := m.Allocate(dstDevice, size)
	if err != nil {
		_ = release(src)
		return err
	}
	err = m.CopyBuffer(dst, src, size)
	if err == nil {
		err = verify(m, dst, want)
	}
	if releaseErr := release(src, dst); err == nil {
		err = releaseErr
	}
	return err
}

func checkImport(m *memory.Manager, from, to memory.Device, size uintptr) error {
	want := pattern(size, 13)
	source, err := upload(m, from, want)
	if err != nil {
		return err
	}
	imported, err := m.Import(to, source, size)
	if err != nil {
		_ = release(source)
		return err
	}
	zeroCopy := imported == source
	if wantZeroCopy := from == to; zeroCopy != wantZeroCopy {
		err = errors.Errorf("zero-copy import was %v, wanted %v", zeroCopy, wantZeroCopy)
	}
	if err == nil && imported.Device() != to {
		err = errors.Errorf("imported buffer is on %s", imported.Device())
	}
	if err == nil {
		err = verify(m, imported, want)
	}
	if releaseErr := release(imported, source); err == nil {
		err = releaseErr
	}
	return err
}

// checkUnsupportedResidency verifies that accelerator memory not allocated as managed memory is rejected.
func checkUnsupportedResidency(r *report, m *memory.Manager) {
	rt := m.Runtime()
	check := func(ptr unsafe.Pointer, err error) error {
		if err != nil {
			return err
		}
		defer func() {
			if err := rt.Free(ptr); err != nil {
				klog.Errorf("failed to free %p: %+v", ptr, err)
			}
		}()
		_, err = m.ProbeResidency(ptr)
		if !errors.Is(err, memory.ErrUnsupportedResidency) {
			return errors.Errorf("probe returned %v, wanted %v", err, memory.ErrUnsupportedResidency)
		}
		return nil
	}
	r.add("probe rejects device-only memory", check(rt.Malloc(0, 64)))
	r.add("probe rejects pinned host memory", check(rt.MallocHost(64)))
}
