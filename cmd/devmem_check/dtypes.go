package main

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/gomlx/devmem/dtypes"
	"github.com/gomlx/devmem/memory"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// dtypeNumElements is the number of elements of each dtype round trip.
const dtypeNumElements = 17

// parseDTypes parses a comma-separated list of dtype names or aliases (e.g. "f32,int8,Float16").
func parseDTypes(list string) ([]dtypes.DType, error) {
	var parsed []dtypes.DType
	for _, name := range strings.Split(list, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		dtype, found := dtypes.MapOfNames[name]
		if !found {
			var err error
			dtype, err = dtypes.DTypeString(name)
			if err != nil {
				return nil, errors.Errorf("unknown dtype %q, valid names are %s (or aliases like \"f32\")",
					name, strings.Join(dtypes.DTypeStrings()[1:], ", "))
			}
		}
		if dtype == dtypes.InvalidDType {
			return nil, errors.Errorf("dtype %q is not a valid element type", name)
		}
		parsed = append(parsed, dtype)
	}
	return parsed, nil
}

// checkDTypes moves flat values of each dtype to every device and back.
func checkDTypes(r *report, m *memory.Manager, list []dtypes.DType) {
	for _, dtype := range list {
		for _, device := range m.Devices() {
			r.add(fmt.Sprintf("flat %s[%d] round trip on %s", dtype, dtypeNumElements, device),
				dtypeRoundTrip(m, device, dtype))
		}
	}
}

// dtypeRoundTrip dispatches to the generic flatRoundTrip for dtype.
func dtypeRoundTrip(m *memory.Manager, device memory.Device, dtype dtypes.DType) error {
	switch dtype {
	case dtypes.Bool:
		return flatRoundTrip[bool](m, device)
	case dtypes.Int8:
		return flatRoundTrip[int8](m, device)
	case dtypes.Int16:
		return flatRoundTrip[int16](m, device)
	case dtypes.Int32:
		return flatRoundTrip[int32](m, device)
	case dtypes.Int64:
		return flatRoundTrip[int64](m, device)
	case dtypes.Uint8:
		return flatRoundTrip[uint8](m, device)
	case dtypes.Uint16:
		return flatRoundTrip[uint16](m, device)
	case dtypes.Uint32:
		return flatRoundTrip[uint32](m, device)
	case dtypes.Uint64:
		return flatRoundTrip[uint64](m, device)
	case dtypes.Float16:
		return flatRoundTrip[float16.Float16](m, device)
	case dtypes.Float32:
		return flatRoundTrip[float32](m, device)
	case dtypes.Float64:
		return flatRoundTrip[float64](m, device)
	case dtypes.Complex64:
		return flatRoundTrip[complex64](m, device)
	case dtypes.Complex128:
		return flatRoundTrip[complex128](m, device)
	default:
		return errors.Errorf("no round trip for dtype %s", dtype)
	}
}

// flatRoundTrip uploads a []T with FromFlat, checks the buffer size and reads it back with ToFlat.
// Values are compared bit for bit, so NaNs in the pattern compare equal.
func flatRoundTrip[T dtypes.Supported](m *memory.Manager, device memory.Device) error {
	flat := make([]T, dtypeNumElements)
	raw, dtype, dimensions := memory.FlatDataToRaw(flat)
	for i := range raw {
		raw[i] = byte(i*31 + 5)
		if dtype == dtypes.Bool {
			raw[i] &= 1
		}
	}
	buffer, err := memory.FromFlat(m, device, flat)
	if err != nil {
		return err
	}
	defer func() { _ = release(buffer) }()
	if want := uintptr(dtype.SizeForDimensions(dimensions...)); buffer.Size() != want {
		return errors.Errorf("buffer of %s%v has %d bytes, wanted %d", dtype, dimensions, buffer.Size(), want)
	}
	got, err := memory.ToFlat[T](m, buffer)
	if err != nil {
		return err
	}
	gotRaw, _, _ := memory.FlatDataToRaw(got)
	if !bytes.Equal(gotRaw, raw) {
		return errors.Errorf("%s values differ after the round trip", dtype)
	}
	return nil
}
