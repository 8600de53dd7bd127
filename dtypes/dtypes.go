// Package dtypes defines the element types of the flat values that can be moved in and out of devmem buffers.
package dtypes

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/x448/float16"
)

// Generate String and parsing methods for DType.
//go:generate go tool enumer -type=DType -output=gen_dtype_enumer.go dtypes.go

// DType is the element type of a flat array of values.
type DType int32

const (
	// InvalidDType represents an invalid (or not set) dtype.
	InvalidDType DType = iota
	Bool
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float16
	Float32
	Float64
	Complex64
	Complex128
)

// Supported lists the Go types that have a corresponding DType.
type Supported interface {
	bool | float16.Float16 | float32 | float64 | int | int8 | int16 | int32 | int64 |
		uint8 | uint16 | uint32 | uint64 | complex64 | complex128
}

var dtypeToGoType = [...]reflect.Type{
	InvalidDType: nil,
	Bool:         reflect.TypeOf(false),
	Int8:         reflect.TypeOf(int8(0)),
	Int16:        reflect.TypeOf(int16(0)),
	Int32:        reflect.TypeOf(int32(0)),
	Int64:        reflect.TypeOf(int64(0)),
	Uint8:        reflect.TypeOf(uint8(0)),
	Uint16:       reflect.TypeOf(uint16(0)),
	Uint32:       reflect.TypeOf(uint32(0)),
	Uint64:       reflect.TypeOf(uint64(0)),
	Float16:      reflect.TypeOf(float16.Float16(0)),
	Float32:      reflect.TypeOf(float32(0)),
	Float64:      reflect.TypeOf(float64(0)),
	Complex64:    reflect.TypeOf(complex64(0)),
	Complex128:   reflect.TypeOf(complex128(0)),
}

var goTypeToDType = func() map[reflect.Type]DType {
	m := make(map[reflect.Type]DType, len(dtypeToGoType))
	for dtype, goType := range dtypeToGoType {
		if goType != nil {
			m[goType] = DType(dtype)
		}
	}
	return m
}()

// GoType returns the Go reflect.Type corresponding to the dtype, or nil for InvalidDType.
func (dtype DType) GoType() reflect.Type {
	if dtype < 0 || int(dtype) >= len(dtypeToGoType) {
		return nil
	}
	return dtypeToGoType[dtype]
}

// Size returns the number of bytes of one element of the dtype, or 0 if it is invalid.
func (dtype DType) Size() int {
	goType := dtype.GoType()
	if goType == nil {
		return 0
	}
	return int(goType.Size())
}

// SizeForDimensions returns the number of bytes of an array of the given dimensions.
// No dimensions means a scalar.
func (dtype DType) SizeForDimensions(dimensions ...int) int {
	numElements := 1
	for _, dim := range dimensions {
		numElements *= dim
	}
	return numElements * dtype.Size()
}

// FromGoType returns the DType for the given Go type, or InvalidDType if there is none.
//
// The Go int and uint types map to Int64/Uint64 or Int32/Uint32 depending on the platform.
func FromGoType(t reflect.Type) DType {
	if t == nil {
		return InvalidDType
	}
	switch t.Kind() {
	case reflect.Int:
		if strconv.IntSize == 64 {
			return Int64
		}
		return Int32
	case reflect.Uint:
		if strconv.IntSize == 64 {
			return Uint64
		}
		return Uint32
	}
	if dtype, found := goTypeToDType[t]; found {
		return dtype
	}
	return InvalidDType
}

// FromGenericsType returns the DType for the generic type T.
func FromGenericsType[T Supported]() DType {
	var zero T
	return FromGoType(reflect.TypeOf(zero))
}

// MapOfNames maps names, lower-case names and common short aliases (e.g. "f32") to their DType.
var MapOfNames = func() map[string]DType {
	m := make(map[string]DType)
	for _, dtype := range DTypeValues() {
		m[dtype.String()] = dtype
	}
	aliases := map[string]DType{
		"invalid": InvalidDType,
		"bool":    Bool,
		"pred":    Bool,
		"s8":      Int8, "i8": Int8, "int8": Int8,
		"s16": Int16, "i16": Int16, "int16": Int16,
		"s32": Int32, "i32": Int32, "int32": Int32,
		"s64": Int64, "i64": Int64, "int64": Int64,
		"u8": Uint8, "uint8": Uint8,
		"u16": Uint16, "uint16": Uint16,
		"u32": Uint32, "uint32": Uint32,
		"u64": Uint64, "uint64": Uint64,
		"f16": Float16, "float16": Float16,
		"f32": Float32, "float32": Float32,
		"f64": Float64, "float64": Float64,
		"c64": Complex64, "complex64": Complex64,
		"c128": Complex128, "complex128": Complex128,
	}
	for alias, dtype := range aliases {
		m[alias] = dtype
		m[strings.ToUpper(alias)] = dtype
	}
	return m
}()
