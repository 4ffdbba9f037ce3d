// Copyright 2025-2026, United Kingdom Atomic Energy Authority (UKAEA)
// SPDX-License-Identifier: Apache-2.0

package uda

import (
	"fmt"
	"reflect"
	"strings"
)

// DataType is the element type of a data or error buffer.
type DataType int32

const (
	TypeUnknown        DataType = 0
	TypeChar           DataType = 1
	TypeShort          DataType = 2
	TypeInt            DataType = 3
	TypeUnsignedInt    DataType = 4
	TypeLong           DataType = 5
	TypeFloat          DataType = 6
	TypeDouble         DataType = 7
	TypeUnsignedChar   DataType = 8
	TypeUnsignedShort  DataType = 9
	TypeUnsignedLong   DataType = 10
	TypeLong64         DataType = 11
	TypeUnsignedLong64 DataType = 12
	TypeComplex        DataType = 13
	TypeDComplex       DataType = 14
	TypeUndefined      DataType = 15
	TypeVLen           DataType = 16
	TypeString         DataType = 17
	TypeCompound       DataType = 18
	TypeOpaque         DataType = 19
	TypeEnum           DataType = 20
	TypeVoid           DataType = 21
	TypeCapnp          DataType = 22
)

var dataTypeNames = [...]string{
	TypeUnknown:        "UNKNOWN",
	TypeChar:           "CHAR",
	TypeShort:          "SHORT",
	TypeInt:            "INT",
	TypeUnsignedInt:    "UNSIGNED INT",
	TypeLong:           "LONG",
	TypeFloat:          "FLOAT",
	TypeDouble:         "DOUBLE",
	TypeUnsignedChar:   "UNSIGNED CHAR",
	TypeUnsignedShort:  "UNSIGNED SHORT",
	TypeUnsignedLong:   "UNSIGNED LONG",
	TypeLong64:         "LONG64",
	TypeUnsignedLong64: "UNSIGNED LONG64",
	TypeComplex:        "COMPLEX",
	TypeDComplex:       "DCOMPLEX",
	TypeUndefined:      "UNDEFINED",
	TypeVLen:           "VLEN",
	TypeString:         "STRING",
	TypeCompound:       "COMPOUND",
	TypeOpaque:         "OPAQUE",
	TypeEnum:           "ENUM",
	TypeVoid:           "VOID",
	TypeCapnp:          "CAPNP",
}

func (t DataType) String() string {
	if t >= 0 && int(t) < len(dataTypeNames) {
		return dataTypeNames[t]
	}
	return fmt.Sprintf("DataType(%d)", int32(t))
}

// Valid reports whether t is a member of the closed type set.
func (t DataType) Valid() bool {
	return t >= TypeUnknown && t <= TypeCapnp
}

// IsNumeric reports whether t is an integer, floating point or complex type.
func (t DataType) IsNumeric() bool {
	switch t {
	case TypeChar, TypeShort, TypeInt, TypeUnsignedInt, TypeLong, TypeFloat, TypeDouble,
		TypeUnsignedChar, TypeUnsignedShort, TypeUnsignedLong, TypeLong64, TypeUnsignedLong64,
		TypeComplex, TypeDComplex:
		return true
	}
	return false
}

// Transferable reports whether element data of type t travels on the wire.
// COMPOUND moves through the structures codec instead.
func (t DataType) Transferable() bool {
	return t.IsNumeric() || t == TypeString || t == TypeCapnp
}

// Size is the native element size in bytes, used in type layout descriptors.
func (t DataType) Size() int {
	switch t {
	case TypeChar, TypeUnsignedChar, TypeString, TypeCapnp:
		return 1
	case TypeShort, TypeUnsignedShort:
		return 2
	case TypeInt, TypeUnsignedInt, TypeFloat:
		return 4
	case TypeLong, TypeUnsignedLong, TypeLong64, TypeUnsignedLong64, TypeDouble, TypeComplex:
		return 8
	case TypeDComplex:
		return 16
	}
	return 0
}

// atomicTypeNames maps the type names used in structure definitions to DataType.
var atomicTypeNames = map[string]DataType{
	"CHAR":               TypeChar,
	"SHORT":              TypeShort,
	"INT":                TypeInt,
	"UNSIGNED INT":       TypeUnsignedInt,
	"LONG":               TypeLong,
	"FLOAT":              TypeFloat,
	"DOUBLE":             TypeDouble,
	"UNSIGNED CHAR":      TypeUnsignedChar,
	"UNSIGNED SHORT":     TypeUnsignedShort,
	"UNSIGNED LONG":      TypeUnsignedLong,
	"LONG64":             TypeLong64,
	"UNSIGNED LONG64":    TypeUnsignedLong64,
	"COMPLEX":            TypeComplex,
	"DCOMPLEX":           TypeDComplex,
	"STRING":             TypeString,
	"STRING *":           TypeString,
	"void":               TypeVoid,
	"VOID":               TypeVoid,
	"unsigned char":      TypeUnsignedChar,
	"unsigned short":     TypeUnsignedShort,
	"unsigned int":       TypeUnsignedInt,
	"unsigned long long": TypeUnsignedLong64,
	"long long":          TypeLong64,
	"char":               TypeChar,
	"short":              TypeShort,
	"int":                TypeInt,
	"long":               TypeLong,
	"float":              TypeFloat,
	"double":             TypeDouble,
}

// AtomicType returns the DataType named by a structure field type string.
// Trailing pointer markers are ignored.
func AtomicType(name string) (DataType, bool) {
	if t, ok := atomicTypeNames[name]; ok {
		return t, true
	}
	base := strings.TrimSpace(strings.TrimRight(name, "* "))
	t, ok := atomicTypeNames[base]
	return t, ok
}

// MakeVector allocates a zeroed element slice of n values of type t.
// STRING and CAPNP data are held as []byte.
func MakeVector(t DataType, n int) (any, error) {
	if n < 0 {
		return nil, newError(ErrorAllocatingHeap, "MakeVector", ClassResource,
			fmt.Sprintf("negative element count %d", n))
	}
	switch t {
	case TypeChar:
		return make([]int8, n), nil
	case TypeShort:
		return make([]int16, n), nil
	case TypeInt:
		return make([]int32, n), nil
	case TypeUnsignedInt:
		return make([]uint32, n), nil
	case TypeLong, TypeLong64:
		return make([]int64, n), nil
	case TypeUnsignedLong, TypeUnsignedLong64:
		return make([]uint64, n), nil
	case TypeFloat:
		return make([]float32, n), nil
	case TypeDouble:
		return make([]float64, n), nil
	case TypeUnsignedChar, TypeString, TypeCapnp:
		return make([]uint8, n), nil
	case TypeUnsignedShort:
		return make([]uint16, n), nil
	case TypeComplex:
		return make([]complex64, n), nil
	case TypeDComplex:
		return make([]complex128, n), nil
	}
	return nil, newError(UnknownDataType, "MakeVector", ClassSemantic,
		fmt.Sprintf("no element storage for type %s", t))
}

// VectorLen returns the element count of a slice built by MakeVector, or 0.
func VectorLen(v any) int {
	switch s := v.(type) {
	case []int8:
		return len(s)
	case []int16:
		return len(s)
	case []int32:
		return len(s)
	case []uint32:
		return len(s)
	case []int64:
		return len(s)
	case []uint64:
		return len(s)
	case []float32:
		return len(s)
	case []float64:
		return len(s)
	case []uint8:
		return len(s)
	case []uint16:
		return len(s)
	case []complex64:
		return len(s)
	case []complex128:
		return len(s)
	case []string:
		return len(s)
	}
	return 0
}

// checkVector verifies that v holds at least n elements of the storage used for t.
func checkVector(t DataType, v any, n int) error {
	if n == 0 {
		return nil
	}
	want, err := MakeVector(t, 0)
	if err != nil {
		return err
	}
	if reflect.TypeOf(want) != reflect.TypeOf(v) {
		return newError(UnknownDataType, "checkVector", ClassSemantic,
			fmt.Sprintf("%s data held as %T", t, v))
	}
	if VectorLen(v) < n {
		return newError(InsufficientData, "checkVector", ClassSemantic,
			fmt.Sprintf("%s data has %d elements, need %d", t, VectorLen(v), n))
	}
	return nil
}
