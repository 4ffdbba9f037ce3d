// Copyright 2025-2026, United Kingdom Atomic Energy Authority (UKAEA)
// SPDX-License-Identifier: Apache-2.0

package uda

import (
	"fmt"
	"math"
)

// Dimension compression methods.
const (
	// CompressArithmetic rebuilds dim0 + i*diff.
	CompressArithmetic = 0
	// CompressRuns rebuilds udoms runs of sams[k] samples, offs[k] + j*ints[k].
	CompressRuns = 1
	// CompressOffsets lists one value per run.
	CompressOffsets = 2
	// CompressSharedStride rebuilds offs[0] + i*ints[0] for udoms values.
	CompressSharedStride = 3
)

// minCompressLength is the shortest coordinate array worth compressing.
const minCompressLength = 4

// Machine epsilon of float32 and float64.
const (
	float32Epsilon = 1.1920928955078125e-07
	float64Epsilon = 2.220446049250313e-16
)

type integer interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

type float interface {
	~float32 | ~float64
}

type number interface {
	integer | float
}

// Compress replaces a regularly spaced coordinate array by its start and
// stride. It reports whether the dimension was compressed; arrays that are
// short, irregular, already compressed or of a non-numeric type are left
// untouched.
func Compress(d *Dimension) bool {
	if d.Compressed || d.DimN < minCompressLength || checkVector(d.DataType, d.Data, d.DimN) != nil {
		return false
	}
	switch d.DataType {
	case TypeChar:
		return compressInt(d, d.Data.([]int8))
	case TypeShort:
		return compressInt(d, d.Data.([]int16))
	case TypeInt:
		return compressInt(d, d.Data.([]int32))
	case TypeUnsignedInt:
		return compressInt(d, d.Data.([]uint32))
	case TypeLong:
		return compressInt(d, d.Data.([]int64))
	case TypeUnsignedLong:
		return compressInt(d, d.Data.([]uint64))
	case TypeUnsignedChar:
		return compressInt(d, d.Data.([]uint8))
	case TypeUnsignedShort:
		return compressInt(d, d.Data.([]uint16))
	case TypeFloat:
		return compressFloat(d, d.Data.([]float32), 10*float32Epsilon)
	case TypeDouble:
		return compressFloat(d, d.Data.([]float64), 10*float64Epsilon)
	}
	return false
}

func compressInt[T integer](d *Dimension, data []T) bool {
	n := d.DimN
	first, last := float64(data[0]), float64(data[n-1])
	mean := (last - first) / float64(n-1)
	for i := 1; i < n; i++ {
		if float64(data[i])-float64(data[i-1]) != mean {
			return false
		}
	}
	setCompressed(d, first, mean)
	return true
}

func compressFloat[T float](d *Dimension, data []T, eps T) bool {
	n := d.DimN
	mean := (data[n-1] - data[0]) / T(n-1)
	if !finite(float64(data[0])) || !finite(float64(mean)) {
		return false
	}
	for i := 1; i < n; i++ {
		diff := data[i] - data[i-1]
		// NaN compares false both ways, so the test is written to fail on it.
		if !(math.Abs(float64(diff-mean)) <= float64(eps)) {
			return false
		}
	}
	setCompressed(d, float64(data[0]), float64(mean))
	return true
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func setCompressed(d *Dimension, dim0, diff float64) {
	d.Compressed = true
	d.Dim0 = dim0
	d.Diff = diff
	d.Method = CompressArithmetic
}

// Uncompress materialises the full coordinate array of a compressed
// dimension. The output is allocated from DimN when absent.
func Uncompress(d *Dimension) error {
	if !d.Compressed {
		return nil
	}
	var err error
	switch d.DataType {
	case TypeChar:
		err = uncompressAs[int8](d)
	case TypeShort:
		err = uncompressAs[int16](d)
	case TypeInt:
		err = uncompressAs[int32](d)
	case TypeUnsignedInt:
		err = uncompressAs[uint32](d)
	case TypeLong, TypeLong64:
		err = uncompressAs[int64](d)
	case TypeUnsignedLong, TypeUnsignedLong64:
		err = uncompressAs[uint64](d)
	case TypeUnsignedChar:
		err = uncompressAs[uint8](d)
	case TypeUnsignedShort:
		err = uncompressAs[uint16](d)
	case TypeFloat:
		err = uncompressAs[float32](d)
	case TypeDouble:
		err = uncompressAs[float64](d)
	default:
		return newError(UnknownDataType, "Uncompress", ClassSemantic,
			fmt.Sprintf("cannot uncompress dimension of type %s", d.DataType))
	}
	if err != nil {
		return err
	}
	d.Compressed = false
	return nil
}

func uncompressAs[T number](d *Dimension) error {
	n := d.DimN
	if n < 0 || n > maxVectorElements {
		return newError(ErrorAllocatingHeap, "Uncompress", ClassResource, fmt.Sprintf("cannot allocate %d elements", n))
	}
	data, ok := d.Data.([]T)
	if !ok || len(data) < n {
		data = make([]T, n)
	}
	switch d.Method {
	case CompressArithmetic:
		for i := 0; i < n; i++ {
			data[i] = fromFloat[T](d.Dim0 + float64(i)*d.Diff)
		}
	case CompressRuns:
		offs, ints, err := runArrays[T](d, d.UDoms)
		if err != nil {
			return err
		}
		count := 0
		for k := 0; k < d.UDoms; k++ {
			if k >= len(d.Sams) || count+d.Sams[k] > n || d.Sams[k] < 0 {
				return newError(InsufficientData, "Uncompress", ClassSemantic, "run lengths do not match dimension length")
			}
			for j := 0; j < d.Sams[k]; j++ {
				data[count] = offs[k] + T(j)*ints[k]
				count++
			}
		}
	case CompressOffsets:
		offs, ok := d.Offs.([]T)
		if !ok || len(offs) < d.UDoms || d.UDoms > n {
			return newError(InsufficientData, "Uncompress", ClassSemantic, "offsets do not match dimension length")
		}
		copy(data, offs[:d.UDoms])
	case CompressSharedStride:
		offs, ints, err := runArrays[T](d, 1)
		if err != nil {
			return err
		}
		if d.UDoms > n {
			return newError(InsufficientData, "Uncompress", ClassSemantic, "domain count exceeds dimension length")
		}
		for i := 0; i < d.UDoms; i++ {
			data[i] = offs[0] + T(i)*ints[0]
		}
	default:
		return newError(UnknownDataType, "Uncompress", ClassSemantic, fmt.Sprintf("unknown compression method %d", d.Method))
	}
	d.Data = data
	return nil
}

func runArrays[T number](d *Dimension, want int) ([]T, []T, error) {
	offs, ok1 := d.Offs.([]T)
	ints, ok2 := d.Ints.([]T)
	if !ok1 || !ok2 || len(offs) < want || len(ints) < want {
		return nil, nil, newError(InsufficientData, "Uncompress", ClassSemantic, "missing run offsets or intervals")
	}
	return offs, ints, nil
}

func fromFloat[T number](v float64) T {
	var zero T
	switch any(zero).(type) {
	case float32, float64:
		return T(v)
	}
	return T(math.Round(v))
}
