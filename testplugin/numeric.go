// Copyright 2025-2026, United Kingdom Atomic Energy Authority (UKAEA)
// SPDX-License-Identifier: Apache-2.0

package testplugin

import (
	"fmt"

	"github.com/ukaea/UDA-sub011/uda"
)

type realNumber interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~float32 | ~float64
}

// Ramp returns n values start, start+step, ... in the storage uda.MakeVector
// uses for t. Complex types get a zero imaginary part.
func Ramp(t uda.DataType, n int, start, step float64) (any, error) {
	v, err := uda.MakeVector(t, n)
	if err != nil {
		return nil, err
	}
	switch s := v.(type) {
	case []int8:
		fill(s, start, step)
	case []int16:
		fill(s, start, step)
	case []int32:
		fill(s, start, step)
	case []int64:
		fill(s, start, step)
	case []uint8:
		fill(s, start, step)
	case []uint16:
		fill(s, start, step)
	case []uint32:
		fill(s, start, step)
	case []uint64:
		fill(s, start, step)
	case []float32:
		fill(s, start, step)
	case []float64:
		fill(s, start, step)
	case []complex64:
		for i := range s {
			s[i] = complex(float32(start+float64(i)*step), 0)
		}
	case []complex128:
		for i := range s {
			s[i] = complex(start+float64(i)*step, 0)
		}
	}
	return v, nil
}

func fill[T realNumber](s []T, start, step float64) {
	for i := range s {
		s[i] = T(start + float64(i)*step)
	}
}

// Sum adds up the elements of a real-valued vector.
func Sum(v any) (float64, error) {
	switch s := v.(type) {
	case []int8:
		return sum(s), nil
	case []int16:
		return sum(s), nil
	case []int32:
		return sum(s), nil
	case []int64:
		return sum(s), nil
	case []uint8:
		return sum(s), nil
	case []uint16:
		return sum(s), nil
	case []uint32:
		return sum(s), nil
	case []uint64:
		return sum(s), nil
	case []float32:
		return sum(s), nil
	case []float64:
		return sum(s), nil
	case nil:
		return 0, nil
	}
	return 0, &uda.ProtocolError{
		Code:     uda.UnknownDataType,
		Type:     uda.PluginErrorType,
		Location: "sum_put",
		Message:  fmt.Sprintf("cannot sum %T", v),
		Class:    uda.ClassPeer,
	}
}

func sum[T realNumber](s []T) float64 {
	var total float64
	for _, x := range s {
		total += float64(x)
	}
	return total
}
