// Copyright 2025-2026, United Kingdom Atomic Energy Authority (UKAEA)
// SPDX-License-Identifier: Apache-2.0

package uda

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vectorRoundTrip(t *testing.T, dt DataType, in any) any {
	t.Helper()
	var buf bytes.Buffer
	enc := NewPlainEncoder(&buf)
	enc.Vector(dt, &in, VectorLen(in))
	require.NoError(t, enc.Err())

	var out any
	dec := NewPlainDecoder(&buf)
	dec.Vector(dt, &out, VectorLen(in))
	require.NoError(t, dec.Err())
	assert.Zero(t, buf.Len(), "all bytes consumed")
	return out
}

func TestVectorRoundTripAllTypes(t *testing.T) {
	cases := []struct {
		dt   DataType
		data any
	}{
		{TypeChar, []int8{math.MinInt8, -1, 0, 1, math.MaxInt8}},
		{TypeShort, []int16{math.MinInt16, 0, math.MaxInt16}},
		{TypeInt, []int32{math.MinInt32, -7, 0, math.MaxInt32}},
		{TypeUnsignedInt, []uint32{0, 1, math.MaxUint32}},
		{TypeLong, []int64{math.MinInt32, 0, math.MaxInt32}},
		{TypeUnsignedLong, []uint64{0, math.MaxUint32}},
		{TypeLong64, []int64{math.MinInt64, 0, math.MaxInt64}},
		{TypeUnsignedLong64, []uint64{0, math.MaxUint64}},
		{TypeFloat, []float32{-1.5, 0, float32(math.Pi), math.MaxFloat32, float32(math.Inf(1))}},
		{TypeDouble, []float64{-1.5, 0, math.Pi, math.SmallestNonzeroFloat64, math.Inf(-1)}},
		{TypeUnsignedChar, []uint8{0, 127, 255}},
		{TypeUnsignedShort, []uint16{0, math.MaxUint16}},
		{TypeComplex, []complex64{complex(1, -2), complex(0.5, 0.25)}},
		{TypeDComplex, []complex128{complex(1, -2), complex(math.Pi, math.E)}},
		{TypeString, []uint8("hello, world\x00")},
		{TypeCapnp, []uint8{0x00, 0x7f, 0x80, 0xff}},
	}
	for _, tc := range cases {
		t.Run(tc.dt.String(), func(t *testing.T) {
			assert.Equal(t, tc.data, vectorRoundTrip(t, tc.dt, tc.data))
		})
	}
}

func TestSmallIntegersUseFullWords(t *testing.T) {
	var buf bytes.Buffer
	enc := NewPlainEncoder(&buf)
	var data any = []int8{1, 2, 3}
	enc.Vector(TypeChar, &data, 3)
	require.NoError(t, enc.Err())
	assert.Equal(t, 12, buf.Len())
}

func TestNaNSurvivesBitForBit(t *testing.T) {
	nan := math.Float64frombits(0x7ff8000000000abc)
	out := vectorRoundTrip(t, TypeDouble, []float64{nan}).([]float64)
	assert.Equal(t, math.Float64bits(nan), math.Float64bits(out[0]))
}

func TestLongOutOfRangeRefused(t *testing.T) {
	var buf bytes.Buffer
	enc := NewPlainEncoder(&buf)
	var data any = []int64{math.MaxInt32 + 1}
	enc.Vector(TypeLong, &data, 1)
	var pe *ProtocolError
	require.True(t, errors.As(enc.Err(), &pe))
	assert.Equal(t, ClassSemantic, pe.Class)
}

func TestStringCapacity(t *testing.T) {
	var buf bytes.Buffer
	enc := NewPlainEncoder(&buf)
	s := "signal"
	enc.String(&s, StringLength)
	require.NoError(t, enc.Err())

	var got string
	dec := NewPlainDecoder(bytes.NewReader(buf.Bytes()))
	dec.String(&got, StringLength)
	require.NoError(t, dec.Err())
	assert.Equal(t, s, got)

	long := strings.Repeat("x", 16)
	enc = NewPlainEncoder(&buf)
	enc.String(&long, 16)
	assert.Error(t, enc.Err())
}

func TestDecodedStringLengthCheckedBeforeAllocation(t *testing.T) {
	var buf bytes.Buffer
	enc := NewPlainEncoder(&buf)
	n := uint32(1 << 30)
	enc.Uint32(&n)
	require.NoError(t, enc.Err())

	var got string
	dec := NewPlainDecoder(&buf)
	dec.String(&got, MaxName)
	var pe *ProtocolError
	require.True(t, errors.As(dec.Err(), &pe))
	assert.Equal(t, ErrorAllocatingHeap, pe.Code)
	assert.Equal(t, ClassResource, pe.Class)
}

func TestStickyError(t *testing.T) {
	dec := NewPlainDecoder(bytes.NewReader([]byte{0, 0, 0, 1}))
	var a, b int32
	dec.Int32(&a)
	dec.Int32(&b)
	dec.Int32(&b)
	require.Error(t, dec.Err())
	assert.Equal(t, int32(1), a)
	assert.True(t, IsConnectionFatal(dec.Err()))
}

func TestVectorWrongStorageRejected(t *testing.T) {
	var buf bytes.Buffer
	enc := NewPlainEncoder(&buf)
	var data any = []float64{1, 2}
	enc.Vector(TypeInt, &data, 2)
	assert.Error(t, enc.Err())
	assert.Zero(t, buf.Len())
}
